package award

import (
	"context"
	"fmt"
	"time"

	"rewards-platform/pkg/config"
	"rewards-platform/pkg/db"
	"rewards-platform/pkg/db/option"
	"rewards-platform/pkg/errutil"
	"rewards-platform/pkg/repository"
	"rewards-platform/pkg/sequence"
	"rewards-platform/services/account"
	"rewards-platform/services/budget"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	cfg  *config.Config
	seq  sequence.Generator

	accounts *account.Service
	budgets  *budget.Service

	pools        repository.Repository[EventPool]
	participants repository.Repository[EventParticipant]
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Config *config.Config
	Seq    sequence.Generator

	Account *account.Service
	Budget  *budget.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,
		cfg:  p.Config,
		seq:  p.Seq,

		accounts: p.Account,
		budgets:  p.Budget,

		pools:        repository.ProvideStore[EventPool](p.DB),
		participants: repository.ProvideStore[EventParticipant](p.DB),
	}
}

// ProvisionEventPool fixes the point budget for an event. The total is
// immutable afterwards.
func (s *Service) ProvisionEventPool(ctx context.Context, eventID string, totalPoints int64) (*EventPool, error) {
	if eventID == "" {
		return nil, errutil.ValidationFailed("event_id is required")
	}
	if totalPoints < 0 {
		return nil, errutil.ValidationFailed("total points pool must not be negative")
	}

	existing, err := s.pools.FindOne(ctx, &EventPool{EventID: eventID})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errutil.Conflict("event pool already provisioned")
	}

	now := time.Now()
	pool := &EventPool{
		ID:              s.node.Generate().String(),
		EventID:         eventID,
		TotalPointsPool: totalPoints,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.pools.Create(ctx, pool); err != nil {
		return nil, err
	}
	return pool, nil
}

// RegisterParticipant records a user on the event roster. Idempotent on
// (event, user).
func (s *Service) RegisterParticipant(ctx context.Context, eventID, userID string) (*EventParticipant, error) {
	if eventID == "" || userID == "" {
		return nil, errutil.ValidationFailed("event_id and user_id are required")
	}

	existing, err := s.participants.FindOne(ctx, &EventParticipant{EventID: eventID, UserID: userID})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := time.Now()
	participant := &EventParticipant{
		ID:        s.node.Generate().String(),
		EventID:   eventID,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.participants.Create(ctx, participant); err != nil {
		return nil, err
	}
	return participant, nil
}

// GetPool returns the pool row for an event.
func (s *Service) GetPool(ctx context.Context, eventID string) (*EventPool, error) {
	pool, err := s.pools.FindOne(ctx, &EventPool{EventID: eventID})
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, errutil.NotFound("event pool not found")
	}
	return pool, nil
}

// AwardEventPoints distributes prize points to one participant. The pool
// check and the award write happen under the locked pool row, so concurrent
// awards against the same event cannot jointly over-allocate.
func (s *Service) AwardEventPoints(ctx context.Context, p AwardParams) (*account.PointsTransaction, error) {
	if p.Points <= 0 {
		return nil, errutil.ValidationFailed("points must be positive")
	}

	var entry *account.PointsTransaction
	err := db.Transact(ctx, s.db, func(tx *gorm.DB) error {
		var txErr error
		entry, txErr = s.awardOneTx(ctx, tx, p)
		return txErr
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("event points awarded",
		zap.String("event_id", p.EventID),
		zap.String("user_id", p.UserID),
		zap.Int64("points", p.Points),
	)
	return entry, nil
}

// BulkAwardEventPoints validates the sum of the batch against the pool, then
// applies every award inside one transaction with the pool row locked. The
// batch is all-or-nothing: a failure partway rolls everything back, so the
// pool can never be left over-allocated.
func (s *Service) BulkAwardEventPoints(ctx context.Context, eventID string, awards []BulkAward, awardedBy string) ([]*account.PointsTransaction, error) {
	if len(awards) == 0 {
		return nil, errutil.ValidationFailed("awards batch is empty")
	}
	if max := s.cfg.Rewards.BulkAwardBatchCap; max > 0 && len(awards) > max {
		return nil, errutil.ValidationFailed(fmt.Sprintf("awards batch exceeds cap of %d", max))
	}

	var sum int64
	for _, a := range awards {
		if a.Points <= 0 {
			return nil, errutil.ValidationFailed("points must be positive for every award")
		}
		sum += a.Points
	}

	entries := make([]*account.PointsTransaction, 0, len(awards))
	err := db.Transact(ctx, s.db, func(tx *gorm.DB) error {
		entries = entries[:0]

		pool, txErr := s.lockPool(ctx, tx, eventID)
		if txErr != nil {
			return txErr
		}
		if pool.Available() < sum {
			return errutil.PoolExhausted("event pool cannot cover batch total")
		}

		for _, a := range awards {
			entry, awardErr := s.awardOneTx(ctx, tx, AwardParams{
				EventID:   eventID,
				UserID:    a.UserID,
				Points:    a.Points,
				Rank:      a.Rank,
				AwardedBy: awardedBy,
			})
			if awardErr != nil {
				return awardErr
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// AwardAdminGrant credits points directly from an administrator, guarded by
// the admin's monthly budget. A blocked validation performs no ledger
// mutation.
func (s *Service) AwardAdminGrant(ctx context.Context, p GrantParams) (*account.PointsTransaction, *budget.ValidationResult, error) {
	if p.AdminID == "" || p.UserID == "" {
		return nil, nil, errutil.ValidationFailed("admin_id and user_id are required")
	}
	if p.Points <= 0 {
		return nil, nil, errutil.ValidationFailed("points must be positive")
	}

	code, err := s.seq.NextGrantCode(ctx)
	if err != nil {
		return nil, nil, errutil.Internal("failed to generate grant code", errutil.WithErr(err))
	}

	var (
		entry  *account.PointsTransaction
		result *budget.ValidationResult
	)
	err = db.Transact(ctx, s.db, func(tx *gorm.DB) error {
		period := budget.CurrentPeriod()

		var txErr error
		result, txErr = s.budgets.ValidateAwardTx(ctx, tx, p.AdminID, period, p.Points)
		if txErr != nil {
			return txErr
		}
		if !result.Allowed {
			return errutil.BudgetExceeded(result.Message)
		}

		entry, txErr = s.accounts.CreditTx(ctx, tx, account.EntryParams{
			UserID:      p.UserID,
			Points:      p.Points,
			Origin:      account.OriginAdminGrant,
			SourceID:    code,
			Description: p.Reason,
			ActorID:     p.AdminID,
		})
		if txErr != nil {
			return txErr
		}

		return s.budgets.RecordAwardedTx(ctx, tx, p.AdminID, period, p.Points)
	})
	if err != nil {
		return nil, result, err
	}

	if result.Warning {
		zap.L().Warn("admin grant issued with budget warning",
			zap.String("admin_id", p.AdminID),
			zap.String("message", result.Message),
		)
	}
	return entry, result, nil
}

// awardOneTx performs the participant checks and the credit under the
// caller's transaction. The pool row lock serializes concurrent awards.
func (s *Service) awardOneTx(ctx context.Context, tx *gorm.DB, p AwardParams) (*account.PointsTransaction, error) {
	pool, err := s.lockPool(ctx, tx, p.EventID)
	if err != nil {
		return nil, err
	}

	participant, err := s.participants.WithTrx(tx).FindOne(ctx,
		&EventParticipant{EventID: p.EventID, UserID: p.UserID},
		option.WithLockingUpdate(),
	)
	if err != nil {
		return nil, err
	}
	if participant == nil {
		return nil, errutil.NotFound("user is not a registered participant of the event")
	}
	if participant.PointsAwarded != nil {
		return nil, errutil.AlreadyAwarded("participant already awarded for this event")
	}

	if pool.Available() < p.Points {
		return nil, errutil.PoolExhausted("event pool cannot cover award")
	}

	now := time.Now()
	if err := s.participants.WithTrx(tx).Update(ctx, participant.ID, map[string]any{
		"points_awarded": p.Points,
		"rank":           p.Rank,
		"awarded_at":     now,
		"awarded_by":     p.AwardedBy,
		"updated_at":     now,
	}); err != nil {
		return nil, err
	}

	if err := s.pools.WithTrx(tx).Update(ctx, pool.ID, map[string]any{
		"points_awarded": pool.PointsAwarded + p.Points,
		"updated_at":     now,
	}); err != nil {
		return nil, err
	}
	pool.PointsAwarded += p.Points

	return s.accounts.CreditTx(ctx, tx, account.EntryParams{
		UserID:      p.UserID,
		Points:      p.Points,
		Origin:      account.OriginEvent,
		SourceID:    p.EventID,
		Description: fmt.Sprintf("event prize (rank %d)", p.Rank),
		ActorID:     p.AwardedBy,
	})
}

func (s *Service) lockPool(ctx context.Context, tx *gorm.DB, eventID string) (*EventPool, error) {
	pool, err := s.pools.WithTrx(tx).FindOne(ctx, &EventPool{EventID: eventID}, option.WithLockingUpdate())
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, errutil.NotFound("event pool not found")
	}
	return pool, nil
}
