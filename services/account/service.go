package account

import (
	"context"
	"time"

	"rewards-platform/pkg/db"
	"rewards-platform/pkg/db/option"
	"rewards-platform/pkg/db/pagination"
	"rewards-platform/pkg/errutil"
	"rewards-platform/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	accounts     repository.Repository[PointsAccount]
	transactions repository.Repository[PointsTransaction]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,

		accounts:     repository.ProvideStore[PointsAccount](p.DB),
		transactions: repository.ProvideStore[PointsTransaction](p.DB),
	}
}

// EntryParams describes one balance mutation. Points must be positive; the
// direction is implied by the operation.
type EntryParams struct {
	UserID      string
	Points      int64
	Origin      Origin
	SourceID    string
	Description string
	ActorID     string
}

func (p EntryParams) validate() error {
	if p.UserID == "" {
		return errutil.ValidationFailed("user_id is required")
	}
	if p.Points <= 0 {
		return errutil.ValidationFailed("points must be positive")
	}
	return nil
}

// CreateAccount provisions an empty account for the user. Idempotent: an
// existing account is returned as-is.
func (s *Service) CreateAccount(ctx context.Context, userID string) (*PointsAccount, error) {
	if userID == "" {
		return nil, errutil.ValidationFailed("user_id is required")
	}

	var acct *PointsAccount
	err := db.Transact(ctx, s.db, func(tx *gorm.DB) error {
		var txErr error
		acct, txErr = s.lockAccount(ctx, tx, userID, true, userID)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

func (s *Service) GetAccount(ctx context.Context, userID string) (*PointsAccount, error) {
	acct, err := s.accounts.FindOne(ctx, &PointsAccount{UserID: userID})
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, errutil.NotFound("points account not found")
	}
	return acct, nil
}

func (s *Service) GetBalance(ctx context.Context, userID string) (int64, error) {
	acct, err := s.GetAccount(ctx, userID)
	if err != nil {
		return 0, err
	}
	return acct.CurrentBalance, nil
}

// Credit adds earned points to the account and appends the EARNED entry as one
// atomic unit.
func (s *Service) Credit(ctx context.Context, p EntryParams) (*PointsTransaction, error) {
	var entry *PointsTransaction
	err := db.Transact(ctx, s.db, func(tx *gorm.DB) error {
		var txErr error
		entry, txErr = s.CreditTx(ctx, tx, p)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Debit removes spendable points, failing with INSUFFICIENT_BALANCE when the
// account cannot cover the amount.
func (s *Service) Debit(ctx context.Context, p EntryParams) (*PointsTransaction, error) {
	var entry *PointsTransaction
	err := db.Transact(ctx, s.db, func(tx *gorm.DB) error {
		var txErr error
		entry, txErr = s.DebitTx(ctx, tx, p)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// CreditTx is the transaction-composable form of Credit. The account is
// created on first award.
func (s *Service) CreditTx(ctx context.Context, tx *gorm.DB, p EntryParams) (*PointsTransaction, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	acct, err := s.lockAccount(ctx, tx, p.UserID, true, p.ActorID)
	if err != nil {
		return nil, err
	}

	acct.CurrentBalance += p.Points
	acct.TotalEarned += p.Points

	if err := s.saveAccount(ctx, tx, acct, p.ActorID); err != nil {
		return nil, err
	}

	return s.appendEntry(ctx, tx, acct, p, DirectionEarned)
}

// DebitTx is the transaction-composable form of Debit.
func (s *Service) DebitTx(ctx context.Context, tx *gorm.DB, p EntryParams) (*PointsTransaction, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	acct, err := s.lockAccount(ctx, tx, p.UserID, false, p.ActorID)
	if err != nil {
		return nil, err
	}

	if acct.CurrentBalance < p.Points {
		return nil, errutil.InsufficientBalance("current balance cannot cover debit")
	}

	acct.CurrentBalance -= p.Points
	acct.TotalRedeemed += p.Points

	if err := s.saveAccount(ctx, tx, acct, p.ActorID); err != nil {
		return nil, err
	}

	return s.appendEntry(ctx, tx, acct, p, DirectionRedeemed)
}

// HoldTx moves points from the spendable balance into the pending bucket and
// records the spend entry. The hold is finalized by CaptureHoldTx or reversed
// by ReleaseHoldTx.
func (s *Service) HoldTx(ctx context.Context, tx *gorm.DB, p EntryParams) (*PointsTransaction, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	acct, err := s.lockAccount(ctx, tx, p.UserID, false, p.ActorID)
	if err != nil {
		return nil, err
	}

	if acct.CurrentBalance < p.Points {
		return nil, errutil.InsufficientBalance("current balance cannot cover hold")
	}

	acct.CurrentBalance -= p.Points
	acct.PendingPoints += p.Points

	if err := s.saveAccount(ctx, tx, acct, p.ActorID); err != nil {
		return nil, err
	}

	return s.appendEntry(ctx, tx, acct, p, DirectionRedeemed)
}

// CaptureHoldTx converts a hold into a permanent spend. The balance itself was
// already decremented when the hold was placed, so no new ledger entry is
// appended; the hold entry is the spend record.
func (s *Service) CaptureHoldTx(ctx context.Context, tx *gorm.DB, p EntryParams) error {
	if err := p.validate(); err != nil {
		return err
	}

	acct, err := s.lockAccount(ctx, tx, p.UserID, false, p.ActorID)
	if err != nil {
		return err
	}

	if acct.PendingPoints < p.Points {
		return errutil.Conflict("pending points smaller than capture amount")
	}

	acct.PendingPoints -= p.Points
	acct.TotalRedeemed += p.Points

	return s.saveAccount(ctx, tx, acct, p.ActorID)
}

// ReleaseHoldTx reverses a hold, returning the points to the spendable
// balance and appending the refund entry.
func (s *Service) ReleaseHoldTx(ctx context.Context, tx *gorm.DB, p EntryParams) (*PointsTransaction, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	acct, err := s.lockAccount(ctx, tx, p.UserID, false, p.ActorID)
	if err != nil {
		return nil, err
	}

	if acct.PendingPoints < p.Points {
		return nil, errutil.Conflict("pending points smaller than release amount")
	}

	acct.PendingPoints -= p.Points
	acct.CurrentBalance += p.Points

	if err := s.saveAccount(ctx, tx, acct, p.ActorID); err != nil {
		return nil, err
	}

	return s.appendEntry(ctx, tx, acct, p, DirectionEarned)
}

// ReverseCredit corrects an earlier credit: the balance and total_earned both
// shrink, total_redeemed is untouched, so downstream reports stay
// reconcilable.
func (s *Service) ReverseCredit(ctx context.Context, p EntryParams) (*PointsTransaction, error) {
	var entry *PointsTransaction
	err := db.Transact(ctx, s.db, func(tx *gorm.DB) error {
		if vErr := p.validate(); vErr != nil {
			return vErr
		}

		acct, txErr := s.lockAccount(ctx, tx, p.UserID, false, p.ActorID)
		if txErr != nil {
			return txErr
		}

		if acct.TotalEarned < p.Points {
			return errutil.ValidationFailed("reversal exceeds total earned")
		}
		if acct.CurrentBalance < p.Points {
			return errutil.InsufficientBalance("current balance cannot cover reversal")
		}

		acct.CurrentBalance -= p.Points
		acct.TotalEarned -= p.Points

		if txErr = s.saveAccount(ctx, tx, acct, p.ActorID); txErr != nil {
			return txErr
		}

		entry, txErr = s.appendEntry(ctx, tx, acct, p, DirectionRedeemed)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ReverseDebit corrects an earlier debit: the points return to the balance and
// total_redeemed shrinks, total_earned is untouched.
func (s *Service) ReverseDebit(ctx context.Context, p EntryParams) (*PointsTransaction, error) {
	var entry *PointsTransaction
	err := db.Transact(ctx, s.db, func(tx *gorm.DB) error {
		if vErr := p.validate(); vErr != nil {
			return vErr
		}

		acct, txErr := s.lockAccount(ctx, tx, p.UserID, false, p.ActorID)
		if txErr != nil {
			return txErr
		}

		if acct.TotalRedeemed < p.Points {
			return errutil.ValidationFailed("reversal exceeds total redeemed")
		}

		acct.CurrentBalance += p.Points
		acct.TotalRedeemed -= p.Points

		if txErr = s.saveAccount(ctx, tx, acct, p.ActorID); txErr != nil {
			return txErr
		}

		entry, txErr = s.appendEntry(ctx, tx, acct, p, DirectionEarned)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ListTransactions returns the user's history, newest first, cursor-paginated.
// Reads never take locks; each committed entry is self-consistent with its own
// balance_after.
func (s *Service) ListTransactions(ctx context.Context, userID string, page pagination.Pagination) ([]*PointsTransaction, *pagination.PageInfo, error) {
	limit := page.Limit
	if limit <= 0 || limit > 250 {
		limit = 50
	}

	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{SortBy: "id", OrderBy: "desc", Allow: map[string]bool{"id": true}}),
		option.WithLimit(limit + 1),
	}
	if page.Cursor != "" {
		cursor, err := pagination.DecodeCursor(page.Cursor)
		if err != nil {
			return nil, nil, errutil.BadRequest("malformed cursor", errutil.WithErr(err))
		}
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "id", Operator: option.LT, Value: cursor.ID}))
	}

	entries, err := s.transactions.Find(ctx, &PointsTransaction{UserID: userID}, opts...)
	if err != nil {
		zap.L().Error("failed to list transactions", zap.String("user_id", userID), zap.Error(err))
		return nil, nil, err
	}

	entries, info := pagination.BuildCursorPageInfo(entries, limit, func(t *PointsTransaction) string {
		cur, _ := pagination.EncodeCursor(pagination.Cursor{ID: t.ID})
		return cur
	})
	return entries, info, nil
}

// VerifyChain replays the user's transaction log and checks both the hash
// chain and the running balance snapshots.
func (s *Service) VerifyChain(ctx context.Context, userID string) (bool, error) {
	entries, err := s.transactions.Find(ctx, &PointsTransaction{UserID: userID},
		option.WithSortBy(option.QuerySortBy{SortBy: "id", OrderBy: "asc", Allow: map[string]bool{"id": true}}),
	)
	if err != nil {
		return false, err
	}

	var lastHash string
	var running int64
	for _, entry := range entries {
		if entry.Hash != entry.GenerateHash() || entry.PreviousHash != lastHash {
			return false, nil
		}
		running += entry.SignedPoints()
		if entry.BalanceAfter != running {
			return false, nil
		}
		lastHash = entry.Hash
	}

	return true, nil
}

// lockAccount reads the account row under FOR UPDATE so the surrounding
// transaction owns the read-modify-write. With create set, a missing account
// is provisioned (accounts are created on first award).
func (s *Service) lockAccount(ctx context.Context, tx *gorm.DB, userID string, create bool, actorID string) (*PointsAccount, error) {
	acct, err := s.accounts.WithTrx(tx).FindOne(ctx, &PointsAccount{UserID: userID}, option.WithLockingUpdate())
	if err != nil {
		return nil, err
	}
	if acct != nil {
		return acct, nil
	}

	if !create {
		return nil, errutil.NotFound("points account not found")
	}

	now := time.Now()
	acct = &PointsAccount{
		ID:            s.node.Generate().String(),
		UserID:        userID,
		LastUpdatedBy: actorID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.accounts.WithTrx(tx).Create(ctx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

func (s *Service) saveAccount(ctx context.Context, tx *gorm.DB, acct *PointsAccount, actorID string) error {
	if acct.CurrentBalance < 0 || acct.PendingPoints < 0 || acct.TotalEarned < 0 || acct.TotalRedeemed < 0 {
		return errutil.Internal("account update would violate non-negativity")
	}

	updates := map[string]any{
		"current_balance": acct.CurrentBalance,
		"pending_points":  acct.PendingPoints,
		"total_earned":    acct.TotalEarned,
		"total_redeemed":  acct.TotalRedeemed,
		"last_updated_by": actorID,
		"updated_at":      time.Now(),
	}
	return s.accounts.WithTrx(tx).Update(ctx, acct.ID, updates)
}

// appendEntry writes the immutable log entry for a mutation already applied to
// acct, chaining its hash to the user's previous entry.
func (s *Service) appendEntry(ctx context.Context, tx *gorm.DB, acct *PointsAccount, p EntryParams, direction Direction) (*PointsTransaction, error) {
	last, err := s.transactions.WithTrx(tx).FindOne(ctx, &PointsTransaction{UserID: p.UserID},
		option.WithSortBy(option.QuerySortBy{SortBy: "id", OrderBy: "desc", Allow: map[string]bool{"id": true}}),
	)
	if err != nil {
		return nil, err
	}

	entry := &PointsTransaction{
		ID:           s.node.Generate().String(),
		UserID:       p.UserID,
		Points:       p.Points,
		Direction:    direction,
		Origin:       p.Origin,
		SourceID:     p.SourceID,
		BalanceAfter: acct.CurrentBalance,
		Description:  p.Description,
		CreatedAt:    time.Now(),
	}
	if last != nil {
		entry.PreviousHash = last.Hash
	}
	entry.Hash = entry.GenerateHash()

	if err := s.transactions.WithTrx(tx).Create(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}
