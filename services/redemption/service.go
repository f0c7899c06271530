package redemption

import (
	"context"
	"fmt"
	"strings"
	"time"

	"rewards-platform/pkg/config"
	"rewards-platform/pkg/db"
	"rewards-platform/pkg/db/option"
	"rewards-platform/pkg/db/pagination"
	"rewards-platform/pkg/errutil"
	"rewards-platform/pkg/repository"
	"rewards-platform/pkg/sequence"
	"rewards-platform/services/account"
	"rewards-platform/services/catalog"
	"rewards-platform/services/inventory"

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

	accounts  *account.Service
	catalog   *catalog.Service
	inventory *inventory.Service

	redemptions repository.Repository[Redemption]
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Config *config.Config
	Seq    sequence.Generator

	Account   *account.Service
	Catalog   *catalog.Service
	Inventory *inventory.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,
		cfg:  p.Config,
		seq:  p.Seq,

		accounts:  p.Account,
		catalog:   p.Catalog,
		inventory: p.Inventory,

		redemptions: repository.ProvideStore[Redemption](p.DB),
	}
}

// Create places a redemption request: the point hold, the stock reservation
// and the PENDING row commit or roll back together, so a failure at any step
// leaves balance and stock untouched.
func (s *Service) Create(ctx context.Context, p CreateParams) (*Redemption, error) {
	if p.UserID == "" || p.ProductID == "" {
		return nil, errutil.ValidationFailed("user_id and product_id are required")
	}
	if max := int64(s.cfg.Rewards.MaxQuantityPerRequest); p.Quantity < 1 || p.Quantity > max {
		return nil, errutil.ValidationFailed(fmt.Sprintf("quantity must be between 1 and %d", max))
	}

	unitPrice, err := s.catalog.ResolveActivePrice(ctx, p.ProductID, time.Now())
	if err != nil {
		return nil, err
	}
	total := unitPrice * p.Quantity

	code, err := s.seq.NextRedemptionCode(ctx)
	if err != nil {
		return nil, errutil.Internal("failed to generate redemption code", errutil.WithErr(err))
	}

	var row *Redemption
	err = db.Transact(ctx, s.db, func(tx *gorm.DB) error {
		now := time.Now()
		row = &Redemption{
			ID:          s.node.Generate().String(),
			Code:        code,
			UserID:      p.UserID,
			ProductID:   p.ProductID,
			Quantity:    p.Quantity,
			PointsSpent: total,
			Status:      StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		if _, txErr := s.accounts.HoldTx(ctx, tx, account.EntryParams{
			UserID:      p.UserID,
			Points:      total,
			Origin:      account.OriginRedemption,
			SourceID:    row.ID,
			Description: fmt.Sprintf("redemption %s", code),
			ActorID:     p.UserID,
		}); txErr != nil {
			return txErr
		}

		if txErr := s.inventory.ReserveTx(ctx, tx, p.ProductID, p.Quantity); txErr != nil {
			return txErr
		}

		return s.redemptions.WithTrx(tx).Create(ctx, row)
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("redemption created",
		zap.String("code", row.Code),
		zap.String("user_id", row.UserID),
		zap.Int64("points_spent", row.PointsSpent),
	)
	return row, nil
}

// Approve finalizes a pending redemption: the held points become a permanent
// spend and the reserved stock is consumed. Only PENDING rows can be approved.
func (s *Service) Approve(ctx context.Context, redemptionID, adminID string) (*Redemption, error) {
	if adminID == "" {
		return nil, errutil.ValidationFailed("admin_id is required")
	}

	var row *Redemption
	err := db.Transact(ctx, s.db, func(tx *gorm.DB) error {
		var txErr error
		row, txErr = s.lockRedemption(ctx, tx, redemptionID)
		if txErr != nil {
			return txErr
		}
		if row.Status != StatusPending {
			return errutil.InvalidStateTransition(fmt.Sprintf("cannot approve redemption in status %s", row.Status))
		}

		if txErr = s.accounts.CaptureHoldTx(ctx, tx, account.EntryParams{
			UserID:   row.UserID,
			Points:   row.PointsSpent,
			Origin:   account.OriginRedemption,
			SourceID: row.ID,
			ActorID:  adminID,
		}); txErr != nil {
			return txErr
		}

		if txErr = s.inventory.ConfirmReservationTx(ctx, tx, row.ProductID, row.Quantity); txErr != nil {
			return txErr
		}

		now := time.Now()
		row.Status = StatusApproved
		row.ApprovedBy = adminID
		row.ApprovedAt = &now
		return s.redemptions.WithTrx(tx).Update(ctx, row.ID, map[string]any{
			"status":      StatusApproved,
			"approved_by": adminID,
			"approved_at": now,
			"updated_at":  now,
		})
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// Reject declines a pending redemption and restores the points and the stock.
// A reason is mandatory and must carry enough substance to be auditable.
func (s *Service) Reject(ctx context.Context, redemptionID, adminID, reason string) (*Redemption, error) {
	if adminID == "" {
		return nil, errutil.ValidationFailed("admin_id is required")
	}
	if min := s.cfg.Rewards.MinRejectReasonLength; len(strings.TrimSpace(reason)) < min {
		return nil, errutil.ValidationFailed(fmt.Sprintf("reject reason must be at least %d characters", min))
	}

	var row *Redemption
	err := db.Transact(ctx, s.db, func(tx *gorm.DB) error {
		var txErr error
		row, txErr = s.lockRedemption(ctx, tx, redemptionID)
		if txErr != nil {
			return txErr
		}
		if row.Status != StatusPending {
			return errutil.InvalidStateTransition(fmt.Sprintf("cannot reject redemption in status %s", row.Status))
		}

		now := time.Now()
		if txErr = s.releaseTx(ctx, tx, row, adminID, fmt.Sprintf("redemption %s rejected", row.Code)); txErr != nil {
			return txErr
		}

		row.Status = StatusRejected
		row.RejectReason = reason
		row.RejectedBy = adminID
		row.RejectedAt = &now
		return s.redemptions.WithTrx(tx).Update(ctx, row.ID, map[string]any{
			"status":        StatusRejected,
			"reject_reason": reason,
			"rejected_by":   adminID,
			"rejected_at":   now,
			"updated_at":    now,
		})
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// Cancel lets the requesting user withdraw their own pending redemption.
func (s *Service) Cancel(ctx context.Context, redemptionID, userID string) (*Redemption, error) {
	if userID == "" {
		return nil, errutil.ValidationFailed("user_id is required")
	}

	var row *Redemption
	err := db.Transact(ctx, s.db, func(tx *gorm.DB) error {
		var txErr error
		row, txErr = s.lockRedemption(ctx, tx, redemptionID)
		if txErr != nil {
			return txErr
		}
		if row.UserID != userID {
			return errutil.BadRequest("redemption belongs to another user")
		}
		if row.Status != StatusPending {
			return errutil.InvalidStateTransition(fmt.Sprintf("cannot cancel redemption in status %s", row.Status))
		}

		now := time.Now()
		if txErr = s.releaseTx(ctx, tx, row, userID, fmt.Sprintf("redemption %s cancelled", row.Code)); txErr != nil {
			return txErr
		}

		row.Status = StatusCancelled
		row.CancelledAt = &now
		return s.redemptions.WithTrx(tx).Update(ctx, row.ID, map[string]any{
			"status":       StatusCancelled,
			"cancelled_at": now,
			"updated_at":   now,
		})
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// Deliver marks an approved redemption as handed over. Audit-only: balances
// and stock were settled at approval.
func (s *Service) Deliver(ctx context.Context, redemptionID, adminID string) (*Redemption, error) {
	if adminID == "" {
		return nil, errutil.ValidationFailed("admin_id is required")
	}

	var row *Redemption
	err := db.Transact(ctx, s.db, func(tx *gorm.DB) error {
		var txErr error
		row, txErr = s.lockRedemption(ctx, tx, redemptionID)
		if txErr != nil {
			return txErr
		}
		if row.Status != StatusApproved {
			return errutil.InvalidStateTransition(fmt.Sprintf("cannot deliver redemption in status %s", row.Status))
		}

		now := time.Now()
		row.Status = StatusDelivered
		row.DeliveredBy = adminID
		row.DeliveredAt = &now
		return s.redemptions.WithTrx(tx).Update(ctx, row.ID, map[string]any{
			"status":       StatusDelivered,
			"delivered_by": adminID,
			"delivered_at": now,
			"updated_at":   now,
		})
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (s *Service) Get(ctx context.Context, redemptionID string) (*Redemption, error) {
	row, err := s.redemptions.FindOne(ctx, &Redemption{ID: redemptionID})
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, errutil.NotFound("redemption not found")
	}
	return row, nil
}

// ListByUser returns the user's redemptions, newest first, cursor-paginated.
func (s *Service) ListByUser(ctx context.Context, userID string, page pagination.Pagination) ([]*Redemption, *pagination.PageInfo, error) {
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

	rows, err := s.redemptions.Find(ctx, &Redemption{UserID: userID}, opts...)
	if err != nil {
		return nil, nil, err
	}

	rows, info := pagination.BuildCursorPageInfo(rows, limit, func(r *Redemption) string {
		cur, _ := pagination.EncodeCursor(pagination.Cursor{ID: r.ID})
		return cur
	})
	return rows, info, nil
}

// ListExpiredPending returns pending redemptions older than the TTL. Used by
// the background sweeper; each returned row is expired individually.
func (s *Service) ListExpiredPending(ctx context.Context, now time.Time) ([]*Redemption, error) {
	deadline := now.Add(-s.cfg.Rewards.PendingRedemptionTTL)
	return s.redemptions.Find(ctx, &Redemption{Status: StatusPending},
		option.ApplyOperator(option.Condition{Field: "created_at", Operator: option.LT, Value: deadline}),
		option.WithSortBy(option.QuerySortBy{SortBy: "id", OrderBy: "asc", Allow: map[string]bool{"id": true}}),
	)
}

// Expire cancels a pending redemption that outlived its TTL, restoring points
// and stock. A row decided in the meantime is left alone.
func (s *Service) Expire(ctx context.Context, redemptionID string) error {
	return db.Transact(ctx, s.db, func(tx *gorm.DB) error {
		row, txErr := s.lockRedemption(ctx, tx, redemptionID)
		if txErr != nil {
			return txErr
		}
		if row.Status != StatusPending {
			return nil
		}

		now := time.Now()
		if txErr = s.releaseTx(ctx, tx, row, "system", fmt.Sprintf("redemption %s expired", row.Code)); txErr != nil {
			return txErr
		}

		return s.redemptions.WithTrx(tx).Update(ctx, row.ID, map[string]any{
			"status":       StatusCancelled,
			"cancelled_at": now,
			"updated_at":   now,
		})
	})
}

// releaseTx undoes the hold and the reservation of a pending redemption.
func (s *Service) releaseTx(ctx context.Context, tx *gorm.DB, row *Redemption, actorID, description string) error {
	if _, err := s.accounts.ReleaseHoldTx(ctx, tx, account.EntryParams{
		UserID:      row.UserID,
		Points:      row.PointsSpent,
		Origin:      account.OriginRedemption,
		SourceID:    row.ID,
		Description: description,
		ActorID:     actorID,
	}); err != nil {
		return err
	}
	return s.inventory.ReleaseReservationTx(ctx, tx, row.ProductID, row.Quantity)
}

func (s *Service) lockRedemption(ctx context.Context, tx *gorm.DB, redemptionID string) (*Redemption, error) {
	if redemptionID == "" {
		return nil, errutil.ValidationFailed("redemption_id is required")
	}
	row, err := s.redemptions.WithTrx(tx).FindOne(ctx, &Redemption{ID: redemptionID}, option.WithLockingUpdate())
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, errutil.NotFound("redemption not found")
	}
	return row, nil
}
