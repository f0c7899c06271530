package budget

import (
	"context"
	"fmt"
	"time"

	"rewards-platform/pkg/db"
	"rewards-platform/pkg/db/option"
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

	budgets repository.Repository[AdminBudget]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:      p.DB,
		node:    p.Node,
		budgets: repository.ProvideStore[AdminBudget](p.DB),
	}
}

// CurrentPeriod returns the YYYYMM key for now.
func CurrentPeriod() string {
	return time.Now().UTC().Format(PeriodFormat)
}

// SetBudget creates or replaces the admin's budget row for a period.
func (s *Service) SetBudget(ctx context.Context, adminID, period string, limit int64, isHard bool, warningThreshold int64) (*AdminBudget, error) {
	if adminID == "" || period == "" {
		return nil, errutil.ValidationFailed("admin_id and period are required")
	}
	if limit < 0 {
		return nil, errutil.ValidationFailed("budget_limit must not be negative")
	}
	if warningThreshold <= 0 || warningThreshold > 100 {
		warningThreshold = 80
	}

	var row *AdminBudget
	err := db.Transact(ctx, s.db, func(tx *gorm.DB) error {
		existing, txErr := s.budgets.WithTrx(tx).FindOne(ctx, &AdminBudget{AdminID: adminID, Period: period}, option.WithLockingUpdate())
		if txErr != nil {
			return txErr
		}

		if existing != nil {
			updates := map[string]any{
				"budget_limit":      limit,
				"is_hard_limit":     isHard,
				"warning_threshold": warningThreshold,
				"updated_at":        time.Now(),
			}
			if txErr = s.budgets.WithTrx(tx).Update(ctx, existing.ID, updates); txErr != nil {
				return txErr
			}
			existing.BudgetLimit = limit
			existing.IsHardLimit = isHard
			existing.WarningThreshold = warningThreshold
			row = existing
			return nil
		}

		now := time.Now()
		row = &AdminBudget{
			ID:               s.node.Generate().String(),
			AdminID:          adminID,
			Period:           period,
			BudgetLimit:      limit,
			IsHardLimit:      isHard,
			WarningThreshold: warningThreshold,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		return s.budgets.WithTrx(tx).Create(ctx, row)
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (s *Service) GetBudget(ctx context.Context, adminID, period string) (*AdminBudget, error) {
	row, err := s.budgets.FindOne(ctx, &AdminBudget{AdminID: adminID, Period: period})
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, errutil.NotFound("admin budget not found")
	}
	return row, nil
}

// ValidateAward checks a prospective award against the admin's budget for the
// current period without mutating anything.
func (s *Service) ValidateAward(ctx context.Context, adminID string, points int64) (*ValidationResult, error) {
	return s.ValidateAwardTx(ctx, nil, adminID, CurrentPeriod(), points)
}

// ValidateAwardTx is the transaction-composable form so award flows can pin
// the budget row they validated against.
func (s *Service) ValidateAwardTx(ctx context.Context, tx *gorm.DB, adminID, period string, points int64) (*ValidationResult, error) {
	if points <= 0 {
		return nil, errutil.ValidationFailed("points must be positive")
	}

	opts := []option.QueryOption{}
	if tx != nil {
		opts = append(opts, option.WithLockingUpdate())
	}

	row, err := s.budgets.WithTrx(tx).FindOne(ctx, &AdminBudget{AdminID: adminID, Period: period}, opts...)
	if err != nil {
		return nil, err
	}

	// Budgeting is opt-in; an admin without a row this period is unconstrained.
	if row == nil {
		return &ValidationResult{Allowed: true, Message: "no budget configured for period"}, nil
	}

	projected := row.PointsAwarded + points

	if projected > row.BudgetLimit {
		if row.IsHardLimit {
			return &ValidationResult{
				Allowed:         false,
				Message:         "award would exceed hard monthly budget limit",
				RemainingBudget: row.Remaining(),
			}, nil
		}
		return &ValidationResult{
			Allowed:         true,
			Warning:         true,
			Message:         "award exceeds soft monthly budget limit",
			RemainingBudget: row.Remaining(),
		}, nil
	}

	remaining := row.BudgetLimit - projected
	if row.BudgetLimit > 0 && projected*100 >= row.BudgetLimit*row.WarningThreshold {
		return &ValidationResult{
			Allowed:         true,
			Warning:         true,
			Message:         fmt.Sprintf("award crosses %d%% of monthly budget", row.WarningThreshold),
			RemainingBudget: remaining,
		}, nil
	}

	return &ValidationResult{Allowed: true, RemainingBudget: remaining}, nil
}

// RecordAwarded charges points against the admin's budget for the current
// period.
func (s *Service) RecordAwarded(ctx context.Context, adminID string, points int64) error {
	return db.Transact(ctx, s.db, func(tx *gorm.DB) error {
		return s.RecordAwardedTx(ctx, tx, adminID, CurrentPeriod(), points)
	})
}

// RecordAwardedTx increments points_awarded under the caller's transaction.
// The hard-limit re-check is defensive: callers are expected to validate
// first, but a hard limit must never be silently breached.
func (s *Service) RecordAwardedTx(ctx context.Context, tx *gorm.DB, adminID, period string, points int64) error {
	if points <= 0 {
		return errutil.ValidationFailed("points must be positive")
	}

	row, err := s.budgets.WithTrx(tx).FindOne(ctx, &AdminBudget{AdminID: adminID, Period: period}, option.WithLockingUpdate())
	if err != nil {
		return err
	}
	if row == nil {
		return nil
	}

	if row.IsHardLimit && row.PointsAwarded+points > row.BudgetLimit {
		zap.L().Warn("hard budget limit hit at record time",
			zap.String("admin_id", adminID),
			zap.String("period", period),
			zap.Int64("points", points),
		)
		return errutil.BudgetExceeded("recording award would breach hard budget limit")
	}

	updates := map[string]any{
		"points_awarded": row.PointsAwarded + points,
		"updated_at":     time.Now(),
	}
	return s.budgets.WithTrx(tx).Update(ctx, row.ID, updates)
}
