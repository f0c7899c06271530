package catalog

import (
	"context"
	"time"

	"rewards-platform/pkg/errutil"
	"rewards-platform/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	pricings repository.Repository[ProductPricing]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		pricings: repository.ProvideStore[ProductPricing](p.DB),
	}
}

// SetPricing opens a new pricing window for the product and closes any window
// still open at the new start time.
func (s *Service) SetPricing(ctx context.Context, productID string, pointsPrice int64, from time.Time, to *time.Time) (*ProductPricing, error) {
	if productID == "" {
		return nil, errutil.ValidationFailed("product_id is required")
	}
	if pointsPrice <= 0 {
		return nil, errutil.ValidationFailed("points_price must be positive")
	}
	if to != nil && !to.After(from) {
		return nil, errutil.ValidationFailed("effective_to must be after effective_from")
	}

	var row *ProductPricing
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&ProductPricing{}).
			Where("product_id = ? AND is_active = ? AND effective_to IS NULL", productID, true).
			Updates(map[string]any{"effective_to": from, "updated_at": time.Now()}).Error; err != nil {
			return err
		}

		now := time.Now()
		row = &ProductPricing{
			ID:            s.node.Generate().String(),
			ProductID:     productID,
			PointsPrice:   pointsPrice,
			EffectiveFrom: from,
			EffectiveTo:   to,
			IsActive:      true,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		return s.pricings.WithTrx(tx).Create(ctx, row)
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// ResolveActivePrice returns the unit points price effective at the given
// time. A missing window is a NOT_FOUND failure ("no active pricing").
func (s *Service) ResolveActivePrice(ctx context.Context, productID string, at time.Time) (int64, error) {
	rows, err := s.pricings.Find(ctx, &ProductPricing{ProductID: productID, IsActive: true})
	if err != nil {
		return 0, err
	}

	// Newest effective_from wins when windows overlap.
	var best *ProductPricing
	for _, row := range rows {
		if !row.EffectiveAt(at) {
			continue
		}
		if best == nil || row.EffectiveFrom.After(best.EffectiveFrom) {
			best = row
		}
	}
	if best == nil {
		return 0, errutil.NotFound("no active pricing for product")
	}
	return best.PointsPrice, nil
}
