package inventory

import (
	"context"
	"time"

	"rewards-platform/pkg/db"
	"rewards-platform/pkg/db/option"
	"rewards-platform/pkg/errutil"
	"rewards-platform/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	items repository.Repository[InventoryItem]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:    p.DB,
		node:  p.Node,
		items: repository.ProvideStore[InventoryItem](p.DB),
	}
}

// ProvisionItem creates the stock row for a product. Idempotent on product_id.
func (s *Service) ProvisionItem(ctx context.Context, productID string, quantity int64) (*InventoryItem, error) {
	if productID == "" {
		return nil, errutil.ValidationFailed("product_id is required")
	}
	if quantity < 0 {
		return nil, errutil.ValidationFailed("quantity must not be negative")
	}

	var item *InventoryItem
	err := db.Transact(ctx, s.db, func(tx *gorm.DB) error {
		existing, txErr := s.items.WithTrx(tx).FindOne(ctx, &InventoryItem{ProductID: productID}, option.WithLockingUpdate())
		if txErr != nil {
			return txErr
		}
		if existing != nil {
			item = existing
			return nil
		}

		now := time.Now()
		item = &InventoryItem{
			ID:                s.node.Generate().String(),
			ProductID:         productID,
			QuantityAvailable: quantity,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		return s.items.WithTrx(tx).Create(ctx, item)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// AdjustStock applies a signed delta to the available quantity; the result may
// not go negative.
func (s *Service) AdjustStock(ctx context.Context, productID string, delta int64) (*InventoryItem, error) {
	var item *InventoryItem
	err := db.Transact(ctx, s.db, func(tx *gorm.DB) error {
		var txErr error
		item, txErr = s.lockItem(ctx, tx, productID)
		if txErr != nil {
			return txErr
		}

		if item.QuantityAvailable+delta < 0 {
			return errutil.ValidationFailed("stock adjustment would go negative")
		}
		item.QuantityAvailable += delta
		return s.saveItem(ctx, tx, item)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (s *Service) GetItem(ctx context.Context, productID string) (*InventoryItem, error) {
	item, err := s.items.FindOne(ctx, &InventoryItem{ProductID: productID})
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, errutil.NotFound("inventory item not found")
	}
	return item, nil
}

// ReserveTx sets aside units for a pending redemption inside the caller's
// transaction. Fails with OUT_OF_STOCK when availability cannot cover it.
func (s *Service) ReserveTx(ctx context.Context, tx *gorm.DB, productID string, quantity int64) error {
	if quantity <= 0 {
		return errutil.ValidationFailed("quantity must be positive")
	}

	item, err := s.lockItem(ctx, tx, productID)
	if err != nil {
		return err
	}

	if item.QuantityAvailable < quantity {
		return errutil.OutOfStock("not enough stock to reserve")
	}

	item.QuantityAvailable -= quantity
	item.QuantityReserved += quantity
	return s.saveItem(ctx, tx, item)
}

// ConfirmReservationTx permanently consumes previously reserved units.
func (s *Service) ConfirmReservationTx(ctx context.Context, tx *gorm.DB, productID string, quantity int64) error {
	if quantity <= 0 {
		return errutil.ValidationFailed("quantity must be positive")
	}

	item, err := s.lockItem(ctx, tx, productID)
	if err != nil {
		return err
	}

	if item.QuantityReserved < quantity {
		return errutil.Conflict("reserved quantity smaller than confirmation")
	}

	item.QuantityReserved -= quantity
	return s.saveItem(ctx, tx, item)
}

// ReleaseReservationTx returns reserved units to the available pool.
func (s *Service) ReleaseReservationTx(ctx context.Context, tx *gorm.DB, productID string, quantity int64) error {
	if quantity <= 0 {
		return errutil.ValidationFailed("quantity must be positive")
	}

	item, err := s.lockItem(ctx, tx, productID)
	if err != nil {
		return err
	}

	if item.QuantityReserved < quantity {
		return errutil.Conflict("reserved quantity smaller than release")
	}

	item.QuantityReserved -= quantity
	item.QuantityAvailable += quantity
	return s.saveItem(ctx, tx, item)
}

func (s *Service) lockItem(ctx context.Context, tx *gorm.DB, productID string) (*InventoryItem, error) {
	item, err := s.items.WithTrx(tx).FindOne(ctx, &InventoryItem{ProductID: productID}, option.WithLockingUpdate())
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, errutil.NotFound("inventory item not found")
	}
	return item, nil
}

func (s *Service) saveItem(ctx context.Context, tx *gorm.DB, item *InventoryItem) error {
	updates := map[string]any{
		"quantity_available": item.QuantityAvailable,
		"quantity_reserved":  item.QuantityReserved,
		"updated_at":         time.Now(),
	}
	return s.items.WithTrx(tx).Update(ctx, item.ID, updates)
}
