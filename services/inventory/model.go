package inventory

import "time"

// InventoryItem tracks available vs reserved stock per product. Reserve,
// confirm and release are the only mutators of the reserved bucket.
type InventoryItem struct {
	ID                string    `gorm:"column:id;primaryKey"`
	ProductID         string    `gorm:"column:product_id;uniqueIndex;not null"`
	QuantityAvailable int64     `gorm:"column:quantity_available;not null;default:0"`
	QuantityReserved  int64     `gorm:"column:quantity_reserved;not null;default:0"`
	CreatedAt         time.Time `gorm:"column:created_at"`
	UpdatedAt         time.Time `gorm:"column:updated_at"`
}

func (InventoryItem) TableName() string { return "inventory_items" }
