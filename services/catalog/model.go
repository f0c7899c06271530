package catalog

import "time"

// ProductPricing is one points-price window for a product. Redemption creation
// fixes the unit price from the row effective at request time.
type ProductPricing struct {
	ID            string     `gorm:"column:id;primaryKey"`
	ProductID     string     `gorm:"column:product_id;index;not null"`
	PointsPrice   int64      `gorm:"column:points_price;not null"`
	EffectiveFrom time.Time  `gorm:"column:effective_from;not null"`
	EffectiveTo   *time.Time `gorm:"column:effective_to"`
	IsActive      bool       `gorm:"column:is_active;not null;default:true"`
	CreatedAt     time.Time  `gorm:"column:created_at"`
	UpdatedAt     time.Time  `gorm:"column:updated_at"`
}

func (ProductPricing) TableName() string { return "product_pricings" }

// EffectiveAt reports whether this row prices the product at the given time.
func (p *ProductPricing) EffectiveAt(at time.Time) bool {
	if !p.IsActive || at.Before(p.EffectiveFrom) {
		return false
	}
	return p.EffectiveTo == nil || at.Before(*p.EffectiveTo)
}
