package redemption

import "time"

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusCancelled Status = "CANCELLED"
	StatusDelivered Status = "DELIVERED"
)

// Redemption is one user request to exchange points for a product. Points move
// into the pending bucket and stock into the reserved bucket at creation; a
// terminal decision settles or releases both.
type Redemption struct {
	ID           string     `gorm:"column:id;primaryKey"`
	Code         string     `gorm:"column:code;uniqueIndex;not null"`
	UserID       string     `gorm:"column:user_id;index;not null"`
	ProductID    string     `gorm:"column:product_id;not null"`
	Quantity     int64      `gorm:"column:quantity;not null"`
	PointsSpent  int64      `gorm:"column:points_spent;not null"`
	Status       Status     `gorm:"column:status;not null"`
	RejectReason string     `gorm:"column:reject_reason"`
	ApprovedBy   string     `gorm:"column:approved_by"`
	ApprovedAt   *time.Time `gorm:"column:approved_at"`
	RejectedBy   string     `gorm:"column:rejected_by"`
	RejectedAt   *time.Time `gorm:"column:rejected_at"`
	CancelledAt  *time.Time `gorm:"column:cancelled_at"`
	DeliveredBy  string     `gorm:"column:delivered_by"`
	DeliveredAt  *time.Time `gorm:"column:delivered_at"`
	CreatedAt    time.Time  `gorm:"column:created_at;index"`
	UpdatedAt    time.Time  `gorm:"column:updated_at"`
}

func (Redemption) TableName() string { return "redemptions" }

// CreateParams describes a new redemption request.
type CreateParams struct {
	UserID    string
	ProductID string
	Quantity  int64
}
