package budget

import "time"

// PeriodFormat renders a time as the YYYYMM budget period key.
const PeriodFormat = "200601"

// AdminBudget is the monthly award ceiling for one administrator. Budgeting is
// opt-in: admins without a row for the period are unconstrained.
type AdminBudget struct {
	ID               string    `gorm:"column:id;primaryKey"`
	AdminID          string    `gorm:"column:admin_id;index:idx_admin_period,unique;not null"`
	Period           string    `gorm:"column:period;index:idx_admin_period,unique;not null"`
	BudgetLimit      int64     `gorm:"column:budget_limit;not null"`
	PointsAwarded    int64     `gorm:"column:points_awarded;not null;default:0"`
	IsHardLimit      bool      `gorm:"column:is_hard_limit;not null;default:false"`
	WarningThreshold int64     `gorm:"column:warning_threshold;not null;default:80"`
	CreatedAt        time.Time `gorm:"column:created_at"`
	UpdatedAt        time.Time `gorm:"column:updated_at"`
}

func (AdminBudget) TableName() string { return "admin_budgets" }

// Remaining is the budget left this period, floored at zero for soft limits
// already overrun.
func (b *AdminBudget) Remaining() int64 {
	if b.PointsAwarded >= b.BudgetLimit {
		return 0
	}
	return b.BudgetLimit - b.PointsAwarded
}

// ValidationResult is the outcome of checking a prospective award against the
// admin's monthly budget.
type ValidationResult struct {
	Allowed         bool   `json:"allowed"`
	Warning         bool   `json:"warning"`
	Message         string `json:"message"`
	RemainingBudget int64  `json:"remaining_budget"`
}
