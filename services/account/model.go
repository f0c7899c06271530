package account

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Direction is the sign of a ledger entry against the spendable balance.
type Direction string

const (
	DirectionEarned   Direction = "EARNED"
	DirectionRedeemed Direction = "REDEEMED"
)

// Origin is the business reason for a ledger entry.
type Origin string

const (
	OriginEvent      Origin = "EVENT"
	OriginRedemption Origin = "REDEMPTION"
	OriginAdminGrant Origin = "ADMIN_GRANT"
)

// PointsAccount is the per-user balance aggregate. One row per user, never
// deleted. CurrentBalance excludes points held against in-flight redemptions.
type PointsAccount struct {
	ID             string    `gorm:"column:id;primaryKey"`
	UserID         string    `gorm:"column:user_id;uniqueIndex;not null"`
	CurrentBalance int64     `gorm:"column:current_balance;not null;default:0"`
	PendingPoints  int64     `gorm:"column:pending_points;not null;default:0"`
	TotalEarned    int64     `gorm:"column:total_earned;not null;default:0"`
	TotalRedeemed  int64     `gorm:"column:total_redeemed;not null;default:0"`
	LastUpdatedBy  string    `gorm:"column:last_updated_by"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (PointsAccount) TableName() string { return "points_accounts" }

// Reconciles reports whether the balance identity
// current = earned - redeemed - pending holds for the row.
func (a *PointsAccount) Reconciles() bool {
	return a.CurrentBalance == a.TotalEarned-a.TotalRedeemed-a.PendingPoints
}

// PointsTransaction is one immutable entry of the append-only audit trail.
// Corrections are issued as new offsetting entries, never edits.
type PointsTransaction struct {
	ID           string         `gorm:"column:id;primaryKey"`
	UserID       string         `gorm:"column:user_id;index;not null"`
	Points       int64          `gorm:"column:points;not null"`
	Direction    Direction      `gorm:"column:direction;type:varchar(10);not null"`
	Origin       Origin         `gorm:"column:origin;type:varchar(20);not null"`
	SourceID     string         `gorm:"column:source_id;index"`
	BalanceAfter int64          `gorm:"column:balance_after;not null"`
	Description  string         `gorm:"column:description;type:text"`
	Metadata     datatypes.JSON `gorm:"column:metadata"`
	PreviousHash string         `gorm:"column:previous_hash"`
	Hash         string         `gorm:"column:hash"`
	CreatedAt    time.Time      `gorm:"column:created_at"`
}

func (PointsTransaction) TableName() string { return "points_transactions" }

// SignedPoints is the delta this entry applies to the spendable balance.
func (t *PointsTransaction) SignedPoints() int64 {
	if t.Direction == DirectionEarned {
		return t.Points
	}
	return -t.Points
}

func (t *PointsTransaction) HashFields() map[string]string {
	return map[string]string{
		"id":            t.ID,
		"user_id":       t.UserID,
		"points":        fmt.Sprintf("%d", t.Points),
		"direction":     string(t.Direction),
		"origin":        string(t.Origin),
		"source_id":     t.SourceID,
		"balance_after": fmt.Sprintf("%d", t.BalanceAfter),
		"description":   t.Description,
		"created_at":    t.CreatedAt.UTC().Format(time.RFC3339Nano),
		"previous_hash": t.PreviousHash,
	}
}

func (t *PointsTransaction) GenerateHash() string {
	fields := t.HashFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
