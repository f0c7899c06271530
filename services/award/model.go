package award

import "time"

// EventPool is the finite point budget of a single event, fixed at creation.
// PointsAwarded is the running total already distributed; the available pool
// is the difference and never goes negative.
type EventPool struct {
	ID              string    `gorm:"column:id;primaryKey"`
	EventID         string    `gorm:"column:event_id;uniqueIndex;not null"`
	TotalPointsPool int64     `gorm:"column:total_points_pool;not null"`
	PointsAwarded   int64     `gorm:"column:points_awarded;not null;default:0"`
	CreatedAt       time.Time `gorm:"column:created_at"`
	UpdatedAt       time.Time `gorm:"column:updated_at"`
}

func (EventPool) TableName() string { return "event_pools" }

func (p *EventPool) Available() int64 {
	return p.TotalPointsPool - p.PointsAwarded
}

// EventParticipant is one registered attendee of an event. A nil PointsAwarded
// is the not-yet-awarded sentinel; each participant is awarded at most once.
type EventParticipant struct {
	ID            string     `gorm:"column:id;primaryKey"`
	EventID       string     `gorm:"column:event_id;index:idx_event_user,unique;not null"`
	UserID        string     `gorm:"column:user_id;index:idx_event_user,unique;not null"`
	PointsAwarded *int64     `gorm:"column:points_awarded"`
	Rank          int        `gorm:"column:rank"`
	AwardedAt     *time.Time `gorm:"column:awarded_at"`
	AwardedBy     string     `gorm:"column:awarded_by"`
	CreatedAt     time.Time  `gorm:"column:created_at"`
	UpdatedAt     time.Time  `gorm:"column:updated_at"`
}

func (EventParticipant) TableName() string { return "event_participants" }

// AwardParams describes a single event-prize distribution.
type AwardParams struct {
	EventID   string
	UserID    string
	Points    int64
	Rank      int
	AwardedBy string
}

// BulkAward is one row of a batch distribution for an event.
type BulkAward struct {
	UserID string
	Points int64
	Rank   int
}

// GrantParams describes a direct administrative grant.
type GrantParams struct {
	AdminID string
	UserID  string
	Points  int64
	Reason  string
}
