package models

import "time"

// Item represents a tracked unit of perishable stock
type Item struct {
	ID           string     `db:"id" json:"id"`
	Name         string     `db:"name" json:"name"`
	ExpiryDate   string     `db:"expiry_date" json:"expiry_date"`
	Quantity     int        `db:"quantity" json:"quantity"`
	ReorderPoint *int       `db:"reorder_point" json:"reorder_point,omitempty"`
	Location     string     `db:"location" json:"location"`
	Removed      bool       `db:"removed" json:"removed"`
	RemovedAt    *time.Time `db:"removed_at" json:"removed_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// Active reports whether the item is still on the shelf
func (i Item) Active() bool {
	return !i.Removed
}

// Settings are the per-account engine settings supplied by the host
type Settings struct {
	WarningDays         int    `db:"warning_days" json:"warning_days" yaml:"warning_days"`
	Timezone            string `db:"timezone" json:"timezone" yaml:"timezone"`
	SLAThresholdMinutes int    `db:"sla_threshold_minutes" json:"sla_threshold_minutes" yaml:"sla_threshold_minutes"`
}

// Default engine settings
const (
	DefaultWarningDays         = 3
	DefaultTimezone            = "UTC"
	DefaultSLAThresholdMinutes = 30
)

// DefaultSettings returns the settings used when the host has none stored
func DefaultSettings() Settings {
	return Settings{
		WarningDays:         DefaultWarningDays,
		Timezone:            DefaultTimezone,
		SLAThresholdMinutes: DefaultSLAThresholdMinutes,
	}
}

// AuditEntry is one row of the host's item audit trail
type AuditEntry struct {
	ID        int64     `db:"id" json:"id"`
	ItemID    string    `db:"item_id" json:"item_id"`
	Action    string    `db:"action" json:"action"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
}

// Audit actions
const (
	AuditActionAdded   = "added"
	AuditActionUpdated = "updated"
	AuditActionRemoved = "removed"
)

// State is an item's lifecycle state
type State string

// Lifecycle states
const (
	StateSafe    State = "SAFE"
	StateWarning State = "WARNING"
	StateExpired State = "EXPIRED"
)

// ClassificationResult is the derived lifecycle state of one item
type ClassificationResult struct {
	ItemID          string `json:"item_id"`
	DaysUntilExpiry int    `json:"days_until_expiry"`
	State           State  `json:"state"`
}

// Alert types
const (
	AlertTypeExpired  = "expired"
	AlertTypeExpiring = "expiring"
	AlertTypeLowStock = "low_stock"
)

// Priority is an alert priority
type Priority string

// Alert priorities
const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank orders priorities, lower is more urgent
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

// Alert is a prioritized notice derived from a classified item
type Alert struct {
	Type        string    `json:"type"`
	Priority    Priority  `json:"priority"`
	ItemID      string    `json:"item_id"`
	DaysUntil   *int      `json:"days_until,omitempty"`
	Message     string    `json:"message"`
	GeneratedAt time.Time `json:"generated_at"`
}

// SLA violation statuses
const (
	SLAStatusResolved = "resolved"
	SLAStatusPending  = "pending"
)

// SLAViolation records an expired item that stayed on the shelf past the threshold
type SLAViolation struct {
	ItemID       string     `json:"item_id"`
	ExpiredAt    time.Time  `json:"expired_at"`
	RemovedAt    *time.Time `json:"removed_at"`
	DelayMinutes int        `json:"delay_minutes"`
	Status       string     `json:"status"`
}

// Band is a qualitative risk label
type Band string

// Risk bands
const (
	BandLow      Band = "Low"
	BandMedium   Band = "Medium"
	BandHigh     Band = "High"
	BandCritical Band = "Critical"
)

// RiskScoreSnapshot is the account-level risk aggregate
type RiskScoreSnapshot struct {
	Score        int     `json:"score"`
	Band         Band    `json:"band"`
	ExpiredRatio float64 `json:"expired_ratio"`
	WarningRatio float64 `json:"warning_ratio"`
	TotalItems   int     `json:"total_items"`
}

// Bundle is the full result of one evaluation
type Bundle struct {
	Classifications []ClassificationResult `json:"classifications"`
	Alerts          []Alert                `json:"alerts"`
	SLAViolations   []SLAViolation         `json:"sla_violations"`
	RiskScore       RiskScoreSnapshot      `json:"risk_score"`
	SkippedItems    int                    `json:"skipped_items"`
	Timestamp       time.Time              `json:"timestamp"`
}
