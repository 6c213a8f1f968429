package models

import "time"

// Event types
const (
	EventTypeTickCompleted       = "TICK_COMPLETED"
	EventTypeAlertRaised         = "ALERT_RAISED"
	EventTypeSLAViolation        = "SLA_VIOLATION"
	EventTypeMutationSynced      = "MUTATION_SYNCED"
	EventTypeConnectivityChanged = "CONNECTIVITY_CHANGED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// TickCompletedEvent summarizes one scheduler evaluation
type TickCompletedEvent struct {
	BaseEvent
	AccountID      string            `json:"account_id"`
	EvaluatedAt    time.Time         `json:"evaluated_at"`
	AlertCount     int               `json:"alert_count"`
	ViolationCount int               `json:"violation_count"`
	SkippedItems   int               `json:"skipped_items"`
	RiskScore      RiskScoreSnapshot `json:"risk_score"`
}

// AlertRaisedEvent carries one alert for external notification delivery
type AlertRaisedEvent struct {
	BaseEvent
	AccountID string `json:"account_id"`
	Alert     Alert  `json:"alert"`
}

// SLAViolationEvent carries one SLA violation for external notification delivery
type SLAViolationEvent struct {
	BaseEvent
	AccountID string       `json:"account_id"`
	Violation SLAViolation `json:"violation"`
}

// MutationSyncedEvent is published once a queued mutation reached the backend
type MutationSyncedEvent struct {
	BaseEvent
	AccountID  string `json:"account_id"`
	MutationID string `json:"mutation_id"`
	Action     Action `json:"action"`
}

// ConnectivityChangedEvent is published by the host's network-status detector
type ConnectivityChangedEvent struct {
	BaseEvent
	AccountID string `json:"account_id"`
	Online    bool   `json:"online"`
}
