package models

import "time"

// Severity is the ordinal importance of a trigger
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities; unknown values rank below low
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// TriggerEvent is one detected, classified change. Immutable once written.
type TriggerEvent struct {
	ID               string    `json:"id"`
	MonitoringID     string    `json:"monitoring_id"`
	EntityID         string    `json:"entity_id"`
	TriggerType      string    `json:"trigger_type"`
	OldValue         string    `json:"old_value"`
	NewValue         string    `json:"new_value"`
	ChangePercentage *float64  `json:"change_percentage,omitempty"`
	Severity         Severity  `json:"severity"`
	Message          string    `json:"message"`
	DetectedAt       time.Time `json:"detected_at"`
}
