package models

import "time"

// TriggerKind names a class of change the differ can detect
type TriggerKind string

const (
	TriggerRevenueChange  TriggerKind = "revenue_change"
	TriggerProfitChange   TriggerKind = "profit_change"
	TriggerEmployeeChange TriggerKind = "employee_change"
	TriggerLegalStatus    TriggerKind = "legal_status"
	TriggerCreditRemark   TriggerKind = "credit_remark"
	TriggerAddressChange  TriggerKind = "address_change"
	TriggerCEOChange      TriggerKind = "ceo_change"
	TriggerNews           TriggerKind = "news"
)

// AllTriggerKinds lists every kind in evaluation order
var AllTriggerKinds = []TriggerKind{
	TriggerRevenueChange,
	TriggerProfitChange,
	TriggerEmployeeChange,
	TriggerLegalStatus,
	TriggerCreditRemark,
	TriggerAddressChange,
	TriggerCEOChange,
	TriggerNews,
}

// TriggerConfig is the per-watch set of enabled kinds and numeric thresholds
type TriggerConfig struct {
	Enabled               []TriggerKind `json:"enabled"`
	RevenueChangePercent  float64       `json:"revenue_change_percent"`
	ProfitChangePercent   float64       `json:"profit_change_percent"`
	EmployeeChangePercent float64       `json:"employee_change_percent"`
}

// DefaultTriggerConfig enables every kind with the standard thresholds
func DefaultTriggerConfig() TriggerConfig {
	return TriggerConfig{
		Enabled:               append([]TriggerKind(nil), AllTriggerKinds...),
		RevenueChangePercent:  10,
		ProfitChangePercent:   15,
		EmployeeChangePercent: 20,
	}
}

// IsEnabled reports whether kind is switched on
func (c TriggerConfig) IsEnabled(kind TriggerKind) bool {
	for _, k := range c.Enabled {
		if k == kind {
			return true
		}
	}
	return false
}

// MonitoringWatch is a recurring check bound to one tracked entity.
// Baseline holds the last-known state of the entity; it is the "previous"
// side of every diff.
type MonitoringWatch struct {
	ID                string        `json:"id"`
	TenantID          string        `json:"tenant_id"`
	EntityID          string        `json:"entity_id"`
	IntervalDays      int           `json:"interval_days"`
	NextCheckDate     time.Time     `json:"next_check_date"`
	LastCheckDate     *time.Time    `json:"last_check_date,omitempty"`
	LastSeenAt        *time.Time    `json:"last_seen_at,omitempty"`
	CheckCount        int           `json:"check_count"`
	NotificationEmail string        `json:"notification_email"`
	TriggerConfig     TriggerConfig `json:"trigger_config"`
	IsActive          bool          `json:"is_active"`
	Baseline          Snapshot      `json:"baseline"`
	CreatedAt         time.Time     `json:"created_at"`
}
