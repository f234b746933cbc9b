// Package triggers compares two observations of an entity and classifies
// every detected change by severity.
package triggers

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/leadwatch/core/pkg/models"
)

// Magnitude bands for numeric triggers, evaluated top-down
var magnitudeBands = []struct {
	minPercent float64
	severity   models.Severity
}{
	{100, models.SeverityCritical},
	{50, models.SeverityHigh},
	{25, models.SeverityMedium},
	{0, models.SeverityLow},
}

// adverseLegalStatus maps normalized registry statuses to their severity.
// Swedish registry terms are accepted alongside the English ones.
var adverseLegalStatus = map[string]models.Severity{
	"bankruptcy":     models.SeverityCritical,
	"bankrupt":       models.SeverityCritical,
	"konkurs":        models.SeverityCritical,
	"liquidation":    models.SeverityCritical,
	"likvidation":    models.SeverityCritical,
	"reconstruction": models.SeverityHigh,
	"rekonstruktion": models.SeverityHigh,
	"deregistered":   models.SeverityHigh,
	"avregistrerad":  models.SeverityHigh,
}

// Fixed severities for non-numeric kinds
const (
	creditRemarkSeverity = models.SeverityHigh
	addressSeverity      = models.SeverityLow
	ceoSeverity          = models.SeverityMedium
	newsSeverity         = models.SeverityLow
)

// Detect returns the trigger events fired between old and cur for the kinds
// enabled in cfg. MonitoringID and EntityID are left for the caller to fill.
func Detect(old, cur models.Snapshot, cfg models.TriggerConfig, at time.Time) []models.TriggerEvent {
	var events []models.TriggerEvent

	for _, kind := range models.AllTriggerKinds {
		if !cfg.IsEnabled(kind) {
			continue
		}

		var ev *models.TriggerEvent
		switch kind {
		case models.TriggerRevenueChange:
			ev = numericChange("revenue", old.Revenue, cur.Revenue, cfg.RevenueChangePercent)
		case models.TriggerProfitChange:
			ev = numericChange("profit", old.Profit, cur.Profit, cfg.ProfitChangePercent)
		case models.TriggerEmployeeChange:
			ev = numericChange("employees", intToFloat(old.Employees), intToFloat(cur.Employees), cfg.EmployeeChangePercent)
		case models.TriggerLegalStatus:
			ev = legalStatusChange(old.LegalStatus, cur.LegalStatus)
		case models.TriggerCreditRemark:
			ev = creditRemarkChange(old.CreditRemarks, cur.CreditRemarks)
		case models.TriggerAddressChange:
			ev = presenceChange(string(kind), "Address", old.Address, cur.Address, addressSeverity)
		case models.TriggerCEOChange:
			ev = presenceChange(string(kind), "CEO", old.CEO, cur.CEO, ceoSeverity)
		case models.TriggerNews:
			ev = presenceChange(string(kind), "News", old.LatestNews, cur.LatestNews, newsSeverity)
		}

		if ev != nil {
			ev.DetectedAt = at
			events = append(events, *ev)
		}
	}

	return events
}

// SeverityForMagnitude maps an absolute percentage change to its band
func SeverityForMagnitude(percent float64) models.Severity {
	abs := math.Abs(percent)
	for _, band := range magnitudeBands {
		if abs >= band.minPercent {
			return band.severity
		}
	}
	return models.SeverityLow
}

// MaxSeverity returns the highest severity in events, or "" when empty
func MaxSeverity(events []models.TriggerEvent) models.Severity {
	var highest models.Severity
	for _, ev := range events {
		if ev.Severity.Rank() > highest.Rank() {
			highest = ev.Severity
		}
	}
	return highest
}

// SortBySeverity orders events critical first, keeping detection order on ties
func SortBySeverity(events []models.TriggerEvent) []models.TriggerEvent {
	sorted := append([]models.TriggerEvent(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Severity.Rank() > sorted[j].Severity.Rank()
	})
	return sorted
}

func numericChange(field string, old, cur *float64, threshold float64) *models.TriggerEvent {
	if old == nil || cur == nil || *old == 0 {
		return nil
	}

	change := (*cur - *old) * 100 / math.Abs(*old)
	if math.Abs(change) < threshold || *cur == *old {
		return nil
	}

	direction := "increase"
	if change < 0 {
		direction = "decrease"
	}
	rounded := math.Round(change*100) / 100

	return &models.TriggerEvent{
		TriggerType:      field + "_" + direction,
		OldValue:         formatNumber(*old),
		NewValue:         formatNumber(*cur),
		ChangePercentage: &rounded,
		Severity:         SeverityForMagnitude(change),
		Message: fmt.Sprintf("%s %sd by %.1f%% (%s -> %s)",
			capitalize(field), direction, math.Abs(rounded), formatNumber(*old), formatNumber(*cur)),
	}
}

func legalStatusChange(old, cur string) *models.TriggerEvent {
	oldNorm, curNorm := normalize(old), normalize(cur)
	if curNorm == "" || oldNorm == curNorm {
		return nil
	}

	severity, adverse := adverseLegalStatus[curNorm]
	if !adverse {
		return nil
	}

	return &models.TriggerEvent{
		TriggerType: string(models.TriggerLegalStatus),
		OldValue:    old,
		NewValue:    cur,
		Severity:    severity,
		Message:     fmt.Sprintf("Legal status changed from %q to %q", old, cur),
	}
}

func creditRemarkChange(old, cur int) *models.TriggerEvent {
	if cur <= old {
		return nil
	}

	return &models.TriggerEvent{
		TriggerType: string(models.TriggerCreditRemark),
		OldValue:    strconv.Itoa(old),
		NewValue:    strconv.Itoa(cur),
		Severity:    creditRemarkSeverity,
		Message:     fmt.Sprintf("%d new adverse credit remark(s)", cur-old),
	}
}

func presenceChange(triggerType, label, old, cur string, severity models.Severity) *models.TriggerEvent {
	oldTrim, curTrim := strings.TrimSpace(old), strings.TrimSpace(cur)
	if oldTrim == "" || curTrim == "" || oldTrim == curTrim {
		return nil
	}

	return &models.TriggerEvent{
		TriggerType: triggerType,
		OldValue:    oldTrim,
		NewValue:    curTrim,
		Severity:    severity,
		Message:     fmt.Sprintf("%s changed from %q to %q", label, oldTrim, curTrim),
	}
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func intToFloat(v *int) *float64 {
	if v == nil {
		return nil
	}
	f := float64(*v)
	return &f
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
