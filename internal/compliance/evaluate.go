package compliance

import (
	"time"

	"expiry-compliance/internal/models"
)

// Evaluate runs the full classify, alert, SLA and risk pass over one snapshot
// of the host's items. Items without a usable expiry are counted in
// SkippedItems instead of failing the evaluation.
//
// The SLA clock starts at the expiry instant, so every item whose expiry has
// passed is checked, including items still inside day zero of the warning
// window and items already removed.
func Evaluate(items []models.Item, audit []models.AuditEntry, settings models.Settings, now time.Time) models.Bundle {
	classifications := make([]models.ClassificationResult, 0, len(items))
	expired := make([]models.Item, 0)
	skipped := 0

	for _, item := range items {
		expiry, err := ParseExpiry(item.ExpiryDate, now.Location())
		if err != nil {
			skipped++
			continue
		}
		if expiry.Before(now) {
			expired = append(expired, item)
		}
		if item.Active() {
			days := DaysUntil(expiry, now)
			classifications = append(classifications, models.ClassificationResult{
				ItemID:          item.ID,
				DaysUntilExpiry: days,
				State:           StateFor(days, settings.WarningDays),
			})
		}
	}

	threshold := time.Duration(settings.SLAThresholdMinutes) * time.Minute

	return models.Bundle{
		Classifications: classifications,
		Alerts:          GenerateAlerts(items, now, settings),
		SLAViolations:   CheckCompliance(expired, audit, threshold, now),
		RiskScore:       Score(items, now, settings.WarningDays),
		SkippedItems:    skipped,
		Timestamp:       now,
	}
}
