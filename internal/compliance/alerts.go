package compliance

import (
	"fmt"
	"sort"
	"time"

	"expiry-compliance/internal/models"
)

// GenerateAlerts builds the prioritized alert list for the active items.
// An item can carry an expiry alert and a low_stock alert at the same time.
func GenerateAlerts(items []models.Item, now time.Time, settings models.Settings) []models.Alert {
	alerts := make([]models.Alert, 0)

	for _, item := range items {
		if !item.Active() {
			continue
		}

		res, ok := Classify(item, now, settings.WarningDays)
		var daysUntil *int
		if ok {
			d := res.DaysUntilExpiry
			daysUntil = &d

			switch res.State {
			case models.StateExpired:
				alerts = append(alerts, newAlert(models.AlertTypeExpired, models.PriorityHigh, item, daysUntil, now))
			case models.StateWarning:
				priority := models.PriorityMedium
				if d <= 1 {
					priority = models.PriorityHigh
				}
				alerts = append(alerts, newAlert(models.AlertTypeExpiring, priority, item, daysUntil, now))
			}
		}

		if item.ReorderPoint != nil && item.Quantity <= *item.ReorderPoint {
			alerts = append(alerts, newAlert(models.AlertTypeLowStock, models.PriorityMedium, item, daysUntil, now))
		}
	}

	SortAlerts(alerts)
	return alerts
}

// SortAlerts orders alerts by priority, then by ascending days until expiry.
// Alerts without a date sort after dated ones of the same priority.
func SortAlerts(alerts []models.Alert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		a, b := alerts[i], alerts[j]
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() < b.Priority.Rank()
		}
		switch {
		case a.DaysUntil == nil:
			return false
		case b.DaysUntil == nil:
			return true
		default:
			return *a.DaysUntil < *b.DaysUntil
		}
	})
}

func newAlert(alertType string, priority models.Priority, item models.Item, daysUntil *int, now time.Time) models.Alert {
	return models.Alert{
		Type:        alertType,
		Priority:    priority,
		ItemID:      item.ID,
		DaysUntil:   daysUntil,
		Message:     alertMessage(alertType, item, daysUntil),
		GeneratedAt: now,
	}
}

func alertMessage(alertType string, item models.Item, daysUntil *int) string {
	switch alertType {
	case models.AlertTypeExpired:
		return fmt.Sprintf("%s expired %s ago", item.Name, pluralDays(-*daysUntil))
	case models.AlertTypeExpiring:
		if *daysUntil == 0 {
			return fmt.Sprintf("%s expires today", item.Name)
		}
		return fmt.Sprintf("%s expires in %s", item.Name, pluralDays(*daysUntil))
	default:
		return fmt.Sprintf("%s is low on stock (%d left, reorder at %d)", item.Name, item.Quantity, *item.ReorderPoint)
	}
}

func pluralDays(n int) string {
	if n == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", n)
}
