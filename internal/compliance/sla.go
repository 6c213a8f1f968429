package compliance

import (
	"math"
	"time"

	"expiry-compliance/internal/models"
)

// DefaultSLAThreshold bounds the delay between expiry and logged removal
const DefaultSLAThreshold = 30 * time.Minute

// CheckCompliance compares the expiry of each expired item with its removal.
// The removal time is the most recent "removed" audit entry for the item,
// falling back to the item's own RemovedAt. Items still on the shelf past the
// threshold are reported as pending, with the delay measured against now.
func CheckCompliance(expired []models.Item, audit []models.AuditEntry, threshold time.Duration, now time.Time) []models.SLAViolation {
	if threshold <= 0 {
		threshold = DefaultSLAThreshold
	}

	removals := latestRemovals(audit)
	violations := make([]models.SLAViolation, 0)

	for _, item := range expired {
		expiry, err := ParseExpiry(item.ExpiryDate, now.Location())
		if err != nil {
			continue
		}

		removedAt, found := removals[item.ID]
		if !found && item.RemovedAt != nil {
			removedAt, found = *item.RemovedAt, true
		}

		if found {
			delay := removedAt.Sub(expiry)
			if delay > threshold {
				at := removedAt
				violations = append(violations, models.SLAViolation{
					ItemID:       item.ID,
					ExpiredAt:    expiry,
					RemovedAt:    &at,
					DelayMinutes: overrunMinutes(delay, threshold),
					Status:       models.SLAStatusResolved,
				})
			}
			continue
		}

		delay := now.Sub(expiry)
		if delay > threshold {
			violations = append(violations, models.SLAViolation{
				ItemID:       item.ID,
				ExpiredAt:    expiry,
				DelayMinutes: overrunMinutes(delay, threshold),
				Status:       models.SLAStatusPending,
			})
		}
	}

	return violations
}

func latestRemovals(audit []models.AuditEntry) map[string]time.Time {
	removals := make(map[string]time.Time)
	for _, entry := range audit {
		if entry.Action != models.AuditActionRemoved {
			continue
		}
		if prev, ok := removals[entry.ItemID]; !ok || entry.Timestamp.After(prev) {
			removals[entry.ItemID] = entry.Timestamp
		}
	}
	return removals
}

func overrunMinutes(delay, threshold time.Duration) int {
	return int(math.Round(float64(delay-threshold) / float64(time.Minute)))
}
