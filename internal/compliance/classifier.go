package compliance

import (
	"fmt"
	"math"
	"strings"
	"time"

	"expiry-compliance/internal/models"
)

const day = 24 * time.Hour

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseExpiry parses the host's stored expiry value. Values without a zone
// are read in loc.
func ParseExpiry(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("missing expiry date")
	}
	if loc == nil {
		loc = time.UTC
	}

	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable expiry date %q", raw)
}

// DaysUntil returns the whole days between now and expiry, rounded up
func DaysUntil(expiry, now time.Time) int {
	return int(math.Ceil(float64(expiry.Sub(now)) / float64(day)))
}

// StateFor maps days-until-expiry onto a lifecycle state
func StateFor(daysUntil, warningDays int) models.State {
	switch {
	case daysUntil < 0:
		return models.StateExpired
	case daysUntil <= warningDays:
		return models.StateWarning
	default:
		return models.StateSafe
	}
}

// Classify computes the lifecycle state of item at now.
// ok is false when the item has no usable expiry.
func Classify(item models.Item, now time.Time, warningDays int) (models.ClassificationResult, bool) {
	expiry, err := ParseExpiry(item.ExpiryDate, now.Location())
	if err != nil {
		return models.ClassificationResult{}, false
	}

	days := DaysUntil(expiry, now)
	return models.ClassificationResult{
		ItemID:          item.ID,
		DaysUntilExpiry: days,
		State:           StateFor(days, warningDays),
	}, true
}
