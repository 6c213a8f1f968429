package compliance

import (
	"time"

	"expiry-compliance/internal/models"
)

// Score weights and band thresholds are fixed so scores stay comparable
// across accounts and over time.
const (
	expiredWeightPct = 70
	warningWeightPct = 30

	criticalThreshold = 85
	highThreshold     = 60
	mediumThreshold   = 30
)

// Score aggregates the classification of the active items into a 0-100 risk
// score. Items that cannot be classified are left out of the ratios; they are
// reported as skipped instead.
func Score(items []models.Item, now time.Time, warningDays int) models.RiskScoreSnapshot {
	var total, expired, warning int
	for _, item := range items {
		if !item.Active() {
			continue
		}
		res, ok := Classify(item, now, warningDays)
		if !ok {
			continue
		}
		total++
		switch res.State {
		case models.StateExpired:
			expired++
		case models.StateWarning:
			warning++
		}
	}
	return ScoreCounts(total, expired, warning)
}

// ScoreCounts computes the snapshot from raw counts. The score is rounded
// half-up in integer arithmetic so that e.g. 8.5 always becomes 9.
func ScoreCounts(total, expired, warning int) models.RiskScoreSnapshot {
	if total <= 0 {
		return models.RiskScoreSnapshot{Score: 0, Band: models.BandLow}
	}

	num := expired*expiredWeightPct + warning*warningWeightPct
	score := (2*num + total) / (2 * total)
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return models.RiskScoreSnapshot{
		Score:        score,
		Band:         BandFor(score),
		ExpiredRatio: float64(expired) / float64(total),
		WarningRatio: float64(warning) / float64(total),
		TotalItems:   total,
	}
}

// BandFor labels a score
func BandFor(score int) models.Band {
	switch {
	case score >= criticalThreshold:
		return models.BandCritical
	case score >= highThreshold:
		return models.BandHigh
	case score >= mediumThreshold:
		return models.BandMedium
	default:
		return models.BandLow
	}
}
