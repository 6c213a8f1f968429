package service

import (
	"context"
	"sync"
	"time"

	"expiry-compliance/internal/models"
	"expiry-compliance/internal/util"

	"go.uber.org/zap"
)

const (
	DefaultBundleCacheTTL = 24 * time.Hour
	defaultPublishTimeout = 10 * time.Second
)

// BundleCache shares the latest bundle with other instances
type BundleCache interface {
	SetLatestBundle(ctx context.Context, accountID string, bundle models.Bundle, ttl time.Duration) error
}

// EventSink publishes compliance events for downstream notification delivery
type EventSink interface {
	PublishTickCompleted(ctx context.Context, accountID string, bundle models.Bundle) error
	PublishAlertRaised(ctx context.Context, accountID string, alert models.Alert) error
	PublishSLAViolation(ctx context.Context, accountID string, violation models.SLAViolation) error
}

// Broadcaster pushes bundles to connected dashboards
type Broadcaster interface {
	Broadcast(accountID string, bundle models.Bundle)
}

// ResultService consumes the scheduler's bundles. It keeps the latest one,
// records metrics, caches it, publishes events and pushes it to dashboards.
// Alerts and violations are published only when they first appear or change.
type ResultService struct {
	accountID string
	cache     BundleCache
	events    EventSink
	hub       Broadcaster
	cacheTTL  time.Duration
	logger    *zap.Logger

	mu             sync.RWMutex
	latest         *models.Bundle
	seenAlerts     map[string]bool
	seenViolations map[string]string
}

// NewResultService creates a result service for accountID. cache, events and
// hub are optional.
func NewResultService(accountID string, cache BundleCache, events EventSink, hub Broadcaster) *ResultService {
	return &ResultService{
		accountID:      accountID,
		cache:          cache,
		events:         events,
		hub:            hub,
		cacheTTL:       DefaultBundleCacheTTL,
		logger:         util.GetLogger().With(zap.String("account_id", accountID)),
		seenAlerts:     map[string]bool{},
		seenViolations: map[string]string{},
	}
}

// OnResult handles one evaluation bundle
func (s *ResultService) OnResult(bundle models.Bundle) {
	recordBundleMetrics(bundle)

	newAlerts, newViolations := s.remember(bundle)

	ctx, cancel := context.WithTimeout(context.Background(), defaultPublishTimeout)
	defer cancel()

	if s.cache != nil {
		if err := s.cache.SetLatestBundle(ctx, s.accountID, bundle, s.cacheTTL); err != nil {
			s.logger.Warn("Failed to cache bundle", zap.Error(err))
		}
	}

	if s.events != nil {
		s.publish(ctx, bundle, newAlerts, newViolations)
	}

	if s.hub != nil {
		s.hub.Broadcast(s.accountID, bundle)
	}

	s.logger.Info("Compliance evaluated",
		zap.Int("alerts", len(bundle.Alerts)),
		zap.Int("new_alerts", len(newAlerts)),
		zap.Int("sla_violations", len(bundle.SLAViolations)),
		zap.Int("risk_score", bundle.RiskScore.Score),
		zap.String("risk_band", string(bundle.RiskScore.Band)))
}

// Latest returns the most recent bundle, or nil before the first evaluation
func (s *ResultService) Latest() *models.Bundle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return nil
	}
	b := *s.latest
	return &b
}

func (s *ResultService) remember(bundle models.Bundle) ([]models.Alert, []models.SLAViolation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.latest = &bundle

	var newAlerts []models.Alert
	alerts := make(map[string]bool, len(bundle.Alerts))
	for _, a := range bundle.Alerts {
		key := a.Type + ":" + string(a.Priority) + ":" + a.ItemID
		alerts[key] = true
		if !s.seenAlerts[key] {
			newAlerts = append(newAlerts, a)
		}
	}
	s.seenAlerts = alerts

	var newViolations []models.SLAViolation
	violations := make(map[string]string, len(bundle.SLAViolations))
	for _, v := range bundle.SLAViolations {
		violations[v.ItemID] = v.Status
		if s.seenViolations[v.ItemID] != v.Status {
			newViolations = append(newViolations, v)
		}
	}
	s.seenViolations = violations

	return newAlerts, newViolations
}

func (s *ResultService) publish(ctx context.Context, bundle models.Bundle, alerts []models.Alert, violations []models.SLAViolation) {
	if err := s.events.PublishTickCompleted(ctx, s.accountID, bundle); err != nil {
		s.logger.Warn("Failed to publish tick event", zap.Error(err))
	}
	for _, a := range alerts {
		if err := s.events.PublishAlertRaised(ctx, s.accountID, a); err != nil {
			s.logger.Warn("Failed to publish alert",
				zap.String("item_id", a.ItemID),
				zap.String("type", a.Type),
				zap.Error(err))
		}
	}
	for _, v := range violations {
		if err := s.events.PublishSLAViolation(ctx, s.accountID, v); err != nil {
			s.logger.Warn("Failed to publish SLA violation",
				zap.String("item_id", v.ItemID),
				zap.Error(err))
		}
	}
}

func recordBundleMetrics(bundle models.Bundle) {
	for _, a := range bundle.Alerts {
		util.AlertsGeneratedTotal.WithLabelValues(a.Type, string(a.Priority)).Inc()
	}

	counts := map[string]int{models.SLAStatusPending: 0, models.SLAStatusResolved: 0}
	for _, v := range bundle.SLAViolations {
		counts[v.Status]++
	}
	for status, n := range counts {
		util.SLAViolations.WithLabelValues(status).Set(float64(n))
	}

	util.RiskScore.Set(float64(bundle.RiskScore.Score))
	util.SkippedItems.Set(float64(bundle.SkippedItems))
}
