package service

import (
	"context"
	"fmt"

	"expiry-compliance/internal/models"
	"expiry-compliance/internal/util"

	"go.opentelemetry.io/otel/attribute"
)

// ItemStore is the backend read model the engine evaluates
type ItemStore interface {
	GetItems(ctx context.Context, accountID string) ([]models.Item, error)
	GetSettings(ctx context.Context, accountID string) (*models.Settings, error)
	GetRemovalAuditEntries(ctx context.Context, accountID string) ([]models.AuditEntry, error)
}

// ItemSource serves one account's items, settings and removal audit trail
// to the scheduler
type ItemSource struct {
	store     ItemStore
	accountID string
	defaults  models.Settings
}

// NewItemSource creates a source for accountID. defaults apply when the
// account has no stored settings.
func NewItemSource(store ItemStore, accountID string, defaults models.Settings) *ItemSource {
	return &ItemSource{store: store, accountID: accountID, defaults: defaults}
}

// Items returns every item of the account
func (s *ItemSource) Items(ctx context.Context) ([]models.Item, error) {
	ctx, span := util.StartSpan(ctx, "ItemSource.Items", attribute.String("account.id", s.accountID))
	defer span.End()

	items, err := s.store.GetItems(ctx, s.accountID)
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to get items: %w", err)
	}
	span.SetAttributes(attribute.Int("items.count", len(items)))
	return items, nil
}

// Settings returns the stored settings with zero fields filled from the defaults
func (s *ItemSource) Settings(ctx context.Context) (models.Settings, error) {
	ctx, span := util.StartSpan(ctx, "ItemSource.Settings", attribute.String("account.id", s.accountID))
	defer span.End()

	stored, err := s.store.GetSettings(ctx, s.accountID)
	if err != nil {
		util.RecordError(span, err)
		return models.Settings{}, fmt.Errorf("failed to get settings: %w", err)
	}
	if stored == nil {
		return s.defaults, nil
	}

	settings := *stored
	if settings.Timezone == "" {
		settings.Timezone = s.defaults.Timezone
	}
	if settings.SLAThresholdMinutes <= 0 {
		settings.SLAThresholdMinutes = s.defaults.SLAThresholdMinutes
	}
	return settings, nil
}

// RemovalAuditEntries returns the account's "removed" audit entries
func (s *ItemSource) RemovalAuditEntries(ctx context.Context) ([]models.AuditEntry, error) {
	ctx, span := util.StartSpan(ctx, "ItemSource.RemovalAuditEntries", attribute.String("account.id", s.accountID))
	defer span.End()

	entries, err := s.store.GetRemovalAuditEntries(ctx, s.accountID)
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to get removal audit entries: %w", err)
	}
	return entries, nil
}
