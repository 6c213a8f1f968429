package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"expiry-compliance/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	items    []models.Item
	settings *models.Settings
	audit    []models.AuditEntry
	err      error

	inserted []models.Item
	updated  []models.Item
	removed  []string
}

func (f *fakeStore) GetItems(ctx context.Context, accountID string) ([]models.Item, error) {
	return f.items, f.err
}

func (f *fakeStore) GetSettings(ctx context.Context, accountID string) (*models.Settings, error) {
	return f.settings, f.err
}

func (f *fakeStore) GetRemovalAuditEntries(ctx context.Context, accountID string) ([]models.AuditEntry, error) {
	return f.audit, f.err
}

func (f *fakeStore) InsertItem(ctx context.Context, accountID string, item models.Item) error {
	if f.err != nil {
		return f.err
	}
	f.inserted = append(f.inserted, item)
	return nil
}

func (f *fakeStore) UpdateItem(ctx context.Context, accountID string, item models.Item) error {
	if f.err != nil {
		return f.err
	}
	f.updated = append(f.updated, item)
	return nil
}

func (f *fakeStore) RemoveItem(ctx context.Context, accountID, itemID string, removedAt time.Time) error {
	if f.err != nil {
		return f.err
	}
	f.removed = append(f.removed, itemID)
	return nil
}

type fakeIdempotency struct {
	keys     map[string]bool
	checkErr error
}

func (f *fakeIdempotency) CheckIdempotencyKey(ctx context.Context, key string) (bool, error) {
	if f.checkErr != nil {
		return false, f.checkErr
	}
	return f.keys[key], nil
}

func (f *fakeIdempotency) SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	f.keys[key] = true
	return nil
}

func TestItemSourceSettingsFallback(t *testing.T) {
	defaults := models.Settings{WarningDays: 5, Timezone: "Europe/Paris", SLAThresholdMinutes: 20}
	ctx := context.Background()

	src := NewItemSource(&fakeStore{}, "acct-1", defaults)
	settings, err := src.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, defaults, settings)

	src = NewItemSource(&fakeStore{settings: &models.Settings{WarningDays: 2}}, "acct-1", defaults)
	settings, err = src.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.Settings{WarningDays: 2, Timezone: "Europe/Paris", SLAThresholdMinutes: 20}, settings)
}

func TestItemSourceWrapsErrors(t *testing.T) {
	src := NewItemSource(&fakeStore{err: errors.New("connection refused")}, "acct-1", models.DefaultSettings())

	_, err := src.Items(context.Background())
	assert.ErrorContains(t, err, "failed to get items")
	_, err = src.RemovalAuditEntries(context.Background())
	assert.ErrorContains(t, err, "connection refused")
}

func TestMutationApplierDispatch(t *testing.T) {
	store := &fakeStore{}
	applier := NewMutationApplier(store, nil, "acct-1")
	ctx := context.Background()

	require.NoError(t, applier.Apply(ctx, models.QueuedMutation{ID: "1", Action: models.ActionAdd,
		Payload: models.AddPayload{Item: models.Item{ID: "a"}}}))
	require.NoError(t, applier.Apply(ctx, models.QueuedMutation{ID: "2", Action: models.ActionUpdate,
		Payload: models.UpdatePayload{Item: models.Item{ID: "a", Quantity: 3}}}))
	require.NoError(t, applier.Apply(ctx, models.QueuedMutation{ID: "3", Action: models.ActionRemove,
		Payload: models.RemovePayload{ItemID: "a", RemovedAt: time.Now()}}))

	assert.Len(t, store.inserted, 1)
	assert.Equal(t, 3, store.updated[0].Quantity)
	assert.Equal(t, []string{"a"}, store.removed)

	err := applier.Apply(ctx, models.QueuedMutation{ID: "4"})
	assert.ErrorContains(t, err, "unsupported mutation payload")
}

func TestMutationApplierSkipsAppliedMutations(t *testing.T) {
	store := &fakeStore{}
	idem := &fakeIdempotency{keys: map[string]bool{}}
	applier := NewMutationApplier(store, idem, "acct-1")
	ctx := context.Background()

	m := models.QueuedMutation{ID: "m-1", Action: models.ActionAdd, Payload: models.AddPayload{Item: models.Item{ID: "a"}}}
	require.NoError(t, applier.Apply(ctx, m))
	require.NoError(t, applier.Apply(ctx, m))

	assert.Len(t, store.inserted, 1)
	assert.True(t, idem.keys["mutation:acct-1:m-1"])
}

func TestMutationApplierFailureNotRecorded(t *testing.T) {
	store := &fakeStore{err: errors.New("constraint violation")}
	idem := &fakeIdempotency{keys: map[string]bool{}}
	applier := NewMutationApplier(store, idem, "acct-1")

	m := models.QueuedMutation{ID: "m-1", Action: models.ActionRemove, Payload: models.RemovePayload{ItemID: "a"}}
	err := applier.Apply(context.Background(), m)
	assert.ErrorContains(t, err, "failed to remove item a")
	assert.Empty(t, idem.keys)
}

func TestMutationApplierIdempotencyOutage(t *testing.T) {
	store := &fakeStore{}
	idem := &fakeIdempotency{keys: map[string]bool{}, checkErr: errors.New("redis down")}
	applier := NewMutationApplier(store, idem, "acct-1")

	m := models.QueuedMutation{ID: "m-1", Action: models.ActionAdd, Payload: models.AddPayload{Item: models.Item{ID: "a"}}}
	require.NoError(t, applier.Apply(context.Background(), m))
	assert.Len(t, store.inserted, 1)
}

type fakeCache struct {
	bundles []models.Bundle
	err     error
}

func (f *fakeCache) SetLatestBundle(ctx context.Context, accountID string, bundle models.Bundle, ttl time.Duration) error {
	f.bundles = append(f.bundles, bundle)
	return f.err
}

type fakeEvents struct {
	ticks      int
	alerts     []models.Alert
	violations []models.SLAViolation
}

func (f *fakeEvents) PublishTickCompleted(ctx context.Context, accountID string, bundle models.Bundle) error {
	f.ticks++
	return nil
}

func (f *fakeEvents) PublishAlertRaised(ctx context.Context, accountID string, alert models.Alert) error {
	f.alerts = append(f.alerts, alert)
	return nil
}

func (f *fakeEvents) PublishSLAViolation(ctx context.Context, accountID string, violation models.SLAViolation) error {
	f.violations = append(f.violations, violation)
	return nil
}

type fakeHub struct {
	mu    sync.Mutex
	count int
}

func (f *fakeHub) Broadcast(accountID string, bundle models.Bundle) {
	f.mu.Lock()
	f.count++
	f.mu.Unlock()
}

func TestResultServicePublishesChangesOnly(t *testing.T) {
	cache := &fakeCache{}
	events := &fakeEvents{}
	hub := &fakeHub{}
	svc := NewResultService("acct-1", cache, events, hub)

	assert.Nil(t, svc.Latest())

	first := models.Bundle{
		Alerts: []models.Alert{
			{Type: models.AlertTypeExpiring, Priority: models.PriorityMedium, ItemID: "a"},
			{Type: models.AlertTypeExpired, Priority: models.PriorityHigh, ItemID: "b"},
		},
		SLAViolations: []models.SLAViolation{{ItemID: "b", Status: models.SLAStatusPending}},
		RiskScore:     models.RiskScoreSnapshot{Score: 50, Band: models.BandMedium},
	}
	svc.OnResult(first)

	assert.Equal(t, 1, events.ticks)
	assert.Len(t, events.alerts, 2)
	assert.Len(t, events.violations, 1)

	// same state again: only the tick summary goes out
	svc.OnResult(first)
	assert.Equal(t, 2, events.ticks)
	assert.Len(t, events.alerts, 2)
	assert.Len(t, events.violations, 1)

	// escalation and resolution are republished
	second := models.Bundle{
		Alerts: []models.Alert{
			{Type: models.AlertTypeExpiring, Priority: models.PriorityHigh, ItemID: "a"},
		},
		SLAViolations: []models.SLAViolation{{ItemID: "b", Status: models.SLAStatusResolved}},
	}
	svc.OnResult(second)
	require.Len(t, events.alerts, 3)
	assert.Equal(t, models.PriorityHigh, events.alerts[2].Priority)
	require.Len(t, events.violations, 2)
	assert.Equal(t, models.SLAStatusResolved, events.violations[1].Status)

	assert.Len(t, cache.bundles, 3)
	assert.Equal(t, 3, hub.count)

	latest := svc.Latest()
	require.NotNil(t, latest)
	assert.Len(t, latest.Alerts, 1)
}

func TestResultServiceToleratesCacheFailure(t *testing.T) {
	events := &fakeEvents{}
	svc := NewResultService("acct-1", &fakeCache{err: errors.New("redis down")}, events, nil)

	svc.OnResult(models.Bundle{})
	assert.Equal(t, 1, events.ticks)
	assert.NotNil(t, svc.Latest())
}

type fakeReader struct {
	bundle *models.Bundle
}

func (f fakeReader) GetLatestBundle(ctx context.Context, accountID string) (*models.Bundle, error) {
	return f.bundle, nil
}

func TestLatestBundlesPrefersLocal(t *testing.T) {
	shared := &models.Bundle{SkippedItems: 9}
	latest := NewLatestBundles(fakeReader{bundle: shared})
	ctx := context.Background()

	results := NewResultService("acct-1", nil, nil, nil)
	latest.Add("acct-1", results)

	// nothing evaluated locally yet
	got, err := latest.LatestBundle(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 9, got.SkippedItems)

	results.OnResult(models.Bundle{SkippedItems: 1})
	got, err = latest.LatestBundle(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.SkippedItems)

	got, err = NewLatestBundles(nil).LatestBundle(ctx, "acct-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}
