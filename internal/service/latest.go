package service

import (
	"context"
	"sync"

	"expiry-compliance/internal/models"
)

// BundleReader reads a bundle cached by another instance
type BundleReader interface {
	GetLatestBundle(ctx context.Context, accountID string) (*models.Bundle, error)
}

// LatestBundles answers "what is the current compliance state of an
// account", preferring this process's own result over the shared cache.
type LatestBundles struct {
	mu     sync.RWMutex
	local  map[string]*ResultService
	shared BundleReader
}

// NewLatestBundles creates a lookup. shared may be nil.
func NewLatestBundles(shared BundleReader) *LatestBundles {
	return &LatestBundles{local: map[string]*ResultService{}, shared: shared}
}

// Add registers the result service of accountID
func (l *LatestBundles) Add(accountID string, results *ResultService) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.local[accountID] = results
}

// LatestBundle returns the newest known bundle, or nil if none exists yet
func (l *LatestBundles) LatestBundle(ctx context.Context, accountID string) (*models.Bundle, error) {
	l.mu.RLock()
	results := l.local[accountID]
	l.mu.RUnlock()

	if results != nil {
		if b := results.Latest(); b != nil {
			return b, nil
		}
	}
	if l.shared == nil {
		return nil, nil
	}
	return l.shared.GetLatestBundle(ctx, accountID)
}
