package queue

import (
	"context"
	"sync"
	"time"

	"expiry-compliance/internal/models"
)

// MemoryStore keeps mutations in process memory. It is not durable and is
// meant for tests and single-process hosts that persist elsewhere.
type MemoryStore struct {
	mu      sync.Mutex
	entries []models.QueuedMutation
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(ctx context.Context, m models.QueuedMutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, m)
	return nil
}

func (s *MemoryStore) Pending(ctx context.Context) ([]models.QueuedMutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make([]models.QueuedMutation, 0, len(s.entries))
	for _, m := range s.entries {
		if !m.Synced {
			pending = append(pending, m)
		}
	}
	return pending, nil
}

func (s *MemoryStore) PendingCount(ctx context.Context) (int, error) {
	pending, err := s.Pending(ctx)
	return len(pending), err
}

func (s *MemoryStore) MarkSynced(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.entries {
		if s.entries[i].ID == id {
			s.entries[i].Synced = true
			syncedAt := at
			s.entries[i].SyncedAt = &syncedAt
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) PruneSynced(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0]
	pruned := 0
	for _, m := range s.entries {
		if m.Synced {
			pruned++
			continue
		}
		kept = append(kept, m)
	}
	s.entries = kept
	return pruned, nil
}

// All returns every stored mutation, synced or not
func (s *MemoryStore) All() []models.QueuedMutation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.QueuedMutation(nil), s.entries...)
}
