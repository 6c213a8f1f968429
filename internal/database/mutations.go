package database

import (
	"context"
	"fmt"
	"time"

	"expiry-compliance/internal/models"
	"expiry-compliance/internal/queue"

	"github.com/jinzhu/gorm"
)

var _ queue.Store = (*MutationStore)(nil)

// mutationRecord is the persisted row of a queued mutation. Seq gives the
// FIFO replay order.
type mutationRecord struct {
	Seq        uint      `gorm:"primary_key;AUTO_INCREMENT"`
	MutationID string    `gorm:"unique_index;not null"`
	Action     string    `gorm:"not null"`
	Payload    string    `gorm:"type:text;not null"`
	EnqueuedAt time.Time `gorm:"not null"`
	Synced     bool      `gorm:"index;not null;default:false"`
	SyncedAt   *time.Time
}

func (mutationRecord) TableName() string {
	return "queued_mutations"
}

// MutationStore is a durable queue.Store backed by SQLite
type MutationStore struct {
	db *gorm.DB
}

// NewMutationStore wraps an open database
func NewMutationStore(db *gorm.DB) *MutationStore {
	return &MutationStore{db: db}
}

// OpenMutationStore opens the database at path and returns a store over it
func OpenMutationStore(path string) (*MutationStore, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	return NewMutationStore(db), nil
}

// Close closes the underlying database
func (s *MutationStore) Close() error {
	return s.db.Close()
}

// Append persists a new unsynced mutation
func (s *MutationStore) Append(ctx context.Context, m models.QueuedMutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := models.EncodePayload(m.Payload)
	if err != nil {
		return err
	}

	rec := &mutationRecord{
		MutationID: m.ID,
		Action:     string(m.Action),
		Payload:    string(payload),
		EnqueuedAt: m.EnqueuedAt,
		Synced:     m.Synced,
		SyncedAt:   m.SyncedAt,
	}
	if err := s.db.Create(rec).Error; err != nil {
		return fmt.Errorf("failed to insert mutation %s: %w", m.ID, err)
	}
	return nil
}

// Pending returns unsynced mutations in enqueue order. Rows whose payload no
// longer decodes are skipped and listed in a *queue.PendingError.
func (s *MutationStore) Pending(ctx context.Context) ([]models.QueuedMutation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var recs []mutationRecord
	if err := s.db.Where("synced = ?", false).Order("seq asc").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to load pending mutations: %w", err)
	}

	out := make([]models.QueuedMutation, 0, len(recs))
	var skipped []queue.MutationError
	for _, rec := range recs {
		m, err := rec.toModel()
		if err != nil {
			skipped = append(skipped, queue.MutationError{
				Mutation: models.QueuedMutation{
					ID:         rec.MutationID,
					Action:     models.Action(rec.Action),
					EnqueuedAt: rec.EnqueuedAt,
				},
				Err:     err,
				Message: err.Error(),
			})
			continue
		}
		out = append(out, m)
	}
	if len(skipped) > 0 {
		return out, &queue.PendingError{Skipped: skipped}
	}
	return out, nil
}

// PendingCount counts unsynced mutations
func (s *MutationStore) PendingCount(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var n int
	if err := s.db.Model(&mutationRecord{}).Where("synced = ?", false).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count pending mutations: %w", err)
	}
	return n, nil
}

// MarkSynced flags a mutation as replayed
func (s *MutationStore) MarkSynced(ctx context.Context, id string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	res := s.db.Model(&mutationRecord{}).
		Where("mutation_id = ?", id).
		Updates(map[string]interface{}{"synced": true, "synced_at": at})
	if res.Error != nil {
		return fmt.Errorf("failed to mark mutation %s synced: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("mutation %s not found", id)
	}
	return nil
}

// PruneSynced deletes every synced mutation
func (s *MutationStore) PruneSynced(ctx context.Context) (int, error) {
	res := s.db.Where("synced = ?", true).Delete(&mutationRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to prune synced mutations: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (rec mutationRecord) toModel() (models.QueuedMutation, error) {
	action := models.Action(rec.Action)
	payload, err := models.DecodePayload(action, []byte(rec.Payload))
	if err != nil {
		return models.QueuedMutation{}, fmt.Errorf("mutation %s: %w", rec.MutationID, err)
	}
	return models.QueuedMutation{
		ID:         rec.MutationID,
		Action:     action,
		Payload:    payload,
		EnqueuedAt: rec.EnqueuedAt,
		Synced:     rec.Synced,
		SyncedAt:   rec.SyncedAt,
	}, nil
}
