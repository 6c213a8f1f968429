package service

import (
	"context"
	"fmt"
	"time"

	"expiry-compliance/internal/models"
	"expiry-compliance/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// DefaultIdempotencyTTL is how long an applied mutation id is remembered
const DefaultIdempotencyTTL = 7 * 24 * time.Hour

// ItemWriter is the backend write model queued mutations replay against
type ItemWriter interface {
	InsertItem(ctx context.Context, accountID string, item models.Item) error
	UpdateItem(ctx context.Context, accountID string, item models.Item) error
	RemoveItem(ctx context.Context, accountID, itemID string, removedAt time.Time) error
}

// IdempotencyStore remembers which mutations were already applied
type IdempotencyStore interface {
	CheckIdempotencyKey(ctx context.Context, key string) (bool, error)
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// MutationApplier replays queued mutations against the backend
type MutationApplier struct {
	store     ItemWriter
	idem      IdempotencyStore
	accountID string
	ttl       time.Duration
	logger    *zap.Logger
}

// NewMutationApplier creates an applier for accountID. idem may be nil.
func NewMutationApplier(store ItemWriter, idem IdempotencyStore, accountID string) *MutationApplier {
	return &MutationApplier{
		store:     store,
		idem:      idem,
		accountID: accountID,
		ttl:       DefaultIdempotencyTTL,
		logger:    util.GetLogger(),
	}
}

// Apply replays one mutation. A mutation whose id was already applied is
// skipped.
func (a *MutationApplier) Apply(ctx context.Context, m models.QueuedMutation) error {
	ctx, span := util.StartSpan(ctx, "MutationApplier.Apply",
		attribute.String("mutation.id", m.ID),
		attribute.String("mutation.action", string(m.Action)))
	defer span.End()

	key := a.idempotencyKey(m)
	if a.idem != nil {
		applied, err := a.idem.CheckIdempotencyKey(ctx, key)
		if err != nil {
			a.logger.Warn("Idempotency check failed, applying anyway",
				zap.String("mutation_id", m.ID),
				zap.Error(err))
		} else if applied {
			a.logger.Info("Mutation already applied", zap.String("mutation_id", m.ID))
			return nil
		}
	}

	if err := a.apply(ctx, m.Payload); err != nil {
		util.RecordError(span, err)
		return err
	}

	if a.idem != nil {
		if err := a.idem.SetIdempotencyKey(ctx, key, string(m.Action), a.ttl); err != nil {
			a.logger.Warn("Failed to record applied mutation",
				zap.String("mutation_id", m.ID),
				zap.Error(err))
		}
	}
	return nil
}

func (a *MutationApplier) apply(ctx context.Context, payload models.MutationPayload) error {
	switch p := payload.(type) {
	case models.AddPayload:
		if err := a.store.InsertItem(ctx, a.accountID, p.Item); err != nil {
			return fmt.Errorf("failed to add item %s: %w", p.Item.ID, err)
		}
	case models.UpdatePayload:
		if err := a.store.UpdateItem(ctx, a.accountID, p.Item); err != nil {
			return fmt.Errorf("failed to update item %s: %w", p.Item.ID, err)
		}
	case models.RemovePayload:
		if err := a.store.RemoveItem(ctx, a.accountID, p.ItemID, p.RemovedAt); err != nil {
			return fmt.Errorf("failed to remove item %s: %w", p.ItemID, err)
		}
	default:
		return fmt.Errorf("unsupported mutation payload %T", payload)
	}
	return nil
}

func (a *MutationApplier) idempotencyKey(m models.QueuedMutation) string {
	return fmt.Sprintf("mutation:%s:%s", a.accountID, m.ID)
}
