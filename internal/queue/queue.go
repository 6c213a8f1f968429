package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"expiry-compliance/internal/clock"
	"expiry-compliance/internal/models"
	"expiry-compliance/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var (
	ErrOffline         = errors.New("queue is offline")
	ErrDrainInProgress = errors.New("drain already in progress")
	ErrUnknownAction   = errors.New("unknown mutation action")
	ErrNoApplyFunc     = errors.New("no apply function configured")
)

// Store persists queued mutations. Pending must return unsynced entries in
// enqueue order. Entries that cannot be loaded are reported with a
// *PendingError next to the ones that could.
type Store interface {
	Append(ctx context.Context, m models.QueuedMutation) error
	Pending(ctx context.Context) ([]models.QueuedMutation, error)
	PendingCount(ctx context.Context) (int, error)
	MarkSynced(ctx context.Context, id string, at time.Time) error
	PruneSynced(ctx context.Context) (int, error)
}

// Locker makes a drain exclusive across processes sharing the same backend
type Locker interface {
	TryLock(ctx context.Context) (unlock func(context.Context) error, ok bool, err error)
}

// ApplyFunc replays one mutation against the backend. It may be called more
// than once for the same mutation and must tolerate duplicates.
type ApplyFunc func(ctx context.Context, m models.QueuedMutation) error

// MutationError pairs a mutation with the error that kept it queued
type MutationError struct {
	Mutation models.QueuedMutation `json:"mutation"`
	Err      error                 `json:"-"`
	Message  string                `json:"error"`
}

// DrainResult reports the outcome of one drain
type DrainResult struct {
	Success     bool            `json:"success"`
	SyncedCount int             `json:"synced_count"`
	Errors      []MutationError `json:"errors"`
}

// Status is the queue state exposed for host-side display
type Status struct {
	IsOnline     bool       `json:"is_online"`
	PendingCount int        `json:"pending_count"`
	LastSyncTime *time.Time `json:"last_sync_time"`
}

// PendingError lists queued entries a Store could not load. They stay
// queued and are reported by every drain until repaired.
type PendingError struct {
	Skipped []MutationError
}

func (e *PendingError) Error() string {
	return fmt.Sprintf("%d queued mutations could not be loaded", len(e.Skipped))
}

// Option configures a Queue
type Option func(*Queue)

// WithClock overrides the clock used for enqueue and sync timestamps
func WithClock(c clock.Clock) Option {
	return func(q *Queue) { q.clock = c }
}

// WithLocker guards drains with a distributed lock
func WithLocker(l Locker) Option {
	return func(q *Queue) { q.locker = l }
}

// WithLogger sets the queue logger
func WithLogger(l *zap.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithOnline sets the initial connectivity state (default online)
func WithOnline(online bool) Option {
	return func(q *Queue) { q.online = online }
}

// WithSyncedHook registers a callback invoked after each mutation is marked synced
func WithSyncedHook(fn func(context.Context, models.QueuedMutation)) Option {
	return func(q *Queue) { q.onSynced = fn }
}

// Queue buffers mutations made while disconnected and replays them in FIFO
// order once connectivity returns. Enqueue and Drain are mutually exclusive.
type Queue struct {
	mu     sync.Mutex
	store  Store
	apply  ApplyFunc
	clock  clock.Clock
	locker Locker
	logger *zap.Logger

	onSynced func(context.Context, models.QueuedMutation)

	stateMu  sync.Mutex
	online   bool
	lastSync time.Time
	// set while an online queue still owes a drain that did not complete
	retry bool
}

// New creates a queue over store. apply is used for drains triggered by
// connectivity transitions.
func New(store Store, apply ApplyFunc, opts ...Option) *Queue {
	q := &Queue{
		store:  store,
		apply:  apply,
		clock:  clock.Real{},
		online: true,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.logger == nil {
		q.logger = util.ComponentLogger("queue")
	}
	return q
}

// Enqueue appends a mutation and returns the number of pending mutations
func (q *Queue) Enqueue(ctx context.Context, payload models.MutationPayload) (int, error) {
	switch payload.(type) {
	case models.AddPayload, models.UpdatePayload, models.RemovePayload:
	default:
		return 0, fmt.Errorf("%w: %T", ErrUnknownAction, payload)
	}

	m := models.QueuedMutation{
		ID:         uuid.New().String(),
		Action:     payload.Action(),
		Payload:    payload,
		EnqueuedAt: q.clock.Now(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.Append(ctx, m); err != nil {
		return 0, fmt.Errorf("failed to persist mutation: %w", err)
	}

	count, err := q.store.PendingCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending mutations: %w", err)
	}

	util.MutationsEnqueuedTotal.WithLabelValues(string(m.Action)).Inc()
	util.PendingMutations.Set(float64(count))
	q.logger.Debug("Mutation enqueued",
		zap.String("mutation_id", m.ID),
		zap.String("action", string(m.Action)),
		zap.Int("pending", count))
	return count, nil
}

// Drain replays every unsynced mutation through apply, in enqueue order.
// A failing mutation is recorded and left queued; the drain continues with
// the next one. Successfully synced mutations are pruned afterwards.
func (q *Queue) Drain(ctx context.Context, apply ApplyFunc) (DrainResult, error) {
	if !q.IsOnline() {
		util.DrainsTotal.WithLabelValues("offline").Inc()
		return DrainResult{}, ErrOffline
	}
	if apply == nil {
		apply = q.apply
	}
	if apply == nil {
		return DrainResult{}, ErrNoApplyFunc
	}

	ctx, span := util.StartSpan(ctx, "Queue.Drain")
	defer span.End()

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.locker != nil {
		unlock, ok, err := q.locker.TryLock(ctx)
		if err != nil {
			util.DrainsTotal.WithLabelValues("error").Inc()
			return DrainResult{}, fmt.Errorf("failed to acquire drain lock: %w", err)
		}
		if !ok {
			util.DrainsTotal.WithLabelValues("locked").Inc()
			return DrainResult{}, ErrDrainInProgress
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				q.logger.Warn("Failed to release drain lock", zap.Error(err))
			}
		}()
	}

	result := DrainResult{Errors: []MutationError{}}

	pending, err := q.store.Pending(ctx)
	var loadErr *PendingError
	if errors.As(err, &loadErr) {
		for _, skipped := range loadErr.Skipped {
			q.logger.Error("Queued mutation cannot be loaded",
				zap.String("mutation_id", skipped.Mutation.ID),
				zap.Error(skipped.Err))
		}
		result.Errors = append(result.Errors, loadErr.Skipped...)
		util.MutationsFailedTotal.Add(float64(len(loadErr.Skipped)))
		err = nil
	}
	if err != nil {
		util.DrainsTotal.WithLabelValues("error").Inc()
		util.RecordError(span, err)
		return DrainResult{}, fmt.Errorf("failed to load pending mutations: %w", err)
	}
	span.SetAttributes(attribute.Int("queue.pending", len(pending)))
	var ctxErr error

	for _, m := range pending {
		if ctxErr = ctx.Err(); ctxErr != nil {
			break
		}

		if err := safeApply(ctx, apply, m); err != nil {
			result.Errors = append(result.Errors, mutationError(m, err))
			util.MutationsFailedTotal.Inc()
			q.logger.Warn("Mutation replay failed",
				zap.String("mutation_id", m.ID),
				zap.String("action", string(m.Action)),
				zap.Error(err))
			continue
		}

		at := q.clock.Now()
		if err := q.store.MarkSynced(ctx, m.ID, at); err != nil {
			result.Errors = append(result.Errors, mutationError(m, fmt.Errorf("failed to mark synced: %w", err)))
			util.MutationsFailedTotal.Inc()
			continue
		}

		m.Synced = true
		m.SyncedAt = &at
		result.SyncedCount++
		util.MutationsSyncedTotal.Inc()
		if q.onSynced != nil {
			q.onSynced(ctx, m)
		}
	}

	if result.SyncedCount > 0 {
		if _, err := q.store.PruneSynced(context.WithoutCancel(ctx)); err != nil {
			q.logger.Warn("Failed to prune synced mutations", zap.Error(err))
		}
		q.stateMu.Lock()
		q.lastSync = q.clock.Now()
		q.stateMu.Unlock()
	}

	if count, err := q.store.PendingCount(context.WithoutCancel(ctx)); err == nil {
		util.PendingMutations.Set(float64(count))
	}

	result.Success = len(result.Errors) == 0 && ctxErr == nil
	q.stateMu.Lock()
	q.retry = !result.Success
	q.stateMu.Unlock()
	if result.Success {
		util.DrainsTotal.WithLabelValues("ok").Inc()
	} else {
		util.DrainsTotal.WithLabelValues("partial").Inc()
	}

	q.logger.Info("Drain completed",
		zap.Int("attempted", len(pending)),
		zap.Int("synced", result.SyncedCount),
		zap.Int("failed", len(result.Errors)))
	return result, ctxErr
}

// SetOnline records a connectivity transition. Going from offline to online
// drains the queue and returns the drain result. An online signal while
// already online drains only if an earlier drain did not complete. Any other
// signal returns nil.
func (q *Queue) SetOnline(ctx context.Context, online bool) (*DrainResult, error) {
	q.stateMu.Lock()
	wasOnline := q.online
	q.online = online
	owed := q.retry
	q.stateMu.Unlock()

	if wasOnline != online {
		q.logger.Info("Connectivity changed", zap.Bool("online", online))
	}
	if !online || (wasOnline && !owed) {
		return nil, nil
	}

	return q.drainOwed(ctx)
}

// Resume drains the queue when it is online and holds unsynced mutations,
// such as a backlog persisted before a restart. It returns nil when there
// was nothing to do.
func (q *Queue) Resume(ctx context.Context) (*DrainResult, error) {
	if !q.IsOnline() {
		return nil, nil
	}
	count, err := q.store.PendingCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count pending mutations: %w", err)
	}
	if count == 0 {
		q.stateMu.Lock()
		q.retry = false
		q.stateMu.Unlock()
		return nil, nil
	}
	return q.drainOwed(ctx)
}

// RetryOwed reports whether the last drain attempt did not complete
func (q *Queue) RetryOwed() bool {
	q.stateMu.Lock()
	defer q.stateMu.Unlock()
	return q.retry
}

// drainOwed drains with the configured apply function and keeps the retry
// flag set when the drain could not run at all
func (q *Queue) drainOwed(ctx context.Context) (*DrainResult, error) {
	result, err := q.Drain(ctx, nil)
	if err != nil && !errors.Is(err, ErrOffline) {
		q.stateMu.Lock()
		q.retry = true
		q.stateMu.Unlock()
	}
	return &result, err
}

// IsOnline reports the last connectivity state seen
func (q *Queue) IsOnline() bool {
	q.stateMu.Lock()
	defer q.stateMu.Unlock()
	return q.online
}

// Status returns the queue state for display
func (q *Queue) Status(ctx context.Context) (Status, error) {
	count, err := q.store.PendingCount(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("failed to count pending mutations: %w", err)
	}

	q.stateMu.Lock()
	defer q.stateMu.Unlock()

	status := Status{IsOnline: q.online, PendingCount: count}
	if !q.lastSync.IsZero() {
		t := q.lastSync
		status.LastSyncTime = &t
	}
	return status, nil
}

func safeApply(ctx context.Context, apply ApplyFunc, m models.QueuedMutation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("apply panicked: %v", r)
		}
	}()
	return apply(ctx, m)
}

func mutationError(m models.QueuedMutation, err error) MutationError {
	return MutationError{Mutation: m, Err: err, Message: err.Error()}
}
