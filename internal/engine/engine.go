package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"expiry-compliance/internal/models"
	"expiry-compliance/internal/queue"
	"expiry-compliance/internal/scheduler"
	"expiry-compliance/internal/util"

	"go.uber.org/zap"
)

var (
	ErrUnknownAccount   = errors.New("unknown account")
	ErrDuplicateAccount = errors.New("account already registered")
)

// Status is the combined state of one engine
type Status struct {
	AccountID string           `json:"account_id"`
	Scheduler scheduler.Status `json:"scheduler"`
	Queue     queue.Status     `json:"queue"`
}

// Engine is one account's compliance engine: a scheduler evaluating the
// account's items and a queue replaying its offline mutations. Instances
// share no state.
type Engine struct {
	accountID string
	scheduler *scheduler.Scheduler
	queue     *queue.Queue
	handler   scheduler.Handler
	logger    *zap.Logger

	resuming atomic.Bool
	// resumeMu orders resumeWg.Add against Wait; deliveries may outlive the scheduler's Stop
	resumeMu sync.Mutex
	resumeWg sync.WaitGroup
}

// New assembles an engine. handler receives every evaluation bundle.
func New(accountID string, s *scheduler.Scheduler, q *queue.Queue, handler scheduler.Handler) *Engine {
	return &Engine{
		accountID: accountID,
		scheduler: s,
		queue:     q,
		handler:   handler,
		logger:    util.ComponentLogger("engine").With(zap.String("account_id", accountID)),
	}
}

func (e *Engine) AccountID() string { return e.accountID }

func (e *Engine) Scheduler() *scheduler.Scheduler { return e.scheduler }

func (e *Engine) Queue() *queue.Queue { return e.queue }

// Start (re)starts the scheduler; it evaluates once before returning.
// While the queue owes a drain that did not complete, every tick retries it
// in the background.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.scheduler.Start(ctx, e.onBundle); err != nil {
		return fmt.Errorf("account %s: %w", e.accountID, err)
	}
	return nil
}

// Stop halts the scheduler and waits for a background drain retry.
// Queued mutations stay persisted.
func (e *Engine) Stop() {
	e.scheduler.Stop()

	e.resumeMu.Lock()
	defer e.resumeMu.Unlock()
	e.resumeWg.Wait()
}

// Resume drains mutations left queued while the queue is online, such as a
// backlog persisted before a restart
func (e *Engine) Resume(ctx context.Context) (*queue.DrainResult, error) {
	return e.queue.Resume(ctx)
}

func (e *Engine) onBundle(bundle models.Bundle) {
	if e.handler != nil {
		e.handler(bundle)
	}
	if !e.queue.RetryOwed() || !e.resuming.CompareAndSwap(false, true) {
		return
	}

	e.resumeMu.Lock()
	e.resumeWg.Add(1)
	e.resumeMu.Unlock()

	go func() {
		defer e.resumeWg.Done()
		defer e.resuming.Store(false)

		result, err := e.queue.Resume(context.Background())
		if err != nil {
			e.logger.Warn("Drain retry failed", zap.Error(err))
			return
		}
		if result != nil {
			e.logger.Info("Drain retried",
				zap.Int("synced", result.SyncedCount),
				zap.Int("failed", len(result.Errors)))
		}
	}()
}

// Enqueue records a mutation made while the host may be offline
func (e *Engine) Enqueue(ctx context.Context, payload models.MutationPayload) (int, error) {
	return e.queue.Enqueue(ctx, payload)
}

// Drain replays the queue with its configured apply function
func (e *Engine) Drain(ctx context.Context) (queue.DrainResult, error) {
	return e.queue.Drain(ctx, nil)
}

// SetOnline forwards a connectivity transition to the queue
func (e *Engine) SetOnline(ctx context.Context, online bool) (*queue.DrainResult, error) {
	return e.queue.SetOnline(ctx, online)
}

// Status reports scheduler and queue state
func (e *Engine) Status(ctx context.Context) (Status, error) {
	qs, err := e.queue.Status(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{AccountID: e.accountID, Scheduler: e.scheduler.Status(), Queue: qs}, nil
}

// Registry indexes running engines by account
type Registry struct {
	mu      sync.RWMutex
	engines map[string]*Engine
}

func NewRegistry() *Registry {
	return &Registry{engines: map[string]*Engine{}}
}

// Register adds an engine; an account can only be registered once
func (r *Registry) Register(e *Engine) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.engines[e.accountID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateAccount, e.accountID)
	}
	r.engines[e.accountID] = e
	return nil
}

// Get returns the engine of accountID
func (r *Registry) Get(accountID string) (*Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[accountID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, accountID)
	}
	return e, nil
}

// All returns the registered engines ordered by account
func (r *Registry) All() []*Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Engine, 0, len(r.engines))
	for _, e := range r.engines {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].accountID < out[j].accountID })
	return out
}

// StopAll stops every registered engine
func (r *Registry) StopAll() {
	for _, e := range r.All() {
		e.Stop()
	}
}
