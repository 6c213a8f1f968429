package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"expiry-compliance/internal/clock"
	"expiry-compliance/internal/compliance"
	"expiry-compliance/internal/models"
	"expiry-compliance/internal/util"

	"go.uber.org/zap"
)

// DefaultInterval is the cadence of periodic re-evaluation
const DefaultInterval = 15 * time.Minute

var (
	ErrInvalidInterval = errors.New("scheduler interval must be positive")
	ErrInvalidTimezone = errors.New("invalid scheduler timezone")
	ErrNilHandler      = errors.New("scheduler result handler is nil")
)

// Source is the host's read view of items, settings and the removal audit trail
type Source interface {
	Items(ctx context.Context) ([]models.Item, error)
	Settings(ctx context.Context) (models.Settings, error)
	RemovalAuditEntries(ctx context.Context) ([]models.AuditEntry, error)
}

// Handler receives one bundle per evaluation
type Handler func(models.Bundle)

// Config controls the scheduler cadence and delivery buffers
type Config struct {
	Interval     time.Duration
	ResultBuffer int
	ErrorBuffer  int
}

// Status is the scheduler state exposed for host-side display
type Status struct {
	Running       bool       `json:"running"`
	LastCheckTime *time.Time `json:"last_check_time"`
	NextCheckTime *time.Time `json:"next_check_time"`
}

// TickError wraps a failure of one evaluation
type TickError struct {
	At  time.Time
	Err error
}

func (e *TickError) Error() string {
	return fmt.Sprintf("tick at %s failed: %v", e.At.Format(time.RFC3339), e.Err)
}

func (e *TickError) Unwrap() error {
	return e.Err
}

// Scheduler re-evaluates the host's items on a fixed interval.
//
// At most one evaluation runs at a time. Bundles from periodic ticks pass
// through a bounded drop-oldest buffer to a delivery goroutine, so a slow
// handler never delays the timer.
type Scheduler struct {
	cfg    Config
	clock  clock.Clock
	source Source
	logger *zap.Logger

	lifecycle sync.Mutex

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	cancel    context.CancelFunc
	loopDone  chan struct{}
	lastCheck time.Time

	errs chan error
}

// New creates a stopped scheduler
func New(cfg Config, c clock.Clock, source Source, logger *zap.Logger) *Scheduler {
	if cfg.ResultBuffer <= 0 {
		cfg.ResultBuffer = 1
	}
	if cfg.ErrorBuffer <= 0 {
		cfg.ErrorBuffer = 16
	}
	if c == nil {
		c = clock.Real{}
	}
	if logger == nil {
		logger = util.ComponentLogger("scheduler")
	}

	return &Scheduler{
		cfg:    cfg,
		clock:  c,
		source: source,
		logger: logger,
		errs:   make(chan error, cfg.ErrorBuffer),
	}
}

// Start validates the configuration, performs one evaluation synchronously,
// hands the result to handler and then arms the periodic timer. Starting a
// running scheduler restarts it. handler must not call Start itself.
func (s *Scheduler) Start(ctx context.Context, handler Handler) error {
	if s.cfg.Interval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, s.cfg.Interval)
	}
	if handler == nil {
		return ErrNilHandler
	}

	settings, err := s.source.Settings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	if _, err := clock.LoadLocation(settings.Timezone); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTimezone, err)
	}

	s.Stop()

	// Ticks outlive the caller's request
	tickCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	if bundle, err := s.evaluate(tickCtx); err != nil {
		s.reportError(err)
	} else {
		s.safeHandle(handler, bundle)
	}

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.stopLocked()

	results := make(chan models.Bundle, s.cfg.ResultBuffer)
	stopCh := make(chan struct{})
	loopDone := make(chan struct{})

	s.mu.Lock()
	s.running = true
	s.stopCh = stopCh
	s.cancel = cancel
	s.loopDone = loopDone
	s.mu.Unlock()

	go s.loop(tickCtx, stopCh, loopDone, results)
	go s.deliver(stopCh, results, handler)

	s.logger.Info("Scheduler started", zap.Duration("interval", s.cfg.Interval))
	return nil
}

// Stop cancels future ticks. It is safe to call when already stopped and
// concurrently with a running tick, which is allowed to finish.
func (s *Scheduler) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.cancel()
	done := s.loopDone
	s.running = false
	s.mu.Unlock()

	<-done
	s.logger.Info("Scheduler stopped")
}

// Errors delivers tick errors. Old errors are dropped when nobody reads.
func (s *Scheduler) Errors() <-chan error {
	return s.errs
}

// Running reports whether the periodic timer is armed
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LastCheckTime is the instant of the latest successful evaluation, nil before the first
func (s *Scheduler) LastCheckTime() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastCheck.IsZero() {
		return nil
	}
	t := s.lastCheck
	return &t
}

// NextCheckTime is LastCheckTime plus the interval, nil before the first evaluation
func (s *Scheduler) NextCheckTime() *time.Time {
	last := s.LastCheckTime()
	if last == nil {
		return nil
	}
	next := last.Add(s.cfg.Interval)
	return &next
}

// Status returns the scheduler state for display
func (s *Scheduler) Status() Status {
	return Status{
		Running:       s.Running(),
		LastCheckTime: s.LastCheckTime(),
		NextCheckTime: s.NextCheckTime(),
	}
}

func (s *Scheduler) loop(ctx context.Context, stopCh <-chan struct{}, loopDone chan<- struct{}, results chan models.Bundle) {
	defer close(loopDone)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			bundle, err := s.evaluate(ctx)
			if err != nil {
				s.reportError(err)
				continue
			}
			offer(results, bundle)
		}
	}
}

func (s *Scheduler) deliver(stopCh <-chan struct{}, results <-chan models.Bundle, handler Handler) {
	for {
		select {
		case <-stopCh:
			return
		case bundle := <-results:
			select {
			case <-stopCh:
				return
			default:
			}
			s.safeHandle(handler, bundle)
		}
	}
}

func (s *Scheduler) safeHandle(handler Handler, bundle models.Bundle) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Result handler panicked", zap.Any("panic", r))
		}
	}()
	handler(bundle)
}

func (s *Scheduler) evaluate(ctx context.Context) (bundle models.Bundle, err error) {
	ctx, span := util.StartSpan(ctx, "Scheduler.evaluate")
	defer span.End()

	started := time.Now()
	now := s.clock.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("evaluation panicked: %v", r)
		}
		util.TickDuration.Observe(time.Since(started).Seconds())
		if err != nil {
			util.TicksTotal.WithLabelValues("error").Inc()
			util.RecordError(span, err)
			err = &TickError{At: now, Err: err}
		} else {
			util.TicksTotal.WithLabelValues("ok").Inc()
		}
	}()

	settings, err := s.source.Settings(ctx)
	if err != nil {
		return models.Bundle{}, fmt.Errorf("failed to load settings: %w", err)
	}
	loc, err := clock.LoadLocation(settings.Timezone)
	if err != nil {
		return models.Bundle{}, err
	}
	items, err := s.source.Items(ctx)
	if err != nil {
		return models.Bundle{}, fmt.Errorf("failed to load items: %w", err)
	}
	audit, err := s.source.RemovalAuditEntries(ctx)
	if err != nil {
		return models.Bundle{}, fmt.Errorf("failed to load removal audit entries: %w", err)
	}

	now = now.In(loc)
	bundle = compliance.Evaluate(items, audit, settings, now)

	s.mu.Lock()
	s.lastCheck = now
	s.mu.Unlock()

	if bundle.SkippedItems > 0 {
		s.logger.Warn("Items skipped for missing or malformed expiry",
			zap.Int("skipped", bundle.SkippedItems))
	}
	s.logger.Debug("Evaluation completed",
		zap.Int("items", len(items)),
		zap.Int("alerts", len(bundle.Alerts)),
		zap.Int("sla_violations", len(bundle.SLAViolations)),
		zap.Int("risk_score", bundle.RiskScore.Score))
	return bundle, nil
}

func (s *Scheduler) reportError(err error) {
	s.logger.Error("Scheduler tick failed", zap.Error(err))
	offer(s.errs, err)
}

// offer sends v without blocking, evicting the oldest buffered value when full
func offer[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
