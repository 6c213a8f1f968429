package worker

import (
	"context"
	"errors"
	"fmt"

	"expiry-compliance/internal/broker"
	"expiry-compliance/internal/engine"
	"expiry-compliance/internal/models"
	"expiry-compliance/internal/queue"
	"expiry-compliance/internal/util"

	"go.uber.org/zap"
)

// MessageSource is the consuming side of the event stream
type MessageSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// Engines resolves the engines a connectivity signal applies to
type Engines interface {
	Get(accountID string) (*engine.Engine, error)
	All() []*engine.Engine
}

// ConnectivityWorker feeds the host's network-status signals into the
// offline queues. A signal without an account applies to every engine.
type ConnectivityWorker struct {
	consumer     MessageSource
	eventHandler *broker.EventHandler
	engines      Engines
	logger       *zap.Logger
}

// NewConnectivityWorker creates a new connectivity worker
func NewConnectivityWorker(consumer MessageSource, engines Engines) *ConnectivityWorker {
	w := &ConnectivityWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		engines:      engines,
		logger:       util.ComponentLogger("connectivity-worker"),
	}
	w.eventHandler.OnConnectivityChanged(w.HandleConnectivityChanged)
	return w
}

// Start consumes connectivity events until ctx is cancelled
func (w *ConnectivityWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting connectivity worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *ConnectivityWorker) Stop() error {
	w.logger.Info("Stopping connectivity worker")
	return w.consumer.Close()
}

// HandleConnectivityChanged applies one connectivity transition
func (w *ConnectivityWorker) HandleConnectivityChanged(ctx context.Context, event *models.ConnectivityChangedEvent) error {
	ctx, span := util.StartSpan(ctx, "ConnectivityWorker.HandleConnectivityChanged")
	defer span.End()

	targets := w.engines.All()
	if event.AccountID != "" {
		e, err := w.engines.Get(event.AccountID)
		if err != nil {
			return err
		}
		targets = []*engine.Engine{e}
	}

	var errs []error
	for _, e := range targets {
		result, err := e.SetOnline(ctx, event.Online)
		if errors.Is(err, queue.ErrDrainInProgress) {
			w.logger.Info("Drain already running elsewhere, retrying on a later signal or tick", zap.String("account_id", e.AccountID()))
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("account %s: %w", e.AccountID(), err))
			continue
		}
		if result != nil {
			w.logger.Info("Reconnect drain finished",
				zap.String("account_id", e.AccountID()),
				zap.Int("synced", result.SyncedCount),
				zap.Int("failed", len(result.Errors)))
		}
	}

	if err := errors.Join(errs...); err != nil {
		util.RecordError(span, err)
		return err
	}
	return nil
}
