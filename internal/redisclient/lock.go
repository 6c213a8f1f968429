package redisclient

import (
	"context"
	"sync"
	"time"

	"expiry-compliance/internal/util"

	"go.uber.org/zap"
)

// DefaultDrainLockTTL bounds how long a crashed drainer can block others
const DefaultDrainLockTTL = 2 * time.Minute

// LockBackend is the token lock API DrainLock runs on; *Client implements it
type LockBackend interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	ExtendLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// DrainLock makes queue drains of one account exclusive across processes.
// A held lock is extended every ttl/3 until released, so a drain may run
// longer than the ttl while a crashed holder still frees the lock after it.
type DrainLock struct {
	backend LockBackend
	key     string
	ttl     time.Duration
	logger  *zap.Logger
}

// NewDrainLock returns a lock over the drain of accountID
func NewDrainLock(backend LockBackend, accountID string, ttl time.Duration) *DrainLock {
	if ttl <= 0 {
		ttl = DefaultDrainLockTTL
	}
	return &DrainLock{
		backend: backend,
		key:     drainLockKey(accountID),
		ttl:     ttl,
		logger:  util.ComponentLogger("drain-lock"),
	}
}

// TryLock takes the lock without waiting. The returned func stops the
// renewal and releases the lock.
func (l *DrainLock) TryLock(ctx context.Context) (func(context.Context) error, bool, error) {
	token, ok, err := l.backend.AcquireLock(ctx, l.key, l.ttl)
	if err != nil || !ok {
		return nil, false, err
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.keepAlive(token, stop)
	}()

	var once sync.Once
	return func(ctx context.Context) error {
		once.Do(func() {
			close(stop)
			wg.Wait()
		})
		return l.backend.ReleaseLock(ctx, l.key, token)
	}, true, nil
}

func (l *DrainLock) keepAlive(token string, stop <-chan struct{}) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			held, err := l.backend.ExtendLock(ctx, l.key, token, l.ttl)
			cancel()
			if err != nil {
				l.logger.Warn("Failed to extend drain lock", zap.String("key", l.key), zap.Error(err))
				continue
			}
			if !held {
				l.logger.Error("Drain lock lost while draining", zap.String("key", l.key))
				return
			}
		}
	}
}

func drainLockKey(accountID string) string {
	return "queue-drain:" + accountID
}
