package redisclient

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"expiry-compliance/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyLayout(t *testing.T) {
	assert.Equal(t, "lock:queue-drain:acct-1", lockKey(drainLockKey("acct-1")))
	assert.Equal(t, "idempotency:mutation:42", idempotencyKey("mutation:42"))
	assert.Equal(t, "compliance:latest:acct-1", bundleKey("acct-1"))
}

func TestReleaseScriptComparesToken(t *testing.T) {
	assert.True(t, strings.Contains(releaseLockScript, `redis.call("GET", KEYS[1]) == ARGV[1]`))
}

func TestNewDrainLockDefaultTTL(t *testing.T) {
	lock := NewDrainLock(&Client{}, "acct-1", 0)
	assert.Equal(t, DefaultDrainLockTTL, lock.ttl)
}

func TestDrainLockExclusive(t *testing.T) {
	t.Skip("Integration test - requires redis")

	client, err := NewClient("localhost:6379", "", 0)
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	first := NewDrainLock(client, "lock-test", time.Minute)
	second := NewDrainLock(client, "lock-test", time.Minute)

	unlock, ok, err := first.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = second.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, unlock(ctx))

	unlock, ok, err = second.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, unlock(ctx))
}

func TestLatestBundleRoundTrip(t *testing.T) {
	t.Skip("Integration test - requires redis")

	client, err := NewClient("localhost:6379", "", 0)
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	missing, err := client.GetLatestBundle(ctx, "no-such-account")
	require.NoError(t, err)
	assert.Nil(t, missing)

	bundle := models.Bundle{SkippedItems: 2, RiskScore: models.RiskScoreSnapshot{Score: 40, Band: models.BandMedium}}
	require.NoError(t, client.SetLatestBundle(ctx, "bundle-test", bundle, time.Minute))

	got, err := client.GetLatestBundle(ctx, "bundle-test")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.SkippedItems)
	assert.Equal(t, 40, got.RiskScore.Score)
}

type fakeBackend struct {
	mu       sync.Mutex
	owner    string
	extends  int
	released int
	lost     bool
}

func (b *fakeBackend) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.owner != "" {
		return "", false, nil
	}
	b.owner = "token-1"
	return b.owner, true, nil
}

func (b *fakeBackend) ExtendLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lost || b.owner != token {
		return false, nil
	}
	b.extends++
	return true, nil
}

func (b *fakeBackend) ReleaseLock(ctx context.Context, key, token string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.owner == token {
		b.owner = ""
	}
	b.released++
	return nil
}

func (b *fakeBackend) extendCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.extends
}

func TestDrainLockExtendsWhileHeld(t *testing.T) {
	backend := &fakeBackend{}
	lock := NewDrainLock(backend, "acct-1", 30*time.Millisecond)
	ctx := context.Background()

	unlock, ok, err := lock.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = lock.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Eventually(t, func() bool { return backend.extendCount() >= 3 }, time.Second, 5*time.Millisecond)

	require.NoError(t, unlock(ctx))
	extended := backend.extendCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, extended, backend.extendCount())
	assert.Equal(t, 1, backend.released)

	_, ok, err = lock.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDrainLockStopsExtendingWhenLost(t *testing.T) {
	backend := &fakeBackend{lost: true}
	lock := NewDrainLock(backend, "acct-1", 30*time.Millisecond)

	unlock, ok, err := lock.TryLock(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, unlock(context.Background()))
	assert.Zero(t, backend.extendCount())
}

func TestExtendScriptComparesToken(t *testing.T) {
	assert.Contains(t, extendLockScript, `redis.call("GET", KEYS[1]) == ARGV[1]`)
	assert.Contains(t, extendLockScript, "PEXPIRE")
}
