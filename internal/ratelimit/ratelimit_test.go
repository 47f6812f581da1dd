package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/quotaflow/internal/config"
	"github.com/smallbiznis/quotaflow/internal/subject"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestLeaseExclusive(t *testing.T) {
	mr, client := newTestClient(t)
	locker := NewLocker(client)
	ctx := context.Background()

	lease, err := locker.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	assert.True(t, mr.Exists("quotaflow:lock:k"))

	_, err = locker.Acquire(ctx, "k", time.Second)
	assert.ErrorIs(t, err, ErrLockHeld)

	// a lease for a stolen key must not release the new holder
	stale := &Lease{locker: locker, key: "quotaflow:lock:k", token: "other"}
	require.NoError(t, stale.Release(ctx))
	_, err = locker.Acquire(ctx, "k", time.Second)
	assert.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, lease.Release(ctx))
	_, err = locker.Acquire(ctx, "k", time.Second)
	assert.NoError(t, err)
}

func TestLeaseExtend(t *testing.T) {
	mr, client := newTestClient(t)
	locker := NewLocker(client)
	ctx := context.Background()

	lease, err := locker.Acquire(ctx, "job", time.Second)
	require.NoError(t, err)

	require.NoError(t, lease.Extend(ctx, time.Minute))
	assert.Greater(t, mr.TTL("quotaflow:lock:job"), 30*time.Second)

	mr.FastForward(2 * time.Minute)
	assert.ErrorIs(t, lease.Extend(ctx, time.Minute), ErrLeaseLost)

	var none *Lease
	assert.NoError(t, none.Extend(ctx, time.Minute))
	assert.NoError(t, none.Release(ctx))
}

func TestAcquireWaitHonoursContext(t *testing.T) {
	_, client := newTestClient(t)
	locker := NewLocker(client)

	_, err := locker.Acquire(context.Background(), "held", time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = locker.AcquireWait(ctx, "held", time.Minute, 5*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNilLockerIsNotConfigured(t *testing.T) {
	_, err := NewLocker(nil).Acquire(context.Background(), "k", time.Second)
	assert.ErrorIs(t, err, ErrLockNotConfigured)
}

func TestTokenBucketExhaustsBurst(t *testing.T) {
	_, client := newTestClient(t)
	bucket := NewTokenBucket(client)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := bucket.Allow(ctx, "bucket", 0.001, 3)
		require.NoError(t, err)
		require.True(t, res.Allowed, "request %d should be allowed", i)
	}

	res, err := bucket.Allow(ctx, "bucket", 0.001, 3)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 3, res.Limit)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
}

func TestUsageTrackLimiterNilIsPermissive(t *testing.T) {
	var limiter *UsageTrackLimiter
	res, err := limiter.Allow(context.Background(), subject.User(1))
	require.NoError(t, err)
	assert.Nil(t, res)

	release, err := limiter.LockAlerts(context.Background(), subject.User(1), "api_calls")
	require.NoError(t, err)
	release()
}

func TestUsageTrackLimiterPerSubject(t *testing.T) {
	_, client := newTestClient(t)
	cfg := config.Config{UsageTrack: config.UsageTrackConfig{
		RateLimitEnabled: true,
		Rate:             0.001,
		Burst:            1,
		AlertLockTTL:     time.Second,
	}}
	limiter := NewUsageTrackLimiter(cfg, client)
	ctx := context.Background()

	res, err := limiter.Allow(ctx, subject.Organization(1))
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = limiter.Allow(ctx, subject.Organization(1))
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	res, err = limiter.Allow(ctx, subject.Organization(2))
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestLockAlertsReleases(t *testing.T) {
	mr, client := newTestClient(t)
	limiter := NewUsageTrackLimiter(config.Config{UsageTrack: config.UsageTrackConfig{AlertLockTTL: time.Second}}, client)
	ctx := context.Background()

	release, err := limiter.LockAlerts(ctx, subject.User(5), "api_calls")
	require.NoError(t, err)
	assert.True(t, mr.Exists("quotaflow:lock:quota:alerts:user:5:api_calls"))

	release()
	assert.False(t, mr.Exists("quotaflow:lock:quota:alerts:user:5:api_calls"))
}
