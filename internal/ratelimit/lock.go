package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "quotaflow:lock:"

// Both scripts only touch the key while ARGV[1] still owns it.
const (
	leaseReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`
	leaseExtendScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`
)

var (
	ErrLockHeld          = errors.New("lock_held")
	ErrLockNotConfigured = errors.New("lock_not_configured")
	ErrLeaseLost         = errors.New("lease_lost")
)

// Locker hands out single-holder leases on redis keys.
type Locker struct {
	client  *redis.Client
	release *redis.Script
	extend  *redis.Script
}

// Lease is a held lock. The zero of *Lease is a no-op lease.
type Lease struct {
	locker *Locker
	key    string
	token  string
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client:  client,
		release: redis.NewScript(leaseReleaseScript),
		extend:  redis.NewScript(leaseExtendScript),
	}
}

// Acquire takes name for ttl, or returns ErrLockHeld.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lease, error) {
	if l == nil || l.client == nil {
		return nil, ErrLockNotConfigured
	}
	if name == "" {
		return nil, errors.New("lock name is empty")
	}
	if ttl <= 0 {
		return nil, errors.New("lock ttl must be positive")
	}

	lease := &Lease{locker: l, key: lockKeyPrefix + name, token: uuid.NewString()}
	ok, err := l.client.SetNX(ctx, lease.key, lease.token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return lease, nil
}

// AcquireWait retries Acquire every interval until it succeeds or ctx ends.
func (l *Locker) AcquireWait(ctx context.Context, name string, ttl, interval time.Duration) (*Lease, error) {
	for {
		lease, err := l.Acquire(ctx, name, ttl)
		if !errors.Is(err, ErrLockHeld) {
			return lease, err
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// Extend pushes the expiry to ttl from now. ErrLeaseLost means the key
// expired or was taken by someone else.
func (le *Lease) Extend(ctx context.Context, ttl time.Duration) error {
	if le == nil {
		return nil
	}
	n, err := le.locker.extend.Run(ctx, le.locker.client, []string{le.key}, le.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (le *Lease) Release(ctx context.Context) error {
	if le == nil {
		return nil
	}
	return le.locker.release.Run(ctx, le.locker.client, []string{le.key}, le.token).Err()
}

// KeepAlive extends the lease every ttl/2 until ctx ends.
func (le *Lease) KeepAlive(ctx context.Context, ttl time.Duration) {
	if le == nil || ttl <= 0 {
		return
	}
	ticker := time.NewTicker(ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := le.Extend(ctx, ttl); err != nil {
				return
			}
		}
	}
}
