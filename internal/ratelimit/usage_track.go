package ratelimit

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/quotaflow/internal/config"
	"github.com/smallbiznis/quotaflow/internal/subject"
)

const (
	keyUsageTrackSubject = "usage:track:%s"
	lockQuotaAlerts      = "quota:alerts:%s:%s"
)

// UsageTrackLimiter throttles POST /usage/track per subject and serializes
// alert evaluation per (subject, quota type). A nil or disabled limiter
// allows everything.
type UsageTrackLimiter struct {
	bucket *TokenBucket
	locker *Locker

	rateLimit bool
	rate      float64
	burst     int
	lockTTL   time.Duration
}

func NewUsageTrackLimiter(cfg config.Config, client *redis.Client) *UsageTrackLimiter {
	if client == nil {
		return nil
	}
	return &UsageTrackLimiter{
		bucket:    NewTokenBucket(client),
		locker:    NewLocker(client),
		rateLimit: cfg.UsageTrack.RateLimitEnabled && cfg.UsageTrack.Rate > 0 && cfg.UsageTrack.Burst > 0,
		rate:      cfg.UsageTrack.Rate,
		burst:     cfg.UsageTrack.Burst,
		lockTTL:   cfg.UsageTrack.AlertLockTTL,
	}
}

func (l *UsageTrackLimiter) Enabled() bool {
	return l != nil && l.rateLimit
}

// Allow returns nil when rate limiting is off.
func (l *UsageTrackLimiter) Allow(ctx context.Context, subj subject.Subject) (*RateLimitResult, error) {
	if !l.Enabled() {
		return nil, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyUsageTrackSubject, subj.Key()), l.rate, l.burst)
}

// LockAlerts blocks until the alert lock for subj/quotaType is held or ctx
// expires. The returned func releases it.
func (l *UsageTrackLimiter) LockAlerts(ctx context.Context, subj subject.Subject, quotaType string) (func(), error) {
	if l == nil || l.locker == nil || l.lockTTL <= 0 {
		return func() {}, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, l.lockTTL)
	defer cancel()

	lease, err := l.locker.AcquireWait(waitCtx, fmt.Sprintf(lockQuotaAlerts, subj.Key(), quotaType), l.lockTTL, 10*time.Millisecond)
	if err != nil {
		return func() {}, err
	}
	return func() {
		_ = lease.Release(context.WithoutCancel(ctx))
	}, nil
}
