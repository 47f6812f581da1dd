package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/smallbiznis/quotaflow/internal/clock"
	obsmetrics "github.com/smallbiznis/quotaflow/internal/observability/metrics"
	quotadomain "github.com/smallbiznis/quotaflow/internal/quota/domain"
	"github.com/smallbiznis/quotaflow/internal/ratelimit"
	usagedomain "github.com/smallbiznis/quotaflow/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	jobCloseUsage   = "usage_period_close"
	jobLockKeyspace = "scheduler:job:%s"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

// resetOrder fixes the order RunOnce walks the cohorts in.
var resetOrder = []quotadomain.ResetPeriod{
	quotadomain.ResetDaily,
	quotadomain.ResetWeekly,
	quotadomain.ResetMonthly,
	quotadomain.ResetYearly,
}

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	QuotaSvc   quotadomain.Service
	UsageRepo  usagedomain.Repository
	Config     Config                       `optional:"true"`
	Redis      *redis.Client                `optional:"true"`
	JobMetrics *obsmetrics.SchedulerMetrics `optional:"true"`
	Metrics    *obsmetrics.Metrics          `optional:"true"`
}

// Scheduler runs the periodic quota resets and closes usage of finished
// billing periods. Every job is idempotent.
type Scheduler struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	quotaSvc   quotadomain.Service
	usageRepo  usagedomain.Repository
	locker     *ratelimit.Locker
	jobMetrics *obsmetrics.SchedulerMetrics
	metrics    *obsmetrics.Metrics

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.QuotaSvc == nil || p.UsageRepo == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:         p.DB,
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		genID:      p.GenID,
		clock:      p.Clock,
		quotaSvc:   p.QuotaSvc,
		usageRepo:  p.UsageRepo,
		locker:     ratelimit.NewLocker(p.Redis),
		jobMetrics: p.JobMetrics,
		metrics:    p.Metrics,
		entries:    map[string]cron.EntryID{},
	}, nil
}

func resetJobName(period quotadomain.ResetPeriod) string {
	return "quota_reset_" + string(period)
}

// Start registers every configured job with cron and starts it. ctx bounds
// the jobs themselves; Stop ends the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return nil
	}

	logger := cronLogger{log: s.log.Sugar()}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	for _, period := range resetOrder {
		spec := s.cfg.ResetSpecs[period]
		if spec == "" {
			continue
		}
		period := period
		if err := s.addJob(c, resetJobName(period), spec, func() {
			_ = s.runReset(ctx, period)
		}); err != nil {
			return err
		}
	}
	if s.cfg.CloseSpec != "" {
		if err := s.addJob(c, jobCloseUsage, s.cfg.CloseSpec, func() {
			_ = s.runCloseUsage(ctx)
		}); err != nil {
			return err
		}
	}

	c.Start()
	s.cron = c
	s.log.Info("scheduler started", zap.Int("jobs", len(s.entries)))
	return nil
}

func (s *Scheduler) addJob(c *cron.Cron, name, spec string, fn func()) error {
	id, err := c.AddFunc(spec, fn)
	if err != nil {
		return fmt.Errorf("schedule %s %q: %w", name, spec, err)
	}
	s.entries[name] = id
	return nil
}

// Stop halts cron and waits for running jobs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.log.Info("scheduler stopped")
}

// NextRun reports when job fires next. False when the job is not scheduled
// or cron is not running.
func (s *Scheduler) NextRun(job string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return time.Time{}, false
	}
	id, ok := s.entries[job]
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

// RunOnce runs every configured job immediately, in cohort order.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var errs []error
	for _, period := range resetOrder {
		if s.cfg.ResetSpecs[period] == "" {
			continue
		}
		if err := s.runReset(ctx, period); err != nil {
			errs = append(errs, err)
		}
	}
	if s.cfg.CloseSpec != "" {
		if err := s.runCloseUsage(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) runReset(ctx context.Context, period quotadomain.ResetPeriod) error {
	return s.runJob(ctx, resetJobName(period), func(ctx context.Context) (int64, error) {
		return s.ResetPeriod(ctx, period)
	})
}

func (s *Scheduler) runCloseUsage(ctx context.Context) error {
	return s.runJob(ctx, jobCloseUsage, s.CloseUsagePeriods)
}

// ResetPeriod zeroes every counter of the cohort that has not been reset
// since the current window began.
func (s *Scheduler) ResetPeriod(ctx context.Context, period quotadomain.ResetPeriod) (int64, error) {
	if !period.Valid() {
		return 0, quotadomain.ErrInvalidResetPeriod
	}
	windowStart := period.PeriodStart(s.clock.Now())
	count, err := s.quotaSvc.Reset(ctx, quotadomain.ResetFilter{
		ResetPeriod:     period,
		LastResetBefore: &windowStart,
	})
	if err != nil {
		return 0, err
	}
	s.metrics.RecordQuotaReset(ctx, "scheduler", count)
	return count, nil
}

// CloseUsagePeriods flags events of ended billing periods as processed,
// batch by batch, until none remain.
func (s *Scheduler) CloseUsagePeriods(ctx context.Context) (int64, error) {
	now := s.clock.Now()
	var total int64
	for {
		count, err := s.usageRepo.MarkProcessed(ctx, s.db, now, s.cfg.BatchSize)
		if err != nil {
			return total, err
		}
		total += count
		if count < int64(s.cfg.BatchSize) {
			return total, nil
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) (int64, error)) error {
	release, ok := s.acquire(parent, name)
	if !ok {
		s.log.Debug("scheduler.job.skipped", zap.String("job", name), zap.String("reason", "locked"))
		return nil
	}
	defer release()

	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	ctx, run := s.ensureJobRun(ctx, name)
	s.logJobStart(ctx, run)

	count, err := fn(ctx)
	run.AddProcessed(count)
	s.jobMetrics.ObserveJob(name, s.clock.Now().Sub(start), count, err)
	if err != nil {
		run.IncError()
	}
	s.logJobFinish(ctx, run)
	if err == nil {
		return nil
	}

	// deadline is a soft failure; the next tick picks up the rest
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", s.cfg.JobTimeout),
			zap.Error(err),
		)
		return nil
	}

	s.logger(ctx).Error("job failed",
		zap.String("job", name),
		zap.String("reason", obsmetrics.ClassifySchedulerJobReason(err)),
		zap.Error(err),
	)
	return fmt.Errorf("%s: %w", name, err)
}

// acquire takes the per-job redis lease and keeps it alive until the
// returned func runs. Without redis every instance runs the job; a lock
// error is logged and the job runs anyway.
func (s *Scheduler) acquire(ctx context.Context, name string) (func(), bool) {
	if s.locker == nil {
		return func() {}, true
	}
	lease, err := s.locker.Acquire(ctx, fmt.Sprintf(jobLockKeyspace, name), s.cfg.LockTTL)
	if errors.Is(err, ratelimit.ErrLockHeld) {
		return nil, false
	}
	if err != nil {
		s.log.Warn("scheduler lock unavailable", zap.String("job", name), zap.Error(err))
		return func() {}, true
	}

	keepCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	go lease.KeepAlive(keepCtx, s.cfg.LockTTL)
	return func() {
		stop()
		_ = lease.Release(context.WithoutCancel(ctx))
	}, true
}
