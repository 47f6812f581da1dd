package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/quotaflow/internal/clock"
	"github.com/smallbiznis/quotaflow/internal/config"
	"github.com/smallbiznis/quotaflow/internal/migration"
	obsmetrics "github.com/smallbiznis/quotaflow/internal/observability/metrics"
	quotadomain "github.com/smallbiznis/quotaflow/internal/quota/domain"
	quotarepository "github.com/smallbiznis/quotaflow/internal/quota/repository"
	quotaservice "github.com/smallbiznis/quotaflow/internal/quota/service"
	"github.com/smallbiznis/quotaflow/internal/subject"
	usagedomain "github.com/smallbiznis/quotaflow/internal/usage/domain"
	usagerepository "github.com/smallbiznis/quotaflow/internal/usage/repository"
	"github.com/smallbiznis/quotaflow/pkg/db"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type harness struct {
	db       *gorm.DB
	clock    *clock.FakeClock
	quotaSvc quotadomain.Service
	registry *prometheus.Registry
	sched    *Scheduler
}

func newHarness(t *testing.T, cfg Config, client *redis.Client) *harness {
	t.Helper()
	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migration.AutoMigrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	node, err := snowflake.NewNode(5)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	clk := clock.NewFakeClock(time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC))
	quotaSvc := quotaservice.New(quotaservice.Params{
		DB:      conn,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   clk,
		Repo:    quotarepository.Provide(),
		Pricing: config.NewStaticPricingConfig(config.DefaultPricingConfig()),
	})

	registry := prometheus.NewRegistry()
	sched, err := New(Params{
		DB:         conn,
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      clk,
		QuotaSvc:   quotaSvc,
		UsageRepo:  usagerepository.Provide(),
		Config:     cfg,
		Redis:      client,
		JobMetrics: obsmetrics.NewSchedulerMetrics(registry, obsmetrics.Config{ServiceName: "quotaflow", Environment: "test"}),
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	return &harness{db: conn, clock: clk, quotaSvc: quotaSvc, registry: registry, sched: sched}
}

func (h *harness) provision(t *testing.T, subj subject.Subject, quotaType quotadomain.QuotaType, period quotadomain.ResetPeriod, usage int64) {
	t.Helper()
	ctx := context.Background()
	if _, err := h.quotaSvc.SetLimit(ctx, quotadomain.SetLimitRequest{
		Subject: subj, QuotaType: quotaType, LimitValue: 1000, ResetPeriod: period,
	}); err != nil {
		t.Fatalf("set limit: %v", err)
	}
	if _, err := h.quotaSvc.Increment(ctx, subj, quotaType, usage); err != nil {
		t.Fatalf("increment: %v", err)
	}
}

func (h *harness) usage(t *testing.T, subj subject.Subject, quotaType quotadomain.QuotaType) int64 {
	t.Helper()
	quota, err := h.quotaSvc.Get(context.Background(), subj, quotaType)
	if err != nil || quota == nil {
		t.Fatalf("get quota: %v", err)
	}
	return quota.CurrentUsage
}

func TestResetPeriodOnlyTouchesStaleCohort(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)
	subj := subject.User(1)

	// provisioned in February
	h.clock.Set(time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC))
	h.provision(t, subj, quotadomain.QuotaAPICalls, quotadomain.ResetMonthly, 400)
	h.provision(t, subj, quotadomain.QuotaExports, quotadomain.ResetYearly, 7)

	h.clock.Set(time.Date(2026, 3, 1, 0, 0, 5, 0, time.UTC))
	ctx := context.Background()

	count, err := h.sched.ResetPeriod(ctx, quotadomain.ResetMonthly)
	if err != nil {
		t.Fatalf("reset monthly: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 monthly reset, got %d", count)
	}

	count, err = h.sched.ResetPeriod(ctx, quotadomain.ResetMonthly)
	if err != nil {
		t.Fatalf("reset monthly again: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected second run to reset nothing, got %d", count)
	}

	count, err = h.sched.ResetPeriod(ctx, quotadomain.ResetYearly)
	if err != nil {
		t.Fatalf("reset yearly: %v", err)
	}
	if count != 0 {
		t.Fatalf("yearly cohort reset within its window: %d", count)
	}

	if got := h.usage(t, subj, quotadomain.QuotaAPICalls); got != 0 {
		t.Fatalf("expected monthly usage reset, got %d", got)
	}
	if got := h.usage(t, subj, quotadomain.QuotaExports); got != 7 {
		t.Fatalf("expected yearly usage kept, got %d", got)
	}
}

func TestRunOnceRecordsJobMetrics(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)
	h.clock.Set(time.Date(2026, 3, 19, 23, 0, 0, 0, time.UTC))
	h.provision(t, subject.Organization(2), quotadomain.QuotaEmails, quotadomain.ResetDaily, 50)

	h.clock.Set(time.Date(2026, 3, 20, 0, 1, 0, 0, time.UTC))
	if err := h.sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	if got := h.usage(t, subject.Organization(2), quotadomain.QuotaEmails); got != 0 {
		t.Fatalf("expected daily usage reset, got %d", got)
	}
	if got := testutil.CollectAndCount(h.registry, "quotaflow_scheduler_job_runs_total"); got != 5 {
		t.Fatalf("expected 5 job series, got %d", got)
	}
	if got := counterValue(t, h.registry, "quotaflow_scheduler_quotas_reset_total", map[string]string{"job": resetJobName(quotadomain.ResetDaily)}); got != 1 {
		t.Fatalf("expected 1 row reset, got %v", got)
	}
}

func TestCloseUsagePeriodsDrainsInBatches(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BatchSize = 1
	h := newHarness(t, cfg, nil)
	repo := usagerepository.Provide()
	ctx := context.Background()

	for i, at := range []time.Time{
		time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 2, 5, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC),
	} {
		start, end := usagedomain.BillingPeriod(at)
		if err := repo.Insert(ctx, h.db, &usagedomain.UsageEvent{
			ID:                 snowflake.ID(i + 1),
			SubjectType:        subject.TypeUser,
			SubjectID:          9,
			EventType:          usagedomain.EventAPICall,
			Quantity:           1,
			Metadata:           datatypes.JSONMap{},
			BillingPeriodStart: start,
			BillingPeriodEnd:   end,
			CreatedAt:          at,
		}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	count, err := h.sched.CloseUsagePeriods(ctx)
	if err != nil {
		t.Fatalf("close usage: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 events closed, got %d", count)
	}
}

func TestRunJobTimeoutIsSoft(t *testing.T) {
	cfg := DefaultConfig()
	cfg.JobTimeout = 5 * time.Millisecond
	h := newHarness(t, cfg, nil)

	err := h.sched.runJob(context.Background(), "timeout_job", func(ctx context.Context) (int64, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got := counterValue(t, h.registry, "quotaflow_scheduler_job_errors_total", map[string]string{"job": "timeout_job", "reason": obsmetrics.SchedulerJobReasonDeadlineExceeded}); got != 1 {
		t.Fatalf("expected timeout error count 1, got %v", got)
	}
}

func TestRunJobSkipsWhenLockHeld(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	h := newHarness(t, DefaultConfig(), client)
	if err := mr.Set("quotaflow:lock:scheduler:job:held_job", "other-instance"); err != nil {
		t.Fatalf("seed lock: %v", err)
	}

	ran := false
	err := h.sched.runJob(context.Background(), "held_job", func(context.Context) (int64, error) {
		ran = true
		return 0, nil
	})
	if err != nil {
		t.Fatalf("run job: %v", err)
	}
	if ran {
		t.Fatal("job ran while another instance held the lock")
	}

	err = h.sched.runJob(context.Background(), "free_job", func(context.Context) (int64, error) {
		ran = true
		return 0, nil
	})
	if err != nil || !ran {
		t.Fatalf("expected free job to run, err=%v", err)
	}
	if mr.Exists("quotaflow:lock:scheduler:job:free_job") {
		t.Fatal("lock not released")
	}
}

func TestStartSchedulesConfiguredJobs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ResetSpecs = map[quotadomain.ResetPeriod]string{quotadomain.ResetMonthly: "0 0 1 * *"}
	h := newHarness(t, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := h.sched.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer h.sched.Stop()

	next, ok := h.sched.NextRun(resetJobName(quotadomain.ResetMonthly))
	if !ok {
		t.Fatal("monthly reset not scheduled")
	}
	if next.Day() != 1 || next.Hour() != 0 {
		t.Fatalf("unexpected next run %s", next)
	}
	if _, ok := h.sched.NextRun(resetJobName(quotadomain.ResetDaily)); ok {
		t.Fatal("daily reset scheduled without a spec")
	}
	if _, ok := h.sched.NextRun(jobCloseUsage); !ok {
		t.Fatal("usage close not scheduled")
	}
}

func TestStartRejectsBadSpec(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CloseSpec = "every tuesday"
	h := newHarness(t, cfg, nil)

	if err := h.sched.Start(context.Background()); err == nil {
		h.sched.Stop()
		t.Fatal("expected invalid spec error")
	}
}

func counterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if matchLabels(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func matchLabels(metric *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, pair := range metric.GetLabel() {
		if want, ok := labels[pair.GetName()]; ok {
			if pair.GetValue() != want {
				return false
			}
			matched++
		}
	}
	return matched == len(labels)
}
