package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/quotaflow/internal/clock"
	"github.com/smallbiznis/quotaflow/internal/config"
	obsmetrics "github.com/smallbiznis/quotaflow/internal/observability/metrics"
	quotadomain "github.com/smallbiznis/quotaflow/internal/quota/domain"
	"github.com/smallbiznis/quotaflow/internal/subject"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    quotadomain.Repository
	Pricing *config.PricingConfigHolder
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    quotadomain.Repository
	pricing *config.PricingConfigHolder
	metrics *obsmetrics.Metrics
}

func New(p Params) quotadomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("quota.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		pricing: p.Pricing,
		metrics: p.Metrics,
	}
}

// Get returns nil without error when the subject has no row for quotaType.
func (s *Service) Get(ctx context.Context, subj subject.Subject, quotaType quotadomain.QuotaType) (*quotadomain.UsageQuota, error) {
	if err := subj.Validate(); err != nil {
		return nil, err
	}
	if !quotaType.Valid() {
		return nil, quotadomain.ErrInvalidQuotaType
	}
	quota, err := s.repo.FindBySubject(ctx, s.db, subj, quotaType)
	if err != nil {
		return nil, fmt.Errorf("find quota: %w", err)
	}
	return quota, nil
}

func (s *Service) List(ctx context.Context, subj subject.Subject) ([]quotadomain.UsageQuota, error) {
	if err := subj.Validate(); err != nil {
		return nil, err
	}
	quotas, err := s.repo.List(ctx, s.db, subj)
	if err != nil {
		return nil, fmt.Errorf("list quotas: %w", err)
	}
	if quotas == nil {
		quotas = []quotadomain.UsageQuota{}
	}
	return quotas, nil
}

func (s *Service) Increment(ctx context.Context, subj subject.Subject, quotaType quotadomain.QuotaType, delta int64) (*quotadomain.UsageQuota, error) {
	if err := subj.Validate(); err != nil {
		return nil, err
	}
	if !quotaType.Valid() {
		return nil, quotadomain.ErrInvalidQuotaType
	}
	if delta < 1 {
		return nil, quotadomain.ErrInvalidDelta
	}

	quota, err := s.repo.Increment(ctx, s.db, subj, quotaType, delta, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("increment quota: %w", err)
	}
	return quota, nil
}

// SetLimit creates the counter or overwrites its limit. An existing row
// keeps its current usage and last reset; its reset period changes only
// when one is given.
func (s *Service) SetLimit(ctx context.Context, req quotadomain.SetLimitRequest) (*quotadomain.UsageQuota, error) {
	if err := req.Subject.Validate(); err != nil {
		return nil, err
	}
	if !req.QuotaType.Valid() {
		return nil, quotadomain.ErrInvalidQuotaType
	}
	if req.LimitValue < quotadomain.Unlimited {
		return nil, quotadomain.ErrInvalidLimit
	}
	if req.ResetPeriod != "" && !req.ResetPeriod.Valid() {
		return nil, quotadomain.ErrInvalidResetPeriod
	}

	period := req.ResetPeriod
	if period == "" {
		period = quotadomain.ResetMonthly
	}

	now := s.clock.Now()
	quota := &quotadomain.UsageQuota{
		ID:           s.genID.Generate(),
		SubjectType:  req.Subject.Type,
		SubjectID:    req.Subject.ID,
		QuotaType:    req.QuotaType,
		LimitValue:   req.LimitValue,
		CurrentUsage: 0,
		ResetPeriod:  period,
		LastReset:    now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Upsert(ctx, s.db, quota, req.ResetPeriod != ""); err != nil {
		return nil, fmt.Errorf("upsert quota: %w", err)
	}

	stored, err := s.repo.FindBySubject(ctx, s.db, req.Subject, req.QuotaType)
	if err != nil {
		return nil, fmt.Errorf("reload quota: %w", err)
	}
	if stored == nil {
		return nil, fmt.Errorf("reload quota: %s not found after upsert", req.QuotaType)
	}

	s.log.Info("quota limit updated",
		zap.String("subject", req.Subject.Key()),
		zap.String("quota_type", string(req.QuotaType)),
		zap.Int64("limit_value", stored.LimitValue),
		zap.String("reset_period", string(stored.ResetPeriod)),
	)
	return stored, nil
}

// Reset zeroes every counter matching filter and returns how many rows
// changed. Running it twice within one window is harmless.
func (s *Service) Reset(ctx context.Context, filter quotadomain.ResetFilter) (int64, error) {
	if filter.Empty() {
		return 0, quotadomain.ErrEmptyResetFilter
	}
	if filter.Subject != nil {
		if err := filter.Subject.Validate(); err != nil {
			return 0, err
		}
	}
	for _, quotaType := range filter.QuotaTypes {
		if !quotaType.Valid() {
			return 0, quotadomain.ErrInvalidQuotaType
		}
	}
	if filter.ResetPeriod != "" && !filter.ResetPeriod.Valid() {
		return 0, quotadomain.ErrInvalidResetPeriod
	}

	count, err := s.repo.Reset(ctx, s.db, filter, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("reset quotas: %w", err)
	}
	return count, nil
}

func (s *Service) Check(ctx context.Context, req quotadomain.CheckRequest) (*quotadomain.CheckResult, error) {
	if req.RequestedAmount < 1 {
		return nil, quotadomain.ErrInvalidAmount
	}
	quota, err := s.Get(ctx, req.Subject, req.QuotaType)
	if err != nil {
		return nil, err
	}

	eval := quotadomain.Evaluate(quota, req.RequestedAmount, s.pricing.Get().SuggestedPlan)
	s.metrics.RecordQuotaCheck(ctx, string(req.QuotaType), eval.Allowed)

	return &quotadomain.CheckResult{Quota: quota, Evaluation: eval}, nil
}
