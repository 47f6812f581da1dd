package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	alertdomain "github.com/smallbiznis/quotaflow/internal/alert/domain"
	"github.com/smallbiznis/quotaflow/internal/clock"
	"github.com/smallbiznis/quotaflow/internal/config"
	obsmetrics "github.com/smallbiznis/quotaflow/internal/observability/metrics"
	quotadomain "github.com/smallbiznis/quotaflow/internal/quota/domain"
	"github.com/smallbiznis/quotaflow/internal/ratelimit"
	usagedomain "github.com/smallbiznis/quotaflow/internal/usage/domain"
	"github.com/smallbiznis/quotaflow/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    alertdomain.Repository
	Pricing *config.PricingConfigHolder
	Limiter *ratelimit.UsageTrackLimiter `optional:"true"`
	Metrics *obsmetrics.Metrics          `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    alertdomain.Repository
	pricing *config.PricingConfigHolder
	limiter *ratelimit.UsageTrackLimiter
	metrics *obsmetrics.Metrics
}

func New(p Params) alertdomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("alert.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		pricing: p.Pricing,
		limiter: p.Limiter,
		metrics: p.Metrics,
	}
}

func (s *Service) EvaluateQuota(ctx context.Context, quota *quotadomain.UsageQuota, eventType usagedomain.EventType) ([]alertdomain.BillingAlert, error) {
	if quota == nil || quota.IsUnlimited() {
		return nil, nil
	}

	pricing := s.pricing.Get()
	utilization := quotadomain.Utilization(quota.CurrentUsage, quota.LimitValue)

	switch {
	case utilization >= pricing.ExceededThreshold:
		// every crossing is reported, no dedup
		alert := s.newQuotaAlert(quota, alertdomain.AlertQuotaExceeded, int(pricing.ExceededThreshold), eventType, utilization)
		if err := s.repo.Insert(ctx, s.db, alert); err != nil {
			return nil, err
		}
		s.created(ctx, alert)
		return []alertdomain.BillingAlert{*alert}, nil

	case utilization >= pricing.WarningThreshold:
		alert, err := s.warnOnce(ctx, quota, int(pricing.WarningThreshold), eventType, utilization)
		if err != nil || alert == nil {
			return nil, err
		}
		return []alertdomain.BillingAlert{*alert}, nil
	}

	return nil, nil
}

// warnOnce inserts a quota_warning unless an unacknowledged one at or above
// threshold is already open. Racing inserts lose on the partial unique
// index and count as already warned.
func (s *Service) warnOnce(ctx context.Context, quota *quotadomain.UsageQuota, threshold int, eventType usagedomain.EventType, utilization float64) (*alertdomain.BillingAlert, error) {
	subj := quota.Subject()

	release, err := s.limiter.LockAlerts(ctx, subj, string(quota.QuotaType))
	if err != nil {
		s.log.Warn("alert lock unavailable, relying on unique index",
			zap.String("subject", subj.Key()),
			zap.String("quota_type", string(quota.QuotaType)),
			zap.Error(err),
		)
	}
	defer release()

	existing, err := s.repo.FindOpenWarning(ctx, s.db, subj, quota.QuotaType, threshold)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, nil
	}

	alert := s.newQuotaAlert(quota, alertdomain.AlertQuotaWarning, threshold, eventType, utilization)
	if err := s.repo.Insert(ctx, s.db, alert); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, nil
		}
		return nil, err
	}
	s.created(ctx, alert)
	return alert, nil
}

func (s *Service) newQuotaAlert(quota *quotadomain.UsageQuota, alertType alertdomain.AlertType, threshold int, eventType usagedomain.EventType, utilization float64) *alertdomain.BillingAlert {
	quotaType := quota.QuotaType
	return &alertdomain.BillingAlert{
		ID:                  s.genID.Generate(),
		SubjectType:         quota.SubjectType,
		SubjectID:           quota.SubjectID,
		AlertType:           alertType,
		QuotaType:           &quotaType,
		ThresholdPercentage: &threshold,
		CurrentUsage:        quota.CurrentUsage,
		LimitValue:          quota.LimitValue,
		TriggeredAt:         s.clock.Now(),
		Metadata: datatypes.JSONMap{
			"event_type":  string(eventType),
			"utilization": utilization,
		},
	}
}

func (s *Service) created(ctx context.Context, alert *alertdomain.BillingAlert) {
	s.metrics.RecordAlertCreated(ctx, string(alert.AlertType), string(*alert.QuotaType))
	s.log.Info("quota alert created",
		zap.String("alert_type", string(alert.AlertType)),
		zap.String("subject", alert.Subject().Key()),
		zap.String("quota_type", string(*alert.QuotaType)),
		zap.Int64("current_usage", alert.CurrentUsage),
		zap.Int64("limit_value", alert.LimitValue),
	)
}

func (s *Service) List(ctx context.Context, req alertdomain.ListRequest) ([]alertdomain.BillingAlert, error) {
	if err := req.Subject.Validate(); err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	alerts, err := s.repo.List(ctx, s.db, alertdomain.ListFilter{
		Subject:      req.Subject,
		Acknowledged: req.Acknowledged,
		Limit:        limit,
	})
	if err != nil {
		return nil, err
	}
	if alerts == nil {
		alerts = []alertdomain.BillingAlert{}
	}
	return alerts, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*alertdomain.BillingAlert, error) {
	if id == 0 {
		return nil, alertdomain.ErrInvalidID
	}
	alert, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, alertdomain.ErrNotFound
	}
	return alert, nil
}

func (s *Service) Acknowledge(ctx context.Context, id snowflake.ID) (*alertdomain.BillingAlert, error) {
	alert, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert.Acknowledged {
		return alert, nil
	}

	if err := s.repo.Acknowledge(ctx, s.db, id, s.clock.Now()); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *Service) Dismiss(ctx context.Context, id snowflake.ID) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return s.repo.Delete(ctx, s.db, id)
}
