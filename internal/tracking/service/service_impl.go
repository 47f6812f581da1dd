package service

import (
	"context"
	"math"
	"time"

	alertdomain "github.com/smallbiznis/quotaflow/internal/alert/domain"
	quotadomain "github.com/smallbiznis/quotaflow/internal/quota/domain"
	trackingdomain "github.com/smallbiznis/quotaflow/internal/tracking/domain"
	usagedomain "github.com/smallbiznis/quotaflow/internal/usage/domain"
	"github.com/smallbiznis/quotaflow/internal/usage/liveevents"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	UsageSvc   usagedomain.Service
	QuotaSvc   quotadomain.Service
	AlertSvc   alertdomain.Service
	LiveEvents *liveevents.Hub `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	usageSvc   usagedomain.Service
	quotaSvc   quotadomain.Service
	alertSvc   alertdomain.Service
	liveEvents *liveevents.Hub
}

func New(p Params) trackingdomain.Service {
	return &Service{
		log:        p.Log.Named("tracking.service"),
		usageSvc:   p.UsageSvc,
		quotaSvc:   p.QuotaSvc,
		alertSvc:   p.AlertSvc,
		liveEvents: p.LiveEvents,
	}
}

// Track appends the event and, when the event maps to a configured quota,
// increments it and evaluates alerts. Steps are not wrapped in one
// transaction: a failure after the insert leaves the event recorded.
func (s *Service) Track(ctx context.Context, req trackingdomain.TrackRequest) (*trackingdomain.TrackResult, error) {
	event, err := s.usageSvc.Record(ctx, usagedomain.RecordRequest{
		Subject:   req.Subject,
		EventType: req.EventType,
		Quantity:  req.Quantity,
		Metadata:  req.Metadata,
	})
	if err != nil {
		return nil, err
	}

	result := &trackingdomain.TrackResult{
		UsageEvent:  event,
		QuotaStatus: unlimitedStatus(event.Quantity),
		Alerts:      []alertdomain.BillingAlert{},
	}

	quotaType, ok := quotadomain.QuotaTypeForEvent(event.EventType)
	if !ok {
		s.publish(event, "", result.QuotaStatus)
		return result, nil
	}

	quota, err := s.quotaSvc.Get(ctx, req.Subject, quotaType)
	if err != nil {
		return nil, err
	}
	if quota == nil {
		s.publish(event, quotaType, result.QuotaStatus)
		return result, nil
	}

	quota, err = s.quotaSvc.Increment(ctx, req.Subject, quotaType, event.Quantity)
	if err != nil {
		return nil, err
	}
	if quota == nil {
		// row vanished between read and increment
		s.publish(event, quotaType, result.QuotaStatus)
		return result, nil
	}
	result.QuotaStatus = statusOf(quota)

	alerts, err := s.alertSvc.EvaluateQuota(ctx, quota, event.EventType)
	if err != nil {
		return nil, err
	}
	if len(alerts) > 0 {
		result.Alerts = alerts
	}

	s.publish(event, quotaType, result.QuotaStatus)
	return result, nil
}

func (s *Service) publish(event *usagedomain.UsageEvent, quotaType quotadomain.QuotaType, status trackingdomain.QuotaStatus) {
	if s.liveEvents == nil {
		return
	}
	s.liveEvents.Publish(event.Subject(), liveevents.LiveEvent{
		EventID:      event.ID.String(),
		EventType:    string(event.EventType),
		Quantity:     event.Quantity,
		QuotaType:    string(quotaType),
		CurrentUsage: status.Current,
		LimitValue:   status.Limit,
		RecordedAt:   event.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
}

func unlimitedStatus(quantity int64) trackingdomain.QuotaStatus {
	return trackingdomain.QuotaStatus{
		Current:    quantity,
		Limit:      quotadomain.Unlimited,
		Remaining:  math.Inf(1),
		Percentage: 0,
	}
}

func statusOf(quota *quotadomain.UsageQuota) trackingdomain.QuotaStatus {
	if quota.IsUnlimited() {
		return trackingdomain.QuotaStatus{
			Current:   quota.CurrentUsage,
			Limit:     quotadomain.Unlimited,
			Remaining: math.Inf(1),
		}
	}
	remaining := quota.LimitValue - quota.CurrentUsage
	if remaining < 0 {
		remaining = 0
	}
	return trackingdomain.QuotaStatus{
		Current:    quota.CurrentUsage,
		Limit:      quota.LimitValue,
		Remaining:  float64(remaining),
		Percentage: quotadomain.Utilization(quota.CurrentUsage, quota.LimitValue),
	}
}
