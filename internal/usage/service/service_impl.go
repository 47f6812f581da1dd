package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/quotaflow/internal/clock"
	"github.com/smallbiznis/quotaflow/internal/config"
	obsmetrics "github.com/smallbiznis/quotaflow/internal/observability/metrics"
	usagedomain "github.com/smallbiznis/quotaflow/internal/usage/domain"
	"github.com/smallbiznis/quotaflow/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200

	dayLayout = "2006-01-02"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    usagedomain.Repository
	Pricing *config.PricingConfigHolder
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    usagedomain.Repository
	pricing *config.PricingConfigHolder
	metrics *obsmetrics.Metrics
}

func New(p Params) usagedomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("usage.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		pricing: p.Pricing,
		metrics: p.Metrics,
	}
}

func (s *Service) Record(ctx context.Context, req usagedomain.RecordRequest) (*usagedomain.UsageEvent, error) {
	if err := req.Subject.Validate(); err != nil {
		return nil, err
	}
	if !req.EventType.Valid() {
		return nil, usagedomain.ErrInvalidEventType
	}
	if req.Quantity < 1 {
		return nil, usagedomain.ErrInvalidQuantity
	}

	metadata := datatypes.JSONMap{}
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	now := s.clock.Now().UTC()
	periodStart, periodEnd := usagedomain.BillingPeriod(now)
	event := &usagedomain.UsageEvent{
		ID:                 s.genID.Generate(),
		SubjectType:        req.Subject.Type,
		SubjectID:          req.Subject.ID,
		EventType:          req.EventType,
		Quantity:           req.Quantity,
		Metadata:           metadata,
		BillingPeriodStart: periodStart,
		BillingPeriodEnd:   periodEnd,
		Processed:          false,
		CreatedAt:          now,
	}
	if err := s.repo.Insert(ctx, s.db, event); err != nil {
		return nil, fmt.Errorf("insert usage event: %w", err)
	}

	s.metrics.RecordUsageTracked(ctx, string(event.EventType), event.Quantity)
	return event, nil
}

func (s *Service) List(ctx context.Context, req usagedomain.ListRequest) (*usagedomain.ListResponse, error) {
	if err := req.Subject.Validate(); err != nil {
		return nil, err
	}
	if req.EventType != "" && !req.EventType.Valid() {
		return nil, usagedomain.ErrInvalidEventType
	}
	limit := req.Limit
	if limit < 0 {
		return nil, usagedomain.ErrInvalidLimit
	}
	if limit == 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return nil, err
	}
	if cursor != nil {
		if _, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt); err != nil {
			return nil, pagination.ErrInvalidPageToken
		}
	}

	events, err := s.repo.List(ctx, s.db, usagedomain.ListFilter{
		Subject:   req.Subject,
		EventType: req.EventType,
		After:     cursor,
		Limit:     limit + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("list usage events: %w", err)
	}

	page, info, err := pagination.Trim(events, limit, func(e usagedomain.UsageEvent) pagination.Cursor {
		return pagination.Cursor{
			ID:        int64(e.ID),
			CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
	})
	if err != nil {
		return nil, err
	}
	if page == nil {
		page = []usagedomain.UsageEvent{}
	}
	return &usagedomain.ListResponse{Events: page, PageInfo: info}, nil
}

func (s *Service) Analytics(ctx context.Context, req usagedomain.AnalyticsRequest) (*usagedomain.Analytics, error) {
	if err := req.Subject.Validate(); err != nil {
		return nil, err
	}
	if req.EventType != "" && !req.EventType.Valid() {
		return nil, usagedomain.ErrInvalidEventType
	}
	timeRange := req.TimeRange
	if timeRange == "" {
		timeRange = usagedomain.TimeRange30d
	}
	if _, err := usagedomain.ParseTimeRange(string(timeRange)); err != nil {
		return nil, err
	}

	pricing := s.pricing.Get()
	now := s.clock.Now().UTC()
	from := timeRange.Since(now)

	filter := usagedomain.AggregateFilter{
		Subject:   req.Subject,
		EventType: req.EventType,
		From:      from,
		To:        now.Add(time.Nanosecond),
	}
	totals, err := s.repo.TotalsByType(ctx, s.db, filter)
	if err != nil {
		return nil, fmt.Errorf("usage totals: %w", err)
	}
	days, err := s.repo.TotalsByDay(ctx, s.db, filter)
	if err != nil {
		return nil, fmt.Errorf("daily usage: %w", err)
	}

	result := &usagedomain.Analytics{
		TimeRange: timeRange,
		From:      from,
		To:        now,
		Currency:  pricing.Currency,
		TotalCost: decimal.Zero,
		ByType:    make([]usagedomain.TypeBreakdown, 0, len(totals)),
		Daily:     fillDays(from, now, days),
	}
	for _, total := range totals {
		cost := pricing.UnitCost(string(total.EventType)).Mul(decimal.NewFromInt(total.Quantity))
		result.TotalEvents += total.Events
		result.TotalCost = result.TotalCost.Add(cost)
		result.ByType = append(result.ByType, usagedomain.TypeBreakdown{
			EventType: total.EventType,
			Events:    total.Events,
			Quantity:  total.Quantity,
			Cost:      cost,
		})
	}

	if req.IncludeProjections {
		projections, err := s.project(ctx, req, pricing, now)
		if err != nil {
			return nil, err
		}
		result.Projections = projections
	}

	return result, nil
}

// project extrapolates month-to-date usage linearly over the whole billing
// month.
func (s *Service) project(ctx context.Context, req usagedomain.AnalyticsRequest, pricing config.PricingConfig, now time.Time) ([]usagedomain.ProjectedUsage, error) {
	periodStart, periodEnd := usagedomain.BillingPeriod(now)
	totals, err := s.repo.TotalsByType(ctx, s.db, usagedomain.AggregateFilter{
		Subject:   req.Subject,
		EventType: req.EventType,
		From:      periodStart,
		To:        now.Add(time.Nanosecond),
	})
	if err != nil {
		return nil, fmt.Errorf("month to date usage: %w", err)
	}

	elapsedDays := decimal.NewFromInt(int64(now.Day()))
	monthDays := decimal.NewFromInt(int64(periodEnd.Day()))

	projections := make([]usagedomain.ProjectedUsage, 0, len(totals))
	for _, total := range totals {
		projected := decimal.NewFromInt(total.Quantity).
			Div(elapsedDays).
			Mul(monthDays).
			Round(0)
		projections = append(projections, usagedomain.ProjectedUsage{
			EventType:         total.EventType,
			MonthToDate:       total.Quantity,
			ProjectedQuantity: projected.IntPart(),
			ProjectedCost:     pricing.UnitCost(string(total.EventType)).Mul(projected),
		})
	}
	return projections, nil
}

// fillDays returns one entry per UTC day in [from, to], zero where no
// events were recorded.
func fillDays(from, to time.Time, rows []usagedomain.DailyUsage) []usagedomain.DailyUsage {
	byDate := make(map[string]usagedomain.DailyUsage, len(rows))
	for _, row := range rows {
		byDate[row.Date] = row
	}

	start := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	out := make([]usagedomain.DailyUsage, 0, int(to.Sub(start).Hours()/24)+1)
	for day := start; !day.After(to); day = day.AddDate(0, 0, 1) {
		key := day.Format(dayLayout)
		row, ok := byDate[key]
		if !ok {
			row = usagedomain.DailyUsage{Date: key}
		}
		out = append(out, row)
	}
	return out
}
