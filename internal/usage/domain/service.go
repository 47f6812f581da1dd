package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/quotaflow/internal/subject"
	"github.com/smallbiznis/quotaflow/pkg/db/pagination"
)

type Service interface {
	Record(ctx context.Context, req RecordRequest) (*UsageEvent, error)
	List(ctx context.Context, req ListRequest) (*ListResponse, error)
	Analytics(ctx context.Context, req AnalyticsRequest) (*Analytics, error)
}

type RecordRequest struct {
	Subject   subject.Subject
	EventType EventType
	Quantity  int64
	Metadata  map[string]any
}

type ListRequest struct {
	Subject   subject.Subject
	EventType EventType
	PageToken string
	Limit     int
}

type ListResponse struct {
	Events   []UsageEvent        `json:"events"`
	PageInfo pagination.PageInfo `json:"pageInfo"`
}

type TimeRange string

const (
	TimeRange7d  TimeRange = "7d"
	TimeRange30d TimeRange = "30d"
	TimeRange90d TimeRange = "90d"
	TimeRange1y  TimeRange = "1y"
)

func ParseTimeRange(raw string) (TimeRange, error) {
	switch TimeRange(strings.TrimSpace(raw)) {
	case "":
		return TimeRange30d, nil
	case TimeRange7d:
		return TimeRange7d, nil
	case TimeRange30d:
		return TimeRange30d, nil
	case TimeRange90d:
		return TimeRange90d, nil
	case TimeRange1y:
		return TimeRange1y, nil
	default:
		return "", ErrInvalidTimeRange
	}
}

// Since returns the start of the window ending at now.
func (r TimeRange) Since(now time.Time) time.Time {
	switch r {
	case TimeRange7d:
		return now.AddDate(0, 0, -7)
	case TimeRange90d:
		return now.AddDate(0, 0, -90)
	case TimeRange1y:
		return now.AddDate(-1, 0, 0)
	default:
		return now.AddDate(0, 0, -30)
	}
}

type AnalyticsRequest struct {
	Subject            subject.Subject
	TimeRange          TimeRange
	EventType          EventType
	IncludeProjections bool
}

type Analytics struct {
	TimeRange   TimeRange        `json:"timeRange"`
	From        time.Time        `json:"from"`
	To          time.Time        `json:"to"`
	Currency    string           `json:"currency"`
	TotalEvents int64            `json:"totalEvents"`
	TotalCost   decimal.Decimal  `json:"totalCost"`
	ByType      []TypeBreakdown  `json:"byType"`
	Daily       []DailyUsage     `json:"daily"`
	Projections []ProjectedUsage `json:"projections,omitempty"`
}

type TypeBreakdown struct {
	EventType EventType       `json:"eventType"`
	Events    int64           `json:"events"`
	Quantity  int64           `json:"quantity"`
	Cost      decimal.Decimal `json:"cost"`
}

type DailyUsage struct {
	Date     string `json:"date"`
	Events   int64  `json:"events"`
	Quantity int64  `json:"quantity"`
}

// ProjectedUsage extrapolates the current month's daily average to the end
// of the month.
type ProjectedUsage struct {
	EventType         EventType       `json:"eventType"`
	MonthToDate       int64           `json:"monthToDate"`
	ProjectedQuantity int64           `json:"projectedQuantity"`
	ProjectedCost     decimal.Decimal `json:"projectedCost"`
}

var (
	ErrInvalidEventType = errors.New("invalid_event_type")
	ErrInvalidQuantity  = errors.New("invalid_quantity")
	ErrInvalidTimeRange = errors.New("invalid_time_range")
	ErrInvalidLimit     = errors.New("invalid_limit")
)
