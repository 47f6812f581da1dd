package domain

import (
	"context"
	"time"

	"github.com/smallbiznis/quotaflow/internal/subject"
	"github.com/smallbiznis/quotaflow/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, event *UsageEvent) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]UsageEvent, error)
	TotalsByType(ctx context.Context, db *gorm.DB, filter AggregateFilter) ([]TypeTotal, error)
	TotalsByDay(ctx context.Context, db *gorm.DB, filter AggregateFilter) ([]DailyUsage, error)
	// MarkProcessed flags up to limit unprocessed events whose billing
	// period ended before endedBefore.
	MarkProcessed(ctx context.Context, db *gorm.DB, endedBefore time.Time, limit int) (int64, error)
}

// ListFilter pages events newest first. Limit is the page size plus one.
type ListFilter struct {
	Subject   subject.Subject
	EventType EventType
	After     *pagination.Cursor
	Limit     int
}

// AggregateFilter selects events with From <= created_at < To.
type AggregateFilter struct {
	Subject   subject.Subject
	EventType EventType
	From      time.Time
	To        time.Time
}

type TypeTotal struct {
	EventType EventType `gorm:"column:event_type"`
	Events    int64     `gorm:"column:events"`
	Quantity  int64     `gorm:"column:quantity"`
}
