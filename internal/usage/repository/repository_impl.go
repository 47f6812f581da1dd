package repository

import (
	"context"
	"time"

	usagedomain "github.com/smallbiznis/quotaflow/internal/usage/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() usagedomain.Repository {
	return &repo{}
}

const eventColumns = `id, subject_type, subject_id, event_type, quantity, metadata,
	billing_period_start, billing_period_end, processed, created_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, e *usagedomain.UsageEvent) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO usage_events (`+eventColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.SubjectType,
		e.SubjectID,
		e.EventType,
		e.Quantity,
		e.Metadata,
		e.BillingPeriodStart,
		e.BillingPeriodEnd,
		e.Processed,
		e.CreatedAt,
	).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter usagedomain.ListFilter) ([]usagedomain.UsageEvent, error) {
	stmt := db.WithContext(ctx).
		Model(&usagedomain.UsageEvent{}).
		Where("subject_type = ? AND subject_id = ?", filter.Subject.Type, filter.Subject.ID)
	if filter.EventType != "" {
		stmt = stmt.Where("event_type = ?", filter.EventType)
	}
	if filter.After != nil {
		createdAt, err := time.Parse(time.RFC3339Nano, filter.After.CreatedAt)
		if err != nil {
			return nil, err
		}
		stmt = stmt.Where("(created_at < ? OR (created_at = ? AND id < ?))", createdAt, createdAt, filter.After.ID)
	}
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}

	var events []usagedomain.UsageEvent
	if err := stmt.Order("created_at DESC, id DESC").Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repo) TotalsByType(ctx context.Context, db *gorm.DB, filter usagedomain.AggregateFilter) ([]usagedomain.TypeTotal, error) {
	var rows []usagedomain.TypeTotal
	err := aggregate(ctx, db, filter).
		Select("event_type, COUNT(*) AS events, COALESCE(SUM(quantity), 0) AS quantity").
		Group("event_type").
		Order("event_type ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) TotalsByDay(ctx context.Context, db *gorm.DB, filter usagedomain.AggregateFilter) ([]usagedomain.DailyUsage, error) {
	day := dayExpr(db)
	var rows []usagedomain.DailyUsage
	err := aggregate(ctx, db, filter).
		Select(day + " AS date, COUNT(*) AS events, COALESCE(SUM(quantity), 0) AS quantity").
		Group(day).
		Order(day + " ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, endedBefore time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 500
	}

	// billing_period_end is the last whole second inside the period
	lastClosed := endedBefore.Add(-time.Second)

	var ids []int64
	err := db.WithContext(ctx).Raw(
		`SELECT id FROM usage_events
		 WHERE processed = ? AND billing_period_end <= ?
		 ORDER BY id ASC
		 LIMIT ?`,
		false,
		lastClosed,
		limit,
	).Scan(&ids).Error
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	result := db.WithContext(ctx).Exec(
		`UPDATE usage_events SET processed = ? WHERE id IN ? AND processed = ?`,
		true,
		ids,
		false,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func aggregate(ctx context.Context, db *gorm.DB, filter usagedomain.AggregateFilter) *gorm.DB {
	stmt := db.WithContext(ctx).
		Model(&usagedomain.UsageEvent{}).
		Where("subject_type = ? AND subject_id = ?", filter.Subject.Type, filter.Subject.ID).
		Where("created_at >= ? AND created_at < ?", filter.From, filter.To)
	if filter.EventType != "" {
		stmt = stmt.Where("event_type = ?", filter.EventType)
	}
	return stmt
}

// dayExpr renders created_at as a UTC YYYY-MM-DD string.
func dayExpr(db *gorm.DB) string {
	switch db.Dialector.Name() {
	case "postgres":
		return "to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD')"
	case "mysql":
		return "DATE_FORMAT(created_at, '%Y-%m-%d')"
	default:
		// sqlite keeps timestamps as ISO text
		return "substr(created_at, 1, 10)"
	}
}
