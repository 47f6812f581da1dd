package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	alertdomain "github.com/smallbiznis/quotaflow/internal/alert/domain"
	quotadomain "github.com/smallbiznis/quotaflow/internal/quota/domain"
	"github.com/smallbiznis/quotaflow/internal/subject"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() alertdomain.Repository {
	return &repo{}
}

const alertColumns = `id, subject_type, subject_id, alert_type, quota_type, threshold_percentage,
	current_usage, limit_value, acknowledged, acknowledged_at, triggered_at, metadata`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, a *alertdomain.BillingAlert) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO billing_alerts (`+alertColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID,
		a.SubjectType,
		a.SubjectID,
		a.AlertType,
		a.QuotaType,
		a.ThresholdPercentage,
		a.CurrentUsage,
		a.LimitValue,
		a.Acknowledged,
		a.AcknowledgedAt,
		a.TriggeredAt,
		a.Metadata,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*alertdomain.BillingAlert, error) {
	var alert alertdomain.BillingAlert
	err := db.WithContext(ctx).Raw(
		`SELECT `+alertColumns+` FROM billing_alerts WHERE id = ?`,
		id,
	).Scan(&alert).Error
	if err != nil {
		return nil, err
	}
	if alert.ID == 0 {
		return nil, nil
	}
	return &alert, nil
}

func (r *repo) FindOpenWarning(ctx context.Context, db *gorm.DB, subj subject.Subject, quotaType quotadomain.QuotaType, minThreshold int) (*alertdomain.BillingAlert, error) {
	var alert alertdomain.BillingAlert
	err := db.WithContext(ctx).Raw(
		`SELECT `+alertColumns+`
		 FROM billing_alerts
		 WHERE subject_type = ? AND subject_id = ? AND quota_type = ?
		   AND alert_type = ? AND acknowledged = ? AND threshold_percentage >= ?
		 ORDER BY triggered_at DESC
		 LIMIT 1`,
		subj.Type,
		subj.ID,
		quotaType,
		alertdomain.AlertQuotaWarning,
		false,
		minThreshold,
	).Scan(&alert).Error
	if err != nil {
		return nil, err
	}
	if alert.ID == 0 {
		return nil, nil
	}
	return &alert, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter alertdomain.ListFilter) ([]alertdomain.BillingAlert, error) {
	stmt := db.WithContext(ctx).
		Model(&alertdomain.BillingAlert{}).
		Where("subject_type = ? AND subject_id = ?", filter.Subject.Type, filter.Subject.ID)
	if filter.Acknowledged != nil {
		stmt = stmt.Where("acknowledged = ?", *filter.Acknowledged)
	}
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}

	var alerts []alertdomain.BillingAlert
	if err := stmt.Order("triggered_at DESC, id DESC").Find(&alerts).Error; err != nil {
		return nil, err
	}
	return alerts, nil
}

func (r *repo) Acknowledge(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE billing_alerts SET acknowledged = ?, acknowledged_at = ? WHERE id = ? AND acknowledged = ?`,
		true,
		at,
		id,
		false,
	).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(`DELETE FROM billing_alerts WHERE id = ?`, id).Error
}
