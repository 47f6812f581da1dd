package repository

import (
	"context"
	"time"

	quotadomain "github.com/smallbiznis/quotaflow/internal/quota/domain"
	"github.com/smallbiznis/quotaflow/internal/subject"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() quotadomain.Repository {
	return &repo{}
}

const quotaColumns = `id, subject_type, subject_id, quota_type, limit_value, current_usage, reset_period, last_reset, created_at, updated_at`

func (r *repo) FindBySubject(ctx context.Context, db *gorm.DB, subj subject.Subject, quotaType quotadomain.QuotaType) (*quotadomain.UsageQuota, error) {
	var quota quotadomain.UsageQuota
	err := db.WithContext(ctx).Raw(
		`SELECT `+quotaColumns+`
		 FROM usage_quotas
		 WHERE subject_type = ? AND subject_id = ? AND quota_type = ?`,
		subj.Type,
		subj.ID,
		quotaType,
	).Scan(&quota).Error
	if err != nil {
		return nil, err
	}
	if quota.ID == 0 {
		return nil, nil
	}
	return &quota, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, subj subject.Subject) ([]quotadomain.UsageQuota, error) {
	var quotas []quotadomain.UsageQuota
	err := db.WithContext(ctx).Raw(
		`SELECT `+quotaColumns+`
		 FROM usage_quotas
		 WHERE subject_type = ? AND subject_id = ?
		 ORDER BY quota_type ASC`,
		subj.Type,
		subj.ID,
	).Scan(&quotas).Error
	if err != nil {
		return nil, err
	}
	return quotas, nil
}

// Upsert inserts quota or, when the (subject, quota type) row exists,
// overwrites its limit. current_usage and last_reset are never touched on
// conflict.
func (r *repo) Upsert(ctx context.Context, db *gorm.DB, quota *quotadomain.UsageQuota, updateResetPeriod bool) error {
	columns := []string{"limit_value", "updated_at"}
	if updateResetPeriod {
		columns = append(columns, "reset_period")
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "subject_type"},
				{Name: "subject_id"},
				{Name: "quota_type"},
			},
			DoUpdates: clause.AssignmentColumns(columns),
		}).
		Create(quota).Error
}

// Increment adds delta in a single UPDATE and reads the row back inside the
// same transaction, so the returned counter includes this caller's delta
// and no concurrent increment is lost. A missing row yields nil.
func (r *repo) Increment(ctx context.Context, db *gorm.DB, subj subject.Subject, quotaType quotadomain.QuotaType, delta int64, now time.Time) (*quotadomain.UsageQuota, error) {
	var updated *quotadomain.UsageQuota
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&quotadomain.UsageQuota{}).
			Where("subject_type = ? AND subject_id = ? AND quota_type = ?", subj.Type, subj.ID, quotaType).
			Updates(map[string]any{
				"current_usage": gorm.Expr("current_usage + ?", delta),
				"updated_at":    now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}

		quota, err := r.FindBySubject(ctx, tx, subj, quotaType)
		if err != nil {
			return err
		}
		updated = quota
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *repo) Reset(ctx context.Context, db *gorm.DB, filter quotadomain.ResetFilter, now time.Time) (int64, error) {
	if filter.Empty() {
		return 0, quotadomain.ErrEmptyResetFilter
	}

	stmt := db.WithContext(ctx).Model(&quotadomain.UsageQuota{})
	if filter.Subject != nil {
		stmt = stmt.Where("subject_type = ? AND subject_id = ?", filter.Subject.Type, filter.Subject.ID)
	}
	if len(filter.QuotaTypes) > 0 {
		stmt = stmt.Where("quota_type IN ?", filter.QuotaTypes)
	}
	if filter.ResetPeriod != "" {
		stmt = stmt.Where("reset_period = ?", filter.ResetPeriod)
	}
	if filter.LastResetBefore != nil {
		stmt = stmt.Where("last_reset < ?", *filter.LastResetBefore)
	}

	result := stmt.Updates(map[string]any{
		"current_usage": 0,
		"last_reset":    now,
		"updated_at":    now,
	})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
