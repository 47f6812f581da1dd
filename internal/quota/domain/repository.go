package domain

import (
	"context"
	"time"

	"github.com/smallbiznis/quotaflow/internal/subject"
	"gorm.io/gorm"
)

type Repository interface {
	FindBySubject(ctx context.Context, db *gorm.DB, subj subject.Subject, quotaType QuotaType) (*UsageQuota, error)
	List(ctx context.Context, db *gorm.DB, subj subject.Subject) ([]UsageQuota, error)
	Upsert(ctx context.Context, db *gorm.DB, quota *UsageQuota, updateResetPeriod bool) error
	Increment(ctx context.Context, db *gorm.DB, subj subject.Subject, quotaType QuotaType, delta int64, now time.Time) (*UsageQuota, error)
	Reset(ctx context.Context, db *gorm.DB, filter ResetFilter, now time.Time) (int64, error)
}

// ResetFilter narrows which counters a reset touches. At least one field
// must be set.
type ResetFilter struct {
	Subject         *subject.Subject
	QuotaTypes      []QuotaType
	ResetPeriod     ResetPeriod
	LastResetBefore *time.Time
}

func (f ResetFilter) Empty() bool {
	return f.Subject == nil && len(f.QuotaTypes) == 0 && f.ResetPeriod == "" && f.LastResetBefore == nil
}
