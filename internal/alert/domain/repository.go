package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	quotadomain "github.com/smallbiznis/quotaflow/internal/quota/domain"
	"github.com/smallbiznis/quotaflow/internal/subject"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, alert *BillingAlert) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*BillingAlert, error)
	FindOpenWarning(ctx context.Context, db *gorm.DB, subj subject.Subject, quotaType quotadomain.QuotaType, minThreshold int) (*BillingAlert, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]BillingAlert, error)
	Acknowledge(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error
}

type ListFilter struct {
	Subject      subject.Subject
	Acknowledged *bool
	Limit        int
}
