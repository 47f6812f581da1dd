package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	quotadomain "github.com/smallbiznis/quotaflow/internal/quota/domain"
	"github.com/smallbiznis/quotaflow/internal/subject"
	"gorm.io/datatypes"
)

type AlertType string

const (
	AlertQuotaWarning        AlertType = "quota_warning"
	AlertQuotaExceeded       AlertType = "quota_exceeded"
	AlertPaymentFailed       AlertType = "payment_failed"
	AlertSubscriptionExpired AlertType = "subscription_expired"
	AlertTrialEnding         AlertType = "trial_ending"
	AlertFeatureLimitReached AlertType = "feature_limit_reached"
)

func (t AlertType) Valid() bool {
	switch t {
	case AlertQuotaWarning, AlertQuotaExceeded, AlertPaymentFailed,
		AlertSubscriptionExpired, AlertTrialEnding, AlertFeatureLimitReached:
		return true
	default:
		return false
	}
}

// OpenWarningIndex keeps at most one unacknowledged quota_warning per
// subject and quota type.
const OpenWarningIndex = "ux_billing_alerts_open_warning"

type BillingAlert struct {
	ID                  snowflake.ID           `json:"id" gorm:"primaryKey"`
	SubjectType         subject.Type           `json:"subjectType" gorm:"column:subject_type;size:16;not null;index:ix_billing_alerts_subject,priority:1"`
	SubjectID           snowflake.ID           `json:"subjectId" gorm:"column:subject_id;not null;index:ix_billing_alerts_subject,priority:2"`
	AlertType           AlertType              `json:"alertType" gorm:"column:alert_type;size:32;not null"`
	QuotaType           *quotadomain.QuotaType `json:"quotaType,omitempty" gorm:"column:quota_type;size:32"`
	ThresholdPercentage *int                   `json:"thresholdPercentage,omitempty" gorm:"column:threshold_percentage"`
	CurrentUsage        int64                  `json:"currentUsage" gorm:"column:current_usage;not null"`
	LimitValue          int64                  `json:"limitValue" gorm:"column:limit_value;not null"`
	Acknowledged        bool                   `json:"acknowledged" gorm:"not null;default:false"`
	AcknowledgedAt      *time.Time             `json:"acknowledgedAt,omitempty" gorm:"column:acknowledged_at"`
	TriggeredAt         time.Time              `json:"triggeredAt" gorm:"column:triggered_at;not null;index:ix_billing_alerts_subject,priority:3"`
	Metadata            datatypes.JSONMap      `json:"metadata" gorm:"not null"`
}

// TableName sets the database table name.
func (BillingAlert) TableName() string { return "billing_alerts" }

func (a BillingAlert) Subject() subject.Subject {
	return subject.Subject{Type: a.SubjectType, ID: a.SubjectID}
}
