// Package domain contains quota counters and the pure evaluation rules
// applied to them.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/quotaflow/internal/subject"
)

type QuotaType string

const (
	QuotaAPICalls       QuotaType = "api_calls"
	QuotaStorageGB      QuotaType = "storage_gb"
	QuotaBandwidthGB    QuotaType = "bandwidth_gb"
	QuotaComputeMinutes QuotaType = "compute_minutes"
	QuotaTeamMembers    QuotaType = "team_members"
	QuotaProjects       QuotaType = "projects"
	QuotaExports        QuotaType = "exports"
	QuotaEmails         QuotaType = "emails"
)

var QuotaTypes = []QuotaType{
	QuotaAPICalls,
	QuotaStorageGB,
	QuotaBandwidthGB,
	QuotaComputeMinutes,
	QuotaTeamMembers,
	QuotaProjects,
	QuotaExports,
	QuotaEmails,
}

func (t QuotaType) Valid() bool {
	for _, known := range QuotaTypes {
		if t == known {
			return true
		}
	}
	return false
}

type ResetPeriod string

const (
	ResetDaily   ResetPeriod = "daily"
	ResetWeekly  ResetPeriod = "weekly"
	ResetMonthly ResetPeriod = "monthly"
	ResetYearly  ResetPeriod = "yearly"
)

func (p ResetPeriod) Valid() bool {
	switch p {
	case ResetDaily, ResetWeekly, ResetMonthly, ResetYearly:
		return true
	default:
		return false
	}
}

// PeriodStart returns the UTC start of the reset window containing now.
// Weeks start on Monday.
func (p ResetPeriod) PeriodStart(now time.Time) time.Time {
	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	switch p {
	case ResetDaily:
		return day
	case ResetWeekly:
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case ResetYearly:
		return time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
}

// Unlimited is the limit value that disables all comparisons.
const Unlimited int64 = -1

// UsageQuota is the running counter for one (subject, quota type) pair.
type UsageQuota struct {
	ID           snowflake.ID `json:"id" gorm:"primaryKey"`
	SubjectType  subject.Type `json:"subjectType" gorm:"column:subject_type;size:16;not null;uniqueIndex:ux_usage_quotas_subject_type,priority:1"`
	SubjectID    snowflake.ID `json:"subjectId" gorm:"column:subject_id;not null;uniqueIndex:ux_usage_quotas_subject_type,priority:2"`
	QuotaType    QuotaType    `json:"quotaType" gorm:"column:quota_type;size:32;not null;uniqueIndex:ux_usage_quotas_subject_type,priority:3"`
	LimitValue   int64        `json:"limitValue" gorm:"column:limit_value;not null"`
	CurrentUsage int64        `json:"currentUsage" gorm:"column:current_usage;not null;default:0"`
	ResetPeriod  ResetPeriod  `json:"resetPeriod" gorm:"column:reset_period;size:16;not null;default:'monthly'"`
	LastReset    time.Time    `json:"lastReset" gorm:"column:last_reset;not null"`
	CreatedAt    time.Time    `json:"createdAt" gorm:"not null"`
	UpdatedAt    time.Time    `json:"updatedAt" gorm:"not null"`
}

// TableName sets the database table name.
func (UsageQuota) TableName() string { return "usage_quotas" }

func (q UsageQuota) Subject() subject.Subject {
	return subject.Subject{Type: q.SubjectType, ID: q.SubjectID}
}

func (q UsageQuota) IsUnlimited() bool {
	return q.LimitValue == Unlimited
}
