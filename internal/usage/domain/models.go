// Package domain contains the usage event log's types.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/quotaflow/internal/subject"
	"gorm.io/datatypes"
)

type EventType string

const (
	EventAPICall          EventType = "api_call"
	EventStorageUsed      EventType = "storage_used"
	EventBandwidthUsed    EventType = "bandwidth_used"
	EventComputeMinutes   EventType = "compute_minutes"
	EventUserAdded        EventType = "user_added"
	EventProjectCreated   EventType = "project_created"
	EventExportGenerated  EventType = "export_generated"
	EventEmailSent        EventType = "email_sent"
	EventWebhookDelivered EventType = "webhook_delivered"
)

var EventTypes = []EventType{
	EventAPICall,
	EventStorageUsed,
	EventBandwidthUsed,
	EventComputeMinutes,
	EventUserAdded,
	EventProjectCreated,
	EventExportGenerated,
	EventEmailSent,
	EventWebhookDelivered,
}

func (t EventType) Valid() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// UsageEvent is an immutable record of one billable action. Only Processed
// may change after insert.
type UsageEvent struct {
	ID                 snowflake.ID      `json:"id" gorm:"primaryKey"`
	SubjectType        subject.Type      `json:"subjectType" gorm:"column:subject_type;size:16;not null;index:ix_usage_events_subject_created,priority:1"`
	SubjectID          snowflake.ID      `json:"subjectId" gorm:"column:subject_id;not null;index:ix_usage_events_subject_created,priority:2"`
	EventType          EventType         `json:"eventType" gorm:"column:event_type;size:32;not null"`
	Quantity           int64             `json:"quantity" gorm:"not null"`
	Metadata           datatypes.JSONMap `json:"metadata" gorm:"not null"`
	BillingPeriodStart time.Time         `json:"billingPeriodStart" gorm:"column:billing_period_start;not null"`
	BillingPeriodEnd   time.Time         `json:"billingPeriodEnd" gorm:"column:billing_period_end;not null"`
	Processed          bool              `json:"processed" gorm:"not null;default:false"`
	CreatedAt          time.Time         `json:"createdAt" gorm:"not null;index:ix_usage_events_subject_created,priority:3"`
}

// TableName sets the database table name.
func (UsageEvent) TableName() string { return "usage_events" }

func (e UsageEvent) Subject() subject.Subject {
	return subject.Subject{Type: e.SubjectType, ID: e.SubjectID}
}

// BillingPeriod returns the UTC calendar month containing now, as
// [first day 00:00:00, last day 23:59:59].
func BillingPeriod(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0).Add(-time.Second)
	return start, end
}
