// Package domain describes one usage-tracking round trip: record the event,
// advance the matching quota counter and raise threshold alerts.
package domain

import (
	"context"

	alertdomain "github.com/smallbiznis/quotaflow/internal/alert/domain"
	"github.com/smallbiznis/quotaflow/internal/subject"
	usagedomain "github.com/smallbiznis/quotaflow/internal/usage/domain"
)

type Service interface {
	Track(ctx context.Context, req TrackRequest) (*TrackResult, error)
}

type TrackRequest struct {
	Subject   subject.Subject
	EventType usagedomain.EventType
	Quantity  int64
	Metadata  map[string]any
}

type TrackResult struct {
	UsageEvent  *usagedomain.UsageEvent
	QuotaStatus QuotaStatus
	Alerts      []alertdomain.BillingAlert
}

// QuotaStatus reports the counter after this event. Limit is -1 and
// Remaining +Inf when no quota applies.
type QuotaStatus struct {
	Current    int64
	Limit      int64
	Remaining  float64
	Percentage float64
}
