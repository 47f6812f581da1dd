package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	quotadomain "github.com/smallbiznis/quotaflow/internal/quota/domain"
	"github.com/smallbiznis/quotaflow/internal/subject"
	usagedomain "github.com/smallbiznis/quotaflow/internal/usage/domain"
)

type Service interface {
	// EvaluateQuota inspects a counter right after it was incremented and
	// returns the alerts it created, possibly none.
	EvaluateQuota(ctx context.Context, quota *quotadomain.UsageQuota, eventType usagedomain.EventType) ([]BillingAlert, error)
	List(ctx context.Context, req ListRequest) ([]BillingAlert, error)
	Get(ctx context.Context, id snowflake.ID) (*BillingAlert, error)
	Acknowledge(ctx context.Context, id snowflake.ID) (*BillingAlert, error)
	Dismiss(ctx context.Context, id snowflake.ID) error
}

type ListRequest struct {
	Subject      subject.Subject
	Acknowledged *bool
	Limit        int
}

var (
	ErrNotFound  = errors.New("alert_not_found")
	ErrInvalidID = errors.New("invalid_alert_id")
)
