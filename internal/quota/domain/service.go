package domain

import (
	"context"
	"errors"
	"strings"

	"github.com/smallbiznis/quotaflow/internal/subject"
)

type Service interface {
	Get(ctx context.Context, subj subject.Subject, quotaType QuotaType) (*UsageQuota, error)
	List(ctx context.Context, subj subject.Subject) ([]UsageQuota, error)
	Increment(ctx context.Context, subj subject.Subject, quotaType QuotaType, delta int64) (*UsageQuota, error)
	SetLimit(ctx context.Context, req SetLimitRequest) (*UsageQuota, error)
	Reset(ctx context.Context, filter ResetFilter) (int64, error)
	Check(ctx context.Context, req CheckRequest) (*CheckResult, error)
}

type SetLimitRequest struct {
	Subject     subject.Subject
	QuotaType   QuotaType
	LimitValue  int64
	ResetPeriod ResetPeriod
}

type CheckRequest struct {
	Subject         subject.Subject
	QuotaType       QuotaType
	RequestedAmount int64
}

type CheckResult struct {
	Quota      *UsageQuota
	Evaluation Evaluation
}

var (
	ErrInvalidQuotaType   = errors.New("invalid_quota_type")
	ErrInvalidLimit       = errors.New("invalid_limit_value")
	ErrInvalidResetPeriod = errors.New("invalid_reset_period")
	ErrInvalidAmount      = errors.New("invalid_requested_amount")
	ErrInvalidDelta       = errors.New("invalid_delta")
	ErrEmptyResetFilter   = errors.New("empty_reset_filter")
)

func ParseQuotaType(raw string) (QuotaType, error) {
	quotaType := QuotaType(strings.TrimSpace(raw))
	if !quotaType.Valid() {
		return "", ErrInvalidQuotaType
	}
	return quotaType, nil
}

// ParseResetPeriod accepts an empty value, returned as "".
func ParseResetPeriod(raw string) (ResetPeriod, error) {
	period := ResetPeriod(strings.ToLower(strings.TrimSpace(raw)))
	if period == "" {
		return "", nil
	}
	if !period.Valid() {
		return "", ErrInvalidResetPeriod
	}
	return period, nil
}
