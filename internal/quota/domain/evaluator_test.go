package domain

import (
	"math"
	"testing"
	"time"

	usagedomain "github.com/smallbiznis/quotaflow/internal/usage/domain"
	"github.com/stretchr/testify/assert"
)

func TestEvaluateWithoutQuotaIsUnlimited(t *testing.T) {
	eval := Evaluate(nil, 1_000_000, "pro")

	assert.True(t, eval.Allowed)
	assert.True(t, math.IsInf(eval.Remaining, 1))
	assert.False(t, eval.WouldExceed)
	assert.False(t, eval.UpgradeRequired)
	assert.Empty(t, eval.SuggestedPlan)
}

func TestEvaluateUnlimitedIgnoresUsage(t *testing.T) {
	for _, current := range []int64{0, 10, 1 << 40} {
		eval := Evaluate(&UsageQuota{LimitValue: Unlimited, CurrentUsage: current}, 1<<50, "pro")
		assert.True(t, eval.Allowed)
		assert.True(t, math.IsInf(eval.Remaining, 1))
		assert.False(t, eval.WouldExceed)
	}
}

func TestEvaluateBoundedQuota(t *testing.T) {
	cases := []struct {
		name      string
		limit     int64
		current   int64
		requested int64
		remaining float64
		exceed    bool
	}{
		{name: "fits", limit: 10, current: 3, requested: 7, remaining: 7, exceed: false},
		{name: "one over", limit: 10, current: 3, requested: 8, remaining: 7, exceed: true},
		{name: "check scenario", limit: 10, current: 8, requested: 5, remaining: 2, exceed: true},
		{name: "over limit clamps", limit: 10, current: 15, requested: 1, remaining: 0, exceed: true},
		{name: "zero limit", limit: 0, current: 0, requested: 1, remaining: 0, exceed: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eval := Evaluate(&UsageQuota{LimitValue: tc.limit, CurrentUsage: tc.current}, tc.requested, "pro")
			assert.Equal(t, tc.remaining, eval.Remaining)
			assert.Equal(t, tc.exceed, eval.WouldExceed)
			assert.Equal(t, !tc.exceed, eval.Allowed)
			assert.Equal(t, tc.exceed, eval.UpgradeRequired)
			if tc.exceed {
				assert.Equal(t, "pro", eval.SuggestedPlan)
			} else {
				assert.Empty(t, eval.SuggestedPlan)
			}
		})
	}
}

func TestEvaluateRemainingNeverNegative(t *testing.T) {
	for limit := int64(0); limit < 20; limit++ {
		for current := int64(0); current < 40; current += 3 {
			eval := Evaluate(&UsageQuota{LimitValue: limit, CurrentUsage: current}, 1, "")
			assert.GreaterOrEqual(t, eval.Remaining, float64(0))
			assert.Equal(t, float64(max(0, limit-current)), eval.Remaining)
		}
	}
}

func TestUtilization(t *testing.T) {
	assert.Equal(t, float64(0), Utilization(500, Unlimited))
	assert.Equal(t, float64(85), Utilization(85, 100))
	assert.Equal(t, float64(120), Utilization(12, 10))
	assert.Equal(t, float64(0), Utilization(0, 0))
	assert.Equal(t, float64(100), Utilization(1, 0))
}

func TestPeriodStart(t *testing.T) {
	// Thursday
	now := time.Date(2024, time.March, 14, 15, 30, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2024, time.March, 14, 0, 0, 0, 0, time.UTC), ResetDaily.PeriodStart(now))
	assert.Equal(t, time.Date(2024, time.March, 11, 0, 0, 0, 0, time.UTC), ResetWeekly.PeriodStart(now))
	assert.Equal(t, time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC), ResetMonthly.PeriodStart(now))
	assert.Equal(t, time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC), ResetYearly.PeriodStart(now))

	sunday := time.Date(2024, time.March, 17, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, time.March, 11, 0, 0, 0, 0, time.UTC), ResetWeekly.PeriodStart(sunday))
}

func TestQuotaTypeForEvent(t *testing.T) {
	quotaType, ok := QuotaTypeForEvent(usagedomain.EventAPICall)
	assert.True(t, ok)
	assert.Equal(t, QuotaAPICalls, quotaType)

	quotaType, ok = QuotaTypeForEvent(usagedomain.EventUserAdded)
	assert.True(t, ok)
	assert.Equal(t, QuotaTeamMembers, quotaType)

	_, ok = QuotaTypeForEvent(usagedomain.EventWebhookDelivered)
	assert.False(t, ok)
}

func TestParsers(t *testing.T) {
	_, err := ParseQuotaType("api_call")
	assert.ErrorIs(t, err, ErrInvalidQuotaType)

	period, err := ParseResetPeriod("")
	assert.NoError(t, err)
	assert.Equal(t, ResetPeriod(""), period)

	_, err = ParseResetPeriod("hourly")
	assert.ErrorIs(t, err, ErrInvalidResetPeriod)
}
