package domain

import "math"

// Evaluation is the outcome of asking whether requested more units fit.
type Evaluation struct {
	Allowed         bool
	Remaining       float64
	WouldExceed     bool
	UpgradeRequired bool
	SuggestedPlan   string
}

// Evaluate decides whether requested units fit in quota. A nil quota or an
// unlimited one always allows and reports infinite remaining capacity.
func Evaluate(quota *UsageQuota, requested int64, suggestedPlan string) Evaluation {
	if quota == nil || quota.IsUnlimited() {
		return Evaluation{Allowed: true, Remaining: math.Inf(1)}
	}

	remaining := quota.LimitValue - quota.CurrentUsage
	if remaining < 0 {
		remaining = 0
	}

	wouldExceed := requested > remaining
	eval := Evaluation{
		Allowed:         !wouldExceed,
		Remaining:       float64(remaining),
		WouldExceed:     wouldExceed,
		UpgradeRequired: wouldExceed,
	}
	if wouldExceed {
		eval.SuggestedPlan = suggestedPlan
	}
	return eval
}

// Utilization returns current as a percentage of limit, 0 when unlimited.
func Utilization(current, limit int64) float64 {
	if limit == Unlimited {
		return 0
	}
	if limit == 0 {
		// any usage against a zero limit counts as fully consumed
		if current > 0 {
			return 100
		}
		return 0
	}
	return float64(current) / float64(limit) * 100
}
