package server

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/quotaflow/internal/observability/logger"
	"github.com/smallbiznis/quotaflow/internal/subject"
	"go.uber.org/zap"
)

const rateLimitReasonSubjectRate = "subject-rate"

// allowUsageTrack applies the per-subject token bucket. It aborts the
// request and returns false when the subject is over its rate.
func (s *Server) allowUsageTrack(c *gin.Context, subj subject.Subject) bool {
	if !s.limiter.Enabled() {
		return true
	}

	ctx := c.Request.Context()
	endpoint := normalizeRateLimitEndpoint(c)

	result, err := s.limiter.Allow(ctx, subj)
	if err != nil {
		logger.FromContext(ctx).Warn("usage track rate limit check failed", zap.Error(err))
		AbortWithError(c, ErrServiceUnavailable)
		return false
	}
	if result == nil || result.Allowed {
		s.obsMetrics.RecordRateLimitAllowed(ctx, endpoint)
		return true
	}

	logger.FromContext(ctx).Warn("usage track rate limit exceeded",
		zap.String("reason", rateLimitReasonSubjectRate),
		zap.String("endpoint", endpoint),
		zap.String("subject_type", string(subj.Type)),
	)
	s.obsMetrics.RecordRateLimitDenied(ctx, endpoint, rateLimitReasonSubjectRate)

	c.Header("Retry-After", retryAfterSeconds(result.RetryAfter))
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	c.Header("X-Rate-Limited-Reason", rateLimitReasonSubjectRate)
	AbortWithError(c, ErrRateLimited)
	return false
}

func retryAfterSeconds(d time.Duration) string {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
