package server

import (
	"math"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	alertdomain "github.com/smallbiznis/quotaflow/internal/alert/domain"
	"github.com/smallbiznis/quotaflow/internal/authorization"
	trackingdomain "github.com/smallbiznis/quotaflow/internal/tracking/domain"
	usagedomain "github.com/smallbiznis/quotaflow/internal/usage/domain"
)

type trackUsageRequest struct {
	EventType      string         `json:"eventType" binding:"required"`
	Quantity       int64          `json:"quantity" binding:"required,min=1"`
	Metadata       map[string]any `json:"metadata"`
	OrganizationID string         `json:"organizationId"`
}

type quotaStatusResponse struct {
	Current    int64    `json:"current"`
	Limit      int64    `json:"limit"`
	Remaining  *float64 `json:"remaining"`
	Percentage float64  `json:"percentage"`
}

type trackUsageResponse struct {
	Success     bool                       `json:"success"`
	UsageEvent  *usagedomain.UsageEvent    `json:"usageEvent"`
	QuotaStatus quotaStatusResponse        `json:"quotaStatus"`
	Alerts      []alertdomain.BillingAlert `json:"alerts"`
}

func (s *Server) TrackUsage(c *gin.Context) {
	var req trackUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}
	if eventType := strings.TrimSpace(req.EventType); eventType != "" {
		c.Set("event_type", eventType)
	}

	subj, err := s.resolveSubject(c, req.OrganizationID, authorization.ObjectUsage, authorization.ActionUsageTrack)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !s.allowUsageTrack(c, subj) {
		return
	}

	result, err := s.trackSvc.Track(c.Request.Context(), trackingdomain.TrackRequest{
		Subject:   subj,
		EventType: usagedomain.EventType(strings.TrimSpace(req.EventType)),
		Quantity:  req.Quantity,
		Metadata:  req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	alerts := result.Alerts
	if alerts == nil {
		alerts = []alertdomain.BillingAlert{}
	}
	c.JSON(http.StatusOK, trackUsageResponse{
		Success:    true,
		UsageEvent: result.UsageEvent,
		QuotaStatus: quotaStatusResponse{
			Current:    result.QuotaStatus.Current,
			Limit:      result.QuotaStatus.Limit,
			Remaining:  finiteOrNil(result.QuotaStatus.Remaining),
			Percentage: result.QuotaStatus.Percentage,
		},
		Alerts: alerts,
	})
}

func (s *Server) ListUsageEvents(c *gin.Context) {
	subj, err := s.resolveSubject(c, c.Query("organizationId"), authorization.ObjectUsage, authorization.ActionUsageView)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	limit, err := parseLimitQuery(c.Query("limit"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.usageSvc.List(c.Request.Context(), usagedomain.ListRequest{
		Subject:   subj,
		EventType: usagedomain.EventType(strings.TrimSpace(c.Query("eventType"))),
		PageToken: strings.TrimSpace(c.Query("pageToken")),
		Limit:     limit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) UsageAnalytics(c *gin.Context) {
	subj, err := s.resolveSubject(c, c.Query("organizationId"), authorization.ObjectUsage, authorization.ActionUsageView)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	timeRange, err := usagedomain.ParseTimeRange(c.Query("timeRange"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	analytics, err := s.usageSvc.Analytics(c.Request.Context(), usagedomain.AnalyticsRequest{
		Subject:            subj,
		TimeRange:          timeRange,
		EventType:          usagedomain.EventType(strings.TrimSpace(c.Query("eventType"))),
		IncludeProjections: parseBoolQuery(c.Query("includeProjections")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, analytics)
}

// finiteOrNil encodes unlimited capacity as JSON null.
func finiteOrNil(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}
