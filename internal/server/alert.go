package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	alertdomain "github.com/smallbiznis/quotaflow/internal/alert/domain"
	"github.com/smallbiznis/quotaflow/internal/authorization"
)

func (s *Server) ListAlerts(c *gin.Context) {
	subj, err := s.resolveSubject(c, c.Query("organizationId"), authorization.ObjectAlert, authorization.ActionAlertView)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	acknowledged, err := parseOptionalBool(c.Query("acknowledged"), "acknowledged")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	limit, err := parseLimitQuery(c.Query("limit"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	alerts, err := s.alertSvc.List(c.Request.Context(), alertdomain.ListRequest{
		Subject:      subj,
		Acknowledged: acknowledged,
		Limit:        limit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, alerts)
}

func (s *Server) AcknowledgeAlert(c *gin.Context) {
	alert, ok := s.loadAlertFor(c, authorization.ActionAlertAcknowledge)
	if !ok {
		return
	}

	updated, err := s.alertSvc.Acknowledge(c.Request.Context(), alert.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, updated)
}

func (s *Server) DismissAlert(c *gin.Context) {
	alert, ok := s.loadAlertFor(c, authorization.ActionAlertDismiss)
	if !ok {
		return
	}

	if err := s.alertSvc.Dismiss(c.Request.Context(), alert.ID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// loadAlertFor fetches the alert named in the path and checks the caller may
// perform action on its owner. Alerts of other users read as missing.
func (s *Server) loadAlertFor(c *gin.Context, action string) (*alertdomain.BillingAlert, bool) {
	id, err := parseIDParam(c.Param("id"), "id")
	if err != nil {
		AbortWithError(c, err)
		return nil, false
	}

	alert, err := s.alertSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return nil, false
	}
	if err := s.authorizeSubject(c, alert.Subject(), authorization.ObjectAlert, action); err != nil {
		AbortWithError(c, err)
		return nil, false
	}
	return alert, true
}
