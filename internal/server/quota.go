package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/quotaflow/internal/authorization"
	quotadomain "github.com/smallbiznis/quotaflow/internal/quota/domain"
)

type checkQuotaRequest struct {
	QuotaType       string `json:"quotaType" binding:"required"`
	RequestedAmount int64  `json:"requestedAmount" binding:"required,min=1"`
	OrganizationID  string `json:"organizationId"`
}

type checkQuotaResponse struct {
	Allowed         bool                    `json:"allowed"`
	Quota           *quotadomain.UsageQuota `json:"quota"`
	Remaining       *float64                `json:"remaining"`
	WouldExceed     bool                    `json:"wouldExceed"`
	UpgradeRequired bool                    `json:"upgradeRequired"`
	SuggestedPlan   string                  `json:"suggestedPlan,omitempty"`
}

type updateQuotaRequest struct {
	QuotaType      string `json:"quotaType" binding:"required"`
	LimitValue     *int64 `json:"limitValue" binding:"required,min=-1"`
	ResetPeriod    string `json:"resetPeriod"`
	OrganizationID string `json:"organizationId"`
}

type resetQuotasRequest struct {
	QuotaTypes     []string `json:"quotaTypes"`
	ResetPeriod    string   `json:"resetPeriod"`
	OrganizationID string   `json:"organizationId"`
}

type resetQuotasResponse struct {
	Success    bool  `json:"success"`
	ResetCount int64 `json:"resetCount"`
}

func (s *Server) CheckQuota(c *gin.Context) {
	var req checkQuotaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}
	quotaType, err := quotadomain.ParseQuotaType(req.QuotaType)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	subj, err := s.resolveSubject(c, req.OrganizationID, authorization.ObjectQuota, authorization.ActionQuotaCheck)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.quotaSvc.Check(c.Request.Context(), quotadomain.CheckRequest{
		Subject:         subj,
		QuotaType:       quotaType,
		RequestedAmount: req.RequestedAmount,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, checkQuotaResponse{
		Allowed:         result.Evaluation.Allowed,
		Quota:           result.Quota,
		Remaining:       finiteOrNil(result.Evaluation.Remaining),
		WouldExceed:     result.Evaluation.WouldExceed,
		UpgradeRequired: result.Evaluation.UpgradeRequired,
		SuggestedPlan:   result.Evaluation.SuggestedPlan,
	})
}

func (s *Server) ListQuotas(c *gin.Context) {
	subj, err := s.resolveSubject(c, c.Query("organizationId"), authorization.ObjectQuota, authorization.ActionQuotaView)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	quotas, err := s.quotaSvc.List(c.Request.Context(), subj)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, quotas)
}

func (s *Server) UpdateQuota(c *gin.Context) {
	var req updateQuotaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}
	quotaType, err := quotadomain.ParseQuotaType(req.QuotaType)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	resetPeriod, err := quotadomain.ParseResetPeriod(req.ResetPeriod)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	subj, err := s.resolveSubject(c, req.OrganizationID, authorization.ObjectQuota, authorization.ActionQuotaUpdate)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	quota, err := s.quotaSvc.SetLimit(c.Request.Context(), quotadomain.SetLimitRequest{
		Subject:     subj,
		QuotaType:   quotaType,
		LimitValue:  *req.LimitValue,
		ResetPeriod: resetPeriod,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, quota)
}

func (s *Server) ResetQuotas(c *gin.Context) {
	var req resetQuotasRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	quotaTypes := make([]quotadomain.QuotaType, 0, len(req.QuotaTypes))
	for _, raw := range req.QuotaTypes {
		quotaType, err := quotadomain.ParseQuotaType(raw)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		quotaTypes = append(quotaTypes, quotaType)
	}
	resetPeriod, err := quotadomain.ParseResetPeriod(req.ResetPeriod)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	subj, err := s.resolveSubject(c, req.OrganizationID, authorization.ObjectQuota, authorization.ActionQuotaReset)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	count, err := s.quotaSvc.Reset(ctx, quotadomain.ResetFilter{
		Subject:     &subj,
		QuotaTypes:  quotaTypes,
		ResetPeriod: resetPeriod,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.obsMetrics.RecordQuotaReset(ctx, "api", count)

	c.JSON(http.StatusOK, resetQuotasResponse{Success: true, ResetCount: count})
}
