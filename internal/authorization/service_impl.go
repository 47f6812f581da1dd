package authorization

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	organizationdomain "github.com/smallbiznis/quotaflow/internal/organization/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectUsage = "usage"
	ObjectQuota = "quota"
	ObjectAlert = "alert"
)

const (
	ActionUsageTrack = "usage.track"
	ActionUsageView  = "usage.view"

	ActionQuotaView   = "quota.view"
	ActionQuotaCheck  = "quota.check"
	ActionQuotaUpdate = "quota.update"
	ActionQuotaReset  = "quota.reset"

	ActionAlertView        = "alert.view"
	ActionAlertAcknowledge = "alert.acknowledge"
	ActionAlertDismiss     = "alert.dismiss"
)

const (
	actorSystem    = "system"
	platformDomain = "platform"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	OrgSvc   organizationdomain.Service
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	orgSvc   organizationdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		orgSvc:   p.OrgSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor string, orgID string, object string, action string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return ErrInvalidOrganization
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	roleName, err := s.resolveRole(ctx, actor, orgID)
	if err != nil {
		if errors.Is(err, ErrForbidden) {
			s.denied(actor, orgID, object, action)
		}
		return err
	}

	domain := fmt.Sprintf("org:%s", orgID)
	if err := s.ensureGrouping(actor, roleName, domain); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(actor, domain, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.denied(actor, orgID, object, action)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) AuthorizePlatform(ctx context.Context, actor string, object string, action string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}
	if actor == actorSystem {
		return nil
	}

	allowed, err := s.enforcer.Enforce(actor, platformDomain, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.denied(actor, platformDomain, object, action)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) GrantPlatformRole(ctx context.Context, actor string, role string) error {
	actor = strings.TrimSpace(actor)
	if !strings.HasPrefix(actor, "user:") {
		return ErrInvalidActor
	}
	switch role {
	case organizationdomain.RoleOwner, organizationdomain.RoleAdmin:
	default:
		return ErrInvalidRole
	}
	return s.ensureGrouping(actor, "role:"+role, platformDomain)
}

func (s *ServiceImpl) resolveRole(ctx context.Context, actor string, orgID string) (string, error) {
	if actor == actorSystem {
		return "role:system", nil
	}
	if !strings.HasPrefix(actor, "user:") {
		return "", ErrInvalidActor
	}

	userID, err := snowflake.ParseString(strings.TrimPrefix(actor, "user:"))
	if err != nil || userID == 0 {
		return "", ErrInvalidActor
	}
	parsedOrgID, err := snowflake.ParseString(orgID)
	if err != nil || parsedOrgID == 0 {
		return "", ErrInvalidOrganization
	}

	role, err := s.orgSvc.MemberRole(ctx, parsedOrgID, userID)
	if err != nil {
		if errors.Is(err, organizationdomain.ErrNotMember) {
			return "", ErrForbidden
		}
		return "", err
	}
	return fmt.Sprintf("role:%s", role), nil
}

// ensureGrouping keeps exactly one role link for subject within domain so
// membership changes take effect on the next request.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string, domain string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject, "", domain)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == roleName {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		if _, err := s.enforcer.RemoveGroupingPolicy(params...); err != nil {
			return err
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName, domain)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName, domain)
	return err
}

func (s *ServiceImpl) denied(actor, orgID, object, action string) {
	s.log.Info("authorization denied",
		zap.String("actor", actor),
		zap.String("org_id", orgID),
		zap.String("object", object),
		zap.String("action", action),
	)
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	memberPolicies := [][]string{
		{ObjectUsage, ActionUsageTrack},
		{ObjectUsage, ActionUsageView},
		{ObjectQuota, ActionQuotaView},
		{ObjectQuota, ActionQuotaCheck},
		{ObjectAlert, ActionAlertView},
	}
	managerPolicies := append([][]string{
		{ObjectQuota, ActionQuotaUpdate},
		{ObjectQuota, ActionQuotaReset},
		{ObjectAlert, ActionAlertAcknowledge},
		{ObjectAlert, ActionAlertDismiss},
	}, memberPolicies...)

	policies := make([][]string, 0, len(memberPolicies)+3*len(managerPolicies))
	for _, p := range memberPolicies {
		policies = append(policies, []string{"role:member", p[0], p[1]})
	}
	for _, role := range []string{"role:admin", "role:owner", "role:system"} {
		for _, p := range managerPolicies {
			policies = append(policies, []string{role, p[0], p[1]})
		}
	}

	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
