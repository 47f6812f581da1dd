package server

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/quotaflow/internal/authorization"
	obscontext "github.com/smallbiznis/quotaflow/internal/observability/context"
	"github.com/smallbiznis/quotaflow/internal/subject"
)

type ActorType string

const (
	ActorUser   ActorType = "user"
	ActorSystem ActorType = "system"
)

type Actor struct {
	Type ActorType
	ID   snowflake.ID
}

func (a Actor) subject() string {
	switch a.Type {
	case ActorUser:
		return fmt.Sprintf("user:%s", a.ID.String())
	case ActorSystem:
		return "system"
	default:
		return ""
	}
}

func (s *Server) actorFromContext(c *gin.Context) (Actor, bool) {
	userID, ok := s.userIDFromSession(c)
	if !ok {
		return Actor{}, false
	}
	return Actor{Type: ActorUser, ID: userID}, true
}

// platformActions on a personal subject need a platform role; the rest are
// open to the subject's own user.
var platformActions = map[string]bool{
	authorization.ActionQuotaUpdate: true,
}

// resolveSubject picks whose usage a request acts on. Without an
// organization id the caller's own user is the subject; with one the caller
// must be allowed action on object inside that organization.
func (s *Server) resolveSubject(c *gin.Context, rawOrgID string, object string, action string) (subject.Subject, error) {
	actor, ok := s.actorFromContext(c)
	if !ok {
		return subject.Subject{}, ErrUnauthorized
	}

	rawOrgID = strings.TrimSpace(rawOrgID)
	if rawOrgID == "" {
		if platformActions[action] {
			if err := s.authorizeForPlatform(c, actor, object, action); err != nil {
				return subject.Subject{}, err
			}
		}
		return subject.User(actor.ID), nil
	}

	orgID, err := snowflake.ParseString(rawOrgID)
	if err != nil || orgID == 0 {
		return subject.Subject{}, newValidationError("organizationId", "invalid_organization", "invalid organization id")
	}

	if err := s.authorizeForOrg(c, actor, orgID, object, action); err != nil {
		return subject.Subject{}, err
	}

	c.Request = c.Request.WithContext(obscontext.WithOrgID(c.Request.Context(), orgID.String()))
	return subject.Organization(orgID), nil
}

// authorizeSubject checks access to a subject that is already known, e.g.
// the owner of a stored alert. Personal subjects belong to their user only.
func (s *Server) authorizeSubject(c *gin.Context, subj subject.Subject, object string, action string) error {
	actor, ok := s.actorFromContext(c)
	if !ok {
		return ErrUnauthorized
	}
	if !subj.IsOrganization() {
		if subj.ID != actor.ID {
			return ErrNotFound
		}
		return nil
	}
	return s.authorizeForOrg(c, actor, subj.ID, object, action)
}

func (s *Server) authorizeForOrg(c *gin.Context, actor Actor, orgID snowflake.ID, object string, action string) error {
	if s.authzSvc == nil {
		return ErrForbidden
	}
	return s.authzSvc.Authorize(c.Request.Context(), actor.subject(), orgID.String(), object, action)
}

func (s *Server) authorizeForPlatform(c *gin.Context, actor Actor, object string, action string) error {
	if s.authzSvc == nil {
		return ErrForbidden
	}
	return s.authzSvc.AuthorizePlatform(c.Request.Context(), actor.subject(), object, action)
}
