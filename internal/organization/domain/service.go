package domain

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
)

const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

type Service interface {
	// MemberRole returns ErrNotMember when userID does not belong to orgID.
	MemberRole(ctx context.Context, orgID, userID snowflake.ID) (string, error)
}

var (
	ErrNotMember           = errors.New("not_member")
	ErrInvalidOrganization = errors.New("invalid_organization")
)

// IsManager reports whether role may change organization-wide settings.
func IsManager(role string) bool {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case RoleOwner, RoleAdmin:
		return true
	default:
		return false
	}
}
