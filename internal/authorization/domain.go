package authorization

import (
	"context"
	"errors"
)

type Service interface {
	// Authorize checks that actor may perform action on object inside the
	// organization. Actors are "system" or "user:<id>".
	Authorize(ctx context.Context, actor string, orgID string, object string, action string) error
	// AuthorizePlatform checks actor against roles granted outside any
	// organization, used for operations on personal subjects.
	AuthorizePlatform(ctx context.Context, actor string, object string, action string) error
	// GrantPlatformRole links actor to role:<role> in the platform domain.
	GrantPlatformRole(ctx context.Context, actor string, role string) error
}

var (
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidActor        = errors.New("invalid_actor")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidObject       = errors.New("invalid_object")
	ErrInvalidAction       = errors.New("invalid_action")
	ErrInvalidRole         = errors.New("invalid_role")
)
