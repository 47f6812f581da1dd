package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/quotaflow/internal/organization/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Repo domain.Repository
}

type service struct {
	db   *gorm.DB
	repo domain.Repository
}

func NewService(p Params) domain.Service {
	return &service{db: p.DB, repo: p.Repo}
}

func (s *service) MemberRole(ctx context.Context, orgID, userID snowflake.ID) (string, error) {
	if orgID == 0 {
		return "", domain.ErrInvalidOrganization
	}
	if userID == 0 {
		return "", domain.ErrNotMember
	}

	member, err := s.repo.FindMember(ctx, s.db, orgID, userID)
	if err != nil {
		return "", err
	}
	if member == nil {
		return "", domain.ErrNotMember
	}
	return strings.ToLower(strings.TrimSpace(member.Role)), nil
}
