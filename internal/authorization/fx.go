package authorization

import (
	"context"

	"github.com/smallbiznis/quotaflow/internal/config"
	organizationdomain "github.com/smallbiznis/quotaflow/internal/organization/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("authorization.service",
	fx.Provide(NewEnforcer),
	fx.Provide(NewService),
	fx.Invoke(grantPlatformAdmins),
)

func grantPlatformAdmins(cfg config.Config, svc Service, log *zap.Logger) error {
	for _, id := range cfg.PlatformAdmins {
		if err := svc.GrantPlatformRole(context.Background(), "user:"+id, organizationdomain.RoleAdmin); err != nil {
			return err
		}
		log.Info("platform admin granted", zap.String("user_id", id))
	}
	return nil
}
