package alert

import (
	"github.com/smallbiznis/quotaflow/internal/alert/repository"
	"github.com/smallbiznis/quotaflow/internal/alert/service"
	"go.uber.org/fx"
)

var Module = fx.Module("alert.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
