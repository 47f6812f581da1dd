package usage

import (
	"github.com/smallbiznis/quotaflow/internal/usage/liveevents"
	"github.com/smallbiznis/quotaflow/internal/usage/repository"
	"github.com/smallbiznis/quotaflow/internal/usage/service"
	"go.uber.org/fx"
)

var Module = fx.Module("usage.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(liveevents.NewHub),
)
