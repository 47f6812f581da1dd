package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/quotaflow/internal/clock"
	"github.com/smallbiznis/quotaflow/internal/config"
	"github.com/smallbiznis/quotaflow/internal/observability"
	"github.com/smallbiznis/quotaflow/internal/quota"
	"github.com/smallbiznis/quotaflow/internal/ratelimit"
	"github.com/smallbiznis/quotaflow/internal/scheduler"
	"github.com/smallbiznis/quotaflow/internal/usage"
	"github.com/smallbiznis/quotaflow/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// services the reset and close jobs need
		quota.Module,
		usage.Module,
		// redis client for the per-job lock
		ratelimit.Module,

		// No server module!
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNodeID)
}
