package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/quotaflow/internal/clock"
	"github.com/smallbiznis/quotaflow/internal/config"
	"github.com/smallbiznis/quotaflow/internal/migration"
	"github.com/smallbiznis/quotaflow/internal/observability"
	"github.com/smallbiznis/quotaflow/internal/server"
	"github.com/smallbiznis/quotaflow/pkg/db"
	"go.uber.org/fx"
)

// HTTP API only. Run apps/scheduler next to it for periodic resets.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNodeID)
}
