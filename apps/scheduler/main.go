package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/wipline/internal/audit"
	"github.com/smallbiznis/wipline/internal/authorization"
	"github.com/smallbiznis/wipline/internal/clock"
	"github.com/smallbiznis/wipline/internal/config"
	"github.com/smallbiznis/wipline/internal/finance"
	"github.com/smallbiznis/wipline/internal/invoice"
	"github.com/smallbiznis/wipline/internal/migration"
	"github.com/smallbiznis/wipline/internal/observability"
	"github.com/smallbiznis/wipline/internal/providers"
	"github.com/smallbiznis/wipline/internal/ratelimit"
	"github.com/smallbiznis/wipline/internal/scheduler"
	"github.com/smallbiznis/wipline/internal/tenant"
	"github.com/smallbiznis/wipline/internal/wip"
	"github.com/smallbiznis/wipline/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Domain services required by the nightly jobs.
		scheduler.Module,
		wip.Module,
		invoice.Module,
		finance.Module,
		tenant.Module,
		audit.Module,
		authorization.Module,
		ratelimit.Module,
		providers.Module,

		// No server module.
		fx.Invoke(scheduler.StartRunLoop),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
