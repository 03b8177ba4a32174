package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/wipline/internal/clock"
	"github.com/smallbiznis/wipline/internal/config"
	"github.com/smallbiznis/wipline/internal/migration"
	"github.com/smallbiznis/wipline/internal/observability"
	"github.com/smallbiznis/wipline/internal/server"
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
		server.Module,
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
