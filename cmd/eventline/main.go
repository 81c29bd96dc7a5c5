package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/lineagelab/eventline/internal/clock"
	"github.com/lineagelab/eventline/internal/commits"
	"github.com/lineagelab/eventline/internal/config"
	"github.com/lineagelab/eventline/internal/event"
	"github.com/lineagelab/eventline/internal/eventsync"
	"github.com/lineagelab/eventline/internal/migration"
	"github.com/lineagelab/eventline/internal/observability"
	"github.com/lineagelab/eventline/internal/project"
	"github.com/lineagelab/eventline/internal/ratelimit"
	"github.com/lineagelab/eventline/internal/server"
	"github.com/lineagelab/eventline/internal/subscriber"
	"github.com/lineagelab/eventline/pkg/db"
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

		event.Module,
		project.Module,
		commits.Module,
		eventsync.Module,
		subscriber.Module,
		ratelimit.Module,

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
