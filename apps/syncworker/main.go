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
	"github.com/lineagelab/eventline/pkg/db"
	"go.uber.org/fx"
)

// Sync-only worker: runs commit sync, cleanup and recovery jobs without the
// HTTP surface or the dispatcher. Subscriber registrations are in-memory, so
// dispatch always runs in the process that serves /subscriptions.
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
