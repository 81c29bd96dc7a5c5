package event

import (
	"context"

	eventdomain "github.com/lineagelab/eventline/internal/event/domain"
	"github.com/lineagelab/eventline/internal/event/repository"
	"github.com/lineagelab/eventline/internal/observability/metrics"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("event.store",
	fx.Provide(repository.Provide),
	fx.Provide(repository.NewStatusChanger),
	fx.Invoke(seedGauges),
)

func seedGauges(lc fx.Lifecycle, conn *gorm.DB, events eventdomain.Repository) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return SeedStatusGauges(ctx, conn, events, metrics.EventLog())
		},
	})
}
