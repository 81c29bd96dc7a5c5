package subscriber

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("subscriber",
	fx.Provide(NewRegistry),
	fx.Provide(NewCountingCapacityFinder),
	fx.Provide(NewDispatcher),
	fx.Invoke(StartDispatcher),
)

func StartDispatcher(lc fx.Lifecycle, dispatcher *Dispatcher) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go dispatcher.RunForever(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})

			return nil
		},
	})
}
