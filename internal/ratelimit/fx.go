package ratelimit

import (
	"github.com/lineagelab/eventline/internal/config"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

type limiterParams struct {
	fx.In

	Config config.Config
	Client *redis.Client `optional:"true"`
}

var Module = fx.Module("rate.limit",
	fx.Provide(func(p limiterParams) (*IngestLimiter, error) {
		return NewIngestLimiter(p.Config, p.Client)
	}),
)
