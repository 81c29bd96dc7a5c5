package ratelimit

import (
	"context"
	"fmt"

	"github.com/lineagelab/eventline/internal/config"
	redis "github.com/redis/go-redis/v9"
)

const (
	keyIngestGlobal  = "eventlog:ingest:global"
	keyIngestProject = "eventlog:ingest:project:%d"
)

// IngestLimiter throttles event creation, a shared bucket for the whole
// log plus one per project so a noisy project cannot starve the rest.
// A nil limiter admits everything.
type IngestLimiter struct {
	bucket *TokenBucket

	globalRate   float64
	globalBurst  int
	projectRate  float64
	projectBurst int
}

func NewIngestLimiter(cfg config.Config, client *redis.Client) (*IngestLimiter, error) {
	if !cfg.RateLimitEnabled || client == nil {
		return nil, nil
	}
	if cfg.IngestRate <= 0 || cfg.IngestBurst <= 0 {
		return nil, fmt.Errorf("ingest rate limit must be positive")
	}
	if cfg.ProjectIngestRate <= 0 || cfg.ProjectIngestBurst <= 0 {
		return nil, fmt.Errorf("project ingest rate limit must be positive")
	}

	return &IngestLimiter{
		bucket:       NewTokenBucket(client),
		globalRate:   cfg.IngestRate,
		globalBurst:  cfg.IngestBurst,
		projectRate:  cfg.ProjectIngestRate,
		projectBurst: cfg.ProjectIngestBurst,
	}, nil
}

func (l *IngestLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// AllowIngest checks the global bucket first, then the project's.
func (l *IngestLimiter) AllowIngest(ctx context.Context, projectID int64) (Result, error) {
	if !l.Enabled() {
		return Result{Allowed: true}, nil
	}

	res, err := l.bucket.Allow(ctx, keyIngestGlobal, l.globalRate, l.globalBurst)
	if err != nil || !res.Allowed {
		return res, err
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyIngestProject, projectID), l.projectRate, l.projectBurst)
}
