package eventsync

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls sync worker intervals and batch sizes.
type Config struct {
	RunInterval       time.Duration
	BatchSize         int
	InsertBatchSize   int
	CommitSyncEvery   time.Duration
	GlobalSyncEvery   time.Duration
	ExpediteDelay     time.Duration
	RecoveryThreshold time.Duration
	ProjectLockTTL    time.Duration
	EnabledJobs       []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:       time.Minute,
		BatchSize:         10,
		InsertBatchSize:   50,
		CommitSyncEvery:   24 * time.Hour,
		GlobalSyncEvery:   7 * 24 * time.Hour,
		ExpediteDelay:     5 * time.Second,
		RecoveryThreshold: 15 * time.Minute,
		ProjectLockTTL:    5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.InsertBatchSize <= 0 {
		c.InsertBatchSize = defaults.InsertBatchSize
	}
	if c.CommitSyncEvery <= 0 {
		c.CommitSyncEvery = defaults.CommitSyncEvery
	}
	if c.GlobalSyncEvery <= 0 {
		c.GlobalSyncEvery = defaults.GlobalSyncEvery
	}
	if c.ExpediteDelay <= 0 {
		c.ExpediteDelay = defaults.ExpediteDelay
	}
	if c.RecoveryThreshold <= 0 {
		c.RecoveryThreshold = defaults.RecoveryThreshold
	}
	if c.ProjectLockTTL <= 0 {
		c.ProjectLockTTL = defaults.ProjectLockTTL
	}
	return c
}

// FrequencyFor returns the rate-limit window for a sync category.
func (c Config) FrequencyFor(category string) time.Duration {
	if category == CategoryGlobalCommitSync {
		return c.GlobalSyncEvery
	}
	return c.CommitSyncEvery
}

// ProvideConfig reads worker tuning from the environment.
func ProvideConfig() Config {
	cfg := Config{
		RunInterval:       envDuration("EVENTSYNC_RUN_INTERVAL"),
		BatchSize:         envInt("EVENTSYNC_BATCH_SIZE"),
		CommitSyncEvery:   envDuration("EVENTSYNC_COMMIT_SYNC_EVERY"),
		GlobalSyncEvery:   envDuration("EVENTSYNC_GLOBAL_SYNC_EVERY"),
		RecoveryThreshold: envDuration("EVENTSYNC_RECOVERY_THRESHOLD"),
	}
	if jobs := strings.TrimSpace(os.Getenv("EVENTSYNC_ENABLED_JOBS")); jobs != "" {
		for _, job := range strings.Split(jobs, ",") {
			if job = strings.TrimSpace(job); job != "" {
				cfg.EnabledJobs = append(cfg.EnabledJobs, job)
			}
		}
	}
	return cfg.withDefaults()
}

func envDuration(key string) time.Duration {
	value, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return 0
	}
	return value
}

func envInt(key string) int {
	value, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return 0
	}
	return value
}
