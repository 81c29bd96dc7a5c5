package subscriber

import "time"

// Config controls dispatch pacing.
type Config struct {
	PollInterval        time.Duration
	RetryBackoff        time.Duration
	RestartDelay        time.Duration
	SendTimeout         time.Duration
	Concurrency         int
	RetryDelayOnFailure time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval:        time.Second,
		RetryBackoff:        5 * time.Second,
		RestartDelay:        5 * time.Second,
		SendTimeout:         30 * time.Second,
		Concurrency:         1,
		RetryDelayOnFailure: 3 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaults.RetryBackoff
	}
	if c.RestartDelay <= 0 {
		c.RestartDelay = defaults.RestartDelay
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = defaults.SendTimeout
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaults.Concurrency
	}
	if c.RetryDelayOnFailure <= 0 {
		c.RetryDelayOnFailure = defaults.RetryDelayOnFailure
	}
	return c
}
