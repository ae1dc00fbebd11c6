// Package worker provides background job processing for SafeRoute.
package worker

import "time"

// Job types carried in Pub/Sub job messages.
const (
	JobHistoryRetention = "history_retention"
	JobHealthCheck      = "health_check"
)

// Config holds configuration for the background jobs.
type Config struct {
	// RetentionInterval is how often the retention job runs on its own
	// schedule. Default: 24 hours
	RetentionInterval time.Duration

	// Concurrency is the number of probes run at once by the health check.
	// Default: 3
	Concurrency int

	// ProbeTimeout bounds each health check probe.
	// Default: 10 seconds
	ProbeTimeout time.Duration
}

// DefaultConfig returns the default job configuration.
func DefaultConfig() Config {
	return Config{
		RetentionInterval: 24 * time.Hour,
		Concurrency:       3,
		ProbeTimeout:      10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RetentionInterval <= 0 {
		c.RetentionInterval = d.RetentionInterval
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = d.ProbeTimeout
	}
	return c
}
