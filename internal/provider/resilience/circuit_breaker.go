// Package resilience wraps collaborator HTTP calls with retries and a circuit
// breaker, and tracks each collaborator's health for the ops endpoints.
package resilience

import (
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerConfig configures a collaborator's circuit breaker.
type BreakerConfig struct {
	// Name identifies the collaborator.
	Name string

	// HalfOpenProbes is how many requests pass while half-open. Default: 1
	HalfOpenProbes uint32

	// Cooldown is how long the breaker stays open before probing. Alerts are
	// evaluated every few seconds, so this stays short. Default: 30 seconds
	Cooldown time.Duration

	// MinRequests is the sample size before FailureRatio applies. Default: 5
	MinRequests uint32

	// FailureRatio opens the breaker once reached. Default: 0.5
	FailureRatio float64

	// ConsecutiveFailures opens the breaker after that many failures in a
	// row regardless of ratio. Zero disables the rule.
	ConsecutiveFailures uint32

	// OnStateChange observes transitions (optional).
	OnStateChange func(name string, from, to gobreaker.State)
}

// DefaultBreakerConfig returns the breaker settings used for collaborators.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:                name,
		HalfOpenProbes:      1,
		Cooldown:            30 * time.Second,
		MinRequests:         5,
		FailureRatio:        0.5,
		ConsecutiveFailures: 10,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	d := DefaultBreakerConfig(c.Name)
	if c.HalfOpenProbes == 0 {
		c.HalfOpenProbes = d.HalfOpenProbes
	}
	if c.Cooldown <= 0 {
		c.Cooldown = d.Cooldown
	}
	if c.MinRequests == 0 {
		c.MinRequests = d.MinRequests
	}
	if c.FailureRatio <= 0 {
		c.FailureRatio = d.FailureRatio
	}
	return c
}

// shouldTrip reports whether counts open the breaker.
func (c BreakerConfig) shouldTrip(counts gobreaker.Counts) bool {
	if c.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= c.ConsecutiveFailures {
		return true
	}
	if counts.Requests < c.MinRequests {
		return false
	}
	return float64(counts.TotalFailures)/float64(counts.Requests) >= c.FailureRatio
}

func newBreaker[T any](cfg BreakerConfig) *gobreaker.CircuitBreaker[T] {
	cfg = cfg.withDefaults()
	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:          cfg.Name,
		MaxRequests:   cfg.HalfOpenProbes,
		Timeout:       cfg.Cooldown,
		ReadyToTrip:   cfg.shouldTrip,
		OnStateChange: cfg.OnStateChange,
	})
}
