package trip

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Hazard is a candidate alert reported by a HazardSource.
type Hazard struct {
	Severity Severity
	Message  string
	Source   string
}

// HazardSource reports hazards relevant to a trip at its current progress.
type HazardSource interface {
	Hazards(ctx context.Context, snap Snapshot) ([]Hazard, error)
}

// StaticHazards always reports the same hazards.
type StaticHazards []Hazard

// Hazards implements HazardSource.
func (h StaticHazards) Hazards(_ context.Context, _ Snapshot) ([]Hazard, error) {
	return h, nil
}

// ReducedLightingMessage is the default hazard warning.
const ReducedLightingMessage = "Approaching area with reduced lighting. Stay alert."

// DefaultHazards is used when no live hazard feed is configured.
func DefaultHazards() StaticHazards {
	return StaticHazards{
		{Severity: SeverityWarning, Message: ReducedLightingMessage, Source: "lighting"},
	}
}

// AlertPolicy holds the runtime-tunable alert generation knobs.
type AlertPolicy struct {
	// Disabled suppresses all generated alerts.
	Disabled bool

	// Chance is the probability in [0,1] that an evaluation emits an alert.
	Chance float64

	// DedupWindow is the number of evaluations during which a message is not repeated.
	DedupWindow int
}

// DefaultAlertPolicy emits on roughly three in ten evaluations.
func DefaultAlertPolicy() AlertPolicy {
	return AlertPolicy{Chance: 0.3, DedupWindow: 1}
}

// PolicySource overrides the alert policy at evaluation time, e.g. from feature flags.
type PolicySource interface {
	AlertPolicy(ctx context.Context, fallback AlertPolicy) AlertPolicy
}

// AlertGeneratorConfig holds configuration for an alert generator.
type AlertGeneratorConfig struct {
	// Source supplies hazard candidates (default: DefaultHazards).
	Source HazardSource

	// Rand decides whether an evaluation emits (default: EntropyRand).
	Rand Rand

	// Policy is the base policy (default: DefaultAlertPolicy).
	Policy *AlertPolicy

	// Overrides adjusts the policy per evaluation (optional).
	Overrides PolicySource

	// Clock stamps alerts (default: RealClock).
	Clock Clock

	// Logger for generator operations.
	Logger zerolog.Logger
}

// AlertGenerator decides, once per evaluation, whether to raise a new alert
// on a session. It keeps per-session dedup state, so use one per session.
type AlertGenerator struct {
	source    HazardSource
	rand      Rand
	policy    AlertPolicy
	overrides PolicySource
	clock     Clock
	logger    zerolog.Logger

	mu          sync.Mutex
	evaluations int
	lastEmitted map[string]int
}

// NewAlertGenerator creates a new alert generator.
func NewAlertGenerator(cfg AlertGeneratorConfig) *AlertGenerator {
	source := cfg.Source
	if source == nil {
		source = DefaultHazards()
	}

	rnd := cfg.Rand
	if rnd == nil {
		rnd = EntropyRand{}
	}

	policy := DefaultAlertPolicy()
	if cfg.Policy != nil {
		policy = *cfg.Policy
	}

	clock := cfg.Clock
	if clock == nil {
		clock = RealClock{}
	}

	return &AlertGenerator{
		source:      source,
		rand:        rnd,
		policy:      policy,
		overrides:   cfg.Overrides,
		clock:       clock,
		logger:      cfg.Logger,
		lastEmitted: make(map[string]int),
	}
}

// Evaluate runs one evaluation against s and returns the raised alert, or nil
// when nothing was emitted. Errors come only from the hazard source.
func (g *AlertGenerator) Evaluate(ctx context.Context, s *Session) (*Alert, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.evaluations++

	policy := g.policy
	if g.overrides != nil {
		policy = g.overrides.AlertPolicy(ctx, policy)
	}
	if policy.Disabled {
		return nil, nil
	}

	if s.State() != StateNavigating {
		return nil, nil
	}

	// Emit when the draw lands in the top Chance of [0,1).
	if g.rand.Float64() <= 1-policy.Chance {
		return nil, nil
	}

	hazards, err := g.source.Hazards(ctx, s.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("fetching hazards: %w", err)
	}

	candidate, ok := g.pick(hazards, policy.DedupWindow)
	if !ok {
		return nil, nil
	}

	alert := Alert{
		ID:        NewAlertID(),
		Severity:  candidate.Severity,
		Message:   candidate.Message,
		Source:    candidate.Source,
		CreatedAt: g.clock.Now(),
	}

	accepted, evicted, err := s.offerAlert(alert, true)
	if err != nil {
		if errors.Is(err, ErrInvalidState) {
			return nil, nil
		}
		return nil, err
	}
	if !accepted {
		g.logger.Debug().
			Str("session_id", s.ID()).
			Str("severity", string(alert.Severity)).
			Msg("alert suppressed by replacement policy")
		return nil, nil
	}

	g.lastEmitted[alert.Message] = g.evaluations

	ev := g.logger.Info().
		Str("session_id", s.ID()).
		Str("alert_id", alert.ID).
		Str("severity", string(alert.Severity))
	if evicted != nil {
		ev = ev.Str("evicted_alert_id", evicted.ID)
	}
	ev.Msg("safety alert raised")

	return &alert, nil
}

// pick returns the most severe hazard whose message was not emitted within
// the dedup window. Earlier hazards win ties. A recent duplicate yields to the
// next most severe hazard rather than suppressing the evaluation.
func (g *AlertGenerator) pick(hazards []Hazard, window int) (Hazard, bool) {
	var (
		best  Hazard
		found bool
	)
	for _, h := range hazards {
		if !h.Severity.Valid() || h.Message == "" {
			continue
		}
		if last, ok := g.lastEmitted[h.Message]; ok && g.evaluations-last <= window {
			continue
		}
		if !found || h.Severity.Rank() > best.Severity.Rank() {
			best = h
			found = true
		}
	}
	return best, found
}

// Evaluations returns how many evaluations have run.
func (g *AlertGenerator) Evaluations() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.evaluations
}
