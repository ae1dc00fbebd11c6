package trip

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Recorder persists the final snapshot of every terminated session.
type Recorder interface {
	RecordTrip(ctx context.Context, snap Snapshot) error
}

// Config holds configuration for the session registry.
type Config struct {
	// Clock drives session timers and timestamps (default: RealClock).
	Clock Clock

	// Logger for registry operations.
	Logger zerolog.Logger

	// TickInterval is the progress cadence (default: 3s).
	TickInterval time.Duration

	// AlertInterval is the alert evaluation cadence (default: 8s).
	AlertInterval time.Duration

	// PruneAfter is how long a terminal session stays addressable (default: 1m).
	PruneAfter time.Duration

	// SweepInterval is how often Run sweeps (default: 30s).
	SweepInterval time.Duration

	// Generator is the template for each session's alert generator.
	Generator AlertGeneratorConfig

	// DisableAlerts skips alert evaluation entirely.
	DisableAlerts bool

	// Observer receives every event of every session (optional).
	Observer Observer

	// Recorder stores terminated trips (optional).
	Recorder Recorder

	// RecordTimeout bounds a single RecordTrip call (default: 5s).
	RecordTimeout time.Duration

	// Metrics for session lifecycle (optional).
	Metrics *Metrics
}

type entry struct {
	session *Session
	monitor *Monitor
}

// Registry is the process-wide set of trip sessions. It enforces at most one
// non-terminal session per rider.
type Registry struct {
	clock         Clock
	logger        zerolog.Logger
	tickInterval  time.Duration
	alertInterval time.Duration
	pruneAfter    time.Duration
	sweepInterval time.Duration
	generator     AlertGeneratorConfig
	disableAlerts bool
	observer      Observer
	recorder      Recorder
	recordTimeout time.Duration
	metrics       *Metrics

	// Lock order: registry before session. Terminal hooks run without either.
	mu      sync.Mutex
	entries map[string]*entry
	byRider map[string]string
	closed  bool

	ctx       context.Context
	cancelAll context.CancelFunc

	// hooks counts sessions whose terminal hook has not finished, including
	// the trip record it writes. Add happens under mu while !closed.
	hooks sync.WaitGroup
}

// NewRegistry creates a new session registry.
func NewRegistry(cfg Config) *Registry {
	clock := cfg.Clock
	if clock == nil {
		clock = RealClock{}
	}

	pruneAfter := cfg.PruneAfter
	if pruneAfter <= 0 {
		pruneAfter = time.Minute
	}

	sweepInterval := cfg.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = 30 * time.Second
	}

	recordTimeout := cfg.RecordTimeout
	if recordTimeout <= 0 {
		recordTimeout = 5 * time.Second
	}

	gen := cfg.Generator
	if gen.Clock == nil {
		gen.Clock = clock
	}
	if gen.Rand == nil {
		gen.Rand = EntropyRand{}
	}
	gen.Logger = cfg.Logger

	ctx, cancel := context.WithCancel(context.Background())

	return &Registry{
		clock:         clock,
		logger:        cfg.Logger,
		tickInterval:  cfg.TickInterval,
		alertInterval: cfg.AlertInterval,
		pruneAfter:    pruneAfter,
		sweepInterval: sweepInterval,
		generator:     gen,
		disableAlerts: cfg.DisableAlerts,
		observer:      cfg.Observer,
		recorder:      cfg.Recorder,
		recordTimeout: recordTimeout,
		metrics:       cfg.Metrics,
		entries:       make(map[string]*entry),
		byRider:       make(map[string]string),
		ctx:           ctx,
		cancelAll:     cancel,
	}
}

// Create starts a new navigating session for rider along route, with its
// progress and alert timers running.
func (r *Registry) Create(riderID string, route Route) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}

	if id, ok := r.byRider[riderID]; ok {
		if e, ok := r.entries[id]; ok && !e.session.State().IsTerminal() {
			return nil, ErrSessionAlreadyActive
		}
	}

	s := NewSession(SessionConfig{
		RiderID:    riderID,
		Clock:      r.clock,
		Observer:   r.observe,
		OnTerminal: r.handleTerminal,
	})
	if err := s.Start(route); err != nil {
		return nil, err
	}

	var gen *AlertGenerator
	if !r.disableAlerts {
		gen = NewAlertGenerator(r.generator)
	}

	r.hooks.Add(1)
	e := &entry{session: s}
	e.monitor = StartMonitor(r.ctx, s, MonitorConfig{
		Clock:         r.clock,
		TickInterval:  r.tickInterval,
		AlertInterval: r.alertInterval,
		Generator:     gen,
		Logger:        r.logger,
	})
	r.entries[s.ID()] = e
	r.byRider[riderID] = s.ID()

	r.metrics.sessionStarted(context.Background())

	r.logger.Info().
		Str("session_id", s.ID()).
		Str("rider_id", riderID).
		Int("route_id", route.ID).
		Int("eta_minutes", route.EtaMinutes).
		Msg("trip session started")

	return s, nil
}

// Get returns the session with id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return e.session, nil
}

// ActiveForRider returns the rider's non-terminal session, if any.
func (r *Registry) ActiveForRider(riderID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byRider[riderID]
	if !ok {
		return nil, false
	}
	e, ok := r.entries[id]
	if !ok || e.session.State().IsTerminal() {
		return nil, false
	}
	return e.session, true
}

// Terminate ends the session: Completed if it reached 100%, Cancelled
// otherwise. Terminating a terminal session returns its state.
func (r *Registry) Terminate(id string) (State, error) {
	s, err := r.Get(id)
	if err != nil {
		return "", err
	}
	// The terminal hook takes the registry lock, so it must not be held here.
	return s.Terminate(), nil
}

// Sweep removes terminal sessions that ended at least PruneAfter before now.
// It returns the number removed.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, e := range r.entries {
		snap := e.session.Snapshot()
		if !snap.State.IsTerminal() || snap.EndedAt == nil {
			continue
		}
		if now.Sub(*snap.EndedAt) < r.pruneAfter {
			continue
		}
		delete(r.entries, id)
		if r.byRider[snap.RiderID] == id {
			delete(r.byRider, snap.RiderID)
		}
		removed++
	}

	if removed > 0 {
		r.logger.Debug().Int("removed", removed).Msg("swept terminal sessions")
	}
	return removed
}

// Run sweeps on SweepInterval until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	ticker := r.clock.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			r.Sweep(r.clock.Now())
		}
	}
}

// Stats summarizes the registry contents.
type Stats struct {
	Active   int `json:"active"`
	Terminal int `json:"terminal"`
}

// Stats counts active and not-yet-pruned terminal sessions.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	var st Stats
	for _, e := range r.entries {
		if e.session.State().IsTerminal() {
			st.Terminal++
		} else {
			st.Active++
		}
	}
	return st
}

// Close terminates every active session, stops all timers and waits for every
// terminal hook, trip records included, or for ctx to expire. Hooks already
// running on other goroutines are waited for too.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*Session, 0, len(r.entries))
	for _, e := range r.entries {
		sessions = append(sessions, e.session)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Terminate()
	}
	r.cancelAll()

	done := make(chan struct{})
	go func() {
		r.hooks.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) observe(ev Event) {
	r.metrics.observe(ev)
	if r.observer != nil {
		r.observer(ev)
	}
}

// handleTerminal runs once per session, after it reaches a terminal state.
// It releases the session's slot in hooks once the trip record is written.
func (r *Registry) handleTerminal(s *Session) {
	r.mu.Lock()
	e, ok := r.entries[s.ID()]
	r.mu.Unlock()
	if ok && e.monitor != nil {
		e.monitor.Stop()
	}

	snap := s.Snapshot()
	r.metrics.sessionEnded(context.Background(), snap.State)

	r.logger.Info().
		Str("session_id", snap.ID).
		Str("rider_id", snap.RiderID).
		Int("route_id", snap.RouteID).
		Str("state", string(snap.State)).
		Int("progress", snap.ProgressPercent).
		Int("alerts_raised", snap.AlertsRaised).
		Msg("trip session ended")

	if r.recorder == nil {
		r.hooks.Done()
		return
	}

	go func() {
		defer r.hooks.Done()

		ctx, cancel := context.WithTimeout(context.Background(), r.recordTimeout)
		defer cancel()

		if err := r.recorder.RecordTrip(ctx, snap); err != nil {
			r.logger.Error().
				Err(err).
				Str("session_id", snap.ID).
				Msg("failed to record trip")
		}
	}()
}
