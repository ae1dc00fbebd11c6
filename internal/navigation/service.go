// Package navigation is the entry point the HTTP layer uses for route scoring
// and live trips. It connects the scorer, route catalog, path-finder,
// session registry, telephony collaborator and feature flags.
package navigation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/saferoute/saferoute/internal/emergency"
	"github.com/saferoute/saferoute/internal/routes"
	"github.com/saferoute/saferoute/internal/routing"
	"github.com/saferoute/saferoute/internal/safety"
	"github.com/saferoute/saferoute/internal/trip"
)

// Sentinel errors for navigation operations.
var (
	// ErrRouteNotFound indicates the route id is unknown to the rider or no path exists.
	ErrRouteNotFound = errors.New("route not found")
	// ErrUpstreamUnavailable indicates a collaborator failed after retries or its circuit is open.
	ErrUpstreamUnavailable = errors.New("upstream service unavailable")
	// ErrInvalidCommand indicates a malformed session command.
	ErrInvalidCommand = errors.New("invalid command")
	// ErrFeatureDisabled indicates the operation is switched off by a feature flag.
	ErrFeatureDisabled = errors.New("feature disabled")
)

// CommandType names a session command.
type CommandType string

const (
	CommandPause         CommandType = "pause"
	CommandResume        CommandType = "resume"
	CommandCancel        CommandType = "cancel"
	CommandToggleSharing CommandType = "toggleSharing"
	CommandDismissAlert  CommandType = "dismissAlert"
	CommandReroute       CommandType = "reroute"
)

// Command is a rider action on a running session.
type Command struct {
	Type CommandType

	// Enabled is required by toggleSharing.
	Enabled *bool

	// AlertID is required by dismissAlert.
	AlertID string

	// Position and Destination are used by reroute.
	Position    *routing.Coordinate
	Destination *routing.Coordinate
}

// Validate checks the fields the command type requires.
func (c Command) Validate() error {
	switch c.Type {
	case CommandPause, CommandResume, CommandCancel, CommandReroute:
		return nil
	case CommandToggleSharing:
		if c.Enabled == nil {
			return fmt.Errorf("%w: enabled is required", ErrInvalidCommand)
		}
		return nil
	case CommandDismissAlert:
		if c.AlertID == "" {
			return fmt.Errorf("%w: alertId is required", ErrInvalidCommand)
		}
		return nil
	case "":
		return fmt.Errorf("%w: type is required", ErrInvalidCommand)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidCommand, c.Type)
	}
}

// ScoreRequest carries either explicit candidates or the endpoints to fetch
// them for.
type ScoreRequest struct {
	Routes []safety.RouteCandidate

	Origin      *routing.Coordinate
	Destination *routing.Coordinate
	Mode        routing.Mode

	// Preferences defaults to safety.DefaultPreferences.
	Preferences *safety.Preferences
}

// ScoreResult is the outcome of ScoreRoutes.
type ScoreResult struct {
	Routes      []safety.ScoredRoute
	Preferences safety.Preferences
	ScoredAt    time.Time

	// Provider is set when the candidates came from the path-finder.
	Provider string
}

// EmergencyResult is the outcome of TriggerEmergency.
type EmergencyResult struct {
	Emergency trip.Emergency

	// Dispatched is false when the telephony call failed or is switched off;
	// the emergency is still recorded on the session.
	Dispatched bool
}

// Router fetches candidate routes.
type Router interface {
	Alternatives(ctx context.Context, req routing.AlternativesRequest) (*routing.AlternativesResponse, error)
}

// Flags exposes the runtime switches navigation honours.
type Flags interface {
	IsRerouteDisabled(ctx context.Context) bool
	IsEmergencyDispatchDisabled(ctx context.Context) bool
}

// Config holds configuration for the navigation service.
type Config struct {
	Registry *trip.Registry
	Catalog  *routes.Catalog

	// Scorer defaults to safety.NewScorer with default weights.
	Scorer *safety.Scorer

	// Router is the path-finding service (optional). Without it, scoring
	// requires explicit candidates and reroute is unavailable.
	Router Router

	// Dispatcher defaults to emergency.LogDispatcher.
	Dispatcher emergency.Dispatcher

	// Flags is optional; nil enables everything.
	Flags Flags

	// DispatchTimeout bounds the telephony call (default: 10 seconds).
	DispatchTimeout time.Duration

	// Now returns the current time (default: time.Now).
	Now func() time.Time

	Logger  zerolog.Logger
	Metrics *Metrics
}

// Service implements the rider-facing navigation operations.
type Service struct {
	registry        *trip.Registry
	catalog         *routes.Catalog
	scorer          *safety.Scorer
	router          Router
	dispatcher      emergency.Dispatcher
	flags           Flags
	dispatchTimeout time.Duration
	now             func() time.Time
	logger          zerolog.Logger
	metrics         *Metrics

	mu    sync.Mutex
	plans map[string]sessionPlan
}

// sessionPlan is what reroute needs to re-score alternatives.
type sessionPlan struct {
	preferences safety.Preferences
	destination *routing.Coordinate
	mode        routing.Mode
}

// NewService creates a new navigation service.
func NewService(cfg Config) *Service {
	scorer := cfg.Scorer
	if scorer == nil {
		scorer = safety.NewScorer(safety.ScorerConfig{})
	}

	dispatcher := cfg.Dispatcher
	if dispatcher == nil {
		dispatcher = emergency.LogDispatcher{Logger: cfg.Logger}
	}

	dispatchTimeout := cfg.DispatchTimeout
	if dispatchTimeout == 0 {
		dispatchTimeout = 10 * time.Second
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		registry:        cfg.Registry,
		catalog:         cfg.Catalog,
		scorer:          scorer,
		router:          cfg.Router,
		dispatcher:      dispatcher,
		flags:           cfg.Flags,
		dispatchTimeout: dispatchTimeout,
		now:             now,
		logger:          cfg.Logger,
		metrics:         cfg.Metrics,
		plans:           make(map[string]sessionPlan),
	}
}

// ScoreRoutes scores the request's candidates, fetching them from the
// path-finder when only endpoints are given. When riderID is set the result
// is remembered so StartSession can resolve route ids.
func (s *Service) ScoreRoutes(ctx context.Context, riderID string, req ScoreRequest) (*ScoreResult, error) {
	prefs := safety.DefaultPreferences()
	if req.Preferences != nil {
		prefs = *req.Preferences
	}

	candidates := req.Routes
	var provider string
	if len(candidates) == 0 && (req.Origin != nil || req.Destination != nil) {
		resp, err := s.alternatives(ctx, req.Origin, req.Destination, req.Mode)
		if err != nil {
			return nil, err
		}
		candidates = resp.RouteCandidates()
		provider = resp.Provider
	}

	start := time.Now()
	scored, err := s.scorer.Score(candidates, prefs)
	s.metrics.recordScoring(ctx, time.Since(start), len(candidates), err)
	if err != nil {
		return nil, err
	}

	result := &ScoreResult{
		Routes:      scored,
		Preferences: prefs,
		ScoredAt:    s.now(),
		Provider:    provider,
	}

	if riderID != "" && s.catalog != nil {
		plan := routes.Plan{
			RiderID:     riderID,
			Routes:      scored,
			Preferences: prefs,
			Destination: req.Destination,
			Mode:        req.Mode,
			ScoredAt:    result.ScoredAt,
		}
		s.catalog.Put(plan)
	}

	s.logger.Debug().
		Str("rider_id", riderID).
		Int("routes", len(scored)).
		Str("provider", provider).
		Msg("routes scored")

	return result, nil
}

func (s *Service) alternatives(ctx context.Context, origin, destination *routing.Coordinate, mode routing.Mode) (*routing.AlternativesResponse, error) {
	if origin == nil || destination == nil {
		return nil, &safety.ValidationError{Errors: []safety.FieldError{
			{Field: "origin/destination", Message: "both origin and destination are required"},
		}}
	}
	if s.router == nil {
		return nil, fmt.Errorf("%w: no path-finding service configured", ErrUpstreamUnavailable)
	}
	if mode == "" {
		mode = routing.ModeWalk
	}
	if !mode.Valid() {
		return nil, &safety.ValidationError{Errors: []safety.FieldError{
			{Field: "mode", Message: fmt.Sprintf("unsupported mode %q", mode)},
		}}
	}

	resp, err := s.router.Alternatives(ctx, routing.AlternativesRequest{
		Origin:      *origin,
		Destination: *destination,
		Mode:        mode,
	})
	if err != nil {
		return nil, translateRoutingError(err)
	}
	return resp, nil
}

func translateRoutingError(err error) error {
	switch {
	case errors.Is(err, routing.ErrInvalidCoordinates):
		return &safety.ValidationError{Errors: []safety.FieldError{
			{Field: "origin/destination", Message: err.Error()},
		}}
	case errors.Is(err, routing.ErrNoRouteFound):
		return fmt.Errorf("%w: %v", ErrRouteNotFound, err)
	default:
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
}

// StartSession begins a trip on a route the rider has scored.
func (s *Service) StartSession(ctx context.Context, riderID string, routeID int) (trip.Snapshot, error) {
	if s.catalog == nil {
		return trip.Snapshot{}, ErrRouteNotFound
	}

	scored, plan, err := s.catalog.Route(riderID, routeID)
	if err != nil {
		if errors.Is(err, routes.ErrRouteNotFound) {
			return trip.Snapshot{}, fmt.Errorf("%w: %d", ErrRouteNotFound, routeID)
		}
		return trip.Snapshot{}, err
	}

	session, err := s.registry.Create(riderID, tripRoute(scored))
	if err != nil {
		return trip.Snapshot{}, err
	}

	s.mu.Lock()
	s.pruneLocked()
	s.plans[session.ID()] = sessionPlan{
		preferences: plan.Preferences,
		destination: plan.Destination,
		mode:        plan.Mode,
	}
	s.mu.Unlock()

	return session.Snapshot(), nil
}

// pruneLocked forgets plans of sessions the registry has swept.
func (s *Service) pruneLocked() {
	for id := range s.plans {
		if _, err := s.registry.Get(id); err != nil {
			delete(s.plans, id)
		}
	}
}

func (s *Service) plan(sessionID string) (sessionPlan, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[sessionID]
	return p, ok
}

func tripRoute(r safety.ScoredRoute) trip.Route {
	return trip.Route{
		ID:         r.ID,
		Name:       r.Name,
		EtaMinutes: r.DurationMin,
		DistanceKm: r.DistanceKm,
	}
}

// Session returns the rider's session. Sessions of other riders are reported
// as trip.ErrSessionNotFound.
func (s *Service) Session(riderID, sessionID string) (*trip.Session, error) {
	session, err := s.registry.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if session.RiderID() != riderID {
		return nil, trip.ErrSessionNotFound
	}
	return session, nil
}

// Snapshot returns the current state of the rider's session.
func (s *Service) Snapshot(riderID, sessionID string) (trip.Snapshot, error) {
	session, err := s.Session(riderID, sessionID)
	if err != nil {
		return trip.Snapshot{}, err
	}
	return session.Snapshot(), nil
}

// Subscribe returns the session's snapshot and a subscription to its events.
// The caller must Close the subscription.
func (s *Service) Subscribe(riderID, sessionID string, buffer int) (trip.Snapshot, *trip.Subscription, error) {
	session, err := s.Session(riderID, sessionID)
	if err != nil {
		return trip.Snapshot{}, nil, err
	}
	sub := session.Subscribe(buffer)
	return session.Snapshot(), sub, nil
}

// Command applies cmd to the rider's session and returns the resulting snapshot.
func (s *Service) Command(ctx context.Context, riderID, sessionID string, cmd Command) (trip.Snapshot, error) {
	if err := cmd.Validate(); err != nil {
		return trip.Snapshot{}, err
	}

	session, err := s.Session(riderID, sessionID)
	if err != nil {
		return trip.Snapshot{}, err
	}

	switch cmd.Type {
	case CommandPause:
		err = session.Pause()
	case CommandResume:
		err = session.Resume()
	case CommandCancel:
		session.Cancel()
	case CommandToggleSharing:
		session.ToggleSharing(*cmd.Enabled)
	case CommandDismissAlert:
		session.DismissAlert(cmd.AlertID)
	case CommandReroute:
		err = s.reroute(ctx, session, cmd)
	}
	if err != nil {
		return trip.Snapshot{}, err
	}

	return session.Snapshot(), nil
}

// reroute fetches alternatives from the rider's position, re-scores them with
// the preferences the trip was planned with and switches to the best one.
func (s *Service) reroute(ctx context.Context, session *trip.Session, cmd Command) error {
	if s.flags != nil && s.flags.IsRerouteDisabled(ctx) {
		return fmt.Errorf("%w: reroute", ErrFeatureDisabled)
	}
	if session.State().IsTerminal() {
		return trip.ErrInvalidState
	}
	if cmd.Position == nil {
		return fmt.Errorf("%w: position is required for reroute", ErrInvalidCommand)
	}

	plan, ok := s.plan(session.ID())
	if !ok {
		plan = sessionPlan{preferences: safety.DefaultPreferences()}
	}

	destination := cmd.Destination
	if destination == nil {
		destination = plan.destination
	}
	if destination == nil {
		return fmt.Errorf("%w: destination is required for reroute", ErrInvalidCommand)
	}

	resp, err := s.alternatives(ctx, cmd.Position, destination, plan.mode)
	if err != nil {
		return err
	}

	start := time.Now()
	scored, err := s.scorer.Score(resp.RouteCandidates(), plan.preferences)
	s.metrics.recordScoring(ctx, time.Since(start), len(resp.Routes), err)
	if err != nil {
		return err
	}

	best := scored[0]
	for _, r := range scored {
		if r.Recommendation == safety.RecommendationBest {
			best = r
			break
		}
	}

	if err := session.Reroute(tripRoute(best)); err != nil {
		return err
	}

	s.mu.Lock()
	plan.destination = destination
	s.plans[session.ID()] = plan
	s.mu.Unlock()

	s.logger.Info().
		Str("session_id", session.ID()).
		Str("rider_id", session.RiderID()).
		Int("route_id", best.ID).
		Int("safety_score", best.SafetyScore).
		Msg("session rerouted")

	return nil
}

// Terminate ends the rider's session and returns its final state.
func (s *Service) Terminate(riderID, sessionID string) (trip.State, error) {
	if _, err := s.Session(riderID, sessionID); err != nil {
		return "", err
	}
	return s.registry.Terminate(sessionID)
}

// TriggerEmergency hands the emergency to the telephony collaborator and
// stamps the session. A failed dispatch is logged and still recorded.
func (s *Service) TriggerEmergency(ctx context.Context, riderID, sessionID string) (*EmergencyResult, error) {
	session, err := s.Session(riderID, sessionID)
	if err != nil {
		return nil, err
	}

	snap := session.Snapshot()
	if snap.State.IsTerminal() {
		return nil, trip.ErrInvalidState
	}

	var ref string
	dispatched := false
	if s.flags != nil && s.flags.IsEmergencyDispatchDisabled(ctx) {
		s.logger.Warn().
			Str("session_id", sessionID).
			Msg("emergency dispatch disabled by feature flag")
	} else {
		dctx, cancel := context.WithTimeout(ctx, s.dispatchTimeout)
		d, err := s.dispatcher.Dispatch(dctx, emergency.Request{
			SessionID:       sessionID,
			RiderID:         riderID,
			RouteID:         snap.RouteID,
			ProgressPercent: snap.ProgressPercent,
			SharingEnabled:  snap.SharingEnabled,
			At:              s.now(),
		})
		cancel()
		if err != nil {
			s.logger.Error().
				Err(err).
				Str("session_id", sessionID).
				Str("rider_id", riderID).
				Msg("emergency dispatch failed")
		} else {
			ref = d.Reference
			dispatched = true
		}
	}

	e, err := session.RecordEmergency(ref)
	if err != nil {
		return nil, err
	}

	s.logger.Warn().
		Str("session_id", sessionID).
		Str("rider_id", riderID).
		Str("dispatch_ref", ref).
		Bool("dispatched", dispatched).
		Msg("emergency recorded")

	return &EmergencyResult{Emergency: e, Dispatched: dispatched}, nil
}
