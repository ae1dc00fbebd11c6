package navigation_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saferoute/saferoute/internal/emergency"
	"github.com/saferoute/saferoute/internal/navigation"
	"github.com/saferoute/saferoute/internal/routes"
	"github.com/saferoute/saferoute/internal/routing"
	"github.com/saferoute/saferoute/internal/safety"
	"github.com/saferoute/saferoute/internal/trip"
)

var epoch = time.Date(2026, 3, 14, 22, 0, 0, 0, time.UTC)

func candidates() []safety.RouteCandidate {
	return []safety.RouteCandidate{
		{ID: 1, Name: "Main Street", DistanceKm: 2.4, DurationMin: 12, Factors: safety.Factors{Lighting: 90, CrowdDensity: 80, RiskZones: 10, TimeOfDay: 60}},
		{ID: 2, Name: "Canal Walk", DistanceKm: 1.9, DurationMin: 9, Factors: safety.Factors{Lighting: 30, CrowdDensity: 20, RiskZones: 60, TimeOfDay: 60}},
	}
}

type stubRouter struct {
	mu    sync.Mutex
	resp  *routing.AlternativesResponse
	err   error
	calls []routing.AlternativesRequest
}

func (r *stubRouter) Alternatives(_ context.Context, req routing.AlternativesRequest) (*routing.AlternativesResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, req)
	return r.resp, r.err
}

func (r *stubRouter) lastCall() routing.AlternativesRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[len(r.calls)-1]
}

func rerouteResponse() *routing.AlternativesResponse {
	return &routing.AlternativesResponse{
		Provider: "stub",
		Routes: []routing.Candidate{
			{RouteCandidate: safety.RouteCandidate{ID: 7, Name: "High Street", DistanceKm: 1.2, DurationMin: 6, Factors: safety.Factors{Lighting: 95, CrowdDensity: 85, RiskZones: 5, TimeOfDay: 60}}},
			{RouteCandidate: safety.RouteCandidate{ID: 8, Name: "Back Lane", DistanceKm: 0.9, DurationMin: 4, Factors: safety.Factors{Lighting: 20, CrowdDensity: 10, RiskZones: 70, TimeOfDay: 60}}},
		},
	}
}

type stubDispatcher struct {
	err  error
	reqs []emergency.Request
}

func (d *stubDispatcher) Dispatch(_ context.Context, req emergency.Request) (*emergency.Dispatch, error) {
	d.reqs = append(d.reqs, req)
	if d.err != nil {
		return nil, d.err
	}
	return &emergency.Dispatch{Reference: "call-42", AcceptedAt: epoch}, nil
}

type stubFlags struct {
	rerouteOff  bool
	dispatchOff bool
}

func (f stubFlags) IsRerouteDisabled(context.Context) bool           { return f.rerouteOff }
func (f stubFlags) IsEmergencyDispatchDisabled(context.Context) bool { return f.dispatchOff }

type fixture struct {
	svc        *navigation.Service
	registry   *trip.Registry
	router     *stubRouter
	dispatcher *stubDispatcher
}

func newFixture(t *testing.T, flags navigation.Flags) *fixture {
	t.Helper()
	registry := trip.NewRegistry(trip.Config{
		Clock:         trip.NewFakeClock(epoch),
		Logger:        zerolog.Nop(),
		DisableAlerts: true,
	})
	t.Cleanup(func() { _ = registry.Close(context.Background()) })

	router := &stubRouter{resp: rerouteResponse()}
	dispatcher := &stubDispatcher{}
	svc := navigation.NewService(navigation.Config{
		Registry:   registry,
		Catalog:    routes.NewCatalog(routes.CatalogConfig{Logger: zerolog.Nop()}),
		Router:     router,
		Dispatcher: dispatcher,
		Flags:      flags,
		Now:        func() time.Time { return epoch },
		Logger:     zerolog.Nop(),
	})
	return &fixture{svc: svc, registry: registry, router: router, dispatcher: dispatcher}
}

func (f *fixture) start(t *testing.T, rider string, routeID int) trip.Snapshot {
	t.Helper()
	_, err := f.svc.ScoreRoutes(context.Background(), rider, navigation.ScoreRequest{Routes: candidates()})
	require.NoError(t, err)
	snap, err := f.svc.StartSession(context.Background(), rider, routeID)
	require.NoError(t, err)
	return snap
}

func TestService_ScoreRoutes_Candidates(t *testing.T) {
	f := newFixture(t, nil)

	result, err := f.svc.ScoreRoutes(context.Background(), "", navigation.ScoreRequest{Routes: candidates()})
	require.NoError(t, err)
	require.Len(t, result.Routes, 2)
	assert.Equal(t, safety.DefaultPreferences(), result.Preferences)
	assert.Equal(t, safety.RecommendationBest, result.Routes[0].Recommendation)
	assert.Empty(t, result.Provider)

	_, err = f.svc.StartSession(context.Background(), "", 1)
	assert.ErrorIs(t, err, navigation.ErrRouteNotFound)
}

func TestService_ScoreRoutes_Invalid(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.ScoreRoutes(context.Background(), "rider-1", navigation.ScoreRequest{})
	assert.ErrorIs(t, err, safety.ErrInvalidInput)

	_, err = f.svc.ScoreRoutes(context.Background(), "rider-1", navigation.ScoreRequest{
		Origin: &routing.Coordinate{Lat: 51.5, Lon: -0.1},
	})
	assert.ErrorIs(t, err, safety.ErrInvalidInput)
}

func TestService_ScoreRoutes_FromPathFinder(t *testing.T) {
	f := newFixture(t, nil)
	origin := &routing.Coordinate{Lat: 51.50, Lon: -0.12}
	dest := &routing.Coordinate{Lat: 51.52, Lon: -0.10}

	result, err := f.svc.ScoreRoutes(context.Background(), "rider-1", navigation.ScoreRequest{
		Origin:      origin,
		Destination: dest,
	})
	require.NoError(t, err)
	assert.Equal(t, "stub", result.Provider)
	assert.Equal(t, routing.ModeWalk, f.router.lastCall().Mode)

	snap, err := f.svc.StartSession(context.Background(), "rider-1", 7)
	require.NoError(t, err)
	assert.Equal(t, "High Street", snap.RouteName)
	assert.Equal(t, 6, snap.EtaMinutes)
}

func TestService_ScoreRoutes_RoutingErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no route", routing.ErrNoRouteFound, navigation.ErrRouteNotFound},
		{"bad coordinates", routing.ErrInvalidCoordinates, safety.ErrInvalidInput},
		{"provider down", routing.ErrProviderUnavailable, navigation.ErrUpstreamUnavailable},
		{"rate limited", routing.ErrRateLimitExceeded, navigation.ErrUpstreamUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.router.err = tt.err

			_, err := f.svc.ScoreRoutes(context.Background(), "rider-1", navigation.ScoreRequest{
				Origin:      &routing.Coordinate{Lat: 1, Lon: 1},
				Destination: &routing.Coordinate{Lat: 2, Lon: 2},
			})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestService_StartSession(t *testing.T) {
	f := newFixture(t, nil)

	snap := f.start(t, "rider-1", 2)
	assert.Equal(t, trip.StateNavigating, snap.State)
	assert.Equal(t, 2, snap.RouteID)
	assert.Equal(t, 9, snap.EtaMinutes)
	assert.InDelta(t, 1.9, snap.DistanceKm, 0.001)

	_, err := f.svc.StartSession(context.Background(), "rider-1", 1)
	assert.ErrorIs(t, err, trip.ErrSessionAlreadyActive)

	_, err = f.svc.StartSession(context.Background(), "rider-2", 1)
	assert.ErrorIs(t, err, navigation.ErrRouteNotFound)

	_, err = f.svc.StartSession(context.Background(), "rider-1", 99)
	assert.ErrorIs(t, err, navigation.ErrRouteNotFound)
}

func TestService_ForeignSessionIsNotFound(t *testing.T) {
	f := newFixture(t, nil)
	snap := f.start(t, "rider-1", 1)

	_, err := f.svc.Snapshot("rider-2", snap.ID)
	assert.ErrorIs(t, err, trip.ErrSessionNotFound)

	_, err = f.svc.Command(context.Background(), "rider-2", snap.ID, navigation.Command{Type: navigation.CommandPause})
	assert.ErrorIs(t, err, trip.ErrSessionNotFound)

	_, err = f.svc.Terminate("rider-2", snap.ID)
	assert.ErrorIs(t, err, trip.ErrSessionNotFound)

	_, _, err = f.svc.Subscribe("rider-2", snap.ID, 4)
	assert.ErrorIs(t, err, trip.ErrSessionNotFound)

	got, err := f.svc.Snapshot("rider-1", snap.ID)
	require.NoError(t, err)
	assert.Equal(t, trip.StateNavigating, got.State)
}

func TestService_Command(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	snap := f.start(t, "rider-1", 1)

	got, err := f.svc.Command(ctx, "rider-1", snap.ID, navigation.Command{Type: navigation.CommandPause})
	require.NoError(t, err)
	assert.Equal(t, trip.StatePaused, got.State)

	_, err = f.svc.Command(ctx, "rider-1", snap.ID, navigation.Command{Type: navigation.CommandPause})
	assert.ErrorIs(t, err, trip.ErrInvalidTransition)

	got, err = f.svc.Command(ctx, "rider-1", snap.ID, navigation.Command{Type: navigation.CommandResume})
	require.NoError(t, err)
	assert.Equal(t, trip.StateNavigating, got.State)

	enabled := true
	got, err = f.svc.Command(ctx, "rider-1", snap.ID, navigation.Command{Type: navigation.CommandToggleSharing, Enabled: &enabled})
	require.NoError(t, err)
	assert.True(t, got.SharingEnabled)

	got, err = f.svc.Command(ctx, "rider-1", snap.ID, navigation.Command{Type: navigation.CommandDismissAlert, AlertID: "missing"})
	require.NoError(t, err)
	assert.Empty(t, got.Alerts)

	got, err = f.svc.Command(ctx, "rider-1", snap.ID, navigation.Command{Type: navigation.CommandCancel})
	require.NoError(t, err)
	assert.Equal(t, trip.StateCancelled, got.State)

	got, err = f.svc.Command(ctx, "rider-1", snap.ID, navigation.Command{Type: navigation.CommandCancel})
	require.NoError(t, err)
	assert.Equal(t, trip.StateCancelled, got.State)
}

func TestCommand_Validate(t *testing.T) {
	tests := []struct {
		name string
		cmd  navigation.Command
	}{
		{"empty type", navigation.Command{}},
		{"unknown type", navigation.Command{Type: "teleport"}},
		{"sharing without enabled", navigation.Command{Type: navigation.CommandToggleSharing}},
		{"dismiss without id", navigation.Command{Type: navigation.CommandDismissAlert}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.cmd.Validate(), navigation.ErrInvalidCommand)
		})
	}

	assert.NoError(t, navigation.Command{Type: navigation.CommandReroute}.Validate())
}

func TestService_Reroute(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	dest := &routing.Coordinate{Lat: 51.52, Lon: -0.10}

	_, err := f.svc.ScoreRoutes(ctx, "rider-1", navigation.ScoreRequest{
		Origin:      &routing.Coordinate{Lat: 51.50, Lon: -0.12},
		Destination: dest,
		Mode:        routing.ModeBike,
	})
	require.NoError(t, err)
	snap, err := f.svc.StartSession(ctx, "rider-1", 8)
	require.NoError(t, err)

	pos := &routing.Coordinate{Lat: 51.51, Lon: -0.11}
	got, err := f.svc.Command(ctx, "rider-1", snap.ID, navigation.Command{Type: navigation.CommandReroute, Position: pos})
	require.NoError(t, err)

	assert.Equal(t, 7, got.RouteID)
	assert.Equal(t, "High Street", got.RouteName)
	assert.Equal(t, 0, got.ProgressPercent)
	assert.Equal(t, 1, got.Reroutes)

	call := f.router.lastCall()
	assert.Equal(t, *pos, call.Origin)
	assert.Equal(t, *dest, call.Destination)
	assert.Equal(t, routing.ModeBike, call.Mode)
}

func TestService_Reroute_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("missing position", func(t *testing.T) {
		f := newFixture(t, nil)
		snap := f.start(t, "rider-1", 1)
		_, err := f.svc.Command(ctx, "rider-1", snap.ID, navigation.Command{Type: navigation.CommandReroute})
		assert.ErrorIs(t, err, navigation.ErrInvalidCommand)
	})

	t.Run("no destination known", func(t *testing.T) {
		f := newFixture(t, nil)
		snap := f.start(t, "rider-1", 1)
		_, err := f.svc.Command(ctx, "rider-1", snap.ID, navigation.Command{
			Type:     navigation.CommandReroute,
			Position: &routing.Coordinate{Lat: 1, Lon: 1},
		})
		assert.ErrorIs(t, err, navigation.ErrInvalidCommand)
	})

	t.Run("path-finder down", func(t *testing.T) {
		f := newFixture(t, nil)
		snap := f.start(t, "rider-1", 1)
		f.router.err = errors.New("connection refused")
		_, err := f.svc.Command(ctx, "rider-1", snap.ID, navigation.Command{
			Type:        navigation.CommandReroute,
			Position:    &routing.Coordinate{Lat: 1, Lon: 1},
			Destination: &routing.Coordinate{Lat: 2, Lon: 2},
		})
		assert.ErrorIs(t, err, navigation.ErrUpstreamUnavailable)

		got, err := f.svc.Snapshot("rider-1", snap.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.RouteID)
	})

	t.Run("disabled by flag", func(t *testing.T) {
		f := newFixture(t, stubFlags{rerouteOff: true})
		snap := f.start(t, "rider-1", 1)
		_, err := f.svc.Command(ctx, "rider-1", snap.ID, navigation.Command{
			Type:        navigation.CommandReroute,
			Position:    &routing.Coordinate{Lat: 1, Lon: 1},
			Destination: &routing.Coordinate{Lat: 2, Lon: 2},
		})
		assert.ErrorIs(t, err, navigation.ErrFeatureDisabled)
	})

	t.Run("terminal session", func(t *testing.T) {
		f := newFixture(t, nil)
		snap := f.start(t, "rider-1", 1)
		_, err := f.svc.Terminate("rider-1", snap.ID)
		require.NoError(t, err)
		_, err = f.svc.Command(ctx, "rider-1", snap.ID, navigation.Command{
			Type:        navigation.CommandReroute,
			Position:    &routing.Coordinate{Lat: 1, Lon: 1},
			Destination: &routing.Coordinate{Lat: 2, Lon: 2},
		})
		assert.ErrorIs(t, err, trip.ErrInvalidState)
	})
}

func TestService_Terminate(t *testing.T) {
	f := newFixture(t, nil)
	snap := f.start(t, "rider-1", 1)

	state, err := f.svc.Terminate("rider-1", snap.ID)
	require.NoError(t, err)
	assert.Equal(t, trip.StateCancelled, state)

	state, err = f.svc.Terminate("rider-1", snap.ID)
	require.NoError(t, err)
	assert.Equal(t, trip.StateCancelled, state)

	_, err = f.svc.Terminate("rider-1", "nope")
	assert.ErrorIs(t, err, trip.ErrSessionNotFound)

	// A new trip can start once the previous one ended.
	_, err = f.svc.StartSession(context.Background(), "rider-1", 2)
	assert.NoError(t, err)
}

func TestService_TriggerEmergency(t *testing.T) {
	f := newFixture(t, nil)
	snap := f.start(t, "rider-1", 1)

	result, err := f.svc.TriggerEmergency(context.Background(), "rider-1", snap.ID)
	require.NoError(t, err)
	assert.True(t, result.Dispatched)
	assert.Equal(t, "call-42", result.Emergency.DispatchRef)

	require.Len(t, f.dispatcher.reqs, 1)
	assert.Equal(t, snap.ID, f.dispatcher.reqs[0].SessionID)
	assert.Equal(t, 1, f.dispatcher.reqs[0].RouteID)

	got, err := f.svc.Snapshot("rider-1", snap.ID)
	require.NoError(t, err)
	require.Len(t, got.Emergencies, 1)
	assert.Equal(t, trip.StateNavigating, got.State)
}

func TestService_TriggerEmergency_DispatchFailureStillRecords(t *testing.T) {
	f := newFixture(t, nil)
	f.dispatcher.err = emergency.ErrProviderUnavailable
	snap := f.start(t, "rider-1", 1)

	result, err := f.svc.TriggerEmergency(context.Background(), "rider-1", snap.ID)
	require.NoError(t, err)
	assert.False(t, result.Dispatched)
	assert.Empty(t, result.Emergency.DispatchRef)

	got, err := f.svc.Snapshot("rider-1", snap.ID)
	require.NoError(t, err)
	assert.Len(t, got.Emergencies, 1)
}

func TestService_TriggerEmergency_DisabledDispatch(t *testing.T) {
	f := newFixture(t, stubFlags{dispatchOff: true})
	snap := f.start(t, "rider-1", 1)

	result, err := f.svc.TriggerEmergency(context.Background(), "rider-1", snap.ID)
	require.NoError(t, err)
	assert.False(t, result.Dispatched)
	assert.Empty(t, f.dispatcher.reqs)
}

func TestService_TriggerEmergency_TerminalSession(t *testing.T) {
	f := newFixture(t, nil)
	snap := f.start(t, "rider-1", 1)
	_, err := f.svc.Terminate("rider-1", snap.ID)
	require.NoError(t, err)

	_, err = f.svc.TriggerEmergency(context.Background(), "rider-1", snap.ID)
	assert.ErrorIs(t, err, trip.ErrInvalidState)
	assert.Empty(t, f.dispatcher.reqs)
}

func TestService_Subscribe(t *testing.T) {
	f := newFixture(t, nil)
	snap := f.start(t, "rider-1", 1)

	initial, sub, err := f.svc.Subscribe("rider-1", snap.ID, 8)
	require.NoError(t, err)
	defer sub.Close()
	assert.Equal(t, snap.ID, initial.ID)

	_, err = f.svc.Command(context.Background(), "rider-1", snap.ID, navigation.Command{Type: navigation.CommandPause})
	require.NoError(t, err)

	ev := <-sub.Events()
	assert.Equal(t, trip.EventSnapshot, ev.Type)

	select {
	case ev := <-sub.Events():
		assert.Equal(t, trip.EventStateChanged, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}
