package routing

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/saferoute/saferoute/internal/safety"
	"github.com/saferoute/saferoute/pkg/polyline"
)

// mockProvider is a mock path-finding provider for testing.
type mockProvider struct {
	response  *AlternativesResponse
	err       error
	callCount atomic.Int32
}

func (m *mockProvider) Alternatives(_ context.Context, _ AlternativesRequest) (*AlternativesResponse, error) {
	m.callCount.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	return m.response, nil
}

func (m *mockProvider) Name() string {
	return "test-pathfinder"
}

func testResponse() *AlternativesResponse {
	return &AlternativesResponse{
		Routes: []Candidate{
			{RouteCandidate: safety.RouteCandidate{
				ID: 1, Name: "Main Street Route", DistanceKm: 3.2, DurationMin: 12,
				Factors: safety.Factors{Lighting: 90, CrowdDensity: 80, RiskZones: 10, TimeOfDay: 70},
			}},
			{RouteCandidate: safety.RouteCandidate{
				ID: 2, Name: "Park Avenue", DistanceKm: 2.8, DurationMin: 10,
				Factors: safety.Factors{Lighting: 65, CrowdDensity: 55, RiskZones: 30, TimeOfDay: 70},
			}},
		},
		Provider:  "test-pathfinder",
		FetchedAt: time.Now(),
	}
}

func testRequest() AlternativesRequest {
	return AlternativesRequest{
		Origin:      Coordinate{Lat: 51.5072, Lon: -0.1276},
		Destination: Coordinate{Lat: 51.5155, Lon: -0.0922},
		Mode:        ModeWalk,
	}
}

func TestService_Alternatives_CacheMiss(t *testing.T) {
	provider := &mockProvider{response: testResponse()}
	service := NewService(ServiceConfig{Provider: provider})

	resp, err := service.Alternatives(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if provider.callCount.Load() != 1 {
		t.Errorf("expected 1 provider call, got %d", provider.callCount.Load())
	}
	if len(resp.Routes) != 2 {
		t.Fatalf("expected 2 routes, got %d", len(resp.Routes))
	}
	if got := resp.RouteCandidates()[1].Name; got != "Park Avenue" {
		t.Errorf("expected Park Avenue, got %s", got)
	}
}

func TestService_Alternatives_CacheHit(t *testing.T) {
	provider := &mockProvider{response: testResponse()}
	service := NewService(ServiceConfig{Provider: provider, CacheTTL: 5 * time.Minute})

	ctx := context.Background()
	if _, err := service.Alternatives(ctx, testRequest()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A few metres away lands in the same grid cell.
	req := testRequest()
	req.Origin.Lat += 0.00001
	if _, err := service.Alternatives(ctx, req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if provider.callCount.Load() != 1 {
		t.Errorf("expected 1 provider call (cache hit), got %d", provider.callCount.Load())
	}

	stats := service.CacheStats()
	if stats.TotalEntries != 1 || stats.FreshEntries != 1 {
		t.Errorf("unexpected cache stats: %+v", stats)
	}
}

func TestService_Alternatives_ModeIsPartOfKey(t *testing.T) {
	provider := &mockProvider{response: testResponse()}
	service := NewService(ServiceConfig{Provider: provider})

	ctx := context.Background()
	walk := testRequest()
	bike := testRequest()
	bike.Mode = ModeBike

	_, _ = service.Alternatives(ctx, walk)
	_, _ = service.Alternatives(ctx, bike)

	if provider.callCount.Load() != 2 {
		t.Errorf("expected 2 provider calls, got %d", provider.callCount.Load())
	}
}

func TestService_Alternatives_StaleIfError(t *testing.T) {
	provider := &mockProvider{response: testResponse()}
	service := NewService(ServiceConfig{
		Provider:        provider,
		CacheTTL:        time.Millisecond,
		StaleIfErrorTTL: time.Minute,
	})

	ctx := context.Background()
	if _, err := service.Alternatives(ctx, testRequest()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	provider.err = &Error{Code: "SERVER_503", Message: "down", Err: ErrProviderUnavailable}

	resp, err := service.Alternatives(ctx, testRequest())
	if err != nil {
		t.Fatalf("expected stale data, got error: %v", err)
	}
	if len(resp.Routes) != 2 {
		t.Errorf("expected 2 stale routes, got %d", len(resp.Routes))
	}
}

func TestService_Alternatives_ProviderError(t *testing.T) {
	provider := &mockProvider{err: &Error{Code: "SERVER_503", Message: "down", Err: ErrProviderUnavailable}}
	service := NewService(ServiceConfig{Provider: provider})

	_, err := service.Alternatives(context.Background(), testRequest())
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}

	var routingErr *Error
	if !errors.As(err, &routingErr) || !routingErr.IsRetryable() {
		t.Errorf("expected retryable routing error, got %v", err)
	}
}

func TestService_Alternatives_NoRoutes(t *testing.T) {
	provider := &mockProvider{response: &AlternativesResponse{}}
	service := NewService(ServiceConfig{Provider: provider})

	_, err := service.Alternatives(context.Background(), testRequest())
	if !errors.Is(err, ErrNoRouteFound) {
		t.Fatalf("expected ErrNoRouteFound, got %v", err)
	}
}

func TestService_Alternatives_InvalidCoordinates(t *testing.T) {
	provider := &mockProvider{response: testResponse()}
	service := NewService(ServiceConfig{Provider: provider})

	req := testRequest()
	req.Destination.Lat = 91

	_, err := service.Alternatives(context.Background(), req)
	if !errors.Is(err, ErrInvalidCoordinates) {
		t.Fatalf("expected ErrInvalidCoordinates, got %v", err)
	}
	if provider.callCount.Load() != 0 {
		t.Error("provider must not be called for invalid input")
	}
}

func TestService_Alternatives_DistanceFromGeometry(t *testing.T) {
	resp := testResponse()
	resp.Routes[0].DistanceKm = 0
	resp.Routes[0].Geometry = polyline.Encode([]polyline.Point{{Lat: 51.5, Lon: -0.12}, {Lat: 51.51, Lon: -0.12}})

	service := NewService(ServiceConfig{Provider: &mockProvider{response: resp}})

	got, err := service.Alternatives(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d := got.Routes[0].DistanceKm; d < 1.10 || d > 1.12 {
		t.Errorf("expected ~1.11 km from geometry, got %f", d)
	}
}

func TestService_InvalidateCache(t *testing.T) {
	provider := &mockProvider{response: testResponse()}
	service := NewService(ServiceConfig{Provider: provider})

	ctx := context.Background()
	_, _ = service.Alternatives(ctx, testRequest())
	service.InvalidateCache()
	_, _ = service.Alternatives(ctx, testRequest())

	if provider.callCount.Load() != 2 {
		t.Errorf("expected 2 provider calls after invalidation, got %d", provider.callCount.Load())
	}
}
