package routing

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/saferoute/saferoute/pkg/polyline"
)

// ServiceConfig holds configuration for the routing service.
type ServiceConfig struct {
	// Provider is the path-finding provider.
	Provider Provider

	// Logger for service operations.
	Logger zerolog.Logger

	// CacheTTL is how long to cache alternatives (default: 2 minutes).
	// Safety factors change with time of day, so entries are short-lived.
	CacheTTL time.Duration

	// CacheGridSize is the size of cache grid cells in degrees (default: 0.001 ~ 110m).
	// Points within the same grid cell share cached data.
	CacheGridSize float64

	// StaleIfErrorTTL allows serving stale data on provider errors (default: 10 minutes).
	StaleIfErrorTTL time.Duration

	// CleanupInterval is how often to clean up expired entries (default: 5 minutes).
	CleanupInterval time.Duration
}

// Service provides candidate routes with caching.
type Service struct {
	provider        Provider
	logger          zerolog.Logger
	cacheTTL        time.Duration
	cacheGridSize   float64
	staleIfErrorTTL time.Duration
	cleanupInterval time.Duration

	mu          sync.RWMutex
	cache       map[string]*cachedAlternatives
	lastCleanup time.Time
}

type cachedAlternatives struct {
	response  *AlternativesResponse
	fetchedAt time.Time
	expiresAt time.Time
}

// NewService creates a new routing service.
func NewService(cfg ServiceConfig) *Service {
	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = 2 * time.Minute
	}

	cacheGridSize := cfg.CacheGridSize
	if cacheGridSize == 0 {
		cacheGridSize = 0.001
	}

	staleIfErrorTTL := cfg.StaleIfErrorTTL
	if staleIfErrorTTL == 0 {
		staleIfErrorTTL = 10 * time.Minute
	}

	cleanupInterval := cfg.CleanupInterval
	if cleanupInterval == 0 {
		cleanupInterval = 5 * time.Minute
	}

	return &Service{
		provider:        cfg.Provider,
		logger:          cfg.Logger,
		cacheTTL:        cacheTTL,
		cacheGridSize:   cacheGridSize,
		staleIfErrorTTL: staleIfErrorTTL,
		cleanupInterval: cleanupInterval,
		cache:           make(map[string]*cachedAlternatives),
	}
}

// Alternatives returns candidate routes between two points.
// Uses cached data if available and not expired.
func (s *Service) Alternatives(ctx context.Context, req AlternativesRequest) (*AlternativesResponse, error) {
	if err := req.Origin.Validate(); err != nil {
		return nil, &Error{
			Provider: s.provider.Name(),
			Code:     "INVALID_ORIGIN",
			Message:  "invalid origin coordinates",
			Err:      ErrInvalidCoordinates,
		}
	}
	if err := req.Destination.Validate(); err != nil {
		return nil, &Error{
			Provider: s.provider.Name(),
			Code:     "INVALID_DESTINATION",
			Message:  "invalid destination coordinates",
			Err:      ErrInvalidCoordinates,
		}
	}
	if req.Mode == "" {
		req.Mode = ModeWalk
	}
	if req.MaxAlternatives <= 0 {
		req.MaxAlternatives = 2
	}

	cacheKey := s.cacheKey(req)

	s.mu.RLock()
	if cached, ok := s.cache[cacheKey]; ok && time.Now().Before(cached.expiresAt) {
		s.mu.RUnlock()
		s.logger.Debug().
			Str("cache_key", cacheKey).
			Msg("cache hit for alternatives")
		return cached.response, nil
	}
	s.mu.RUnlock()

	return s.fetchAlternatives(ctx, req, cacheKey)
}

// fetchAlternatives fetches from the provider and updates the cache.
func (s *Service) fetchAlternatives(ctx context.Context, req AlternativesRequest, cacheKey string) (*AlternativesResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check cache (prevents thundering herd)
	if cached, ok := s.cache[cacheKey]; ok && time.Now().Before(cached.expiresAt) {
		return cached.response, nil
	}

	s.logger.Debug().
		Str("cache_key", cacheKey).
		Str("mode", string(req.Mode)).
		Str("provider", s.provider.Name()).
		Msg("fetching alternatives from provider")

	resp, err := s.provider.Alternatives(ctx, req)
	if err != nil {
		s.logger.Error().Err(err).
			Str("cache_key", cacheKey).
			Str("mode", string(req.Mode)).
			Msg("failed to fetch alternatives")

		// stale-if-error
		if cached, ok := s.cache[cacheKey]; ok {
			if time.Now().Before(cached.fetchedAt.Add(s.staleIfErrorTTL)) {
				s.logger.Warn().
					Time("fetched_at", cached.fetchedAt).
					Str("cache_key", cacheKey).
					Msg("serving stale alternatives due to provider error")
				return cached.response, nil
			}
		}

		return nil, err
	}

	if len(resp.Routes) == 0 {
		return nil, &Error{
			Provider: s.provider.Name(),
			Code:     "NO_ROUTE",
			Message:  "provider returned no routes",
			Err:      ErrNoRouteFound,
		}
	}

	s.fillDistances(resp)

	now := time.Now()
	s.cache[cacheKey] = &cachedAlternatives{
		response:  resp,
		fetchedAt: now,
		expiresAt: now.Add(s.cacheTTL),
	}

	s.logger.Debug().
		Str("cache_key", cacheKey).
		Int("route_count", len(resp.Routes)).
		Msg("cached alternatives")

	s.cleanupIfNeeded()

	return resp, nil
}

// fillDistances derives missing route distances from their geometry.
func (s *Service) fillDistances(resp *AlternativesResponse) {
	for i := range resp.Routes {
		c := &resp.Routes[i]
		if c.DistanceKm > 0 || c.Geometry == "" {
			continue
		}
		km, err := polyline.LengthKm(c.Geometry)
		if err != nil {
			s.logger.Warn().Err(err).Int("route_id", c.ID).Msg("ignoring undecodable route geometry")
			continue
		}
		c.DistanceKm = math.Round(km*100) / 100
	}
}

// cacheKey quantizes both endpoints onto the cache grid.
// Format: {mode}:{max}:{originLat},{originLon}:{destLat},{destLon}.
func (s *Service) cacheKey(req AlternativesRequest) string {
	q := func(v float64) float64 { return math.Floor(v/s.cacheGridSize) * s.cacheGridSize }
	return fmt.Sprintf("%s:%d:%.3f,%.3f:%.3f,%.3f",
		req.Mode, req.MaxAlternatives,
		q(req.Origin.Lat), q(req.Origin.Lon),
		q(req.Destination.Lat), q(req.Destination.Lon),
	)
}

// cleanupIfNeeded removes entries past the stale window once per cleanup interval.
func (s *Service) cleanupIfNeeded() {
	now := time.Now()
	if now.Sub(s.lastCleanup) < s.cleanupInterval {
		return
	}
	s.lastCleanup = now

	expired := 0
	for key, cached := range s.cache {
		if now.After(cached.fetchedAt.Add(s.staleIfErrorTTL)) {
			delete(s.cache, key)
			expired++
		}
	}

	if expired > 0 {
		s.logger.Debug().
			Int("expired_entries", expired).
			Msg("cleaned up expired routing cache entries")
	}
}

// InvalidateCache clears all cached data.
func (s *Service) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]*cachedAlternatives)
}

// CacheStats contains cache statistics.
type CacheStats struct {
	TotalEntries int
	FreshEntries int
	StaleEntries int
	Provider     string
}

// CacheStats returns cache statistics.
func (s *Service) CacheStats() CacheStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	stats := CacheStats{TotalEntries: len(s.cache), Provider: s.provider.Name()}
	for _, c := range s.cache {
		switch {
		case now.Before(c.expiresAt):
			stats.FreshEntries++
		case now.Before(c.fetchedAt.Add(s.staleIfErrorTTL)):
			stats.StaleEntries++
		}
	}
	return stats
}

// ProviderName returns the name of the underlying provider.
func (s *Service) ProviderName() string {
	return s.provider.Name()
}
