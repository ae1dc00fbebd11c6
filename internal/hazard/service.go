package hazard

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/saferoute/saferoute/internal/trip"
)

// ServiceConfig holds configuration for the hazard service.
type ServiceConfig struct {
	// Provider is the hazard feed.
	Provider Provider

	// Logger for service operations.
	Logger zerolog.Logger

	// CacheTTL is how long to cache the feed (default: 1 minute).
	// Alerts are evaluated every few seconds per trip; the feed changes slowly.
	CacheTTL time.Duration

	// StaleIfErrorTTL allows serving stale data on provider errors (default: 15 minutes).
	StaleIfErrorTTL time.Duration

	// Fallback is merged into every result (optional).
	Fallback []trip.Hazard

	// Now returns the current time (default: time.Now).
	Now func() time.Time
}

// Service caches the hazard feed and answers per-trip hazard queries.
type Service struct {
	provider        Provider
	logger          zerolog.Logger
	cacheTTL        time.Duration
	staleIfErrorTTL time.Duration
	fallback        []trip.Hazard
	now             func() time.Time

	mu    sync.RWMutex
	cache *cachedReports
}

type cachedReports struct {
	reports   []*Report
	fetchedAt time.Time
	expiresAt time.Time
}

var _ trip.HazardSource = (*Service)(nil)

// NewService creates a new hazard service.
func NewService(cfg ServiceConfig) *Service {
	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = time.Minute
	}

	staleIfErrorTTL := cfg.StaleIfErrorTTL
	if staleIfErrorTTL == 0 {
		staleIfErrorTTL = 15 * time.Minute
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		provider:        cfg.Provider,
		logger:          cfg.Logger,
		cacheTTL:        cacheTTL,
		staleIfErrorTTL: staleIfErrorTTL,
		fallback:        cfg.Fallback,
		now:             now,
	}
}

// Hazards returns the active hazards ahead on the trip's route, most severe first.
func (s *Service) Hazards(ctx context.Context, snap trip.Snapshot) ([]trip.Hazard, error) {
	reports, err := s.Reports(ctx)
	if err != nil {
		if len(s.fallback) > 0 {
			return s.fallback, nil
		}
		return nil, err
	}

	now := s.now()
	relevant := make([]*Report, 0, len(reports))
	for _, r := range reports {
		if r.IsActive(now) && r.AffectsRoute(snap.RouteID) && r.Ahead(snap.ProgressPercent) {
			relevant = append(relevant, r)
		}
	}
	sort.SliceStable(relevant, func(i, j int) bool {
		return relevant[i].Impact.rank() > relevant[j].Impact.rank()
	})

	hazards := make([]trip.Hazard, 0, len(relevant)+len(s.fallback))
	for _, r := range relevant {
		hazards = append(hazards, r.Hazard())
	}
	hazards = append(hazards, s.fallback...)
	return hazards, nil
}

// Reports returns all published hazards, from cache when fresh.
func (s *Service) Reports(ctx context.Context) ([]*Report, error) {
	s.mu.RLock()
	if s.cache != nil && s.now().Before(s.cache.expiresAt) {
		reports := s.cache.reports
		s.mu.RUnlock()
		return reports, nil
	}
	s.mu.RUnlock()

	return s.fetchReports(ctx)
}

// fetchReports fetches from the provider and updates the cache.
func (s *Service) fetchReports(ctx context.Context) ([]*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check cache
	if s.cache != nil && s.now().Before(s.cache.expiresAt) {
		return s.cache.reports, nil
	}

	s.logger.Debug().
		Str("provider", s.provider.Name()).
		Msg("fetching hazards from provider")

	reports, err := s.provider.Reports(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to fetch hazards")

		if s.cache != nil && s.now().Before(s.cache.fetchedAt.Add(s.staleIfErrorTTL)) {
			s.logger.Warn().
				Time("fetched_at", s.cache.fetchedAt).
				Msg("serving stale hazard data due to provider error")
			return s.cache.reports, nil
		}

		return nil, ErrProviderUnavailable
	}

	now := s.now()
	s.cache = &cachedReports{
		reports:   reports,
		fetchedAt: now,
		expiresAt: now.Add(s.cacheTTL),
	}

	s.logger.Info().
		Int("hazards", len(reports)).
		Msg("hazard cache refreshed")

	return reports, nil
}

// Summary summarizes the currently active hazards.
func (s *Service) Summary(ctx context.Context) (*Summary, error) {
	reports, err := s.Reports(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	summary := &Summary{
		ByImpact:  make(map[Impact]int),
		ByKind:    make(map[Kind]int),
		FetchedAt: now,
		Provider:  s.provider.Name(),
	}

	active := make([]*Report, 0, len(reports))
	for _, r := range reports {
		if !r.IsActive(now) {
			continue
		}
		active = append(active, r)
		summary.ByImpact[r.Impact]++
		summary.ByKind[r.Kind]++
	}
	summary.Total = len(active)
	summary.MostSevere = HighestImpact(active)

	return summary, nil
}

// InvalidateCache clears cached data.
func (s *Service) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = nil
}
