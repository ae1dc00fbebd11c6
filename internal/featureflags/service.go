package featureflags

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ServiceConfig holds configuration for the feature flag service.
type ServiceConfig struct {
	Repository   Repository
	Logger       zerolog.Logger
	CacheTTL     time.Duration // How long to cache flags in memory
	DefaultFlags map[string]*Flag
}

// Service provides feature flag evaluation with caching and fallback.
// Flags are read on every alert evaluation, so the whole flag set is cached
// and refreshed at most once per TTL.
type Service struct {
	repo         Repository
	logger       zerolog.Logger
	cacheTTL     time.Duration
	defaultFlags map[string]*Flag

	mu          sync.RWMutex
	cache       map[string]*Flag
	cacheExpiry time.Time
}

// NewService creates a new feature flag service.
func NewService(cfg ServiceConfig) *Service {
	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = 1 * time.Minute // Default cache TTL
	}

	defaultFlags := cfg.DefaultFlags
	if defaultFlags == nil {
		defaultFlags = DefaultFlags()
	}

	return &Service{
		repo:         cfg.Repository,
		logger:       cfg.Logger,
		cacheTTL:     cacheTTL,
		defaultFlags: defaultFlags,
	}
}

// GetFlag retrieves a feature flag by key, falling back to the default.
// Returns nil for a flag that is neither stored nor defaulted.
func (s *Service) GetFlag(ctx context.Context, key string) *Flag {
	if flag, ok := s.load(ctx)[key]; ok {
		return flag
	}
	if flag, ok := s.defaultFlags[key]; ok {
		return flag
	}
	return nil
}

// GetAllFlags retrieves all feature flags, stored values merged over defaults.
func (s *Service) GetAllFlags(ctx context.Context) map[string]*Flag {
	result := make(map[string]*Flag, len(s.defaultFlags))
	for k, v := range s.defaultFlags {
		result[k] = v
	}
	for k, v := range s.load(ctx) {
		result[k] = v
	}
	return result
}

// load returns the cached flag set, refreshing it from the repository when expired.
// On repository errors the previous set is kept for another TTL.
func (s *Service) load(ctx context.Context) map[string]*Flag {
	s.mu.RLock()
	if s.cache != nil && time.Now().Before(s.cacheExpiry) {
		flags := s.cache
		s.mu.RUnlock()
		return flags
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check cache
	if s.cache != nil && time.Now().Before(s.cacheExpiry) {
		return s.cache
	}

	flags, err := s.repo.List(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to get feature flags from repository, using cached values")
		if s.cache == nil {
			s.cache = map[string]*Flag{}
		}
		s.cacheExpiry = time.Now().Add(s.cacheTTL)
		return s.cache
	}

	s.cache = flags
	s.cacheExpiry = time.Now().Add(s.cacheTTL)
	return flags
}

// SetFlag updates a feature flag.
func (s *Service) SetFlag(ctx context.Context, flag *Flag) error {
	return s.SetFlags(ctx, []*Flag{flag})
}

// SetFlags updates multiple feature flags atomically.
func (s *Service) SetFlags(ctx context.Context, flags []*Flag) error {
	now := time.Now()
	for _, flag := range flags {
		flag.UpdatedAt = now
	}

	if err := s.repo.Upsert(ctx, flags); err != nil {
		return err
	}

	for _, flag := range flags {
		s.logger.Info().
			Str("flag", flag.Key).
			Interface("value", flag.Value).
			Str("updated_by", flag.UpdatedBy).
			Msg("feature flag updated")
	}

	s.InvalidateCache()
	return nil
}

// ResetFlag drops the stored value for key so its default applies again.
func (s *Service) ResetFlag(ctx context.Context, key, operator string) error {
	if !Known(key) {
		return fmt.Errorf("%w: %q", ErrUnknownFlag, key)
	}
	if err := s.repo.Delete(ctx, key); err != nil {
		return err
	}
	s.logger.Info().
		Str("flag", key).
		Str("updated_by", operator).
		Msg("feature flag reset to default")
	s.InvalidateCache()
	return nil
}

// InvalidateCache clears the cached flags, forcing a refresh on next access.
func (s *Service) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = nil
	s.cacheExpiry = time.Time{}
}

// IsEnabled returns true if the flag with the given key is enabled (truthy).
func (s *Service) IsEnabled(ctx context.Context, key string) bool {
	return s.GetFlag(ctx, key).BoolValue(false)
}

// AreSafetyAlertsDisabled returns true if alert generation is switched off.
func (s *Service) AreSafetyAlertsDisabled(ctx context.Context) bool {
	return s.IsEnabled(ctx, FlagDisableSafetyAlerts)
}
