// Package routes remembers the routes most recently scored for each rider so
// a trip can be started by route id.
package routes

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/saferoute/saferoute/internal/routing"
	"github.com/saferoute/saferoute/internal/safety"
)

// ErrRouteNotFound indicates the rider has no unexpired scored route with the given id.
var ErrRouteNotFound = errors.New("route not found")

// Plan is one scoring result kept for a rider.
type Plan struct {
	RiderID     string
	Routes      []safety.ScoredRoute
	Preferences safety.Preferences

	// Destination and Mode are set when the routes came from the path-finder.
	Destination *routing.Coordinate
	Mode        routing.Mode

	ScoredAt time.Time
}

// Route returns the scored route with the given id.
func (p *Plan) Route(id int) (safety.ScoredRoute, bool) {
	for _, r := range p.Routes {
		if r.ID == id {
			return r, true
		}
	}
	return safety.ScoredRoute{}, false
}

// CatalogConfig holds configuration for the catalog.
type CatalogConfig struct {
	// TTL is how long a plan stays usable (default: 30 minutes).
	TTL time.Duration

	// CleanupInterval is how often expired plans are dropped (default: 5 minutes).
	CleanupInterval time.Duration

	// Now returns the current time (default: time.Now).
	Now func() time.Time

	Logger zerolog.Logger
}

// Catalog is a per-rider cache of scored routes.
type Catalog struct {
	ttl             time.Duration
	cleanupInterval time.Duration
	now             func() time.Time
	logger          zerolog.Logger

	mu          sync.RWMutex
	plans       map[string]*cachedPlan
	lastCleanup time.Time
}

type cachedPlan struct {
	plan      Plan
	expiresAt time.Time
}

// NewCatalog creates an empty catalog.
func NewCatalog(cfg CatalogConfig) *Catalog {
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = 30 * time.Minute
	}

	cleanupInterval := cfg.CleanupInterval
	if cleanupInterval == 0 {
		cleanupInterval = 5 * time.Minute
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Catalog{
		ttl:             ttl,
		cleanupInterval: cleanupInterval,
		now:             now,
		logger:          cfg.Logger,
		plans:           make(map[string]*cachedPlan),
		lastCleanup:     now(),
	}
}

// Put replaces the rider's plan.
func (c *Catalog) Put(plan Plan) {
	now := c.now()
	if plan.ScoredAt.IsZero() {
		plan.ScoredAt = now
	}
	plan.Routes = append([]safety.ScoredRoute(nil), plan.Routes...)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.plans[plan.RiderID] = &cachedPlan{plan: plan, expiresAt: now.Add(c.ttl)}
	c.cleanupIfNeeded(now)
}

// Get returns the rider's unexpired plan.
func (c *Catalog) Get(riderID string) (Plan, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cached, ok := c.plans[riderID]
	if !ok || !c.now().Before(cached.expiresAt) {
		return Plan{}, false
	}
	return cached.plan, true
}

// Route looks up a scored route by id in the rider's plan.
func (c *Catalog) Route(riderID string, routeID int) (safety.ScoredRoute, Plan, error) {
	plan, ok := c.Get(riderID)
	if !ok {
		return safety.ScoredRoute{}, Plan{}, ErrRouteNotFound
	}
	route, ok := plan.Route(routeID)
	if !ok {
		return safety.ScoredRoute{}, Plan{}, ErrRouteNotFound
	}
	return route, plan, nil
}

// Forget drops the rider's plan.
func (c *Catalog) Forget(riderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.plans, riderID)
}

// Len returns the number of plans held, expired or not.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.plans)
}

// cleanupIfNeeded drops expired plans once per cleanup interval. Caller holds c.mu.
func (c *Catalog) cleanupIfNeeded(now time.Time) {
	if now.Sub(c.lastCleanup) < c.cleanupInterval {
		return
	}
	c.lastCleanup = now

	expired := 0
	for rider, cached := range c.plans {
		if !now.Before(cached.expiresAt) {
			delete(c.plans, rider)
			expired++
		}
	}

	if expired > 0 {
		c.logger.Debug().
			Int("expired_plans", expired).
			Msg("cleaned up expired route plans")
	}
}
