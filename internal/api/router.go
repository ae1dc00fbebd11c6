// Package api provides the HTTP API for SafeRoute.
package api

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/saferoute/saferoute/internal/api/handler"
	"github.com/saferoute/saferoute/internal/api/middleware"
	"github.com/saferoute/saferoute/internal/featureflags"
	"github.com/saferoute/saferoute/internal/history"
	"github.com/saferoute/saferoute/internal/navigation"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics

	// Validator checks bearer tokens, typically *auth.JWTService.
	Validator middleware.TokenValidator

	Navigation         *navigation.Service
	History            *history.Service
	FeatureFlagService *featureflags.Service

	// Ops carries the version and the dependencies reported by /v1/ops.
	Ops handler.OpsConfig

	// CORSOrigins lists web client origins allowed to call the API and open
	// event streams.
	CORSOrigins []string

	// RequireTLS rejects plain-HTTP requests.
	RequireTLS bool
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "saferoute-api"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)            // Generate/propagate request ID first
	r.Use(middleware.Tracing(serviceName)) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))   // Structured logging
	r.Use(middleware.Recovery(cfg.Logger)) // Panic recovery
	r.Use(chimiddleware.RealIP)            // Real IP extraction
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequireTLS(cfg.RequireTLS))
	r.Use(middleware.RequireJSON)

	// Initialize handlers
	opsHandler := handler.NewOpsHandler(cfg.Ops)
	routeHandler := handler.NewRouteHandler(cfg.Navigation)
	sessionHandler := handler.NewSessionHandler(cfg.Navigation, checkOrigin(cfg.CORSOrigins), cfg.Logger)
	tripHandler := handler.NewTripHandler(cfg.History, cfg.Logger)
	featureFlagsHandler := handler.NewFeatureFlagsHandler(cfg.FeatureFlagService, cfg.Logger)

	authMiddleware := middleware.Auth(cfg.Validator)
	optionalAuth := middleware.OptionalAuth(cfg.Validator)

	scoringRateLimit := middleware.RateLimitByRider(middleware.ScoringRateLimit)          // 30 req/min
	sessionStartRateLimit := middleware.RateLimitByRider(middleware.SessionStartRateLimit) // 10 req/min
	standardRateLimit := middleware.RateLimitByRider(middleware.StandardRateLimit)         // 100 req/min
	probeRateLimit := middleware.RateLimitByIP(middleware.StandardRateLimit)

	r.Route("/v1", func(r chi.Router) {
		// Ops endpoints (public probes, limited per IP)
		r.Route("/ops", func(r chi.Router) {
			r.With(probeRateLimit).Get("/health", opsHandler.HealthCheck)
			r.With(probeRateLimit).Get("/ready", opsHandler.ReadinessCheck)
			r.With(authMiddleware, middleware.RequireOperator).Get("/status", opsHandler.SystemStatus)
		})

		// Scoring works anonymously; a rider token also caches the result
		// for starting a session.
		r.With(optionalAuth, scoringRateLimit).Post("/routes:score", routeHandler.ScoreRoutes)

		r.Route("/sessions", func(r chi.Router) {
			r.Use(authMiddleware)
			r.With(sessionStartRateLimit).Post("/", sessionHandler.StartSession)
			r.Route("/{sessionId}", func(r chi.Router) {
				// The event stream is long-lived and exempt from rate limits.
				r.Get("/events", sessionHandler.StreamEvents)

				r.Group(func(r chi.Router) {
					r.Use(standardRateLimit)
					r.Get("/", sessionHandler.GetSession)
					r.Delete("/", sessionHandler.TerminateSession)
					r.Post("/commands", sessionHandler.Command)
					r.Post("/emergency", sessionHandler.TriggerEmergency)
				})
			})
		})

		r.Route("/me/trips", func(r chi.Router) {
			r.Use(authMiddleware)
			r.Use(standardRateLimit)
			r.Get("/", tripHandler.ListTrips)
			r.Delete("/", tripHandler.ClearTrips)
			r.Get("/export", tripHandler.ExportTrips)
			r.Get("/{tripId}", tripHandler.GetTrip)
		})

		// Admin endpoints (operators only)
		r.Route("/admin", func(r chi.Router) {
			r.Use(authMiddleware)
			r.Use(middleware.RequireOperator)
			r.Use(standardRateLimit)

			r.Route("/feature-flags", func(r chi.Router) {
				r.Get("/", featureFlagsHandler.ListFeatureFlags)
				r.Put("/", featureFlagsHandler.UpsertFeatureFlags)
				r.Post("/invalidate", featureFlagsHandler.InvalidateCache)
				r.Delete("/{key}", featureFlagsHandler.ResetFeatureFlag)
			})
		})
	})

	return r
}

// checkOrigin accepts websocket upgrades from the configured web origins.
// With no origins configured, the upgrader's same-origin default applies.
func checkOrigin(origins []string) func(*http.Request) bool {
	if len(origins) == 0 {
		return nil
	}
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.ToLower(strings.TrimRight(o, "/"))] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || allowed["*"] {
			return true
		}
		if allowed[strings.ToLower(origin)] {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}
