// Package main provides the entrypoint for the SafeRoute API server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/saferoute/saferoute/internal/api"
	"github.com/saferoute/saferoute/internal/api/handler"
	"github.com/saferoute/saferoute/internal/api/middleware"
	"github.com/saferoute/saferoute/internal/auth"
	"github.com/saferoute/saferoute/internal/config"
	"github.com/saferoute/saferoute/internal/database"
	"github.com/saferoute/saferoute/internal/emergency"
	"github.com/saferoute/saferoute/internal/events"
	"github.com/saferoute/saferoute/internal/featureflags"
	"github.com/saferoute/saferoute/internal/hazard"
	"github.com/saferoute/saferoute/internal/hazard/feed"
	"github.com/saferoute/saferoute/internal/history"
	"github.com/saferoute/saferoute/internal/navigation"
	"github.com/saferoute/saferoute/internal/provider/resilience"
	"github.com/saferoute/saferoute/internal/routes"
	"github.com/saferoute/saferoute/internal/routing"
	"github.com/saferoute/saferoute/internal/routing/pathfinder"
	"github.com/saferoute/saferoute/internal/telemetry"
	"github.com/saferoute/saferoute/internal/trip"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "saferoute-api"

	config.LoadDotEnv()
	cfg := config.Load()

	// Setup structured logging
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Str("env", cfg.Env).
		Msg("starting SafeRoute API")

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	// Initialize OpenTelemetry
	ctx := context.Background()
	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TelemetryEnabled,
		SampleRatio:    cfg.TraceSampleRatio,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if cfg.TelemetryEnabled {
		log.Info().
			Str("otlp_endpoint", cfg.OTLPEndpoint).
			Msg("OpenTelemetry initialized")
	}

	httpMetrics, err := middleware.NewMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize http metrics")
	}
	tripMetrics, err := trip.NewMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize trip metrics")
	}
	navMetrics, err := navigation.NewMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize navigation metrics")
	}

	// Postgres backs history and feature flags when selected.
	var pool *pgxpool.Pool
	if cfg.HistoryDriver == config.HistoryDriverPostgres {
		dbConfig := database.ConfigFromEnv()
		pool, err = database.Connect(ctx, dbConfig)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		log.Info().Str("target", dbConfig.Target()).Msg("database connected")
	}

	historyRepo, closeHistory, err := history.Open(ctx, cfg.HistoryDriver, cfg.SQLitePath, pool)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open trip history")
	}
	defer func() {
		if closeErr := closeHistory(); closeErr != nil {
			log.Error().Err(closeErr).Msg("failed to close trip history")
		}
	}()
	historyService := history.NewService(history.ServiceConfig{
		Repository: historyRepo,
		Retention:  cfg.Retention,
		Logger:     log,
	})
	log.Info().Str("driver", cfg.HistoryDriver).Msg("trip history initialized")

	var ffRepo featureflags.Repository = featureflags.NewInMemoryRepository()
	if pool != nil {
		pgFlags := featureflags.NewPostgresRepository(pool)
		if err := pgFlags.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to prepare feature flags schema")
		}
		ffRepo = pgFlags
	}
	ffService := featureflags.NewService(featureflags.ServiceConfig{
		Repository: ffRepo,
		Logger:     log,
		CacheTTL:   1 * time.Minute,
	})

	jwtService := auth.NewJWTService(auth.JWTConfig{
		SigningKey: cfg.SigningKey(),
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
	})
	if cfg.JWTSigningKey == "" {
		log.Warn().Msg("using default JWT signing key - not secure for production")
	}

	providers := resilience.GlobalRegistry

	// Collaborators are optional; each falls back to an in-process stand-in.
	var router navigation.Router
	if cfg.PathfinderURL != "" {
		router = routing.NewService(routing.ServiceConfig{
			Provider: pathfinder.NewClient(pathfinder.ClientConfig{
				BaseURL:  cfg.PathfinderURL,
				APIKey:   cfg.PathfinderAPIKey,
				Registry: providers,
				Logger:   log,
			}),
			Logger: log,
		})
		log.Info().Str("url", cfg.PathfinderURL).Msg("path-finding service configured")
	} else {
		log.Warn().Msg("path-finding service not configured - scoring requires explicit routes")
	}

	var dispatcher emergency.Dispatcher = emergency.LogDispatcher{Logger: log}
	if cfg.TelephonyURL != "" {
		dispatcher = emergency.NewClient(emergency.ClientConfig{
			BaseURL:  cfg.TelephonyURL,
			APIKey:   cfg.TelephonyAPIKey,
			Registry: providers,
			Logger:   log,
		})
		log.Info().Str("url", cfg.TelephonyURL).Msg("telephony service configured")
	} else {
		log.Warn().Msg("telephony service not configured - emergencies are logged only")
	}

	var hazards *hazard.Service
	var hazardSource trip.HazardSource
	if cfg.HazardFeedURL != "" {
		hazards = hazard.NewService(hazard.ServiceConfig{
			Provider: feed.NewClient(feed.ClientConfig{
				BaseURL:  cfg.HazardFeedURL,
				APIKey:   cfg.HazardFeedAPIKey,
				Registry: providers,
				Logger:   log,
			}),
			Logger: log,
		})
		hazardSource = hazards
		log.Info().Str("url", cfg.HazardFeedURL).Msg("hazard feed configured")
	}

	var publisher events.Publisher = events.LogPublisher{Logger: log}
	if cfg.PubSubProjectID != "" {
		publisher, err = events.NewPubSubPublisher(ctx, events.PubSubConfig{
			ProjectID: cfg.PubSubProjectID,
			Topic:     cfg.TripEventsTopic,
			Logger:    log,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create trip event publisher")
		}
		log.Info().Str("topic", cfg.TripEventsTopic).Msg("trip events publishing to pubsub")
	}
	forwarder := events.NewForwarder(events.ForwarderConfig{
		Publisher: publisher,
		Skip:      []trip.EventType{trip.EventProgressUpdated},
		Logger:    log,
	})

	registry := trip.NewRegistry(trip.Config{
		Logger:        log,
		TickInterval:  cfg.TickInterval,
		AlertInterval: cfg.AlertInterval,
		Generator: trip.AlertGeneratorConfig{
			Source:    hazardSource,
			Overrides: ffService,
			Logger:    log,
		},
		Observer: forwarder.Observe,
		Recorder: historyService,
		Metrics:  tripMetrics,
	})

	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	go registry.Run(runCtx)

	navService := navigation.NewService(navigation.Config{
		Registry:   registry,
		Catalog:    routes.NewCatalog(routes.CatalogConfig{Logger: log}),
		Router:     router,
		Dispatcher: dispatcher,
		Flags:      ffService,
		Logger:     log,
		Metrics:    navMetrics,
	})

	ops := handler.OpsConfig{
		Version:   Version,
		BuildTime: BuildTime,
		Sessions:  registry,
		Providers: providers,
		Events:    forwarder,
		Flags:     ffService,
	}
	if pool != nil {
		ops.Database = pool
	}
	if hazards != nil {
		ops.Hazards = hazards
	}

	httpHandler := api.NewRouter(api.RouterConfig{
		Logger:             log,
		ServiceName:        serviceName,
		Metrics:            httpMetrics,
		Validator:          jwtService,
		Navigation:         navService,
		History:            historyService,
		FeatureFlagService: ffService,
		Ops:                ops,
		CORSOrigins:        cfg.CORSAllowedOrigins,
		RequireTLS:         cfg.RequireTLS,
	})

	// No WriteTimeout: event streams stay open for the whole trip.
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Terminating sessions closes their event streams, which lets Shutdown
	// finish instead of waiting on hijacked connections.
	if err := registry.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("trip records still pending at shutdown")
	}
	stopRun()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	if err := forwarder.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to flush trip events")
	}

	log.Info().Msg("server stopped")
}
