// Package main provides the entrypoint for the SafeRoute background worker.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/saferoute/saferoute/internal/config"
	"github.com/saferoute/saferoute/internal/database"
	"github.com/saferoute/saferoute/internal/hazard"
	"github.com/saferoute/saferoute/internal/hazard/feed"
	"github.com/saferoute/saferoute/internal/history"
	"github.com/saferoute/saferoute/internal/telemetry"
	"github.com/saferoute/saferoute/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "saferoute-worker"

	config.LoadDotEnv()
	cfg := config.Load()

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting SafeRoute worker")

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	var probes []worker.Probe

	var pool *pgxpool.Pool
	if cfg.HistoryDriver == config.HistoryDriverPostgres {
		dbConfig := database.ConfigFromEnv()
		pool, err = database.Connect(ctx, dbConfig)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		probes = append(probes, worker.Probe{Name: "database", Check: pool.Ping})
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

	if cfg.HazardFeedURL != "" {
		hazards := hazard.NewService(hazard.ServiceConfig{
			Provider: feed.NewClient(feed.ClientConfig{
				BaseURL: cfg.HazardFeedURL,
				APIKey:  cfg.HazardFeedAPIKey,
				Logger:  log,
			}),
			Logger: log,
		})
		probes = append(probes, worker.Probe{Name: feed.ProviderName, Check: func(ctx context.Context) error {
			hazards.InvalidateCache()
			_, err := hazards.Reports(ctx)
			return err
		}})
	}

	jobs := worker.NewJobs(worker.JobsConfig{
		History: historyService,
		Probes:  probes,
		Logger:  log,
	})

	go jobs.RunSchedule(ctx)

	var pubsubHandler *worker.PubSubHandler
	if cfg.PubSubProjectID != "" {
		pubsubHandler, err = worker.NewPubSubHandler(ctx, worker.PubSubConfig{
			ProjectID:        cfg.PubSubProjectID,
			SubscriptionName: cfg.JobsSubscription,
			Jobs:             jobs,
			Logger:           log,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create pubsub handler")
		}
		go func() {
			if err := pubsubHandler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("pubsub handler stopped")
			}
		}()
	} else {
		log.Warn().Msg("pubsub not configured - running scheduled jobs only")
	}

	// Worker exposes health and job metrics for Cloud Run
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  "healthy",
			"version": Version,
			"jobs":    jobs.GetMetrics(),
		})
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("health server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down worker")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}
	if pubsubHandler != nil {
		if err := pubsubHandler.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close pubsub client")
		}
	}

	log.Info().Msg("worker stopped")
}
