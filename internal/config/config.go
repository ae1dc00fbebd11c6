// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// History storage drivers.
const (
	HistoryDriverMemory   = "memory"
	HistoryDriverPostgres = "postgres"
	HistoryDriverSQLite   = "sqlite"
)

const devSigningKey = "local-dev-signing-key-change-in-production"

// Config holds configuration shared by the API and worker binaries.
type Config struct {
	Env  string
	Port string

	// Telemetry
	TelemetryEnabled bool
	OTLPEndpoint     string
	TraceSampleRatio float64

	// Auth
	JWTSigningKey string
	JWTIssuer     string
	JWTAudience   string

	// Collaborators. An empty URL disables the collaborator.
	PathfinderURL    string
	PathfinderAPIKey string
	TelephonyURL     string
	TelephonyAPIKey  string
	HazardFeedURL    string
	HazardFeedAPIKey string

	// Pub/Sub. An empty project logs events instead of publishing them.
	PubSubProjectID  string
	TripEventsTopic  string
	JobsSubscription string

	// History storage
	HistoryDriver string
	SQLitePath    string
	Retention     time.Duration

	// Trip monitoring cadence
	TickInterval  time.Duration
	AlertInterval time.Duration

	// HTTP
	CORSAllowedOrigins []string
	RequireTLS         bool
}

// LoadDotEnv loads .env files for local runs. Missing files are ignored and
// variables already set in the environment win.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	return Config{
		Env:  getEnv("APP_ENV", "development"),
		Port: getEnv("APP_PORT", "8080"),

		TelemetryEnabled: getEnvBool("OTEL_ENABLED", false),
		OTLPEndpoint:     getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		TraceSampleRatio: getEnvFloat("OTEL_TRACES_SAMPLER_ARG", 1),

		JWTSigningKey: getEnv("JWT_SIGNING_KEY", ""),
		JWTIssuer:     getEnv("JWT_ISSUER", "https://id.saferoute.app"),
		JWTAudience:   getEnv("JWT_AUDIENCE", "saferoute-api"),

		PathfinderURL:    getEnv("PATHFINDER_URL", ""),
		PathfinderAPIKey: getEnv("PATHFINDER_API_KEY", ""),
		TelephonyURL:     getEnv("TELEPHONY_URL", ""),
		TelephonyAPIKey:  getEnv("TELEPHONY_API_KEY", ""),
		HazardFeedURL:    getEnv("HAZARD_FEED_URL", ""),
		HazardFeedAPIKey: getEnv("HAZARD_FEED_API_KEY", ""),

		PubSubProjectID:  getEnv("PUBSUB_PROJECT_ID", ""),
		TripEventsTopic:  getEnv("TRIP_EVENTS_TOPIC", "trip-events"),
		JobsSubscription: getEnv("WORKER_SUBSCRIPTION", "saferoute-jobs"),

		HistoryDriver: strings.ToLower(getEnv("HISTORY_DRIVER", HistoryDriverMemory)),
		SQLitePath:    getEnv("SQLITE_PATH", "saferoute.db"),
		Retention:     time.Duration(getEnvInt("HISTORY_RETENTION_DAYS", 30)) * 24 * time.Hour,

		TickInterval:  getEnvDuration("TRIP_TICK_INTERVAL", 3*time.Second),
		AlertInterval: getEnvDuration("TRIP_ALERT_INTERVAL", 8*time.Second),

		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS"),
		RequireTLS:         getEnvBool("REQUIRE_TLS", false),
	}
}

// IsProduction reports whether the service runs in production.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// SigningKey returns the JWT signing key, falling back to a development key
// outside production.
func (c Config) SigningKey() string {
	if c.JWTSigningKey == "" && !c.IsProduction() {
		return devSigningKey
	}
	return c.JWTSigningKey
}

// Validate reports configuration that cannot work.
func (c Config) Validate() error {
	var errs []error
	if c.IsProduction() && c.JWTSigningKey == "" {
		errs = append(errs, errors.New("JWT_SIGNING_KEY is required in production"))
	}
	switch c.HistoryDriver {
	case HistoryDriverMemory, HistoryDriverPostgres, HistoryDriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("HISTORY_DRIVER %q is not one of memory, postgres, sqlite", c.HistoryDriver))
	}
	if c.TickInterval <= 0 || c.AlertInterval <= 0 {
		errs = append(errs, errors.New("trip intervals must be positive"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
