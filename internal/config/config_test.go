package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saferoute/saferoute/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"APP_ENV", "APP_PORT", "HISTORY_DRIVER", "CORS_ALLOWED_ORIGINS", "TRIP_TICK_INTERVAL", "REQUIRE_TLS"} {
		t.Setenv(key, "")
	}

	cfg := config.Load()

	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, config.HistoryDriverMemory, cfg.HistoryDriver)
	assert.Equal(t, 3*time.Second, cfg.TickInterval)
	assert.Equal(t, 30*24*time.Hour, cfg.Retention)
	assert.Empty(t, cfg.CORSAllowedOrigins)
	assert.False(t, cfg.RequireTLS)
	assert.NoError(t, cfg.Validate())
	assert.NotEmpty(t, cfg.SigningKey())
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("HISTORY_DRIVER", "SQLite")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.saferoute.app, https://admin.saferoute.app,")
	t.Setenv("TRIP_TICK_INTERVAL", "500ms")
	t.Setenv("HISTORY_RETENTION_DAYS", "7")
	t.Setenv("REQUIRE_TLS", "true")
	t.Setenv("JWT_SIGNING_KEY", "")

	cfg := config.Load()

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, config.HistoryDriverSQLite, cfg.HistoryDriver)
	assert.Equal(t, []string{"https://app.saferoute.app", "https://admin.saferoute.app"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, 500*time.Millisecond, cfg.TickInterval)
	assert.Equal(t, 7*24*time.Hour, cfg.Retention)
	assert.True(t, cfg.RequireTLS)

	// Production refuses the development signing key.
	assert.Empty(t, cfg.SigningKey())
	assert.ErrorContains(t, cfg.Validate(), "JWT_SIGNING_KEY")
}

func TestValidate_UnknownDriver(t *testing.T) {
	cfg := config.Load()
	cfg.HistoryDriver = "mongo"

	assert.ErrorContains(t, cfg.Validate(), "HISTORY_DRIVER")
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("SAFEROUTE_DOTENV_TEST=from-file\nAPP_PORT=9999\n"), 0o600))
	t.Setenv("APP_PORT", "7000")
	t.Cleanup(func() { _ = os.Unsetenv("SAFEROUTE_DOTENV_TEST") })

	config.LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env"))

	assert.Equal(t, "from-file", os.Getenv("SAFEROUTE_DOTENV_TEST"))
	// The process environment wins over the file.
	assert.Equal(t, "7000", os.Getenv("APP_PORT"))
}
