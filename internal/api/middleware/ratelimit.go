package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/saferoute/saferoute/internal/api/models"
)

// RateLimitConfig is a fixed budget of requests per sliding window.
type RateLimitConfig struct {
	RequestLimit int
	WindowLength time.Duration
}

// Budgets per route group.
var (
	// ScoringRateLimit guards route scoring, which can fan out to the path-finder.
	ScoringRateLimit = RateLimitConfig{RequestLimit: 30, WindowLength: time.Minute}

	// SessionStartRateLimit guards trip creation.
	SessionStartRateLimit = RateLimitConfig{RequestLimit: 10, WindowLength: time.Minute}

	// StandardRateLimit covers the remaining session, history and admin calls.
	StandardRateLimit = RateLimitConfig{RequestLimit: 100, WindowLength: time.Minute}
)

// RateLimitByIP limits by client address. Behind a proxy it relies on chi's
// RealIP middleware having run first.
func RateLimitByIP(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return limiter(cfg, httprate.KeyByRealIP)
}

// RateLimitByRider limits by authenticated rider, so one rider shares a budget
// across devices. Anonymous requests fall back to the client address.
func RateLimitByRider(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return limiter(cfg, keyByRiderOrIP)
}

func limiter(cfg RateLimitConfig, key httprate.KeyFunc) func(http.Handler) http.Handler {
	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowLength,
		httprate.WithKeyFuncs(key),
		httprate.WithLimitHandler(tooManyRequests(cfg.WindowLength)),
	)
}

func keyByRiderOrIP(r *http.Request) (string, error) {
	if riderID := GetRiderID(r.Context()); riderID != "" {
		return "rider:" + riderID, nil
	}
	return httprate.KeyByRealIP(r)
}

// tooManyRequests answers with a 429 problem. Retry-After is the full window,
// an upper bound since httprate does not expose the reset time.
func tooManyRequests(window time.Duration) http.HandlerFunc {
	retryAfter := strconv.Itoa(int(window.Seconds()))

	return func(w http.ResponseWriter, r *http.Request) {
		problem := models.NewTooManyRequests(GetRequestID(r.Context()), "Rate limit exceeded. Please try again later.")
		problem.Instance = r.URL.Path

		w.Header().Set("Retry-After", retryAfter)
		problem.Write(w)
	}
}
