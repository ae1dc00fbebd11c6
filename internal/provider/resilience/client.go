package resilience

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

var (
	// ErrCircuitOpen is returned without calling the collaborator while its
	// breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// ServerError is a 5xx reply. It counts against the breaker and is retried.
type ServerError struct {
	StatusCode int
}

func (e *ServerError) Error() string {
	return "server error: " + http.StatusText(e.StatusCode)
}

// ClientConfig holds configuration for a collaborator HTTP client.
type ClientConfig struct {
	// Name identifies the collaborator in the registry and logs.
	Name string

	// Timeout bounds each attempt. Default: 10 seconds
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt. Default: 3
	MaxRetries uint64

	// InitialInterval is the first retry delay. Default: 200ms
	InitialInterval time.Duration

	// MaxInterval caps the retry delay. Default: 2 seconds
	MaxInterval time.Duration

	// Breaker defaults to DefaultBreakerConfig(Name).
	Breaker *BreakerConfig

	// Registry receives the client and its outcomes (optional).
	Registry *Registry

	Logger zerolog.Logger
}

// DefaultClientConfig returns the client settings used for collaborators.
func DefaultClientConfig(name string) ClientConfig {
	breaker := DefaultBreakerConfig(name)
	return ClientConfig{
		Name:            name,
		Timeout:         10 * time.Second,
		MaxRetries:      3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		Breaker:         &breaker,
	}
}

// Client is an HTTP client that retries transient failures and stops calling
// a collaborator whose breaker is open.
type Client struct {
	name       string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*http.Response]
	newBackOff func() backoff.BackOff
	registry   *Registry
	logger     zerolog.Logger
}

// NewClient creates a collaborator client and registers it when a Registry is set.
func NewClient(cfg ClientConfig) *Client {
	d := DefaultClientConfig(cfg.Name)
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = d.MaxRetries
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = d.InitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = d.MaxInterval
	}
	breakerCfg := *d.Breaker
	if cfg.Breaker != nil {
		breakerCfg = *cfg.Breaker
		breakerCfg.Name = cfg.Name
	}

	c := &Client{
		name:       cfg.Name,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		registry:   cfg.Registry,
		logger:     cfg.Logger.With().Str("provider", cfg.Name).Logger(),
	}
	c.newBackOff = func() backoff.BackOff {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = cfg.InitialInterval
		bo.MaxInterval = cfg.MaxInterval
		bo.MaxElapsedTime = 0
		return backoff.WithMaxRetries(bo, cfg.MaxRetries)
	}

	observe := breakerCfg.OnStateChange
	breakerCfg.OnStateChange = func(name string, from, to gobreaker.State) {
		c.logger.Warn().
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("circuit breaker state changed")
		if c.registry != nil {
			c.registry.recordTransition(name)
		}
		if observe != nil {
			observe(name, from, to)
		}
	}
	c.breaker = newBreaker[*http.Response](breakerCfg) //nolint:bodyclose // type param, not response

	if c.registry != nil {
		c.registry.Register(c.name, c)
	}
	return c
}

// Name returns the collaborator name.
func (c *Client) Name() string {
	return c.name
}

// Do sends req, retrying network errors and 5xx replies with exponential
// backoff. A 5xx that survives every retry is returned as a response, not an
// error, so callers can read its body. The outcome is recorded in the registry.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.do(req.Context(), req)
	if c.registry != nil {
		switch {
		case err != nil:
			c.registry.RecordFailure(c.name, err)
		case resp.StatusCode >= http.StatusInternalServerError:
			c.registry.RecordFailure(c.name, &ServerError{StatusCode: resp.StatusCode})
		default:
			c.registry.RecordSuccess(c.name)
		}
	}
	return resp, err
}

func (c *Client) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	var last *http.Response

	attempt := func() error {
		resp, err := c.breaker.Execute(func() (*http.Response, error) { //nolint:bodyclose // returned to the caller
			return c.send(ctx, req)
		})
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return backoff.Permanent(ErrCircuitOpen)
		case err != nil:
			if resp != nil {
				if last != nil {
					last.Body.Close()
				}
				last = resp
			}
			return err
		}
		last = resp
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Debug().Err(err).Dur("retry_in", wait).Str("url", req.URL.Path).Msg("retrying collaborator request")
	}

	if err := backoff.RetryNotify(attempt, backoff.WithContext(c.newBackOff(), ctx), notify); err != nil {
		if last != nil {
			return last, nil
		}
		return nil, err
	}
	return last, nil
}

// send performs one attempt. The body is replayed from GetBody so POSTs can
// be retried.
func (c *Client) send(ctx context.Context, req *http.Request) (*http.Response, error) {
	attemptReq := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		attemptReq.Body = body
	}

	resp, err := c.httpClient.Do(attemptReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return resp, &ServerError{StatusCode: resp.StatusCode}
	}
	return resp, nil
}

// CircuitBreakerState returns the breaker's current state.
func (c *Client) CircuitBreakerState() gobreaker.State {
	return c.breaker.State()
}

// CircuitBreakerCounts returns the breaker's counters for the current window.
func (c *Client) CircuitBreakerCounts() gobreaker.Counts {
	return c.breaker.Counts()
}
