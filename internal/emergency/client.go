// Package emergency hands rider emergencies to the telephony and
// emergency-contact service. The core only records that an emergency
// happened; calling and messaging are the service's job.
package emergency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/saferoute/saferoute/internal/provider/resilience"
)

// Sentinel errors for emergency dispatch.
var (
	// ErrProviderUnavailable indicates the telephony service could not be reached.
	ErrProviderUnavailable = errors.New("emergency provider unavailable")
	// ErrRejected indicates the telephony service refused the request.
	ErrRejected = errors.New("emergency request rejected")
)

const (
	// ProviderName identifies the telephony collaborator.
	ProviderName = "telephony"

	// DefaultTimeout is short; a rider in trouble should not wait on retries for long.
	DefaultTimeout = 5 * time.Second
)

// Request describes an emergency raised during a trip.
type Request struct {
	SessionID       string    `json:"sessionId"`
	RiderID         string    `json:"riderId"`
	RouteID         int       `json:"routeId"`
	ProgressPercent int       `json:"progressPercent"`
	SharingEnabled  bool      `json:"sharingEnabled"`
	At              time.Time `json:"at"`
}

// Dispatch is the telephony service's acknowledgement.
type Dispatch struct {
	Reference  string    `json:"reference"`
	AcceptedAt time.Time `json:"acceptedAt"`
}

// Dispatcher hands an emergency to the telephony service.
type Dispatcher interface {
	Dispatch(ctx context.Context, req Request) (*Dispatch, error)
}

// HTTPDoer is an interface for executing HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig holds configuration for the telephony client.
type ClientConfig struct {
	// BaseURL is the telephony service base URL (required).
	BaseURL string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// HTTPClient is the HTTP client to use (optional).
	// If nil, uses a resilient client with defaults.
	HTTPClient HTTPDoer

	// Timeout is the request timeout (default: 5s).
	Timeout time.Duration

	// Registry is the provider registry for health tracking (optional).
	Registry *resilience.Registry

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client is the telephony service client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient HTTPDoer
	logger     zerolog.Logger
}

var _ Dispatcher = (*Client)(nil)

// NewClient creates a new telephony client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		clientCfg := resilience.DefaultClientConfig(ProviderName)
		clientCfg.Timeout = timeout
		clientCfg.MaxRetries = 2
		clientCfg.Registry = cfg.Registry
		clientCfg.Logger = cfg.Logger
		httpClient = resilience.NewClient(clientCfg)
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		logger:     cfg.Logger,
	}
}

// Dispatch posts the emergency to the telephony service.
func (c *Client) Dispatch(ctx context.Context, req Request) (*Dispatch, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emergencies", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	// Retries must not page contacts twice.
	httpReq.Header.Set("Idempotency-Key", req.SessionID+":"+req.At.UTC().Format(time.RFC3339Nano))
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error().Err(err).Str("session_id", req.SessionID).Msg("telephony request failed")
		return nil, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}

	var dispatch Dispatch
	if err := json.Unmarshal(respBody, &dispatch); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if dispatch.Reference == "" {
		return nil, fmt.Errorf("%w: empty dispatch reference", ErrProviderUnavailable)
	}
	if dispatch.AcceptedAt.IsZero() {
		dispatch.AcceptedAt = time.Now()
	}

	c.logger.Info().
		Str("session_id", req.SessionID).
		Str("dispatch_ref", dispatch.Reference).
		Msg("emergency dispatched")

	return &dispatch, nil
}

// LogDispatcher records emergencies in the log only. It is used when no
// telephony service is configured.
type LogDispatcher struct {
	Logger zerolog.Logger
}

// Dispatch logs the emergency and returns a local reference.
func (d LogDispatcher) Dispatch(_ context.Context, req Request) (*Dispatch, error) {
	ref := "local-" + uuid.New().String()
	d.Logger.Warn().
		Str("session_id", req.SessionID).
		Str("rider_id", req.RiderID).
		Str("dispatch_ref", ref).
		Msg("emergency recorded without telephony service")
	return &Dispatch{Reference: ref, AcceptedAt: time.Now()}, nil
}
