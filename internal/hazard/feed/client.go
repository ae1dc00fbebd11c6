// Package feed reads the city hazard feed.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/saferoute/saferoute/internal/hazard"
	"github.com/saferoute/saferoute/internal/provider/resilience"
)

const (
	// ProviderName identifies the hazard feed in logs and health reports.
	ProviderName = "hazard-feed"

	// DefaultTimeout for feed requests.
	DefaultTimeout = 10 * time.Second
)

// HTTPDoer is an interface for executing HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig holds configuration for the hazard feed client.
type ClientConfig struct {
	// APIKey is sent in the X-Api-Key header when set.
	APIKey string

	// BaseURL is the feed base URL (required).
	BaseURL string

	// HTTPClient is the HTTP client to use (optional).
	// If nil, uses a resilient client with defaults.
	HTTPClient HTTPDoer

	// Registry is the provider registry for health tracking (optional).
	Registry *resilience.Registry

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client fetches hazard reports.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient HTTPDoer
	logger     zerolog.Logger
}

var _ hazard.Provider = (*Client)(nil)

// NewClient creates a new hazard feed client.
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		clientCfg := resilience.DefaultClientConfig(ProviderName)
		clientCfg.Timeout = DefaultTimeout
		clientCfg.Registry = cfg.Registry
		clientCfg.Logger = cfg.Logger
		httpClient = resilience.NewClient(clientCfg)
	}

	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		httpClient: httpClient,
		logger:     cfg.Logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// Reports fetches all currently published hazards.
func (c *Client) Reports(ctx context.Context) ([]*hazard.Report, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/hazards", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var body feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	reports := make([]*hazard.Report, 0, len(body.Hazards))
	for _, h := range body.Hazards {
		reports = append(reports, h.toReport())
	}

	c.logger.Debug().
		Int("hazards", len(reports)).
		Msg("fetched hazard feed")

	return reports, nil
}

type feedResponse struct {
	Hazards []feedHazard `json:"hazards"`
}

type feedHazard struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Title       string     `json:"title"`
	Impact      string     `json:"impact"`
	RouteIDs    []int      `json:"routeIds"`
	FromPercent int        `json:"fromPercent"`
	ToPercent   int        `json:"toPercent"`
	Start       time.Time  `json:"start"`
	End         *time.Time `json:"end"`
}

func (h feedHazard) toReport() *hazard.Report {
	r := &hazard.Report{
		ID:          h.ID,
		Kind:        mapKind(h.Type),
		Title:       h.Title,
		Impact:      mapImpact(h.Impact),
		RouteIDs:    h.RouteIDs,
		FromPercent: h.FromPercent,
		ToPercent:   h.ToPercent,
		Start:       h.Start,
		Provider:    ProviderName,
	}
	if h.End != nil {
		r.End = *h.End
	}
	return r
}

func mapKind(t string) hazard.Kind {
	switch t {
	case "lighting":
		return hazard.KindLighting
	case "crowd":
		return hazard.KindCrowd
	case "incident":
		return hazard.KindIncident
	case "construction":
		return hazard.KindConstruction
	case "weather":
		return hazard.KindWeather
	default:
		return hazard.KindUnknown
	}
}

func mapImpact(impact string) hazard.Impact {
	switch impact {
	case "severe":
		return hazard.ImpactSevere
	case "major", "high":
		return hazard.ImpactMajor
	case "moderate", "medium":
		return hazard.ImpactModerate
	default:
		return hazard.ImpactMinor
	}
}
