// Package routing fetches candidate routes between two points from the
// path-finding collaborator.
package routing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/saferoute/saferoute/internal/safety"
)

// Sentinel errors for routing operations.
var (
	// ErrProviderUnavailable indicates the path-finding service is down or the circuit breaker is open.
	ErrProviderUnavailable = errors.New("routing provider unavailable")
	// ErrNoRouteFound indicates no valid route exists between the given points.
	ErrNoRouteFound = errors.New("no route found between the given points")
	// ErrRateLimitExceeded indicates the provider quota has been exceeded.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrInvalidCoordinates indicates the provided coordinates are invalid or out of range.
	ErrInvalidCoordinates = errors.New("invalid coordinates")
)

// Provider is a path-finding service.
type Provider interface {
	// Alternatives returns candidate routes, with safety factors, between two points.
	Alternatives(ctx context.Context, req AlternativesRequest) (*AlternativesResponse, error)
	// Name returns the provider identifier for logging and health tracking.
	Name() string
}

// Mode is the travel mode.
type Mode string

const (
	ModeWalk Mode = "walk"
	ModeBike Mode = "bike"
)

// Valid reports whether m is a supported mode.
func (m Mode) Valid() bool {
	return m == ModeWalk || m == ModeBike
}

// Coordinate is a geographic point.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Validate checks the coordinate is within range.
func (c Coordinate) Validate() error {
	if c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("latitude %f out of range [-90, 90]", c.Lat)
	}
	if c.Lon < -180 || c.Lon > 180 {
		return fmt.Errorf("longitude %f out of range [-180, 180]", c.Lon)
	}
	return nil
}

// AlternativesRequest asks for candidate routes.
type AlternativesRequest struct {
	Origin          Coordinate
	Destination     Coordinate
	Mode            Mode
	MaxAlternatives int // Maximum number of alternatives besides the primary route (default: 2)
}

// Candidate is a route returned by the provider.
type Candidate struct {
	safety.RouteCandidate

	// Geometry is the encoded polyline (precision 5), if the provider sent one.
	Geometry string
}

// AlternativesResponse holds the candidates for one request.
type AlternativesResponse struct {
	Routes    []Candidate
	Provider  string
	FetchedAt time.Time
}

// RouteCandidates strips geometry for scoring.
func (r *AlternativesResponse) RouteCandidates() []safety.RouteCandidate {
	out := make([]safety.RouteCandidate, len(r.Routes))
	for i, c := range r.Routes {
		out[i] = c.RouteCandidate
	}
	return out
}

// Error provides detailed error information from the path-finding provider.
type Error struct {
	Provider string // Provider that generated the error
	Code     string // Error code from the provider
	Message  string // Human-readable error message
	Err      error  // Underlying error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error is transient and the request can be retried.
func (e *Error) IsRetryable() bool {
	return errors.Is(e.Err, ErrProviderUnavailable) || errors.Is(e.Err, ErrRateLimitExceeded)
}
