package models

import "github.com/saferoute/saferoute/internal/safety"

// ScoreRoutesRequest is the request body for POST /v1/routes:score.
// Either Routes or Origin and Destination must be provided.
type ScoreRoutesRequest struct {
	Routes      []safety.RouteCandidate `json:"routes,omitempty"`
	Origin      *Point                  `json:"origin,omitempty"`
	Destination *Point                  `json:"destination,omitempty"`
	Mode        string                  `json:"mode,omitempty"`
	Preferences *safety.Preferences     `json:"preferences,omitempty"`
}

// ScoreRoutesResponse lists scored routes in request order.
type ScoreRoutesResponse struct {
	Routes      []safety.ScoredRoute `json:"routes"`
	Preferences safety.Preferences   `json:"preferences"`
	ScoredAt    Timestamp            `json:"scoredAt"`
	Provider    string               `json:"provider,omitempty"`
}
