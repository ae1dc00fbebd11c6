package models

import "github.com/saferoute/saferoute/internal/trip"

// StartSessionRequest is the request body for POST /v1/sessions.
type StartSessionRequest struct {
	RouteID *int `json:"routeId"`
}

// CommandRequest is the request body for POST /v1/sessions/{sessionId}/commands.
type CommandRequest struct {
	Type        string `json:"type"`
	Enabled     *bool  `json:"enabled,omitempty"`
	AlertID     string `json:"alertId,omitempty"`
	Position    *Point `json:"position,omitempty"`
	Destination *Point `json:"destination,omitempty"`
}

// TerminateResponse reports the final state of a terminated session.
type TerminateResponse struct {
	SessionID string     `json:"sessionId"`
	State     trip.State `json:"state"`
}

// EmergencyResponse is returned by POST /v1/sessions/{sessionId}/emergency.
type EmergencyResponse struct {
	Emergency  trip.Emergency `json:"emergency"`
	Dispatched bool           `json:"dispatched"`
	Session    trip.Snapshot  `json:"session"`
}
