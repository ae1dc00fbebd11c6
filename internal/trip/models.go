// Package trip implements live trip monitoring: the per-trip session state
// machine, its progress and alert timers, and the process-wide session registry.
package trip

import (
	"errors"
	"time"
)

// Sentinel errors for session operations.
var (
	// ErrInvalidTransition indicates an operation not allowed from the current state.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrInvalidState indicates a mutation attempted on a terminal session.
	ErrInvalidState = errors.New("session is no longer active")
	// ErrSessionAlreadyActive indicates the rider already has a non-terminal session.
	ErrSessionAlreadyActive = errors.New("rider already has an active session")
	// ErrSessionNotFound indicates no session exists with the given id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrRegistryClosed is returned by Create after the registry is closed.
	ErrRegistryClosed = errors.New("session registry is closed")
)

// State is the lifecycle state of a trip session.
type State string

const (
	StateIdle       State = "idle"
	StateNavigating State = "navigating"
	StatePaused     State = "paused"
	StateCompleted  State = "completed"
	StateCancelled  State = "cancelled"
)

// IsTerminal reports whether no further transitions are possible.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// Severity orders alerts: info < warning < danger.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityDanger  Severity = "danger"
)

// Rank returns the ordinal of the severity. Unknown severities rank below info.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityWarning:
		return 2
	case SeverityDanger:
		return 3
	default:
		return 0
	}
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// MaxAlerts is the number of alerts a session holds at once.
const MaxAlerts = 3

// Alert is a time-stamped safety notice raised during a trip.
type Alert struct {
	ID        string    `json:"id"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Emergency records that the rider triggered an emergency during the trip.
type Emergency struct {
	ID          string    `json:"id"`
	DispatchRef string    `json:"dispatchRef,omitempty"`
	At          time.Time `json:"at"`
}

// Route identifies the route a session is following.
type Route struct {
	ID         int     `json:"id"`
	Name       string  `json:"name,omitempty"`
	EtaMinutes int     `json:"etaMinutes"`
	DistanceKm float64 `json:"distanceKm"`
}

// Snapshot is a consistent, read-only copy of a session's state.
type Snapshot struct {
	ID                  string      `json:"id"`
	RiderID             string      `json:"riderId"`
	RouteID             int         `json:"routeId"`
	RouteName           string      `json:"routeName,omitempty"`
	State               State       `json:"state"`
	ProgressPercent     int         `json:"progressPercent"`
	EtaMinutes          int         `json:"etaMinutes"`
	DistanceKm          float64     `json:"distanceKm"`
	DistanceRemainingKm float64     `json:"distanceRemainingKm"`
	Alerts              []Alert     `json:"alerts"`
	SharingEnabled      bool        `json:"sharingEnabled"`
	Emergencies         []Emergency `json:"emergencies,omitempty"`
	Reroutes            int         `json:"reroutes"`
	AlertsRaised        int         `json:"alertsRaised"`
	CreatedAt           time.Time   `json:"createdAt"`
	StartedAt           *time.Time  `json:"startedAt,omitempty"`
	EndedAt             *time.Time  `json:"endedAt,omitempty"`
}
