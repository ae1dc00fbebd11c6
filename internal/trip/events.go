package trip

import (
	"sync/atomic"
	"time"
)

// EventType identifies the variant carried by an Event.
type EventType string

const (
	EventSnapshot          EventType = "snapshot"
	EventProgressUpdated   EventType = "progress_updated"
	EventAlertRaised       EventType = "alert_raised"
	EventAlertDismissed    EventType = "alert_dismissed"
	EventStateChanged      EventType = "state_changed"
	EventSharingChanged    EventType = "sharing_changed"
	EventRerouted          EventType = "rerouted"
	EventEmergencyRecorded EventType = "emergency_recorded"
)

// DefaultSubscriberBuffer is the per-subscriber event buffer.
const DefaultSubscriberBuffer = 32

// Event is a single change emitted by a session. Exactly one payload field is
// set, matching Type.
type Event struct {
	Seq       uint64    `json:"seq"`
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId"`
	RiderID   string    `json:"riderId"`
	At        time.Time `json:"at"`

	Snapshot   *Snapshot       `json:"snapshot,omitempty"`
	Progress   *ProgressUpdate `json:"progress,omitempty"`
	Alert      *AlertRaised    `json:"alert,omitempty"`
	Dismissed  *AlertDismissed `json:"dismissed,omitempty"`
	Transition *Transition     `json:"transition,omitempty"`
	Sharing    *SharingChange  `json:"sharing,omitempty"`
	Reroute    *Reroute        `json:"reroute,omitempty"`
	Emergency  *Emergency      `json:"emergency,omitempty"`
}

// Terminal reports whether this is the last event of a session.
func (e Event) Terminal() bool {
	return e.Type == EventStateChanged && e.Transition != nil && e.Transition.To.IsTerminal()
}

// ProgressUpdate is the payload of EventProgressUpdated.
type ProgressUpdate struct {
	Percent             int     `json:"percent"`
	EtaMinutes          int     `json:"etaMinutes"`
	DistanceRemainingKm float64 `json:"distanceRemainingKm"`
}

// AlertRaised is the payload of EventAlertRaised.
type AlertRaised struct {
	Alert          Alert  `json:"alert"`
	EvictedAlertID string `json:"evictedAlertId,omitempty"`
}

// AlertDismissed is the payload of EventAlertDismissed.
type AlertDismissed struct {
	ID string `json:"id"`
}

// Transition is the payload of EventStateChanged.
type Transition struct {
	From State `json:"from"`
	To   State `json:"to"`
}

// SharingChange is the payload of EventSharingChanged.
type SharingChange struct {
	Enabled bool `json:"enabled"`
}

// Reroute is the payload of EventRerouted.
type Reroute struct {
	FromRouteID int   `json:"fromRouteId"`
	Route       Route `json:"route"`
}

// Observer receives every event a session emits. It is called with the
// session lock held and must not block or call back into the session.
type Observer func(Event)

// Subscription is a bounded stream of session events. The channel is closed
// after the terminal event, when the subscriber falls behind, or on Close.
type Subscription struct {
	ch      chan Event
	session *Session
	dropped atomic.Bool
}

// Events returns the event channel.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Dropped reports whether the session closed the channel because the
// subscriber fell behind. A dropped subscriber missed events and should
// resubscribe for a fresh snapshot.
func (s *Subscription) Dropped() bool {
	return s.dropped.Load()
}

// Close detaches the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	if s.session != nil {
		s.session.unsubscribe(s)
	}
}
