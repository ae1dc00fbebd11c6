package trip

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// NewAlertID returns a fresh alert id.
func NewAlertID() string {
	return "alt_" + uuid.New().String()
}

// ProgressStep is the number of percentage points a tick advances a trip.
const ProgressStep = 2

// SessionConfig holds configuration for a session.
type SessionConfig struct {
	// ID of the session (default: generated).
	ID string

	// RiderID owns the session.
	RiderID string

	// Clock for timestamps (default: RealClock).
	Clock Clock

	// Observer receives every emitted event (optional).
	Observer Observer

	// OnTerminal runs once, outside the session lock, after the session ends (optional).
	OnTerminal func(*Session)
}

// Session is the state machine for one live trip. All methods are safe for
// concurrent use; every mutation is serialized by the session lock.
type Session struct {
	id      string
	riderID string
	clock   Clock

	mu           sync.Mutex
	state        State
	route        Route
	progress     int
	eta          int
	alerts       []Alert
	sharing      bool
	emergencies  []Emergency
	reroutes     int
	alertsRaised int
	createdAt    time.Time
	startedAt    time.Time
	endedAt      time.Time
	seq          uint64

	observer    Observer
	subscribers map[*Subscription]struct{}
	onTerminal  func(*Session)
	done        chan struct{}
}

// NewSession creates an idle session.
func NewSession(cfg SessionConfig) *Session {
	clock := cfg.Clock
	if clock == nil {
		clock = RealClock{}
	}

	id := cfg.ID
	if id == "" {
		id = "trp_" + uuid.New().String()
	}

	return &Session{
		id:          id,
		riderID:     cfg.RiderID,
		clock:       clock,
		state:       StateIdle,
		alerts:      make([]Alert, 0, MaxAlerts),
		createdAt:   clock.Now(),
		observer:    cfg.Observer,
		subscribers: make(map[*Subscription]struct{}),
		onTerminal:  cfg.OnTerminal,
		done:        make(chan struct{}),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// RiderID returns the owning rider.
func (s *Session) RiderID() string { return s.riderID }

// Done is closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start begins navigation along route. Only legal from Idle.
func (s *Session) Start(route Route) error {
	if route.EtaMinutes < 0 {
		return fmt.Errorf("%w: negative eta", ErrInvalidTransition)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return fmt.Errorf("%w: cannot start from %s", ErrInvalidTransition, s.state)
	}

	s.route = route
	s.progress = 0
	s.eta = route.EtaMinutes
	s.startedAt = s.clock.Now()
	s.transitionLocked(StateNavigating)
	return nil
}

// Tick advances progress by ProgressStep and the ETA by one minute. It is a
// no-op outside Navigating and reports whether anything changed. Reaching 100
// completes the session.
func (s *Session) Tick() bool {
	s.mu.Lock()
	if s.state != StateNavigating {
		s.mu.Unlock()
		return false
	}

	s.progress += ProgressStep
	if s.progress > 100 {
		s.progress = 100
	}
	if s.eta > 0 {
		s.eta--
	}

	s.emitLocked(Event{
		Type: EventProgressUpdated,
		Progress: &ProgressUpdate{
			Percent:             s.progress,
			EtaMinutes:          s.eta,
			DistanceRemainingKm: s.distanceRemainingLocked(),
		},
	})

	ended := false
	if s.progress >= 100 {
		ended = s.finishLocked(StateCompleted)
	}
	s.mu.Unlock()

	if ended {
		s.runTerminalHook()
	}
	return true
}

// Pause suspends progress. Only legal from Navigating.
func (s *Session) Pause() error {
	return s.move(StateNavigating, StatePaused)
}

// Resume continues a paused trip. Only legal from Paused.
func (s *Session) Resume() error {
	return s.move(StatePaused, StateNavigating)
}

func (s *Session) move(from, to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != from {
		return fmt.Errorf("%w: cannot move from %s to %s", ErrInvalidTransition, s.state, to)
	}
	s.transitionLocked(to)
	return nil
}

// Cancel ends a non-terminal session. On a terminal session it returns the
// current state without error.
func (s *Session) Cancel() State {
	return s.end(false)
}

// Terminate ends the session as Completed when the trip reached 100%, and as
// Cancelled otherwise. It is idempotent.
func (s *Session) Terminate() State {
	return s.end(true)
}

func (s *Session) end(completeIfArrived bool) State {
	s.mu.Lock()
	if s.state.IsTerminal() {
		st := s.state
		s.mu.Unlock()
		return st
	}

	target := StateCancelled
	if completeIfArrived && s.progress >= 100 {
		target = StateCompleted
	}
	ended := s.finishLocked(target)
	st := s.state
	s.mu.Unlock()

	if ended {
		s.runTerminalHook()
	}
	return st
}

// AddAlert puts alert at the front of the alert list, evicting the oldest when
// the list is full. It returns the evicted alert, if any.
func (s *Session) AddAlert(alert Alert) (*Alert, error) {
	if !alert.Severity.Valid() {
		return nil, fmt.Errorf("unknown alert severity %q", alert.Severity)
	}
	if alert.ID == "" {
		alert.ID = NewAlertID()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.IsTerminal() {
		return nil, ErrInvalidState
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = s.clock.Now()
	}

	var evicted *Alert
	if len(s.alerts) >= MaxAlerts {
		last := s.alerts[len(s.alerts)-1]
		evicted = &last
		s.alerts = s.alerts[:len(s.alerts)-1]
	}
	s.pushAlertLocked(alert, evicted)
	return evicted, nil
}

// offerAlert adds alert under the replacement policy: when the list is full
// it replaces the least severe held alert (oldest among equals), but only if
// alert is strictly more severe. With requireNavigating set, the alert is
// dropped unless the trip is currently Navigating.
func (s *Session) offerAlert(alert Alert, requireNavigating bool) (accepted bool, evicted *Alert, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.IsTerminal() {
		return false, nil, ErrInvalidState
	}
	if requireNavigating && s.state != StateNavigating {
		return false, nil, nil
	}

	if len(s.alerts) >= MaxAlerts {
		weakest := len(s.alerts) - 1
		for i := len(s.alerts) - 2; i >= 0; i-- {
			if s.alerts[i].Severity.Rank() < s.alerts[weakest].Severity.Rank() {
				weakest = i
			}
		}
		if alert.Severity.Rank() <= s.alerts[weakest].Severity.Rank() {
			return false, nil, nil
		}
		removed := s.alerts[weakest]
		evicted = &removed
		s.alerts = append(s.alerts[:weakest], s.alerts[weakest+1:]...)
	}

	s.pushAlertLocked(alert, evicted)
	return true, evicted, nil
}

func (s *Session) pushAlertLocked(alert Alert, evicted *Alert) {
	s.alerts = append(s.alerts, Alert{})
	copy(s.alerts[1:], s.alerts)
	s.alerts[0] = alert
	s.alertsRaised++

	raised := &AlertRaised{Alert: alert}
	if evicted != nil {
		raised.EvictedAlertID = evicted.ID
	}
	s.emitLocked(Event{Type: EventAlertRaised, Alert: raised})
}

// DismissAlert removes the alert with id. It reports whether an alert was
// removed; an unknown id is not an error.
func (s *Session) DismissAlert(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, a := range s.alerts {
		if a.ID == id {
			s.alerts = append(s.alerts[:i], s.alerts[i+1:]...)
			s.emitLocked(Event{Type: EventAlertDismissed, Dismissed: &AlertDismissed{ID: id}})
			return true
		}
	}
	return false
}

// ToggleSharing sets live location sharing. Legal in any state.
func (s *Session) ToggleSharing(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sharing == enabled {
		return
	}
	s.sharing = enabled
	s.emitLocked(Event{Type: EventSharingChanged, Sharing: &SharingChange{Enabled: enabled}})
}

// RecordEmergency stamps the session with an emergency dispatched by the
// telephony collaborator.
func (s *Session) RecordEmergency(dispatchRef string) (Emergency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.IsTerminal() {
		return Emergency{}, ErrInvalidState
	}

	e := Emergency{
		ID:          "emg_" + uuid.New().String(),
		DispatchRef: dispatchRef,
		At:          s.clock.Now(),
	}
	s.emergencies = append(s.emergencies, e)
	s.emitLocked(Event{Type: EventEmergencyRecorded, Emergency: &e})
	return e, nil
}

// Reroute switches an active trip onto a new route, resetting progress and ETA.
func (s *Session) Reroute(route Route) error {
	if route.EtaMinutes < 0 {
		return fmt.Errorf("%w: negative eta", ErrInvalidTransition)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.state.IsTerminal():
		return ErrInvalidState
	case s.state == StateIdle:
		return fmt.Errorf("%w: cannot reroute a trip that has not started", ErrInvalidTransition)
	}

	from := s.route.ID
	s.route = route
	s.progress = 0
	s.eta = route.EtaMinutes
	s.reroutes++
	s.emitLocked(Event{Type: EventRerouted, Reroute: &Reroute{FromRouteID: from, Route: route}})
	return nil
}

// Snapshot returns a consistent copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe attaches a subscriber. The first event is always a snapshot; on a
// terminal session the channel is closed right after it. A buffer <= 0 uses
// DefaultSubscriberBuffer.
func (s *Session) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshotLocked()
	sub := &Subscription{ch: make(chan Event, buffer), session: s}
	sub.ch <- Event{
		Seq:       s.seq,
		Type:      EventSnapshot,
		SessionID: s.id,
		RiderID:   s.riderID,
		At:        s.clock.Now(),
		Snapshot:  &snap,
	}

	if s.state.IsTerminal() {
		close(sub.ch)
		sub.session = nil
		return sub
	}
	s.subscribers[sub] = struct{}{}
	return sub
}

func (s *Session) unsubscribe(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscribers[sub]; ok {
		delete(s.subscribers, sub)
		close(sub.ch)
	}
}

// Subscribers returns the number of attached subscribers.
func (s *Session) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers)
}

func (s *Session) transitionLocked(to State) {
	from := s.state
	s.state = to
	s.emitLocked(Event{Type: EventStateChanged, Transition: &Transition{From: from, To: to}})
}

// finishLocked moves to a terminal state, emits the terminal event and closes
// every subscriber. It reports whether the caller must run the terminal hook.
func (s *Session) finishLocked(to State) bool {
	if s.state.IsTerminal() {
		return false
	}
	s.endedAt = s.clock.Now()
	s.transitionLocked(to)

	for sub := range s.subscribers {
		close(sub.ch)
	}
	s.subscribers = make(map[*Subscription]struct{})
	close(s.done)
	return true
}

func (s *Session) runTerminalHook() {
	if s.onTerminal != nil {
		s.onTerminal(s)
	}
}

// emitLocked stamps and fans out ev. Subscribers whose buffer is full are
// dropped; they can resubscribe for a fresh snapshot.
func (s *Session) emitLocked(ev Event) {
	s.seq++
	ev.Seq = s.seq
	ev.SessionID = s.id
	ev.RiderID = s.riderID
	ev.At = s.clock.Now()

	if s.observer != nil {
		s.observer(ev)
	}

	for sub := range s.subscribers {
		select {
		case sub.ch <- ev:
		default:
			delete(s.subscribers, sub)
			sub.dropped.Store(true)
			close(sub.ch)
		}
	}
}

func (s *Session) distanceRemainingLocked() float64 {
	return s.route.DistanceKm * float64(100-s.progress) / 100
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:                  s.id,
		RiderID:             s.riderID,
		RouteID:             s.route.ID,
		RouteName:           s.route.Name,
		State:               s.state,
		ProgressPercent:     s.progress,
		EtaMinutes:          s.eta,
		DistanceKm:          s.route.DistanceKm,
		DistanceRemainingKm: s.distanceRemainingLocked(),
		Alerts:              append([]Alert(nil), s.alerts...),
		SharingEnabled:      s.sharing,
		Emergencies:         append([]Emergency(nil), s.emergencies...),
		Reroutes:            s.reroutes,
		AlertsRaised:        s.alertsRaised,
		CreatedAt:           s.createdAt,
	}
	if snap.Alerts == nil {
		snap.Alerts = []Alert{}
	}
	if !s.startedAt.IsZero() {
		t := s.startedAt
		snap.StartedAt = &t
	}
	if !s.endedAt.IsZero() {
		t := s.endedAt
		snap.EndedAt = &t
	}
	return snap
}
