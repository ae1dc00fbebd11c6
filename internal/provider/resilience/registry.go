package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Level summarises a collaborator's health.
type Level int

// Health levels, ordered from best to worst.
const (
	LevelHealthy Level = iota
	LevelDegraded
	LevelUnhealthy
)

func (l Level) String() string {
	switch l {
	case LevelHealthy:
		return "healthy"
	case LevelDegraded:
		return "degraded"
	default:
		return "unhealthy"
	}
}

// Breaker exposes a circuit breaker's state. *Client implements it.
type Breaker interface {
	CircuitBreakerState() gobreaker.State
	CircuitBreakerCounts() gobreaker.Counts
}

// ProviderHealth is a point-in-time view of one collaborator.
type ProviderHealth struct {
	Name         string
	CircuitState gobreaker.State
	Counts       gobreaker.Counts

	// ConsecutiveFailures counts failed calls since the last success.
	ConsecutiveFailures int

	LastSuccessAt    *time.Time
	LastFailureAt    *time.Time
	LastTransitionAt *time.Time
	LastError        string
}

// Level maps the circuit state: closed is healthy, half-open degraded, open unhealthy.
func (h ProviderHealth) Level() Level {
	switch h.CircuitState {
	case gobreaker.StateOpen:
		return LevelUnhealthy
	case gobreaker.StateHalfOpen:
		return LevelDegraded
	default:
		return LevelHealthy
	}
}

// Registry tracks collaborator clients and the outcome of their calls.
type Registry struct {
	now func() time.Time

	mu        sync.RWMutex
	providers map[string]*tracked
}

type tracked struct {
	breaker        Breaker
	consecutive    int
	lastSuccess    time.Time
	lastFailure    time.Time
	lastTransition time.Time
	lastError      string
}

// GlobalRegistry is the process-wide registry shown by the ops endpoints.
var GlobalRegistry = NewRegistry()

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		now:       time.Now,
		providers: make(map[string]*tracked),
	}
}

// Register adds or replaces a collaborator. Replacing resets its history.
func (r *Registry) Register(name string, b Breaker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = &tracked{breaker: b}
}

// RecordSuccess notes a successful call. Unknown names are ignored.
func (r *Registry) RecordSuccess(name string) {
	r.update(name, func(t *tracked, now time.Time) {
		t.lastSuccess = now
		t.consecutive = 0
	})
}

// RecordFailure notes a failed call. Unknown names are ignored.
func (r *Registry) RecordFailure(name string, err error) {
	r.update(name, func(t *tracked, now time.Time) {
		t.lastFailure = now
		t.consecutive++
		if err != nil {
			t.lastError = err.Error()
		}
	})
}

func (r *Registry) recordTransition(name string) {
	r.update(name, func(t *tracked, now time.Time) {
		t.lastTransition = now
	})
}

func (r *Registry) update(name string, fn func(*tracked, time.Time)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.providers[name]; ok {
		fn(t, r.now())
	}
}

// Health returns one collaborator's health.
func (r *Registry) Health(name string) (ProviderHealth, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.providers[name]
	if !ok {
		return ProviderHealth{}, false
	}
	return t.health(name), true
}

// All returns every collaborator's health, sorted by name.
func (r *Registry) All() []ProviderHealth {
	r.mu.RLock()
	out := make([]ProviderHealth, 0, len(r.providers))
	for name, t := range r.providers {
		out = append(out, t.health(name))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Overall returns the worst level across collaborators; an empty registry is healthy.
func (r *Registry) Overall() Level {
	worst := LevelHealthy
	for _, h := range r.All() {
		if l := h.Level(); l > worst {
			worst = l
		}
	}
	return worst
}

func (t *tracked) health(name string) ProviderHealth {
	return ProviderHealth{
		Name:                name,
		CircuitState:        t.breaker.CircuitBreakerState(),
		Counts:              t.breaker.CircuitBreakerCounts(),
		ConsecutiveFailures: t.consecutive,
		LastSuccessAt:       timePtr(t.lastSuccess),
		LastFailureAt:       timePtr(t.lastFailure),
		LastTransitionAt:    timePtr(t.lastTransition),
		LastError:           t.lastError,
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
