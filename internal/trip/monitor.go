package trip

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Default timer cadences.
const (
	DefaultTickInterval  = 3 * time.Second
	DefaultAlertInterval = 8 * time.Second
)

// MonitorConfig holds configuration for a session monitor.
type MonitorConfig struct {
	// Clock drives both timers (default: RealClock).
	Clock Clock

	// TickInterval is the progress cadence (default: 3s).
	TickInterval time.Duration

	// AlertInterval is the alert evaluation cadence (default: 8s).
	AlertInterval time.Duration

	// Generator evaluates alerts. Nil disables alert evaluation.
	Generator *AlertGenerator

	// EvaluationTimeout bounds a single alert evaluation (default: 5s).
	EvaluationTimeout time.Duration

	// Logger for monitor operations.
	Logger zerolog.Logger
}

// Monitor owns the progress and alert timers of one session. Each timer has
// its own goroutine, so a slow evaluation never holds back progress. Both stop
// together when the session ends or Stop is called.
type Monitor struct {
	session   *Session
	generator *AlertGenerator
	tick      Ticker
	alerts    Ticker
	timeout   time.Duration
	logger    zerolog.Logger

	cancel   context.CancelFunc
	stopOnce sync.Once
	loops    sync.WaitGroup
	done     chan struct{}
}

// StartMonitor creates both tickers and starts their goroutines. The tickers
// exist when StartMonitor returns.
func StartMonitor(ctx context.Context, s *Session, cfg MonitorConfig) *Monitor {
	clock := cfg.Clock
	if clock == nil {
		clock = RealClock{}
	}
	tickEvery := cfg.TickInterval
	if tickEvery <= 0 {
		tickEvery = DefaultTickInterval
	}
	alertEvery := cfg.AlertInterval
	if alertEvery <= 0 {
		alertEvery = DefaultAlertInterval
	}
	timeout := cfg.EvaluationTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(ctx)
	m := &Monitor{
		session:   s,
		generator: cfg.Generator,
		tick:      clock.NewTicker(tickEvery),
		alerts:    clock.NewTicker(alertEvery),
		timeout:   timeout,
		logger:    cfg.Logger.With().Str("session_id", s.ID()).Logger(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	m.loops.Add(2)
	go m.runProgress(ctx)
	go m.runAlerts(ctx)
	go func() {
		m.loops.Wait()
		close(m.done)
	}()
	return m
}

// Stop cancels both timers. It is safe to call more than once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(m.cancel)
}

// Done is closed once both timer goroutines have exited and their tickers are
// stopped.
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

func (m *Monitor) runProgress(ctx context.Context) {
	defer m.loops.Done()
	defer m.tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.session.Done():
			return
		case <-m.tick.C():
			// The session rejects ticks outside Navigating under its own lock.
			m.session.Tick()
		}
	}
}

// runAlerts evaluates at most one alert at a time. Ticks that arrive while an
// evaluation is running are dropped by the ticker.
func (m *Monitor) runAlerts(ctx context.Context) {
	defer m.loops.Done()
	defer m.alerts.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.session.Done():
			return
		case <-m.alerts.C():
			m.evaluate(ctx)
		}
	}
}

// evaluate runs one alert evaluation. Failures are logged; they never stop
// the progress timer.
func (m *Monitor) evaluate(ctx context.Context) {
	if m.generator == nil {
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error().
				Str("panic", fmt.Sprintf("%v", rec)).
				Msg("alert evaluation panicked")
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if _, err := m.generator.Evaluate(ctx, m.session); err != nil {
		m.logger.Warn().Err(err).Msg("alert evaluation failed")
	}
}
