package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/saferoute/saferoute/internal/trip"
)

// ForwarderConfig holds configuration for the forwarder.
type ForwarderConfig struct {
	Publisher Publisher

	// QueueSize bounds events waiting to be published (default: 1024).
	QueueSize int

	// PublishTimeout bounds a single publish (default: 5s).
	PublishTimeout time.Duration

	// Skip lists event types that are not forwarded.
	Skip []trip.EventType

	Logger zerolog.Logger
}

// Forwarder queues session events and publishes them on its own goroutine.
// Its Observe method is a trip.Observer: it never blocks, and drops events
// when the queue is full.
type Forwarder struct {
	publisher Publisher
	timeout   time.Duration
	skip      map[trip.EventType]bool
	logger    zerolog.Logger

	queue chan trip.Event

	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
	dropped atomic.Int64
	failed  atomic.Int64
	sent    atomic.Int64
}

// NewForwarder creates a forwarder and starts its publishing goroutine.
func NewForwarder(cfg ForwarderConfig) *Forwarder {
	size := cfg.QueueSize
	if size <= 0 {
		size = 1024
	}
	timeout := cfg.PublishTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	skip := make(map[trip.EventType]bool, len(cfg.Skip))
	for _, t := range cfg.Skip {
		skip[t] = true
	}

	f := &Forwarder{
		publisher: cfg.Publisher,
		timeout:   timeout,
		skip:      skip,
		logger:    cfg.Logger,
		queue:     make(chan trip.Event, size),
		done:      make(chan struct{}),
	}
	go f.run()
	return f
}

// Observe enqueues ev for publishing.
func (f *Forwarder) Observe(ev trip.Event) {
	if f.skip[ev.Type] {
		return
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}

	select {
	case f.queue <- ev:
	default:
		f.dropped.Add(1)
	}
}

func (f *Forwarder) run() {
	defer close(f.done)

	for ev := range f.queue {
		msg, err := NewMessage(ev)
		if err != nil {
			f.failed.Add(1)
			f.logger.Error().Err(err).Msg("dropping unencodable trip event")
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		err = f.publisher.Publish(ctx, msg)
		cancel()
		if err != nil {
			f.failed.Add(1)
			f.logger.Warn().
				Err(err).
				Str("session_id", ev.SessionID).
				Str("event_type", string(ev.Type)).
				Msg("failed to publish trip event")
			continue
		}
		f.sent.Add(1)
	}
}

// Close stops accepting events, publishes what is queued, and closes the publisher.
func (f *Forwarder) Close(ctx context.Context) error {
	f.mu.Lock()
	if !f.closed {
		f.closed = true
		close(f.queue)
	}
	f.mu.Unlock()

	select {
	case <-f.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if n := f.dropped.Load(); n > 0 {
		f.logger.Warn().Int64("dropped", n).Msg("trip events dropped due to full queue")
	}
	return f.publisher.Close()
}

// ForwarderStats counts forwarded events.
type ForwarderStats struct {
	Sent    int64
	Failed  int64
	Dropped int64
	Queued  int
}

// Stats returns the forwarder counters.
func (f *Forwarder) Stats() ForwarderStats {
	return ForwarderStats{
		Sent:    f.sent.Load(),
		Failed:  f.failed.Load(),
		Dropped: f.dropped.Load(),
		Queued:  len(f.queue),
	}
}
