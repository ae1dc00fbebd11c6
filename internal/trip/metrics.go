package trip

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/saferoute/saferoute/internal/trip"

// Metrics holds the OpenTelemetry instruments for live trips. A nil *Metrics
// records nothing.
type Metrics struct {
	sessionsActive metric.Int64UpDownCounter
	sessionsEnded  metric.Int64Counter
	alertsRaised   metric.Int64Counter
	emergencies    metric.Int64Counter
}

// NewMetrics creates trip metrics on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsWithMeter(otel.Meter(meterName))
}

// NewMetricsWithMeter creates trip metrics on meter.
func NewMetricsWithMeter(meter metric.Meter) (*Metrics, error) {
	sessionsActive, err := meter.Int64UpDownCounter(
		"trip.sessions.active",
		metric.WithDescription("Number of non-terminal trip sessions"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, err
	}

	sessionsEnded, err := meter.Int64Counter(
		"trip.sessions.ended",
		metric.WithDescription("Trip sessions that reached a terminal state"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, err
	}

	alertsRaised, err := meter.Int64Counter(
		"trip.alerts.raised",
		metric.WithDescription("Safety alerts raised on trip sessions"),
		metric.WithUnit("{alert}"),
	)
	if err != nil {
		return nil, err
	}

	emergencies, err := meter.Int64Counter(
		"trip.emergencies.total",
		metric.WithDescription("Emergencies recorded on trip sessions"),
		metric.WithUnit("{emergency}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		sessionsActive: sessionsActive,
		sessionsEnded:  sessionsEnded,
		alertsRaised:   alertsRaised,
		emergencies:    emergencies,
	}, nil
}

func (m *Metrics) sessionStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.sessionsActive.Add(ctx, 1)
}

func (m *Metrics) sessionEnded(ctx context.Context, final State) {
	if m == nil {
		return
	}
	m.sessionsActive.Add(ctx, -1)
	m.sessionsEnded.Add(ctx, 1, metric.WithAttributes(attribute.String("trip.state", string(final))))
}

// observe counts alert and emergency events.
func (m *Metrics) observe(ev Event) {
	if m == nil {
		return
	}
	ctx := context.Background()
	switch ev.Type {
	case EventAlertRaised:
		m.alertsRaised.Add(ctx, 1, metric.WithAttributes(attribute.String("alert.severity", string(ev.Alert.Alert.Severity))))
	case EventEmergencyRecorded:
		m.emergencies.Add(ctx, 1)
	}
}
