package navigation

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/saferoute/saferoute/internal/navigation"

// Metrics holds the OpenTelemetry instruments for route scoring. A nil
// *Metrics records nothing.
type Metrics struct {
	scoringDuration metric.Float64Histogram
}

// NewMetrics creates navigation metrics on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsWithMeter(otel.Meter(meterName))
}

// NewMetricsWithMeter creates navigation metrics on meter.
func NewMetricsWithMeter(meter metric.Meter) (*Metrics, error) {
	scoringDuration, err := meter.Float64Histogram(
		"route.scoring.duration",
		metric.WithDescription("Time spent scoring a set of candidate routes"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, err
	}
	return &Metrics{scoringDuration: scoringDuration}, nil
}

func (m *Metrics) recordScoring(ctx context.Context, d time.Duration, routes int, err error) {
	if m == nil {
		return
	}
	m.scoringDuration.Record(ctx, float64(d.Microseconds())/1000,
		metric.WithAttributes(
			attribute.Int("route.count", routes),
			attribute.Bool("error", err != nil),
		),
	)
}
