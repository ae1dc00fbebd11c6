package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/saferoute/saferoute/internal/api/middleware"

// Metrics records HTTP server instruments. Plain requests feed the duration,
// count and size instruments; requests upgraded to event streams are counted
// separately since their duration is the length of a trip.
type Metrics struct {
	duration metric.Float64Histogram
	total    metric.Int64Counter
	inFlight metric.Int64UpDownCounter
	size     metric.Int64Histogram
	upgrades metric.Int64Counter
}

// NewMetrics creates HTTP metrics on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsWithMeter(otel.Meter(meterName))
}

// NewMetricsWithMeter creates HTTP metrics on meter.
func NewMetricsWithMeter(meter metric.Meter) (*Metrics, error) {
	var m Metrics
	var errs [5]error

	m.duration, errs[0] = meter.Float64Histogram("http.server.request.duration",
		metric.WithDescription("Duration of HTTP server requests"),
		metric.WithUnit("s"))
	m.total, errs[1] = meter.Int64Counter("http.server.request.total",
		metric.WithDescription("Completed HTTP server requests"),
		metric.WithUnit("{request}"))
	m.inFlight, errs[2] = meter.Int64UpDownCounter("http.server.requests_in_flight",
		metric.WithDescription("Requests being served, including open event streams"),
		metric.WithUnit("{request}"))
	m.size, errs[3] = meter.Int64Histogram("http.server.response.size",
		metric.WithDescription("Response body size"),
		metric.WithUnit("By"))
	m.upgrades, errs[4] = meter.Int64Counter("http.server.upgrades",
		metric.WithDescription("Requests upgraded to WebSocket event streams"),
		metric.WithUnit("{connection}"))

	if err := errors.Join(errs[:]...); err != nil {
		return nil, err
	}
	return &m, nil
}

// Middleware labels by chi route pattern, so it must wrap the router rather
// than sit inside a route group.
func (m *Metrics) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			start := time.Now()

			methodOpt := metric.WithAttributes(attribute.String("http.method", r.Method))
			m.inFlight.Add(ctx, 1, methodOpt)
			defer m.inFlight.Add(ctx, -1, methodOpt)

			rec := newStatusRecorder(w)
			next.ServeHTTP(rec, r)

			opt := metric.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", routePattern(r)),
				attribute.String("http.status_code", strconv.Itoa(rec.statusCode)),
				attribute.Bool("error", rec.statusCode >= http.StatusBadRequest),
			)

			if rec.hijacked {
				m.upgrades.Add(ctx, 1, opt)
				return
			}
			m.duration.Record(ctx, time.Since(start).Seconds(), opt)
			m.total.Add(ctx, 1, opt)
			m.size.Record(ctx, rec.written, opt)
		})
	}
}
