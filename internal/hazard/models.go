// Package hazard turns the live hazard feed into alert candidates for
// active trips.
package hazard

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/saferoute/saferoute/internal/trip"
)

// ErrProviderUnavailable indicates the hazard feed could not be read and no
// usable cached data exists.
var ErrProviderUnavailable = errors.New("hazard provider unavailable")

// Kind categorizes a hazard report.
type Kind string

const (
	KindLighting     Kind = "LIGHTING"
	KindCrowd        Kind = "CROWD"
	KindIncident     Kind = "INCIDENT"
	KindConstruction Kind = "CONSTRUCTION"
	KindWeather      Kind = "WEATHER"
	KindUnknown      Kind = "UNKNOWN"
)

// Impact represents how dangerous a hazard is.
type Impact string

const (
	ImpactMinor    Impact = "MINOR"    // Worth knowing
	ImpactModerate Impact = "MODERATE" // Stay alert
	ImpactMajor    Impact = "MAJOR"    // Consider rerouting
	ImpactSevere   Impact = "SEVERE"   // Avoid the area
)

func (i Impact) rank() int {
	switch i {
	case ImpactMinor:
		return 1
	case ImpactModerate:
		return 2
	case ImpactMajor:
		return 3
	case ImpactSevere:
		return 4
	default:
		return 0
	}
}

// Severity maps the feed's impact scale onto alert severity.
func (i Impact) Severity() trip.Severity {
	switch i {
	case ImpactMajor, ImpactSevere:
		return trip.SeverityDanger
	case ImpactModerate:
		return trip.SeverityWarning
	default:
		return trip.SeverityInfo
	}
}

// Report is one hazard published by the feed.
type Report struct {
	// ID is the feed's identifier for this report.
	ID string

	// Kind categorizes the hazard.
	Kind Kind

	// Title is the rider-facing one-line message.
	Title string

	// Impact indicates severity.
	Impact Impact

	// RouteIDs lists the routes the hazard lies on. Empty means area-wide.
	RouteIDs []int

	// FromPercent and ToPercent bound the stretch of the route affected.
	// Both zero means the whole route.
	FromPercent int
	ToPercent   int

	// Start is when the hazard began.
	Start time.Time

	// End is when it is expected to clear (zero if unknown).
	End time.Time

	// Provider identifies the data source.
	Provider string
}

// IsActive reports whether the hazard applies at now.
func (r *Report) IsActive(now time.Time) bool {
	if now.Before(r.Start) {
		return false
	}
	return r.End.IsZero() || !now.After(r.End)
}

// AffectsRoute reports whether the hazard lies on routeID.
func (r *Report) AffectsRoute(routeID int) bool {
	if len(r.RouteIDs) == 0 {
		return true
	}
	for _, id := range r.RouteIDs {
		if id == routeID {
			return true
		}
	}
	return false
}

// Ahead reports whether the affected stretch has not yet been passed at
// progress percent.
func (r *Report) Ahead(progress int) bool {
	if r.FromPercent == 0 && r.ToPercent == 0 {
		return true
	}
	return progress <= r.ToPercent
}

// Hazard converts the report into an alert candidate.
func (r *Report) Hazard() trip.Hazard {
	return trip.Hazard{
		Severity: r.Impact.Severity(),
		Message:  r.Title,
		Source:   strings.ToLower(string(r.Kind)),
	}
}

// Summary gives a snapshot of current hazards.
type Summary struct {
	// Total is the count of active reports.
	Total int

	// ByImpact groups report counts by impact level.
	ByImpact map[Impact]int

	// ByKind groups report counts by kind.
	ByKind map[Kind]int

	// MostSevere is the highest impact among active reports.
	MostSevere Impact

	// FetchedAt is when this summary was generated.
	FetchedAt time.Time

	// Provider identifies the data source.
	Provider string
}

// HighestImpact returns the highest impact in reports.
func HighestImpact(reports []*Report) Impact {
	var highest Impact
	for _, r := range reports {
		if r.Impact.rank() > highest.rank() {
			highest = r.Impact
		}
	}
	return highest
}

// Provider supplies hazard reports.
type Provider interface {
	// Reports fetches all currently published hazards.
	Reports(ctx context.Context) ([]*Report, error)

	// Name returns the provider name for logging.
	Name() string
}
