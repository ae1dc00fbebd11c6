// Package history keeps a record of finished trips for riders.
package history

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/saferoute/saferoute/internal/trip"
)

var (
	// ErrTripNotFound indicates no trip exists with the given id for the rider.
	ErrTripNotFound = errors.New("trip not found")

	// ErrInvalidCursor indicates a page cursor that was not issued by List.
	ErrInvalidCursor = errors.New("invalid cursor")
)

// DefaultRetention is how long finished trips are kept.
const DefaultRetention = 30 * 24 * time.Hour

// Trip is the record written when a session ends.
type Trip struct {
	ID              string     `json:"id" csv:"id"`
	RiderID         string     `json:"-" csv:"-"`
	RouteID         int        `json:"routeId" csv:"route_id"`
	RouteName       string     `json:"routeName,omitempty" csv:"route_name"`
	FinalState      trip.State `json:"finalState" csv:"final_state"`
	ProgressPercent int        `json:"progressPercent" csv:"progress_percent"`
	DistanceKm      float64    `json:"distanceKm" csv:"distance_km"`
	AlertsRaised    int        `json:"alertsRaised" csv:"alerts_raised"`
	Emergencies     int        `json:"emergencies" csv:"emergencies"`
	Reroutes        int        `json:"reroutes" csv:"reroutes"`
	SharingEnabled  bool       `json:"sharingEnabled" csv:"sharing_enabled"`
	StartedAt       *time.Time `json:"startedAt,omitempty" csv:"started_at,omitempty"`
	EndedAt         time.Time  `json:"endedAt" csv:"ended_at"`
}

// FromSnapshot builds a trip record from a terminal session snapshot.
func FromSnapshot(snap trip.Snapshot) *Trip {
	t := &Trip{
		ID:              snap.ID,
		RiderID:         snap.RiderID,
		RouteID:         snap.RouteID,
		RouteName:       snap.RouteName,
		FinalState:      snap.State,
		ProgressPercent: snap.ProgressPercent,
		DistanceKm:      snap.DistanceKm,
		AlertsRaised:    snap.AlertsRaised,
		Emergencies:     len(snap.Emergencies),
		Reroutes:        snap.Reroutes,
		SharingEnabled:  snap.SharingEnabled,
		StartedAt:       snap.StartedAt,
	}
	if snap.EndedAt != nil {
		t.EndedAt = *snap.EndedAt
	} else {
		t.EndedAt = snap.CreatedAt
	}
	return t
}

// Cursor is the position of the last trip on a page. Listing resumes with
// the trips that sort after it: older, or equally old with a smaller id.
type Cursor struct {
	EndedAt time.Time
	ID      string
}

// CursorAt returns the cursor positioned on t.
func CursorAt(t *Trip) *Cursor {
	return &Cursor{EndedAt: t.EndedAt, ID: t.ID}
}

// Follows reports whether t sorts after c in newest-first order.
func (c *Cursor) Follows(t *Trip) bool {
	if t.EndedAt.Equal(c.EndedAt) {
		return t.ID < c.ID
	}
	return t.EndedAt.Before(c.EndedAt)
}

// String encodes the cursor for use in a URL.
func (c *Cursor) String() string {
	raw := c.EndedAt.UTC().Format(time.RFC3339Nano) + " " + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// ParseCursor decodes a cursor produced by Cursor.String.
func ParseCursor(s string) (*Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	at, id, ok := strings.Cut(string(raw), " ")
	if !ok || id == "" {
		return nil, ErrInvalidCursor
	}
	endedAt, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &Cursor{EndedAt: endedAt, ID: id}, nil
}

// ListOptions contains options for listing trips.
type ListOptions struct {
	Limit int

	// After resumes the listing behind a previous page (optional).
	After *Cursor
}

// ListResult contains one page of trips, newest first.
type ListResult struct {
	Items []*Trip

	// Next is the cursor for the following page, nil on the last page.
	Next *Cursor
}

// Repository defines the interface for trip history persistence.
type Repository interface {
	// Save inserts the trip or replaces an existing trip with the same id.
	Save(ctx context.Context, t *Trip) error

	// Get returns the rider's trip with the given id.
	Get(ctx context.Context, riderID, id string) (*Trip, error)

	// List returns the rider's trips, newest first.
	List(ctx context.Context, riderID string, opts ListOptions) (*ListResult, error)

	// DeleteForRider removes every trip of the rider and returns how many were removed.
	DeleteForRider(ctx context.Context, riderID string) (int64, error)

	// PurgeOlderThan removes trips that ended before cutoff and returns how many were removed.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// DefaultListLimit is the page size used when ListOptions.Limit is unset.
const DefaultListLimit = 50

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return DefaultListLimit
	}
	return limit
}

// page trims a newest-first slice fetched with one extra row.
func page(trips []*Trip, limit int) *ListResult {
	result := &ListResult{Items: trips}
	if len(trips) > limit {
		result.Items = trips[:limit]
		result.Next = CursorAt(trips[limit-1])
	}
	if result.Items == nil {
		result.Items = []*Trip{}
	}
	return result
}
