package history

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/saferoute/saferoute/internal/trip"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

const sqliteColumns = `
	id, rider_id, route_id, route_name, final_state, progress_percent,
	distance_km, alerts_raised, emergencies, reroutes, sharing_enabled,
	started_at_ms, ended_at_ms`

// SQLiteRepository stores trip history in a local SQLite file. It backs
// single-node and local development deployments.
type SQLiteRepository struct {
	db      *sql.DB
	writeMu sync.Mutex
}

// OpenSQLite opens (creating if needed) the database at path and ensures the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", path+"?_journal=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// One writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating trip_history schema: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

// Close closes the database.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// Save inserts or replaces a trip.
func (r *SQLiteRepository) Save(ctx context.Context, t *Trip) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	var startedAt sql.NullInt64
	if t.StartedAt != nil {
		startedAt = sql.NullInt64{Int64: t.StartedAt.UnixMilli(), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO trip_history (`+sqliteColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID,
		t.RiderID,
		t.RouteID,
		t.RouteName,
		string(t.FinalState),
		t.ProgressPercent,
		t.DistanceKm,
		t.AlertsRaised,
		t.Emergencies,
		t.Reroutes,
		t.SharingEnabled,
		startedAt,
		t.EndedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("saving trip: %w", err)
	}
	return nil
}

// Get returns the rider's trip with the given id.
func (r *SQLiteRepository) Get(ctx context.Context, riderID, id string) (*Trip, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sqliteColumns+` FROM trip_history WHERE id = ? AND rider_id = ?`, id, riderID)

	t, err := scanSQLiteTrip(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTripNotFound
		}
		return nil, err
	}
	return t, nil
}

// List returns the rider's trips, newest first.
func (r *SQLiteRepository) List(ctx context.Context, riderID string, opts ListOptions) (*ListResult, error) {
	limit := normalizeLimit(opts.Limit)

	// No row ends at the maximum, so the id comparison never applies without a cursor.
	before, beforeID := int64(1<<63-1), ""
	if opts.After != nil {
		before, beforeID = opts.After.EndedAt.UnixMilli(), opts.After.ID
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sqliteColumns+` FROM trip_history
		WHERE rider_id = ? AND (ended_at_ms < ? OR (ended_at_ms = ? AND id < ?))
		ORDER BY ended_at_ms DESC, id DESC
		LIMIT ?`, riderID, before, before, beforeID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("listing trips: %w", err)
	}
	defer rows.Close()

	var trips []*Trip
	for rows.Next() {
		t, err := scanSQLiteTrip(rows)
		if err != nil {
			return nil, err
		}
		trips = append(trips, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return page(trips, limit), nil
}

// DeleteForRider removes every trip of the rider.
func (r *SQLiteRepository) DeleteForRider(ctx context.Context, riderID string) (int64, error) {
	return r.exec(ctx, `DELETE FROM trip_history WHERE rider_id = ?`, riderID)
}

// PurgeOlderThan removes trips that ended before cutoff.
func (r *SQLiteRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return r.exec(ctx, `DELETE FROM trip_history WHERE ended_at_ms < ?`, cutoff.UnixMilli())
}

func (r *SQLiteRepository) exec(ctx context.Context, query string, args ...any) (int64, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteTrip(row rowScanner) (*Trip, error) {
	var (
		t         Trip
		state     string
		startedAt sql.NullInt64
		endedAt   int64
	)
	err := row.Scan(
		&t.ID,
		&t.RiderID,
		&t.RouteID,
		&t.RouteName,
		&state,
		&t.ProgressPercent,
		&t.DistanceKm,
		&t.AlertsRaised,
		&t.Emergencies,
		&t.Reroutes,
		&t.SharingEnabled,
		&startedAt,
		&endedAt,
	)
	if err != nil {
		return nil, err
	}

	t.FinalState = trip.State(state)
	t.EndedAt = time.UnixMilli(endedAt).UTC()
	if startedAt.Valid {
		ts := time.UnixMilli(startedAt.Int64).UTC()
		t.StartedAt = &ts
	}
	return &t, nil
}

// Ensure SQLiteRepository implements Repository interface.
var _ Repository = (*SQLiteRepository)(nil)
