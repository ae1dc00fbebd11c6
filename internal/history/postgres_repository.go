package history

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/saferoute/saferoute/internal/trip"
)

//go:embed postgres_schema.sql
var postgresSchema string

const tripColumns = `
	id, rider_id, route_id, route_name, final_state, progress_percent,
	distance_km, alerts_raised, emergencies, reroutes, sharing_enabled,
	started_at, ended_at`

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL trip history repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// EnsureSchema creates the trip_history table if it does not exist.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("creating trip_history schema: %w", err)
	}
	return nil
}

// Save inserts or replaces a trip.
func (r *PostgresRepository) Save(ctx context.Context, t *Trip) error {
	query := `
		INSERT INTO trip_history (` + tripColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			final_state = EXCLUDED.final_state,
			progress_percent = EXCLUDED.progress_percent,
			alerts_raised = EXCLUDED.alerts_raised,
			emergencies = EXCLUDED.emergencies,
			reroutes = EXCLUDED.reroutes,
			sharing_enabled = EXCLUDED.sharing_enabled,
			ended_at = EXCLUDED.ended_at
	`

	_, err := r.pool.Exec(ctx, query,
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
		t.StartedAt,
		t.EndedAt,
	)
	return err
}

// Get returns the rider's trip with the given id.
func (r *PostgresRepository) Get(ctx context.Context, riderID, id string) (*Trip, error) {
	query := `SELECT ` + tripColumns + ` FROM trip_history WHERE id = $1 AND rider_id = $2`

	t, err := scanTrip(r.pool.QueryRow(ctx, query, id, riderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTripNotFound
		}
		return nil, err
	}
	return t, nil
}

// List returns the rider's trips, newest first.
func (r *PostgresRepository) List(ctx context.Context, riderID string, opts ListOptions) (*ListResult, error) {
	limit := normalizeLimit(opts.Limit)
	// Fetch one extra to determine if there are more results
	fetchLimit := limit + 1

	var (
		rows pgx.Rows
		err  error
	)
	if opts.After == nil {
		rows, err = r.pool.Query(ctx, `
			SELECT `+tripColumns+` FROM trip_history
			WHERE rider_id = $1
			ORDER BY ended_at DESC, id DESC
			LIMIT $2`, riderID, fetchLimit)
	} else {
		rows, err = r.pool.Query(ctx, `
			SELECT `+tripColumns+` FROM trip_history
			WHERE rider_id = $1 AND (ended_at, id) < ($2, $3)
			ORDER BY ended_at DESC, id DESC
			LIMIT $4`, riderID, opts.After.EndedAt, opts.After.ID, fetchLimit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trips []*Trip
	for rows.Next() {
		t, err := scanTrip(rows)
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
func (r *PostgresRepository) DeleteForRider(ctx context.Context, riderID string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM trip_history WHERE rider_id = $1`, riderID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// PurgeOlderThan removes trips that ended before cutoff.
func (r *PostgresRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM trip_history WHERE ended_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanTrip(row pgx.Row) (*Trip, error) {
	var (
		t     Trip
		state string
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
		&t.StartedAt,
		&t.EndedAt,
	)
	if err != nil {
		return nil, err
	}
	t.FinalState = trip.State(state)
	return &t, nil
}

// Ensure PostgresRepository implements Repository interface.
var _ Repository = (*PostgresRepository)(nil)
