package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Storage drivers accepted by Open.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// ErrNoPool is returned when the postgres driver is selected without a pool.
var ErrNoPool = errors.New("postgres driver requires a database pool")

// Open returns the repository for driver and a function releasing it.
// The postgres schema is created when missing.
func Open(ctx context.Context, driver, sqlitePath string, pool *pgxpool.Pool) (Repository, func() error, error) {
	noop := func() error { return nil }

	switch driver {
	case DriverMemory, "":
		return NewInMemoryRepository(), noop, nil
	case DriverPostgres:
		if pool == nil {
			return nil, nil, ErrNoPool
		}
		repo := NewPostgresRepository(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, nil, err
		}
		return repo, noop, nil
	case DriverSQLite:
		repo, err := OpenSQLite(ctx, sqlitePath)
		if err != nil {
			return nil, nil, err
		}
		return repo, repo.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown history driver %q", driver)
	}
}
