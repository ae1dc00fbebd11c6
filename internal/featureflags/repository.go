package featureflags

import "context"

// Repository stores flags that differ from their defaults.
type Repository interface {
	// List returns every stored flag keyed by flag key.
	List(ctx context.Context) (map[string]*Flag, error)

	// Upsert stores all flags or none.
	Upsert(ctx context.Context, flags []*Flag) error

	// Delete removes a stored flag so its default applies again. Deleting a
	// flag that is not stored is not an error.
	Delete(ctx context.Context, key string) error
}
