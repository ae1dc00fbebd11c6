package featureflags

import (
	"context"
	"maps"
	"sync"
)

// InMemoryRepository keeps flags in process memory. It backs tests and
// deployments without a database.
type InMemoryRepository struct {
	mu    sync.RWMutex
	flags map[string]Flag
}

var _ Repository = (*InMemoryRepository)(nil)

// NewInMemoryRepository creates a repository holding seed.
func NewInMemoryRepository(seed ...*Flag) *InMemoryRepository {
	repo := &InMemoryRepository{flags: make(map[string]Flag, len(seed))}
	for _, f := range seed {
		repo.flags[f.Key] = *f
	}
	return repo
}

// List returns copies of the stored flags.
func (r *InMemoryRepository) List(_ context.Context) (map[string]*Flag, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]*Flag, len(r.flags))
	for key, f := range r.flags {
		out[key] = &f
	}
	return out, nil
}

// Upsert stores flags.
func (r *InMemoryRepository) Upsert(_ context.Context, flags []*Flag) error {
	staged := make(map[string]Flag, len(flags))
	for _, f := range flags {
		staged[f.Key] = *f
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	maps.Copy(r.flags, staged)
	return nil
}

// Delete removes a stored flag.
func (r *InMemoryRepository) Delete(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.flags, key)
	return nil
}
