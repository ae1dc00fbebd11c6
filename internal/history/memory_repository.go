package history

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryRepository is an in-memory implementation of Repository.
// It is used in tests and when no database is configured.
type InMemoryRepository struct {
	mu    sync.RWMutex
	trips map[string]*Trip
}

// NewInMemoryRepository creates a new in-memory trip repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		trips: make(map[string]*Trip),
	}
}

// Save inserts or replaces a trip.
func (r *InMemoryRepository) Save(_ context.Context, t *Trip) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cpy := *t
	r.trips[t.ID] = &cpy
	return nil
}

// Get returns the rider's trip with the given id.
func (r *InMemoryRepository) Get(_ context.Context, riderID, id string) (*Trip, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.trips[id]
	if !ok || t.RiderID != riderID {
		return nil, ErrTripNotFound
	}
	cpy := *t
	return &cpy, nil
}

// List returns the rider's trips, newest first.
func (r *InMemoryRepository) List(_ context.Context, riderID string, opts ListOptions) (*ListResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var trips []*Trip
	for _, t := range r.trips {
		if t.RiderID != riderID {
			continue
		}
		if opts.After != nil && !opts.After.Follows(t) {
			continue
		}
		cpy := *t
		trips = append(trips, &cpy)
	}
	sort.Slice(trips, func(i, j int) bool {
		if trips[i].EndedAt.Equal(trips[j].EndedAt) {
			return trips[i].ID > trips[j].ID
		}
		return trips[i].EndedAt.After(trips[j].EndedAt)
	})

	limit := normalizeLimit(opts.Limit)
	if len(trips) > limit+1 {
		trips = trips[:limit+1]
	}
	return page(trips, limit), nil
}

// DeleteForRider removes every trip of the rider.
func (r *InMemoryRepository) DeleteForRider(_ context.Context, riderID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, t := range r.trips {
		if t.RiderID == riderID {
			delete(r.trips, id)
			n++
		}
	}
	return n, nil
}

// PurgeOlderThan removes trips that ended before cutoff.
func (r *InMemoryRepository) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, t := range r.trips {
		if t.EndedAt.Before(cutoff) {
			delete(r.trips, id)
			n++
		}
	}
	return n, nil
}

// Ensure InMemoryRepository implements Repository interface.
var _ Repository = (*InMemoryRepository)(nil)
