package history

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/rs/zerolog"

	"github.com/saferoute/saferoute/internal/trip"
)

// ServiceConfig holds configuration for the history service.
type ServiceConfig struct {
	Repository Repository

	// Retention is how long trips are kept (default: 30 days).
	Retention time.Duration

	// Now returns the current time (default: time.Now).
	Now func() time.Time

	Logger zerolog.Logger
}

// Service records finished trips and serves them back to their riders.
type Service struct {
	repo      Repository
	retention time.Duration
	now       func() time.Time
	logger    zerolog.Logger
}

var _ trip.Recorder = (*Service)(nil)

// NewService creates a new history service.
func NewService(cfg ServiceConfig) *Service {
	retention := cfg.Retention
	if retention == 0 {
		retention = DefaultRetention
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		repo:      cfg.Repository,
		retention: retention,
		now:       now,
		logger:    cfg.Logger,
	}
}

// RecordTrip stores a terminal session.
func (s *Service) RecordTrip(ctx context.Context, snap trip.Snapshot) error {
	if !snap.State.IsTerminal() {
		return fmt.Errorf("recording trip %s: %w", snap.ID, trip.ErrInvalidState)
	}
	t := FromSnapshot(snap)
	if err := s.repo.Save(ctx, t); err != nil {
		return fmt.Errorf("recording trip %s: %w", snap.ID, err)
	}

	s.logger.Debug().
		Str("session_id", t.ID).
		Str("final_state", string(t.FinalState)).
		Msg("trip recorded")
	return nil
}

// List returns one page of the rider's trips within the retention window.
func (s *Service) List(ctx context.Context, riderID string, opts ListOptions) (*ListResult, error) {
	result, err := s.repo.List(ctx, riderID, opts)
	if err != nil {
		return nil, err
	}

	// Purges run daily; hide what is already past retention.
	cutoff := s.cutoff()
	kept := result.Items[:0]
	for _, t := range result.Items {
		if !t.EndedAt.Before(cutoff) {
			kept = append(kept, t)
		}
	}
	result.Items = kept
	if len(kept) == 0 {
		result.Next = nil
	}
	return result, nil
}

// Get returns one of the rider's trips.
func (s *Service) Get(ctx context.Context, riderID, id string) (*Trip, error) {
	t, err := s.repo.Get(ctx, riderID, id)
	if err != nil {
		return nil, err
	}
	if t.EndedAt.Before(s.cutoff()) {
		return nil, ErrTripNotFound
	}
	return t, nil
}

// Export writes every retained trip of the rider to w as CSV with a header row.
func (s *Service) Export(ctx context.Context, riderID string, w io.Writer) (int, error) {
	var all []*Trip
	opts := ListOptions{Limit: 100}
	for {
		result, err := s.List(ctx, riderID, opts)
		if err != nil {
			return 0, err
		}
		all = append(all, result.Items...)
		if result.Next == nil {
			break
		}
		opts.After = result.Next
	}

	if err := WriteCSV(w, all); err != nil {
		return 0, err
	}
	return len(all), nil
}

// Clear deletes every trip of the rider.
func (s *Service) Clear(ctx context.Context, riderID string) (int64, error) {
	n, err := s.repo.DeleteForRider(ctx, riderID)
	if err != nil {
		return 0, fmt.Errorf("clearing history: %w", err)
	}

	s.logger.Info().
		Str("rider_id", riderID).
		Int64("deleted", n).
		Msg("trip history cleared")
	return n, nil
}

// PurgeExpired removes trips older than the retention window.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	cutoff := s.cutoff()
	n, err := s.repo.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging history: %w", err)
	}

	s.logger.Info().
		Time("cutoff", cutoff).
		Int64("deleted", n).
		Msg("trip history purged")
	return n, nil
}

func (s *Service) cutoff() time.Time {
	return s.now().Add(-s.retention)
}

// WriteCSV encodes trips as CSV. The header is written even when trips is empty.
func WriteCSV(w io.Writer, trips []*Trip) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)

	if len(trips) == 0 {
		if err := enc.EncodeHeader(Trip{}); err != nil {
			return fmt.Errorf("encoding csv header: %w", err)
		}
	}
	for _, t := range trips {
		if err := enc.Encode(t); err != nil {
			return fmt.Errorf("encoding trip %s: %w", t.ID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}
