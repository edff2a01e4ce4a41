package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/pairsrun/internal/domain/position"
)

// RetryPolicy bounds the optimistic-lock retry loop
type RetryPolicy struct {
	MaxAttempts int
	// Backoff returns the pause after the given failed attempt (1-based)
	Backoff func(attempt int) time.Duration
}

// DefaultRetryPolicy allows 10 attempts with 1s + 1s*attempt between them
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 10,
		Backoff: func(attempt int) time.Duration {
			return time.Second + time.Second*time.Duration(attempt)
		},
	}
}

// ConflictObserver receives store outcomes, typically for metrics
type ConflictObserver interface {
	OnConflict()
	OnRetriesExhausted()
	OnDeleted()
}

type noopObserver struct{}

func (noopObserver) OnConflict()         {}
func (noopObserver) OnRetriesExhausted() {}
func (noopObserver) OnDeleted()          {}

// Store wraps a PositionsRepo with retry-and-merge writes. It holds no locks;
// every write is a version-checked compare-and-swap in the repository.
type Store struct {
	repo     PositionsRepo
	policy   RetryPolicy
	observer ConflictObserver
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option configures a Store
type Option func(*Store)

// WithRetryPolicy overrides the default retry policy
func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *Store) { s.policy = p }
}

// WithObserver registers a conflict observer
func WithObserver(o ConflictObserver) Option {
	return func(s *Store) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithSleep replaces the pause between attempts
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Store) {
		if fn != nil {
			s.sleep = fn
		}
	}
}

// NewStore creates a Store over repo
func NewStore(repo PositionsRepo, opts ...Option) *Store {
	s := &Store{
		repo:     repo,
		policy:   DefaultRetryPolicy(),
		observer: noopObserver{},
		sleep:    sleepContext,
	}
	for _, o := range opts {
		o(s)
	}
	if s.policy.MaxAttempts <= 0 {
		s.policy.MaxAttempts = 1
	}
	if s.policy.Backoff == nil {
		s.policy.Backoff = func(int) time.Duration { return 0 }
	}
	return s
}

// Repo exposes the underlying repository for reads
func (s *Store) Repo() PositionsRepo { return s.repo }

// Get loads a record
func (s *Store) Get(ctx context.Context, id string) (*position.Record, error) {
	return s.repo.Get(ctx, id)
}

// Save writes rec expecting rec.Version to still be current. On a conflict it
// reloads the record, merges the given fields onto it and tries again. A
// record that disappears fails immediately with ErrRecordDeleted. The
// returned record is what was stored, with its new version.
func (s *Store) Save(ctx context.Context, rec *position.Record, fields Fields) (*position.Record, error) {
	return s.save(ctx, rec, fields, "")
}

// SaveFrom is Save for a writer that read the record in status from. When a
// conflict reload finds the record in any other status the write is dropped
// with ErrStatusChanged.
func (s *Store) SaveFrom(ctx context.Context, rec *position.Record, from position.Status, fields Fields) (*position.Record, error) {
	return s.save(ctx, rec, fields, from)
}

func (s *Store) save(ctx context.Context, rec *position.Record, fields Fields, from position.Status) (*position.Record, error) {
	intended := rec.Clone()
	attempt := rec.Clone()

	for n := 1; n <= s.policy.MaxAttempts; n++ {
		version, err := s.repo.UpdateIfVersion(ctx, attempt, attempt.Version)
		if err == nil {
			attempt.Version = version
			return attempt, nil
		}
		if errors.Is(err, ErrNotFound) {
			s.observer.OnDeleted()
			return nil, fmt.Errorf("save %s: %w", rec.ID, ErrRecordDeleted)
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, fmt.Errorf("save %s: %w", rec.ID, err)
		}

		s.observer.OnConflict()
		fresh, err := s.repo.Get(ctx, rec.ID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				s.observer.OnDeleted()
				return nil, fmt.Errorf("save %s: %w", rec.ID, ErrRecordDeleted)
			}
			return nil, fmt.Errorf("reload %s: %w", rec.ID, err)
		}
		if from != "" && fresh.Status != from {
			log.Debug().
				Str("position_id", rec.ID).
				Str("pair", rec.Pair()).
				Str("expected", string(from)).
				Str("status", string(fresh.Status)).
				Msg("Record left expected status, dropping write")
			return nil, fmt.Errorf("save %s: %s is now %s: %w", rec.ID, from, fresh.Status, ErrStatusChanged)
		}
		attempt = Merge(fresh, intended, fields)

		log.Debug().
			Str("position_id", rec.ID).
			Str("pair", rec.Pair()).
			Int("attempt", n).
			Int64("stale_version", intended.Version).
			Int64("fresh_version", fresh.Version).
			Str("fields", fields.String()).
			Msg("Version conflict, merged onto fresh record")

		if n == s.policy.MaxAttempts {
			break
		}
		if err := s.sleep(ctx, s.policy.Backoff(n)); err != nil {
			return nil, fmt.Errorf("save %s: %w", rec.ID, err)
		}
	}

	s.observer.OnRetriesExhausted()
	log.Error().
		Str("position_id", rec.ID).
		Str("pair", rec.Pair()).
		Int("attempts", s.policy.MaxAttempts).
		Msg("Position write lost every retry")
	return nil, fmt.Errorf("save %s after %d attempts: %w", rec.ID, s.policy.MaxAttempts, ErrRetriesExhausted)
}

// Create inserts a new SELECTED record through the repository's atomic pair check
func (s *Store) Create(ctx context.Context, rec *position.Record) error {
	return s.repo.CreateSelected(ctx, rec)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
