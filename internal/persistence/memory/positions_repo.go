// Package memory is an in-process PositionsRepo used when no database is
// configured and in tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sawpanic/pairsrun/internal/domain/position"
	"github.com/sawpanic/pairsrun/internal/persistence"
)

type positionsRepo struct {
	mu      sync.Mutex
	records map[string]*position.Record
}

// NewPositionsRepo returns an empty repository
func NewPositionsRepo() persistence.PositionsRepo {
	return &positionsRepo{records: make(map[string]*position.Record)}
}

func (r *positionsRepo) Get(_ context.Context, id string) (*position.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return rec.Clone(), nil
}

func (r *positionsRepo) Insert(_ context.Context, rec *position.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertLocked(rec)
}

func (r *positionsRepo) CreateSelected(_ context.Context, rec *position.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.Status != position.StatusSelected {
		return fmt.Errorf("create selected: record %s has status %s", rec.ID, rec.Status)
	}
	for _, existing := range r.records {
		if existing.PairKey == rec.PairKey && existing.Status.IsActive() {
			return persistence.ErrPairActive
		}
	}
	return r.insertLocked(rec)
}

func (r *positionsRepo) insertLocked(rec *position.Record) error {
	if rec.ID == "" {
		return fmt.Errorf("insert: record has no id")
	}
	if _, ok := r.records[rec.ID]; ok {
		return fmt.Errorf("insert: duplicate id %s", rec.ID)
	}
	if rec.PairKey == "" {
		rec.PairKey = position.PairKey(rec.LongTicker, rec.ShortTicker)
	}
	rec.Version = 1
	r.records[rec.ID] = rec.Clone()
	return nil
}

func (r *positionsRepo) UpdateIfVersion(_ context.Context, rec *position.Record, expected int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.records[rec.ID]
	if !ok {
		return 0, persistence.ErrNotFound
	}
	if cur.Version != expected {
		return 0, persistence.ErrVersionConflict
	}
	if rec.Status.IsActive() && !cur.Status.IsActive() {
		for id, other := range r.records {
			if id != rec.ID && other.PairKey == cur.PairKey && other.Status.IsActive() {
				return 0, persistence.ErrPairActive
			}
		}
	}
	next := rec.Clone()
	next.Version = expected + 1
	next.PairKey = cur.PairKey
	r.records[rec.ID] = next
	return next.Version, nil
}

func (r *positionsRepo) ListByStatus(_ context.Context, statuses ...position.Status) ([]*position.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := make(map[position.Status]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	var out []*position.Record
	for _, rec := range r.records {
		if len(want) == 0 || want[rec.Status] {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *positionsRepo) ActivePairKeys(_ context.Context) (map[string]struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]struct{})
	for _, rec := range r.records {
		if rec.Status.IsActive() {
			out[rec.PairKey] = struct{}{}
		}
	}
	return out, nil
}

func (r *positionsRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[id]; !ok {
		return persistence.ErrNotFound
	}
	delete(r.records, id)
	return nil
}
