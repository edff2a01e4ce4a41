package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/sawpanic/pairsrun/internal/domain/position"
)

var (
	// ErrNotFound is returned when no record has the requested ID
	ErrNotFound = errors.New("position not found")
	// ErrVersionConflict is returned when the stored version differs from the expected one
	ErrVersionConflict = errors.New("position version conflict")
	// ErrPairActive is returned when another selected or trading record holds the pair
	ErrPairActive = errors.New("pair already has an active position")
	// ErrRecordDeleted is returned when a record vanished while resolving a conflict
	ErrRecordDeleted = errors.New("position deleted concurrently")
	// ErrRetriesExhausted is returned when every write attempt lost to a concurrent writer
	ErrRetriesExhausted = errors.New("position write retries exhausted")
	// ErrStatusChanged is returned by SaveFrom when a concurrent writer moved the record out of the expected status
	ErrStatusChanged = errors.New("position status changed concurrently")
)

// PositionsRepo is version-checked storage for position records
type PositionsRepo interface {
	// Get returns a copy of the stored record or ErrNotFound
	Get(ctx context.Context, id string) (*position.Record, error)

	// Insert stores a new record at version 1
	Insert(ctx context.Context, rec *position.Record) error

	// CreateSelected inserts a SELECTED record only if no other record with the
	// same pair key is SELECTED or TRADING; the check and insert are atomic
	CreateSelected(ctx context.Context, rec *position.Record) error

	// UpdateIfVersion writes rec only if the stored version equals expected and
	// returns the new version. Returns ErrVersionConflict or ErrNotFound.
	UpdateIfVersion(ctx context.Context, rec *position.Record, expected int64) (int64, error)

	// ListByStatus returns records in any of the given statuses, oldest first
	ListByStatus(ctx context.Context, statuses ...position.Status) ([]*position.Record, error)

	// ActivePairKeys returns the pair keys of all SELECTED or TRADING records
	ActivePairKeys(ctx context.Context) (map[string]struct{}, error)

	// Delete removes a record; only external cleanup calls this
	Delete(ctx context.Context, id string) error
}

// HealthCheck represents repository health status
type HealthCheck struct {
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	ConnectionPool map[string]int `json:"connection_pool"`
	LastCheck      time.Time      `json:"last_check"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}

// RepositoryHealth provides health monitoring for persistence layer
type RepositoryHealth interface {
	// Health returns current repository health status
	Health(ctx context.Context) HealthCheck

	// Ping tests basic connectivity to database
	Ping(ctx context.Context) error
}
