// Package events fans position state changes out to dashboards and downstream consumers.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/sawpanic/pairsrun/internal/domain/position"
)

// Type names what happened to a position
type Type string

const (
	PositionSelected Type = "position.selected"
	PositionTrading  Type = "position.trading"
	PositionUpdated  Type = "position.updated"
	PositionClosed   Type = "position.closed"
	PositionError    Type = "position.error"
	PositionObserved Type = "position.observed"
)

// Event carries a snapshot of the record after the change
type Event struct {
	Type     Type             `json:"type"`
	Position *position.Record `json:"position"`
	At       time.Time        `json:"at"`
}

// New snapshots rec into an event
func New(t Type, rec *position.Record, at time.Time) Event {
	return Event{Type: t, Position: rec.Clone(), At: at}
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards every event
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi publishes to every member and joins their errors
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
