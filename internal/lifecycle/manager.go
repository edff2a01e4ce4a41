// Package lifecycle moves pair positions through SELECTED, TRADING and their
// terminal states and runs the periodic update cycle of open positions.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/pairsrun/internal/analyzer"
	"github.com/sawpanic/pairsrun/internal/config"
	"github.com/sawpanic/pairsrun/internal/domain/position"
	"github.com/sawpanic/pairsrun/internal/events"
	"github.com/sawpanic/pairsrun/internal/exchange"
	"github.com/sawpanic/pairsrun/internal/exits"
	"github.com/sawpanic/pairsrun/internal/marketdata"
	"github.com/sawpanic/pairsrun/internal/persistence"
)

var (
	// ErrInvalidTransition is returned when an operation does not apply to the record's status
	ErrInvalidTransition = errors.New("invalid position transition")
	// ErrInvalidFill is returned when an execution confirmation lacks a usable fill for a leg
	ErrInvalidFill = errors.New("invalid execution fill")
)

// Fill identifies the orders that opened both legs
type Fill struct {
	LongOrderID  string `json:"long_order_id"`
	ShortOrderID string `json:"short_order_id"`
}

// Observer receives exit decisions
type Observer interface {
	ExitTriggered(reason string)
}

type noopObserver struct{}

func (noopObserver) ExitTriggered(string) {}

// Manager applies lifecycle operations. It holds no locks; every write goes
// through the version-checked store.
type Manager struct {
	store     *persistence.Store
	gateway   exchange.Gateway
	source    marketdata.Source
	analyzer  analyzer.Client
	settings  config.Provider
	publisher events.Publisher
	observer  Observer
	now       func() time.Time
	newID     func() string
}

// Option customizes a Manager
type Option func(*Manager)

// WithClock replaces the wall clock
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithObserver reports exits to o
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.observer = o
		}
	}
}

// WithPublisher sends position events to p
func WithPublisher(p events.Publisher) Option {
	return func(m *Manager) {
		if p != nil {
			m.publisher = p
		}
	}
}

// WithIDs replaces the record ID generator
func WithIDs(fn func() string) Option {
	return func(m *Manager) { m.newID = fn }
}

// NewManager creates a Manager. Without options it uses the wall clock, random
// UUIDs and discards events and exit notifications.
func NewManager(store *persistence.Store, gateway exchange.Gateway, source marketdata.Source,
	client analyzer.Client, settings config.Provider, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		gateway:   gateway,
		source:    source,
		analyzer:  client,
		settings:  settings,
		publisher: events.Nop{},
		observer:  noopObserver{},
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ConfirmExecution moves a SELECTED record to TRADING using the fills of both
// legs. Entry prices, the entry statistics snapshot and the entry time are
// captured here and never again. A missing or non-positive fill moves the
// record to ERROR instead. Any status other than SELECTED is rejected without
// a write.
func (m *Manager) ConfirmExecution(ctx context.Context, id string, fill Fill) (*position.Record, error) {
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != position.StatusSelected {
		return nil, fmt.Errorf("confirm %s in status %s: %w", id, rec.Status, ErrInvalidTransition)
	}

	long, err := m.gateway.TradeResult(ctx, rec.LongTicker, fill.LongOrderID)
	if err != nil {
		return nil, fmt.Errorf("trade result for %s: %w", rec.LongTicker, err)
	}
	short, err := m.gateway.TradeResult(ctx, rec.ShortTicker, fill.ShortOrderID)
	if err != nil {
		return nil, fmt.Errorf("trade result for %s: %w", rec.ShortTicker, err)
	}

	if msg := fillProblem(rec, long, short); msg != "" {
		saved, err := m.markError(ctx, rec, msg)
		if err != nil {
			return nil, err
		}
		return saved, fmt.Errorf("confirm %s: %s: %w", id, msg, ErrInvalidFill)
	}

	now := m.now()
	entryTime := entryTimeOf(now, long, short)

	snapshot := rec.CurrentStats
	rec.Status = position.StatusTrading
	rec.EntryLongPrice = long.FillPrice
	rec.EntryShortPrice = short.FillPrice
	rec.CurrentLongPrice = long.FillPrice
	rec.CurrentShortPrice = short.FillPrice
	rec.EntryStats = &snapshot
	rec.EntryTime = &entryTime
	rec.UpdatedAt = now

	saved, err := m.save(ctx, rec, position.StatusSelected, persistence.FieldStatus|persistence.FieldEntry|persistence.FieldPrices)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("position_id", id).
		Str("pair", saved.Pair()).
		Float64("long_fill", long.FillPrice).
		Float64("short_fill", short.FillPrice).
		Float64("entry_z", snapshot.ZScore).
		Msg("Position trading")
	m.publish(ctx, events.PositionTrading, saved)
	return saved, nil
}

// entryTimeOf is the later leg execution time, or now when the exchange
// reported none or reported a time in the future
func entryTimeOf(now time.Time, legs ...*exchange.TradeResult) time.Time {
	var latest time.Time
	for _, tr := range legs {
		if tr.ExecutedAt.After(latest) {
			latest = tr.ExecutedAt
		}
	}
	if latest.IsZero() || latest.After(now) {
		return now
	}
	return latest.UTC()
}

func fillProblem(rec *position.Record, long, short *exchange.TradeResult) string {
	switch {
	case long == nil:
		return "no trade result for long leg " + rec.LongTicker
	case short == nil:
		return "no trade result for short leg " + rec.ShortTicker
	case long.FillPrice <= 0:
		return fmt.Sprintf("long leg %s fill price %v is not positive", rec.LongTicker, long.FillPrice)
	case short.FillPrice <= 0:
		return fmt.Sprintf("short leg %s fill price %v is not positive", rec.ShortTicker, short.FillPrice)
	}
	return ""
}

// RequestClose flags a TRADING record; the next update cycle closes it with
// the manual reason ahead of any rule.
func (m *Manager) RequestClose(ctx context.Context, id string) (*position.Record, error) {
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != position.StatusTrading {
		return nil, fmt.Errorf("request close %s in status %s: %w", id, rec.Status, ErrInvalidTransition)
	}
	if rec.CloseRequested {
		return rec, nil
	}

	rec.CloseRequested = true
	rec.UpdatedAt = m.now()
	saved, err := m.save(ctx, rec, position.StatusTrading, persistence.FieldCloseRequest)
	if err != nil {
		return nil, err
	}
	log.Info().Str("position_id", id).Str("pair", saved.Pair()).Msg("Manual close requested")
	m.publish(ctx, events.PositionUpdated, saved)
	return saved, nil
}

// Close closes a TRADING record immediately with the manual reason
func (m *Manager) Close(ctx context.Context, id string) (*position.Record, error) {
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != position.StatusTrading {
		return nil, fmt.Errorf("close %s in status %s: %w", id, rec.Status, ErrInvalidTransition)
	}
	return m.closeManual(ctx, rec, persistence.Fields(0))
}

// MarkError moves a SELECTED or TRADING record to ERROR
func (m *Manager) MarkError(ctx context.Context, id, msg string) (*position.Record, error) {
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.Status.IsActive() {
		return nil, fmt.Errorf("mark error %s in status %s: %w", id, rec.Status, ErrInvalidTransition)
	}
	return m.markError(ctx, rec, msg)
}

func (m *Manager) markError(ctx context.Context, rec *position.Record, msg string) (*position.Record, error) {
	from := rec.Status
	rec.Status = position.StatusError
	rec.ErrorMessage = msg
	rec.UpdatedAt = m.now()
	saved, err := m.save(ctx, rec, from, persistence.FieldStatus|persistence.FieldError)
	if err != nil {
		return nil, err
	}
	log.Error().Str("position_id", rec.ID).Str("pair", rec.Pair()).Str("reason", msg).Msg("Position moved to ERROR")
	m.publish(ctx, events.PositionError, saved)
	return saved, nil
}

// Observe starts a manual watch on a pair. OBSERVED records never trade and do
// not occupy the pair slot.
func (m *Manager) Observe(ctx context.Context, long, short string) (*position.Record, error) {
	if long == "" || short == "" || strings.EqualFold(long, short) {
		return nil, fmt.Errorf("observe %s/%s: tickers must be distinct and non-empty", long, short)
	}
	settings, err := m.settings.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	rec := position.NewSelected(m.newID(), long, short, position.StatSnapshot{}, 0, settings.Params(), m.now())
	rec.Status = position.StatusObserved
	if err := m.store.Repo().Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("observe %s: %w", rec.Pair(), err)
	}
	log.Info().Str("position_id", rec.ID).Str("pair", rec.Pair()).Msg("Pair under observation")
	m.publish(ctx, events.PositionObserved, rec)
	return rec, nil
}

func (m *Manager) closeManual(ctx context.Context, rec *position.Record, extra persistence.Fields) (*position.Record, error) {
	return m.close(ctx, rec, exits.ExitResult{
		PositionID:  rec.ID,
		Pair:        rec.Pair(),
		Timestamp:   m.now(),
		ShouldExit:  true,
		ExitReason:  exits.Manual,
		TriggeredBy: "manual close",
		ProfitPct:   rec.ProfitPercent,
		CurrentZ:    rec.CurrentStats.ZScore,
	}, extra)
}

func (m *Manager) close(ctx context.Context, rec *position.Record, exit exits.ExitResult, extra persistence.Fields) (*position.Record, error) {
	now := m.now()
	from := rec.Status
	rec.Status = position.StatusClosed
	rec.ExitReason = exit.ExitReason.PositionReason()
	rec.ClosedAt = &now
	rec.UpdatedAt = now

	fields := extra | persistence.FieldStatus | persistence.FieldExitReason
	saved, err := m.save(ctx, rec, from, fields)
	if err != nil {
		return nil, err
	}

	m.observer.ExitTriggered(exit.ExitReason.String())
	log.Info().
		Str("position_id", rec.ID).
		Str("pair", rec.Pair()).
		Str("reason", exit.ExitReason.String()).
		Str("triggered_by", exit.TriggeredBy).
		Float64("profit_pct", exit.ProfitPct).
		Float64("z", exit.CurrentZ).
		Float64("hours_held", exit.HoursHeld).
		Msg("Position closed")
	m.publish(ctx, events.PositionClosed, saved)
	return saved, nil
}

// save writes rec unless a concurrent writer moved it out of status from first;
// that case is reported as ErrInvalidTransition
func (m *Manager) save(ctx context.Context, rec *position.Record, from position.Status, fields persistence.Fields) (*position.Record, error) {
	saved, err := m.store.SaveFrom(ctx, rec, from, fields)
	if errors.Is(err, persistence.ErrStatusChanged) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTransition, err)
	}
	return saved, err
}

func (m *Manager) publish(ctx context.Context, t events.Type, rec *position.Record) {
	if err := m.publisher.Publish(ctx, events.New(t, rec, m.now())); err != nil {
		log.Warn().Err(err).Str("position_id", rec.ID).Str("event", string(t)).Msg("Failed to publish position event")
	}
}
