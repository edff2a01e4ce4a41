package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"

	"github.com/sawpanic/pairsrun/internal/domain/position"
	"github.com/sawpanic/pairsrun/internal/persistence"
)

const positionColumns = `id, version, status, long_ticker, short_ticker, pair_key,
	entry_long_price, entry_short_price, current_long_price, current_short_price,
	entry_stats, current_stats, entry_time, profit_percent, long_return_percent,
	short_return_percent, extremums, exit_reason, close_requested, params,
	z_history, pixel_history, score, error_message, created_at, updated_at, closed_at`

// positionRow is the column image of a position record
type positionRow struct {
	ID                 string             `db:"id"`
	Version            int64              `db:"version"`
	Status             string             `db:"status"`
	LongTicker         string             `db:"long_ticker"`
	ShortTicker        string             `db:"short_ticker"`
	PairKey            string             `db:"pair_key"`
	EntryLongPrice     float64            `db:"entry_long_price"`
	EntryShortPrice    float64            `db:"entry_short_price"`
	CurrentLongPrice   float64            `db:"current_long_price"`
	CurrentShortPrice  float64            `db:"current_short_price"`
	EntryStats         types.NullJSONText `db:"entry_stats"`
	CurrentStats       types.JSONText     `db:"current_stats"`
	EntryTime          *time.Time         `db:"entry_time"`
	ProfitPercent      float64            `db:"profit_percent"`
	LongReturnPercent  float64            `db:"long_return_percent"`
	ShortReturnPercent float64            `db:"short_return_percent"`
	Extremums          types.JSONText     `db:"extremums"`
	ExitReason         string             `db:"exit_reason"`
	CloseRequested     bool               `db:"close_requested"`
	Params             types.JSONText     `db:"params"`
	ZHistory           types.JSONText     `db:"z_history"`
	PixelHistory       types.JSONText     `db:"pixel_history"`
	Score              float64            `db:"score"`
	ErrorMessage       string             `db:"error_message"`
	CreatedAt          time.Time          `db:"created_at"`
	UpdatedAt          time.Time          `db:"updated_at"`
	ClosedAt           *time.Time         `db:"closed_at"`
}

// positionsRepo implements PositionsRepo for PostgreSQL
type positionsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPositionsRepo creates a new PostgreSQL positions repository
func NewPositionsRepo(db *sqlx.DB, timeout time.Duration) persistence.PositionsRepo {
	return &positionsRepo{
		db:      db,
		timeout: timeout,
	}
}

func (r *positionsRepo) Get(ctx context.Context, id string) (*position.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row positionRow
	err := r.db.GetContext(ctx, &row, `SELECT `+positionColumns+` FROM positions WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get position %s: %w", id, err)
	}
	return row.record()
}

func (r *positionsRepo) Insert(ctx context.Context, rec *position.Record) error {
	return r.insert(ctx, rec)
}

// CreateSelected relies on the partial unique index over active pair keys, so
// the exclusion check and the insert are one statement.
func (r *positionsRepo) CreateSelected(ctx context.Context, rec *position.Record) error {
	if rec.Status != position.StatusSelected {
		return fmt.Errorf("create selected: record %s has status %s", rec.ID, rec.Status)
	}
	return r.insert(ctx, rec)
}

func (r *positionsRepo) insert(ctx context.Context, rec *position.Record) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if rec.PairKey == "" {
		rec.PairKey = position.PairKey(rec.LongTicker, rec.ShortTicker)
	}
	row, err := newPositionRow(rec)
	if err != nil {
		return err
	}
	row.Version = 1

	query := `INSERT INTO positions (` + positionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27)`

	if _, err := r.db.ExecContext(ctx, query, row.insertArgs()...); err != nil {
		return mapWriteError(err, "insert position")
	}
	rec.Version = 1
	return nil
}

func (r *positionsRepo) UpdateIfVersion(ctx context.Context, rec *position.Record, expected int64) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	row, err := newPositionRow(rec)
	if err != nil {
		return 0, err
	}

	query := `
		UPDATE positions SET
			version = version + 1,
			status = $3,
			entry_long_price = $4, entry_short_price = $5,
			current_long_price = $6, current_short_price = $7,
			entry_stats = $8, current_stats = $9, entry_time = $10,
			profit_percent = $11, long_return_percent = $12, short_return_percent = $13,
			extremums = $14, exit_reason = $15, close_requested = $16, params = $17,
			z_history = $18, pixel_history = $19, score = $20, error_message = $21,
			updated_at = $22, closed_at = $23
		WHERE id = $1 AND version = $2
		RETURNING version`

	var version int64
	err = r.db.QueryRowxContext(ctx, query,
		row.ID, expected, row.Status,
		row.EntryLongPrice, row.EntryShortPrice,
		row.CurrentLongPrice, row.CurrentShortPrice,
		row.EntryStats, row.CurrentStats, row.EntryTime,
		row.ProfitPercent, row.LongReturnPercent, row.ShortReturnPercent,
		row.Extremums, row.ExitReason, row.CloseRequested, row.Params,
		row.ZHistory, row.PixelHistory, row.Score, row.ErrorMessage,
		row.UpdatedAt, row.ClosedAt).Scan(&version)
	if err == nil {
		return version, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, mapWriteError(err, "update position")
	}

	var exists bool
	if err := r.db.QueryRowxContext(ctx, `SELECT EXISTS (SELECT 1 FROM positions WHERE id = $1)`, rec.ID).Scan(&exists); err != nil {
		return 0, fmt.Errorf("failed to check position %s: %w", rec.ID, err)
	}
	if !exists {
		return 0, persistence.ErrNotFound
	}
	return 0, persistence.ErrVersionConflict
}

func (r *positionsRepo) ListByStatus(ctx context.Context, statuses ...position.Status) ([]*position.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []positionRow
	var err error
	if len(statuses) == 0 {
		err = r.db.SelectContext(ctx, &rows,
			`SELECT `+positionColumns+` FROM positions ORDER BY created_at, id`)
	} else {
		names := make([]string, len(statuses))
		for i, s := range statuses {
			names[i] = string(s)
		}
		err = r.db.SelectContext(ctx, &rows,
			`SELECT `+positionColumns+` FROM positions WHERE status = ANY($1) ORDER BY created_at, id`,
			pq.Array(names))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}

	out := make([]*position.Record, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *positionsRepo) ActivePairKeys(ctx context.Context) (map[string]struct{}, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var keys []string
	err := r.db.SelectContext(ctx, &keys,
		`SELECT pair_key FROM positions WHERE status IN ('SELECTED', 'TRADING')`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active pairs: %w", err)
	}
	out := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		out[k] = struct{}{}
	}
	return out, nil
}

func (r *positionsRepo) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM positions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete position %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete position %s: %w", id, err)
	}
	if n == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func mapWriteError(err error, op string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		if pqErr.Constraint == activePairIndex {
			return persistence.ErrPairActive
		}
		return fmt.Errorf("%s: duplicate: %w", op, err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func newPositionRow(rec *position.Record) (*positionRow, error) {
	row := &positionRow{
		ID:                 rec.ID,
		Version:            rec.Version,
		Status:             string(rec.Status),
		LongTicker:         rec.LongTicker,
		ShortTicker:        rec.ShortTicker,
		PairKey:            rec.PairKey,
		EntryLongPrice:     rec.EntryLongPrice,
		EntryShortPrice:    rec.EntryShortPrice,
		CurrentLongPrice:   rec.CurrentLongPrice,
		CurrentShortPrice:  rec.CurrentShortPrice,
		EntryTime:          rec.EntryTime,
		ProfitPercent:      rec.ProfitPercent,
		LongReturnPercent:  rec.LongReturnPercent,
		ShortReturnPercent: rec.ShortReturnPercent,
		ExitReason:         string(rec.ExitReason),
		CloseRequested:     rec.CloseRequested,
		Score:              rec.Score,
		ErrorMessage:       rec.ErrorMessage,
		CreatedAt:          rec.CreatedAt,
		UpdatedAt:          rec.UpdatedAt,
		ClosedAt:           rec.ClosedAt,
	}

	if rec.EntryStats != nil {
		b, err := json.Marshal(rec.EntryStats)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal entry stats: %w", err)
		}
		row.EntryStats = types.NullJSONText{JSONText: b, Valid: true}
	}

	var err error
	if row.CurrentStats, err = marshalJSON(rec.CurrentStats, "current stats"); err != nil {
		return nil, err
	}
	if row.Extremums, err = marshalJSON(rec.Extremums, "extremums"); err != nil {
		return nil, err
	}
	if row.Params, err = marshalJSON(rec.Params, "params"); err != nil {
		return nil, err
	}
	z := rec.ZScoreHistory
	if z == nil {
		z = []position.ZScorePoint{}
	}
	if row.ZHistory, err = marshalJSON(z, "z history"); err != nil {
		return nil, err
	}
	px := rec.PixelSpreadHistory
	if px == nil {
		px = []position.PixelSpreadPoint{}
	}
	if row.PixelHistory, err = marshalJSON(px, "pixel history"); err != nil {
		return nil, err
	}
	return row, nil
}

func marshalJSON(v interface{}, what string) (types.JSONText, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", what, err)
	}
	return types.JSONText(b), nil
}

func (row *positionRow) insertArgs() []interface{} {
	return []interface{}{
		row.ID, row.Version, row.Status, row.LongTicker, row.ShortTicker, row.PairKey,
		row.EntryLongPrice, row.EntryShortPrice, row.CurrentLongPrice, row.CurrentShortPrice,
		row.EntryStats, row.CurrentStats, row.EntryTime, row.ProfitPercent, row.LongReturnPercent,
		row.ShortReturnPercent, row.Extremums, row.ExitReason, row.CloseRequested, row.Params,
		row.ZHistory, row.PixelHistory, row.Score, row.ErrorMessage, row.CreatedAt, row.UpdatedAt, row.ClosedAt,
	}
}

func (row *positionRow) record() (*position.Record, error) {
	rec := &position.Record{
		ID:                 row.ID,
		Version:            row.Version,
		Status:             position.Status(row.Status),
		LongTicker:         row.LongTicker,
		ShortTicker:        row.ShortTicker,
		PairKey:            row.PairKey,
		EntryLongPrice:     row.EntryLongPrice,
		EntryShortPrice:    row.EntryShortPrice,
		CurrentLongPrice:   row.CurrentLongPrice,
		CurrentShortPrice:  row.CurrentShortPrice,
		EntryTime:          row.EntryTime,
		ProfitPercent:      row.ProfitPercent,
		LongReturnPercent:  row.LongReturnPercent,
		ShortReturnPercent: row.ShortReturnPercent,
		ExitReason:         position.ExitReason(row.ExitReason),
		CloseRequested:     row.CloseRequested,
		Score:              row.Score,
		ErrorMessage:       row.ErrorMessage,
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
		ClosedAt:           row.ClosedAt,
	}

	if row.EntryStats.Valid && len(row.EntryStats.JSONText) > 0 {
		var s position.StatSnapshot
		if err := json.Unmarshal(row.EntryStats.JSONText, &s); err != nil {
			return nil, fmt.Errorf("failed to unmarshal entry stats of %s: %w", row.ID, err)
		}
		rec.EntryStats = &s
	}
	fields := []struct {
		data types.JSONText
		dst  interface{}
		what string
	}{
		{row.CurrentStats, &rec.CurrentStats, "current stats"},
		{row.Extremums, &rec.Extremums, "extremums"},
		{row.Params, &rec.Params, "params"},
		{row.ZHistory, &rec.ZScoreHistory, "z history"},
		{row.PixelHistory, &rec.PixelSpreadHistory, "pixel history"},
	}
	for _, f := range fields {
		if len(f.data) == 0 {
			continue
		}
		if err := json.Unmarshal(f.data, f.dst); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s of %s: %w", f.what, row.ID, err)
		}
	}
	return rec, nil
}
