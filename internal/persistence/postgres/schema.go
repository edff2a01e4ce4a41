package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// activePairIndex enforces at most one SELECTED or TRADING row per pair
const activePairIndex = "positions_active_pair_key"

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS positions (
		id                   TEXT PRIMARY KEY,
		version              BIGINT NOT NULL DEFAULT 1,
		status               TEXT NOT NULL,
		long_ticker          TEXT NOT NULL,
		short_ticker         TEXT NOT NULL,
		pair_key             TEXT NOT NULL,
		entry_long_price     DOUBLE PRECISION NOT NULL DEFAULT 0,
		entry_short_price    DOUBLE PRECISION NOT NULL DEFAULT 0,
		current_long_price   DOUBLE PRECISION NOT NULL DEFAULT 0,
		current_short_price  DOUBLE PRECISION NOT NULL DEFAULT 0,
		entry_stats          JSONB,
		current_stats        JSONB NOT NULL DEFAULT '{}',
		entry_time           TIMESTAMPTZ,
		profit_percent       DOUBLE PRECISION NOT NULL DEFAULT 0,
		long_return_percent  DOUBLE PRECISION NOT NULL DEFAULT 0,
		short_return_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
		extremums            JSONB NOT NULL DEFAULT '{}',
		exit_reason          TEXT NOT NULL DEFAULT '',
		close_requested      BOOLEAN NOT NULL DEFAULT FALSE,
		params               JSONB NOT NULL DEFAULT '{}',
		z_history            JSONB NOT NULL DEFAULT '[]',
		pixel_history        JSONB NOT NULL DEFAULT '[]',
		score                DOUBLE PRECISION NOT NULL DEFAULT 0,
		error_message        TEXT NOT NULL DEFAULT '',
		created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		closed_at            TIMESTAMPTZ
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ` + activePairIndex + `
		ON positions (pair_key) WHERE status IN ('SELECTED', 'TRADING')`,
	`CREATE INDEX IF NOT EXISTS positions_status_created
		ON positions (status, created_at)`,
}

// Migrate creates the positions table and its indexes if missing
func Migrate(ctx context.Context, db *sqlx.DB) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration: %w", err)
	}
	defer tx.Rollback()

	for i, stmt := range migrations {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d failed: %w", i+1, err)
		}
	}
	return tx.Commit()
}
