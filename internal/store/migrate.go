package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// tableDDL is the idempotent schema: five time-series tables with a
// (key, timestamp DESC) secondary index each. candles_1m carries a unique
// constraint because closed bars are upserted rather than bulk-copied.
var tableDDL = []string{
	`CREATE TABLE IF NOT EXISTS tick_data (
		symbol     VARCHAR(10) NOT NULL,
		timestamp  TIMESTAMPTZ NOT NULL,
		price      NUMERIC(12, 2) NOT NULL,
		volume     INTEGER NOT NULL,
		side       VARCHAR(20) NOT NULL,
		bid        NUMERIC(12, 2),
		ask        NUMERIC(12, 2)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tick_symbol_time
		ON tick_data (symbol, timestamp DESC)`,

	`CREATE TABLE IF NOT EXISTS candles_1m (
		symbol          VARCHAR(10) NOT NULL,
		timestamp       TIMESTAMPTZ NOT NULL,
		open            NUMERIC(12, 2) NOT NULL,
		high            NUMERIC(12, 2) NOT NULL,
		low             NUMERIC(12, 2) NOT NULL,
		close           NUMERIC(12, 2) NOT NULL,
		volume          BIGINT NOT NULL DEFAULT 0,
		active_buy_vol  BIGINT NOT NULL DEFAULT 0,
		active_sell_vol BIGINT NOT NULL DEFAULT 0,
		UNIQUE (symbol, timestamp)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_candles_symbol_time
		ON candles_1m (symbol, timestamp DESC)`,

	`CREATE TABLE IF NOT EXISTS foreign_flow (
		symbol     VARCHAR(10) NOT NULL,
		timestamp  TIMESTAMPTZ NOT NULL,
		buy_vol    BIGINT NOT NULL DEFAULT 0,
		sell_vol   BIGINT NOT NULL DEFAULT 0,
		net_vol    BIGINT NOT NULL DEFAULT 0,
		buy_value  NUMERIC(18, 2) NOT NULL DEFAULT 0,
		sell_value NUMERIC(18, 2) NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_foreign_symbol_time
		ON foreign_flow (symbol, timestamp DESC)`,

	`CREATE TABLE IF NOT EXISTS index_snapshots (
		index_name VARCHAR(20) NOT NULL,
		timestamp  TIMESTAMPTZ NOT NULL,
		value      NUMERIC(12, 2) NOT NULL,
		change_pct NUMERIC(8, 4) NOT NULL DEFAULT 0,
		volume     BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_index_name_time
		ON index_snapshots (index_name, timestamp DESC)`,

	`CREATE TABLE IF NOT EXISTS derivatives (
		contract      VARCHAR(20) NOT NULL,
		timestamp     TIMESTAMPTZ NOT NULL,
		price         NUMERIC(12, 2) NOT NULL,
		basis         NUMERIC(12, 2) NOT NULL DEFAULT 0,
		open_interest BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_deriv_contract_time
		ON derivatives (contract, timestamp DESC)`,
}

var hypertables = []string{
	"tick_data", "candles_1m", "foreign_flow", "index_snapshots", "derivatives",
}

// Migrate applies the schema. Hypertable conversion is attempted per table
// and skipped with a warning when the timescaledb extension is unavailable,
// so the pipeline still runs against plain postgres.
func Migrate(ctx context.Context, db *DB) error {
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		log.Warn().Err(err).Msg("timescaledb extension unavailable, using plain tables")
	}

	for _, stmt := range tableDDL {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration statement failed: %w", err)
		}
	}

	for _, table := range hypertables {
		query := fmt.Sprintf(
			"SELECT create_hypertable('%s', 'timestamp', if_not_exists => TRUE)", table)
		if _, err := db.ExecContext(ctx, query); err != nil {
			log.Warn().Err(err).Str("table", table).Msg("create_hypertable skipped")
		}
	}

	log.Info().Int("tables", len(hypertables)).Msg("migrations applied")
	return nil
}
