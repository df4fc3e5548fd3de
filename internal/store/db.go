// Package store is the TimescaleDB persistence layer: connection pooling,
// idempotent migrations, the batched writer and read-side history queries.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/vietquant/vnpulse/internal/config"
	"github.com/vietquant/vnpulse/internal/metrics"
)

const pingTimeout = 5 * time.Second

// DB wraps the sqlx handle with pool instrumentation.
type DB struct {
	*sqlx.DB
	reg *metrics.Registry
}

// Connect opens the pool and verifies it with a bounded ping. The process is
// expected to treat a failure here as "run without persistence", not fatal.
func Connect(ctx context.Context, cfg config.DatabaseConfig, reg *metrics.Registry) (*DB, error) {
	db, err := sqlx.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.PoolMax)
	db.SetMaxIdleConns(cfg.PoolMin)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	log.Info().
		Int("pool_min", cfg.PoolMin).
		Int("pool_max", cfg.PoolMax).
		Msg("database connected")
	return &DB{DB: db, reg: reg}, nil
}

// SamplePoolGauge pushes the current open-connection count to the gauge.
func (d *DB) SamplePoolGauge() {
	if d.reg != nil {
		d.reg.DBPoolActive.Set(float64(d.Stats().OpenConnections))
	}
}

// Healthy reports whether the pool answers a bounded ping.
func (d *DB) Healthy(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return d.PingContext(pingCtx) == nil
}
