package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vietquant/vnpulse/internal/metrics"
	"github.com/vietquant/vnpulse/internal/store"
)

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	metrics.Init()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	db, err := store.Connect(ctx, cfg.Database, metrics.Default)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := store.Migrate(ctx, db); err != nil {
		return err
	}
	log.Info().Msg("migration complete")
	return nil
}
