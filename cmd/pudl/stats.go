package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pudl/internal/aggregate"
	"pudl/internal/config"
	"pudl/internal/storage"
	"pudl/internal/storage/postgres"
	"pudl/internal/storage/sqlite"
)

func runStats(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadStats(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Input == "" {
		return fmt.Errorf("input path is required")
	}
	if cfg.PGDSN == "" && cfg.SQLitePath == "" && cfg.Out == "" {
		return fmt.Errorf("pg dsn, sqlite path or output path is required")
	}

	windowDuration, err := time.ParseDuration(cfg.Window)
	if err != nil {
		return fmt.Errorf("invalid window: %w", err)
	}
	if windowDuration <= 0 {
		return fmt.Errorf("window must be positive")
	}
	windowSeconds := uint64(windowDuration.Seconds())
	if windowSeconds == 0 {
		return fmt.Errorf("window must be at least 1s")
	}

	recomputeFrom, err := config.ParseTimestamp(cfg.RecomputeFrom)
	if err != nil {
		return fmt.Errorf("parse recompute-from: %w", err)
	}
	decimals, err := config.ParseDecimals(cfg.Decimals)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		sink   storage.MetricsStorage
		cursor aggregate.Cursor
	)
	if cfg.StateFile != "" {
		cursor = &aggregate.FileCursor{Path: cfg.StateFile, WindowSeconds: windowSeconds}
	}
	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		sink = store
		if cursor == nil {
			cursor = aggregate.NewTableCursor(store, windowSeconds)
		}
	} else if cfg.SQLitePath != "" {
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return err
		}
		defer store.Close()
		sink = store
		if cursor == nil {
			cursor = aggregate.NewTableCursor(store, windowSeconds)
		}
	} else {
		sink = storage.NewJsonlStorage(cfg.Out)
	}

	agg := aggregate.NewAggregator(aggregate.Config{
		WindowSeconds: windowSeconds,
		BatchSize:     cfg.BatchSize,
		RecomputeFrom: recomputeFrom,
		Cursor:        cursor,
		Decimals:      decimals,
	}, sink, logger)

	logger.Info("stats start",
		zap.String("input", cfg.Input),
		zap.String("out", cfg.Out),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
		zap.String("sqlite", cfg.SQLitePath),
		zap.Uint64("window_seconds", windowSeconds),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Uint64("recompute_from", recomputeFrom),
		zap.Int("decimals", len(decimals)),
	)

	if cfg.Input == "-" {
		return agg.Consume(ctx, os.Stdin)
	}
	return agg.Run(ctx, cfg.Input)
}
