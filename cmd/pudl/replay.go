package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pudl/internal/config"
	"pudl/internal/protocol"
	"pudl/internal/replay"
	"pudl/internal/storage"
	"pudl/internal/storage/postgres"
	"pudl/internal/storage/sqlite"
	"pudl/internal/treasury"
)

func runReplay(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadReplay(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.In == "" {
		return fmt.Errorf("input path is required")
	}
	if cfg.Out == "" {
		return fmt.Errorf("output path is required")
	}
	runCfg, err := runConfig(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appendMode, _ := cmd.Flags().GetBool("append")
	if !appendMode {
		if err := os.Remove(cfg.Out); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("reset output: %w", err)
		}
	}
	sinks := []storage.Storage{storage.NewJsonlStorage(cfg.Out)}

	var snapshots replay.SnapshotStore
	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		sinks = append(sinks, store)
		snapshots = store
	} else if cfg.SQLitePath != "" {
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return err
		}
		defer store.Close()
		sinks = append(sinks, store)
		snapshots = store
	}

	input, err := os.Open(cfg.In)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer input.Close()

	var rejects *lineFile
	if cfg.Errors != "" {
		rejects, err = createLineFile(cfg.Errors)
		if err != nil {
			return err
		}
		defer rejects.Close()
	}

	runner, err := replay.NewRunner(runCfg, sinks, snapshots, logger)
	if err != nil {
		return err
	}
	registry := prometheus.NewRegistry()
	runner.UseMetrics(replay.NewMetrics(registry))

	logger.Info("replay start",
		zap.String("input", cfg.In),
		zap.String("out", cfg.Out),
		zap.String("errors", cfg.Errors),
		zap.String("state_file", cfg.StateFile),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
		zap.String("sqlite", cfg.SQLitePath),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Uint64("quorum", cfg.Quorum),
	)

	var sum replay.Summary
	if rejects != nil {
		sum, err = runner.Run(ctx, input, rejects)
	} else {
		sum, err = runner.Run(ctx, input, nil)
	}
	if cfg.MetricsFile != "" {
		if merr := prometheus.WriteToTextfile(cfg.MetricsFile, registry); merr != nil {
			logger.Warn("write metrics", zap.String("path", cfg.MetricsFile), zap.Error(merr))
		}
	}
	if err != nil {
		return err
	}
	if sum.Rejected > 0 {
		logger.Warn("operations rejected", zap.Uint64("rejected", sum.Rejected), zap.String("errors", cfg.Errors))
	}
	return nil
}

// runConfig turns raw config values into replay settings.
func runConfig(cfg config.ReplayConfig) (replay.RunConfig, error) {
	authority, err := requiredAddress("authority", cfg.Authority)
	if err != nil {
		return replay.RunConfig{}, err
	}
	pudlMint, err := requiredAddress("pudl-mint", cfg.PudlMint)
	if err != nil {
		return replay.RunConfig{}, err
	}
	opsWallet, err := requiredAddress("ops-wallet", cfg.OpsWallet)
	if err != nil {
		return replay.RunConfig{}, err
	}
	bondMint, err := optionalAddress("bond-mint", cfg.BondMint)
	if err != nil {
		return replay.RunConfig{}, err
	}
	desk, err := optionalAddress("desk", cfg.Desk)
	if err != nil {
		return replay.RunConfig{}, err
	}
	num, den, err := config.ParseRate(cfg.Rate)
	if err != nil {
		return replay.RunConfig{}, err
	}
	start, err := config.ParseTimestamp(cfg.Start)
	if err != nil {
		return replay.RunConfig{}, fmt.Errorf("parse start: %w", err)
	}

	split := treasury.Split{BurnBps: cfg.BurnBps, StakerBps: cfg.StakerBps, OpsBps: cfg.OpsBps}
	if err := split.Validate(); err != nil {
		return replay.RunConfig{}, err
	}

	rc := replay.RunConfig{
		Protocol: protocol.Config{
			Authority:     authority,
			PudlMint:      pudlMint,
			OpsWallet:     opsWallet,
			Split:         split,
			BuybackBps:    cfg.BuybackBps,
			TierDecimals:  cfg.TierDecimals,
			BondMint:      bondMint,
			BondAmount:    cfg.BondAmount,
			MinBaseFeeBps: cfg.MinBaseFeeBps,
			MaxBaseFeeBps: cfg.MaxBaseFeeBps,
		},
		Desk:         desk,
		RateNum:      num,
		RateDen:      den,
		Quorum:       cfg.Quorum,
		Delay:        cfg.TimelockDelay,
		BatchSize:    cfg.BatchSize,
		StatePath:    cfg.StateFile,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
		StopOnError:  cfg.StopOnError,
	}
	if start > 0 {
		rc.Start = time.Unix(int64(start), 0).UTC()
	}
	return rc, nil
}

func requiredAddress(name, value string) (common.Address, error) {
	if value == "" {
		return common.Address{}, fmt.Errorf("%s is required", name)
	}
	return optionalAddress(name, value)
}

func optionalAddress(name, value string) (common.Address, error) {
	if value == "" {
		return common.Address{}, nil
	}
	addr, err := replay.ParseAddress(value)
	if err != nil {
		return common.Address{}, fmt.Errorf("%s: %w", name, err)
	}
	return addr, nil
}
