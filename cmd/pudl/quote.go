package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pudl/internal/config"
	"pudl/internal/dex"
	"pudl/internal/replay"
)

type quoteOutput struct {
	Pool           string `json:"pool"`
	Direction      string `json:"direction"`
	ActiveBinID    int32  `json:"active_bin_id"`
	AmountIn       uint64 `json:"amount_in"`
	FeeAmount      uint64 `json:"fee_amount"`
	ProtocolFee    uint64 `json:"protocol_fee"`
	LPFee          uint64 `json:"lp_fee"`
	AmountAfterFee uint64 `json:"amount_after_fee"`
	AmountOut      uint64 `json:"amount_out"`
	EndBinID       int32  `json:"end_bin_id"`
	BinsCrossed    int    `json:"bins_crossed"`
}

func runQuote(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadQuote(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Replay.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Replay.In == "" {
		return fmt.Errorf("input path is required")
	}
	key, err := replay.ParseKey(cfg.Pool)
	if err != nil {
		return err
	}
	amount, err := replay.ParseAmount(cfg.Amount)
	if err != nil {
		return err
	}
	dir, err := dex.ParseDirection(cfg.Direction)
	if err != nil {
		return err
	}
	runCfg, err := runConfig(cfg.Replay)
	if err != nil {
		return err
	}
	runCfg.StatePath = ""

	input, err := os.Open(cfg.Replay.In)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer input.Close()

	runner, err := replay.NewRunner(runCfg, nil, nil, logger)
	if err != nil {
		return err
	}
	ctx := context.Background()
	if _, err := runner.Run(ctx, input, nil); err != nil {
		return err
	}

	pool, err := runner.Protocol().Pool(key)
	if err != nil {
		return err
	}
	q, err := pool.QuoteSwap(uint64(amount), dir)
	if err != nil {
		return err
	}

	logger.Debug("quote", zap.String("pool", key.Hex()), zap.Uint64("amount_out", q.AmountOut))
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(quoteOutput{
		Pool:           key.Hex(),
		Direction:      cfg.Direction,
		ActiveBinID:    pool.ActiveBinID(),
		AmountIn:       q.AmountIn,
		FeeAmount:      q.FeeAmount,
		ProtocolFee:    q.ProtocolFee,
		LPFee:          q.LPFee,
		AmountAfterFee: q.AmountAfterFee,
		AmountOut:      q.AmountOut,
		EndBinID:       q.EndBinID,
		BinsCrossed:    q.BinsCrossed,
	})
}
