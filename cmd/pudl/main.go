package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "pudl",
		Short:        "PUDL liquidity protocol replay and analytics",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Apply an operation log to a fresh deployment",
		RunE:  runReplay,
	}
	addDeploymentFlags(replayCmd)
	replayCmd.Flags().String("out", "./data/events.jsonl", "output events JSONL")
	replayCmd.Flags().Bool("append", false, "append to the events file instead of truncating it")
	replayCmd.Flags().String("errors", "./data/rejected_ops.jsonl", "rejected operations JSONL")
	replayCmd.Flags().String("state-file", "./data/state.json", "final state JSON, empty to skip")
	replayCmd.Flags().String("pg-dsn", "", "optional Postgres DSN for events and snapshots")
	replayCmd.Flags().String("sqlite", "", "optional SQLite file for events and snapshots")
	replayCmd.Flags().Int("batch-size", 500, "operations per storage flush")
	replayCmd.Flags().Int("max-retries", 5, "maximum retry attempts for storage writes")
	replayCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	replayCmd.Flags().Bool("stop-on-error", false, "abort on the first rejected operation")
	replayCmd.Flags().String("metrics-file", "", "write Prometheus text metrics here when the run ends")
	root.AddCommand(replayCmd)

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Aggregate protocol events into pool window metrics",
		RunE:  runStats,
	}
	statsCmd.Flags().String("in", "", "input events JSONL, - for stdin")
	statsCmd.Flags().String("out", "./data/pool_metrics.jsonl", "output metrics JSONL when no database is set")
	statsCmd.Flags().String("window", "5m", "aggregation window (e.g. 1m, 5m, 1h)")
	statsCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	statsCmd.Flags().String("sqlite", "", "SQLite file, used when no pg-dsn is set")
	statsCmd.Flags().Int("batch-size", 1000, "batch size for metric writes")
	statsCmd.Flags().String("state-file", "", "optional local state file for progress tracking")
	statsCmd.Flags().String("recompute-from", "", "recompute from timestamp (unix seconds or RFC3339)")
	statsCmd.Flags().String("decimals", "", "display decimals per mint (comma-separated mint=decimals)")
	statsCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(statsCmd)

	quoteCmd := &cobra.Command{
		Use:   "quote",
		Short: "Quote a swap against a pool rebuilt from an operation log",
		RunE:  runQuote,
	}
	addDeploymentFlags(quoteCmd)
	quoteCmd.Flags().String("pool", "", "pool key")
	quoteCmd.Flags().String("amount", "", "input amount (decimal or 0x hex)")
	quoteCmd.Flags().String("direction", "base_to_quote", "base_to_quote or quote_to_base")
	root.AddCommand(quoteCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addDeploymentFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("in", "", "input operations JSONL")
	f.String("start", "", "clock start for operations without ts (unix seconds or RFC3339)")
	f.String("authority", "", "deployment authority address")
	f.String("pudl-mint", "", "PUDL token mint")
	f.String("ops-wallet", "", "operations wallet")
	f.String("bond-mint", "", "pool creation bond mint, defaults to the PUDL mint")
	f.Uint64("bond-amount", 0, "pool creation bond")
	f.Uint16("min-base-fee-bps", 0, "lowest base fee a pool may be created with")
	f.Uint16("max-base-fee-bps", 0, "highest base fee a pool may be created with, 0 means 10000")
	f.Uint8("tier-decimals", 6, "PUDL decimals used for staking tiers")
	f.Uint16("burn-bps", 3000, "harvest share burned")
	f.Uint16("staker-bps", 5000, "harvest share paid to stakers")
	f.Uint16("ops-bps", 2000, "harvest share paid to the ops wallet")
	f.Uint16("buyback-bps", 10000, "share of harvested fees converted to PUDL")
	f.String("desk", "", "fallback conversion desk address")
	f.String("rate", "1/1", "fallback conversion rate as num/den PUDL per fee unit")
	f.Uint64("quorum", 0, "stake-weighted votes required for privileged actions, 0 disables governance")
	f.Duration("timelock-delay", 0, "delay between proposal and execution")
	f.String("log-level", "info", "log level (debug, info, warn, error)")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return dsn
	}
	return "***"
}
