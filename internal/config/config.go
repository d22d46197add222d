package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ReplayConfig holds configuration values loaded from flags, env, or config file.
type ReplayConfig struct {
	In           string
	Out          string
	Errors       string
	StateFile    string
	PGDSN        string
	SQLitePath   string
	BatchSize    int
	MaxRetries   int
	RetryBackoff time.Duration
	Start        string
	StopOnError  bool
	MetricsFile  string
	LogLevel     string

	Authority     string
	PudlMint      string
	OpsWallet     string
	BondMint      string
	BondAmount    uint64
	MinBaseFeeBps uint16
	MaxBaseFeeBps uint16
	TierDecimals  uint8
	BurnBps       uint16
	StakerBps     uint16
	OpsBps        uint16
	BuybackBps    uint16

	Desk          string
	Rate          string
	Quorum        uint64
	TimelockDelay time.Duration
}

// LoadReplay merges config file, environment variables, and flags into ReplayConfig.
func LoadReplay(cfgFile string, flags *pflag.FlagSet) (ReplayConfig, error) {
	v, err := load(cfgFile, flags, func(v *viper.Viper) {
		v.SetDefault("out", "./data/events.jsonl")
		v.SetDefault("errors", "./data/rejected_ops.jsonl")
		v.SetDefault("state-file", "./data/state.json")
		v.SetDefault("batch-size", 500)
		v.SetDefault("max-retries", 5)
		v.SetDefault("retry-backoff", 500*time.Millisecond)
		v.SetDefault("log-level", "info")
		v.SetDefault("tier-decimals", 6)
		v.SetDefault("burn-bps", 3000)
		v.SetDefault("staker-bps", 5000)
		v.SetDefault("ops-bps", 2000)
		v.SetDefault("buyback-bps", 10000)
		v.SetDefault("rate", "1/1")
	})
	if err != nil {
		return ReplayConfig{}, err
	}

	cfg := ReplayConfig{
		In:           v.GetString("in"),
		Out:          v.GetString("out"),
		Errors:       v.GetString("errors"),
		StateFile:    v.GetString("state-file"),
		PGDSN:        v.GetString("pg-dsn"),
		SQLitePath:   v.GetString("sqlite"),
		BatchSize:    v.GetInt("batch-size"),
		MaxRetries:   v.GetInt("max-retries"),
		RetryBackoff: v.GetDuration("retry-backoff"),
		Start:        v.GetString("start"),
		StopOnError:  v.GetBool("stop-on-error"),
		MetricsFile:  v.GetString("metrics-file"),
		LogLevel:     v.GetString("log-level"),

		Authority:     v.GetString("authority"),
		PudlMint:      v.GetString("pudl-mint"),
		OpsWallet:     v.GetString("ops-wallet"),
		BondMint:      v.GetString("bond-mint"),
		BondAmount:    v.GetUint64("bond-amount"),
		MinBaseFeeBps: v.GetUint16("min-base-fee-bps"),
		MaxBaseFeeBps: v.GetUint16("max-base-fee-bps"),
		TierDecimals:  v.GetUint8("tier-decimals"),
		BurnBps:       v.GetUint16("burn-bps"),
		StakerBps:     v.GetUint16("staker-bps"),
		OpsBps:        v.GetUint16("ops-bps"),
		BuybackBps:    v.GetUint16("buyback-bps"),

		Desk:          v.GetString("desk"),
		Rate:          v.GetString("rate"),
		Quorum:        v.GetUint64("quorum"),
		TimelockDelay: v.GetDuration("timelock-delay"),
	}
	return cfg, nil
}

// load builds a viper instance with PUDL_ env overrides, the given
// defaults, bound flags and an optional config file.
func load(cfgFile string, flags *pflag.FlagSet, defaults func(v *viper.Viper)) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("PUDL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if defaults != nil {
		defaults(v)
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

// ParseRate parses a conversion rate written as "num/den" or "num".
func ParseRate(input string) (uint64, uint64, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return 0, 0, fmt.Errorf("rate is empty")
	}
	numText, denText, found := strings.Cut(input, "/")
	if !found {
		denText = "1"
	}
	num, err := strconv.ParseUint(strings.TrimSpace(numText), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid rate %q", input)
	}
	den, err := strconv.ParseUint(strings.TrimSpace(denText), 10, 64)
	if err != nil || den == 0 {
		return 0, 0, fmt.Errorf("invalid rate %q", input)
	}
	return num, den, nil
}
