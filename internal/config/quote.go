package config

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// QuoteConfig holds configuration for the quote command. The deployment
// is rebuilt from an operation log with the same settings as replay.
type QuoteConfig struct {
	Replay    ReplayConfig
	Pool      string
	Amount    string
	Direction string
}

// LoadQuote merges config file, environment variables, and flags into QuoteConfig.
func LoadQuote(cfgFile string, flags *pflag.FlagSet) (QuoteConfig, error) {
	replay, err := LoadReplay(cfgFile, flags)
	if err != nil {
		return QuoteConfig{}, err
	}
	v, err := load(cfgFile, flags, func(v *viper.Viper) {
		v.SetDefault("direction", "base_to_quote")
	})
	if err != nil {
		return QuoteConfig{}, err
	}
	return QuoteConfig{
		Replay:    replay,
		Pool:      v.GetString("pool"),
		Amount:    v.GetString("amount"),
		Direction: v.GetString("direction"),
	}, nil
}
