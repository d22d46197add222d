package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
)

func TestLoadReplayDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(path, []byte("log-level: debug\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadReplay(path, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BurnBps != 3000 || cfg.StakerBps != 5000 || cfg.OpsBps != 2000 {
		t.Fatalf("split defaults: %+v", cfg)
	}
	if cfg.BuybackBps != 10000 || cfg.TierDecimals != 6 || cfg.BatchSize != 500 || cfg.LogLevel != "debug" {
		t.Fatalf("defaults: %+v", cfg)
	}
}

func TestLoadReplayLayers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pudl.yaml")
	body := "authority: \"0x000000000000000000000000000000000000ad00\"\nburn-bps: 1000\nstaker-bps: 8000\nops-bps: 1000\nbond-amount: 500\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("PUDL_BUYBACK_BPS", "2500")

	flags := pflag.NewFlagSet("replay", pflag.ContinueOnError)
	flags.Uint64("bond-amount", 0, "")
	if err := flags.Parse([]string{"--bond-amount=900"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := LoadReplay(path, flags)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Authority != "0x000000000000000000000000000000000000ad00" || cfg.StakerBps != 8000 {
		t.Fatalf("file values: %+v", cfg)
	}
	if cfg.BuybackBps != 2500 {
		t.Fatalf("env override: %d", cfg.BuybackBps)
	}
	if cfg.BondAmount != 900 {
		t.Fatalf("flag override: %d", cfg.BondAmount)
	}
}

func TestParseRate(t *testing.T) {
	num, den, err := ParseRate("3/2")
	if err != nil || num != 3 || den != 2 {
		t.Fatalf("3/2: %d %d %v", num, den, err)
	}
	num, den, err = ParseRate("7")
	if err != nil || num != 7 || den != 1 {
		t.Fatalf("7: %d %d %v", num, den, err)
	}
	for _, bad := range []string{"", "1/0", "a/b", "-1/2", "2x"} {
		if _, _, err := ParseRate(bad); err == nil {
			t.Fatalf("%q: expected error", bad)
		}
	}
}

func TestParseDecimals(t *testing.T) {
	mint := "0x00000000000000000000000000000000000005a1"
	got, err := ParseDecimals(parseStringMap(mint + "=9, bad"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got[common.HexToAddress(mint)] != 9 || len(got) != 1 {
		t.Fatalf("decimals: %v", got)
	}
	if _, err := ParseDecimals(map[string]string{mint: "300"}); err == nil {
		t.Fatalf("expected range error")
	}
	if _, err := ParseDecimals(map[string]string{"nope": "6"}); err == nil {
		t.Fatalf("expected mint error")
	}
}

func TestParseTimestamp(t *testing.T) {
	if ts, err := ParseTimestamp("1700000000"); err != nil || ts != 1_700_000_000 {
		t.Fatalf("unix: %d %v", ts, err)
	}
	if ts, err := ParseTimestamp("2023-11-14T22:13:20Z"); err != nil || ts != 1_700_000_000 {
		t.Fatalf("rfc3339: %d %v", ts, err)
	}
	if ts, err := ParseTimestamp(""); err != nil || ts != 0 {
		t.Fatalf("empty: %d %v", ts, err)
	}
}
