package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoad_TOMLAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
owner = "ops"

[server]
addr = ":9090"

[market]
fee_rate_bps = 250
settlement_delay = "30m"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("YIELD_MARKET_FEE_RATE_BPS", "300")
	t.Setenv("YIELD_DATABASE_URL", "postgres://env/db")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if cfg.Owner != "ops" || cfg.Server.Addr != ":9090" {
		t.Errorf("toml values not applied: %+v", cfg)
	}
	if cfg.Market.SettlementDelay.Duration != 30*time.Minute {
		t.Errorf("duration parsing: %v", cfg.Market.SettlementDelay)
	}
	// Env wins over TOML.
	if cfg.Market.FeeRateBps != 300 {
		t.Errorf("env override lost: %d", cfg.Market.FeeRateBps)
	}
	if cfg.Database.URL != "postgres://env/db" {
		t.Errorf("database url override lost: %s", cfg.Database.URL)
	}
	// Untouched fields keep defaults.
	if cfg.Market.MinStake != 1 {
		t.Errorf("default lost: %d", cfg.Market.MinStake)
	}
}

// Load itself only layers sources; a bad file must still be caught by the
// Validate call that boot performs right after it.
func TestLoad_ThenValidateCatchesBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
[market]
min_duration = "2h"
max_duration = "1h"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("inverted market durations must fail validation")
	}
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Server.Addr = "" }},
		{"empty owner", func(c *Config) { c.Owner = "" }},
		{"degenerate durations", func(c *Config) { c.Market.MaxDuration = c.Market.MinDuration }},
		{"fee over 100%", func(c *Config) { c.Market.FeeRateBps = 10000 }},
		{"inverted stakes", func(c *Config) { c.Market.MaxStake = 0 }},
		{"zero min delay", func(c *Config) { c.Random.MinDelay = 0 }},
		{"confidence over cap", func(c *Config) { c.Market.ConfidenceThresholdBps = 10001 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
