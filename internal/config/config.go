// Package config defines the top-level configuration for the yield engine
// and provides validation helpers.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by YIELD_* environment variables.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	Market   MarketConfig   `toml:"market"`
	Random   RandomConfig   `toml:"random"`
	Oracle   OracleConfig   `toml:"oracle"`
	Attest   AttestConfig   `toml:"attest"`
	Owner    string         `toml:"owner"`
	LogLevel string         `toml:"log_level"`
}

// ServerConfig holds the HTTP listener parameters.
type ServerConfig struct {
	Addr            string   `toml:"addr"`
	AdminToken      string   `toml:"admin_token"` // required on admin routes
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection parameters. An empty URL
// selects the in-memory store.
type DatabaseConfig struct {
	URL          string `toml:"url"`
	PoolMaxConns int    `toml:"pool_max_conns"`
}

// RedisConfig holds Redis cache parameters. An empty Addr disables caching.
type RedisConfig struct {
	Addr     string   `toml:"addr"`
	Password string   `toml:"password"`
	DB       int      `toml:"db"`
	CacheTTL duration `toml:"cache_ttl"`
}

// MarketConfig holds the market engine parameters.
type MarketConfig struct {
	MinDuration            duration `toml:"min_duration"`
	MaxDuration            duration `toml:"max_duration"`
	SettlementDelay        duration `toml:"settlement_delay"`
	MinStake               int64    `toml:"min_stake"`
	MaxStake               int64    `toml:"max_stake"`
	FeeRateBps             int64    `toml:"fee_rate_bps"`
	ConfidenceThresholdBps int64    `toml:"confidence_threshold_bps"`
	CreateRequiresOwner    bool     `toml:"create_requires_owner"`
}

// RandomConfig holds the randomness engine parameters.
type RandomConfig struct {
	CommitFee     int64    `toml:"commit_fee"`
	MinDelay      uint64   `toml:"min_delay"`
	MaxDelay      uint64   `toml:"max_delay"`
	BlockInterval duration `toml:"block_interval"` // simulated entropy source
	GenesisSeed   string   `toml:"genesis_seed"`
}

// OracleConfig holds the yield oracle aggregator parameters.
type OracleConfig struct {
	HistoryCap int `toml:"history_cap"`
}

// AttestConfig holds the attestation verifier parameters.
type AttestConfig struct {
	RequestFee            int64    `toml:"request_fee"`
	ConsensusThresholdBps int64    `toml:"consensus_threshold_bps"`
	MaxAttestedAge        duration `toml:"max_attested_age"`
	MaxNativeAge          duration `toml:"max_native_age"`
}

// Defaults returns the built-in configuration: in-memory store, no cache,
// permissionless market creation.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: duration{10 * time.Second},
		},
		Database: DatabaseConfig{
			PoolMaxConns: 10,
		},
		Redis: RedisConfig{
			CacheTTL: duration{30 * time.Second},
		},
		Market: MarketConfig{
			MinDuration:            duration{10 * time.Minute},
			MaxDuration:            duration{90 * 24 * time.Hour},
			SettlementDelay:        duration{time.Hour},
			MinStake:               1,
			MaxStake:               1_000_000,
			FeeRateBps:             100,
			ConfidenceThresholdBps: 7000,
		},
		Random: RandomConfig{
			CommitFee:     1,
			MinDelay:      2,
			MaxDelay:      256,
			BlockInterval: duration{time.Second},
			GenesisSeed:   "yield-engine-genesis",
		},
		Oracle: OracleConfig{
			HistoryCap: 1000,
		},
		Attest: AttestConfig{
			RequestFee:            5,
			ConsensusThresholdBps: 7000,
			MaxAttestedAge:        duration{24 * time.Hour},
			MaxNativeAge:          duration{time.Hour},
		},
		Owner:    "admin",
		LogLevel: "info",
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config: server.addr must not be empty")
	}
	if c.Owner == "" {
		return fmt.Errorf("config: owner must not be empty")
	}
	if c.Market.MinDuration.Duration <= 0 || c.Market.MaxDuration.Duration <= c.Market.MinDuration.Duration {
		return fmt.Errorf("config: market duration bounds invalid")
	}
	if c.Market.MinStake <= 0 || c.Market.MaxStake < c.Market.MinStake {
		return fmt.Errorf("config: market stake bounds invalid")
	}
	if c.Market.FeeRateBps < 0 || c.Market.FeeRateBps >= 10000 {
		return fmt.Errorf("config: market.fee_rate_bps out of range")
	}
	if c.Market.ConfidenceThresholdBps < 0 || c.Market.ConfidenceThresholdBps > 10000 {
		return fmt.Errorf("config: market.confidence_threshold_bps out of range")
	}
	if c.Random.MinDelay == 0 || c.Random.MaxDelay <= c.Random.MinDelay {
		return fmt.Errorf("config: random delay window invalid")
	}
	if c.Oracle.HistoryCap <= 0 {
		return fmt.Errorf("config: oracle.history_cap must be positive")
	}
	if c.Attest.ConsensusThresholdBps < 0 || c.Attest.ConsensusThresholdBps > 10000 {
		return fmt.Errorf("config: attest.consensus_threshold_bps out of range")
	}
	return nil
}

// duration wraps time.Duration so values can be written as "90m" in TOML.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}
