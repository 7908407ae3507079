package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path (skipped when path is
// empty), merges it on top of the built-in defaults, applies YIELD_*
// environment variable overrides, and returns the final Config. The
// returned Config has NOT been validated; the caller should invoke
// Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known YIELD_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Server.Addr, "YIELD_SERVER_ADDR")
	setStr(&cfg.Server.AdminToken, "YIELD_SERVER_ADMIN_TOKEN")

	setStr(&cfg.Database.URL, "YIELD_DATABASE_URL")
	setStr(&cfg.Database.URL, "DATABASE_URL") // compatibility alias
	setInt(&cfg.Database.PoolMaxConns, "YIELD_DATABASE_POOL_MAX_CONNS")

	setStr(&cfg.Redis.Addr, "YIELD_REDIS_ADDR")
	setStr(&cfg.Redis.Addr, "REDIS_ADDR") // compatibility alias
	setStr(&cfg.Redis.Password, "YIELD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "YIELD_REDIS_DB")
	setDuration(&cfg.Redis.CacheTTL, "YIELD_REDIS_CACHE_TTL")

	setDuration(&cfg.Market.MinDuration, "YIELD_MARKET_MIN_DURATION")
	setDuration(&cfg.Market.MaxDuration, "YIELD_MARKET_MAX_DURATION")
	setDuration(&cfg.Market.SettlementDelay, "YIELD_MARKET_SETTLEMENT_DELAY")
	setInt64(&cfg.Market.MinStake, "YIELD_MARKET_MIN_STAKE")
	setInt64(&cfg.Market.MaxStake, "YIELD_MARKET_MAX_STAKE")
	setInt64(&cfg.Market.FeeRateBps, "YIELD_MARKET_FEE_RATE_BPS")
	setInt64(&cfg.Market.ConfidenceThresholdBps, "YIELD_MARKET_CONFIDENCE_THRESHOLD_BPS")
	setBool(&cfg.Market.CreateRequiresOwner, "YIELD_MARKET_CREATE_REQUIRES_OWNER")

	setInt64(&cfg.Random.CommitFee, "YIELD_RANDOM_COMMIT_FEE")
	setUint64(&cfg.Random.MinDelay, "YIELD_RANDOM_MIN_DELAY")
	setUint64(&cfg.Random.MaxDelay, "YIELD_RANDOM_MAX_DELAY")
	setDuration(&cfg.Random.BlockInterval, "YIELD_RANDOM_BLOCK_INTERVAL")
	setStr(&cfg.Random.GenesisSeed, "YIELD_RANDOM_GENESIS_SEED")

	setInt(&cfg.Oracle.HistoryCap, "YIELD_ORACLE_HISTORY_CAP")

	setInt64(&cfg.Attest.RequestFee, "YIELD_ATTEST_REQUEST_FEE")
	setInt64(&cfg.Attest.ConsensusThresholdBps, "YIELD_ATTEST_CONSENSUS_THRESHOLD_BPS")
	setDuration(&cfg.Attest.MaxAttestedAge, "YIELD_ATTEST_MAX_ATTESTED_AGE")
	setDuration(&cfg.Attest.MaxNativeAge, "YIELD_ATTEST_MAX_NATIVE_AGE")

	setStr(&cfg.Owner, "YIELD_OWNER")
	setStr(&cfg.LogLevel, "YIELD_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
