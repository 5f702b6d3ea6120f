package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path (skipped when path is empty) on top of
// the built-in defaults, then applies MARKET_* environment overrides. A .env
// file in the working directory is loaded first if present. The returned
// Config has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config: unknown keys in %s: %v", path, undecoded)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides reads well-known MARKET_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Server ──
	setStr(&cfg.Server.Addr, "MARKET_SERVER_ADDR")
	setDuration(&cfg.Server.RequestTimeout, "MARKET_SERVER_REQUEST_TIMEOUT")
	setDuration(&cfg.Server.ShutdownTimeout, "MARKET_SERVER_SHUTDOWN_TIMEOUT")
	setFloat64(&cfg.Server.TradesPerSecond, "MARKET_SERVER_TRADES_PER_SECOND")
	setInt(&cfg.Server.TradeBurst, "MARKET_SERVER_TRADE_BURST")

	// ── Database ──
	setStr(&cfg.Database.Driver, "MARKET_DATABASE_DRIVER")
	setStr(&cfg.Database.DSN, "MARKET_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.Path, "MARKET_DATABASE_PATH")
	setInt(&cfg.Database.MaxConns, "MARKET_DATABASE_MAX_CONNS")
	setBool(&cfg.Database.RunMigrations, "MARKET_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "MARKET_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MARKET_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MARKET_REDIS_DB")
	setDuration(&cfg.Redis.CacheTTL, "MARKET_REDIS_CACHE_TTL")
	setBool(&cfg.Redis.Lock, "MARKET_REDIS_LOCK")
	setDuration(&cfg.Redis.LockTTL, "MARKET_REDIS_LOCK_TTL")
	setDuration(&cfg.Redis.LockWait, "MARKET_REDIS_LOCK_WAIT")

	// ── Engine ──
	setFloat64(&cfg.Engine.StartingBalance, "MARKET_ENGINE_STARTING_BALANCE")
	setInt(&cfg.Engine.BankrollDivisor, "MARKET_ENGINE_BANKROLL_DIVISOR")
	setFloat64(&cfg.Engine.DefaultLiquidity, "MARKET_ENGINE_DEFAULT_LIQUIDITY")
	setInt(&cfg.Engine.MaxRetries, "MARKET_ENGINE_MAX_RETRIES")
	setInt(&cfg.Engine.HistoryLimit, "MARKET_ENGINE_HISTORY_LIMIT")
	setBool(&cfg.Engine.LegacyPricing, "MARKET_ENGINE_LEGACY_PRICING")
	setFloat64(&cfg.Engine.MaxPositionPerMarket, "MARKET_ENGINE_MAX_POSITION_PER_MARKET")
	setFloat64(&cfg.Engine.MaxExposurePerOrg, "MARKET_ENGINE_MAX_EXPOSURE_PER_ORG")

	// ── Jobs ──
	setDuration(&cfg.Jobs.SettleInterval, "MARKET_JOBS_SETTLE_INTERVAL")
	setDuration(&cfg.Jobs.SampleInterval, "MARKET_JOBS_SAMPLE_INTERVAL")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "MARKET_LOG_LEVEL")
	setBool(&cfg.LogJSON, "MARKET_LOG_JSON")
}

// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and parses.

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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
