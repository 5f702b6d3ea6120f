// Package config defines the market engine's configuration and provides
// validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/foresight/market-engine/internal/engine"
	"github.com/foresight/market-engine/internal/risk"
)

// Config is the root configuration structure. Fields are populated from an
// optional TOML file and then overridden by MARKET_* environment variables.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	Engine   EngineConfig   `toml:"engine"`
	Jobs     JobsConfig     `toml:"jobs"`
	LogLevel string         `toml:"log_level"`
	LogJSON  bool           `toml:"log_json"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr            string   `toml:"addr"`
	RequestTimeout  duration `toml:"request_timeout"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
	TradesPerSecond float64  `toml:"trades_per_second"` // per user, 0 disables
	TradeBurst      int      `toml:"trade_burst"`
}

// DatabaseConfig selects and configures the primary store.
type DatabaseConfig struct {
	Driver        string `toml:"driver"` // memory, sqlite or postgres
	DSN           string `toml:"dsn"`    // postgres connection string
	Path          string `toml:"path"`   // sqlite file
	MaxConns      int    `toml:"max_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig enables the read-through cache and the distributed market
// lock. An empty Addr disables both.
type RedisConfig struct {
	Addr     string   `toml:"addr"`
	Password string   `toml:"password"`
	DB       int      `toml:"db"`
	CacheTTL duration `toml:"cache_ttl"`
	Lock     bool     `toml:"lock"`
	LockTTL  duration `toml:"lock_ttl"`
	LockWait duration `toml:"lock_wait"`
}

// EngineConfig holds the trading rules.
type EngineConfig struct {
	StartingBalance  float64 `toml:"starting_balance"`
	BankrollDivisor  int     `toml:"bankroll_divisor"`
	DefaultLiquidity float64 `toml:"default_liquidity"`
	MaxRetries       int     `toml:"max_retries"`
	HistoryLimit     int     `toml:"history_limit"`
	LegacyPricing    bool    `toml:"legacy_pricing"`

	// Position caps in shares; 0 disables.
	MaxPositionPerMarket float64 `toml:"max_position_per_market"`
	MaxExposurePerOrg    float64 `toml:"max_exposure_per_org"`
}

// JobsConfig schedules the settlement and sampling passes. A zero interval
// disables that job.
type JobsConfig struct {
	SettleInterval duration `toml:"settle_interval"`
	SampleInterval duration `toml:"sample_interval"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config that runs a single in-memory instance.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			RequestTimeout:  duration{30 * time.Second},
			ShutdownTimeout: duration{5 * time.Second},
			TradesPerSecond: 5,
			TradeBurst:      10,
		},
		Database: DatabaseConfig{
			Driver:        "memory",
			Path:          "market.db",
			MaxConns:      10,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			CacheTTL: duration{30 * time.Second},
			LockTTL:  duration{10 * time.Second},
			LockWait: duration{2 * time.Second},
		},
		Engine: EngineConfig{
			StartingBalance:  100,
			BankrollDivisor:  5,
			DefaultLiquidity: 100,
			MaxRetries:       3,
			HistoryLimit:     30,
		},
		Jobs: JobsConfig{
			SettleInterval: duration{time.Minute},
			SampleInterval: duration{time.Hour},
		},
		LogLevel: "info",
		LogJSON:  true,
	}
}

var (
	validDrivers   = map[string]bool{"memory": true, "sqlite": true, "postgres": true}
	validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
)

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Server.Addr == "" {
		errs = append(errs, "server: addr must not be empty")
	}
	if c.Server.TradesPerSecond < 0 {
		errs = append(errs, "server: trades_per_second must be >= 0")
	}

	switch d := strings.ToLower(c.Database.Driver); {
	case !validDrivers[d]:
		errs = append(errs, fmt.Sprintf("database: unknown driver %q (valid: memory, sqlite, postgres)", c.Database.Driver))
	case d == "postgres" && strings.TrimSpace(c.Database.DSN) == "":
		errs = append(errs, "database: dsn is required for the postgres driver")
	case d == "sqlite" && c.Database.Path == "":
		errs = append(errs, "database: path is required for the sqlite driver")
	}
	if c.Database.MaxConns < 1 {
		errs = append(errs, "database: max_conns must be >= 1")
	}

	if c.Redis.Lock && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr is required when lock is enabled")
	}
	if c.Redis.Addr != "" && c.Redis.LockTTL.Duration <= 0 {
		errs = append(errs, "redis: lock_ttl must be positive")
	}

	if c.Engine.StartingBalance < 0 {
		errs = append(errs, "engine: starting_balance must be >= 0")
	}
	if c.Engine.BankrollDivisor < 1 {
		errs = append(errs, "engine: bankroll_divisor must be >= 1")
	}
	if c.Engine.DefaultLiquidity <= 0 {
		errs = append(errs, "engine: default_liquidity must be positive")
	}
	if c.Engine.MaxRetries < 0 {
		errs = append(errs, "engine: max_retries must be >= 0")
	}
	if c.Engine.MaxPositionPerMarket < 0 || c.Engine.MaxExposurePerOrg < 0 {
		errs = append(errs, "engine: position limits must be >= 0")
	}
	if c.Engine.HistoryLimit < 1 {
		errs = append(errs, "engine: history_limit must be >= 1")
	}

	if c.Jobs.SettleInterval.Duration < 0 || c.Jobs.SampleInterval.Duration < 0 {
		errs = append(errs, "jobs: intervals must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// EngineSettings converts the engine section into engine.Config.
func (c *Config) EngineSettings() engine.Config {
	return engine.Config{
		StartingBalance:  decimal.NewFromFloat(c.Engine.StartingBalance),
		BankrollDivisor:  decimal.NewFromInt(int64(c.Engine.BankrollDivisor)),
		DefaultLiquidity: decimal.NewFromFloat(c.Engine.DefaultLiquidity),
		MaxRetries:       c.Engine.MaxRetries,
		HistoryLimit:     c.Engine.HistoryLimit,
		LegacyPricing:    c.Engine.LegacyPricing,
	}
}

// PositionLimits builds the trade limiter from the engine section.
func (c *Config) PositionLimits() *risk.PositionLimiter {
	return risk.NewPositionLimiter(
		decimal.NewFromFloat(c.Engine.MaxPositionPerMarket),
		decimal.NewFromFloat(c.Engine.MaxExposurePerOrg),
	)
}
