package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "market.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaults_Validate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	ec := cfg.EngineSettings()
	assert.Equal(t, "100", ec.StartingBalance.String())
	assert.Equal(t, "5", ec.BankrollDivisor.String())
	assert.Equal(t, 3, ec.MaxRetries)
	assert.Equal(t, 30, ec.HistoryLimit)
	assert.False(t, cfg.PositionLimits().Enabled())
}

func TestLoad_FileAndEnv(t *testing.T) {
	t.Chdir(t.TempDir()) // keep a developer's .env out of the test
	path := writeFile(t, `
log_level = "debug"

[server]
addr = ":9090"
request_timeout = "10s"

[database]
driver = "sqlite"
path = "test.db"

[engine]
bankroll_divisor = 4
legacy_pricing = true

[jobs]
sample_interval = "15m"
`)
	t.Setenv("MARKET_SERVER_ADDR", ":7070")
	t.Setenv("MARKET_ENGINE_MAX_RETRIES", "5")
	t.Setenv("MARKET_JOBS_SETTLE_INTERVAL", "30s")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":7070", cfg.Server.Addr, "env wins over file")
	assert.Equal(t, 10*time.Second, cfg.Server.RequestTimeout.Duration)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 4, cfg.Engine.BankrollDivisor)
	assert.True(t, cfg.Engine.LegacyPricing)
	assert.Equal(t, 5, cfg.Engine.MaxRetries)
	assert.Equal(t, 15*time.Minute, cfg.Jobs.SampleInterval.Duration)
	assert.Equal(t, 30*time.Second, cfg.Jobs.SettleInterval.Duration)
	assert.Equal(t, 100.0, cfg.Engine.StartingBalance, "untouched keys keep defaults")
}

func TestLoad_NoFile(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Database.Driver)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("MARKET_LOG_LEVEL=warn\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("MARKET_LOG_LEVEL") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoad_UnknownKey(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load(writeFile(t, "[engine]\nbankrol_divisor = 4\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bankrol_divisor")
}

func TestLoad_BadDuration(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load(writeFile(t, "[jobs]\nsettle_interval = \"soon\"\n"))
	assert.Error(t, err)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"driver", func(c *Config) { c.Database.Driver = "mongo" }, "unknown driver"},
		{"postgres dsn", func(c *Config) { c.Database.Driver = "postgres" }, "dsn is required"},
		{"divisor", func(c *Config) { c.Engine.BankrollDivisor = 0 }, "bankroll_divisor"},
		{"liquidity", func(c *Config) { c.Engine.DefaultLiquidity = 0 }, "default_liquidity"},
		{"redis lock", func(c *Config) { c.Redis.Lock = true }, "redis: addr"},
		{"history", func(c *Config) { c.Engine.HistoryLimit = 0 }, "history_limit"},
		{"limits", func(c *Config) { c.Engine.MaxExposurePerOrg = -1 }, "position limits"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
