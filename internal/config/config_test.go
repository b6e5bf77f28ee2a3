package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "smartstock/internal/errors"
)

var envKeys = []string{
	"FINNHUB_TOKEN", "FINNHUB_API_KEY", "REDIS_URL", "REDIS_HOST", "REDIS_PORT",
	"REDIS_DB", "WEBEX_BOT_TOKEN", "WEBEX_ROOM_ID", "SMARTSTOCK_ADDR",
}

// clearEnv blanks every variable Load reads; empty values are ignored.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, dir, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName+".toml"), []byte(body), 0600))
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Equal(t, []string{"AAPL", "TSLA", "NVDA", "MSFT"}, cfg.Market.Symbols)
	assert.Equal(t, 10*time.Second, cfg.Loop.Interval)
	assert.Equal(t, 20*time.Second, cfg.Loop.MaxAge)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, "smartstock:latest_prices", cfg.Cache.Key)
	assert.Equal(t, filepath.Join(dir, "cache.db"), cfg.Cache.SQLite.Path)
	assert.Equal(t, 50, cfg.Alerts.HistorySize)
	assert.True(t, cfg.Alerts.DemoRules)
	assert.False(t, cfg.WebexEnabled())
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeConfig(t, dir, `
[market]
symbols = ["AAPL", "AMZN"]
mock_only = true

[cache]
backend = "sqlite"

[loop]
interval = "5s"
max_age = "15s"

[alerts]
demo_rules = false

[[alerts.rules]]
symbol = "amzn"
operator = ">="
threshold = 180.5
description = "AMZN breakout"
cooldown = "5m"
enabled = false
`)

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"AAPL", "AMZN"}, cfg.Market.Symbols)
	assert.True(t, cfg.Market.MockOnly)
	assert.Equal(t, "sqlite", cfg.Cache.Backend)
	assert.Equal(t, 5*time.Second, cfg.Loop.Interval)
	assert.Equal(t, 15*time.Second, cfg.Loop.MaxAge)

	rules := cfg.SeedRules()
	require.Len(t, rules, 4)
	assert.Equal(t, "AAPL", rules[0].Symbol)
	assert.Equal(t, 200.0, rules[0].Threshold)
	assert.Equal(t, "<", rules[1].Operator)

	custom := rules[3]
	assert.Equal(t, "amzn", custom.Symbol)
	assert.Equal(t, ">=", custom.Operator)
	assert.Equal(t, 180.5, custom.Threshold)
	assert.Equal(t, 5*time.Minute, custom.Cooldown)
	assert.False(t, custom.IsEnabled())
}

func TestDemoRules(t *testing.T) {
	cfg := &Config{Alerts: AlertsConfig{DemoRules: true}}
	rules := cfg.SeedRules()
	require.Len(t, rules, 3)
	for _, r := range rules {
		assert.Equal(t, ">", r.Operator)
		assert.Equal(t, 0.0, r.Threshold)
		assert.Equal(t, 10*time.Second, r.Cooldown)
		assert.True(t, r.IsEnabled())
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("FINNHUB_API_KEY", "from-api-key")
	t.Setenv("REDIS_HOST", "cache.internal")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("WEBEX_BOT_TOKEN", "bot")
	t.Setenv("WEBEX_ROOM_ID", "room")
	t.Setenv("SMARTSTOCK_ADDR", "127.0.0.1:9000")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "from-api-key", cfg.Market.FinnhubToken)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, "cache.internal:6380", cfg.Cache.Redis.Addr())
	assert.Equal(t, 2, cfg.Cache.Redis.DB)
	assert.True(t, cfg.WebexEnabled())
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
}

func TestFinnhubTokenPrecedence(t *testing.T) {
	clearEnv(t)
	t.Setenv("FINNHUB_TOKEN", "primary")
	t.Setenv("FINNHUB_API_KEY", "secondary")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "primary", cfg.Market.FinnhubToken)

	dir := t.TempDir()
	writeConfig(t, dir, "[market]\nfinnhub_token = \"from-file\"\n")
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Market.FinnhubToken)
}

func TestDotEnvInConfigDir(t *testing.T) {
	clearEnv(t)
	// t.Setenv restores the variable afterwards; unset it so godotenv can fill it.
	require.NoError(t, os.Unsetenv("WEBEX_ROOM_ID"))
	t.Cleanup(func() { os.Unsetenv("WEBEX_ROOM_ID") })

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("WEBEX_ROOM_ID=room-from-dotenv\n"), 0600))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "room-from-dotenv", cfg.Notifications.Webex.RoomID)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Market: MarketConfig{Symbols: []string{"AAPL"}},
			Cache:  CacheConfig{Backend: "memory"},
			Loop:   LoopConfig{Interval: time.Second, MaxAge: time.Second},
			Alerts: AlertsConfig{HistorySize: 50},
		}
	}
	require.NoError(t, valid().Validate())

	cases := map[string]func(c *Config){
		"interval":  func(c *Config) { c.Loop.Interval = 0 },
		"max_age":   func(c *Config) { c.Loop.MaxAge = -time.Second },
		"backend":   func(c *Config) { c.Cache.Backend = "memcached" },
		"symbols":   func(c *Config) { c.Market.Symbols = nil },
		"history":   func(c *Config) { c.Alerts.HistorySize = 0 },
		"operator":  func(c *Config) { c.Alerts.Rules = []RuleConfig{{Symbol: "AAPL", Operator: "!="}} },
		"no symbol": func(c *Config) { c.Alerts.Rules = []RuleConfig{{Operator: ">"}} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrConfigInvalid)
		})
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeConfig(t, dir, "[cache]\nbackend = \"memcached\"\n")

	_, err := Load(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConfigInvalid)
}

func TestWriteTemplateLoads(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	path, err := WriteTemplate(dir, false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "smartstock.toml"), path)

	_, err = WriteTemplate(dir, false)
	assert.Error(t, err)
	_, err = WriteTemplate(dir, true)
	assert.NoError(t, err)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Equal(t, filepath.Join(dir, "cache.db"), cfg.Cache.SQLite.Path)
}
