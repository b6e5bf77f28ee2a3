// Package config provides configuration management for the smartstock service.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	apperrors "smartstock/internal/errors"
	"smartstock/internal/models"
)

// FileName is the config file name (without extension) looked up in the config dir.
const FileName = "smartstock"

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig       `mapstructure:"server"`
	Market        MarketConfig       `mapstructure:"market"`
	Cache         CacheConfig        `mapstructure:"cache"`
	Loop          LoopConfig         `mapstructure:"loop"`
	Alerts        AlertsConfig       `mapstructure:"alerts"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig holds the HTTP listener configuration.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// MarketConfig holds market data configuration.
type MarketConfig struct {
	Symbols          []string      `mapstructure:"symbols"`
	MockOnly         bool          `mapstructure:"mock_only"`
	FinnhubToken     string        `mapstructure:"finnhub_token"`
	FinnhubURL       string        `mapstructure:"finnhub_url"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	BreakerThreshold int           `mapstructure:"breaker_threshold"` // consecutive failures before skipping upstream
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown"`
}

// CacheConfig holds snapshot cache configuration.
type CacheConfig struct {
	Backend string        `mapstructure:"backend"` // memory, redis, sqlite
	Key     string        `mapstructure:"key"`
	Timeout time.Duration `mapstructure:"timeout"`
	Redis   RedisConfig   `mapstructure:"redis"`
	SQLite  SQLiteConfig  `mapstructure:"sqlite"`
}

// RedisConfig holds redis connection settings. URL wins over host/port.
type RedisConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	DB       int    `mapstructure:"db"`
	Password string `mapstructure:"password"`
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// SQLiteConfig holds the sqlite cache file location.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// LoopConfig holds distribution loop timing.
type LoopConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	MaxAge   time.Duration `mapstructure:"max_age"`
}

// AlertsConfig holds alert engine configuration and seed rules.
type AlertsConfig struct {
	DemoRules   bool         `mapstructure:"demo_rules"`
	HistorySize int          `mapstructure:"history_size"`
	Rules       []RuleConfig `mapstructure:"rules"`
}

// RuleConfig is a rule registered at startup.
type RuleConfig struct {
	Symbol      string        `mapstructure:"symbol"`
	Operator    string        `mapstructure:"operator"`
	Threshold   float64       `mapstructure:"threshold"`
	Description string        `mapstructure:"description"`
	Enabled     *bool         `mapstructure:"enabled"`
	Cooldown    time.Duration `mapstructure:"cooldown"`
}

// IsEnabled reports whether the rule starts enabled. Unset means enabled.
func (r RuleConfig) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// NotificationConfig holds notification configuration.
type NotificationConfig struct {
	Timeout  time.Duration  `mapstructure:"timeout"`
	Webex    WebexConfig    `mapstructure:"webex"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// WebexConfig holds Webex bot configuration. The channel is active when both
// the token and room are set.
type WebexConfig struct {
	BotToken string `mapstructure:"bot_token"`
	RoomID   string `mapstructure:"room_id"`
	URL      string `mapstructure:"url"`
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIURL   string `mapstructure:"api_url"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/smartstock"
	}
	return filepath.Join(home, ".config", "smartstock")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory. A missing config
// file is not an error: defaults and environment variables apply.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	if err := loadDotEnv(".env", filepath.Join(configDir, ".env")); err != nil {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := &Config{}
	if err := loadConfigFile(configDir, FileName, cfg); err != nil {
		return nil, fmt.Errorf("loading %s.toml: %w", FileName, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// loadDotEnv loads the given files if they exist. Variables already present
// in the environment are not overwritten.
func loadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

func loadConfigFile(configDir, name string, target *Config) error {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v, configDir)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
	}

	return v.Unmarshal(target)
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("market.symbols", []string{"AAPL", "TSLA", "NVDA", "MSFT"})
	v.SetDefault("market.mock_only", false)
	v.SetDefault("market.finnhub_url", "https://finnhub.io/api/v1")
	v.SetDefault("market.request_timeout", 5*time.Second)
	v.SetDefault("market.breaker_threshold", 5)
	v.SetDefault("market.breaker_cooldown", 60*time.Second)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.key", "smartstock:latest_prices")
	v.SetDefault("cache.timeout", 2*time.Second)
	v.SetDefault("cache.redis.host", "localhost")
	v.SetDefault("cache.redis.port", 6379)
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.sqlite.path", filepath.Join(configDir, "cache.db"))

	v.SetDefault("loop.interval", 10*time.Second)
	v.SetDefault("loop.max_age", 20*time.Second)

	v.SetDefault("alerts.demo_rules", true)
	v.SetDefault("alerts.history_size", 50)

	v.SetDefault("notifications.timeout", 10*time.Second)
	v.SetDefault("notifications.webex.url", "https://webexapis.com/v1/messages")
	v.SetDefault("notifications.telegram.api_url", "https://api.telegram.org")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", false)
	v.SetDefault("logging.file_path", filepath.Join(configDir, "logs", "smartstock.log"))
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 7)
	v.SetDefault("logging.max_age_days", 30)
}

func applyEnvOverrides(cfg *Config) {
	// Finnhub token: config value, then FINNHUB_TOKEN, then FINNHUB_API_KEY
	if cfg.Market.FinnhubToken == "" {
		if v := os.Getenv("FINNHUB_TOKEN"); v != "" {
			cfg.Market.FinnhubToken = v
		} else if v := os.Getenv("FINNHUB_API_KEY"); v != "" {
			cfg.Market.FinnhubToken = v
		}
	}

	// Redis connection; any of these selects the redis backend
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Redis.URL = v
		cfg.Cache.Backend = "redis"
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		cfg.Cache.Redis.Host = v
		cfg.Cache.Backend = "redis"
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Cache.Redis.Port = port
		}
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.Redis.DB = db
		}
	}

	// Webex
	if v := os.Getenv("WEBEX_BOT_TOKEN"); v != "" {
		cfg.Notifications.Webex.BotToken = v
	}
	if v := os.Getenv("WEBEX_ROOM_ID"); v != "" {
		cfg.Notifications.Webex.RoomID = v
	}

	// Listener
	if v := os.Getenv("SMARTSTOCK_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Loop.Interval <= 0 {
		return apperrors.NewValidationError("loop.interval", c.Loop.Interval, "must be positive")
	}
	if c.Loop.MaxAge <= 0 {
		return apperrors.NewValidationError("loop.max_age", c.Loop.MaxAge, "must be positive")
	}

	switch c.Cache.Backend {
	case "memory", "redis", "sqlite":
	default:
		return apperrors.NewValidationError("cache.backend", c.Cache.Backend, "must be 'memory', 'redis' or 'sqlite'")
	}

	if len(c.Market.Symbols) == 0 {
		return apperrors.NewValidationError("market.symbols", c.Market.Symbols, "at least one symbol is required")
	}

	if c.Alerts.HistorySize <= 0 {
		return apperrors.NewValidationError("alerts.history_size", c.Alerts.HistorySize, "must be positive")
	}

	for i, r := range c.Alerts.Rules {
		field := fmt.Sprintf("alerts.rules[%d]", i)
		if strings.TrimSpace(r.Symbol) == "" {
			return apperrors.NewValidationError(field+".symbol", r.Symbol, "must not be empty")
		}
		if !models.Operator(r.Operator).Valid() {
			return apperrors.NewValidationError(field+".operator", r.Operator, "must be one of >, <, >=, <=, ==")
		}
		if r.Cooldown < 0 {
			return apperrors.NewValidationError(field+".cooldown", r.Cooldown, "must not be negative")
		}
	}

	return nil
}

// SeedRules returns the rules registered at startup: the demo or production
// set followed by any rules listed in the config file.
func (c *Config) SeedRules() []RuleConfig {
	var rules []RuleConfig
	if c.Alerts.DemoRules {
		rules = append(rules, demoRules()...)
	} else {
		rules = append(rules, productionRules()...)
	}
	return append(rules, c.Alerts.Rules...)
}

// demoRules fire on every cycle, throttled by a short cooldown.
func demoRules() []RuleConfig {
	const cooldown = 10 * time.Second
	return []RuleConfig{
		{Symbol: "AAPL", Operator: ">", Threshold: 0, Description: "Demo: AAPL price above 0", Cooldown: cooldown},
		{Symbol: "TSLA", Operator: ">", Threshold: 0, Description: "Demo: TSLA price above 0", Cooldown: cooldown},
		{Symbol: "NVDA", Operator: ">", Threshold: 0, Description: "Demo: NVDA price above 0", Cooldown: cooldown},
	}
}

func productionRules() []RuleConfig {
	return []RuleConfig{
		{Symbol: "AAPL", Operator: ">", Threshold: 200, Description: "AAPL above $200", Cooldown: models.DefaultCooldown},
		{Symbol: "TSLA", Operator: "<", Threshold: 180, Description: "TSLA below $180", Cooldown: models.DefaultCooldown},
		{Symbol: "NVDA", Operator: ">", Threshold: 1000, Description: "NVDA above $1000", Cooldown: models.DefaultCooldown},
	}
}

// WebexEnabled reports whether Webex delivery is configured.
func (c *Config) WebexEnabled() bool {
	return c.Notifications.Webex.BotToken != "" && c.Notifications.Webex.RoomID != ""
}
