package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# smartstock configuration

[server]
# Listen address for the HTTP and WebSocket surface
addr = ":8000"
# Grace period for in-flight requests on shutdown
shutdown_timeout = "10s"

[market]
# Symbols tracked every cycle
symbols = ["AAPL", "TSLA", "NVDA", "MSFT"]
# Use synthetic prices even when a Finnhub token is available
mock_only = false
# Finnhub API token (or set FINNHUB_TOKEN / FINNHUB_API_KEY)
finnhub_token = ""
# Per-symbol quote timeout
request_timeout = "5s"
# Consecutive upstream failures before quotes are skipped
breaker_threshold = 5
# How long quotes are skipped before the upstream is retried
breaker_cooldown = "60s"

[cache]
# Snapshot cache backend: memory, redis, sqlite
backend = "memory"
key = "smartstock:latest_prices"
timeout = "2s"

[cache.redis]
# A URL (or REDIS_URL) takes precedence over host/port
url = ""
host = "localhost"
port = 6379
db = 0

[cache.sqlite]
# Defaults to cache.db in the config directory
# path = "/var/lib/smartstock/cache.db"

[loop]
# Time between distribution cycles
interval = "10s"
# A cached snapshot older than this is refetched
max_age = "20s"

[alerts]
# true: rules that fire every cycle (10s cooldown); false: production thresholds
demo_rules = true
# Number of recent alert events kept in memory
history_size = 50

# Extra rules registered at startup
# [[alerts.rules]]
# symbol = "MSFT"
# operator = ">="
# threshold = 450.0
# description = "MSFT at or above $450"
# cooldown = "5m"

[notifications]
timeout = "10s"

[notifications.webex]
# Or set WEBEX_BOT_TOKEN / WEBEX_ROOM_ID
bot_token = ""
room_id = ""

[notifications.webhook]
enabled = false
url = ""

[notifications.telegram]
enabled = false
bot_token = ""
chat_id = ""

[logging]
# debug, info, warn, error
level = "info"
# Also write rotated logs to file_path
file = false
# Defaults to logs/smartstock.log in the config directory
# file_path = "/var/log/smartstock/smartstock.log"
max_size_mb = 100
max_backups = 7
max_age_days = 30
`

// WriteTemplate writes a commented config file into configDir and returns its
// path. An existing file is only replaced when force is set.
func WriteTemplate(configDir string, force bool) (string, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, FileName+".toml")
	if _, err := os.Stat(path); err == nil && !force {
		return path, fmt.Errorf("config file already exists at %s", path)
	}

	// Tokens may end up in this file
	if err := os.WriteFile(path, []byte(configTemplate), 0600); err != nil {
		return "", fmt.Errorf("writing config template: %w", err)
	}

	return path, nil
}
