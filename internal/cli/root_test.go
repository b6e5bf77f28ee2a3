package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartstock/internal/config"
	"smartstock/internal/models"
	"smartstock/internal/stream"
)

func TestMaskNeverLeaksMiddle(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("masked secret keeps length and edges only", prop.ForAll(
		func(s string) bool {
			m := mask(s)
			switch {
			case s == "":
				return m == ""
			case len(s) <= 4:
				return m == "****"
			default:
				return len(m) == len(s) &&
					m[:2] == s[:2] &&
					m[len(m)-2:] == s[len(s)-2:] &&
					strings.Trim(m[2:len(m)-2], "*") == ""
			}
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestRedactedLeavesOriginalIntact(t *testing.T) {
	cfg := &config.Config{}
	cfg.Market.FinnhubToken = "abcdef123456"
	cfg.Notifications.Webex.BotToken = "bot-secret"
	cfg.Alerts.DemoRules = true

	r := redacted(cfg)

	assert.Equal(t, "ab********56", r.Market.FinnhubToken)
	assert.Equal(t, "bo******et", r.Notifications.Webex.BotToken)
	assert.Len(t, r.Alerts.Rules, 3)
	assert.Equal(t, "abcdef123456", cfg.Market.FinnhubToken)
	assert.Empty(t, cfg.Alerts.Rules)
}

func TestSeedRules(t *testing.T) {
	disabled := false
	engine := stream.NewAlertEngine()
	seedRules(engine, []config.RuleConfig{
		{Symbol: "aapl", Operator: ">", Threshold: 200, Description: "AAPL above 200"},
		{Symbol: "TSLA", Operator: "<", Threshold: 180, Cooldown: 5 * time.Minute, Enabled: &disabled},
	})

	rules := engine.ListRules()
	require.Len(t, rules, 2)

	assert.Equal(t, 1, rules[0].ID)
	assert.Equal(t, "AAPL", rules[0].Symbol)
	assert.Equal(t, models.DefaultCooldown, rules[0].Cooldown)
	assert.True(t, rules[0].Enabled)

	assert.Equal(t, 2, rules[1].ID)
	assert.Equal(t, models.Operator("<"), rules[1].Operator)
	assert.Equal(t, 5*time.Minute, rules[1].Cooldown)
	assert.False(t, rules[1].Enabled)
}

func TestVersionCommandJSON(t *testing.T) {
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version", "--json"})

	require.NoError(t, cmd.Execute())

	var got map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, Version, got["version"])
}

func TestConfigInitThenShow(t *testing.T) {
	for _, k := range []string{"FINNHUB_TOKEN", "FINNHUB_API_KEY", "REDIS_URL", "REDIS_HOST", "WEBEX_BOT_TOKEN", "WEBEX_ROOM_ID", "SMARTSTOCK_ADDR"} {
		t.Setenv(k, "")
	}
	dir := t.TempDir()

	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "init", "--config", dir, "--json"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), filepath.Join(dir, "smartstock.toml"))

	cmd = NewRootCmd()
	out.Reset()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "show", "--config", dir})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), ":8000")
	assert.Contains(t, out.String(), "AAPL")
	assert.Contains(t, out.String(), "No Finnhub token")
	assert.NotContains(t, out.String(), "Webex needs both")
}

func TestShowConfigWarnsOnHalfWebexSetup(t *testing.T) {
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)

	cfg := &config.Config{}
	cfg.Market.MockOnly = true
	cfg.Notifications.Webex.BotToken = "bot-secret"
	showConfig(NewOutput(cmd), cfg)

	assert.Contains(t, out.String(), "Webex needs both bot_token and room_id")
	assert.NotContains(t, out.String(), "No Finnhub token")
}
