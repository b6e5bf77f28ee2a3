// Package cli provides the command-line interface for the smartstock service.
package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"smartstock/internal/config"
	"smartstock/internal/logging"
)

// Version information, overridden at build time via -ldflags.
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
)

// App holds the application dependencies.
type App struct {
	ConfigDir string
	Config    *config.Config
	Logger    zerolog.Logger
}

// skipConfig marks commands that must run without a valid configuration.
const skipConfig = "skip-config"

// NewRootCmd creates the root command for the CLI.
func NewRootCmd() *cobra.Command {
	app := &App{
		Logger: logging.NewLogger(),
	}

	rootCmd := &cobra.Command{
		Use:   "smartstock",
		Short: "Real-time stock price distribution with threshold alerts",
		Long: `smartstock polls market prices on a fixed interval, caches the latest
snapshot, evaluates alert rules against it and streams every snapshot to
WebSocket subscribers.

Use 'smartstock config init' to write a starter configuration.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			app.ConfigDir, _ = cmd.Flags().GetString("config")
			debug, _ := cmd.Flags().GetBool("debug")

			if cmd.Annotations[skipConfig] != "true" {
				cfg, err := config.Load(app.ConfigDir)
				if err != nil {
					return err
				}
				app.Config = cfg
				app.Logger = logging.NewLoggerWithConfig(logConfig(cfg.Logging))
			}

			if debug {
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/smartstock)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newServeCmd(app))
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))

	return rootCmd
}

func logConfig(c config.LoggingConfig) logging.LogConfig {
	lc := logging.DefaultLogConfig()
	lc.Level = c.Level
	lc.File = c.File
	if c.FilePath != "" {
		lc.FilePath = c.FilePath
	}
	if c.MaxSizeMB > 0 {
		lc.MaxSize = c.MaxSizeMB
	}
	if c.MaxBackups > 0 {
		lc.MaxBackups = c.MaxBackups
	}
	if c.MaxAgeDays > 0 {
		lc.MaxAge = c.MaxAgeDays
	}
	return lc
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("smartstock v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and manage application configuration.",
	}

	initCmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a commented configuration file",
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			force, _ := cmd.Flags().GetBool("force")

			path, err := config.WriteTemplate(app.ConfigDir, force)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]string{"path": path})
			}
			output.Success("Wrote %s", path)
			return nil
		},
	}
	initCmd.Flags().Bool("force", false, "overwrite an existing config file")
	cmd.AddCommand(initCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			cfg := redacted(app.Config)
			if output.IsJSON() {
				return output.JSON(cfg)
			}
			showConfig(output, cfg)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:         "path",
		Short:       "Show configuration directory path",
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			dir := app.ConfigDir
			if dir == "" {
				dir = config.DefaultConfigDir()
			}
			if output.IsJSON() {
				return output.JSON(map[string]string{"path": dir})
			}
			output.Println(dir)
			return nil
		},
	})

	return cmd
}

// redacted returns a copy of cfg with secrets masked.
func redacted(cfg *config.Config) *config.Config {
	c := *cfg
	c.Market.FinnhubToken = mask(c.Market.FinnhubToken)
	c.Cache.Redis.Password = mask(c.Cache.Redis.Password)
	c.Cache.Redis.URL = mask(c.Cache.Redis.URL)
	c.Notifications.Webex.BotToken = mask(c.Notifications.Webex.BotToken)
	c.Notifications.Telegram.BotToken = mask(c.Notifications.Telegram.BotToken)
	c.Alerts.Rules = cfg.SeedRules()
	return &c
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Server")
	output.Printf("  Address:         %s\n", cfg.Server.Addr)
	output.Println()

	output.Bold("Market Data")
	output.Printf("  Symbols:         %s\n", strings.Join(cfg.Market.Symbols, ", "))
	output.Printf("  Mock only:       %v\n", cfg.Market.MockOnly)
	output.Printf("  Finnhub token:   %s\n", orNone(cfg.Market.FinnhubToken))
	if cfg.Market.FinnhubToken == "" && !cfg.Market.MockOnly {
		output.Warning("  No Finnhub token: every price will be synthetic")
	}
	output.Println()

	output.Bold("Loop")
	output.Printf("  Interval:        %s\n", cfg.Loop.Interval)
	output.Printf("  Max cache age:   %s\n", cfg.Loop.MaxAge)
	output.Println()

	output.Bold("Cache")
	output.Printf("  Backend:         %s\n", cfg.Cache.Backend)
	output.Printf("  Key:             %s\n", cfg.Cache.Key)
	output.Println()

	output.Bold("Notifications")
	output.Printf("  Webex:           %v\n", cfg.WebexEnabled())
	if (cfg.Notifications.Webex.BotToken == "") != (cfg.Notifications.Webex.RoomID == "") {
		output.Warning("  Webex needs both bot_token and room_id; alerts will not be sent there")
	}
	output.Printf("  Webhook:         %v\n", cfg.Notifications.Webhook.Enabled)
	output.Printf("  Telegram:        %v\n", cfg.Notifications.Telegram.Enabled)
	output.Println()

	output.Bold("Seed Rules")
	table := NewTable(output, "SYMBOL", "OP", "THRESHOLD", "COOLDOWN", "ENABLED", "DESCRIPTION")
	for _, r := range cfg.Alerts.Rules {
		cooldown := "default"
		if r.Cooldown > 0 {
			cooldown = r.Cooldown.String()
		}
		table.AddRow(strings.ToUpper(r.Symbol), r.Operator,
			strconv.FormatFloat(r.Threshold, 'f', -1, 64), cooldown,
			fmt.Sprintf("%v", r.IsEnabled()), r.Description)
	}
	table.Render()
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
