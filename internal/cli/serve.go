package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"

	"smartstock/internal/api"
	"smartstock/internal/cache"
	"smartstock/internal/config"
	"smartstock/internal/logging"
	"smartstock/internal/market"
	"smartstock/internal/models"
	"smartstock/internal/monitor"
	"smartstock/internal/notify"
	"smartstock/internal/resilience"
	"smartstock/internal/stream"
)

func newServeCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the distribution loop and the HTTP/WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				app.Config.Server.Addr = addr
			}
			return runServe(cmd.Context(), app)
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	return cmd
}

// seedRules registers the configured startup rules.
func seedRules(engine *stream.AlertEngine, rules []config.RuleConfig) {
	for _, r := range rules {
		opts := []stream.RuleOption{stream.WithEnabled(r.IsEnabled())}
		if r.Cooldown > 0 {
			opts = append(opts, stream.WithCooldown(r.Cooldown))
		}
		engine.AddRule(r.Symbol, models.Operator(r.Operator), r.Threshold, r.Description, opts...)
	}
}

func runServe(ctx context.Context, app *App) error {
	cfg := app.Config
	logger := app.Logger

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	snapshots := cache.New(runCtx, cache.Config{
		Backend: cfg.Cache.Backend,
		Key:     cfg.Cache.Key,
		Timeout: cfg.Cache.Timeout,
		Redis: cache.RedisConfig{
			URL:      cfg.Cache.Redis.URL,
			Addr:     cfg.Cache.Redis.Addr(),
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		},
		SQLite: cache.SQLiteConfig{Path: cfg.Cache.SQLite.Path},
	}, logger)
	defer snapshots.Close()

	provider := market.NewService(market.Config{
		Symbols:        cfg.Market.Symbols,
		MockOnly:       cfg.Market.MockOnly,
		FinnhubToken:   cfg.Market.FinnhubToken,
		FinnhubURL:     cfg.Market.FinnhubURL,
		RequestTimeout: cfg.Market.RequestTimeout,
		Breaker: resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.Market.BreakerThreshold,
			Timeout:          cfg.Market.BreakerCooldown,
		},
	}, logger)

	engine := stream.NewAlertEngine(
		stream.WithHistorySize(cfg.Alerts.HistorySize),
		stream.WithEngineLogger(logging.WithComponent(logger, "alerts")),
	)
	seedRules(engine, cfg.SeedRules())
	logger.Info().Int("rules", engine.RuleCount()).Bool("demo", cfg.Alerts.DemoRules).Msg("Alert rules loaded")

	notifier := notify.New(&cfg.Notifications, logger)
	hub := stream.NewHub(logger)

	loop := monitor.NewLoop(monitor.Config{
		Interval: cfg.Loop.Interval,
		MaxAge:   cfg.Loop.MaxAge,
		Symbols:  cfg.Market.Symbols,
	}, snapshots, provider, engine, notifier, hub, logger)

	health := newHealthMonitor(cfg, loop, provider)

	server := api.NewServer(cfg.Server.Addr, api.Deps{
		Rules:        engine,
		Hub:          hub,
		CacheBackend: snapshots.Backend,
		Notifier:     notifier,
		WebexEnabled: cfg.WebexEnabled(),
		Status:       runtimeStatus(provider, loop, hub, health),
	}, logger)

	serverErr := make(chan error, 1)
	var wg conc.WaitGroup
	wg.Go(func() { loop.Run(runCtx) })
	wg.Go(func() { serverErr <- server.Start(runCtx) })

	var startErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutting down")
	case err := <-serverErr:
		// Start only returns early when the listener fails.
		if err != nil {
			startErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP server shutdown incomplete")
	}
	cancel()
	wg.Wait()

	if mn, ok := notifier.(*notify.MultiNotifier); ok {
		mn.Wait()
		stats := mn.Stats()
		logger.Info().
			Int64("delivered", stats.Delivered).
			Int64("failed", stats.Failed).
			Msg("Notifications drained")
	}

	return startErr
}

// newHealthMonitor registers the loop freshness and quote breaker checks.
// The loop counts as stale after missing three ticks.
func newHealthMonitor(cfg *config.Config, loop *monitor.Loop, provider *market.Service) *resilience.HealthMonitor {
	health := resilience.NewHealthMonitor(cfg.Cache.Timeout)
	health.RegisterComponent("loop", resilience.FreshnessCheck(func() time.Time {
		return loop.Stats().LastCycle
	}, 3*cfg.Loop.Interval))
	health.RegisterComponent("quote_source", resilience.BreakerCheck(provider.BreakerStats))
	return health
}

// runtimeStatus builds the extra /health fields.
func runtimeStatus(provider *market.Service, loop *monitor.Loop, hub *stream.Hub,
	health *resilience.HealthMonitor) func(ctx context.Context) map[string]interface{} {
	return func(ctx context.Context) map[string]interface{} {
		status := map[string]interface{}{
			"components":  health.Check(ctx),
			"market_mode": provider.Mode(),
			"loop":        loop.Stats(),
			"hub":         hub.Metrics(),
		}
		if stats, ok := provider.BreakerStats(); ok {
			status["quote_breaker"] = stats
		}
		return status
	}
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	if cfg.Server.ShutdownTimeout > 0 {
		return cfg.Server.ShutdownTimeout
	}
	return 10 * time.Second
}
