// Package monitor runs the periodic distribution loop: acquire a price
// snapshot, evaluate alert rules, notify, and broadcast to subscribers.
package monitor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"smartstock/internal/cache"
	"smartstock/internal/logging"
	"smartstock/internal/market"
	"smartstock/internal/models"
	"smartstock/internal/notify"
)

// Evaluator fires alert events for a snapshot.
type Evaluator interface {
	Evaluate(snapshot models.PriceSnapshot) []models.AlertEvent
}

// Broadcaster fans a message out to subscribers and reports deliveries.
type Broadcaster interface {
	Broadcast(ctx context.Context, msg []byte) int
}

// Config holds loop timing and the tracked symbols.
type Config struct {
	Interval time.Duration
	MaxAge   time.Duration
	Symbols  []string
}

// DefaultConfig returns the default loop configuration.
func DefaultConfig() Config {
	return Config{
		Interval: 10 * time.Second,
		MaxAge:   20 * time.Second,
		Symbols:  market.DefaultSymbols,
	}
}

// CycleResult describes one completed cycle.
type CycleResult struct {
	CacheHit  bool
	Points    int
	Fired     []models.AlertEvent
	Delivered int
	Duration  time.Duration
}

// Stats holds loop counters.
type Stats struct {
	Cycles     uint64    `json:"cycles"`
	CacheHits  uint64    `json:"cache_hits"`
	Fetches    uint64    `json:"fetches"`
	AlertsSent uint64    `json:"alerts_fired"`
	LastCycle  time.Time `json:"last_cycle"`
}

// Loop is the single writer of the snapshot cache and alert engine state.
type Loop struct {
	config   Config
	cache    cache.SnapshotCache
	provider market.Provider
	engine   Evaluator
	notifier notify.Notifier
	hub      Broadcaster
	logger   zerolog.Logger
	now      func() time.Time

	mu    sync.RWMutex
	stats Stats
}

// NewLoop wires a loop. Zero config fields take their defaults.
func NewLoop(cfg Config, c cache.SnapshotCache, provider market.Provider, engine Evaluator,
	notifier notify.Notifier, hub Broadcaster, logger zerolog.Logger) *Loop {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = def.MaxAge
	}
	if len(cfg.Symbols) == 0 {
		cfg.Symbols = def.Symbols
	}
	if notifier == nil {
		notifier = notify.NewNoOpNotifier()
	}

	return &Loop{
		config:   cfg,
		cache:    c,
		provider: provider,
		engine:   engine,
		notifier: notifier,
		hub:      hub,
		logger:   logging.WithComponent(logger, "loop"),
		now:      time.Now,
	}
}

// Run performs one cycle immediately and then one per interval until ctx is
// cancelled. Subscribers joining between ticks wait for the next cycle.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.config.Interval)
	defer ticker.Stop()

	l.logger.Info().
		Dur("interval", l.config.Interval).
		Dur("max_age", l.config.MaxAge).
		Strs("symbols", l.config.Symbols).
		Msg("Distribution loop started")

	l.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			l.logger.Info().Msg("Distribution loop stopped")
			return
		case <-ticker.C:
			l.RunCycle(ctx)
		}
	}
}

// RunCycle acquires a snapshot, evaluates rules, hands fired events to the
// notifier and broadcasts the snapshot. It never fails.
func (l *Loop) RunCycle(ctx context.Context) CycleResult {
	start := l.now()

	snapshot, hit := l.acquire(ctx)

	fired := l.engine.Evaluate(snapshot)
	for _, event := range fired {
		logging.LogAlert(l.logger, event.RuleID, event.Symbol, event.Price, event.Message)
		l.notifier.Deliver(ctx, event)
	}

	delivered := 0
	msg, err := json.Marshal(models.NewPriceUpdateMessage(snapshot))
	if err != nil {
		l.logger.Error().Err(err).Msg("Encoding price update failed")
	} else {
		delivered = l.hub.Broadcast(ctx, msg)
	}

	result := CycleResult{
		CacheHit:  hit,
		Points:    snapshot.Len(),
		Fired:     fired,
		Delivered: delivered,
		Duration:  l.now().Sub(start),
	}
	l.record(result, start)
	logging.LogCycle(l.logger, hit, result.Points, len(fired), delivered, result.Duration)

	return result
}

// acquire returns the cached snapshot if fresh, otherwise fetches and stores a new one.
func (l *Loop) acquire(ctx context.Context) (models.PriceSnapshot, bool) {
	if snapshot, ok := l.cache.Load(ctx, l.config.MaxAge); ok {
		return snapshot, true
	}

	snapshot := l.provider.FetchSnapshot(ctx, l.config.Symbols)
	l.cache.Store(ctx, snapshot)
	return snapshot, false
}

func (l *Loop) record(r CycleResult, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stats.Cycles++
	if r.CacheHit {
		l.stats.CacheHits++
	} else {
		l.stats.Fetches++
	}
	l.stats.AlertsSent += uint64(len(r.Fired))
	l.stats.LastCycle = at
}

// Stats returns a copy of the loop counters.
func (l *Loop) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.stats
}
