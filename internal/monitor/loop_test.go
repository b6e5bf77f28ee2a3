package monitor

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartstock/internal/cache"
	"smartstock/internal/models"
	"smartstock/internal/stream"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type countingProvider struct {
	now     func() time.Time
	price   float64
	fetches atomic.Int64
}

func (p *countingProvider) FetchSnapshot(ctx context.Context, symbols []string) models.PriceSnapshot {
	p.fetches.Add(1)
	at := p.now()
	points := make([]models.PricePoint, len(symbols))
	for i, s := range symbols {
		points[i] = models.PricePoint{Symbol: s, Price: p.price, Timestamp: at}
	}
	return models.NewPriceSnapshot(points, at)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.AlertEvent
}

func (n *recordingNotifier) Deliver(ctx context.Context, e models.AlertEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *recordingNotifier) Enabled() bool { return true }

type captureSubscriber struct {
	id   string
	mu   sync.Mutex
	msgs [][]byte
}

func (s *captureSubscriber) ID() string { return s.id }

func (s *captureSubscriber) Send(ctx context.Context, msg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *captureSubscriber) last() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.msgs) == 0 {
		return nil
	}
	return s.msgs[len(s.msgs)-1]
}

type fixture struct {
	clock    *clock
	provider *countingProvider
	engine   *stream.AlertEngine
	notifier *recordingNotifier
	hub      *stream.Hub
	sub      *captureSubscriber
	loop     *Loop
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := newClock()
	f := &fixture{
		clock:    c,
		provider: &countingProvider{now: c.Now, price: 150},
		engine:   stream.NewAlertEngine(stream.WithClock(c.Now)),
		notifier: &recordingNotifier{},
		hub:      stream.NewHub(zerolog.Nop()),
		sub:      &captureSubscriber{id: "sub-1"},
	}
	f.hub.Register(f.sub)
	f.loop = NewLoop(Config{
		Interval: 10 * time.Second,
		MaxAge:   20 * time.Second,
		Symbols:  []string{"AAPL", "TSLA"},
	}, cache.NewMemory(cache.WithClock(c.Now)), f.provider, f.engine, f.notifier, f.hub, zerolog.Nop())
	return f
}

func TestRunCycleFetchesThenUsesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.loop.RunCycle(ctx)
	assert.False(t, first.CacheHit)
	assert.Equal(t, 2, first.Points)
	assert.Equal(t, 1, first.Delivered)

	f.clock.Advance(10 * time.Second)
	second := f.loop.RunCycle(ctx)
	assert.True(t, second.CacheHit)

	f.clock.Advance(11 * time.Second)
	third := f.loop.RunCycle(ctx)
	assert.False(t, third.CacheHit)

	assert.Equal(t, int64(2), f.provider.fetches.Load())
	stats := f.loop.Stats()
	assert.Equal(t, uint64(3), stats.Cycles)
	assert.Equal(t, uint64(1), stats.CacheHits)
	assert.Equal(t, uint64(2), stats.Fetches)
}

func TestRunCycleBroadcastsWireMessage(t *testing.T) {
	f := newFixture(t)
	f.loop.RunCycle(context.Background())

	var msg struct {
		Type string `json:"type"`
		Data []struct {
			Symbol        string  `json:"symbol"`
			Price         float64 `json:"price"`
			Change        float64 `json:"change"`
			PercentChange float64 `json:"percentChange"`
			TS            string  `json:"ts"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(f.sub.last(), &msg))
	assert.Equal(t, "price_update", msg.Type)
	require.Len(t, msg.Data, 2)
	assert.Equal(t, "AAPL", msg.Data[0].Symbol)
	assert.Equal(t, 150.0, msg.Data[0].Price)
	assert.Equal(t, "2024-03-01T14:30:00Z", msg.Data[0].TS)
}

func TestRunCycleNotifiesFiredAlerts(t *testing.T) {
	f := newFixture(t)
	f.engine.AddRule("AAPL", models.OpGreater, 0, "demo", stream.WithCooldown(10*time.Second))
	f.engine.AddRule("MSFT", models.OpGreater, 0, "not tracked")
	ctx := context.Background()

	r := f.loop.RunCycle(ctx)
	require.Len(t, r.Fired, 1)

	f.clock.Advance(5 * time.Second)
	assert.Empty(t, f.loop.RunCycle(ctx).Fired)

	f.clock.Advance(6 * time.Second)
	assert.Len(t, f.loop.RunCycle(ctx).Fired, 1)

	require.Len(t, f.notifier.events, 2)
	assert.Equal(t, "AAPL", f.notifier.events[0].Symbol)
	assert.Contains(t, f.notifier.events[0].Message, "AAPL > 0")
	assert.Equal(t, uint64(2), f.loop.Stats().AlertsSent)
}

func TestManySubscribersOneFetchPerInterval(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 25; i++ {
		f.hub.Register(&captureSubscriber{id: string(rune('a' + i))})
	}

	r := f.loop.RunCycle(context.Background())
	assert.Equal(t, 26, r.Delivered)
	assert.Equal(t, int64(1), f.provider.fetches.Load())
}

func TestRunStopsOnCancel(t *testing.T) {
	provider := &countingProvider{now: time.Now, price: 10}
	hub := stream.NewHub(zerolog.Nop())
	loop := NewLoop(Config{Interval: 20 * time.Millisecond, MaxAge: time.Nanosecond, Symbols: []string{"AAPL"}},
		cache.NewMemory(), provider, stream.NewAlertEngine(), nil, hub, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return loop.Stats().Cycles >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop after cancel")
	}
	assert.GreaterOrEqual(t, provider.fetches.Load(), int64(1))
}
