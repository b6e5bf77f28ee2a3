// Package market provides price snapshots from an upstream quote API with a
// synthetic random-walk fallback.
package market

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"smartstock/internal/logging"
	"smartstock/internal/models"
	"smartstock/internal/resilience"
)

// DefaultSymbols are tracked when no symbols are configured.
var DefaultSymbols = []string{"AAPL", "TSLA", "NVDA", "MSFT"}

// Modes reported by Service.Mode.
const (
	ModeSynthetic = "synthetic"
	ModeLive      = "live"
)

// Provider produces a price snapshot for a set of symbols. It never fails:
// upstream errors are absorbed and replaced by synthetic prices.
type Provider interface {
	FetchSnapshot(ctx context.Context, symbols []string) models.PriceSnapshot
}

// Config holds market data configuration.
type Config struct {
	Symbols        []string
	MockOnly       bool
	FinnhubToken   string
	FinnhubURL     string
	RequestTimeout time.Duration
	Breaker        resilience.CircuitBreakerConfig
}

// Option configures a Service.
type Option func(*Service)

// WithRand replaces the random source of the synthetic generator.
func WithRand(r *rand.Rand) Option {
	return func(s *Service) {
		s.rng = r
	}
}

// WithClock replaces the time source used to stamp price points.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithQuoteSource replaces the upstream quote source.
func WithQuoteSource(src QuoteSource) Option {
	return func(s *Service) {
		s.quotes = src
	}
}

// Service fetches snapshots from the upstream quote source, falling back to a
// random walk per symbol on error. Change and percent change are computed
// against a per-symbol baseline that is moved on every fetch, so they
// describe the move since the previous cycle.
type Service struct {
	quotes  QuoteSource
	breaker *resilience.CircuitBreaker
	now     func() time.Time
	logger  zerolog.Logger

	mu       sync.Mutex
	rng      *rand.Rand
	baseline map[string]float64
}

// NewService builds a Service from config. Without a token, or in mock-only
// mode, every price is synthetic.
func NewService(cfg Config, logger zerolog.Logger, opts ...Option) *Service {
	symbols := cfg.Symbols
	if len(symbols) == 0 {
		symbols = DefaultSymbols
	}

	s := &Service{
		now:      time.Now,
		logger:   logging.WithComponent(logger, "market"),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		baseline: make(map[string]float64, len(symbols)),
	}
	for i, sym := range symbols {
		s.baseline[strings.ToUpper(sym)] = 100.0 + float64(i)*50
	}

	switch {
	case cfg.MockOnly:
		s.logger.Info().Msg("Mock-only mode, using synthetic prices")
	case cfg.FinnhubToken == "":
		s.logger.Warn().Msg("No Finnhub token configured, using synthetic prices")
	default:
		s.quotes = NewFinnhubClient(cfg.FinnhubURL, cfg.FinnhubToken, cfg.RequestTimeout)
		s.logger.Info().Msg("Live quotes enabled via Finnhub")
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.quotes != nil {
		s.breaker = resilience.NewCircuitBreakerWithClock(s.quotes.Name(), cfg.Breaker, s.now)
	}

	return s
}

// Mode reports whether prices come from the upstream source or are synthetic.
func (s *Service) Mode() string {
	if s.quotes == nil {
		return ModeSynthetic
	}
	return ModeLive
}

// BreakerStats returns the upstream circuit breaker statistics, if any.
func (s *Service) BreakerStats() (resilience.CircuitBreakerStats, bool) {
	if s.breaker == nil {
		return resilience.CircuitBreakerStats{}, false
	}
	return s.breaker.Stats(), true
}

// FetchSnapshot implements Provider. Symbols are fetched concurrently and
// returned in request order.
func (s *Service) FetchSnapshot(ctx context.Context, symbols []string) models.PriceSnapshot {
	now := s.now()
	points := make([]models.PricePoint, len(symbols))

	if s.quotes == nil {
		for i, sym := range symbols {
			points[i] = s.syntheticPoint(strings.ToUpper(sym), now)
		}
		return models.PriceSnapshot{Points: points, CreatedAt: now}
	}

	var wg conc.WaitGroup
	for i, sym := range symbols {
		i, sym := i, strings.ToUpper(sym)
		wg.Go(func() {
			points[i] = s.fetchPoint(ctx, sym, now)
		})
	}
	wg.Wait()

	return models.PriceSnapshot{Points: points, CreatedAt: now}
}

func (s *Service) fetchPoint(ctx context.Context, symbol string, now time.Time) models.PricePoint {
	var price float64
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		p, err := s.quotes.Quote(ctx, symbol)
		price = p
		return err
	})
	if err != nil {
		log := logging.WithSymbol(s.logger, symbol)
		if errors.Is(err, resilience.ErrCircuitOpen) {
			log.Debug().Msg("Quote source circuit open, using synthetic price")
		} else {
			log.Warn().Err(err).Msg("Quote failed, using synthetic price")
		}
		return s.syntheticPoint(symbol, now)
	}
	return s.livePoint(symbol, price, now)
}

// syntheticPoint moves the symbol's baseline by up to ±2 and floors at 1.0.
func (s *Service) syntheticPoint(symbol string, now time.Time) models.PricePoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.baseline[symbol]
	if !ok {
		prev = 100.0
	}
	delta := (s.rng.Float64() - 0.5) * 4.0
	price := prev + delta
	if price < 1.0 {
		price = 1.0
	}
	s.baseline[symbol] = price

	return newPoint(symbol, price, prev, now)
}

func (s *Service) livePoint(symbol string, price float64, now time.Time) models.PricePoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.baseline[symbol]
	if !ok {
		prev = price
	}
	s.baseline[symbol] = price

	return newPoint(symbol, price, prev, now)
}

func newPoint(symbol string, price, prev float64, now time.Time) models.PricePoint {
	change := price - prev
	var pct float64
	if prev != 0 {
		pct = change / prev * 100
	}
	return models.PricePoint{
		Symbol:        symbol,
		Price:         price,
		Change:        change,
		PercentChange: pct,
		Timestamp:     now,
	}
}
