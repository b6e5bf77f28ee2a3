// Package cache provides the shared price snapshot cache.
//
// The cache holds at most one snapshot. A load is a hit only while the
// stored snapshot is no older than the caller's max age (inclusive).
// Backend failures are logged and absorbed: Store and Load never fail.
package cache

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"smartstock/internal/logging"
	"smartstock/internal/models"
)

// DefaultKey is the namespaced key under which shared backends keep the snapshot.
const DefaultKey = "smartstock:latest_prices"

// Backend names reported on the health surface.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// SnapshotCache stores the most recent price snapshot.
type SnapshotCache interface {
	// Store replaces the current entry and records the time of storage.
	Store(ctx context.Context, snapshot models.PriceSnapshot)
	// Load returns the current snapshot if it is at most maxAge old.
	Load(ctx context.Context, maxAge time.Duration) (models.PriceSnapshot, bool)
	// Backend names the backend actually in use.
	Backend() string
	// Close releases backend resources.
	Close() error
}

// Config selects and configures the cache backend.
type Config struct {
	Backend string
	Key     string
	Timeout time.Duration
	Redis   RedisConfig
	SQLite  SQLiteConfig
}

// RedisConfig holds Redis connection settings. URL takes precedence over Addr.
type RedisConfig struct {
	URL      string
	Addr     string
	Password string
	DB       int
}

// SQLiteConfig holds the path of the shared cache database file.
type SQLiteConfig struct {
	Path string
}

// Option configures a cache.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces the time source used for storage stamps and age checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New builds the configured backend. If a shared backend cannot be reached
// the failure is logged once and an in-process cache is returned instead.
func New(ctx context.Context, cfg Config, logger zerolog.Logger, opts ...Option) SnapshotCache {
	logger = logging.WithComponent(logger, "cache")
	if cfg.Key == "" {
		cfg.Key = DefaultKey
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}

	var (
		store blobStore
		err   error
	)
	switch cfg.Backend {
	case BackendRedis:
		store, err = newRedisStore(ctx, cfg.Redis, cfg.Key, cfg.Timeout)
	case BackendSQLite:
		store, err = newSQLiteStore(ctx, cfg.SQLite.Path, cfg.Key)
	case BackendMemory, "":
		logger.Info().Msg("Using in-memory snapshot cache")
		return NewMemory(opts...)
	default:
		logger.Warn().Str("backend", cfg.Backend).Msg("Unknown cache backend, using in-memory cache")
		return NewMemory(opts...)
	}

	if err != nil {
		logger.Warn().Err(err).Str("backend", cfg.Backend).Msg("Shared cache unavailable, falling back to in-memory cache")
		return NewMemory(opts...)
	}

	logger.Info().Str("backend", store.Name()).Msg("Using shared snapshot cache")
	return newShared(store, cfg.Timeout, logger, opts...)
}
