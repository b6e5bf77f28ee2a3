package cache

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	apperrors "smartstock/internal/errors"
	"smartstock/internal/models"
)

// errNotFound is returned by a blobStore that holds no value for the key.
var errNotFound = apperrors.ErrCacheMiss

// blobStore is a shared out-of-process key/value slot holding one encoded entry.
type blobStore interface {
	Name() string
	Get(ctx context.Context) ([]byte, error)
	Set(ctx context.Context, raw []byte) error
	Close() error
}

// Shared is a SnapshotCache backed by an out-of-process store so several
// processes converge on one upstream fetch. It always keeps an in-process
// copy and falls back to it whenever the shared store misbehaves.
type Shared struct {
	store   blobStore
	local   *Memory
	timeout time.Duration
	now     func() time.Time
	logger  zerolog.Logger
}

func newShared(store blobStore, timeout time.Duration, logger zerolog.Logger, opts ...Option) *Shared {
	o := buildOptions(opts)
	return &Shared{
		store:   store,
		local:   NewMemory(opts...),
		timeout: timeout,
		now:     o.now,
		logger:  logger.With().Str("backend", store.Name()).Logger(),
	}
}

// Store implements SnapshotCache.
func (s *Shared) Store(ctx context.Context, snapshot models.PriceSnapshot) {
	storedAt := s.now()
	s.local.put(snapshot, storedAt)

	raw, err := encodeEntry(snapshot, storedAt)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to encode snapshot, keeping in-memory copy only")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.store.Set(ctx, raw); err != nil {
		s.logger.Warn().
			Err(apperrors.NewCacheError(s.store.Name(), "set", err)).
			Msg("Failed to write shared cache, keeping in-memory copy only")
	}
}

// Load implements SnapshotCache.
func (s *Shared) Load(ctx context.Context, maxAge time.Duration) (models.PriceSnapshot, bool) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.store.Get(ctx)
	switch {
	case errors.Is(err, errNotFound):
		return s.local.Load(ctx, maxAge)
	case err != nil:
		s.logger.Warn().
			Err(apperrors.NewCacheError(s.store.Name(), "get", err)).
			Msg("Shared cache read failed, falling back to memory")
		return s.local.Load(ctx, maxAge)
	}

	snapshot, storedAt, err := decodeEntry(raw)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to parse cached data, ignoring cache")
		return models.PriceSnapshot{}, false
	}

	if !fresh(storedAt, s.now(), maxAge) {
		return models.PriceSnapshot{}, false
	}
	return snapshot, true
}

// Backend implements SnapshotCache.
func (s *Shared) Backend() string {
	return s.store.Name()
}

// Close implements SnapshotCache.
func (s *Shared) Close() error {
	return s.store.Close()
}
