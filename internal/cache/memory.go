package cache

import (
	"context"
	"sync"
	"time"

	"smartstock/internal/models"
)

// entry is the single current cache value.
type entry struct {
	snapshot models.PriceSnapshot
	storedAt time.Time
}

// Memory is an in-process SnapshotCache.
type Memory struct {
	mu    sync.RWMutex
	entry *entry
	now   func() time.Time
}

// NewMemory creates an empty in-process cache.
func NewMemory(opts ...Option) *Memory {
	o := buildOptions(opts)
	return &Memory{now: o.now}
}

// Store implements SnapshotCache.
func (m *Memory) Store(_ context.Context, snapshot models.PriceSnapshot) {
	m.put(snapshot, m.now())
}

func (m *Memory) put(snapshot models.PriceSnapshot, storedAt time.Time) {
	e := &entry{
		snapshot: models.NewPriceSnapshot(snapshot.Points, snapshot.CreatedAt),
		storedAt: storedAt,
	}

	m.mu.Lock()
	m.entry = e
	m.mu.Unlock()
}

// Load implements SnapshotCache.
func (m *Memory) Load(_ context.Context, maxAge time.Duration) (models.PriceSnapshot, bool) {
	m.mu.RLock()
	e := m.entry
	m.mu.RUnlock()

	if e == nil || !fresh(e.storedAt, m.now(), maxAge) {
		return models.PriceSnapshot{}, false
	}
	return models.NewPriceSnapshot(e.snapshot.Points, e.snapshot.CreatedAt), true
}

// Backend implements SnapshotCache.
func (m *Memory) Backend() string {
	return BackendMemory
}

// Close implements SnapshotCache.
func (m *Memory) Close() error {
	return nil
}

// fresh reports whether an entry stored at storedAt is at most maxAge old at now.
func fresh(storedAt, now time.Time, maxAge time.Duration) bool {
	return now.Sub(storedAt) <= maxAge
}
