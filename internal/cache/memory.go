package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/maypok86/otter/v2"
)

// entry wraps a cached value with its freshness window.
type entry struct {
	data     []byte
	storedAt time.Time
	ttl      time.Duration
}

func (e entry) fresh(now time.Time) bool {
	return now.Before(e.storedAt.Add(e.ttl))
}

// Memory is an in-memory W-TinyLFU cache backed by otter. Freshness is checked
// lazily on read; otter's own expiry only bounds how long stale entries linger.
// Safe for concurrent use.
type Memory struct {
	cache  *otter.Cache[string, entry]
	maxTTL time.Duration
	now    func() time.Time
}

// MemoryOption configures a Memory cache.
type MemoryOption func(*Memory)

// WithClock overrides the time source used for freshness checks.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// NewMemory creates an in-memory cache holding at most maxSize entries.
// Per-entry TTLs above maxTTL are clamped to it.
func NewMemory(maxSize int, maxTTL time.Duration, opts ...MemoryOption) (*Memory, error) {
	if maxTTL <= 0 {
		return nil, fmt.Errorf("create cache: max ttl must be positive, got %v", maxTTL)
	}
	c, err := otter.New[string, entry](&otter.Options[string, entry]{
		MaximumSize:      maxSize,
		ExpiryCalculator: otter.ExpiryWriting[string, entry](maxTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	m := &Memory{cache: c, maxTTL: maxTTL, now: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// Get retrieves a value from the cache if present and fresh.
// Stale entries are evicted on the way out.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	e, ok := m.cache.GetIfPresent(key)
	if !ok {
		return nil, false
	}
	if !e.fresh(m.now()) {
		m.cache.Invalidate(key)
		return nil, false
	}
	return e.data, true
}

// Set stores a value with per-entry TTL. Non-positive TTLs store nothing.
func (m *Memory) Set(_ context.Context, key string, val []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	m.cache.Set(key, entry{
		data:     val,
		storedAt: m.now(),
		ttl:      min(ttl, m.maxTTL),
	})
}

// Delete removes a value from the cache.
func (m *Memory) Delete(_ context.Context, key string) {
	m.cache.Invalidate(key)
}

// Purge removes all values from the cache.
func (m *Memory) Purge(_ context.Context) {
	m.cache.InvalidateAll()
}
