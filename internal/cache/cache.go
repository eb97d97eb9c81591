// Package cache provides the TTL-bounded response store used by the gateway.
package cache

import (
	"context"
	"time"
)

// Cache is the interface for response caching. A stale entry behaves exactly
// like a missing one.
type Cache interface {
	// Get retrieves a fresh value by key.
	Get(ctx context.Context, key string) ([]byte, bool)
	// Set stores a value with the given TTL, overwriting any previous entry.
	Set(ctx context.Context, key string, val []byte, ttl time.Duration)
	// Delete removes a cached value.
	Delete(ctx context.Context, key string)
	// Purge removes all cached values.
	Purge(ctx context.Context)
}
