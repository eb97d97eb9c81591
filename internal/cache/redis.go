package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis is a Cache backed by a Redis server. Every instance writes under its
// own key prefix, so two gateways sharing a server never see each other's
// entries. Redis enforces the TTL; a miss and an expiry look the same.
type Redis struct {
	rdb    redis.Cmdable
	prefix string
	maxTTL time.Duration
}

// NewRedis connects to the server at url and verifies it with a PING.
// An empty prefix is replaced with a random per-instance one. TTLs above
// maxTTL are clamped to it; zero leaves them unbounded.
func NewRedis(ctx context.Context, url, prefix string, maxTTL time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisWithClient(rdb, prefix, maxTTL), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(rdb redis.Cmdable, prefix string, maxTTL time.Duration) *Redis {
	if prefix == "" {
		prefix = "predictgw:" + uuid.NewString()
	}
	return &Redis{rdb: rdb, prefix: prefix, maxTTL: maxTTL}
}

func (r *Redis) key(k string) string { return r.prefix + ":cache:" + k }

// Close releases the underlying client when it owns one.
func (r *Redis) Close() error {
	if c, ok := r.rdb.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Get retrieves a value. Server errors are logged and treated as a miss.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	v, err := r.rdb.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.LogAttrs(ctx, slog.LevelWarn, "redis cache get failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		return nil, false
	}
	return v, true
}

// Set stores a value with the given TTL, clamped to the max TTL.
// Non-positive TTLs store nothing.
func (r *Redis) Set(ctx context.Context, key string, val []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if r.maxTTL > 0 {
		ttl = min(ttl, r.maxTTL)
	}
	if err := r.rdb.Set(ctx, r.key(key), val, ttl).Err(); err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "redis cache set failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// Delete removes a value.
func (r *Redis) Delete(ctx context.Context, key string) {
	if err := r.rdb.Del(ctx, r.key(key)).Err(); err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "redis cache delete failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// Purge removes every key under this instance's prefix.
func (r *Redis) Purge(ctx context.Context) {
	iter := r.rdb.Scan(ctx, 0, r.prefix+":cache:*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "redis cache scan failed", slog.String("error", err.Error()))
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "redis cache purge failed", slog.String("error", err.Error()))
	}
}
