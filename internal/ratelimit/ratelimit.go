// Package ratelimit implements per-client request-per-minute limiting with
// lazy-refill token buckets, shielding the prediction backend from bursts.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Result is the outcome of a rate limit check.
type Result struct {
	Allowed           bool
	Limit             int64
	Remaining         int64
	RetryAfterSeconds float64
}

// Bucket is a token bucket with lazy refill (no background goroutine).
type Bucket struct {
	tokens   float64
	max      float64
	rate     float64 // tokens per second
	lastFill time.Time
}

func newBucket(limit int64, now time.Time) *Bucket {
	return &Bucket{
		tokens:   float64(limit),
		max:      float64(limit),
		rate:     float64(limit) / 60.0, // per-minute limit -> per-second rate
		lastFill: now,
	}
}

// refill adds tokens based on elapsed time since last refill.
func (b *Bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastFill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens = min(b.max, b.tokens+elapsed*b.rate)
	b.lastFill = now
}

// tryConsume attempts to consume n tokens. Returns remaining and whether allowed.
func (b *Bucket) tryConsume(n float64, now time.Time) (remaining int64, allowed bool) {
	b.refill(now)
	if b.tokens >= n {
		b.tokens -= n
		return int64(b.tokens), true
	}
	return 0, false
}

// retryAfter returns seconds until n tokens are available.
func (b *Bucket) retryAfter(n float64) float64 {
	if b.tokens >= n {
		return 0
	}
	return (n - b.tokens) / b.rate
}

// Limiter holds the RPM bucket for a single client.
type Limiter struct {
	mu       sync.Mutex
	rpm      *Bucket // nil if unlimited
	limit    int64
	lastUsed time.Time
}

func newLimiter(rpm int64, now time.Time) *Limiter {
	l := &Limiter{limit: rpm, lastUsed: now}
	if rpm > 0 {
		l.rpm = newBucket(rpm, now)
	}
	return l
}

// Allow consumes one request token.
func (l *Limiter) Allow() Result {
	return l.allowAt(time.Now())
}

func (l *Limiter) allowAt(now time.Time) Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastUsed = now

	if l.rpm == nil {
		return Result{Allowed: true}
	}
	remaining, ok := l.rpm.tryConsume(1, now)
	if ok {
		return Result{Allowed: true, Limit: l.limit, Remaining: remaining}
	}
	return Result{
		Allowed:           false,
		Limit:             l.limit,
		RetryAfterSeconds: l.rpm.retryAfter(1),
	}
}

// DefaultIdleTTL is how long an unused client limiter is kept.
const DefaultIdleTTL = 10 * time.Minute

// Registry manages per-client Limiters sharing one RPM limit.
type Registry struct {
	rpm     int64
	idleTTL time.Duration

	mu       sync.RWMutex
	limiters map[string]*Limiter
}

// NewRegistry creates a registry granting each client rpm requests per
// minute. rpm <= 0 means unlimited.
func NewRegistry(rpm int64) *Registry {
	return &Registry{
		rpm:      rpm,
		idleTTL:  DefaultIdleTTL,
		limiters: make(map[string]*Limiter),
	}
}

// Allow consumes one token for client.
func (r *Registry) Allow(client string) Result {
	if r.rpm <= 0 {
		return Result{Allowed: true}
	}
	return r.GetOrCreate(client).Allow()
}

// GetOrCreate returns the limiter for client, creating one if needed.
func (r *Registry) GetOrCreate(client string) *Limiter {
	r.mu.RLock()
	l, ok := r.limiters[client]
	r.mu.RUnlock()
	if ok {
		return l
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Double-check after acquiring write lock.
	if l, ok := r.limiters[client]; ok {
		return l
	}
	l = newLimiter(r.rpm, time.Now())
	r.limiters[client] = l
	return l
}

// EvictStale removes limiters not used since cutoff.
func (r *Registry) EvictStale(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for k, l := range r.limiters {
		l.mu.Lock()
		stale := l.lastUsed.Before(cutoff)
		l.mu.Unlock()
		if stale {
			delete(r.limiters, k)
			evicted++
		}
	}
	return evicted
}

// Name identifies the sweeper in logs.
func (r *Registry) Name() string { return "ratelimit_sweeper" }

// Run evicts idle client limiters until ctx is cancelled, keeping memory
// bounded by the number of recently active clients.
func (r *Registry) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.idleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			r.EvictStale(now.Add(-r.idleTTL))
		}
	}
}
