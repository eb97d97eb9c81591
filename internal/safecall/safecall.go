// Package safecall wraps a fallible backend operation with cache lookup,
// retries, observer callbacks, telemetry reporting and a static fallback.
package safecall

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/singleflight"

	gateway "github.com/eugener/predictgw/internal"
	"github.com/eugener/predictgw/internal/cache"
	"github.com/eugener/predictgw/internal/retry"
	"github.com/eugener/predictgw/internal/telemetry"
)

// DefaultTTL applies when a call enables caching without choosing a TTL.
const DefaultTTL = 5 * time.Minute

// Executor holds the collaborators shared by every call. It is safe for
// concurrent use.
type Executor struct {
	cache      cache.Cache
	reporter   gateway.Reporter
	metrics    *telemetry.Metrics
	defaultTTL time.Duration
	dedupe     bool
	group      singleflight.Group
}

// Option configures an Executor.
type Option func(*Executor)

// WithReporter sets the telemetry sink for terminal failures.
func WithReporter(r gateway.Reporter) Option {
	return func(e *Executor) { e.reporter = r }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithDefaultTTL overrides DefaultTTL.
func WithDefaultTTL(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.defaultTTL = d
		}
	}
}

// WithDedupe joins concurrent calls sharing a key onto one execution.
// Joined callers observe the leader's attempt count and outcome.
func WithDedupe(on bool) Option {
	return func(e *Executor) { e.dedupe = on }
}

// New creates an Executor. c may be nil, which disables caching.
func New(c cache.Cache, opts ...Option) *Executor {
	e := &Executor{cache: c, defaultTTL: DefaultTTL}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Call describes one invocation.
type Call[T any] struct {
	// Label names the operation in logs, reports and metrics (a capability name).
	Label string
	// Key identifies the request for caching and dedupe. Empty disables both.
	Key     string
	Options gateway.CallOptions[T]
	// ShouldRetry overrides gateway.IsRetryable for this call.
	ShouldRetry func(error) bool
}

// Do runs op under the call's options:
//  1. a fresh cache entry is returned without invoking op;
//  2. otherwise op runs through retry.Do when Options.Retry is set, else once;
//  3. success is cached and passed to OnSuccess;
//  4. failure is passed to OnError and reported, then answered with Fallback
//     when one is set, or returned as a *gateway.Error.
//
// Panics in op, the observers or the reporter never escape Do.
func Do[T any](ctx context.Context, e *Executor, call Call[T], op func(context.Context) (T, error)) (T, error) {
	opts := call.Options
	useCache := opts.UseCache && e.cache != nil && call.Key != ""

	if useCache {
		if v, ok := lookup[T](ctx, e, call); ok {
			return v, nil
		}
	}

	start := time.Now()
	v, err := execute(ctx, e, call, op)
	if e.metrics != nil {
		e.metrics.UpstreamDuration.WithLabelValues(call.Label).Observe(time.Since(start).Seconds())
	}

	if err == nil {
		if useCache {
			store(ctx, e, call, v)
		}
		if opts.OnSuccess != nil {
			observe(ctx, call.Label, "on_success", func() { opts.OnSuccess(v) })
		}
		return v, nil
	}

	return Reject(ctx, e, call, err)
}

// Reject answers a call that never reached its operation, such as one with
// an invalid payload. err takes the same failure path as an operation
// error: OnError, the reporter, then Fallback.
func Reject[T any](ctx context.Context, e *Executor, call Call[T], err error) (T, error) {
	var zero T
	opts := call.Options
	if opts.OnError != nil {
		observe(ctx, call.Label, "on_error", func() { opts.OnError(err) })
	}
	e.report(ctx, call.Label, err)

	if opts.Fallback != nil {
		if e.metrics != nil {
			e.metrics.FallbacksServed.WithLabelValues(call.Label).Inc()
		}
		return *opts.Fallback, nil
	}
	return zero, err
}

// execute runs op, joining an in-flight execution for the same key when
// dedupe is enabled. Shared results travel as JSON so joined callers never
// alias each other's maps or slices.
//
// The shared execution is detached from the caller that started it, so one
// caller giving up does not fail the others; each caller still stops
// waiting when its own context ends. The backend timeout bounds the
// detached attempts.
func execute[T any](ctx context.Context, e *Executor, call Call[T], op func(context.Context) (T, error)) (T, error) {
	if !e.dedupe || call.Key == "" {
		return attempt(ctx, e, call, op)
	}

	var zero T
	detached := context.WithoutCancel(ctx)
	ch := e.group.DoChan(call.Key, func() (any, error) {
		v, err := attempt(detached, e, call, op)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		err := ctx.Err()
		return zero, &gateway.Error{Kind: gateway.ClassifyError(err), Attempt: 1, Err: err}
	}
	if res.Err != nil {
		return zero, res.Err
	}
	if res.Shared {
		slog.LogAttrs(ctx, slog.LevelDebug, "joined in-flight call",
			slog.String("operation", call.Label),
		)
	}
	var v T
	if err := json.Unmarshal(res.Val.([]byte), &v); err != nil {
		return zero, &gateway.Error{Kind: gateway.KindUnknown, Attempt: 1, Err: err}
	}
	return v, nil
}

// attempt runs op once or through the retry executor.
func attempt[T any](ctx context.Context, e *Executor, call Call[T], op func(context.Context) (T, error)) (T, error) {
	guarded := recoverOp(call.Label, op)
	if call.Options.Retry == nil {
		return retry.Once(ctx, guarded)
	}
	cfg := retry.Config{
		Spec:        *call.Options.Retry,
		ShouldRetry: call.ShouldRetry,
	}
	if e.metrics != nil {
		cfg.OnRetry = func(int, error, time.Duration) {
			e.metrics.RetriesTotal.WithLabelValues(call.Label).Inc()
		}
	}
	return retry.Do(ctx, cfg, guarded)
}

// recoverOp converts a panic in op into an error. The error is not
// classified as retryable.
func recoverOp[T any](label string, op func(context.Context) (T, error)) func(context.Context) (T, error) {
	return func(ctx context.Context) (v T, err error) {
		defer func() {
			if r := recover(); r != nil {
				slog.LogAttrs(ctx, slog.LevelError, "operation panicked",
					slog.String("operation", label),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				err = fmt.Errorf("%s: panic: %v", label, r)
			}
		}()
		return op(ctx)
	}
}

func lookup[T any](ctx context.Context, e *Executor, call Call[T]) (T, bool) {
	var v T
	data, ok := e.cache.Get(ctx, call.Key)
	if !ok {
		if e.metrics != nil {
			e.metrics.CacheMisses.WithLabelValues(call.Label).Inc()
		}
		return v, false
	}
	if err := json.Unmarshal(data, &v); err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "dropping undecodable cache entry",
			slog.String("key", call.Key),
			slog.String("error", err.Error()),
		)
		e.cache.Delete(ctx, call.Key)
		if e.metrics != nil {
			e.metrics.CacheMisses.WithLabelValues(call.Label).Inc()
		}
		var zero T
		return zero, false
	}
	if e.metrics != nil {
		e.metrics.CacheHits.WithLabelValues(call.Label).Inc()
	}
	return v, true
}

func store[T any](ctx context.Context, e *Executor, call Call[T], v T) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "cache encode failed",
			slog.String("key", call.Key),
			slog.String("error", err.Error()),
		)
		return
	}
	ttl := call.Options.CacheTTL
	if ttl <= 0 {
		ttl = e.defaultTTL
	}
	e.cache.Set(ctx, call.Key, data, ttl)
}

// report forwards a terminal failure to the reporter, isolating the caller
// from reporter panics.
func (e *Executor) report(ctx context.Context, label string, err error) {
	info := gateway.ToErrorInfo(err)
	if e.metrics != nil {
		e.metrics.UpstreamErrors.WithLabelValues(label, string(info.Kind)).Inc()
	}
	if e.reporter == nil {
		return
	}
	observe(ctx, label, "reporter", func() {
		e.reporter.Report(ctx, slog.LevelError, "gateway call failed", map[string]any{
			"operation": label,
			"kind":      string(info.Kind),
			"attempt":   info.Attempt,
			"error":     info.Message,
		})
	})
}

// observe runs fn and logs, rather than propagates, a panic.
func observe(ctx context.Context, label, callback string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.LogAttrs(ctx, slog.LevelError, "callback panicked",
				slog.String("operation", label),
				slog.String("callback", callback),
				slog.Any("panic", r),
			)
		}
	}()
	fn()
}
