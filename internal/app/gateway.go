// Package app implements the gateway facade: one method per backend
// capability, each composing validation, caching, retries and fallbacks
// into a uniform gateway.Response.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	gateway "github.com/eugener/predictgw/internal"
	"github.com/eugener/predictgw/internal/safecall"
	"github.com/eugener/predictgw/internal/telemetry"
)

// DefaultCompareParallelism bounds concurrent branches of CompareModels.
const DefaultCompareParallelism = 4

// Gateway is the public call surface over a gateway.Backend.
// It is safe for concurrent use.
type Gateway struct {
	backend     gateway.Backend
	exec        *safecall.Executor
	history     *History
	parallelism int
	tracer      trace.Tracer
}

// Options configures a Gateway.
type Options struct {
	// History records successful price predictions. nil disables it.
	History *History
	// CompareParallelism bounds CompareModels fan-out. 0 means the default.
	CompareParallelism int
}

// New creates a Gateway. exec owns the cache; each Gateway should get its
// own executor unless sharing cached results is intended.
func New(backend gateway.Backend, exec *safecall.Executor, opts Options) *Gateway {
	p := opts.CompareParallelism
	if p <= 0 {
		p = DefaultCompareParallelism
	}
	return &Gateway{
		backend:     backend,
		exec:        exec,
		history:     opts.History,
		parallelism: p,
		tracer:      telemetry.Tracer("github.com/eugener/predictgw/internal/app"),
	}
}

// PredictPrice predicts a device price. Successful backend results are
// appended to the prediction history.
func (g *Gateway) PredictPrice(ctx context.Context, p *gateway.DevicePayload, opts gateway.CallOptions[gateway.PricePrediction]) gateway.Response[gateway.PricePrediction] {
	if g.history != nil && p != nil {
		payload := *p
		hctx := context.WithoutCancel(ctx)
		user := opts.OnSuccess
		opts.OnSuccess = func(res gateway.PricePrediction) {
			if err := g.history.Record(hctx, payload, res); err != nil {
				slog.LogAttrs(hctx, slog.LevelWarn, "history record failed",
					slog.String("error", err.Error()),
				)
			}
			if user != nil {
				user(res)
			}
		}
	}
	return invoke(ctx, g, gateway.CapPrice, p, validateDevice(p, gateway.CapPrice), opts, func(ctx context.Context) (*gateway.PricePrediction, error) {
		return g.backend.PredictPrice(ctx, p)
	})
}

// PredictRAM predicts a device's RAM.
func (g *Gateway) PredictRAM(ctx context.Context, p *gateway.DevicePayload, opts gateway.CallOptions[gateway.RAMPrediction]) gateway.Response[gateway.RAMPrediction] {
	return invoke(ctx, g, gateway.CapRAM, p, validateDevice(p, gateway.CapRAM), opts, func(ctx context.Context) (*gateway.RAMPrediction, error) {
		return g.backend.PredictRAM(ctx, p)
	})
}

// PredictBattery predicts a device's battery capacity.
func (g *Gateway) PredictBattery(ctx context.Context, p *gateway.DevicePayload, opts gateway.CallOptions[gateway.BatteryPrediction]) gateway.Response[gateway.BatteryPrediction] {
	return invoke(ctx, g, gateway.CapBattery, p, validateDevice(p, gateway.CapBattery), opts, func(ctx context.Context) (*gateway.BatteryPrediction, error) {
		return g.backend.PredictBattery(ctx, p)
	})
}

// PredictBrand classifies a device's brand.
func (g *Gateway) PredictBrand(ctx context.Context, p *gateway.DevicePayload, opts gateway.CallOptions[gateway.BrandPrediction]) gateway.Response[gateway.BrandPrediction] {
	return invoke(ctx, g, gateway.CapBrand, p, validateDevice(p, gateway.CapBrand), opts, func(ctx context.Context) (*gateway.BrandPrediction, error) {
		return g.backend.PredictBrand(ctx, p)
	})
}

// AdvancedPredict asks several models at once, in the requested currency.
func (g *Gateway) AdvancedPredict(ctx context.Context, p *gateway.AdvancedPayload, opts gateway.CallOptions[gateway.AdvancedPrediction]) gateway.Response[gateway.AdvancedPrediction] {
	var key any
	if p != nil {
		key = normalizeAdvanced(*p)
	}
	return invoke(ctx, g, gateway.CapAdvanced, key, p.Validate, opts, func(ctx context.Context) (*gateway.AdvancedPrediction, error) {
		return g.backend.AdvancedPredict(ctx, p)
	})
}

// Search queries the search index.
func (g *Gateway) Search(ctx context.Context, q *gateway.SearchQuery, opts gateway.CallOptions[[]gateway.SearchResult]) gateway.Response[[]gateway.SearchResult] {
	// The key is built from exactly the query the backend receives.
	if q != nil {
		norm := *q
		norm.Query = strings.TrimSpace(norm.Query)
		q = &norm
	}
	return invoke(ctx, g, gateway.CapSearch, q, q.Validate, opts, func(ctx context.Context) (*[]gateway.SearchResult, error) {
		res, err := g.backend.Search(ctx, q)
		if err != nil {
			return nil, err
		}
		return &res, nil
	})
}

// Health queries the backend health endpoint once. A reachable backend
// reporting a non-healthy status is a successful call.
func (g *Gateway) Health(ctx context.Context, opts gateway.CallOptions[gateway.HealthStatus]) gateway.Response[gateway.HealthStatus] {
	return invoke(ctx, g, gateway.CapHealth, nil, nil, opts, g.backend.Health)
}

// CompareModels predicts the price of p with every model in models,
// concurrently. Every requested model gets an entry: a failing or panicking
// branch yields a failed response for that model only. Duplicate and blank
// model ids are dropped. opts is shared by all branches, so its observers
// may run concurrently.
func (g *Gateway) CompareModels(ctx context.Context, p *gateway.DevicePayload, models []string, opts gateway.CallOptions[gateway.PricePrediction]) map[string]gateway.Response[gateway.PricePrediction] {
	ctx, span := g.tracer.Start(ctx, "gateway.compare",
		trace.WithAttributes(attribute.Int("models", len(models))),
	)
	defer span.End()

	ids := uniqueModels(models)
	out := make(map[string]gateway.Response[gateway.PricePrediction], len(ids))
	if len(ids) == 0 {
		return out
	}
	if p == nil {
		for _, id := range ids {
			out[id] = gateway.Fail[gateway.PricePrediction](validateDevice(nil, gateway.CapPrice)())
		}
		return out
	}

	var mu sync.Mutex
	var eg errgroup.Group
	eg.SetLimit(g.parallelism)
	for _, id := range ids {
		eg.Go(func() error {
			resp := g.compareOne(ctx, *p, id, opts)
			mu.Lock()
			out[id] = resp
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait() // branches never return errors

	failed := 0
	for _, r := range out {
		if !r.Success {
			failed++
		}
	}
	span.SetAttributes(attribute.Int("failed", failed))
	return out
}

func (g *Gateway) compareOne(ctx context.Context, payload gateway.DevicePayload, model string, opts gateway.CallOptions[gateway.PricePrediction]) (resp gateway.Response[gateway.PricePrediction]) {
	defer func() {
		if r := recover(); r != nil {
			slog.LogAttrs(ctx, slog.LevelError, "compare branch panicked",
				slog.String("model", model),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			resp = gateway.Fail[gateway.PricePrediction](&gateway.Error{
				Kind: gateway.KindUnknown,
				Err:  fmt.Errorf("compare %s: panic: %v", model, r),
			})
		}
	}()
	payload.Model = model
	return g.PredictPrice(ctx, &payload, opts)
}

// invoke is the composition shared by every capability: validate, then run
// op through the executor under a capability-scoped cache key.
func invoke[T any](ctx context.Context, g *Gateway, capability string, keyPayload any, validate func() error, opts gateway.CallOptions[T], op func(context.Context) (*T, error)) gateway.Response[T] {
	ctx, span := g.tracer.Start(ctx, "gateway."+capability,
		trace.WithAttributes(
			attribute.String("capability", capability),
			attribute.Bool("use_cache", opts.UseCache),
			attribute.Bool("retry", opts.Retry != nil),
		),
	)
	defer span.End()

	call := safecall.Call[T]{
		Label:   capability,
		Options: opts,
	}
	if validate != nil {
		if err := validate(); err != nil {
			// Invalid input never reaches the backend but is still observed.
			span.SetStatus(codes.Error, err.Error())
			v, err := safecall.Reject(ctx, g.exec, call, &gateway.Error{Kind: gateway.KindValidation, Err: err})
			if err != nil {
				return gateway.Fail[T](err)
			}
			return gateway.OK(v)
		}
	}

	call.Key = cacheKey(capability, keyPayload)
	v, err := safecall.Do(ctx, g.exec, call, func(ctx context.Context) (T, error) {
		var zero T
		res, err := op(ctx)
		if err != nil {
			return zero, err
		}
		if res == nil {
			return zero, fmt.Errorf("%s: %w: empty result", capability, gateway.ErrMalformedResponse)
		}
		return *res, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return gateway.Fail[T](err)
	}
	return gateway.OK(v)
}

func validateDevice(p *gateway.DevicePayload, capability string) func() error {
	return func() error { return p.ValidateFor(capability) }
}

func uniqueModels(models []string) []string {
	seen := make(map[string]struct{}, len(models))
	out := make([]string, 0, len(models))
	for _, m := range models {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}
