// Package server implements the HTTP transport layer for the predictgw gateway.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	gateway "github.com/eugener/predictgw/internal"
	"github.com/eugener/predictgw/internal/app"
	"github.com/eugener/predictgw/internal/health"
	"github.com/eugener/predictgw/internal/ratelimit"
	"github.com/eugener/predictgw/internal/storage"
	"github.com/eugener/predictgw/internal/telemetry"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// HealthSource exposes the background monitor's latest snapshot.
type HealthSource interface {
	State() health.State
}

// BreakerStates lists circuit breaker states by capability.
type BreakerStates interface {
	States() map[string]string
}

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Gateway        *app.Gateway
	Retry          gateway.BackoffSpec // applied when a request sets retry=true
	Monitor        HealthSource        // nil = monitor disabled
	Breakers       BreakerStates       // nil = breakers disabled
	History        *app.History        // nil = no persistence
	Prefs          storage.KVStore     // nil = no persistence
	Events         storage.EventStore  // nil = no persistence
	RateLimiter    *ratelimit.Registry // nil = no rate limiting
	ReadyCheck     ReadyChecker        // nil = always ready (for tests)
	Metrics        *telemetry.Metrics  // nil = no HTTP metrics
	MetricsHandler http.Handler        // nil = no /metrics route
	Tracing        bool                // start a server span per request
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	// Panics are recovered inside instrument so they are logged and counted as 500s.
	r.Use(s.requestID)
	r.Use(s.instrument)
	r.Use(s.recovery)

	// System endpoints
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(s.rateLimit)
		}
		g := deps.Gateway
		r.Post("/predict/price", predictHandler(s, g.PredictPrice))
		r.Post("/predict/ram", predictHandler(s, g.PredictRAM))
		r.Post("/predict/battery", predictHandler(s, g.PredictBattery))
		r.Post("/predict/brand", predictHandler(s, g.PredictBrand))
		r.Post("/predict/advanced", predictHandler(s, g.AdvancedPredict))
		r.Post("/compare", s.handleCompare)
		r.Get("/search", s.handleSearch)
		r.Get("/backend/health", s.handleBackendHealth)

		r.Get("/status", s.handleStatus)
		r.Get("/history", s.handleListHistory)
		r.Delete("/history", s.handleClearHistory)
		r.Get("/events", s.handleListEvents)
		r.Get("/prefs/{key}", s.handleGetPref)
		r.Put("/prefs/{key}", s.handleSetPref)
		r.Delete("/prefs/{key}", s.handleDeletePref)
	})

	return r
}

type server struct {
	deps Deps
}
