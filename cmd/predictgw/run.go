package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"

	"github.com/eugener/predictgw/internal/app"
	"github.com/eugener/predictgw/internal/cache"
	"github.com/eugener/predictgw/internal/circuitbreaker"
	"github.com/eugener/predictgw/internal/config"
	"github.com/eugener/predictgw/internal/health"
	"github.com/eugener/predictgw/internal/provider"
	"github.com/eugener/predictgw/internal/ratelimit"
	"github.com/eugener/predictgw/internal/safecall"
	"github.com/eugener/predictgw/internal/server"
	"github.com/eugener/predictgw/internal/storage/sqlite"
	"github.com/eugener/predictgw/internal/telemetry"
	"github.com/eugener/predictgw/internal/worker"
)

func run(configPath string) error {
	// Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	slog.Info("starting predictgw", "version", version, "addr", cfg.Server.Addr, "backend", cfg.Backend.BaseURL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Telemetry
	var metrics *telemetry.Metrics
	var metricsHandler http.Handler
	if cfg.Telemetry.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = telemetry.NewMetrics(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}
	if cfg.Telemetry.Tracing.Enabled {
		shutdown, err := telemetry.SetupTracing(ctx, cfg.Telemetry.Tracing.Endpoint, cfg.Telemetry.Tracing.SampleRate)
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				slog.Warn("tracing shutdown failed", "error", err)
			}
		}()
	}

	// Open database (optional)
	var store *sqlite.Store
	if cfg.Database.DSN != "" {
		store, err = sqlite.Open(ctx, cfg.Database.DSN)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	// Response cache
	respCache, closeCache, err := openCache(ctx, cfg.Cache)
	if err != nil {
		return err
	}
	defer closeCache()

	// Backend client
	var workers []worker.Worker
	var resolver *dnscache.Resolver
	if cfg.Backend.DNSCache {
		resolver = &dnscache.Resolver{}
		workers = append(workers, worker.NewDNSRefresher(resolver, 0))
	}
	var breakers *circuitbreaker.Registry
	if cfg.CircuitBreaker.Enabled {
		breakers = circuitbreaker.NewRegistry(circuitbreaker.Config{
			ErrorThreshold: cfg.CircuitBreaker.ErrorThreshold,
			MinSamples:     cfg.CircuitBreaker.MinSamples,
			WindowSeconds:  cfg.CircuitBreaker.WindowSeconds,
			OpenTimeout:    cfg.CircuitBreaker.OpenTimeout,
		})
	}
	backend := provider.New(provider.Config{
		BaseURL:       cfg.Backend.BaseURL,
		Endpoints:     cfg.Backend.Endpoints,
		Timeout:       cfg.Backend.Timeout,
		HealthTimeout: cfg.Backend.HealthTimeout,
	}, &http.Client{Transport: provider.NewTransport(resolver, cfg.Backend.ForceHTTP2)}, breakers)

	// Failure reporting: always logged, persisted when events are enabled.
	reporters := telemetry.MultiReporter{telemetry.NewLogReporter(slog.Default())}
	if store != nil && cfg.Telemetry.Events.Enabled {
		recorder := worker.NewEventRecorder(store, metrics)
		reporters = append(reporters, recorder)
		workers = append(workers, recorder)
	}

	// Wire services
	exec := safecall.New(respCache,
		safecall.WithReporter(reporters),
		safecall.WithMetrics(metrics),
		safecall.WithDefaultTTL(cfg.Cache.DefaultTTL),
		safecall.WithDedupe(cfg.Gateway.Dedupe),
	)
	var history *app.History
	if store != nil {
		history = app.NewHistory(store, cfg.Gateway.HistoryLimit)
	}
	gw := app.New(backend, exec, app.Options{
		History:            history,
		CompareParallelism: cfg.Gateway.CompareParallelism,
	})

	deps := server.Deps{
		Gateway:        gw,
		Retry:          cfg.Retry,
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
		Tracing:        cfg.Telemetry.Tracing.Enabled,
	}
	if cfg.Health.Enabled {
		monitor := health.New(backend, health.Config{
			Interval:    cfg.Health.Interval,
			MaxInterval: cfg.Health.MaxInterval,
			Timeout:     cfg.Health.Timeout,
		}, metrics)
		deps.Monitor = monitor
		workers = append(workers, monitor)
	}
	if breakers != nil {
		deps.Breakers = breakers
	}
	if cfg.RateLimit.RPM > 0 {
		limiter := ratelimit.NewRegistry(cfg.RateLimit.RPM)
		deps.RateLimiter = limiter
		workers = append(workers, limiter)
	}
	if store != nil {
		deps.History = history
		deps.Prefs = store
		deps.Events = store
		deps.ReadyCheck = store.Ping
	}

	// Background workers
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	var workerDone chan error // nil when there is nothing to run
	if len(workers) > 0 {
		workerDone = make(chan error, 1)
		go func() { workerDone <- worker.NewRunner(workers...).Run(workerCtx) }()
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.New(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("predictgw ready", "addr", cfg.Server.Addr)

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		runErr = err
	case err := <-workerDone:
		if err == nil {
			err = errors.New("exited before shutdown")
		}
		runErr = fmt.Errorf("worker: %w", err)
		workerDone = nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}

	// Stop workers after the server so in-flight reports are flushed.
	cancelWorkers()
	if workerDone != nil {
		if err := <-workerDone; err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("worker: %w", err))
		}
	}

	if runErr != nil {
		return runErr
	}
	slog.Info("predictgw stopped")
	return nil
}

// openCache builds the configured response cache. A disabled cache yields a
// nil Cache, which turns every cache request into a pass-through.
func openCache(ctx context.Context, cfg config.CacheConfig) (cache.Cache, func(), error) {
	noop := func() {}
	if !cfg.Enabled {
		return nil, noop, nil
	}
	switch cfg.Backend {
	case "redis":
		r, err := cache.NewRedis(ctx, cfg.Redis.URL, cfg.Redis.Prefix, cfg.MaxTTL)
		if err != nil {
			return nil, noop, err
		}
		return r, func() {
			if err := r.Close(); err != nil {
				slog.Warn("redis close failed", "error", err)
			}
		}, nil
	default:
		m, err := cache.NewMemory(cfg.MaxSize, cfg.MaxTTL)
		if err != nil {
			return nil, noop, err
		}
		return m, noop, nil
	}
}
