// Package health tracks backend availability with an adaptive probe schedule.
//
// A Monitor starts offline with the base interval. Each failed probe doubles
// the interval up to a cap; a successful probe resets it.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gateway "github.com/eugener/predictgw/internal"
	"github.com/eugener/predictgw/internal/backoff"
	"github.com/eugener/predictgw/internal/telemetry"
)

// Defaults for Config fields left zero.
const (
	DefaultInterval    = 30 * time.Second
	DefaultMaxInterval = 10 * time.Minute
	DefaultTimeout     = 3 * time.Second
)

// Config controls probe scheduling.
type Config struct {
	Interval    time.Duration // base delay, restored on success
	MaxInterval time.Duration // cap for the escalated delay
	Timeout     time.Duration // per-probe deadline
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.MaxInterval < c.Interval {
		c.MaxInterval = max(DefaultMaxInterval, c.Interval)
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Prober performs one health request.
type Prober interface {
	Health(ctx context.Context) (*gateway.HealthStatus, error)
}

// State is a snapshot of the monitor. Backoff is the delay before the next probe.
type State struct {
	IsOnline    bool          `json:"is_online"`
	IsChecking  bool          `json:"is_checking"`
	LastChecked time.Time     `json:"last_checked,omitzero"`
	Error       string        `json:"error,omitempty"`
	Backoff     time.Duration `json:"backoff"`
}

// Monitor owns the health state and the probe loop.
type Monitor struct {
	prober  Prober
	cfg     Config
	metrics *telemetry.Metrics
	now     func() time.Time

	mu     sync.Mutex
	state  State
	ticket *Ticket
}

// New creates a Monitor in the initial offline state. metrics may be nil.
func New(p Prober, cfg Config, metrics *telemetry.Metrics) *Monitor {
	cfg = cfg.withDefaults()
	return &Monitor{
		prober:  p,
		cfg:     cfg,
		metrics: metrics,
		now:     time.Now,
		state:   State{Backoff: cfg.Interval},
	}
}

// State returns a copy of the current state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Probe performs one health check, applies the transition and returns the
// delay before the next probe. A probe interrupted by ctx leaves the state
// unchanged apart from IsChecking.
func (m *Monitor) Probe(ctx context.Context) time.Duration {
	m.mu.Lock()
	m.state.IsChecking = true
	m.mu.Unlock()

	pctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	status, err := m.prober.Health(pctx)
	cancel()
	if err == nil && !status.Healthy() {
		err = unhealthy(status)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s := &m.state
	s.IsChecking = false
	if err != nil && ctx.Err() != nil {
		return s.Backoff
	}

	s.LastChecked = m.now()
	if err == nil {
		if !s.IsOnline {
			slog.LogAttrs(ctx, slog.LevelInfo, "backend online")
		}
		s.IsOnline = true
		s.Error = ""
		s.Backoff = m.cfg.Interval
	} else {
		s.Backoff = backoff.Escalate(s.Backoff, backoff.DefaultMultiplier, m.cfg.MaxInterval)
		if s.IsOnline || s.Error == "" {
			slog.LogAttrs(ctx, slog.LevelWarn, "backend offline",
				slog.String("error", err.Error()),
				slog.Duration("next_probe", s.Backoff),
			)
		}
		s.IsOnline = false
		s.Error = err.Error()
	}

	if m.metrics != nil {
		online := 0.0
		if s.IsOnline {
			online = 1
		}
		m.metrics.BackendOnline.Set(online)
		m.metrics.HealthBackoff.Set(s.Backoff.Seconds())
	}
	return s.Backoff
}

func unhealthy(status *gateway.HealthStatus) error {
	if status == nil {
		return fmt.Errorf("%w: empty health response", gateway.ErrUnhealthy)
	}
	if status.Error != "" {
		return fmt.Errorf("%w: %s: %s", gateway.ErrUnhealthy, status.Status, status.Error)
	}
	return fmt.Errorf("%w: status %q", gateway.ErrUnhealthy, status.Status)
}

// Ticket is the handle of a running probe loop.
type Ticket struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Stop cancels the pending probe and waits for the loop to exit.
// No probe starts after Stop returns. Safe to call more than once.
func (t *Ticket) Stop() {
	t.cancel()
	<-t.done
}

// Done is closed once the loop has exited.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Start launches the probe loop: the first probe fires immediately, each
// following one after the delay returned by the previous probe. Starting an
// already running monitor returns the existing ticket.
func (m *Monitor) Start(ctx context.Context) *Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t := m.ticket; t != nil {
		select {
		case <-t.done:
		default:
			return t
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	t := &Ticket{cancel: cancel, done: make(chan struct{})}
	m.ticket = t
	go m.loop(ctx, t.done)
	return t
}

// Stop stops the running loop, if any.
func (m *Monitor) Stop() {
	m.mu.Lock()
	t := m.ticket
	m.mu.Unlock()
	if t != nil {
		t.Stop()
	}
}

// Name returns the worker identifier.
func (m *Monitor) Name() string { return "health_monitor" }

// Run implements worker.Worker. It blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	<-m.Start(ctx).Done()
	return nil
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		next := m.Probe(ctx)
		if ctx.Err() != nil {
			return
		}
		timer := time.NewTimer(next)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
