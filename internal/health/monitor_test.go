package health

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	gateway "github.com/eugener/predictgw/internal"
	"github.com/eugener/predictgw/internal/telemetry"
	"github.com/eugener/predictgw/internal/testutil"
)

// scriptedProber answers from a fixed list of outcomes, repeating the last.
type scriptedProber struct {
	mu      sync.Mutex
	results []error
	calls   atomic.Int32
}

func (p *scriptedProber) Health(context.Context) (*gateway.HealthStatus, error) {
	n := int(p.calls.Add(1)) - 1
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.results) == 0 {
		return &gateway.HealthStatus{Status: gateway.StatusHealthy}, nil
	}
	err := p.results[min(n, len(p.results)-1)]
	if err != nil {
		return nil, err
	}
	return &gateway.HealthStatus{Status: gateway.StatusHealthy}, nil
}

var errDown = errors.New("connection refused")

func TestMonitor_InitialState(t *testing.T) {
	t.Parallel()

	m := New(&scriptedProber{}, Config{}, nil)
	s := m.State()
	if s.IsOnline || s.IsChecking {
		t.Errorf("initial state = %+v, want offline and idle", s)
	}
	if s.Backoff != 30*time.Second {
		t.Errorf("initial backoff = %v, want 30s", s.Backoff)
	}
	if !s.LastChecked.IsZero() {
		t.Error("last checked should be unset before the first probe")
	}
}

func TestMonitor_BackoffEscalatesAndResets(t *testing.T) {
	t.Parallel()

	p := &scriptedProber{results: []error{errDown, errDown, errDown, errDown, errDown, errDown, nil}}
	m := New(p, Config{}, nil)
	ctx := context.Background()

	want := []time.Duration{
		60 * time.Second,
		120 * time.Second,
		240 * time.Second,
		480 * time.Second,
		600 * time.Second,
		600 * time.Second,
	}
	for i, w := range want {
		got := m.Probe(ctx)
		if got != w {
			t.Fatalf("failure %d: backoff = %v, want %v", i+1, got, w)
		}
		s := m.State()
		if s.IsOnline || s.Error == "" {
			t.Fatalf("failure %d: state = %+v, want offline with error", i+1, s)
		}
	}

	if got := m.Probe(ctx); got != 30*time.Second {
		t.Errorf("after success backoff = %v, want 30s", got)
	}
	s := m.State()
	if !s.IsOnline || s.Error != "" || s.LastChecked.IsZero() {
		t.Errorf("after success state = %+v", s)
	}
}

func TestMonitor_UnhealthyStatusIsFailure(t *testing.T) {
	t.Parallel()

	fb := &testutil.FakeBackend{HealthFn: func(context.Context) (*gateway.HealthStatus, error) {
		return &gateway.HealthStatus{Status: "degraded", Error: "model not loaded"}, nil
	}}
	m := New(fb, Config{}, nil)
	m.Probe(context.Background())

	s := m.State()
	if s.IsOnline {
		t.Error("degraded backend should be offline")
	}
	if s.Error == "" {
		t.Error("error should describe the unhealthy status")
	}
}

func TestMonitor_ProbeTimeout(t *testing.T) {
	t.Parallel()

	fb := &testutil.FakeBackend{HealthFn: func(ctx context.Context) (*gateway.HealthStatus, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	m := New(fb, Config{Timeout: 10 * time.Millisecond}, nil)

	start := time.Now()
	m.Probe(context.Background())
	if time.Since(start) > time.Second {
		t.Error("probe did not honor its timeout")
	}
	if s := m.State(); s.IsOnline || s.Backoff != 60*time.Second {
		t.Errorf("state = %+v, want offline with 60s backoff", s)
	}
}

func TestMonitor_CancelledProbeKeepsState(t *testing.T) {
	t.Parallel()

	fb := &testutil.FakeBackend{HealthFn: func(ctx context.Context) (*gateway.HealthStatus, error) {
		return nil, context.Canceled
	}}
	m := New(fb, Config{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m.Probe(ctx)
	if s := m.State(); s.Backoff != 30*time.Second || !s.LastChecked.IsZero() || s.IsChecking {
		t.Errorf("state = %+v, want untouched", s)
	}
}

func TestMonitor_StartProbesImmediately(t *testing.T) {
	t.Parallel()

	p := &scriptedProber{}
	m := New(p, Config{}, nil)
	ticket := m.Start(context.Background())
	defer ticket.Stop()

	deadline := time.After(2 * time.Second)
	for p.calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("first probe did not fire")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	// The next probe is 30s away.
	time.Sleep(20 * time.Millisecond)
	if n := p.calls.Load(); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}

func TestMonitor_StartIsIdempotent(t *testing.T) {
	t.Parallel()

	p := &scriptedProber{}
	m := New(p, Config{}, nil)
	t1 := m.Start(context.Background())
	t2 := m.Start(context.Background())
	defer t1.Stop()

	if t1 != t2 {
		t.Error("second Start should return the running ticket")
	}
	time.Sleep(20 * time.Millisecond)
	if n := p.calls.Load(); n != 1 {
		t.Errorf("calls = %d, want 1 (one loop)", n)
	}
}

func TestMonitor_NoProbesAfterStop(t *testing.T) {
	t.Parallel()

	p := &scriptedProber{}
	m := New(p, Config{Interval: 2 * time.Millisecond, MaxInterval: 4 * time.Millisecond}, nil)
	ticket := m.Start(context.Background())

	deadline := time.After(2 * time.Second)
	for p.calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatal("loop did not keep probing")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	ticket.Stop()
	after := p.calls.Load()
	time.Sleep(30 * time.Millisecond)
	if n := p.calls.Load(); n != after {
		t.Errorf("probes after stop: %d -> %d", after, n)
	}
	ticket.Stop() // second stop is a no-op

	// A stopped monitor can be started again.
	t2 := m.Start(context.Background())
	if t2 == ticket {
		t.Error("restart should create a new ticket")
	}
	m.Stop()
}

func TestMonitor_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	m := New(&scriptedProber{}, Config{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestMonitor_Metrics(t *testing.T) {
	t.Parallel()

	metrics := telemetry.NewMetrics(prometheus.NewPedanticRegistry())
	p := &scriptedProber{results: []error{errDown, nil}}
	m := New(p, Config{}, metrics)

	m.Probe(context.Background())
	if got := promtest.ToFloat64(metrics.BackendOnline); got != 0 {
		t.Errorf("online gauge = %v, want 0", got)
	}
	if got := promtest.ToFloat64(metrics.HealthBackoff); got != 60 {
		t.Errorf("backoff gauge = %v, want 60", got)
	}

	m.Probe(context.Background())
	if got := promtest.ToFloat64(metrics.BackendOnline); got != 1 {
		t.Errorf("online gauge = %v, want 1", got)
	}
	if got := promtest.ToFloat64(metrics.HealthBackoff); got != 30 {
		t.Errorf("backoff gauge = %v, want 30", got)
	}
}
