// Package circuitbreaker guards each backend capability with a breaker that
// trips on a weighted failure rate. Failures are weighted by their gateway
// error kind, so a slow backend trips it sooner than one returning 5xx, and
// caller mistakes (validation, cancellation) never count against the backend.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gateway "github.com/eugener/predictgw/internal"
)

// State is the position of a breaker in its closed → open → half-open cycle.
type State int

const (
	StateClosed   State = iota // calls flow, outcomes are tallied
	StateOpen                  // calls are refused until the cool-down ends
	StateHalfOpen              // one trial call decides whether to close
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// Config holds breaker parameters. They mirror the circuit_breaker config block.
type Config struct {
	ErrorThreshold float64       // weighted failure rate that trips the breaker
	MinSamples     int           // calls needed in the window before it may trip
	WindowSeconds  int           // length of the sliding window
	OpenTimeout    time.Duration // cool-down before a trial call is let through
}

// DefaultConfig matches the defaults in internal/config.
func DefaultConfig() Config {
	return Config{
		ErrorThreshold: 0.30,
		MinSamples:     10,
		WindowSeconds:  60,
		OpenTimeout:    30 * time.Second,
	}
}

// kindWeights is how much one failure of each kind adds to the window.
// Kinds missing here are neutral: the call is not counted at all.
var kindWeights = map[gateway.ErrorKind]float64{
	gateway.KindTimeout:   1.5, // holds a connection for the full timeout
	gateway.KindTransient: 1.0,
	gateway.KindUnknown:   1.0,
}

// Weigh reports the failure weight of a call outcome and whether the
// outcome counts at all. A nil error counts with weight zero. Validation
// failures and caller cancellation are not the backend's fault and do not
// count.
func Weigh(err error) (weight float64, counted bool) {
	if err == nil {
		return 0, true
	}
	if errors.Is(err, context.Canceled) {
		return 0, false
	}
	kind := gateway.ClassifyError(err)
	if kind == gateway.KindExhausted {
		// Judge a spent retry budget by the last attempt.
		var ge *gateway.Error
		if errors.As(err, &ge) && ge.Err != nil {
			return Weigh(ge.Err)
		}
		kind = gateway.KindTransient
	}
	w, ok := kindWeights[kind]
	return w, ok
}

// slot tallies the calls that finished during one wall-clock second.
type slot struct {
	sec      int64
	calls    int
	failures float64
}

// window is a ring of per-second slots. A slot whose second has left the
// window is ignored on read and recycled on write.
type window struct {
	slots []slot
}

func newWindow(seconds int) window {
	if seconds <= 0 {
		seconds = DefaultConfig().WindowSeconds
	}
	return window{slots: make([]slot, seconds)}
}

func (w *window) add(now time.Time, weight float64) {
	sec := now.Unix()
	s := &w.slots[int(sec%int64(len(w.slots)))]
	if s.sec != sec {
		*s = slot{sec: sec}
	}
	s.calls++
	s.failures += weight
}

func (w *window) rate(now time.Time) (rate float64, calls int) {
	oldest := now.Unix() - int64(len(w.slots)) + 1
	var failures float64
	for _, s := range w.slots {
		if s.sec >= oldest {
			calls += s.calls
			failures += s.failures
		}
	}
	if calls == 0 {
		return 0, 0
	}
	return failures / float64(calls), calls
}

func (w *window) reset() { clear(w.slots) }

// Breaker guards one capability. It is safe for concurrent use.
type Breaker struct {
	name string
	cfg  Config
	now  func() time.Time

	mu       sync.Mutex
	state    State
	win      window
	openedAt time.Time
	trial    bool // a half-open trial call is in flight
}

// NewBreaker creates a closed breaker. name labels its state changes in logs.
func NewBreaker(name string, cfg Config) *Breaker {
	return &Breaker{
		name: name,
		cfg:  cfg,
		now:  time.Now,
		win:  newWindow(cfg.WindowSeconds),
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow admits a call or refuses it with an error wrapping
// gateway.ErrCircuitOpen. Every admitted call must be followed by Record.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.OpenTimeout {
			return fmt.Errorf("%s: %w", b.name, gateway.ErrCircuitOpen)
		}
		b.transition(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if b.trial {
			return fmt.Errorf("%s: %w: trial in flight", b.name, gateway.ErrCircuitOpen)
		}
		b.trial = true
	}
	return nil
}

// Record feeds the outcome of an admitted call back into the breaker.
func (b *Breaker) Record(err error) {
	weight, counted := Weigh(err)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.trial = false
		switch {
		case !counted:
			// The trial told us nothing; the next call becomes the trial.
		case weight == 0:
			b.win.reset()
			b.transition(StateClosed)
		default:
			b.trip()
		}
		return
	}
	if !counted {
		return
	}

	now := b.now()
	b.win.add(now, weight)
	if b.state != StateClosed || weight == 0 {
		return
	}
	if rate, calls := b.win.rate(now); calls >= b.cfg.MinSamples && rate >= b.cfg.ErrorThreshold {
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.openedAt = b.now()
	b.transition(StateOpen)
}

func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	slog.Warn("circuit breaker state change",
		slog.String("capability", b.name),
		slog.String("from", b.state.String()),
		slog.String("to", to.String()),
	)
	b.state = to
}
