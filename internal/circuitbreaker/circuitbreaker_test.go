package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	gateway "github.com/eugener/predictgw/internal"
)

// statusError implements the HTTP status interface gateway.ClassifyError looks for.
type statusError struct{ code int }

func (e *statusError) Error() string   { return fmt.Sprintf("HTTP %d", e.code) }
func (e *statusError) HTTPStatus() int { return e.code }

var (
	errTimeout   = fmt.Errorf("price: %w", context.DeadlineExceeded)
	errBadGW     = fmt.Errorf("price: %w", &statusError{502})
	errRejected  = fmt.Errorf("price: %w", &statusError{422})
	errMalformed = fmt.Errorf("price: %w: invalid JSON", gateway.ErrMalformedResponse)
)

// clock is a settable time source.
type clock struct{ t time.Time }

func newClock() *clock { return &clock{t: time.Unix(1_700_000_000, 0)} }

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func testBreaker(c *clock) *Breaker {
	b := NewBreaker(gateway.CapPrice, Config{
		ErrorThreshold: 0.5,
		MinSamples:     4,
		WindowSeconds:  10,
		OpenTimeout:    30 * time.Second,
	})
	b.now = c.now
	return b
}

// admit runs one call through b with the given outcome.
func admit(t *testing.T, b *Breaker, outcome error) {
	t.Helper()
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow() = %v in state %v", err, b.State())
	}
	b.Record(outcome)
}

func TestWeigh(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		err         error
		wantWeight  float64
		wantCounted bool
	}{
		{"success", nil, 0, true},
		{"timeout", errTimeout, 1.5, true},
		{"bad_gateway", errBadGW, 1.0, true},
		{"rate_limited", &statusError{429}, 1.0, true},
		{"malformed_body", errMalformed, 1.0, true},
		{"unclassified", errors.New("boom"), 1.0, true},
		{"backend_rejected_input", errRejected, 0, false},
		{"invalid_payload", fmt.Errorf("%w: ram", gateway.ErrValidation), 0, false},
		{"caller_cancelled", fmt.Errorf("price: %w", context.Canceled), 0, false},
		{"exhausted_on_timeouts", &gateway.Error{Kind: gateway.KindExhausted, Attempt: 3, Err: errTimeout}, 1.5, true},
		{"exhausted_opaque", &gateway.Error{Kind: gateway.KindExhausted, Attempt: 3}, 1.0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w, counted := Weigh(tt.err)
			if w != tt.wantWeight || counted != tt.wantCounted {
				t.Errorf("Weigh(%v) = %v, %v; want %v, %v", tt.err, w, counted, tt.wantWeight, tt.wantCounted)
			}
		})
	}
}

func TestBreaker_TripsOnBackendFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		outcomes []error
		want     State
	}{
		{"all_5xx", []error{errBadGW, errBadGW, errBadGW, errBadGW}, StateOpen},
		{"half_5xx", []error{nil, errBadGW, nil, errBadGW}, StateOpen},
		{"one_5xx_in_four", []error{nil, nil, nil, errBadGW}, StateClosed},
		// 1.5 / 4 = 0.375 stays under; two timeouts (3.0 / 4) trip.
		{"one_timeout_in_four", []error{nil, nil, nil, errTimeout}, StateClosed},
		{"two_timeouts_in_four", []error{nil, errTimeout, nil, errTimeout}, StateOpen},
		{"below_min_samples", []error{errTimeout, errTimeout, errTimeout}, StateClosed},
		// Rejected input is not tallied, so the window never fills.
		{"validation_only", []error{errRejected, errRejected, errRejected, errRejected, errRejected}, StateClosed},
		{"validation_does_not_dilute", []error{errRejected, errBadGW, errRejected, errBadGW, errRejected, errBadGW, errBadGW}, StateOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b := testBreaker(newClock())
			for _, o := range tt.outcomes {
				admit(t, b, o)
				if b.State() == StateOpen {
					break
				}
			}
			if got := b.State(); got != tt.want {
				t.Errorf("state = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBreaker_OpenRefusesUntilCoolDown(t *testing.T) {
	t.Parallel()

	c := newClock()
	b := testBreaker(c)
	for range 4 {
		admit(t, b, errBadGW)
	}

	err := b.Allow()
	if !errors.Is(err, gateway.ErrCircuitOpen) {
		t.Fatalf("Allow() = %v, want ErrCircuitOpen", err)
	}
	if gateway.ClassifyError(err) != gateway.KindTransient {
		t.Errorf("refusal kind = %q, want transient", gateway.ClassifyError(err))
	}

	c.advance(29 * time.Second)
	if b.Allow() == nil {
		t.Fatal("admitted before cool-down")
	}
	c.advance(time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("trial refused: %v", err)
	}
	if b.State() != StateHalfOpen {
		t.Errorf("state = %v, want half_open", b.State())
	}
	if b.Allow() == nil {
		t.Error("second concurrent trial admitted")
	}
}

func TestBreaker_TrialOutcome(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		trial     error
		want      State
		nextAdmit bool
	}{
		{"success_closes", nil, StateClosed, true},
		{"timeout_reopens", errTimeout, StateOpen, false},
		{"5xx_reopens", errBadGW, StateOpen, false},
		{"cancel_keeps_half_open", context.Canceled, StateHalfOpen, true},
		{"validation_keeps_half_open", errRejected, StateHalfOpen, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := newClock()
			b := testBreaker(c)
			for range 4 {
				admit(t, b, errBadGW)
			}
			c.advance(30 * time.Second)
			admit(t, b, tt.trial)

			if got := b.State(); got != tt.want {
				t.Errorf("state = %v, want %v", got, tt.want)
			}
			if admitted := b.Allow() == nil; admitted != tt.nextAdmit {
				t.Errorf("next call admitted = %v, want %v", admitted, tt.nextAdmit)
			}
		})
	}
}

func TestBreaker_ClosingClearsHistory(t *testing.T) {
	t.Parallel()

	c := newClock()
	b := testBreaker(c)
	for range 4 {
		admit(t, b, errBadGW)
	}
	c.advance(30 * time.Second)
	admit(t, b, nil)

	// A fresh window needs MinSamples again before it can trip.
	for range 3 {
		admit(t, b, errBadGW)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_FailuresAgeOut(t *testing.T) {
	t.Parallel()

	c := newClock()
	b := testBreaker(c)
	for range 3 {
		admit(t, b, errBadGW)
	}
	c.advance(10 * time.Second) // window length
	admit(t, b, nil)
	admit(t, b, errBadGW)
	admit(t, b, nil)
	admit(t, b, nil)

	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed once old failures left the window", b.State())
	}
}

func TestBreaker_ConcurrentCalls(t *testing.T) {
	t.Parallel()

	b := NewBreaker(gateway.CapSearch, DefaultConfig())
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Go(func() {
			for range 100 {
				if b.Allow() != nil {
					continue
				}
				if i%2 == 0 {
					b.Record(nil)
				} else {
					b.Record(errRejected)
				}
			}
		})
	}
	wg.Wait()
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestRegistry_OneBreakerPerCapability(t *testing.T) {
	t.Parallel()

	r := NewRegistry(Config{ErrorThreshold: 0.5, MinSamples: 1, WindowSeconds: 60, OpenTimeout: time.Hour})
	if r.For(gateway.CapPrice) != r.For(gateway.CapPrice) {
		t.Error("For returned different breakers for one capability")
	}

	price := r.For(gateway.CapPrice)
	admit(t, price, errTimeout)
	admit(t, r.For(gateway.CapRAM), nil)

	if err := r.For(gateway.CapRAM).Allow(); err != nil {
		t.Errorf("ram refused after price tripped: %v", err)
	}
	states := r.States()
	if states[gateway.CapPrice] != "open" || states[gateway.CapRAM] != "closed" || len(states) != 2 {
		t.Errorf("states = %v", states)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	for s, want := range map[State]string{StateClosed: "closed", StateOpen: "open", StateHalfOpen: "half_open", State(9): "unknown"} {
		if got := s.String(); got != want {
			t.Errorf("State(%d) = %q, want %q", s, got, want)
		}
	}
}
