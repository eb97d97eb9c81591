package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"testing"
)

// statusError implements httpStatusError for testing.
type statusError struct {
	code int
}

func (e *statusError) Error() string   { return fmt.Sprintf("HTTP %d", e.code) }
func (e *statusError) HTTPStatus() int { return e.code }

// timeoutError is a net.Error reporting a timeout.
type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestClassifyError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ""},
		{"400", &statusError{400}, KindValidation},
		{"404", &statusError{404}, KindValidation},
		{"408", &statusError{408}, KindTimeout},
		{"422", &statusError{422}, KindValidation},
		{"429", &statusError{429}, KindTransient},
		{"500", &statusError{500}, KindTransient},
		{"503", &statusError{503}, KindTransient},
		{"wrapped_502", fmt.Errorf("price: %w", &statusError{502}), KindTransient},
		{"validation", fmt.Errorf("%w: ram", ErrValidation), KindValidation},
		{"context_deadline", context.DeadlineExceeded, KindTimeout},
		{"os_deadline", os.ErrDeadlineExceeded, KindTimeout},
		{"net_timeout", timeoutError{}, KindTimeout},
		{"canceled", context.Canceled, KindUnknown},
		{"network_error", &net.OpError{Op: "dial", Err: errors.New("refused")}, KindTransient},
		{"circuit_open", ErrCircuitOpen, KindTransient},
		{"malformed_body", fmt.Errorf("price: %w: invalid JSON", ErrMalformedResponse), KindTransient},
		{"typed", &Error{Kind: KindExhausted, Attempt: 3, Err: errors.New("x")}, KindExhausted},
		{"generic", errors.New("something broke"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	if !IsRetryable(&statusError{503}) {
		t.Error("503 should be retryable")
	}
	if !IsRetryable(context.DeadlineExceeded) {
		t.Error("timeout should be retryable")
	}
	if IsRetryable(&statusError{400}) {
		t.Error("400 should not be retryable")
	}
	if IsRetryable(errors.New("boom")) {
		t.Error("unknown errors should not be retryable")
	}
}

func TestError_PreservesIdentity(t *testing.T) {
	t.Parallel()

	last := &statusError{503}
	err := error(&Error{Kind: KindExhausted, Attempt: 3, Err: last})

	var se *statusError
	if !errors.As(err, &se) || se != last {
		t.Fatal("errors.As should reach the last attempt's error")
	}
	if !strings.Contains(err.Error(), "3 attempts") {
		t.Errorf("message = %q, want attempt count", err.Error())
	}

	info := ToErrorInfo(err)
	if info.Kind != KindExhausted || info.Attempt != 3 || info.Message != "HTTP 503" {
		t.Errorf("info = %+v", info)
	}
}

func TestToErrorInfo_Untyped(t *testing.T) {
	t.Parallel()

	info := ToErrorInfo(fmt.Errorf("%w: bad", ErrValidation))
	if info.Kind != KindValidation {
		t.Errorf("kind = %q, want validation", info.Kind)
	}
	if info.Attempt != 0 {
		t.Errorf("attempt = %d, want 0", info.Attempt)
	}
}

func TestResponseEnvelope(t *testing.T) {
	t.Parallel()

	ok := OK(PricePrediction{Price: 999})
	if !ok.Success || ok.Data == nil || ok.Error != nil {
		t.Errorf("OK envelope = %+v", ok)
	}

	fail := Fail[PricePrediction](&statusError{500})
	if fail.Success || fail.Data != nil || fail.Error == nil {
		t.Errorf("Fail envelope = %+v", fail)
	}
	if fail.Error.Kind != KindTransient {
		t.Errorf("kind = %q, want transient", fail.Error.Kind)
	}
}

func TestDevicePayload_ValidateFor(t *testing.T) {
	t.Parallel()

	full := DevicePayload{RAM: 8, Battery: 4000, Screen: 6.1, Weight: 200, Year: 2023, Company: "Apple"}

	tests := []struct {
		name    string
		cap     string
		mutate  func(p *DevicePayload)
		wantErr bool
	}{
		{"price full", CapPrice, func(*DevicePayload) {}, false},
		{"price missing ram", CapPrice, func(p *DevicePayload) { p.RAM = 0 }, true},
		{"ram model ignores ram", CapRAM, func(p *DevicePayload) { p.RAM = 0 }, false},
		{"battery model ignores battery", CapBattery, func(p *DevicePayload) { p.Battery = 0 }, false},
		{"brand model ignores company", CapBrand, func(p *DevicePayload) { p.Company = "" }, false},
		{"year out of range", CapPrice, func(p *DevicePayload) { p.Year = 1990 }, true},
		{"negative storage", CapPrice, func(p *DevicePayload) { p.Storage = -1 }, true},
		{"blank company", CapPrice, func(p *DevicePayload) { p.Company = "  " }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := full
			tt.mutate(&p)
			err := p.ValidateFor(tt.cap)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrValidation) {
				t.Errorf("err = %v, want ErrValidation", err)
			}
		})
	}

	var nilPayload *DevicePayload
	if err := nilPayload.ValidateFor(CapPrice); !errors.Is(err, ErrValidation) {
		t.Errorf("nil payload err = %v", err)
	}
}

func TestSearchQuery_Validate(t *testing.T) {
	t.Parallel()

	if err := (&SearchQuery{Query: "pixel"}).Validate(); err != nil {
		t.Errorf("valid query: %v", err)
	}
	if err := (&SearchQuery{Query: " "}).Validate(); !errors.Is(err, ErrValidation) {
		t.Errorf("blank query err = %v", err)
	}
	if err := (&AdvancedPayload{
		DevicePayload: DevicePayload{RAM: 8, Battery: 4000, Screen: 6.1, Weight: 200, Company: "Apple"},
		Currency:      "EURO",
	}).Validate(); !errors.Is(err, ErrValidation) {
		t.Errorf("bad currency err = %v", err)
	}
}

func TestRequestIDContext(t *testing.T) {
	t.Parallel()

	ctx := ContextWithRequestID(context.Background(), "req-1")
	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Errorf("request id = %q", got)
	}
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Errorf("empty context request id = %q", got)
	}
}
