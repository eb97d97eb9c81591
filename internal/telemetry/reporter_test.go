package telemetry

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	gateway "github.com/eugener/predictgw/internal"
)

// bufferHandler collects formatted records.
type bufferHandler struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (h *bufferHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *bufferHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf.WriteString(r.Level.String())
	h.buf.WriteByte(' ')
	h.buf.WriteString(r.Message)
	r.Attrs(func(a slog.Attr) bool {
		h.buf.WriteByte(' ')
		h.buf.WriteString(a.String())
		return true
	})
	h.buf.WriteByte('\n')
	return nil
}

func (h *bufferHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *bufferHandler) WithGroup(string) slog.Handler      { return h }

func (h *bufferHandler) String() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.buf.String()
}

func TestLogReporter(t *testing.T) {
	t.Parallel()

	h := &bufferHandler{}
	r := NewLogReporter(slog.New(h))

	ctx := gateway.ContextWithRequestID(context.Background(), "req-9")
	r.Report(ctx, slog.LevelWarn, "call failed", map[string]any{
		"operation": "price",
		"attempt":   3,
	})

	got := h.String()
	want := "WARN call failed request_id=req-9 attempt=3 operation=price\n"
	if got != want {
		t.Errorf("log = %q, want %q", got, want)
	}
}

func TestMultiReporter(t *testing.T) {
	t.Parallel()

	a, b := &bufferHandler{}, &bufferHandler{}
	m := MultiReporter{NewLogReporter(slog.New(a)), nil, NewLogReporter(slog.New(b))}
	m.Report(context.Background(), slog.LevelError, "boom", nil)

	if !strings.Contains(a.String(), "boom") || !strings.Contains(b.String(), "boom") {
		t.Errorf("fan-out missing: a=%q b=%q", a.String(), b.String())
	}
}
