package server

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"

	gateway "github.com/eugener/predictgw/internal"
)

// responseRecorder captures what a handler sent: the first status code,
// the body size, and the gateway error kind when the reply was a failure
// envelope.
type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	kind   gateway.ErrorKind
	wrote  bool
}

func (rr *responseRecorder) WriteHeader(code int) {
	if !rr.wrote {
		rr.status = code
		rr.wrote = true
	}
	rr.ResponseWriter.WriteHeader(code)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	if !rr.wrote {
		rr.status = http.StatusOK
		rr.wrote = true
	}
	n, err := rr.ResponseWriter.Write(b)
	rr.bytes += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rr *responseRecorder) Unwrap() http.ResponseWriter { return rr.ResponseWriter }

// noteKind tags the in-flight request with the error kind it failed with.
func noteKind(w http.ResponseWriter, kind gateway.ErrorKind) {
	if rr, ok := w.(*responseRecorder); ok {
		rr.kind = kind
	}
}

// instrument observes every request once: an optional server span, the
// Prometheus request metrics and one access log line whose level follows
// the outcome (5xx error, 4xx warn).
func (s *server) instrument(next http.Handler) http.Handler {
	m := s.deps.Metrics
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		var span trace.Span
		if s.deps.Tracing {
			r, span = startServerSpan(w, r)
			defer span.End()
		}
		if m != nil {
			m.ActiveRequests.Inc()
			defer m.ActiveRequests.Dec()
		}

		rr := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rr, r)

		route := routePattern(r)
		elapsed := time.Since(start)
		if span != nil {
			finishServerSpan(span, r, route, rr)
		}
		if m != nil {
			m.RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rr.status)).Inc()
			m.RequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())
		}

		level := slog.LevelInfo
		switch {
		case rr.status >= http.StatusInternalServerError:
			level = slog.LevelError
		case rr.status >= http.StatusBadRequest:
			level = slog.LevelWarn
		}
		attrs := []slog.Attr{
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.Int("status", rr.status),
			slog.Int("bytes", rr.bytes),
			slog.Int64("duration_ms", elapsed.Milliseconds()),
			slog.String("request_id", gateway.RequestIDFromContext(r.Context())),
		}
		if rr.kind != "" {
			attrs = append(attrs, slog.String("error_kind", string(rr.kind)))
		}
		slog.LogAttrs(r.Context(), level, "request", attrs...)
	})
}

// routePattern returns the matched chi pattern, keeping metric and span
// names bounded. Unrouted requests fall back to the raw path.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
