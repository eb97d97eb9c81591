package server

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/google/uuid"

	gateway "github.com/eugener/predictgw/internal"
)

// requestIDHeader is in canonical form so the header map can be indexed directly.
const requestIDHeader = "X-Request-Id"

// maxRequestID bounds a caller-supplied request ID before it is echoed and logged.
const maxRequestID = 128

// requestID tags the request with the caller's X-Request-Id, or a fresh
// UUID v7 when the caller sent none or an unusable one.
func (s *server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := ""
		if vals := r.Header[requestIDHeader]; len(vals) > 0 && validRequestID(vals[0]) {
			id = vals[0]
		} else {
			id = uuid.Must(uuid.NewV7()).String()
		}
		w.Header()[requestIDHeader] = []string{id}
		next.ServeHTTP(w, r.WithContext(gateway.ContextWithRequestID(r.Context(), id)))
	})
}

// validRequestID accepts short printable ASCII, keeping log lines and
// response headers clean.
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestID {
		return false
	}
	for i := range len(id) {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}

// recovery turns a handler panic into a 500 failure envelope. It sits
// inside instrument, so the 500 is still logged and counted.
func (s *server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			slog.LogAttrs(r.Context(), slog.LevelError, "handler panicked",
				slog.Any("panic", rec),
				slog.String("route", routePattern(r)),
				slog.String("request_id", gateway.RequestIDFromContext(r.Context())),
				slog.String("stack", string(debug.Stack())),
			)
			writeError(w, gateway.KindUnknown, "internal server error")
		}()
		next.ServeHTTP(w, r)
	})
}
