package server

import (
	"math"
	"net"
	"net/http"
	"strconv"

	gateway "github.com/eugener/predictgw/internal"
)

// rateLimit enforces the per-client RPM limit, keyed on the peer address.
// Forwarded headers are ignored since they are caller-controlled.
func (s *server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := s.deps.RateLimiter.Allow(clientKey(r))
		if res.Limit > 0 {
			w.Header()["X-Ratelimit-Limit"] = []string{strconv.FormatInt(res.Limit, 10)}
			w.Header()["X-Ratelimit-Remaining"] = []string{strconv.FormatInt(res.Remaining, 10)}
		}
		if !res.Allowed {
			w.Header()["Retry-After"] = []string{strconv.Itoa(int(math.Ceil(res.RetryAfterSeconds)))}
			noteKind(w, gateway.KindTransient)
			writeJSON(w, http.StatusTooManyRequests, errorResponse(gateway.KindTransient, "rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
