package server

import (
	"log/slog"
	"net/http"
)

// checkBody is the liveness and readiness reply.
type checkBody struct {
	Status string `json:"status"`
}

// handleHealthz answers liveness: the process is up and routing.
func (s *server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, checkBody{Status: "ok"})
}

// handleReadyz answers readiness. Only local dependencies (the store) gate
// it; an offline backend is served through fallbacks and reported on
// /v1/status instead.
func (s *server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.ReadyCheck != nil {
		if err := s.deps.ReadyCheck(r.Context()); err != nil {
			slog.LogAttrs(r.Context(), slog.LevelWarn, "readiness check failed",
				slog.String("error", err.Error()),
			)
			writeJSON(w, http.StatusServiceUnavailable, checkBody{Status: "not_ready"})
			return
		}
	}
	writeJSON(w, http.StatusOK, checkBody{Status: "ready"})
}
