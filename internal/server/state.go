package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	gateway "github.com/eugener/predictgw/internal"
	"github.com/eugener/predictgw/internal/app"
	"github.com/eugener/predictgw/internal/health"
)

// prefKeyPrefix namespaces preferences away from other KV users (history).
const prefKeyPrefix = "pref:"

// maxPrefKey bounds preference key length.
const maxPrefKey = 128

type statusResponse struct {
	Backend  *health.State     `json:"backend,omitempty"` // nil when the monitor is disabled
	Breakers map[string]string `json:"breakers,omitempty"`
}

func (s *server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var resp statusResponse
	if s.deps.Monitor != nil {
		st := s.deps.Monitor.State()
		resp.Backend = &st
	}
	if s.deps.Breakers != nil {
		resp.Breakers = s.deps.Breakers.States()
	}
	writeJSON(w, http.StatusOK, resp)
}

type listResponse[T any] struct {
	Data []T `json:"data"`
}

func (s *server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeNotFound(w, "history is disabled")
		return
	}
	entries, err := s.deps.History.List(r.Context())
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[app.HistoryEntry]{Data: entries})
}

func (s *server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeNotFound(w, "history is disabled")
		return
	}
	if err := s.deps.History.Clear(r.Context()); err != nil {
		writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Events == nil {
		writeNotFound(w, "event persistence is disabled")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	events, err := s.deps.Events.ListEvents(r.Context(), limit)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if events == nil {
		events = []gateway.Event{}
	}
	writeJSON(w, http.StatusOK, listResponse[gateway.Event]{Data: events})
}

type prefBody struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// prefKey extracts and checks the {key} URL param. Writes 400 and returns
// false when it is unusable.
func prefKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := chi.URLParam(r, "key")
	if key == "" || len(key) > maxPrefKey {
		writeError(w, gateway.KindValidation, "key: want 1 to "+strconv.Itoa(maxPrefKey)+" characters")
		return "", false
	}
	return key, true
}

func (s *server) handleGetPref(w http.ResponseWriter, r *http.Request) {
	if s.deps.Prefs == nil {
		writeNotFound(w, "preferences are disabled")
		return
	}
	key, ok := prefKey(w, r)
	if !ok {
		return
	}
	val, err := s.deps.Prefs.Get(r.Context(), prefKeyPrefix+key)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prefBody{Key: key, Value: val})
}

func (s *server) handleSetPref(w http.ResponseWriter, r *http.Request) {
	if s.deps.Prefs == nil {
		writeNotFound(w, "preferences are disabled")
		return
	}
	key, ok := prefKey(w, r)
	if !ok {
		return
	}
	var body prefBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := s.deps.Prefs.Set(r.Context(), prefKeyPrefix+key, body.Value); err != nil {
		writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleDeletePref(w http.ResponseWriter, r *http.Request) {
	if s.deps.Prefs == nil {
		writeNotFound(w, "preferences are disabled")
		return
	}
	key, ok := prefKey(w, r)
	if !ok {
		return
	}
	if err := s.deps.Prefs.Remove(r.Context(), prefKeyPrefix+key); err != nil {
		writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeStoreError logs the full error server-side and returns a sanitized
// message to the client to avoid leaking storage details.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, gateway.ErrNotFound) {
		writeNotFound(w, "not found")
		return
	}
	slog.LogAttrs(r.Context(), slog.LevelError, "storage error",
		slog.String("error", err.Error()),
	)
	writeError(w, gateway.KindUnknown, "internal error")
}
