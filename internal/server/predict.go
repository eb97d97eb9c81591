package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	gateway "github.com/eugener/predictgw/internal"
)

// predictHandler decodes a P from the body and runs it through a gateway
// capability with options taken from the query string.
func predictHandler[P, T any](s *server, call func(context.Context, *P, gateway.CallOptions[T]) gateway.Response[T]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts, err := callOptions[T](r, s.deps.Retry)
		if err != nil {
			writeError(w, gateway.KindValidation, err.Error())
			return
		}
		var payload P
		if !decodeJSON(w, r, &payload) {
			return
		}
		writeResponse(w, call(r.Context(), &payload, opts))
	}
}

type compareRequest struct {
	Payload gateway.DevicePayload `json:"payload"`
	Models  []string              `json:"models"`
}

type compareResponse struct {
	Results map[string]gateway.Response[gateway.PricePrediction] `json:"results"`
}

// handleCompare prices one device under several models. Each model carries
// its own envelope, so partial failure is still a 200.
func (s *server) handleCompare(w http.ResponseWriter, r *http.Request) {
	opts, err := callOptions[gateway.PricePrediction](r, s.deps.Retry)
	if err != nil {
		writeError(w, gateway.KindValidation, err.Error())
		return
	}
	var req compareRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	results := s.deps.Gateway.CompareModels(r.Context(), &req.Payload, req.Models, opts)
	if len(results) == 0 {
		writeError(w, gateway.KindValidation, "models: at least one model id is required")
		return
	}
	writeJSON(w, http.StatusOK, compareResponse{Results: results})
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	opts, err := callOptions[[]gateway.SearchResult](r, s.deps.Retry)
	if err != nil {
		writeError(w, gateway.KindValidation, err.Error())
		return
	}
	q := &gateway.SearchQuery{Query: strings.TrimSpace(r.URL.Query().Get("q"))}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, gateway.KindValidation, "limit: want a non-negative integer")
			return
		}
		q.Limit = n
	}
	writeResponse(w, s.deps.Gateway.Search(r.Context(), q, opts))
}

// handleBackendHealth queries the backend health endpoint on demand,
// independent of the background monitor.
func (s *server) handleBackendHealth(w http.ResponseWriter, r *http.Request) {
	opts, err := callOptions[gateway.HealthStatus](r, s.deps.Retry)
	if err != nil {
		writeError(w, gateway.KindValidation, err.Error())
		return
	}
	writeResponse(w, s.deps.Gateway.Health(r.Context(), opts))
}
