package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	gateway "github.com/eugener/predictgw/internal"
)

// maxBody is the maximum allowed request body size (1 MB).
const maxBody = 1 << 20

// jsonCT is a pre-allocated header value slice. Direct map assignment
// (w.Header()["Content-Type"] = jsonCT) avoids the []string{v} alloc
// that Header.Set creates on every call.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// decodeJSON limits body size, decodes JSON into v, and writes a 400 on error.
// Returns true if decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, gateway.KindValidation, "invalid request body")
		return false
	}
	return true
}

// errorResponse is the failure envelope used outside gateway calls, shaped
// like a failed gateway.Response so clients parse one format.
func errorResponse(kind gateway.ErrorKind, msg string) gateway.Response[struct{}] {
	return gateway.Response[struct{}]{Error: &gateway.ErrorInfo{Kind: kind, Message: msg}}
}

func writeError(w http.ResponseWriter, kind gateway.ErrorKind, msg string) {
	noteKind(w, kind)
	writeJSON(w, kindStatus(kind), errorResponse(kind, msg))
}

// writeNotFound is used for missing resources and disabled persistence.
func writeNotFound(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusNotFound, errorResponse(gateway.KindValidation, msg))
}

// writeResponse writes a gateway envelope with the status its outcome maps to.
// A served fallback is a success.
func writeResponse[T any](w http.ResponseWriter, resp gateway.Response[T]) {
	status := http.StatusOK
	if !resp.Success && resp.Error != nil {
		noteKind(w, resp.Error.Kind)
		status = kindStatus(resp.Error.Kind)
	}
	writeJSON(w, status, resp)
}

func kindStatus(kind gateway.ErrorKind) int {
	switch kind {
	case gateway.KindValidation:
		return http.StatusBadRequest
	case gateway.KindTimeout:
		return http.StatusGatewayTimeout
	case gateway.KindTransient, gateway.KindExhausted:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
