package provider

import (
	"fmt"
	"io"
	"net/http"
)

// APIError is a non-2xx reply from a backend endpoint.
// HTTPStatus lets gateway.ClassifyError map it onto an error kind.
type APIError struct {
	Capability string
	StatusCode int
	Body       string
}

// Error returns a formatted error string including capability, status, and body.
func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: HTTP %d", e.Capability, e.StatusCode)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Capability, e.StatusCode, e.Body)
}

// HTTPStatus returns the HTTP status code.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// ParseAPIError reads up to 4KB from the response body and returns an APIError.
func ParseAPIError(capability string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &APIError{Capability: capability, StatusCode: resp.StatusCode, Body: string(body)}
}
