package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
)

// Sentinel errors for the gateway domain.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrCircuitOpen       = errors.New("circuit open")
	ErrMalformedResponse = errors.New("malformed backend response")
	ErrUnhealthy         = errors.New("backend unhealthy")
)

// ErrorKind classifies a failure for retry and reporting decisions.
type ErrorKind string

const (
	KindTransient  ErrorKind = "transient"
	KindValidation ErrorKind = "validation"
	KindTimeout    ErrorKind = "timeout"
	KindExhausted  ErrorKind = "exhausted"
	KindUnknown    ErrorKind = "unknown"
)

// ErrorInfo is the caller-facing description of a failure.
type ErrorInfo struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Attempt int       `json:"attempt,omitempty"`
}

// Error is the typed terminal error of a gateway call. Err is the error of the
// last attempt, so errors.Is/As still see the original failure.
type Error struct {
	Kind    ErrorKind
	Attempt int // attempts consumed; 0 when not applicable
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindExhausted:
		return fmt.Sprintf("exhausted after %d attempts: %v", e.Attempt, e.Err)
	case e.Attempt > 1:
		return fmt.Sprintf("%s (attempt %d): %v", e.Kind, e.Attempt, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
}

// Unwrap returns the last attempt's error.
func (e *Error) Unwrap() error { return e.Err }

// Info converts the error into its caller-facing form.
func (e *Error) Info() ErrorInfo {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return ErrorInfo{Kind: e.Kind, Message: msg, Attempt: e.Attempt}
}

// httpStatusError is implemented by errors carrying an HTTP status code
// (see provider.APIError).
type httpStatusError interface {
	HTTPStatus() int
}

// ClassifyError maps an error onto the failure taxonomy:
//   - deadline exceeded, net timeouts, HTTP 408 -> Timeout
//   - HTTP 429 and 5xx, network errors, open breaker, malformed 2xx body -> Transient
//   - other HTTP 4xx, ErrValidation -> Validation
//   - cancellation and everything else -> Unknown
//
// An *Error keeps its own kind.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	if errors.Is(err, ErrValidation) {
		return KindValidation
	}
	if errors.Is(err, context.Canceled) {
		return KindUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrMalformedResponse) {
		return KindTransient
	}

	var he httpStatusError
	if errors.As(err, &he) {
		return classifyStatus(he.HTTPStatus())
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindTransient
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindTransient
	}
	return KindUnknown
}

func classifyStatus(code int) ErrorKind {
	switch {
	case code == http.StatusRequestTimeout:
		return KindTimeout
	case code == http.StatusTooManyRequests, code >= 500:
		return KindTransient
	case code >= 400:
		return KindValidation
	default:
		return KindUnknown
	}
}

// IsRetryable reports whether err is worth another attempt.
// Only Transient and Timeout failures are.
func IsRetryable(err error) bool {
	switch ClassifyError(err) {
	case KindTransient, KindTimeout:
		return true
	default:
		return false
	}
}

// ToErrorInfo normalizes any error into an ErrorInfo.
func ToErrorInfo(err error) ErrorInfo {
	if err == nil {
		return ErrorInfo{Kind: KindUnknown, Message: "unknown error"}
	}
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Info()
	}
	return ErrorInfo{Kind: ClassifyError(err), Message: err.Error()}
}
