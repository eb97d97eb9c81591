// Package gateway defines domain types and interfaces for the predictgw resilience gateway.
// This package has no project imports -- it is the dependency root.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// --- Backend ---

// Capability names, used for endpoint lookup, cache keys, metrics labels and breakers.
const (
	CapPrice    = "price"
	CapRAM      = "ram"
	CapBattery  = "battery"
	CapBrand    = "brand"
	CapAdvanced = "advanced"
	CapSearch   = "search"
	CapHealth   = "health"
)

// Backend is the set of downstream prediction/search services reachable over HTTP.
// Implementations perform exactly one network exchange per call; retries,
// caching and fallbacks are layered on top by the gateway.
type Backend interface {
	PredictPrice(ctx context.Context, p *DevicePayload) (*PricePrediction, error)
	PredictRAM(ctx context.Context, p *DevicePayload) (*RAMPrediction, error)
	PredictBattery(ctx context.Context, p *DevicePayload) (*BatteryPrediction, error)
	PredictBrand(ctx context.Context, p *DevicePayload) (*BrandPrediction, error)
	AdvancedPredict(ctx context.Context, p *AdvancedPayload) (*AdvancedPrediction, error)
	Search(ctx context.Context, q *SearchQuery) ([]SearchResult, error)
	// Health queries the health endpoint. A non-2xx reply is an error;
	// a 2xx reply with a non-healthy status is returned as-is.
	Health(ctx context.Context) (*HealthStatus, error)
}

// DevicePayload is the device feature set accepted by the single-target prediction models.
type DevicePayload struct {
	RAM       float64 `json:"ram,omitempty"`     // GB
	Battery   int     `json:"battery,omitempty"` // mAh
	Screen    float64 `json:"screen,omitempty"`  // inches
	Weight    float64 `json:"weight,omitempty"`  // grams
	Year      int     `json:"year,omitempty"`
	Company   string  `json:"company,omitempty"`
	Storage   float64 `json:"storage,omitempty"` // GB
	Processor string  `json:"processor,omitempty"`
	Camera    float64 `json:"camera,omitempty"` // MP
	Model     string  `json:"model,omitempty"`  // requested model; empty = backend default
}

// PricePrediction is the price model result.
type PricePrediction struct {
	Price        float64         `json:"price"`
	ModelUsed    string          `json:"model_used"`
	Currency     string          `json:"currency,omitempty"`
	AccuracyInfo json.RawMessage `json:"accuracy_info,omitempty"`
}

// RAMPrediction is the RAM model result.
type RAMPrediction struct {
	RAM       float64 `json:"predicted_ram"`
	ModelUsed string  `json:"model_used,omitempty"`
}

// BatteryPrediction is the battery model result.
type BatteryPrediction struct {
	Battery   float64 `json:"predicted_battery"`
	ModelUsed string  `json:"model_used,omitempty"`
}

// BrandPrediction is the brand classifier result.
type BrandPrediction struct {
	Brand      string  `json:"predicted_brand"`
	Confidence float64 `json:"confidence,omitempty"`
	ModelUsed  string  `json:"model_used,omitempty"`
}

// AdvancedPayload asks several models at once, with prices converted to Currency.
type AdvancedPayload struct {
	DevicePayload
	Models   []string `json:"models,omitempty"`
	Currency string   `json:"currency,omitempty"`
}

// AdvancedPrediction holds per-model prices plus the combined estimate.
type AdvancedPrediction struct {
	Predictions map[string]float64 `json:"predictions"`
	Ensemble    float64            `json:"ensemble,omitempty"`
	Currency    string             `json:"currency"`
	Rate        float64            `json:"exchange_rate,omitempty"`
}

// SearchQuery is a search-index request.
type SearchQuery struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// SearchResult is a single search-index hit.
type SearchResult struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Company string          `json:"company,omitempty"`
	Price   float64         `json:"price,omitempty"`
	Score   float64         `json:"score,omitempty"`
	Specs   json.RawMessage `json:"specs,omitempty"`
}

// HealthStatus is the health endpoint body.
type HealthStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// StatusHealthy is the only health status treated as online.
const StatusHealthy = "healthy"

// Healthy reports whether the backend declared itself healthy.
func (h *HealthStatus) Healthy() bool { return h != nil && h.Status == StatusHealthy }

// --- Call surface ---

// BackoffSpec parameterizes exponential backoff: attempt i waits
// BaseDelay * Multiplier^i. MaxAttempts counts the first attempt.
type BackoffSpec struct {
	BaseDelay   time.Duration `json:"base_delay"   yaml:"base_delay"`
	MaxAttempts int           `json:"max_attempts" yaml:"max_attempts"`
	Multiplier  float64       `json:"multiplier"   yaml:"multiplier"` // 0 = 2
}

// CallOptions tunes a single gateway call. The zero value disables caching
// and retries.
type CallOptions[T any] struct {
	UseCache  bool
	CacheTTL  time.Duration // 0 = gateway default
	Retry     *BackoffSpec  // nil = single attempt
	OnSuccess func(T)
	OnError   func(error)
	Fallback  *T // served as data when the call fails terminally
}

// Response is the uniform envelope returned by every gateway capability.
// Data is set iff Success; Error is set iff !Success.
type Response[T any] struct {
	Success bool       `json:"success"`
	Data    *T         `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// OK wraps a successful result.
func OK[T any](v T) Response[T] {
	return Response[T]{Success: true, Data: &v}
}

// Fail wraps a terminal error.
func Fail[T any](err error) Response[T] {
	info := ToErrorInfo(err)
	return Response[T]{Error: &info}
}

// --- Telemetry ---

// Reporter is the write-only telemetry sink. Report must not block the caller
// for long and must never propagate failures back to it.
type Reporter interface {
	Report(ctx context.Context, level slog.Level, msg string, attrs map[string]any)
}

// Event is a reported telemetry record, as persisted by event stores.
type Event struct {
	ID        string         `json:"id"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Attrs     map[string]any `json:"attrs,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// --- Context keys ---

type contextKey int

const ctxKeyRequestID contextKey = 0

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}
