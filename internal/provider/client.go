// Package provider implements gateway.Backend over HTTP.
//
// Each capability maps to one endpoint under a shared base URL. Predictions
// and search are POSTed as JSON; health is a GET. The client performs exactly
// one exchange per call: retries and caching live above it.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	gateway "github.com/eugener/predictgw/internal"
	"github.com/eugener/predictgw/internal/circuitbreaker"
)

const (
	// DefaultTimeout bounds a single capability call.
	DefaultTimeout = 30 * time.Second
	// DefaultHealthTimeout bounds a health request regardless of server latency.
	DefaultHealthTimeout = 3 * time.Second

	maxResponseBody = 8 << 20
)

// DefaultEndpoints returns the endpoint path for every capability.
func DefaultEndpoints() map[string]string {
	return map[string]string{
		gateway.CapPrice:    "/predict/price",
		gateway.CapRAM:      "/predict/ram",
		gateway.CapBattery:  "/predict/battery",
		gateway.CapBrand:    "/predict/brand",
		gateway.CapAdvanced: "/predict/advanced",
		gateway.CapSearch:   "/search",
		gateway.CapHealth:   "/health",
	}
}

// requiredField names the JSON field a 2xx body must carry per capability.
var requiredField = map[string]string{
	gateway.CapPrice:    "price",
	gateway.CapRAM:      "predicted_ram",
	gateway.CapBattery:  "predicted_battery",
	gateway.CapBrand:    "predicted_brand",
	gateway.CapAdvanced: "predictions",
	gateway.CapHealth:   "status",
}

// Config configures a Client.
type Config struct {
	BaseURL       string
	Endpoints     map[string]string // overrides merged over DefaultEndpoints
	Timeout       time.Duration
	HealthTimeout time.Duration
}

// Client is the HTTP gateway.Backend. It is safe for concurrent use.
type Client struct {
	baseURL       string
	endpoints     map[string]string
	timeout       time.Duration
	healthTimeout time.Duration
	http          *http.Client
	breakers      *circuitbreaker.Registry
}

var _ gateway.Backend = (*Client)(nil)

// New creates a Client. hc may be nil (http.DefaultClient); breakers may be
// nil to disable circuit breaking.
func New(cfg Config, hc *http.Client, breakers *circuitbreaker.Registry) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	endpoints := DefaultEndpoints()
	maps.Copy(endpoints, cfg.Endpoints)
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	healthTimeout := cfg.HealthTimeout
	if healthTimeout <= 0 {
		healthTimeout = DefaultHealthTimeout
	}
	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		endpoints:     endpoints,
		timeout:       timeout,
		healthTimeout: healthTimeout,
		http:          hc,
		breakers:      breakers,
	}
}

// PredictPrice calls the price model.
func (c *Client) PredictPrice(ctx context.Context, p *gateway.DevicePayload) (*gateway.PricePrediction, error) {
	return call[gateway.PricePrediction](ctx, c, gateway.CapPrice, p)
}

// PredictRAM calls the RAM model.
func (c *Client) PredictRAM(ctx context.Context, p *gateway.DevicePayload) (*gateway.RAMPrediction, error) {
	return call[gateway.RAMPrediction](ctx, c, gateway.CapRAM, p)
}

// PredictBattery calls the battery model.
func (c *Client) PredictBattery(ctx context.Context, p *gateway.DevicePayload) (*gateway.BatteryPrediction, error) {
	return call[gateway.BatteryPrediction](ctx, c, gateway.CapBattery, p)
}

// PredictBrand calls the brand classifier.
func (c *Client) PredictBrand(ctx context.Context, p *gateway.DevicePayload) (*gateway.BrandPrediction, error) {
	return call[gateway.BrandPrediction](ctx, c, gateway.CapBrand, p)
}

// AdvancedPredict calls the multi-model, currency-aware endpoint.
func (c *Client) AdvancedPredict(ctx context.Context, p *gateway.AdvancedPayload) (*gateway.AdvancedPrediction, error) {
	return call[gateway.AdvancedPrediction](ctx, c, gateway.CapAdvanced, p)
}

// Search queries the search index. The reply may be a bare array or an
// object with a "results" array.
func (c *Client) Search(ctx context.Context, q *gateway.SearchQuery) ([]gateway.SearchResult, error) {
	raw, err := c.exchange(ctx, gateway.CapSearch, http.MethodPost, q, c.timeout)
	if err != nil {
		return nil, err
	}

	list := gjson.ParseBytes(raw)
	if !list.IsArray() {
		list = list.Get("results")
	}
	if !list.IsArray() {
		return nil, fmt.Errorf("%s: %w: no result array", gateway.CapSearch, gateway.ErrMalformedResponse)
	}
	out := make([]gateway.SearchResult, 0, len(list.Array()))
	if err := json.Unmarshal([]byte(list.Raw), &out); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", gateway.CapSearch, gateway.ErrMalformedResponse, err)
	}
	return out, nil
}

// Health queries the health endpoint under the health timeout.
func (c *Client) Health(ctx context.Context) (*gateway.HealthStatus, error) {
	raw, err := c.exchange(ctx, gateway.CapHealth, http.MethodGet, nil, c.healthTimeout)
	if err != nil {
		return nil, err
	}
	if err := checkShape(gateway.CapHealth, raw); err != nil {
		return nil, err
	}
	res := gjson.GetManyBytes(raw, "status", "error")
	return &gateway.HealthStatus{Status: res[0].String(), Error: res[1].String()}, nil
}

// Breakers returns the breaker registry, or nil.
func (c *Client) Breakers() *circuitbreaker.Registry { return c.breakers }

func call[T any](ctx context.Context, c *Client, capability string, body any) (*T, error) {
	raw, err := c.exchange(ctx, capability, http.MethodPost, body, c.timeout)
	if err != nil {
		return nil, err
	}
	if err := checkShape(capability, raw); err != nil {
		return nil, err
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", capability, gateway.ErrMalformedResponse, err)
	}
	return &out, nil
}

func checkShape(capability string, raw []byte) error {
	if !gjson.ValidBytes(raw) {
		return fmt.Errorf("%s: %w: invalid JSON", capability, gateway.ErrMalformedResponse)
	}
	if field, ok := requiredField[capability]; ok && !gjson.GetBytes(raw, field).Exists() {
		return fmt.Errorf("%s: %w: missing %q", capability, gateway.ErrMalformedResponse, field)
	}
	return nil
}

// exchange performs one request against the capability's endpoint and
// returns the 2xx body. The breaker, when configured, gates and observes it.
func (c *Client) exchange(ctx context.Context, capability, method string, body any, timeout time.Duration) (raw []byte, err error) {
	if c.breakers != nil {
		b := c.breakers.For(capability)
		if err := b.Allow(); err != nil {
			return nil, err
		}
		defer func() { b.Record(err) }()
	}

	path, ok := c.endpoints[capability]
	if !ok {
		return nil, fmt.Errorf("%s: no endpoint configured", capability)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s: marshal request: %w", capability, err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", capability, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := gateway.RequestIDFromContext(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", capability, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, ParseAPIError(capability, resp)
	}

	raw, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", capability, err)
	}
	return raw, nil
}
