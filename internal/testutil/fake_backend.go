// Package testutil provides configurable test fakes for gateway interfaces.
package testutil

import (
	"context"
	"sync"

	gateway "github.com/eugener/predictgw/internal"
)

// FakeBackend is a configurable gateway.Backend for testing. Unset funcs
// return a fixed default result. Calls are counted per capability.
type FakeBackend struct {
	PriceFn    func(ctx context.Context, p *gateway.DevicePayload) (*gateway.PricePrediction, error)
	RAMFn      func(ctx context.Context, p *gateway.DevicePayload) (*gateway.RAMPrediction, error)
	BatteryFn  func(ctx context.Context, p *gateway.DevicePayload) (*gateway.BatteryPrediction, error)
	BrandFn    func(ctx context.Context, p *gateway.DevicePayload) (*gateway.BrandPrediction, error)
	AdvancedFn func(ctx context.Context, p *gateway.AdvancedPayload) (*gateway.AdvancedPrediction, error)
	SearchFn   func(ctx context.Context, q *gateway.SearchQuery) ([]gateway.SearchResult, error)
	HealthFn   func(ctx context.Context) (*gateway.HealthStatus, error)

	mu    sync.Mutex
	calls map[string]int
}

// Calls returns how many times the given capability was invoked.
func (f *FakeBackend) Calls(capability string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[capability]
}

func (f *FakeBackend) record(capability string) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[capability]++
	f.mu.Unlock()
}

// PredictPrice delegates to PriceFn or returns a default prediction.
func (f *FakeBackend) PredictPrice(ctx context.Context, p *gateway.DevicePayload) (*gateway.PricePrediction, error) {
	f.record(gateway.CapPrice)
	if f.PriceFn != nil {
		return f.PriceFn(ctx, p)
	}
	model := p.Model
	if model == "" {
		model = "default"
	}
	return &gateway.PricePrediction{Price: 999, ModelUsed: model}, nil
}

// PredictRAM delegates to RAMFn or returns a default prediction.
func (f *FakeBackend) PredictRAM(ctx context.Context, p *gateway.DevicePayload) (*gateway.RAMPrediction, error) {
	f.record(gateway.CapRAM)
	if f.RAMFn != nil {
		return f.RAMFn(ctx, p)
	}
	return &gateway.RAMPrediction{RAM: 8}, nil
}

// PredictBattery delegates to BatteryFn or returns a default prediction.
func (f *FakeBackend) PredictBattery(ctx context.Context, p *gateway.DevicePayload) (*gateway.BatteryPrediction, error) {
	f.record(gateway.CapBattery)
	if f.BatteryFn != nil {
		return f.BatteryFn(ctx, p)
	}
	return &gateway.BatteryPrediction{Battery: 4000}, nil
}

// PredictBrand delegates to BrandFn or returns a default prediction.
func (f *FakeBackend) PredictBrand(ctx context.Context, p *gateway.DevicePayload) (*gateway.BrandPrediction, error) {
	f.record(gateway.CapBrand)
	if f.BrandFn != nil {
		return f.BrandFn(ctx, p)
	}
	return &gateway.BrandPrediction{Brand: "Apple", Confidence: 0.9}, nil
}

// AdvancedPredict delegates to AdvancedFn or returns a default prediction.
func (f *FakeBackend) AdvancedPredict(ctx context.Context, p *gateway.AdvancedPayload) (*gateway.AdvancedPrediction, error) {
	f.record(gateway.CapAdvanced)
	if f.AdvancedFn != nil {
		return f.AdvancedFn(ctx, p)
	}
	cur := p.Currency
	if cur == "" {
		cur = "USD"
	}
	return &gateway.AdvancedPrediction{
		Predictions: map[string]float64{"default": 999},
		Ensemble:    999,
		Currency:    cur,
	}, nil
}

// Search delegates to SearchFn or returns a single hit.
func (f *FakeBackend) Search(ctx context.Context, q *gateway.SearchQuery) ([]gateway.SearchResult, error) {
	f.record(gateway.CapSearch)
	if f.SearchFn != nil {
		return f.SearchFn(ctx, q)
	}
	return []gateway.SearchResult{{ID: "1", Name: q.Query}}, nil
}

// Health delegates to HealthFn or reports healthy.
func (f *FakeBackend) Health(ctx context.Context) (*gateway.HealthStatus, error) {
	f.record(gateway.CapHealth)
	if f.HealthFn != nil {
		return f.HealthFn(ctx)
	}
	return &gateway.HealthStatus{Status: gateway.StatusHealthy}, nil
}
