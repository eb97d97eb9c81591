package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	gateway "github.com/eugener/predictgw/internal"
	"github.com/eugener/predictgw/internal/storage"
)

const (
	// DefaultHistoryLimit is the number of price predictions kept.
	DefaultHistoryLimit = 50

	historyKey = "history:price"
)

// HistoryEntry is one recorded price prediction.
type HistoryEntry struct {
	Payload    gateway.DevicePayload   `json:"payload"`
	Prediction gateway.PricePrediction `json:"prediction"`
	At         time.Time               `json:"at"`
}

// History keeps the most recent price predictions in a KV store, newest first.
type History struct {
	kv    storage.KVStore
	limit int
	now   func() time.Time

	mu sync.Mutex // serializes read-modify-write of the list
}

// NewHistory creates a History over kv. limit <= 0 means DefaultHistoryLimit.
func NewHistory(kv storage.KVStore, limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{kv: kv, limit: limit, now: time.Now}
}

// Record prepends an entry, trimming the list to the limit.
func (h *History) Record(ctx context.Context, p gateway.DevicePayload, res gateway.PricePrediction) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries, err := h.load(ctx)
	if err != nil {
		return err
	}
	entries = append([]HistoryEntry{{Payload: p, Prediction: res, At: h.now().UTC()}}, entries...)
	if len(entries) > h.limit {
		entries = entries[:h.limit]
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	return h.kv.Set(ctx, historyKey, string(data))
}

// List returns the recorded entries, newest first.
func (h *History) List(ctx context.Context) ([]HistoryEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.load(ctx)
}

// Clear removes all entries.
func (h *History) Clear(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.kv.Remove(ctx, historyKey)
}

func (h *History) load(ctx context.Context) ([]HistoryEntry, error) {
	raw, err := h.kv.Get(ctx, historyKey)
	if errors.Is(err, gateway.ErrNotFound) {
		return []HistoryEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	var entries []HistoryEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		// A corrupt list is replaced rather than blocking new records.
		return []HistoryEntry{}, nil
	}
	return entries, nil
}
