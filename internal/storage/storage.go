// Package storage defines persistence interfaces for the gateway.
package storage

import (
	"context"

	gateway "github.com/eugener/predictgw/internal"
)

// KVStore is a string key/value store used for prediction history and
// user preferences. Get returns gateway.ErrNotFound for a missing key.
type KVStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// EventStore persists reported telemetry events.
type EventStore interface {
	InsertEvents(ctx context.Context, events []gateway.Event) error
	ListEvents(ctx context.Context, limit int) ([]gateway.Event, error)
}

// Store combines all storage interfaces.
type Store interface {
	KVStore
	EventStore
	Ping(ctx context.Context) error
	Close() error
}
