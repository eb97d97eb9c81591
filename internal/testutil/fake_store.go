package testutil

import (
	"context"
	"slices"
	"sync"

	gateway "github.com/eugener/predictgw/internal"
)

// FakeStore is an in-memory implementation of storage.Store for testing.
type FakeStore struct {
	mu     sync.RWMutex
	kv     map[string]string
	events []gateway.Event
}

// NewFakeStore returns a FakeStore with empty collections.
func NewFakeStore() *FakeStore {
	return &FakeStore{kv: make(map[string]string)}
}

// --- KVStore ---

// Get returns the value for key or gateway.ErrNotFound.
func (s *FakeStore) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	v, ok := s.kv[key]
	s.mu.RUnlock()
	if !ok {
		return "", gateway.ErrNotFound
	}
	return v, nil
}

// Set stores a value.
func (s *FakeStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	s.kv[key] = value
	s.mu.Unlock()
	return nil
}

// Remove deletes a key.
func (s *FakeStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.kv, key)
	s.mu.Unlock()
	return nil
}

// --- EventStore ---

// InsertEvents appends events.
func (s *FakeStore) InsertEvents(_ context.Context, events []gateway.Event) error {
	s.mu.Lock()
	s.events = append(s.events, events...)
	s.mu.Unlock()
	return nil
}

// ListEvents returns up to limit events, newest first.
func (s *FakeStore) ListEvents(_ context.Context, limit int) ([]gateway.Event, error) {
	s.mu.RLock()
	out := slices.Clone(s.events)
	s.mu.RUnlock()
	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// EventCount returns how many events were inserted.
func (s *FakeStore) EventCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Ping always succeeds.
func (s *FakeStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *FakeStore) Close() error { return nil }
