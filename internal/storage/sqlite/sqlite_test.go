package sqlite

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	gateway "github.com/eugener/predictgw/internal"
	"github.com/eugener/predictgw/internal/storage"
)

var _ storage.Store = (*Store)(nil)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), t.TempDir()+"/predictgw.db")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestKVRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Get(ctx, "theme"); !errors.Is(err, gateway.ErrNotFound) {
		t.Fatalf("get missing: err = %v, want ErrNotFound", err)
	}

	if err := s.Set(ctx, "theme", "dark"); err != nil {
		t.Fatal("set:", err)
	}
	got, err := s.Get(ctx, "theme")
	if err != nil {
		t.Fatal("get:", err)
	}
	if got != "dark" {
		t.Errorf("value = %q, want dark", got)
	}

	// Overwrite
	if err := s.Set(ctx, "theme", "light"); err != nil {
		t.Fatal("overwrite:", err)
	}
	got, _ = s.Get(ctx, "theme")
	if got != "light" {
		t.Errorf("value = %q, want light", got)
	}

	// Remove, twice
	if err := s.Remove(ctx, "theme"); err != nil {
		t.Fatal("remove:", err)
	}
	if err := s.Remove(ctx, "theme"); err != nil {
		t.Fatal("remove missing:", err)
	}
	if _, err := s.Get(ctx, "theme"); !errors.Is(err, gateway.ErrNotFound) {
		t.Errorf("get after remove: err = %v", err)
	}
}

func TestEventsInsertAndList(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var events []gateway.Event
	for i := range 3 {
		events = append(events, gateway.Event{
			ID:        fmt.Sprintf("evt-%d", i),
			Level:     "ERROR",
			Message:   "gateway call failed",
			Attrs:     map[string]any{"operation": "price", "attempt": float64(i + 1)},
			RequestID: "req-1",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
	}
	if err := s.InsertEvents(ctx, events); err != nil {
		t.Fatal("insert:", err)
	}
	if err := s.InsertEvents(ctx, nil); err != nil {
		t.Fatal("insert empty:", err)
	}

	got, err := s.ListEvents(ctx, 2)
	if err != nil {
		t.Fatal("list:", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "evt-2" || got[1].ID != "evt-1" {
		t.Errorf("order = %s, %s; want newest first", got[0].ID, got[1].ID)
	}
	if got[0].Attrs["operation"] != "price" {
		t.Errorf("attrs = %v", got[0].Attrs)
	}
	if !got[0].CreatedAt.Equal(base.Add(2 * time.Second)) {
		t.Errorf("created_at = %v", got[0].CreatedAt)
	}
}

func TestPing(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestOpen_MemoryStoresAreIsolated(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	open := func() *Store {
		s, err := Open(ctx, ":memory:")
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	}
	a, b := open(), open()

	if err := a.Set(ctx, "pref:currency", "EUR"); err != nil {
		t.Fatal(err)
	}
	// Written on the write pool, visible on the read pool.
	if v, err := a.Get(ctx, "pref:currency"); err != nil || v != "EUR" {
		t.Errorf("a.Get = %q, %v; want EUR", v, err)
	}
	if _, err := b.Get(ctx, "pref:currency"); !errors.Is(err, gateway.ErrNotFound) {
		t.Errorf("b.Get err = %v, want ErrNotFound", err)
	}
}

func TestOpen_ReopensMigratedFile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := t.TempDir() + "/predictgw.db"

	s, err := Open(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "history:price", "[]"); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if v, err := s.Get(ctx, "history:price"); err != nil || v != "[]" {
		t.Errorf("Get after reopen = %q, %v", v, err)
	}
}
