package server

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	gateway "github.com/eugener/predictgw/internal"
	"github.com/eugener/predictgw/internal/app"
	"github.com/eugener/predictgw/internal/cache"
	"github.com/eugener/predictgw/internal/safecall"
	"github.com/eugener/predictgw/internal/testutil"
)

func newStatefulHandler(t *testing.T) (http.Handler, *testutil.FakeStore) {
	t.Helper()
	store := testutil.NewFakeStore()
	c, err := cache.NewMemory(100, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	history := app.NewHistory(store, 10)
	gw := app.New(&testutil.FakeBackend{}, safecall.New(c), app.Options{History: history})
	return New(Deps{
		Gateway: gw,
		History: history,
		Prefs:   store,
		Events:  store,
	}), store
}

func TestHistory(t *testing.T) {
	t.Parallel()
	h, _ := newStatefulHandler(t)

	if rec := do(h, http.MethodPost, "/v1/predict/price", devicePayload); rec.Code != http.StatusOK {
		t.Fatalf("predict status = %d", rec.Code)
	}

	rec := do(h, http.MethodGet, "/v1/history", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	list := decode[listResponse[app.HistoryEntry]](t, rec)
	if len(list.Data) != 1 || list.Data[0].Prediction.Price != 999 || list.Data[0].Payload.Company != "Samsung" {
		t.Errorf("history = %+v", list.Data)
	}

	if rec := do(h, http.MethodDelete, "/v1/history", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("clear status = %d", rec.Code)
	}
	list = decode[listResponse[app.HistoryEntry]](t, do(h, http.MethodGet, "/v1/history", ""))
	if len(list.Data) != 0 {
		t.Errorf("history after clear = %+v", list.Data)
	}
}

func TestPrefs(t *testing.T) {
	t.Parallel()
	h, store := newStatefulHandler(t)

	if rec := do(h, http.MethodGet, "/v1/prefs/currency", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing pref status = %d, want 404", rec.Code)
	}

	if rec := do(h, http.MethodPut, "/v1/prefs/currency", `{"value":"EUR"}`); rec.Code != http.StatusNoContent {
		t.Fatalf("put status = %d; body = %s", rec.Code, rec.Body.String())
	}
	rec := do(h, http.MethodGet, "/v1/prefs/currency", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	got := decode[prefBody](t, rec)
	if got.Key != "currency" || got.Value != "EUR" {
		t.Errorf("pref = %+v", got)
	}

	// Stored under a namespaced key.
	if v, err := store.Get(context.Background(), "pref:currency"); err != nil || v != "EUR" {
		t.Errorf("store value = %q, %v", v, err)
	}

	if rec := do(h, http.MethodDelete, "/v1/prefs/currency", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/v1/prefs/currency", ""); rec.Code != http.StatusNotFound {
		t.Errorf("deleted pref status = %d, want 404", rec.Code)
	}
}

func TestPrefs_Validation(t *testing.T) {
	t.Parallel()
	h, _ := newStatefulHandler(t)

	if rec := do(h, http.MethodPut, "/v1/prefs/"+strings.Repeat("k", maxPrefKey+1), `{"value":"x"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("long key status = %d, want 400", rec.Code)
	}
	if rec := do(h, http.MethodPut, "/v1/prefs/theme", `nope`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad body status = %d, want 400", rec.Code)
	}
}

func TestEvents(t *testing.T) {
	t.Parallel()
	h, store := newStatefulHandler(t)

	now := time.Now().UTC()
	if err := store.InsertEvents(context.Background(), []gateway.Event{
		{ID: "e1", Level: "WARN", Message: "call failed", CreatedAt: now.Add(-time.Second)},
		{ID: "e2", Level: "WARN", Message: "call failed", CreatedAt: now},
	}); err != nil {
		t.Fatal(err)
	}

	rec := do(h, http.MethodGet, "/v1/events?limit=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	list := decode[listResponse[gateway.Event]](t, rec)
	if len(list.Data) != 1 || list.Data[0].ID != "e2" {
		t.Errorf("events = %+v, want newest only", list.Data)
	}
}

func TestPersistenceDisabled(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t, &testutil.FakeBackend{})

	for _, tc := range []struct{ method, path, body string }{
		{http.MethodGet, "/v1/history", ""},
		{http.MethodDelete, "/v1/history", ""},
		{http.MethodGet, "/v1/events", ""},
		{http.MethodGet, "/v1/prefs/theme", ""},
		{http.MethodPut, "/v1/prefs/theme", `{"value":"dark"}`},
		{http.MethodDelete, "/v1/prefs/theme", ""},
	} {
		if rec := do(h, tc.method, tc.path, tc.body); rec.Code != http.StatusNotFound {
			t.Errorf("%s %s: status = %d, want 404", tc.method, tc.path, rec.Code)
		}
	}
}
