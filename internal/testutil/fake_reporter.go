package testutil

import (
	"context"
	"log/slog"
	"maps"
	"sync"
)

// Report is one captured FakeReporter call.
type Report struct {
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// FakeReporter records every report. Set Panic to make Report panic after
// recording.
type FakeReporter struct {
	Panic bool

	mu      sync.Mutex
	reports []Report
}

// Report implements gateway.Reporter.
func (r *FakeReporter) Report(_ context.Context, level slog.Level, msg string, attrs map[string]any) {
	r.mu.Lock()
	r.reports = append(r.reports, Report{Level: level, Message: msg, Attrs: maps.Clone(attrs)})
	r.mu.Unlock()
	if r.Panic {
		panic("reporter failure")
	}
}

// Reports returns a copy of the recorded reports.
func (r *FakeReporter) Reports() []Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Report, len(r.reports))
	copy(out, r.reports)
	return out
}
