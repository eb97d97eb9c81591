package telemetry

import (
	"context"
	"log/slog"
	"slices"

	gateway "github.com/eugener/predictgw/internal"
)

// LogReporter is a gateway.Reporter that writes events to a slog.Logger.
type LogReporter struct {
	logger *slog.Logger
}

// NewLogReporter returns a reporter writing to logger (slog.Default when nil).
func NewLogReporter(logger *slog.Logger) *LogReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogReporter{logger: logger}
}

// Report implements gateway.Reporter. Attributes are emitted in key order.
func (r *LogReporter) Report(ctx context.Context, level slog.Level, msg string, attrs map[string]any) {
	la := make([]slog.Attr, 0, len(attrs)+1)
	if id := gateway.RequestIDFromContext(ctx); id != "" {
		la = append(la, slog.String("request_id", id))
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		la = append(la, slog.Any(k, attrs[k]))
	}
	r.logger.LogAttrs(ctx, level, msg, la...)
}

// MultiReporter fans one event out to several reporters.
type MultiReporter []gateway.Reporter

// Report implements gateway.Reporter.
func (m MultiReporter) Report(ctx context.Context, level slog.Level, msg string, attrs map[string]any) {
	for _, r := range m {
		if r != nil {
			r.Report(ctx, level, msg, attrs)
		}
	}
}
