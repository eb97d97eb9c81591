package worker

import (
	"context"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"

	gateway "github.com/eugener/predictgw/internal"
	"github.com/eugener/predictgw/internal/telemetry"
)

const (
	eventChanSize   = 1000
	eventBatchSize  = 100
	eventFlushEvery = 5 * time.Second
	eventDrainTime  = 30 * time.Second
)

// EventStore is the persistence interface consumed by EventRecorder.
type EventStore interface {
	InsertEvents(ctx context.Context, events []gateway.Event) error
}

// EventRecorder is an asynchronous gateway.Reporter. It buffers events and
// batch-flushes them to the store. Events are dropped if the channel is full
// (back-pressure on slow DB), so Report never blocks the caller.
type EventRecorder struct {
	ch      chan gateway.Event
	store   EventStore
	metrics *telemetry.Metrics
}

// NewEventRecorder creates an EventRecorder backed by store. metrics may be nil.
func NewEventRecorder(store EventStore, metrics *telemetry.Metrics) *EventRecorder {
	return &EventRecorder{
		ch:      make(chan gateway.Event, eventChanSize),
		store:   store,
		metrics: metrics,
	}
}

// Name returns the worker identifier.
func (r *EventRecorder) Name() string { return "event_recorder" }

// Report implements gateway.Reporter.
func (r *EventRecorder) Report(ctx context.Context, level slog.Level, msg string, attrs map[string]any) {
	r.Record(gateway.Event{
		Level:     level.String(),
		Message:   msg,
		Attrs:     maps.Clone(attrs),
		RequestID: gateway.RequestIDFromContext(ctx),
		CreatedAt: time.Now().UTC(),
	})
}

// Record enqueues an event. It never blocks; drops on full channel.
func (r *EventRecorder) Record(e gateway.Event) {
	select {
	case r.ch <- e:
	default:
		if r.metrics != nil {
			r.metrics.EventsDropped.Inc()
		}
		slog.Warn("telemetry event dropped, channel full")
	}
}

// Run processes events until ctx is cancelled, then drains remaining events.
func (r *EventRecorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(eventFlushEvery)
	defer ticker.Stop()

	buf := make([]gateway.Event, 0, eventBatchSize)

	for {
		select {
		case e := <-r.ch:
			buf = append(buf, e)
			if len(buf) >= eventBatchSize {
				r.flush(ctx, buf)
				buf = buf[:0]
			}

		case <-ticker.C:
			if len(buf) > 0 {
				r.flush(ctx, buf)
				buf = buf[:0]
			}

		case <-ctx.Done():
			// Drain remaining events with a timeout.
			r.drain(buf)
			return nil
		}
	}
}

func (r *EventRecorder) drain(buf []gateway.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), eventDrainTime)
	defer cancel()

	for {
		select {
		case e := <-r.ch:
			buf = append(buf, e)
			if len(buf) >= eventBatchSize {
				r.flush(ctx, buf)
				buf = buf[:0]
			}
		default:
			// Channel empty, flush remaining.
			if len(buf) > 0 {
				r.flush(ctx, buf)
			}
			return
		}
	}
}

func (r *EventRecorder) flush(ctx context.Context, buf []gateway.Event) {
	// Copy to avoid aliasing the caller's slice.
	batch := make([]gateway.Event, len(buf))
	copy(batch, buf)

	// Assign IDs off the hot path; callers leave ID empty.
	for i := range batch {
		if batch[i].ID == "" {
			batch[i].ID = uuid.Must(uuid.NewV7()).String()
		}
	}

	if err := r.store.InsertEvents(ctx, batch); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "event flush failed",
			slog.Int("count", len(batch)),
			slog.String("error", err.Error()),
		)
	}
	if r.metrics != nil {
		r.metrics.EventQueueLength.Set(float64(len(r.ch)))
	}
}
