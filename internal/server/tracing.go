package server

import (
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	gateway "github.com/eugener/predictgw/internal"
	"github.com/eugener/predictgw/internal/telemetry"
)

var tracer = telemetry.Tracer("github.com/eugener/predictgw/internal/server")

// traceIDHeader lets clients correlate a response with its trace.
const traceIDHeader = "X-Trace-Id"

// startServerSpan continues any W3C trace context the caller sent and
// returns the request rebound to the new span.
func startServerSpan(w http.ResponseWriter, r *http.Request) (*http.Request, trace.Span) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path, trace.WithSpanKind(trace.SpanKindServer))
	if sc := span.SpanContext(); sc.HasTraceID() {
		w.Header()[traceIDHeader] = []string{sc.TraceID().String()}
	}
	return r.WithContext(ctx), span
}

// finishServerSpan names the span after the matched route, which is only
// known once routing has run, and records the outcome.
func finishServerSpan(span trace.Span, r *http.Request, route string, rr *responseRecorder) {
	span.SetName(r.Method + " " + route)
	span.SetAttributes(
		attribute.String("http.method", r.Method),
		attribute.String("http.route", route),
		attribute.Int("http.status_code", rr.status),
		attribute.String("request_id", gateway.RequestIDFromContext(r.Context())),
	)
	if rr.kind != "" {
		span.SetAttributes(attribute.String("gateway.error_kind", string(rr.kind)))
	}
	if rr.status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(rr.status))
	}
}
