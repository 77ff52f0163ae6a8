package otel

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// TraceContextFrom returns trace_id and span_id from the span in ctx, if any.
// Both are empty when no valid span is recording (e.g. OTel disabled).
func TraceContextFrom(ctx context.Context) (traceID, spanID string) {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return "", ""
	}
	return span.SpanContext().TraceID().String(), span.SpanContext().SpanID().String()
}

// LogTraceFields returns a zerolog Func hook adding trace_id and span_id to
// the event when a valid span exists in ctx, so a log line inside a request
// (a failed deduct, a dropped audit event) can be tied back to the request
// span. Fields are omitted entirely when OTel is disabled:
//
//	log.Error().Err(err).Func(otel.LogTraceFields(ctx)).Msg("credit_deduct_failed")
func LogTraceFields(ctx context.Context) func(e *zerolog.Event) {
	return func(e *zerolog.Event) {
		traceID, spanID := TraceContextFrom(ctx)
		if traceID != "" {
			e.Str("trace_id", traceID)
		}
		if spanID != "" {
			e.Str("span_id", spanID)
		}
	}
}
