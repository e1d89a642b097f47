// Package telemetry configures OpenTelemetry context propagation so run
// reports published downstream carry a W3C trace context.
package telemetry

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var initOnce sync.Once

// InitPropagation installs the TraceContext and Baggage propagators globally.
// Safe to call more than once.
func InitPropagation() {
	initOnce.Do(func() {
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	})
}

// WithRunTrace returns ctx carrying a sampled span context whose trace id is
// the run id, so consumers can join a published report to the run's logs.
// A span context already present in ctx, or a run id that is not a UUID,
// leaves ctx unchanged.
func WithRunTrace(ctx context.Context, runID string) context.Context {
	if trace.SpanContextFromContext(ctx).IsValid() {
		return ctx
	}
	id, err := uuid.Parse(runID)
	if err != nil {
		return ctx
	}
	var spanID trace.SpanID
	copy(spanID[:], id[8:])
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID(id),
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	if !sc.IsValid() {
		return ctx
	}
	return trace.ContextWithSpanContext(ctx, sc)
}
