package status

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter implements Emitter by turning each status transition into
// an OpenTelemetry span: name is the event Kind, attributes carry
// BacktestID/Index/Fraction and every Meta field, and the span is ended
// immediately since events represent points in time, not durations.
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter wraps an existing tracer, typically
// otel.Tracer("backtest-core").
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

func (o *OTelEmitter) Publish(event Event) {
	_, span := o.tracer.Start(context.Background(), string(event.Kind))
	defer span.End()

	span.SetAttributes(
		attribute.String("backtest_id", event.BacktestID),
		attribute.Int("index", event.Index),
		attribute.Float64("fraction", event.Fraction),
	)
	for k, v := range event.Meta {
		switch val := v.(type) {
		case string:
			span.SetAttributes(attribute.String(k, val))
		case bool:
			span.SetAttributes(attribute.Bool(k, val))
		case int:
			span.SetAttributes(attribute.Int(k, val))
		case int64:
			span.SetAttributes(attribute.Int64(k, val))
		case float64:
			span.SetAttributes(attribute.Float64(k, val))
		default:
			span.SetAttributes(attribute.String(k, fmt.Sprint(val)))
		}
	}

	if event.Kind == Failed {
		span.SetStatus(codes.Error, "backtest failed")
	}
}

func (o *OTelEmitter) PublishBatch(_ context.Context, events []Event) error {
	for _, event := range events {
		o.Publish(event)
	}
	return nil
}

// Flush calls ForceFlush on the wrapped tracer if the tracer itself
// implements it, and otherwise returns nil; it does not reach the
// TracerProvider that created the tracer.
func (o *OTelEmitter) Flush(ctx context.Context) error {
	if fp, ok := o.tracer.(interface{ ForceFlush(context.Context) error }); ok {
		return fp.ForceFlush(ctx)
	}
	return nil
}
