package telemetry

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type TelemetryTracer struct {
	tracer     trace.Tracer
	span       trace.Span
	tracerCtx  context.Context // use spanCtx to create child spans
	spanName   string
	attributes *SpanAttributes

	started bool // to track if the span has been started
}

func NewTelemetryTracer(ctx context.Context, tracer trace.Tracer, spanName string) *TelemetryTracer {
	return &TelemetryTracer{
		tracer:     tracer,
		tracerCtx:  ctx,
		spanName:   spanName,
		attributes: EmptySpanAttributes(),
	}
}

// NewTelemetryTracerFrom continues a span exported by another process.
func NewTelemetryTracerFrom(ctx context.Context, tracer trace.Tracer, exported string) (*TelemetryTracer, error) {
	carrier := make(map[string]string)
	if err := json.Unmarshal([]byte(exported), &carrier); err != nil {
		return nil, err
	}

	extractedCtx := otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(carrier))

	origin := &TelemetryTracer{
		tracer:     tracer,
		tracerCtx:  extractedCtx,
		attributes: EmptySpanAttributes(),
		started:    true, // the imported span is already running
	}

	return origin, nil
}

func (t *TelemetryTracer) Start() {
	attributes := t.attributes.Attributes()
	attributes = append(attributes, attribute.String("netfuzz.action.name", t.spanName))
	t.tracerCtx, t.span = t.tracer.Start(t.tracerCtx, t.spanName, trace.WithAttributes(attributes...))
	t.started = true
}

func (t *TelemetryTracer) SetStatus(code codes.Code, message string) {
	if !t.live() {
		return
	}
	t.span.SetStatus(code, message)
}

func (t *TelemetryTracer) WithAttributes(attributes *SpanAttributes) Tracer {
	t.attributes.Merge(attributes)
	if t.live() {
		t.span.SetAttributes(t.attributes.Attributes()...)
	}
	return t
}

func (t *TelemetryTracer) AddEvent(name string, e EventAttributes) {
	if !t.live() {
		return
	}
	t.span.AddEvent(name, trace.WithAttributes(e...))
}

func (t *TelemetryTracer) Spawn(spanName string) Tracer {
	newTracer := NewTelemetryTracer(t.tracerCtx, t.tracer, spanName)
	return newTracer.WithAttributes(t.attributes)
}

// export the tracing context to a JSON string
func (t *TelemetryTracer) Export() string {
	carrier := make(map[string]string)
	otel.GetTextMapPropagator().Inject(t.tracerCtx, propagation.MapCarrier(carrier))
	payload, _ := json.Marshal(carrier)
	return string(payload)
}

func (t *TelemetryTracer) End() {
	if !t.live() {
		return
	}
	t.span.End()
}

// an imported span has a context but no local span object
func (t *TelemetryTracer) live() bool {
	return t.started && t.span != nil
}
