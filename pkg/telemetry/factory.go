package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
)

type Tracer interface {
	Start()
	WithAttributes(attributes *SpanAttributes) Tracer
	AddEvent(name string, attributes EventAttributes)
	SetStatus(code codes.Code, message string)
	Spawn(spanName string) Tracer
	Export() string
	End()
}

// TraceContextEnv carries an exported span from the coordinator to its workers.
const TraceContextEnv = "NETFUZZ_TRACE_CONTEXT"

type TracerFactory struct {
	telemetry Telemetry
}

type TracerFactoryParams struct {
	fx.In
	Telemetry Telemetry `optional:"true"`
}

func NewTracerFactory(p TracerFactoryParams) *TracerFactory {
	return &TracerFactory{telemetry: p.Telemetry}
}

// NewTracerFactoryFor is used outside of fx; t may be nil.
func NewTracerFactoryFor(t Telemetry) *TracerFactory {
	return &TracerFactory{telemetry: t}
}

func (t *TracerFactory) enabled() bool {
	return t != nil && t.telemetry != nil && t.telemetry.GetTracer() != nil
}

// NewTracer returns a new telemetry tracer
func (t *TracerFactory) NewTracer(ctx context.Context, spanName string) Tracer {
	if !t.enabled() {
		return &DummyTracer{}
	}
	return NewTelemetryTracer(ctx, t.telemetry.GetTracer(), spanName)
}

// NewTracerSpawnedFrom starts a child of an exported span, or a root span
// when exported is empty or malformed.
func (t *TracerFactory) NewTracerSpawnedFrom(ctx context.Context, exported string, spanName string) Tracer {
	if !t.enabled() {
		return &DummyTracer{}
	}
	if exported == "" {
		return NewTelemetryTracer(ctx, t.telemetry.GetTracer(), spanName)
	}
	origin, err := NewTelemetryTracerFrom(ctx, t.telemetry.GetTracer(), exported)
	if err != nil {
		return NewTelemetryTracer(ctx, t.telemetry.GetTracer(), spanName)
	}
	return origin.Spawn(spanName)
}

// A dummy tracer that does nothing when telemetry is not enabled
type DummyTracer struct{}

func (t *DummyTracer) Start()                                           {}
func (t *DummyTracer) WithAttributes(attributes *SpanAttributes) Tracer { return t }
func (t *DummyTracer) AddEvent(name string, attributes EventAttributes) {}
func (t *DummyTracer) SetStatus(code codes.Code, message string)        {}
func (t *DummyTracer) Spawn(spanName string) Tracer                     { return t }
func (t *DummyTracer) Export() string                                   { return "" }
func (t *DummyTracer) End()                                             {}
