package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDisabledFactoryGivesDummy(t *testing.T) {
	f := NewTracerFactoryFor(nil)
	tracer := f.NewTracer(context.Background(), "worker")
	assert.IsType(t, &DummyTracer{}, tracer)

	// all calls are no-ops
	tracer.Start()
	tracer.AddEvent("crash", nil)
	tracer.SetStatus(codes.Error, "x")
	assert.Equal(t, "", tracer.Export())
	tracer.End()

	var nilFactory *TracerFactory
	assert.IsType(t, &DummyTracer{}, nilFactory.NewTracerSpawnedFrom(context.Background(), "{}", "w"))
}

func TestSpanAttributes(t *testing.T) {
	attrs := NewSpanAttributes(Fuzzing).
		WithWorker(3, 9003).
		WithFuzzer("radamsa").
		WithExtraAttribute("netfuzz.iterations", uint64(10))

	got := map[attribute.Key]attribute.Value{}
	for _, kv := range attrs.Attributes() {
		got[kv.Key] = kv.Value
	}
	assert.Equal(t, "fuzzing", got["netfuzz.action.category"].AsString())
	assert.Equal(t, int64(3), got["netfuzz.worker.id"].AsInt64())
	assert.Equal(t, int64(9003), got["netfuzz.worker.port"].AsInt64())
	assert.Equal(t, "radamsa", got["netfuzz.fuzzer"].AsString())
	assert.Equal(t, int64(10), got["netfuzz.iterations"].AsInt64())
	_, hasSeed := got["netfuzz.iteration.seed"]
	assert.False(t, hasSeed)
}

func TestMergeKeepsExisting(t *testing.T) {
	base := EmptySpanAttributes().WithSeed("1").WithExtraAttribute("k", "a")
	base.Merge(NewSpanAttributes(CrashExport).WithSeed("2").WithCrashCause("DoubleFree").WithExtraAttribute("k", "b"))

	require.Equal(t, "crash_export", base.ActionCategory)
	assert.Equal(t, "1", base.Seed.val)
	assert.Equal(t, "DoubleFree", base.CrashCause.val)
	assert.Equal(t, "a", base.extraAttributes["k"])
}

func TestSpawnFromExportedSpan(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer tp.Shutdown(context.Background())
	tracer := tp.Tracer("netfuzz-test")

	parent := NewTelemetryTracer(context.Background(), tracer, "coordinator run")
	parent.Start()
	exported := parent.Export()
	require.NotEqual(t, "{}", exported)

	origin, err := NewTelemetryTracerFrom(context.Background(), tracer, exported)
	require.NoError(t, err)
	child := origin.Spawn("worker run")
	child.Start()
	child.End()
	// the imported span is not ours to end
	origin.End()
	parent.End()

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	worker, coordinator := spans[0], spans[1]
	assert.Equal(t, "worker run", worker.Name())
	assert.Equal(t, coordinator.SpanContext().TraceID(), worker.SpanContext().TraceID())
	assert.Equal(t, coordinator.SpanContext().SpanID(), worker.Parent().SpanID())

	_, err = NewTelemetryTracerFrom(context.Background(), tracer, "not json")
	assert.Error(t, err)
}
