package telemetry

import (
	"fmt"
	"maps"

	"go.opentelemetry.io/otel/attribute"
)

type SpanAttributes struct {
	ActionCategory string

	WorkerID   optional[int]    // netfuzz.worker.id
	Port       optional[int]    // netfuzz.worker.port
	Fuzzer     optional[string] // netfuzz.fuzzer
	TargetBin  optional[string] // netfuzz.target.bin
	Seed       optional[string] // netfuzz.iteration.seed
	CrashCause optional[string] // netfuzz.crash.cause
	CorpusSize optional[int]    // netfuzz.corpus.size

	extraAttributes map[string]any
}

func NewSpanAttributes(actionCategory ActionCategory) *SpanAttributes {
	return &SpanAttributes{
		ActionCategory:  actionCategory.String(),
		extraAttributes: make(map[string]any),
	}
}

// an empty set, to be populated later
func EmptySpanAttributes() *SpanAttributes {
	return &SpanAttributes{
		extraAttributes: make(map[string]any),
	}
}

// Merge copies values that are set in other but not yet in o.
// ActionCategory is always taken from other when present.
func (o *SpanAttributes) Merge(other *SpanAttributes) {
	if other == nil {
		return
	}

	if other.ActionCategory != "" {
		o.ActionCategory = other.ActionCategory
	}

	mergeOptional(&o.WorkerID, &other.WorkerID)
	mergeOptional(&o.Port, &other.Port)
	mergeOptional(&o.Fuzzer, &other.Fuzzer)
	mergeOptional(&o.TargetBin, &other.TargetBin)
	mergeOptional(&o.Seed, &other.Seed)
	mergeOptional(&o.CrashCause, &other.CrashCause)
	mergeOptional(&o.CorpusSize, &other.CorpusSize)

	if o.extraAttributes == nil {
		o.extraAttributes = make(map[string]any)
	}
	for k, v := range other.extraAttributes {
		if _, exists := o.extraAttributes[k]; !exists {
			o.extraAttributes[k] = v
		}
	}
}

func (o *SpanAttributes) WithWorker(id, port int) *SpanAttributes {
	o.WorkerID.Set(id)
	o.Port.Set(port)
	return o
}

func (o *SpanAttributes) WithFuzzer(val string) *SpanAttributes {
	o.Fuzzer.Set(val)
	return o
}

func (o *SpanAttributes) WithTargetBin(val string) *SpanAttributes {
	o.TargetBin.Set(val)
	return o
}

func (o *SpanAttributes) WithSeed(val string) *SpanAttributes {
	o.Seed.Set(val)
	return o
}

func (o *SpanAttributes) WithCrashCause(val string) *SpanAttributes {
	o.CrashCause.Set(val)
	return o
}

func (o *SpanAttributes) WithCorpusSize(val int) *SpanAttributes {
	o.CorpusSize.Set(val)
	return o
}

func (o *SpanAttributes) WithExtraAttribute(key string, val any) *SpanAttributes {
	if o.extraAttributes == nil {
		o.extraAttributes = make(map[string]any)
	}
	o.extraAttributes[key] = val
	return o
}

func (o *SpanAttributes) WithExtraAttributes(attrs map[string]any) *SpanAttributes {
	if o.extraAttributes == nil {
		o.extraAttributes = make(map[string]any)
	}
	maps.Copy(o.extraAttributes, attrs)
	return o
}

func (o SpanAttributes) Attributes() []attribute.KeyValue {
	var attrs []attribute.KeyValue
	attrs = append(attrs, attribute.String("netfuzz.action.category", o.ActionCategory))
	if o.WorkerID.set {
		attrs = append(attrs, attribute.Int("netfuzz.worker.id", o.WorkerID.val))
	}
	if o.Port.set {
		attrs = append(attrs, attribute.Int("netfuzz.worker.port", o.Port.val))
	}
	if o.Fuzzer.set {
		attrs = append(attrs, attribute.String("netfuzz.fuzzer", o.Fuzzer.val))
	}
	if o.TargetBin.set {
		attrs = append(attrs, attribute.String("netfuzz.target.bin", o.TargetBin.val))
	}
	if o.Seed.set {
		attrs = append(attrs, attribute.String("netfuzz.iteration.seed", o.Seed.val))
	}
	if o.CrashCause.set {
		attrs = append(attrs, attribute.String("netfuzz.crash.cause", o.CrashCause.val))
	}
	if o.CorpusSize.set {
		attrs = append(attrs, attribute.Int("netfuzz.corpus.size", o.CorpusSize.val))
	}

	for k, v := range o.extraAttributes {
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case uint64:
			attrs = append(attrs, attribute.Int64(k, int64(val)))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}

	return attrs
}

type EventAttributes []attribute.KeyValue

func NewEventAttributes(attributes map[string]string) EventAttributes {
	attrs := make(EventAttributes, 0, len(attributes))
	for k, v := range attributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}

type optional[T any] struct {
	val T
	set bool
}

func (o *optional[T]) Set(val T) { o.val = val; o.set = true }

func mergeOptional[T any](target, source *optional[T]) {
	if !target.set && source.set {
		target.val = source.val
		target.set = true
	}
}
