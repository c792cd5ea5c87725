// Package otlpjson defines the plain-JSON OTLP wire structs written to
// trace.otlp.jsonl. It deliberately does not use
// go.opentelemetry.io/proto/otlp: that package's AnyValue is a protobuf
// oneof and needs protojson to marshal correctly, which does not compose
// with a plain encoding/json, one-JSON-object-per-line append contract.
package otlpjson

import "strconv"

// ResourceSpansDoc is one line of trace.otlp.jsonl: a complete OTLP
// ExportTraceServiceRequest-shaped document for a single export call.
type ResourceSpansDoc struct {
	ResourceSpans []ResourceSpans `json:"resourceSpans"`
}

type ResourceSpans struct {
	Resource   Resource     `json:"resource"`
	ScopeSpans []ScopeSpans `json:"scopeSpans"`
}

type Resource struct {
	Attributes []KeyValue `json:"attributes,omitempty"`
}

type InstrumentationScope struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

type ScopeSpans struct {
	Scope InstrumentationScope `json:"scope"`
	Spans []Span               `json:"spans"`
}

// Span kind values, mirroring OTLP's SpanKind enum.
const (
	SpanKindUnspecified = 0
	SpanKindInternal    = 1
	SpanKindServer      = 2
	SpanKindClient      = 3
	SpanKindProducer    = 4
	SpanKindConsumer    = 5
)

// Status code values, mirroring OTLP's Status.StatusCode enum.
const (
	StatusCodeUnset = 0
	StatusCodeOK    = 1
	StatusCodeError = 2
)

type Span struct {
	TraceID           string     `json:"traceId"`
	SpanID            string     `json:"spanId"`
	ParentSpanID      string     `json:"parentSpanId,omitempty"`
	Name              string     `json:"name"`
	Kind              int        `json:"kind"`
	StartTimeUnixNano string     `json:"startTimeUnixNano"`
	EndTimeUnixNano   string     `json:"endTimeUnixNano"`
	Attributes        []KeyValue `json:"attributes,omitempty"`
	Status            Status     `json:"status"`
}

type Status struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

type KeyValue struct {
	Key   string   `json:"key"`
	Value AnyValue `json:"value"`
}

// AnyValue models OTLP's AnyValue oneof as a struct with at most one
// populated field. IntValue is a decimal string per the OTLP JSON mapping
// for int64.
type AnyValue struct {
	StringValue *string  `json:"stringValue,omitempty"`
	IntValue    *string  `json:"intValue,omitempty"`
	DoubleValue *float64 `json:"doubleValue,omitempty"`
	BoolValue   *bool    `json:"boolValue,omitempty"`
}

func StringValue(s string) AnyValue   { return AnyValue{StringValue: &s} }
func BoolValue(b bool) AnyValue       { return AnyValue{BoolValue: &b} }
func DoubleValue(f float64) AnyValue  { return AnyValue{DoubleValue: &f} }
func IntValue(n int64) AnyValue {
	s := strconv.FormatInt(n, 10)
	return AnyValue{IntValue: &s}
}

func StringAttr(key, value string) KeyValue { return KeyValue{Key: key, Value: StringValue(value)} }
func BoolAttr(key string, value bool) KeyValue {
	return KeyValue{Key: key, Value: BoolValue(value)}
}
func IntAttr(key string, value int64) KeyValue { return KeyValue{Key: key, Value: IntValue(value)} }
func DoubleAttr(key string, value float64) KeyValue {
	return KeyValue{Key: key, Value: DoubleValue(value)}
}
