// Package otlpwriter implements go.opentelemetry.io/otel/sdk/trace's
// SpanExporter, converting finished spans into the hand-rolled OTLP-JSON
// wire shape (internal/otlpjson) and appending them as one newline-
// terminated document per export call to trace.otlp.jsonl, guarded by the
// same advisory directory lock the rest of the module uses for append
// safety (internal/store).
package otlpwriter

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/markwolfe/tracecc/internal/otlpjson"
	"github.com/markwolfe/tracecc/internal/store"
)

const scopeName = "github.com/markwolfe/tracecc"

// Writer appends OTLP-JSON span batches to a JSONL file. It implements
// sdktrace.SpanExporter and is meant to be installed via
// sdktrace.WithSyncer so spans are flushed synchronously as each one ends,
// matching spec.md's "durable as soon as a span completes" requirement
// (no batching window to lose spans across a host crash).
type Writer struct {
	path            string
	sessionID       string
	parentSessionID string
	resourceAttrs   []otlpjson.KeyValue

	mu          sync.Mutex
	errorCount  atomic.Int64
	lastFlushNs atomic.Int64
}

func New(path, sessionID, parentSessionID string) *Writer {
	attrs := []otlpjson.KeyValue{
		otlpjson.StringAttr("service.name", "tracecc"),
	}
	if sessionID != "" {
		attrs = append(attrs, otlpjson.StringAttr("session.id", sessionID))
	}
	if parentSessionID != "" {
		attrs = append(attrs, otlpjson.StringAttr("parent.session.id", parentSessionID))
	}
	return &Writer{
		path:            path,
		sessionID:       sessionID,
		parentSessionID: parentSessionID,
		resourceAttrs:   attrs,
	}
}

// ErrorCount returns the number of failed export calls so far, surfaced by
// `tracecc doctor --metrics`.
func (w *Writer) ErrorCount() int64 { return w.errorCount.Load() }

// LastFlushUnixNano returns the wall-clock time of the last successful
// export, or zero if none has happened yet.
func (w *Writer) LastFlushUnixNano() int64 { return w.lastFlushNs.Load() }

func (w *Writer) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	if len(spans) == 0 {
		return nil
	}

	wireSpans := make([]otlpjson.Span, 0, len(spans))
	for _, s := range spans {
		wireSpans = append(wireSpans, convertSpan(s))
	}

	doc := otlpjson.ResourceSpansDoc{
		ResourceSpans: []otlpjson.ResourceSpans{
			{
				Resource: otlpjson.Resource{Attributes: w.resourceAttrs},
				ScopeSpans: []otlpjson.ScopeSpans{
					{
						Scope: otlpjson.InstrumentationScope{Name: scopeName},
						Spans: wireSpans,
					},
				},
			},
		},
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := store.AppendJSONL(w.path, doc); err != nil {
		w.errorCount.Add(1)
		return fmt.Errorf("otlpwriter: append %s: %w", w.path, err)
	}
	w.lastFlushNs.Store(time.Now().UnixNano())
	return nil
}

func (w *Writer) Shutdown(ctx context.Context) error { return nil }

func convertSpan(s sdktrace.ReadOnlySpan) otlpjson.Span {
	sc := s.SpanContext()
	parent := s.Parent()

	var parentSpanID string
	if parent.SpanID() != (oteltrace.SpanID{}) {
		parentSpanID = parent.SpanID().String()
	}

	attrs := make([]otlpjson.KeyValue, 0, len(s.Attributes()))
	for _, kv := range s.Attributes() {
		attrs = append(attrs, convertAttr(kv))
	}

	return otlpjson.Span{
		TraceID:           sc.TraceID().String(),
		SpanID:            sc.SpanID().String(),
		ParentSpanID:      parentSpanID,
		Name:              s.Name(),
		Kind:              convertKind(s.SpanKind()),
		StartTimeUnixNano: strconv.FormatInt(s.StartTime().UnixNano(), 10),
		EndTimeUnixNano:   strconv.FormatInt(s.EndTime().UnixNano(), 10),
		Attributes:        attrs,
		Status:            convertStatus(s.Status()),
	}
}

func convertAttr(kv attribute.KeyValue) otlpjson.KeyValue {
	key := string(kv.Key)
	switch kv.Value.Type() {
	case attribute.BOOL:
		return otlpjson.BoolAttr(key, kv.Value.AsBool())
	case attribute.INT64:
		return otlpjson.IntAttr(key, kv.Value.AsInt64())
	case attribute.FLOAT64:
		return otlpjson.DoubleAttr(key, kv.Value.AsFloat64())
	default:
		return otlpjson.StringAttr(key, kv.Value.Emit())
	}
}

func convertKind(k oteltrace.SpanKind) int {
	switch k {
	case oteltrace.SpanKindServer:
		return otlpjson.SpanKindServer
	case oteltrace.SpanKindClient:
		return otlpjson.SpanKindClient
	case oteltrace.SpanKindProducer:
		return otlpjson.SpanKindProducer
	case oteltrace.SpanKindConsumer:
		return otlpjson.SpanKindConsumer
	case oteltrace.SpanKindInternal:
		return otlpjson.SpanKindInternal
	default:
		return otlpjson.SpanKindUnspecified
	}
}

func convertStatus(st sdktrace.Status) otlpjson.Status {
	switch st.Code {
	case codes.Ok:
		return otlpjson.Status{Code: otlpjson.StatusCodeOK, Message: st.Description}
	case codes.Error:
		return otlpjson.Status{Code: otlpjson.StatusCodeError, Message: st.Description}
	default:
		return otlpjson.Status{Code: otlpjson.StatusCodeUnset, Message: st.Description}
	}
}
