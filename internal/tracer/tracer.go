// Package tracer owns the session-scoped TracerProvider and the root
// session span, and vends the handful of span constructors the rest of
// tracecc needs (API spans, tool spans, hook spans).
//
// A run's spans are produced by more than one OS process: the wrapper
// process that installs C4/C5 holds the real root "session" span, but the
// C7 hook orchestrator runs as a freshly exec'd binary per hook event and
// must still parent its spans under that same root. Since the two never
// share memory, the trace id and the root span's id are derived
// deterministically from the run id (see deriveTraceID/deriveRootSpanID)
// so any process that knows RUN_ID can reconstruct the exact SpanContext
// the true root span was allocated with and parent new spans under it.
package tracer

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/markwolfe/tracecc/internal/otlpwriter"
)

// Session wraps a TracerProvider configured with WithSyncer against an
// otlpwriter.Writer, plus the root session span's context, so every span
// started for the lifetime of a tracecc run nests under one trace.
type Session struct {
	provider  *sdktrace.TracerProvider
	tracer    oteltrace.Tracer
	writer    *otlpwriter.Writer
	rootCtx   context.Context
	endRootFn func()
}

// Start creates the TracerProvider, opens the root "session" span, and
// returns a Session ready to vend child spans. Call this exactly once per
// run, from the wrapper process that owns the run's lifetime. runID seeds
// the deterministic id generator; sessionID (the host's own conversation
// id, if discovered) is stamped as a resource attribute by the writer.
func Start(ctx context.Context, tracePath, runID, sessionID, parentSessionID string) *Session {
	w := otlpwriter.New(tracePath, sessionID, parentSessionID)
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(w),
		sdktrace.WithIDGenerator(newIDGenerator(runID)),
	)
	tr := provider.Tracer("github.com/markwolfe/tracecc")

	rootCtx, rootSpan := tr.Start(ctx, "session",
		oteltrace.WithSpanKind(oteltrace.SpanKindInternal),
		oteltrace.WithAttributes(attribute.String("session.run_id", runID)),
	)

	return &Session{
		provider:  provider,
		tracer:    tr,
		writer:    w,
		rootCtx:   rootCtx,
		endRootFn: func() { rootSpan.End() },
	}
}

// Attach builds a Session for a process that joins an already-running run
// (the C7 hook orchestrator, invoked fresh per hook event) without
// owning the root span. Its spans carry the same trace id and parent
// under the same deterministic root span id as the wrapper process's real
// root, so C8's span-tree reconstruction sees one contiguous trace.
func Attach(ctx context.Context, tracePath, runID, sessionID, parentSessionID string) *Session {
	w := otlpwriter.New(tracePath, sessionID, parentSessionID)
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(w),
		sdktrace.WithIDGenerator(newIDGenerator(runID)),
	)
	tr := provider.Tracer("github.com/markwolfe/tracecc")

	sc := oteltrace.NewSpanContext(oteltrace.SpanContextConfig{
		TraceID:    deriveTraceID(runID),
		SpanID:     deriveRootSpanID(runID),
		TraceFlags: oteltrace.FlagsSampled,
		Remote:     true,
	})
	rootCtx := oteltrace.ContextWithSpanContext(ctx, sc)

	return &Session{
		provider:  provider,
		tracer:    tr,
		writer:    w,
		rootCtx:   rootCtx,
		endRootFn: func() {},
	}
}

// Context returns the context carrying the root session span, for
// propagation into the first level of API/tool/hook spans.
func (s *Session) Context() context.Context { return s.rootCtx }

// Writer exposes the underlying exporter for doctor/metrics introspection.
func (s *Session) Writer() *otlpwriter.Writer { return s.writer }

// Close ends the root span (a no-op for a Session built with Attach, which
// never owned one) and shuts down the provider, flushing any pending
// export — a no-op with WithSyncer, since every span is exported
// synchronously as it ends, but still required to release resources.
func (s *Session) Close(ctx context.Context) error {
	s.endRootFn()
	return s.provider.Shutdown(ctx)
}

// APISpan starts a span representing one outbound AI-provider HTTP call.
func (s *Session) APISpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	return s.tracer.Start(ctx, name,
		oteltrace.WithSpanKind(oteltrace.SpanKindClient),
		oteltrace.WithAttributes(attrs...),
	)
}

// ToolSpan starts a span representing one subprocess/tool invocation made
// by the host.
func (s *Session) ToolSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	return s.tracer.Start(ctx, name,
		oteltrace.WithSpanKind(oteltrace.SpanKindInternal),
		oteltrace.WithAttributes(attrs...),
	)
}

// HookSpan starts a span representing one user-hook-command execution
// within the hook orchestrator.
func (s *Session) HookSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	return s.tracer.Start(ctx, name,
		oteltrace.WithSpanKind(oteltrace.SpanKindInternal),
		oteltrace.WithAttributes(attrs...),
	)
}

// EndOK ends span with an Ok status.
func EndOK(span oteltrace.Span) {
	span.SetStatus(codes.Ok, "")
	span.End()
}

// EndError ends span with an Error status carrying err's message.
func EndError(span oteltrace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func deriveTraceID(runID string) oteltrace.TraceID {
	sum := sha256.Sum256([]byte("tracecc.trace:" + runID))
	var id oteltrace.TraceID
	copy(id[:], sum[:16])
	return id
}

func deriveRootSpanID(runID string) oteltrace.SpanID {
	sum := sha256.Sum256([]byte("tracecc.root:" + runID))
	var id oteltrace.SpanID
	copy(id[:], sum[:8])
	return id
}

// idGenerator derives the run's trace id and root span id deterministically
// from runID (so every process contributing spans to a run agrees on both),
// and mints unique-but-otherwise-arbitrary span ids for everything else.
// processSalt is random per process so two processes sharing a run id and
// starting from the same counter value never mint the same span id.
type idGenerator struct {
	runID       string
	processSalt [16]byte
	counter     atomic.Uint64
}

func newIDGenerator(runID string) *idGenerator {
	g := &idGenerator{runID: runID}
	_, _ = rand.Read(g.processSalt[:])
	return g
}

// NewIDs is called by the SDK only when starting a span whose context
// carries no existing trace — i.e. the true root "session" span.
func (g *idGenerator) NewIDs(ctx context.Context) (oteltrace.TraceID, oteltrace.SpanID) {
	return deriveTraceID(g.runID), deriveRootSpanID(g.runID)
}

// NewSpanID is called for every span started under an existing trace
// context, which is every span this package ever opens except the root.
func (g *idGenerator) NewSpanID(ctx context.Context, traceID oteltrace.TraceID) oteltrace.SpanID {
	n := g.counter.Add(1)
	var buf [8]byte
	buf[0] = byte(n)
	buf[1] = byte(n >> 8)
	buf[2] = byte(n >> 16)
	buf[3] = byte(n >> 24)
	buf[4] = byte(n >> 32)
	buf[5] = byte(n >> 40)
	buf[6] = byte(n >> 48)
	buf[7] = byte(n >> 56)
	seed := append([]byte("tracecc.span:"+g.runID+":"), traceID[:]...)
	seed = append(seed, g.processSalt[:]...)
	seed = append(seed, buf[:]...)
	sum := sha256.Sum256(seed)
	var id oteltrace.SpanID
	copy(id[:], sum[:8])
	return id
}
