package tracer

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/markwolfe/tracecc/internal/otlpjson"
)

func TestSession_APISpan_NestsUnderRoot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trace.otlp.jsonl")

	sess := Start(context.Background(), path, "20260101-000000Z-abcdef", "sess-1", "")
	ctx, span := sess.APISpan(sess.Context(), "api.anthropic.messages")
	EndOK(span)
	_ = ctx

	if err := sess.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(raw) == 0 {
		t.Fatalf("expected spans written to %s", path)
	}
}

func TestAttach_ParentsUnderSameDeterministicRootAsStart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trace.otlp.jsonl")
	runID := "20260101-000000Z-abcdef"

	wrapper := Start(context.Background(), path, runID, "sess-1", "")
	_, wrapperSpan := wrapper.ToolSpan(wrapper.Context(), "tool.call")
	EndOK(wrapperSpan)

	hookProc := Attach(context.Background(), path, runID, "sess-1", "")
	_, hookSpan := hookProc.HookSpan(hookProc.Context(), "Hook: PreToolUse")
	EndOK(hookSpan)

	if err := wrapper.Close(context.Background()); err != nil {
		t.Fatalf("wrapper Close: %v", err)
	}
	if err := hookProc.Close(context.Background()); err != nil {
		t.Fatalf("hookProc Close: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := splitNonEmptyLinesForTest(raw)
	if len(lines) != 3 {
		t.Fatalf("expected 3 JSONL lines (root + tool + hook), got %d", len(lines))
	}

	var rootTraceID, rootSpanID string
	parentSpanIDs := map[string]bool{}
	for _, line := range lines {
		var doc otlpjson.ResourceSpansDoc
		if err := json.Unmarshal(line, &doc); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		for _, span := range doc.ResourceSpans[0].ScopeSpans[0].Spans {
			if span.Name == "session" {
				rootTraceID = span.TraceID
				rootSpanID = span.SpanID
			} else {
				parentSpanIDs[span.ParentSpanID] = true
			}
			if span.TraceID != rootTraceID && rootTraceID != "" {
				t.Fatalf("expected all spans to share one trace id, got %q and %q", rootTraceID, span.TraceID)
			}
		}
	}
	if rootSpanID == "" {
		t.Fatalf("expected to find the root session span")
	}
	if len(parentSpanIDs) != 1 || !parentSpanIDs[rootSpanID] {
		t.Fatalf("expected both the wrapper-process and hook-process spans to parent under the root span id %q, got parents %v", rootSpanID, parentSpanIDs)
	}
}

func splitNonEmptyLinesForTest(raw []byte) [][]byte {
	var out [][]byte
	start := 0
	for i, b := range raw {
		if b == '\n' {
			if i > start {
				out = append(out, raw[start:i])
			}
			start = i + 1
		}
	}
	if start < len(raw) {
		out = append(out, raw[start:])
	}
	return out
}
