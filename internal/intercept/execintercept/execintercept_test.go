package execintercept

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

type fakeSession struct {
	tracer oteltrace.Tracer
}

func (f *fakeSession) ToolSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	return f.tracer.Start(ctx, name, oteltrace.WithAttributes(attrs...))
}

func (f *fakeSession) HookSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	return f.tracer.Start(ctx, name, oteltrace.WithAttributes(attrs...))
}

func newFakeSession() *fakeSession {
	return &fakeSession{tracer: noop.NewTracerProvider().Tracer("test")}
}

type fakeCorrelator struct {
	id string
	ok bool
}

func (f fakeCorrelator) Match(toolName string, toolInput json.RawMessage) (string, bool) {
	return f.id, f.ok
}

func TestDetectHookInvocation_SentinelArg(t *testing.T) {
	cfg := Config{SentinelArg: "--tracecc-hook"}
	if !DetectHookInvocation(cfg, []string{"/usr/bin/node", "hook.js", "--tracecc-hook"}, nil) {
		t.Fatalf("expected sentinel arg to be detected")
	}
	if DetectHookInvocation(cfg, []string{"/usr/bin/node", "hook.js"}, nil) {
		t.Fatalf("expected no false positive without sentinel")
	}
}

func TestDetectHookInvocation_OrchestratorPath(t *testing.T) {
	cfg := Config{OrchestratorPath: "tracecc-hook"}
	if !DetectHookInvocation(cfg, []string{"/usr/local/bin/tracecc-hook"}, nil) {
		t.Fatalf("expected orchestrator path match")
	}
}

func TestDetectHookInvocation_ShellWithProjectMarker(t *testing.T) {
	cfg := Config{ProjectMarkerEnv: "TRACECC_PROJECT_DIR", ProjectMarkerValue: "/repo"}
	env := []string{"TRACECC_PROJECT_DIR=/repo", "PATH=/usr/bin"}
	if !DetectHookInvocation(cfg, []string{"/bin/sh", "-c", "echo hi"}, env) {
		t.Fatalf("expected shell+marker match")
	}
	if DetectHookInvocation(cfg, []string{"/usr/bin/curl", "https://example.com"}, env) {
		t.Fatalf("expected no match for a non-shell spawn")
	}
}

func TestRun_PassthroughForNonHookSpawn(t *testing.T) {
	res, err := Run(context.Background(), newFakeSession(), nil, Config{}, []string{"echo", "hi"}, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.IsHookInvocation {
		t.Fatalf("expected passthrough result, got hook invocation")
	}
	if res.ExitCode != 0 {
		t.Fatalf("expected exit 0, got %d", res.ExitCode)
	}
}

func TestRun_CapturedHookInvocationParsesEvent(t *testing.T) {
	cfg := Config{SentinelArg: "--tracecc-hook", MaxPreviewBytes: 4096}
	stdin := strings.NewReader(`{"session_id":"sess-1","hook_event_name":"PostToolUse","tool_name":"Bash","tool_input":{"command":"ls"},"tool_response":{"output":"ok"}}`)

	var stdout, stderr strings.Builder
	res, err := Run(context.Background(), newFakeSession(), fakeCorrelator{id: "tu_1", ok: true}, cfg,
		[]string{"sh", "-c", "cat", "--tracecc-hook"}, nil, stdin, &stdout, &stderr)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.IsHookInvocation {
		t.Fatalf("expected hook invocation to be detected")
	}
	if res.ParsedEvent == nil || res.ParsedEvent.HookEventName != "PostToolUse" {
		t.Fatalf("expected parsed PostToolUse event, got %+v", res.ParsedEvent)
	}
	if res.ParsedEvent.ToolName != "Bash" {
		t.Fatalf("expected tool name Bash, got %q", res.ParsedEvent.ToolName)
	}
}
