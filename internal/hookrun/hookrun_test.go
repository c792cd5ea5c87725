package hookrun

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

type fakeSession struct {
	tracer oteltrace.Tracer
}

func (f *fakeSession) HookSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	return f.tracer.Start(ctx, name, oteltrace.WithAttributes(attrs...))
}

func newFakeSession() *fakeSession {
	return &fakeSession{tracer: noop.NewTracerProvider().Tracer("test")}
}

func TestExecute_MergesFirstNonEmptyFieldAcrossCommands(t *testing.T) {
	commands := []HookCommand{
		{Type: "command", Command: `echo '{"continue":true}'`},
		{Type: "command", Command: `echo '{"continue":true,"decision":"block","reason":"policy"}'`},
		{Type: "command", Command: `echo '{"continue":true,"decision":"approve","reason":"ignored"}'`},
	}
	event := Event{SessionID: "sess-1", HookEventName: "PreToolUse", ToolName: "Bash"}

	resp, err := Execute(context.Background(), newFakeSession(), event, []byte(`{}`), commands, 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !resp.Continue {
		t.Fatalf("expected continue=true")
	}
	if resp.Decision != "block" || resp.Reason != "policy" {
		t.Fatalf("expected first non-empty decision to win, got %+v", resp)
	}
}

func TestExecute_FirstBlockingResultShortCircuits(t *testing.T) {
	commands := []HookCommand{
		{Type: "command", Command: `echo '{"continue":false,"stopReason":"blocked by rule A"}'`},
		{Type: "command", Command: `echo '{"continue":true,"decision":"approve"}'`},
	}
	event := Event{SessionID: "sess-1", HookEventName: "PreToolUse", ToolName: "Bash"}

	resp, err := Execute(context.Background(), newFakeSession(), event, []byte(`{}`), commands, 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp.Continue {
		t.Fatalf("expected continue=false to short-circuit")
	}
	if resp.StopReason != "blocked by rule A" {
		t.Fatalf("expected stop reason from the blocking command, got %q", resp.StopReason)
	}
}

func TestExecute_NoCommandsYieldsDefaultContinue(t *testing.T) {
	event := Event{SessionID: "sess-1", HookEventName: "SessionStart"}
	resp, err := Execute(context.Background(), newFakeSession(), event, []byte(`{}`), nil, 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !resp.Continue {
		t.Fatalf("expected default continue=true with no commands")
	}
}
