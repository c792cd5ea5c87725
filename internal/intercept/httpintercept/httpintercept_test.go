package httpintercept

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/markwolfe/tracecc/internal/pricing"
)

type fakeSession struct {
	tracer oteltrace.Tracer
}

func (f *fakeSession) APISpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	return f.tracer.Start(ctx, name, oteltrace.WithAttributes(attrs...))
}

func newFakeSession() *fakeSession {
	return &fakeSession{tracer: noop.NewTracerProvider().Tracer("test")}
}

type fakeCorrelator struct {
	mu      sync.Mutex
	records []ToolUse
}

func (f *fakeCorrelator) Record(toolUseID, toolName string, toolInput json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, ToolUse{ID: toolUseID, Name: toolName, Input: toolInput})
	return nil
}

func TestRoundTripper_MatchesBaseURL(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"claude-sonnet-4-5","usage":{"input_tokens":100,"output_tokens":50}}`))
	}))
	defer upstream.Close()

	rt := New(http.DefaultTransport, upstream.URL, newFakeSession(), nil, pricing.DefaultTable())

	req, err := http.NewRequest(http.MethodPost, upstream.URL+"/v1/messages", strings.NewReader(`{"model":"claude-sonnet-4-5"}`))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}

	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !strings.Contains(string(body), "claude-sonnet-4-5") {
		t.Fatalf("expected passthrough body, got %q", body)
	}
}

func TestRoundTripper_NonMatchingRequestPassesThrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	rt := New(http.DefaultTransport, "https://api.anthropic.com", newFakeSession(), nil, pricing.DefaultTable())

	req, err := http.NewRequest(http.MethodGet, upstream.URL, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "ok" {
		t.Fatalf("expected untouched passthrough, got %q", body)
	}
}

func TestRoundTripper_EstimatesInputTokensWhenProviderOmitsUsage(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"claude-sonnet-4-5","content":[{"type":"text","text":"hi"}]}`))
	}))
	defer upstream.Close()

	rt := New(http.DefaultTransport, upstream.URL, newFakeSession(), nil, pricing.DefaultTable())
	req, err := http.NewRequest(http.MethodPost, upstream.URL+"/v1/messages", strings.NewReader(`{"model":"claude-sonnet-4-5","messages":[{"role":"user","content":"hello there"}]}`))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	defer resp.Body.Close()
	_, _ = io.ReadAll(resp.Body)

	if n := estimateInputTokens(`{"model":"claude-sonnet-4-5","messages":[{"role":"user","content":"hello there"}]}`); n <= 0 {
		t.Fatalf("expected a positive estimate for non-empty request content, got %d", n)
	}
}

func TestEstimateInputTokens_LowerBoundedByWordCount(t *testing.T) {
	s := "a a a a a a a a a a"
	n := estimateInputTokens(s)
	wantFloor := int64(len(strings.Fields(s)) * 75 / 100)
	if n < wantFloor {
		t.Fatalf("expected estimate >= word-count floor %d, got %d", wantFloor, n)
	}
}

func TestEstimateInputTokens_EmptyIsZero(t *testing.T) {
	if n := estimateInputTokens(""); n != 0 {
		t.Fatalf("expected 0 for empty request, got %d", n)
	}
}

func TestParseSSE_MergesUsageAcrossEvents(t *testing.T) {
	body := "" +
		"data: {\"type\":\"message_start\",\"message\":{\"model\":\"claude-sonnet-4-5\",\"usage\":{\"input_tokens\":42,\"output_tokens\":0}}}\n\n" +
		"data: {\"type\":\"message_delta\",\"usage\":{\"output_tokens\":17}}\n\n" +
		"data: [DONE]\n\n"

	events, model, usage, _, _ := ParseSSE(body)
	if events != 2 {
		t.Fatalf("expected 2 counted events, got %d", events)
	}
	if model != "claude-sonnet-4-5" {
		t.Fatalf("expected model to be extracted, got %q", model)
	}
	if usage.InputTokens == nil || *usage.InputTokens != 42 {
		t.Fatalf("expected input tokens to stick from first event, got %+v", usage.InputTokens)
	}
	if usage.OutputTokens == nil || *usage.OutputTokens != 17 {
		t.Fatalf("expected output tokens overridden by delta, got %+v", usage.OutputTokens)
	}
}

func TestParseSSE_AccumulatesTextDeltasAcrossContentBlockEvents(t *testing.T) {
	body := "" +
		"data: {\"type\":\"message_start\",\"message\":{\"model\":\"claude-sonnet-4-5\",\"usage\":{\"input_tokens\":200}}}\n\n" +
		"data: {\"type\":\"content_block_start\",\"index\":0,\"content_block\":{\"type\":\"text\",\"text\":\"\"}}\n\n" +
		"data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"a\"}}\n\n" +
		"data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"b\"}}\n\n" +
		"data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"c\"}}\n\n" +
		"data: {\"type\":\"content_block_stop\",\"index\":0}\n\n" +
		"data: {\"type\":\"message_delta\",\"usage\":{\"output_tokens\":3}}\n\n" +
		"data: [DONE]\n\n"

	_, _, usage, text, _ := ParseSSE(body)
	if text != "abc" {
		t.Fatalf("expected accumulated response text %q, got %q", "abc", text)
	}
	if usage.InputTokens == nil || *usage.InputTokens != 200 {
		t.Fatalf("expected input tokens 200, got %+v", usage.InputTokens)
	}
	if usage.OutputTokens == nil || *usage.OutputTokens != 3 {
		t.Fatalf("expected output tokens 3, got %+v", usage.OutputTokens)
	}
}

func TestParseSSE_ExtractsStreamedToolUseBlock(t *testing.T) {
	body := "" +
		"data: {\"type\":\"content_block_start\",\"index\":0,\"content_block\":{\"type\":\"tool_use\",\"id\":\"tu_1\",\"name\":\"read_file\"}}\n\n" +
		"data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"input_json_delta\",\"partial_json\":\"{\\\"path\\\":\"}}\n\n" +
		"data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"input_json_delta\",\"partial_json\":\"\\\"/x\\\"}\"}}\n\n" +
		"data: {\"type\":\"content_block_stop\",\"index\":0}\n\n" +
		"data: [DONE]\n\n"

	_, _, _, _, toolUses := ParseSSE(body)
	if len(toolUses) != 1 {
		t.Fatalf("expected exactly one tool_use block, got %+v", toolUses)
	}
	use := toolUses[0]
	if use.ID != "tu_1" || use.Name != "read_file" {
		t.Fatalf("expected tu_1/read_file, got %+v", use)
	}
	if string(use.Input) != `{"path":"/x"}` {
		t.Fatalf("expected reassembled input json, got %q", use.Input)
	}
}

func TestParseJSONUsage_ExtractsTextAndToolUse(t *testing.T) {
	body := `{"model":"claude-sonnet-4-5","usage":{"input_tokens":10,"output_tokens":5},"content":[` +
		`{"type":"text","text":"abc"},` +
		`{"type":"tool_use","id":"tu_1","name":"read_file","input":{"path":"/x"}}` +
		`]}`

	model, usage, text, toolUses := parseJSONUsage(body)
	if model != "claude-sonnet-4-5" {
		t.Fatalf("expected model extracted, got %q", model)
	}
	if text != "abc" {
		t.Fatalf("expected response text %q, got %q", "abc", text)
	}
	if usage.InputTokens == nil || *usage.InputTokens != 10 {
		t.Fatalf("expected input tokens 10, got %+v", usage.InputTokens)
	}
	if len(toolUses) != 1 || toolUses[0].ID != "tu_1" || toolUses[0].Name != "read_file" {
		t.Fatalf("expected one tu_1/read_file tool use, got %+v", toolUses)
	}
}

func TestRoundTripper_RecordsToolUseWithCorrelator(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"claude-sonnet-4-5","usage":{"input_tokens":10,"output_tokens":5},"content":[{"type":"tool_use","id":"tu_1","name":"read_file","input":{"path":"/x"}}]}`))
	}))
	defer upstream.Close()

	corr := &fakeCorrelator{}
	rt := New(http.DefaultTransport, upstream.URL, newFakeSession(), corr, pricing.DefaultTable())

	req, err := http.NewRequest(http.MethodPost, upstream.URL+"/v1/messages", strings.NewReader(`{"model":"claude-sonnet-4-5"}`))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	_, _ = io.ReadAll(resp.Body)
	resp.Body.Close()

	corr.mu.Lock()
	defer corr.mu.Unlock()
	if len(corr.records) != 1 || corr.records[0].ID != "tu_1" || corr.records[0].Name != "read_file" {
		t.Fatalf("expected correlator to record tu_1/read_file, got %+v", corr.records)
	}
}
