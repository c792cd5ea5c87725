// Package httpintercept wraps an http.RoundTripper to observe outbound
// AI-provider HTTP traffic: it matches requests against the configured AI
// base URL, captures a bounded preview of the request/response bodies
// (SSE-aware), extracts token usage/model/cost, and emits one API span per
// call into the active tracer session. The bounded-capture/truncation
// idiom is adapted from the teacher's internal/funnel/http_proxy/proxy.go.
package httpintercept

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/markwolfe/tracecc/internal/pricing"
	"github.com/markwolfe/tracecc/internal/redact"
)

const (
	defaultMaxPreviewBytes = 10_000
	maxPromptChars         = 10_000
)

// Session is the subset of *tracer.Session the interceptor needs, kept as
// an interface so this package doesn't import internal/tracer directly
// (avoids an import cycle risk if tracer ever needs interceptor types).
type Session interface {
	APISpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span)
}

// Correlator is the subset of *correlate.Correlator the interceptor needs,
// kept as a local interface for the same reason Session is: this package
// shouldn't have to import internal/correlate just to call one method.
type Correlator interface {
	Record(toolUseID, toolName string, toolInput json.RawMessage) error
}

// RoundTripper wraps an underlying transport and matches requests against
// BaseURL.
type RoundTripper struct {
	Next            http.RoundTripper
	BaseURL         string
	Session         Session
	Correlator      Correlator
	PricingTable    *pricing.Table
	MaxPreviewBytes int
}

func New(next http.RoundTripper, baseURL string, session Session, correlator Correlator, table *pricing.Table) *RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &RoundTripper{
		Next:            next,
		BaseURL:         baseURL,
		Session:         session,
		Correlator:      correlator,
		PricingTable:    table,
		MaxPreviewBytes: defaultMaxPreviewBytes,
	}
}

func (rt *RoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if !rt.matches(req) {
		return rt.Next.RoundTrip(req)
	}

	start := time.Now()
	maxPreview := rt.MaxPreviewBytes
	if maxPreview <= 0 {
		maxPreview = defaultMaxPreviewBytes
	}

	model := ""
	var reqBody []byte
	if req.Body != nil {
		var err error
		reqBody, err = io.ReadAll(io.LimitReader(req.Body, int64(maxPreview)+1))
		if err == nil {
			req.Body = io.NopCloser(io.MultiReader(bytes.NewReader(reqBody), req.Body))
		}
		model = extractModel(reqBody)
	}

	urlRedacted, urlApplied := redact.Text(req.URL.String())
	promptRedacted, promptApplied := redact.Text(truncateChars(string(reqBody), maxPromptChars))
	ctx, span := rt.Session.APISpan(req.Context(), "api."+req.Method,
		attribute.String("http.url", urlRedacted),
		attribute.String("http.method", req.Method),
	)
	if model != "" {
		span.SetAttributes(attribute.String("ai.model", model))
	}
	if promptRedacted != "" {
		span.SetAttributes(attribute.String("ai.prompt", promptRedacted))
	}
	req = req.WithContext(ctx)

	resp, err := rt.Next.RoundTrip(req)
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.Bool("error", true))
		span.End()
		return nil, err
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	isSSE := strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream")
	capture := &boundedCapture{max: maxPreview}
	body := io.TeeReader(resp.Body, capture)
	resp.Body = &teeReadCloser{reader: body, closer: resp.Body}

	var usage pricing.TokenUsage
	var cost float64
	var costKnown bool
	doneErr := attachFinalizer(resp, func() {
		preview, truncated := capture.snapshot()
		previewRedacted, previewApplied := redact.Text(preview)

		var responseText string
		var toolUses []ToolUse
		if isSSE {
			events, sseModel, sseUsage, text, uses := ParseSSE(previewRedacted)
			if sseModel != "" {
				model = sseModel
			}
			usage = sseUsage
			responseText = text
			toolUses = uses
			span.SetAttributes(attribute.Int("ai.sse.event_count", events))
		} else {
			bodyModel, bodyUsage, text, uses := parseJSONUsage(previewRedacted)
			if bodyModel != "" {
				model = bodyModel
			}
			usage = bodyUsage
			responseText = text
			toolUses = uses
		}

		if model != "" {
			span.SetAttributes(attribute.String("ai.model", model))
		}

		inputTokens := tokensOrZero(usage.InputTokens)
		inputSource := "api"
		if usage.InputTokens == nil {
			inputTokens = estimateInputTokens(string(reqBody))
			inputSource = "estimated"
		}
		span.SetAttributes(
			attribute.Int64("ai.tokens.input", inputTokens),
			attribute.String("ai.tokens.input_source", inputSource),
			attribute.Int64("ai.tokens.output", tokensOrZero(usage.OutputTokens)),
			attribute.Int64("ai.cache.read", tokensOrZero(usage.CacheReadTokens)),
			attribute.Int64("ai.cache.write", tokensOrZero(usage.CacheWriteTokens)),
		)
		if rt.PricingTable != nil && model != "" {
			cost, costKnown = rt.PricingTable.Cost(model, usage)
			span.SetAttributes(
				attribute.Float64("ai.cost.usd", cost),
				attribute.Bool("ai.cost.unknown", !costKnown),
			)
		}

		if rt.Correlator != nil {
			for _, use := range toolUses {
				_ = rt.Correlator.Record(use.ID, use.Name, use.Input)
			}
		}

		redactions := append(append(append([]string{}, urlApplied.Names...), promptApplied.Names...), previewApplied.Names...)
		if len(redactions) > 0 {
			span.SetAttributes(attribute.StringSlice("redaction.applied", redactions))
		}
		span.SetAttributes(
			attribute.String("ai.response", responseText),
			attribute.Bool("http.response_truncated", truncated),
			attribute.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
		span.End()
	})
	_ = doneErr

	return resp, nil
}

// tokensOrZero reports a usage field as 0 rather than omitting the
// attribute, since ai.tokens.input/output/ai.cache.read/write are required
// attributes on every api span, not optional ones.
func tokensOrZero(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

// estimateInputTokens approximates the request's input token count when
// the provider's response omits usage.input_tokens: chars/3.7, raised to
// words*0.75 if that would put the estimate below it, so a request full of
// short whitespace-separated tokens (which skews the chars/token ratio
// down) never estimates to fewer tokens than it has words.
func estimateInputTokens(s string) int64 {
	chars := utf8.RuneCountInString(s)
	if chars == 0 {
		return 0
	}
	charEstimate := float64(chars) / 3.7
	wordFloor := float64(len(strings.Fields(s))) * 0.75
	estimate := math.Max(charEstimate, wordFloor)
	return int64(math.Round(estimate))
}

// truncateChars caps s at n runes, matching spec's "truncated to 10k chars"
// wording for ai.prompt/ai.response (a byte cap would split multi-byte
// runes at the boundary).
func truncateChars(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func (rt *RoundTripper) matches(req *http.Request) bool {
	if strings.TrimSpace(rt.BaseURL) == "" {
		return false
	}
	base := strings.TrimSuffix(rt.BaseURL, "/")
	full := req.URL.Scheme + "://" + req.URL.Host
	return strings.HasPrefix(full, base) || strings.HasPrefix(base, full)
}

type boundedCapture struct {
	max       int
	buf       bytes.Buffer
	truncated bool
}

func (c *boundedCapture) Write(p []byte) (int, error) {
	remaining := c.max - c.buf.Len()
	if remaining <= 0 {
		c.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		_, _ = c.buf.Write(p[:remaining])
		c.truncated = true
		return len(p), nil
	}
	_, _ = c.buf.Write(p)
	return len(p), nil
}

func (c *boundedCapture) snapshot() (preview string, truncated bool) {
	return c.buf.String(), c.truncated
}

// teeReadCloser lets callers observe the full response body stream (via
// the tee inside Read) while the real body continues to flow to the
// caller's own reader, and runs a finalizer once the caller closes it.
type teeReadCloser struct {
	reader io.Reader
	closer io.Closer
	onDone func()
}

func (t *teeReadCloser) Read(p []byte) (int, error) {
	n, err := t.reader.Read(p)
	if err == io.EOF && t.onDone != nil {
		t.onDone()
		t.onDone = nil
	}
	return n, err
}

func (t *teeReadCloser) Close() error {
	if t.onDone != nil {
		t.onDone()
		t.onDone = nil
	}
	return t.closer.Close()
}

// attachFinalizer arranges for fn to run once, either when the body
// signals EOF on Read or when it is Close()d, whichever happens first.
func attachFinalizer(resp *http.Response, fn func()) error {
	trc, ok := resp.Body.(*teeReadCloser)
	if !ok {
		fn()
		return nil
	}
	var once bool
	trc.onDone = func() {
		if once {
			return
		}
		once = true
		fn()
	}
	return nil
}
