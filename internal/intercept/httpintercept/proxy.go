package httpintercept

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/markwolfe/tracecc/internal/pricing"
	"github.com/markwolfe/tracecc/internal/redact"
)

// ProxyHandle is a running fallback proxy started by StartProxy, kept for
// callers that need to shut it down at session end. It is the "proxy"
// strategy in the intercept strategy chain: used when the wrapped host's
// process doesn't expose a way to install a custom http.RoundTripper (the
// "transport_patch" strategy this package's RoundTripper implements), so
// tracecc instead sits in front of the upstream as a listening reverse
// proxy and the host is pointed at it via its own base-URL override.
type ProxyHandle struct {
	server   *http.Server
	listener net.Listener
}

// Addr returns the address the proxy is actually listening on, useful when
// listenAddr requests an ephemeral port (":0").
func (h *ProxyHandle) Addr() string {
	return h.listener.Addr().String()
}

// Close shuts the proxy server down.
func (h *ProxyHandle) Close(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}

// StartProxy launches a reverse proxy on listenAddr that forwards every
// request to upstream, capturing a bounded request/response preview and
// emitting one API span per proxied call. Modeled directly on the
// teacher's internal/funnel/http_proxy/proxy.go Start function.
func StartProxy(ctx context.Context, listenAddr, upstream string, session Session, correlator Correlator, table *pricing.Table, maxPreviewBytes int) (*ProxyHandle, error) {
	if maxPreviewBytes <= 0 {
		maxPreviewBytes = defaultMaxPreviewBytes
	}
	upstreamURL, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("httpintercept: parse upstream: %w", err)
	}

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("httpintercept: listen %s: %w", listenAddr, err)
	}

	rp := httputil.NewSingleHostReverseProxy(upstreamURL)
	baseDirector := rp.Director
	rp.Director = func(req *http.Request) {
		baseDirector(req)
		req.Host = upstreamURL.Host
	}

	handler := &proxyHandler{
		next:            rp,
		session:         session,
		correlator:      correlator,
		table:           table,
		maxPreviewBytes: maxPreviewBytes,
	}

	server := &http.Server{Handler: handler}
	go func() {
		_ = server.Serve(ln)
	}()

	return &ProxyHandle{server: server, listener: ln}, nil
}

type proxyHandler struct {
	next            http.Handler
	session         Session
	correlator      Correlator
	table           *pricing.Table
	maxPreviewBytes int
}

func (h *proxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var reqPreview []byte
	if r.Body != nil {
		capped := io.LimitReader(r.Body, int64(h.maxPreviewBytes)+1)
		buf, _ := io.ReadAll(capped)
		reqPreview = buf
		r.Body = io.NopCloser(io.MultiReader(strings.NewReader(string(buf)), r.Body))
	}
	model := extractModel(reqPreview)

	urlRedacted, urlApplied := redact.Text(r.URL.String())
	promptRedacted, promptApplied := redact.Text(truncateChars(string(reqPreview), maxPromptChars))
	ctx, span := h.session.APISpan(r.Context(), "api.proxy."+r.Method)
	defer span.End()
	span.SetAttributes(attribute.String("http.url", urlRedacted), attribute.String("http.method", r.Method))
	if model != "" {
		span.SetAttributes(attribute.String("ai.model", model))
	}
	if promptRedacted != "" {
		span.SetAttributes(attribute.String("ai.prompt", promptRedacted))
	}
	r = r.WithContext(ctx)

	capture := &boundedCapture{max: h.maxPreviewBytes}
	rec := &captureResponseWriter{ResponseWriter: w, tee: capture}
	h.next.ServeHTTP(rec, r)

	preview, truncated := capture.snapshot()
	previewRedacted, previewApplied := redact.Text(preview)

	isSSE := strings.Contains(rec.Header().Get("Content-Type"), "text/event-stream")
	var usage pricing.TokenUsage
	var responseText string
	var toolUses []ToolUse
	if isSSE {
		events, sseModel, sseUsage, text, uses := ParseSSE(previewRedacted)
		span.SetAttributes(attribute.Int("ai.sse.event_count", events))
		if sseModel != "" {
			model = sseModel
		}
		usage = sseUsage
		responseText = text
		toolUses = uses
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
		inputTokens = estimateInputTokens(string(reqPreview))
		inputSource = "estimated"
	}
	span.SetAttributes(
		attribute.Int64("ai.tokens.input", inputTokens),
		attribute.String("ai.tokens.input_source", inputSource),
		attribute.Int64("ai.tokens.output", tokensOrZero(usage.OutputTokens)),
		attribute.Int64("ai.cache.read", tokensOrZero(usage.CacheReadTokens)),
		attribute.Int64("ai.cache.write", tokensOrZero(usage.CacheWriteTokens)),
	)
	if h.table != nil && model != "" {
		cost, known := h.table.Cost(model, usage)
		span.SetAttributes(attribute.Float64("ai.cost.usd", cost), attribute.Bool("ai.cost.unknown", !known))
	}

	if h.correlator != nil {
		for _, use := range toolUses {
			_ = h.correlator.Record(use.ID, use.Name, use.Input)
		}
	}

	redactions := append(append(append([]string{}, urlApplied.Names...), promptApplied.Names...), previewApplied.Names...)
	if len(redactions) > 0 {
		span.SetAttributes(attribute.StringSlice("redaction.applied", redactions))
	}
	span.SetAttributes(
		attribute.Int("http.status_code", rec.status),
		attribute.String("ai.response", responseText),
		attribute.Bool("http.response_truncated", truncated),
		attribute.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
}

// captureResponseWriter tees the response body into a bounded capture
// buffer while still writing every byte through to the real client,
// mirroring the teacher's countingReadCloser/boundedCapture pairing but on
// the response-write side of a reverse proxy instead of the request side.
type captureResponseWriter struct {
	http.ResponseWriter
	tee    *boundedCapture
	status int
}

func (c *captureResponseWriter) WriteHeader(status int) {
	c.status = status
	c.ResponseWriter.WriteHeader(status)
}

func (c *captureResponseWriter) Write(p []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	_, _ = c.tee.Write(p)
	return c.ResponseWriter.Write(p)
}
