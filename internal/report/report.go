// Package report implements the report materializer (C8): it turns a run's
// trace.otlp.jsonl into a self-contained report.html. The metrics
// aggregation (duration totals, min/max/avg, p50/p95 via linear
// interpolation between closest ranks) is grounded on the teacher's
// internal/report/report.go computeMetrics/summarizeDurations/
// quantileMillis, adapted from per-attempt TraceEventV1 duration stats to
// per-run OTLP span-tree duration stats.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/markwolfe/tracecc/internal/otlpjson"
	"github.com/markwolfe/tracecc/internal/store"
)

// Category is a derived classification, not a wire-format field: it is
// computed from a span's name and attributes at report time, never stored
// on the span itself.
type Category string

const (
	CategoryAPI   Category = "api"
	CategoryTool  Category = "tool"
	CategoryHook  Category = "hook"
	CategoryFile  Category = "file"
	CategoryTest  Category = "test"
	CategoryOther Category = "other"
)

// SpanView is the flattened, report-friendly projection of an OTLP span
// that gets marshaled into the page's JSON payload.
type SpanView struct {
	TraceID       string         `json:"traceId"`
	SpanID        string         `json:"spanId"`
	ParentSpanID  string         `json:"parentSpanId,omitempty"`
	Name          string         `json:"name"`
	Category      Category       `json:"category"`
	Kind          int            `json:"kind"`
	StartNano     int64          `json:"-"`
	EndNano       int64          `json:"-"`
	StartTimeUnix string         `json:"startTimeUnixNano"`
	EndTimeUnix   string         `json:"endTimeUnixNano"`
	DurationMs    int64          `json:"durationMs"`
	Attributes    map[string]any `json:"attributes,omitempty"`
	StatusCode    int            `json:"statusCode"`
	StatusMessage string         `json:"statusMessage,omitempty"`
}

// Metrics is the aggregate summary computed over the whole span set.
type Metrics struct {
	TotalSpans       int64            `json:"totalSpans"`
	CategoryCounts   map[string]int64 `json:"categoryCounts,omitempty"`
	TokensInput      int64            `json:"tokensInput"`
	TokensOutput     int64            `json:"tokensOutput"`
	TokensCacheRead  int64            `json:"tokensCacheRead"`
	TokensCacheWrite int64            `json:"tokensCacheWrite"`
	CostUSD          float64          `json:"costUsd"`
	APICallCount     int64            `json:"apiCallCount"`
	APIErrorCount    int64            `json:"apiErrorCount"`
	DurationMsTotal  int64            `json:"durationMsTotal"`
	DurationMsMin    int64            `json:"durationMsMin"`
	DurationMsMax    int64            `json:"durationMsMax"`
	DurationMsAvg    int64            `json:"durationMsAvg"`
	DurationMsP50    int64            `json:"durationMsP50"`
	DurationMsP95    int64            `json:"durationMsP95"`
}

// Payload is the full JSON literal assigned to the viewer's well-known
// global identifier.
type Payload struct {
	GeneratedAt      string     `json:"generatedAt"`
	TraceID          string     `json:"traceId,omitempty"`
	Spans            []SpanView `json:"spans"`
	Roots            []string   `json:"roots"`
	SyntheticRootID  string     `json:"syntheticRootId,omitempty"`
	Metrics          Metrics    `json:"metrics"`
	Warnings         []string   `json:"warnings,omitempty"`
	Empty            bool       `json:"empty"`
}

// BuildPayload reads tracePath (possibly multiple OTLP batches, one per
// line), flattens every span, buckets it by category, reconstructs the
// parent/child forest (introducing a synthetic session root when more than
// one root span is observed), and computes aggregate metrics.
//
// A missing or empty trace file is not an error: it produces a valid empty
// payload, per spec's "a missing or empty OTLP file produces a valid HTML
// containing an empty-state message, not an error" failure semantics.
// Malformed lines are skipped and reported to warn (typically os.Stderr);
// other lines are still consumed.
func BuildPayload(tracePath string, now time.Time, warn io.Writer) (Payload, error) {
	if warn == nil {
		warn = io.Discard
	}

	var (
		spans    []SpanView
		warnings []string
	)

	scanErr := store.ScanJSONLLines(tracePath, func(line []byte) bool {
		doc, err := parseDoc(line)
		if err != nil {
			msg := fmt.Sprintf("report: skipping malformed trace line: %v", err)
			fmt.Fprintln(warn, msg)
			warnings = append(warnings, msg)
			return true
		}
		for _, rs := range doc.ResourceSpans {
			for _, ss := range rs.ScopeSpans {
				for _, s := range ss.Spans {
					spans = append(spans, toSpanView(s))
				}
			}
		}
		return true
	})
	if scanErr != nil {
		if os.IsNotExist(scanErr) {
			return emptyPayload(now, warnings), nil
		}
		return Payload{}, scanErr
	}
	if len(spans) == 0 {
		return emptyPayload(now, warnings), nil
	}

	spans, roots, syntheticRootID := buildForest(spans)
	metrics := computeMetrics(spans, roots, syntheticRootID)

	traceID := ""
	if len(spans) > 0 {
		traceID = spans[0].TraceID
	}

	return Payload{
		GeneratedAt:     now.UTC().Format(time.RFC3339Nano),
		TraceID:         traceID,
		Spans:           spans,
		Roots:           roots,
		SyntheticRootID: syntheticRootID,
		Metrics:         metrics,
		Warnings:        warnings,
	}, nil
}

func emptyPayload(now time.Time, warnings []string) Payload {
	return Payload{
		GeneratedAt: now.UTC().Format(time.RFC3339Nano),
		Spans:       []SpanView{},
		Roots:       []string{},
		Metrics:     Metrics{},
		Warnings:    warnings,
		Empty:       true,
	}
}

// Render builds report.html's full byte content for payload.
func Render(payload Payload) ([]byte, error) {
	return renderHTML(payload)
}

// WriteAtomic renders payload and writes it atomically to outPath.
func WriteAtomic(outPath string, payload Payload) error {
	html, err := Render(payload)
	if err != nil {
		return err
	}
	return store.WriteFileAtomic(outPath, html)
}

func parseDoc(line []byte) (otlpjson.ResourceSpansDoc, error) {
	var doc otlpjson.ResourceSpansDoc
	if err := json.Unmarshal(line, &doc); err != nil {
		return otlpjson.ResourceSpansDoc{}, err
	}
	return doc, nil
}

func toSpanView(s otlpjson.Span) SpanView {
	startNano, _ := strconv.ParseInt(s.StartTimeUnixNano, 10, 64)
	endNano, _ := strconv.ParseInt(s.EndTimeUnixNano, 10, 64)
	durationMs := int64(0)
	if endNano > startNano {
		durationMs = (endNano - startNano) / int64(time.Millisecond)
	}

	attrs := make(map[string]any, len(s.Attributes))
	for _, kv := range s.Attributes {
		attrs[kv.Key] = attrValue(kv.Value)
	}

	return SpanView{
		TraceID:       s.TraceID,
		SpanID:        s.SpanID,
		ParentSpanID:  s.ParentSpanID,
		Name:          s.Name,
		Category:      categorize(s.Name, attrs),
		Kind:          s.Kind,
		StartNano:     startNano,
		EndNano:       endNano,
		StartTimeUnix: s.StartTimeUnixNano,
		EndTimeUnix:   s.EndTimeUnixNano,
		DurationMs:    durationMs,
		Attributes:    attrs,
		StatusCode:    s.Status.Code,
		StatusMessage: s.Status.Message,
	}
}

func attrValue(v otlpjson.AnyValue) any {
	switch {
	case v.StringValue != nil:
		return *v.StringValue
	case v.IntValue != nil:
		n, err := strconv.ParseInt(*v.IntValue, 10, 64)
		if err != nil {
			return *v.IntValue
		}
		return n
	case v.DoubleValue != nil:
		return *v.DoubleValue
	case v.BoolValue != nil:
		return *v.BoolValue
	default:
		return nil
	}
}
