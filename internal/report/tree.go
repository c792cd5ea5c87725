package report

import (
	"encoding/hex"
	"sort"
	"strconv"

	"github.com/google/uuid"
)

// buildForest partitions spans into a parent/children forest. Spans whose
// parentSpanId is empty, or refers to a span id not present in this run's
// file (a batch that arrived before its parent's, or a parent span that was
// dropped), become roots. When more than one root is found, a synthetic
// session root is introduced spanning min(startTime)..max(endTime), per
// spec's step 3 ("If multiple roots exist, introduce a synthetic session
// root"). It returns the (possibly extended) span slice, the ordered list
// of root span ids, and the synthetic root's span id, if one was created.
func buildForest(spans []SpanView) ([]SpanView, []string, string) {
	byID := make(map[string]bool, len(spans))
	for _, s := range spans {
		byID[s.SpanID] = true
	}

	var roots []string
	for _, s := range spans {
		if s.ParentSpanID == "" || !byID[s.ParentSpanID] {
			roots = append(roots, s.SpanID)
		}
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })

	if len(roots) <= 1 {
		return spans, roots, ""
	}

	minStart, maxEnd := spans[0].StartNano, spans[0].EndNano
	for _, s := range spans {
		if s.StartNano != 0 && (minStart == 0 || s.StartNano < minStart) {
			minStart = s.StartNano
		}
		if s.EndNano > maxEnd {
			maxEnd = s.EndNano
		}
	}

	traceID := spans[0].TraceID
	synthetic := SpanView{
		TraceID:       traceID,
		SpanID:        syntheticSpanID(),
		Name:          "session (synthetic)",
		Category:      CategoryOther,
		Kind:          otlpKindInternal,
		StartNano:     minStart,
		EndNano:       maxEnd,
		StartTimeUnix: itoa64(minStart),
		EndTimeUnix:   itoa64(maxEnd),
		DurationMs:    (maxEnd - minStart) / 1_000_000,
		Attributes:    map[string]any{"tracecc.synthetic_root": true},
	}

	out := make([]SpanView, 0, len(spans)+1)
	for _, s := range spans {
		if isRoot(roots, s.SpanID) {
			s.ParentSpanID = synthetic.SpanID
		}
		out = append(out, s)
	}
	out = append(out, synthetic)

	return out, []string{synthetic.SpanID}, synthetic.SpanID
}

const otlpKindInternal = 1

func isRoot(roots []string, id string) bool {
	for _, r := range roots {
		if r == id {
			return true
		}
	}
	return false
}

// syntheticSpanID derives a 64-bit OTLP span id (16 hex chars) from a fresh
// random UUID's leading bytes: the id has no counterpart in the OTLP
// exporters that wrote trace.otlp.jsonl, it exists only inside the rendered
// report, so it only needs to be unique and correctly shaped, not
// deterministic.
func syntheticSpanID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:8])
}

func itoa64(n int64) string {
	if n < 0 {
		n = 0
	}
	return strconv.FormatInt(n, 10)
}
