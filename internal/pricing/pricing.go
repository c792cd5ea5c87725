// Package pricing extracts token usage from AI-provider response bodies
// and computes an approximate USD cost against a static per-model rate
// table. The usage-extraction shape (probe several known field-name
// variants, keep the reading with the highest total) follows the
// teacher's internal/enrich/claude/claude.go idiom.
package pricing

import (
	"encoding/json"
	"math"
	"os"
	"strconv"
	"strings"
)

type TokenUsage struct {
	InputTokens           *int64
	OutputTokens          *int64
	CacheReadTokens       *int64
	CacheWriteTokens      *int64
	ReasoningOutputTokens *int64
}

func (u TokenUsage) HasAny() bool {
	return u.InputTokens != nil || u.OutputTokens != nil || u.CacheReadTokens != nil || u.CacheWriteTokens != nil || u.ReasoningOutputTokens != nil
}

func (u TokenUsage) total() int64 {
	return tokenOrZero(u.InputTokens) + tokenOrZero(u.OutputTokens) + tokenOrZero(u.CacheReadTokens) + tokenOrZero(u.CacheWriteTokens) + tokenOrZero(u.ReasoningOutputTokens)
}

func tokenOrZero(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

// ExtractUsage probes a decoded JSON `usage` object for known field-name
// variants across the Anthropic/OpenAI-family provider shapes tracecc
// intercepts.
func ExtractUsage(usage map[string]any) (TokenUsage, bool) {
	if usage == nil {
		return TokenUsage{}, false
	}
	parsed := TokenUsage{
		InputTokens:           numPtr(usage["input_tokens"], usage["inputTokens"], usage["prompt_tokens"]),
		OutputTokens:          numPtr(usage["output_tokens"], usage["outputTokens"], usage["completion_tokens"]),
		CacheReadTokens:       numPtr(usage["cache_read_input_tokens"], usage["cached_tokens"]),
		CacheWriteTokens:      numPtr(usage["cache_creation_input_tokens"]),
		ReasoningOutputTokens: numPtr(usage["reasoning_tokens"], usage["reasoningOutputTokens"]),
	}
	return parsed, parsed.HasAny()
}

// MergeUsage folds `next` into `prev` field-wise, preferring any non-nil
// value in `next` except for InputTokens: once InputTokens is observed, it
// is sticky and later nil/zero deltas from streamed `message_delta` events
// (which typically omit or repeat only output-side counts) do not clear it.
// This is the resolved SSE usage-merge Open Question.
func MergeUsage(prev, next TokenUsage) TokenUsage {
	out := prev
	if next.InputTokens != nil && out.InputTokens == nil {
		out.InputTokens = next.InputTokens
	}
	if next.OutputTokens != nil {
		out.OutputTokens = next.OutputTokens
	}
	if next.CacheReadTokens != nil {
		out.CacheReadTokens = next.CacheReadTokens
	}
	if next.CacheWriteTokens != nil {
		out.CacheWriteTokens = next.CacheWriteTokens
	}
	if next.ReasoningOutputTokens != nil {
		out.ReasoningOutputTokens = next.ReasoningOutputTokens
	}
	return out
}

// Rate is USD cost per million tokens. CacheWritePerMTok defaults to
// InputPerMTok when zero, since most providers price a cache-creation token
// close to (or as a small premium over) a regular input token and the
// static table only bothers overriding it where it diverges.
type Rate struct {
	InputPerMTok       float64
	OutputPerMTok      float64
	CachedInputPerMTok float64
	CacheWritePerMTok  float64
}

// defaultTable is a static snapshot; real-world prices drift, so
// StatusCheck-style live lookup is explicitly out of scope (spec.md: no
// remote collector/exporter, and pricing lookups are not telemetry export
// but they'd still be a network dependency this module avoids).
var defaultTable = map[string]Rate{
	"claude-opus-4-6":       {InputPerMTok: 15, OutputPerMTok: 75, CachedInputPerMTok: 1.5},
	"claude-sonnet-4-5":     {InputPerMTok: 3, OutputPerMTok: 15, CachedInputPerMTok: 0.3},
	"claude-haiku-4-5":      {InputPerMTok: 1, OutputPerMTok: 5, CachedInputPerMTok: 0.1},
	"claude-3-7-sonnet":     {InputPerMTok: 3, OutputPerMTok: 15, CachedInputPerMTok: 0.3},
	"claude-3-5-sonnet":     {InputPerMTok: 3, OutputPerMTok: 15, CachedInputPerMTok: 0.3},
	"claude-3-5-haiku":      {InputPerMTok: 0.8, OutputPerMTok: 4, CachedInputPerMTok: 0.08},
	"gpt-4o":                {InputPerMTok: 2.5, OutputPerMTok: 10},
	"gpt-4o-mini":           {InputPerMTok: 0.15, OutputPerMTok: 0.6},
	"gpt-4.1":               {InputPerMTok: 2, OutputPerMTok: 8},
	"o3":                    {InputPerMTok: 10, OutputPerMTok: 40},
}

type Table struct {
	rates map[string]Rate
}

func DefaultTable() *Table {
	cp := make(map[string]Rate, len(defaultTable))
	for k, v := range defaultTable {
		cp[k] = v
	}
	return &Table{rates: cp}
}

// LoadOverride reads a JSON object of model -> Rate and merges it over the
// default table, letting operators correct stale prices without a code
// change.
func (t *Table) LoadOverride(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var override map[string]Rate
	if err := json.Unmarshal(raw, &override); err != nil {
		return err
	}
	for k, v := range override {
		t.rates[strings.TrimSpace(k)] = v
	}
	return nil
}

// Cost computes an approximate USD cost for usage against model. known is
// false when model has no rate entry: cost is then always zero and the
// caller is expected to stamp ai.cost.unknown=true on the span rather than
// report a misleading number, per spec.md §9's resolved Open Question.
func (t *Table) Cost(model string, usage TokenUsage) (costUSD float64, known bool) {
	rate, ok := t.rates[normalizeModel(model)]
	if !ok {
		return 0, false
	}
	cacheWriteRate := rate.CacheWritePerMTok
	if cacheWriteRate == 0 {
		cacheWriteRate = rate.InputPerMTok
	}
	cost := float64(tokenOrZero(usage.InputTokens))/1_000_000*rate.InputPerMTok +
		float64(tokenOrZero(usage.OutputTokens))/1_000_000*rate.OutputPerMTok +
		float64(tokenOrZero(usage.CacheReadTokens))/1_000_000*rate.CachedInputPerMTok +
		float64(tokenOrZero(usage.CacheWriteTokens))/1_000_000*cacheWriteRate
	return cost, true
}

// normalizeModel strips date-suffixed model ids (e.g.
// "claude-sonnet-4-5-20260115") down to their family name so the static
// table doesn't need an entry per dated snapshot.
func normalizeModel(model string) string {
	model = strings.TrimSpace(model)
	if _, ok := defaultTable[model]; ok {
		return model
	}
	parts := strings.Split(model, "-")
	for len(parts) > 0 {
		last := parts[len(parts)-1]
		if len(last) == 8 {
			if _, err := strconv.Atoi(last); err == nil {
				parts = parts[:len(parts)-1]
				continue
			}
		}
		break
	}
	return strings.Join(parts, "-")
}

func numPtr(vals ...any) *int64 {
	for _, v := range vals {
		if v == nil {
			continue
		}
		switch n := v.(type) {
		case float64:
			if n < 0 || math.Trunc(n) != n {
				continue
			}
			x := int64(n)
			return &x
		case int64:
			if n < 0 {
				continue
			}
			return &n
		case int:
			if n < 0 {
				continue
			}
			x := int64(n)
			return &x
		case json.Number:
			x, err := n.Int64()
			if err != nil || x < 0 {
				continue
			}
			return &x
		case string:
			s := strings.TrimSpace(n)
			if s == "" {
				continue
			}
			x, err := strconv.ParseInt(s, 10, 64)
			if err != nil || x < 0 {
				continue
			}
			return &x
		default:
		}
	}
	return nil
}
