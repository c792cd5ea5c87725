package report

import (
	"sort"

	"github.com/markwolfe/tracecc/internal/otlpjson"
)

// computeMetrics aggregates per-category counts and API token/cost totals
// by summing api-span attributes, and duration totals from the run's root
// span (the synthetic root when one was introduced, otherwise the sole
// natural root), per spec's step 4. The percentile calculation
// (summarizeDurations/quantileMillis below) mirrors the teacher's
// internal/report/report.go duration-stat idiom, applied here to the api
// spans' own durations rather than a flat tool-call trace.
func computeMetrics(spans []SpanView, roots []string, syntheticRootID string) Metrics {
	m := Metrics{CategoryCounts: map[string]int64{}}
	byID := make(map[string]SpanView, len(spans))
	for _, s := range spans {
		byID[s.SpanID] = s
	}

	var apiDurations []int64
	for _, s := range spans {
		m.TotalSpans++
		m.CategoryCounts[string(s.Category)]++

		if s.Category != CategoryAPI {
			continue
		}
		m.APICallCount++
		if s.StatusCode == otlpjson.StatusCodeError {
			m.APIErrorCount++
		}
		apiDurations = append(apiDurations, s.DurationMs)
		m.TokensInput += int64From(s.Attributes["ai.tokens.input"])
		m.TokensOutput += int64From(s.Attributes["ai.tokens.output"])
		m.TokensCacheRead += int64From(s.Attributes["ai.cache.read"])
		m.TokensCacheWrite += int64From(s.Attributes["ai.cache.write"])
		if cost, ok := s.Attributes["ai.cost.usd"].(float64); ok {
			m.CostUSD += cost
		}
	}

	rootID := syntheticRootID
	if rootID == "" && len(roots) == 1 {
		rootID = roots[0]
	}
	if root, ok := byID[rootID]; ok {
		m.DurationMsTotal = root.DurationMs
	}

	sort.Slice(apiDurations, func(i, j int) bool { return apiDurations[i] < apiDurations[j] })
	if len(apiDurations) > 0 {
		var total int64
		m.DurationMsMin, m.DurationMsMax = apiDurations[0], apiDurations[len(apiDurations)-1]
		for _, d := range apiDurations {
			total += d
		}
		m.DurationMsAvg = total / int64(len(apiDurations))
		m.DurationMsP50 = quantileMillis(apiDurations, 0.50)
		m.DurationMsP95 = quantileMillis(apiDurations, 0.95)
	}

	if len(m.CategoryCounts) == 0 {
		m.CategoryCounts = nil
	}
	return m
}

func int64From(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}

// quantileMillis returns the q-quantile of sorted (ascending) via linear
// interpolation between closest ranks.
func quantileMillis(sorted []int64, q float64) int64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	if q < 0 {
		q = 0
	}
	if q > 1 {
		q = 1
	}

	pos := q * float64(n-1)
	lo := int(pos)
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}
	frac := pos - float64(lo)
	v := float64(sorted[lo]) + (float64(sorted[hi])-float64(sorted[lo]))*frac
	if v < 0 {
		return 0
	}
	return int64(v + 0.5)
}
