package httpintercept

import (
	"bufio"
	"encoding/json"
	"sort"
	"strings"

	"github.com/markwolfe/tracecc/internal/pricing"
)

// ToolUse is a tool_use content block observed in an API response, handed
// to C6's correlator so a later PostToolUse hook execution can be linked
// back to the API call that requested it.
type ToolUse struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// blockAccumulator tracks one content block across the content_block_start/
// content_block_delta/content_block_stop event triple, since a streamed
// tool_use's input arrives as successive input_json_delta fragments rather
// than a single JSON value.
type blockAccumulator struct {
	kind    string
	id      string
	name    string
	text    strings.Builder
	partial strings.Builder
}

// ParseSSE walks a captured server-sent-events body, merging every
// message_start/message_delta/usage-bearing "data:" event into one
// TokenUsage via pricing.MergeUsage, accumulating content_block_delta text
// deltas into the assistant's response text, and collecting any
// tool_use content blocks. Returns the event count, the first model id
// seen, the merged usage, the accumulated response text, and the observed
// tool uses.
func ParseSSE(body string) (eventCount int, model string, usage pricing.TokenUsage, responseText string, toolUses []ToolUse) {
	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	blocks := map[int]*blockAccumulator{}

	for scanner.Scan() {
		line := scanner.Text()
		data, ok := cutDataField(line)
		if !ok {
			continue
		}
		if data == "[DONE]" {
			continue
		}
		eventCount++

		var payload map[string]any
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			continue
		}

		if m, ok := payload["model"].(string); ok && m != "" && model == "" {
			model = m
		}
		if msg, ok := payload["message"].(map[string]any); ok {
			if m, ok := msg["model"].(string); ok && m != "" && model == "" {
				model = m
			}
			if rawUsage, ok := msg["usage"].(map[string]any); ok {
				if u, found := pricing.ExtractUsage(rawUsage); found {
					usage = pricing.MergeUsage(usage, u)
				}
			}
		}
		if rawUsage, ok := payload["usage"].(map[string]any); ok {
			if u, found := pricing.ExtractUsage(rawUsage); found {
				usage = pricing.MergeUsage(usage, u)
			}
		}

		switch payload["type"] {
		case "content_block_start":
			idx, ok := indexOf(payload)
			cb, cbOK := payload["content_block"].(map[string]any)
			if !ok || !cbOK {
				continue
			}
			b := &blockAccumulator{}
			if kind, ok := cb["type"].(string); ok {
				b.kind = kind
			}
			if b.kind == "tool_use" {
				b.id, _ = cb["id"].(string)
				b.name, _ = cb["name"].(string)
			}
			if b.kind == "text" {
				if t, ok := cb["text"].(string); ok {
					b.text.WriteString(t)
				}
			}
			blocks[idx] = b
		case "content_block_delta":
			idx, ok := indexOf(payload)
			if !ok {
				continue
			}
			b := blocks[idx]
			if b == nil {
				b = &blockAccumulator{}
				blocks[idx] = b
			}
			delta, _ := payload["delta"].(map[string]any)
			if delta == nil {
				continue
			}
			if t, ok := delta["text"].(string); ok {
				b.text.WriteString(t)
			}
			if pj, ok := delta["partial_json"].(string); ok {
				b.partial.WriteString(pj)
			}
		}
	}

	responseText, toolUses = flattenBlocks(blocks)
	return eventCount, model, usage, responseText, toolUses
}

// indexOf reads the numeric "index" field content_block_* events carry.
func indexOf(payload map[string]any) (int, bool) {
	v, ok := payload["index"].(float64)
	if !ok {
		return 0, false
	}
	return int(v), true
}

// flattenBlocks orders content blocks by index, concatenating text blocks
// into one response string and turning tool_use blocks (whose input
// arrived as accumulated input_json_delta fragments) into ToolUse values.
func flattenBlocks(blocks map[int]*blockAccumulator) (string, []ToolUse) {
	indices := make([]int, 0, len(blocks))
	for i := range blocks {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	var text strings.Builder
	var toolUses []ToolUse
	for _, i := range indices {
		b := blocks[i]
		switch b.kind {
		case "tool_use":
			input := json.RawMessage(b.partial.String())
			if len(strings.TrimSpace(string(input))) == 0 || !json.Valid(input) {
				input = json.RawMessage("{}")
			}
			toolUses = append(toolUses, ToolUse{ID: b.id, Name: b.name, Input: input})
		default:
			text.WriteString(b.text.String())
		}
	}
	return text.String(), toolUses
}

// cutDataField extracts the payload of an SSE "data: ..." line, trimming
// the single optional leading space the spec allows after the colon.
func cutDataField(line string) (string, bool) {
	const prefix = "data:"
	if !strings.HasPrefix(line, prefix) {
		return "", false
	}
	data := strings.TrimPrefix(line, prefix)
	data = strings.TrimPrefix(data, " ")
	data = strings.TrimSpace(data)
	if data == "" {
		return "", false
	}
	return data, true
}

// parseJSONUsage handles the non-streaming response shape: a single JSON
// object with top-level "model", "usage", and "content" fields, the last
// of which may hold text and tool_use blocks the same as the streamed
// form's reassembled content blocks.
func parseJSONUsage(body string) (model string, usage pricing.TokenUsage, responseText string, toolUses []ToolUse) {
	var payload map[string]any
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return "", pricing.TokenUsage{}, "", nil
	}
	if m, ok := payload["model"].(string); ok {
		model = m
	}
	if rawUsage, ok := payload["usage"].(map[string]any); ok {
		if u, found := pricing.ExtractUsage(rawUsage); found {
			usage = u
		}
	}

	content, _ := payload["content"].([]any)
	var text strings.Builder
	for _, item := range content {
		block, ok := item.(map[string]any)
		if !ok {
			continue
		}
		switch block["type"] {
		case "text":
			if t, ok := block["text"].(string); ok {
				text.WriteString(t)
			}
		case "tool_use":
			id, _ := block["id"].(string)
			name, _ := block["name"].(string)
			var input json.RawMessage
			if raw, err := json.Marshal(block["input"]); err == nil {
				input = raw
			} else {
				input = json.RawMessage("{}")
			}
			toolUses = append(toolUses, ToolUse{ID: id, Name: name, Input: input})
		}
	}
	return model, usage, text.String(), toolUses
}

// extractModel pulls "model" out of a captured request body without
// requiring the full payload to parse (requests may be truncated).
func extractModel(body []byte) string {
	var payload struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.Model
}
