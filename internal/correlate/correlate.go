// Package correlate matches PostToolUse hook events back to the tool_use
// intention C4 recorded when it first saw the corresponding tool_use
// content block in an API response. Correlation state is a bounded
// in-memory queue mirrored to a sidecar JSONL file so a crash mid-run can
// be recovered from, following the ToolUseID correlation idiom used to
// join PreToolUse/PostToolUse events by tool_use id.
package correlate

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/markwolfe/tracecc/internal/store"
)

// maxPending bounds the in-memory queue; the oldest intention is evicted
// once the bound is exceeded.
const maxPending = 256

// matchWindow is how many of the most recent intentions a PostToolUse
// event is compared against, most-recent-first.
const matchWindow = 50

// Intention is a pending tool_use announced by an API response, not yet
// matched to its PostToolUse hook event.
type Intention struct {
	ToolUseID  string          `json:"tool_use_id"`
	ToolName   string          `json:"tool_name"`
	ToolInput  json.RawMessage `json:"tool_input"`
	ObservedAt string          `json:"observed_at"`
}

// Correlator holds the pending-intention queue for one run.
type Correlator struct {
	mu          sync.Mutex
	pending     []Intention
	sidecarPath string
	now         func() time.Time
}

// New creates a Correlator that mirrors every recorded intention to
// sidecarPath for crash recovery. sidecarPath may be empty to disable the
// sidecar (used in tests).
func New(sidecarPath string) *Correlator {
	return &Correlator{sidecarPath: sidecarPath, now: time.Now}
}

// Record enqueues a newly observed tool_use intention. If the queue is at
// capacity the oldest intention is evicted first.
func (c *Correlator) Record(toolUseID, toolName string, toolInput json.RawMessage) error {
	c.mu.Lock()
	intent := Intention{
		ToolUseID:  toolUseID,
		ToolName:   toolName,
		ToolInput:  toolInput,
		ObservedAt: c.now().UTC().Format(time.RFC3339Nano),
	}
	c.pending = append(c.pending, intent)
	if len(c.pending) > maxPending {
		c.pending = c.pending[len(c.pending)-maxPending:]
	}
	c.mu.Unlock()

	if c.sidecarPath == "" {
		return nil
	}
	return store.AppendJSONL(c.sidecarPath, intent)
}

// Match implements execintercept.Correlator: it compares toolName and the
// canonical form of toolInput against the most recent matchWindow pending
// intentions, most-recent-first, and consumes (removes) the first match.
func (c *Correlator) Match(toolName string, toolInput json.RawMessage) (string, bool) {
	canonInput, err := canonicalJSON(toolInput)
	if err != nil {
		return "", false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	start := 0
	if len(c.pending) > matchWindow {
		start = len(c.pending) - matchWindow
	}
	for i := len(c.pending) - 1; i >= start; i-- {
		cand := c.pending[i]
		if cand.ToolName != toolName {
			continue
		}
		candCanon, err := canonicalJSON(cand.ToolInput)
		if err != nil || candCanon != canonInput {
			continue
		}
		c.pending = append(c.pending[:i], c.pending[i+1:]...)
		return cand.ToolUseID, true
	}
	return "", false
}

// LoadSidecar reconstructs pending intentions from a sidecar file written
// by a prior, possibly crashed, process within the same run.
func LoadSidecar(sidecarPath string) (*Correlator, error) {
	c := New(sidecarPath)
	err := store.ScanJSONLLines(sidecarPath, func(line []byte) bool {
		var intent Intention
		if json.Unmarshal(line, &intent) == nil {
			c.pending = append(c.pending, intent)
			if len(c.pending) > maxPending {
				c.pending = c.pending[len(c.pending)-maxPending:]
			}
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Discard drops all pending intentions, per the invariant that intentions
// older than a run's lifetime are discarded when the run closes.
func (c *Correlator) Discard() {
	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()
}

// canonicalJSON re-encodes raw with map keys sorted and no insignificant
// whitespace, so structurally equal JSON values compare equal regardless
// of source key order.
func canonicalJSON(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "null", nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	return canonicalEncode(v), nil
}

func canonicalEncode(v any) string {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := "{"
		for i, k := range keys {
			if i > 0 {
				out += ","
			}
			kb, _ := json.Marshal(k)
			out += string(kb) + ":" + canonicalEncode(val[k])
		}
		return out + "}"
	case []any:
		out := "["
		for i, e := range val {
			if i > 0 {
				out += ","
			}
			out += canonicalEncode(e)
		}
		return out + "]"
	default:
		b, _ := json.Marshal(val)
		return string(b)
	}
}
