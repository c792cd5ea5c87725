package correlate

import (
	"encoding/json"
	"path/filepath"
	"testing"
)

func TestMatch_EqualCanonicalInputRegardlessOfKeyOrder(t *testing.T) {
	c := New("")
	if err := c.Record("tu_1", "Bash", json.RawMessage(`{"command":"ls","cwd":"/tmp"}`)); err != nil {
		t.Fatalf("Record: %v", err)
	}

	id, ok := c.Match("Bash", json.RawMessage(`{"cwd":"/tmp","command":"ls"}`))
	if !ok || id != "tu_1" {
		t.Fatalf("expected match tu_1, got %q ok=%v", id, ok)
	}

	// Consumed: matching again should fail.
	if _, ok := c.Match("Bash", json.RawMessage(`{"cwd":"/tmp","command":"ls"}`)); ok {
		t.Fatalf("expected intention to be consumed after first match")
	}
}

func TestMatch_MostRecentFirstOnDuplicateCalls(t *testing.T) {
	c := New("")
	_ = c.Record("tu_1", "Read", json.RawMessage(`{"path":"a.go"}`))
	_ = c.Record("tu_2", "Read", json.RawMessage(`{"path":"a.go"}`))

	id, ok := c.Match("Read", json.RawMessage(`{"path":"a.go"}`))
	if !ok || id != "tu_2" {
		t.Fatalf("expected most-recent match tu_2, got %q ok=%v", id, ok)
	}
}

func TestMatch_NoMatchReturnsFalse(t *testing.T) {
	c := New("")
	_ = c.Record("tu_1", "Bash", json.RawMessage(`{"command":"ls"}`))
	if _, ok := c.Match("Bash", json.RawMessage(`{"command":"rm -rf /"}`)); ok {
		t.Fatalf("expected no match for differing input")
	}
}

func TestRecord_EvictsOldestPastCapacity(t *testing.T) {
	c := New("")
	for i := 0; i < maxPending+10; i++ {
		_ = c.Record("tu", "Bash", json.RawMessage(`{"n":`+itoa(i)+`}`))
	}
	if len(c.pending) != maxPending {
		t.Fatalf("expected queue capped at %d, got %d", maxPending, len(c.pending))
	}
	if c.pending[0].ToolInput == nil {
		t.Fatalf("unexpected nil input on retained intention")
	}
}

func TestSidecar_RoundTripsThroughLoadSidecar(t *testing.T) {
	path := filepath.Join(t.TempDir(), "correlate.sidecar.jsonl")
	c := New(path)
	if err := c.Record("tu_1", "Bash", json.RawMessage(`{"command":"ls"}`)); err != nil {
		t.Fatalf("Record: %v", err)
	}

	restored, err := LoadSidecar(path)
	if err != nil {
		t.Fatalf("LoadSidecar: %v", err)
	}
	id, ok := restored.Match("Bash", json.RawMessage(`{"command":"ls"}`))
	if !ok || id != "tu_1" {
		t.Fatalf("expected recovered match tu_1, got %q ok=%v", id, ok)
	}
}

func TestDiscard_ClearsPending(t *testing.T) {
	c := New("")
	_ = c.Record("tu_1", "Bash", json.RawMessage(`{"command":"ls"}`))
	c.Discard()
	if _, ok := c.Match("Bash", json.RawMessage(`{"command":"ls"}`)); ok {
		t.Fatalf("expected no intentions to survive Discard")
	}
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}
