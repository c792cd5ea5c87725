package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteJSONAtomic_OverwritesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.json")

	if err := WriteJSONAtomic(path, map[string]any{"a": 1}); err != nil {
		t.Fatalf("WriteJSONAtomic: %v", err)
	}
	if err := WriteJSONAtomic(path, map[string]any{"a": 2}); err != nil {
		t.Fatalf("WriteJSONAtomic overwrite: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var v map[string]any
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if v["a"] != float64(2) {
		t.Fatalf("unexpected value: %#v", v["a"])
	}
}

func TestWriteFileAtomic_OverwritesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.txt")

	if err := WriteFileAtomic(path, []byte("a")); err != nil {
		t.Fatalf("WriteFileAtomic: %v", err)
	}
	if err := WriteFileAtomic(path, []byte("b")); err != nil {
		t.Fatalf("WriteFileAtomic overwrite: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(raw) != "b" {
		t.Fatalf("unexpected content: %q", string(raw))
	}
}

func TestAppendJSONL_AppendsNewlineTerminatedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trace.otlp.jsonl")

	if err := AppendJSONL(path, map[string]any{"n": 1}); err != nil {
		t.Fatalf("AppendJSONL 1: %v", err)
	}
	if err := AppendJSONL(path, map[string]any{"n": 2}); err != nil {
		t.Fatalf("AppendJSONL 2: %v", err)
	}

	var lines int
	if err := ScanJSONLLines(path, func(line []byte) bool {
		lines++
		return true
	}); err != nil {
		t.Fatalf("ScanJSONLLines: %v", err)
	}
	if lines != 2 {
		t.Fatalf("expected 2 lines, got %d", lines)
	}
}
