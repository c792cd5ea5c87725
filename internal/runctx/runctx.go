// Package runctx owns the identity of a single tracecc run: generating the
// run id, creating the run directory, discovering the host's session id,
// and publishing that identity to the wrapped process tree via environment
// variables.
package runctx

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/markwolfe/tracecc/internal/ids"
	"github.com/markwolfe/tracecc/internal/store"
)

const (
	RunSchemaV1             = 1
	ArtifactLayoutVersionV1 = 1

	envRunID  = "TRACECC_RUN_ID"
	envSessID = "TRACECC_SESSION_ID"
	envOutDir = "TRACECC_OUT_DIR"
)

// RunJSONV1 is the run manifest written to <outDir>/run.json.
type RunJSONV1 struct {
	SchemaVersion         int    `json:"schemaVersion"`
	ArtifactLayoutVersion int    `json:"artifactLayoutVersion"`
	RunID                 string `json:"runId"`
	SessionID             string `json:"sessionId,omitempty"`
	CreatedAt             string `json:"createdAt"`
	HostCommand           string `json:"hostCommand,omitempty"`
	Pinned                bool   `json:"pinned"`
}

// Env is the identity of a run as seen by a process in the wrapped tree:
// the wrapper root that created it, or a hook/child process that inherited
// it via environment variables.
type Env struct {
	RunID     string
	SessionID string
	OutDirAbs string
}

// NewRun allocates a fresh run id, creates the run directory under outRoot,
// and writes run.json. hostCommand is recorded for operator debugging only.
func NewRun(now time.Time, outRoot string, hostCommand string) (Env, error) {
	runID, err := ids.NewRunID(now)
	if err != nil {
		return Env{}, fmt.Errorf("generate run id: %w", err)
	}
	runDir, err := filepath.Abs(filepath.Join(outRoot, "runs", runID))
	if err != nil {
		return Env{}, err
	}
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return Env{}, fmt.Errorf("create run dir: %w", err)
	}

	meta := RunJSONV1{
		SchemaVersion:         RunSchemaV1,
		ArtifactLayoutVersion: ArtifactLayoutVersionV1,
		RunID:                 runID,
		CreatedAt:             now.UTC().Format(time.RFC3339Nano),
		HostCommand:           hostCommand,
	}
	if err := store.WriteJSONAtomic(filepath.Join(runDir, "run.json"), meta); err != nil {
		return Env{}, fmt.Errorf("write run.json: %w", err)
	}

	return Env{RunID: runID, OutDirAbs: runDir}, nil
}

// EnvFromProcess recovers the run identity published by a parent tracecc
// process, for use by a child (a hook binary, a subprocess wrapper) that
// was spawned inside an already-running trace.
func EnvFromProcess() (Env, error) {
	e := Env{
		RunID:     os.Getenv(envRunID),
		SessionID: os.Getenv(envSessID),
		OutDirAbs: os.Getenv(envOutDir),
	}
	if strings.TrimSpace(e.OutDirAbs) == "" {
		return Env{}, fmt.Errorf("missing %s", envOutDir)
	}
	if strings.TrimSpace(e.RunID) == "" {
		return Env{}, fmt.Errorf("missing %s", envRunID)
	}
	return e, nil
}

// PublishEnv returns the environment variable slice (KEY=VALUE form,
// suitable for appending to exec.Cmd.Env) that publishes e to a child
// process tree.
func (e Env) PublishEnv() []string {
	out := []string{
		envRunID + "=" + e.RunID,
		envOutDir + "=" + e.OutDirAbs,
	}
	if e.SessionID != "" {
		out = append(out, envSessID+"="+e.SessionID)
	}
	return out
}

// SetSessionID records a discovered host session id both in-process and in
// run.json, so a later `tracecc report` invocation (a separate process) can
// recover it.
func (e *Env) SetSessionID(sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil
	}
	e.SessionID = sessionID

	path := filepath.Join(e.OutDirAbs, "run.json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var meta RunJSONV1
	if err := json.Unmarshal(raw, &meta); err != nil {
		return err
	}
	meta.SessionID = sessionID
	return store.WriteJSONAtomic(path, meta)
}

// DiscoverSessionID applies a small set of heuristics for finding the
// host's own session/conversation id when the host doesn't otherwise
// surface one to a wrapper: an explicit override env var first, then a
// UUID-shaped value in commonly used host env vars.
func DiscoverSessionID(lookup func(string) string) string {
	if v := strings.TrimSpace(lookup("TRACECC_SESSION_ID_OVERRIDE")); v != "" {
		return v
	}
	for _, key := range []string{"CLAUDE_SESSION_ID", "SESSION_ID", "CODEX_SESSION_ID"} {
		if v := strings.TrimSpace(lookup(key)); v != "" {
			return v
		}
	}
	return ""
}
