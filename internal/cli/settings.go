package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/markwolfe/tracecc/internal/hookrun"
)

// knownHookEvents is the set of hook event names tracecc registers itself
// for in the project-local settings file, covering every event C7's
// settings format recognizes (spec.md §4.7).
var knownHookEvents = []string{
	"PreToolUse", "PostToolUse", "Notification", "Stop",
	"SubagentStop", "SessionStart", "SessionEnd", "PreCompact",
}

// hookRegistration backs the auto-install/restore of tracecc-hook into the
// project-local settings file for the lifetime of one `tracecc run`
// invocation, so a fresh checkout gets tracing with no manual settings
// edits ("zero-configuration" per spec.md §1). It never touches the
// project's own checked-in settings.json or the user-global settings file
// — only the project-local overlay, which is conventionally gitignored and
// intended for exactly this kind of local-machine-only override.
type hookRegistration struct {
	path        string
	hadOriginal bool
	original    []byte
}

// installHookRegistration merges a tracecc-hook entry for every known hook
// event into projectDir's settings.local.json, preserving whatever was
// already there (including the user's own hook commands) so tracecc's
// entry runs alongside them. selfPath is this orchestrator binary's own
// absolute path, used as both the registered command and (by
// hookrun.ResolveCommands) the self-recursion guard.
func installHookRegistration(projectDir, selfPath string) (*hookRegistration, error) {
	path := filepath.Join(projectDir, ".claude", "settings.local.json")

	reg := &hookRegistration{path: path}
	if raw, err := os.ReadFile(path); err == nil {
		reg.hadOriginal = true
		reg.original = raw
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	settings := &hookrun.Settings{Hooks: map[string][]hookrun.MatcherGroup{}}
	if reg.hadOriginal {
		if err := json.Unmarshal(reg.original, settings); err != nil {
			return nil, fmt.Errorf("parse existing %s: %w", path, err)
		}
		if settings.Hooks == nil {
			settings.Hooks = map[string][]hookrun.MatcherGroup{}
		}
	}

	entry := hookrun.MatcherGroup{
		Hooks: []hookrun.HookCommand{{Type: "command", Command: selfPath}},
	}
	for _, event := range knownHookEvents {
		settings.Hooks[event] = append(settings.Hooks[event], entry)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	out, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, append(out, '\n'), 0o644); err != nil {
		return nil, err
	}
	return reg, nil
}

// Restore puts the project-local settings file back exactly as it was
// before installHookRegistration ran: removed entirely if tracecc created
// it, or rewritten with its original bytes if it pre-existed. Called on
// every `tracecc run` exit path, including early failures, so a crashed
// run never leaves the project permanently wired to a stale registration.
func (r *hookRegistration) Restore() error {
	if r == nil {
		return nil
	}
	if !r.hadOriginal {
		err := os.Remove(r.path)
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return os.WriteFile(r.path, r.original, 0o644)
}
