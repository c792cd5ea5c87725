// Command tracecc-hook is the reserved-name hook binary registered in the
// host CLI's settings files. The host invokes it once per hook event,
// writing a single JSON event object to its stdin; it attaches to the
// already-running trace, re-executes the user's own configured hook
// commands under instrumentation, and writes the merged JSON response to
// its own stdout.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/markwolfe/tracecc/internal/hookrun"
	"github.com/markwolfe/tracecc/internal/runctx"
	"github.com/markwolfe/tracecc/internal/tracer"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "tracecc-hook: "+err.Error())
		os.Exit(1)
	}
}

func run() error {
	env, err := runctx.EnvFromProcess()
	if err != nil {
		return fmt.Errorf("attach to run: %w", err)
	}

	eventRaw, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("read hook event: %w", err)
	}

	var event hookrun.Event
	if err := json.Unmarshal(eventRaw, &event); err != nil {
		return fmt.Errorf("parse hook event: %w", err)
	}

	tracePath := filepath.Join(env.OutDirAbs, "trace.otlp.jsonl")
	sess := tracer.Attach(context.Background(), tracePath, env.RunID, event.SessionID, env.SessionID)
	defer func() { _ = sess.Close(context.Background()) }()

	selfPath, _ := os.Executable()
	homeDir, _ := os.UserHomeDir()
	projectDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve project directory: %w", err)
	}

	var settingsFiles []*hookrun.Settings
	for _, path := range hookrun.DiscoverSettingsPaths(homeDir, projectDir) {
		s, err := hookrun.LoadSettings(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "tracecc-hook: ignoring unreadable settings file %s: %v\n", path, err)
			continue
		}
		settingsFiles = append(settingsFiles, s)
	}

	commands := hookrun.ResolveCommands(settingsFiles, event.HookEventName, event.ToolName, selfPath)

	resp, err := hookrun.Execute(sess.Context(), sess, event, eventRaw, commands, 0)
	if err != nil {
		return fmt.Errorf("execute hooks: %w", err)
	}

	out, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	_, err = os.Stdout.Write(append(out, '\n'))
	return err
}
