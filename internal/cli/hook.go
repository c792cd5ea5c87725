package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/markwolfe/tracecc/internal/hookrun"
	"github.com/markwolfe/tracecc/internal/runctx"
	"github.com/markwolfe/tracecc/internal/tracer"
)

// newHookCmd mounts `tracecc hook` as an in-binary alias for the standalone
// cmd/tracecc-hook executable, for hosts that can register an existing
// binary's subcommand rather than a second reserved-name binary. Both call
// runHookOrchestrator; keep them in lockstep.
func newHookCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "hook",
		Short:  "Reserved-name hook orchestrator entry point (invoked by the host, not by operators)",
		Hidden: true,
		Args:   cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := runHookOrchestrator(cmd.Context(), os.Stdin, os.Stdout, os.Stderr); err != nil {
				fmt.Fprintln(os.Stderr, "tracecc hook: "+err.Error())
				hostExitCode = 1
			}
			return nil
		},
	}
}

// runHookOrchestrator is the shared body of cmd/tracecc-hook/main.go and
// `tracecc hook`: attach to the already-running trace via the RUN_ID/
// OUTPUT_DIR the host published (spec.md §4.7 step 1 — missing either is a
// fatal single-line-stderr/exit-1 configuration error, never a silent
// no-op), resolve and re-execute the user's own configured hook commands,
// and write the merged response to stdout.
func runHookOrchestrator(ctx context.Context, stdin io.Reader, stdout io.Writer, stderr io.Writer) error {
	env, err := runctx.EnvFromProcess()
	if err != nil {
		return fmt.Errorf("attach to run: %w", err)
	}

	eventRaw, err := io.ReadAll(stdin)
	if err != nil {
		return fmt.Errorf("read hook event: %w", err)
	}

	var event hookrun.Event
	if err := json.Unmarshal(eventRaw, &event); err != nil {
		return fmt.Errorf("parse hook event: %w", err)
	}

	tracePath := filepath.Join(env.OutDirAbs, "trace.otlp.jsonl")
	sess := tracer.Attach(ctx, tracePath, env.RunID, event.SessionID, env.SessionID)
	defer func() { _ = sess.Close(ctx) }()

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
			fmt.Fprintf(stderr, "tracecc hook: ignoring unreadable settings file %s: %v\n", path, err)
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
	_, err = stdout.Write(append(out, '\n'))
	return err
}
