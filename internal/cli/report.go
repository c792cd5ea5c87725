package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/markwolfe/tracecc/internal/clierr"
	"github.com/markwolfe/tracecc/internal/config"
	"github.com/markwolfe/tracecc/internal/report"
	"github.com/markwolfe/tracecc/internal/runctx"
)

func newReportCmd(outRoot *string) *cobra.Command {
	var (
		runID     string
		tracePath string
		outPath   string
		watch     bool
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render report.html from a run's trace.otlp.jsonl",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tp, op, err := resolveReportPaths(*outRoot, runID, tracePath, outPath)
			if err != nil {
				return clierr.New(clierr.CodeUsage, err.Error())
			}

			if !watch {
				payload, err := report.BuildPayload(tp, time.Now(), os.Stderr)
				if err != nil {
					return clierr.New(clierr.CodeIO, "build report: "+err.Error())
				}
				if err := report.WriteAtomic(op, payload); err != nil {
					return clierr.New(clierr.CodeIO, "write report: "+err.Error())
				}
				fmt.Fprintln(os.Stdout, op)
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return report.Watch(ctx, tp, op, os.Stderr, func(err error) {
				if err != nil {
					fmt.Fprintf(os.Stderr, "tracecc report: %v\n", err)
					return
				}
				fmt.Fprintf(os.Stderr, "tracecc report: rendered %s\n", op)
			})
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "run id under out-root/runs (default: most recent)")
	cmd.Flags().StringVar(&tracePath, "trace", "", "explicit trace.otlp.jsonl path, overrides --run-id")
	cmd.Flags().StringVar(&outPath, "out", "", "explicit report.html output path")
	cmd.Flags().BoolVar(&watch, "watch", false, "re-render on every trace file change, until interrupted")
	return cmd
}

// resolveReportPaths picks the trace input and report output paths: an
// explicit --trace always wins; otherwise --run-id (or the most recently
// created run under outRoot/runs) locates the run directory and both
// paths default to its conventional files.
func resolveReportPaths(outRootFlag, runID, tracePath, outPath string) (string, string, error) {
	if tracePath != "" {
		tp := tracePath
		op := outPath
		if op == "" {
			op = filepath.Join(filepath.Dir(tp), "report.html")
		}
		return tp, op, nil
	}

	m, err := config.LoadMerged(outRootFlag)
	if err != nil {
		return "", "", err
	}

	runDir, err := resolveRunDir(m.OutRoot, runID)
	if err != nil {
		return "", "", err
	}
	tp := filepath.Join(runDir, "trace.otlp.jsonl")
	op := outPath
	if op == "" {
		op = filepath.Join(runDir, "report.html")
	}
	return tp, op, nil
}

// resolveRunDir returns the directory for runID under outRoot/runs, or
// (if runID is empty) the most recently created run directory there.
func resolveRunDir(outRoot, runID string) (string, error) {
	runsDir := filepath.Join(outRoot, "runs")
	if runID != "" {
		return filepath.Join(runsDir, runID), nil
	}

	entries, err := os.ReadDir(runsDir)
	if err != nil {
		return "", fmt.Errorf("no runs found under %s: %w", runsDir, err)
	}

	var (
		latestDir  string
		latestTime time.Time
	)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(runsDir, e.Name())
		raw, err := os.ReadFile(filepath.Join(dir, "run.json"))
		if err != nil {
			continue
		}
		var meta runctx.RunJSONV1
		if err := json.Unmarshal(raw, &meta); err != nil {
			continue
		}
		createdAt, err := time.Parse(time.RFC3339Nano, meta.CreatedAt)
		if err != nil {
			continue
		}
		if createdAt.After(latestTime) {
			latestTime = createdAt
			latestDir = dir
		}
	}
	if latestDir == "" {
		return "", fmt.Errorf("no runs found under %s", runsDir)
	}
	return latestDir, nil
}
