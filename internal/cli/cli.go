// Package cli mounts tracecc's command tree on cobra. The teacher's own
// dispatch idiom (TRACECC_E_*-style usage errors, one-line stderr
// diagnostics, JSON-printing helpers) is kept for error codes and output
// tone; only the switchboard itself is restructured onto cobra, since this
// module's surface (run/report/doctor/gc/hook/update) is large enough that
// cobra's conventions earn their keep over a hand-rolled flag.FlagSet tree.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is stamped at build time via -ldflags; left as a plain var
// (no build-info/debug.ReadBuildInfo dance) matching the teacher's own
// single-string version field.
var Version = "dev"

func Execute() int {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		return 1
	}
	return hostExitCode
}

func newRootCmd() *cobra.Command {
	var outRoot string

	root := &cobra.Command{
		Use:           "tracecc",
		Short:         "Zero-configuration OTLP tracing wrapper for an AI coding assistant CLI",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&outRoot, "out-root", "", "output root (default: config-resolved, usually .tracecc)")

	root.AddCommand(
		newInitCmd(&outRoot),
		newRunCmd(&outRoot),
		newReportCmd(&outRoot),
		newDoctorCmd(&outRoot),
		newGCCmd(&outRoot),
		newHookCmd(),
		newUpdateCmd(),
	)
	return root
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "tracecc: "+format+"\n", args...)
	os.Exit(1)
}
