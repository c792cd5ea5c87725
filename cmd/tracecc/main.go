// Command tracecc is a zero-configuration OTLP tracing wrapper around an
// AI coding assistant CLI. It spawns the host command, intercepts its
// outbound AI API traffic through a loopback proxy, captures hook events
// through a reserved-name orchestrator it registers for the duration of
// the run, and renders an interactive HTML report from the resulting
// trace on exit.
package main

import (
	"os"

	"github.com/markwolfe/tracecc/internal/cli"
)

var version = "dev"

func main() {
	cli.Version = version
	os.Exit(cli.Execute())
}
