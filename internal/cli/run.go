package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/markwolfe/tracecc/internal/clierr"
	"github.com/markwolfe/tracecc/internal/config"
	"github.com/markwolfe/tracecc/internal/correlate"
	"github.com/markwolfe/tracecc/internal/intercept/execintercept"
	"github.com/markwolfe/tracecc/internal/intercept/httpintercept"
	"github.com/markwolfe/tracecc/internal/pricing"
	"github.com/markwolfe/tracecc/internal/report"
	"github.com/markwolfe/tracecc/internal/runctx"
	"github.com/markwolfe/tracecc/internal/tracer"
)

// sentinelArg is injected into the orchestrator's own invocation so
// execintercept.DetectHookInvocation recognizes a re-exec of this binary
// even when its installed path can't be matched as a substring (heuristic
// c, spec.md §4.5).
const sentinelArg = "--tracecc-hook-orchestrator"

// hostExitCode carries the wrapped host process's own exit code out of
// runHost/passthroughHost to Execute, once every deferred cleanup (report
// materialization, settings restore, session flush) has run to completion
// — os.Exit from inside runHost would skip all of that, so the process
// only exits after cobra's Execute call returns.
var hostExitCode int

func newRunCmd(outRoot *string) *cobra.Command {
	var (
		ccOpen    bool
		ccNoTrace bool
		ccReport  bool
	)

	cmd := &cobra.Command{
		Use:   "run -- <host-command> [args...]",
		Short: "Wrap a host CLI invocation with zero-configuration OTLP tracing",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHost(cmd, args, *outRoot, ccOpen, ccNoTrace, ccReport)
		},
	}
	cmd.Flags().BoolVar(&ccOpen, "cc-open", false, "open report.html in the OS handler on exit")
	cmd.Flags().BoolVar(&ccNoTrace, "cc-no-trace", false, "forward to the host with no interposition")
	cmd.Flags().BoolVar(&ccReport, "cc-report", false, "suppress auto-open; only print the report path on exit")
	return cmd
}

func runHost(cmd *cobra.Command, args []string, outRootFlag string, ccOpen, ccNoTrace, ccReport bool) error {
	hostCommand, hostArgs := args[0], args[1:]

	if ccNoTrace {
		return passthroughHost(cmd, hostCommand, hostArgs)
	}

	m, err := config.LoadMerged(outRootFlag)
	if err != nil {
		return clierr.New(clierr.CodeUsage, "load config: "+err.Error())
	}

	now := time.Now()
	env, err := runctx.NewRun(now, m.OutRoot, hostCommand)
	if err != nil {
		return clierr.New(clierr.CodeIO, "start run: "+err.Error())
	}
	if sessionID := runctx.DiscoverSessionID(os.Getenv); sessionID != "" {
		_ = env.SetSessionID(sessionID)
	}

	tracePath := filepath.Join(env.OutDirAbs, "trace.otlp.jsonl")
	reportPath := filepath.Join(env.OutDirAbs, "report.html")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	sess := tracer.Start(ctx, tracePath, env.RunID, env.SessionID, os.Getenv("TRACECC_PARENT_SESSION_ID"))
	defer func() { _ = sess.Close(context.Background()) }()

	table := pricing.DefaultTable()
	if m.ModelPricingOverridePath != "" {
		if err := table.LoadOverride(m.ModelPricingOverridePath); err != nil {
			fmt.Fprintf(os.Stderr, "tracecc: ignoring unreadable pricing override: %v\n", err)
		}
	}

	correlator, err := correlate.LoadSidecar(filepath.Join(env.OutDirAbs, "correlate.sidecar.jsonl"))
	if err != nil {
		return clierr.New(clierr.CodeIO, "load correlation sidecar: "+err.Error())
	}
	defer correlator.Discard()

	proxy, err := httpintercept.StartProxy(ctx, "127.0.0.1:0", m.AIBaseURL, sess, correlator, table, 0)
	if err != nil {
		return clierr.New(clierr.CodeIntercept, "start interceptor proxy: "+err.Error())
	}
	defer func() { _ = proxy.Close(context.Background()) }()

	selfPath, err := os.Executable()
	if err != nil {
		return clierr.New(clierr.CodeIO, "resolve own executable path: "+err.Error())
	}
	projectDir, err := os.Getwd()
	if err != nil {
		return clierr.New(clierr.CodeIO, "resolve project directory: "+err.Error())
	}
	registration, err := installHookRegistration(projectDir, selfPath)
	if err != nil {
		return clierr.New(clierr.CodeIO, "register hook orchestrator: "+err.Error())
	}
	defer func() {
		if err := registration.Restore(); err != nil {
			fmt.Fprintf(os.Stderr, "tracecc: failed to restore settings.local.json: %v\n", err)
		}
	}()

	hostEnv := append(os.Environ(), env.PublishEnv()...)
	hostEnv = append(hostEnv, buildProxyEnv(proxy.Addr(), m.InterceptStrategyChain)...)
	if ccOpen {
		hostEnv = append(hostEnv, "TRACECC_OPEN_HTML=true")
	}

	execCfg := execintercept.Config{
		OrchestratorPath: selfPath,
		SentinelArg:      sentinelArg,
	}
	result, hostErr := execintercept.Run(sess.Context(), sess, correlator, execCfg,
		append([]string{hostCommand}, hostArgs...), hostEnv, os.Stdin, os.Stdout, os.Stderr)
	if hostErr != nil {
		return clierr.New(clierr.CodeSpawn, "run host command: "+hostErr.Error())
	}
	hostExitCode = result.ExitCode

	if payload, buildErr := report.BuildPayload(tracePath, time.Now(), os.Stderr); buildErr == nil {
		if writeErr := report.WriteAtomic(reportPath, payload); writeErr != nil {
			fmt.Fprintf(os.Stderr, "tracecc: failed to write report: %v\n", writeErr)
		} else if !ccReport {
			maybeOpenReport(reportPath, ccOpen)
		} else {
			fmt.Fprintln(os.Stdout, reportPath)
		}
	} else {
		fmt.Fprintf(os.Stderr, "tracecc: failed to build report: %v\n", buildErr)
	}

	return nil
}

// buildProxyEnv returns the env vars that redirect the host's AI-provider
// traffic at our local proxy, per strategy: "proxy" sets the
// ecosystem-standard HTTP(S)_PROXY vars any well-behaved client honors;
// "transport_patch" sets a handful of known provider-specific base-URL
// overrides directly at the proxy's own address, since the proxy already
// knows the real upstream and forwards there — there is no way in a
// typed, unmodified host binary to substitute its HTTP transport in-
// process (spec.md §9's interception redesign flag), so both strategies
// reduce to "point the host's traffic at our listening proxy," differing
// only in which env var convention does the pointing.
func buildProxyEnv(proxyAddr string, chain []string) []string {
	proxyURL := "http://" + proxyAddr
	var out []string
	for _, strategy := range chain {
		switch strategy {
		case "proxy":
			out = append(out, "HTTPS_PROXY="+proxyURL, "HTTP_PROXY="+proxyURL,
				"https_proxy="+proxyURL, "http_proxy="+proxyURL)
		case "transport_patch":
			out = append(out,
				"ANTHROPIC_BASE_URL="+proxyURL,
				"OPENAI_BASE_URL="+proxyURL,
				"OPENAI_API_BASE="+proxyURL,
			)
		}
	}
	return out
}

func passthroughHost(cmd *cobra.Command, hostCommand string, hostArgs []string) error {
	result, err := execintercept.Run(cmd.Context(), nil, nil, execintercept.Config{},
		append([]string{hostCommand}, hostArgs...), os.Environ(), os.Stdin, os.Stdout, os.Stderr)
	if err != nil {
		return clierr.New(clierr.CodeSpawn, "run host command: "+err.Error())
	}
	hostExitCode = result.ExitCode
	return nil
}

func maybeOpenReport(path string, forceOpen bool) {
	if !forceOpen && !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		fmt.Fprintln(os.Stdout, path)
		return
	}
	opener := openerCommand()
	if opener == nil {
		fmt.Fprintln(os.Stdout, path)
		return
	}
	_, _ = execintercept.Run(context.Background(), nil, nil, execintercept.Config{},
		append(opener, path), os.Environ(), nil, os.Stdout, os.Stderr)
}

func openerCommand() []string {
	switch {
	case fileExists("/usr/bin/open"):
		return []string{"open"}
	case fileExists("/usr/bin/xdg-open"):
		return []string{"xdg-open"}
	case strings.Contains(os.Getenv("OS"), "Windows"):
		return []string{"cmd", "/c", "start"}
	default:
		return nil
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
