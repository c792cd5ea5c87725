// Package execintercept wraps os/exec subprocess spawns. Host call sites
// that would otherwise call exec.CommandContext directly are patched to go
// through Run instead, which detects host-hook invocations by heuristic,
// tees stdin/stdout/stderr for matching spawns, and emits a Tool or Hook
// span per invocation. The bounded-capture idiom is adapted from the
// teacher's internal/funnel/cli_funnel/exec.go.
package execintercept

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Session is the subset of *tracer.Session this package needs.
type Session interface {
	ToolSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span)
	HookSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span)
}

// Correlator resolves a PostToolUse hook event back to the tool_use_id C6
// recorded when the API response first announced the intention.
type Correlator interface {
	Match(toolName string, toolInput json.RawMessage) (toolUseID string, ok bool)
}

// Config carries the heuristic knobs used to recognize a host-hook spawn.
type Config struct {
	// ProjectMarkerEnv/ProjectMarkerValue identify the environment variable
	// the host stamps on every subprocess it spawns for the current
	// project, used together with a shell-invocation check (heuristic a).
	ProjectMarkerEnv   string
	ProjectMarkerValue string
	// OrchestratorPath is matched as a substring against argv (heuristic b).
	OrchestratorPath string
	// SentinelArg is an exact-match argv entry tracecc injects itself when
	// it registers the hook orchestrator, so re-invocations are always
	// recognized even if OrchestratorPath's location changes (heuristic c).
	SentinelArg     string
	MaxPreviewBytes int
}

const defaultMaxPreviewBytes = 10_000

// HookEvent is the parsed shape of the JSON object the host writes to a
// hook subprocess's stdin.
type HookEvent struct {
	SessionID     string          `json:"session_id"`
	HookEventName string          `json:"hook_event_name"`
	ToolName      string          `json:"tool_name"`
	ToolInput     json.RawMessage `json:"tool_input"`
	ToolResponse  json.RawMessage `json:"tool_response"`
}

// Result mirrors the teacher's clifunnel.Result, extended with the
// hook-detection outcome fields this package adds.
type Result struct {
	ExitCode   int
	DurationMs int64

	OutBytes   int64
	ErrBytes   int64
	OutPreview string
	ErrPreview string

	OutTruncated bool
	ErrTruncated bool

	IsHookInvocation bool
	ParsedEvent      *HookEvent
	ToolUseID        string
}

// DetectHookInvocation implements the three either-or heuristics: project
// marker + shell invocation, reserved orchestrator path in argv, or an
// injected sentinel argument. Non-matching spawns are forwarded unchanged
// by the caller.
func DetectHookInvocation(cfg Config, argv []string, env []string) bool {
	if cfg.OrchestratorPath != "" {
		for _, a := range argv {
			if strings.Contains(a, cfg.OrchestratorPath) {
				return true
			}
		}
	}
	if cfg.SentinelArg != "" {
		for _, a := range argv {
			if a == cfg.SentinelArg {
				return true
			}
		}
	}
	if cfg.ProjectMarkerEnv != "" && isShellInvocation(argv) {
		want := cfg.ProjectMarkerEnv + "=" + cfg.ProjectMarkerValue
		for _, e := range env {
			if e == want || (cfg.ProjectMarkerValue == "" && strings.HasPrefix(e, cfg.ProjectMarkerEnv+"=")) {
				return true
			}
		}
	}
	return false
}

var shellBasenames = map[string]bool{
	"sh": true, "bash": true, "zsh": true, "dash": true,
	"cmd": true, "cmd.exe": true, "powershell": true, "powershell.exe": true, "pwsh": true,
}

func isShellInvocation(argv []string) bool {
	if len(argv) == 0 {
		return false
	}
	base := filepath.Base(argv[0])
	return shellBasenames[base]
}

// Run spawns argv, deciding via DetectHookInvocation whether to tee its
// streams for span capture or forward them unchanged. session and
// correlator may be nil for a plain passthrough spawn (e.g. before the
// tracer session is attached).
func Run(ctx context.Context, session Session, correlator Correlator, cfg Config, argv []string, env []string, stdin io.Reader, stdout, stderr io.Writer) (Result, error) {
	if len(argv) == 0 {
		return Result{}, errors.New("execintercept: missing command argv")
	}
	if cfg.MaxPreviewBytes <= 0 {
		cfg.MaxPreviewBytes = defaultMaxPreviewBytes
	}
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	isHook := DetectHookInvocation(cfg, argv, env)
	if !isHook || session == nil {
		return runPassthrough(ctx, argv, env, stdin, stdout, stderr)
	}
	return runCaptured(ctx, session, correlator, cfg, argv, env, stdin, stdout, stderr)
}

func runPassthrough(ctx context.Context, argv []string, env []string, stdin io.Reader, stdout, stderr io.Writer) (Result, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if len(env) > 0 {
		cmd.Env = env
	}
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	runErr := cmd.Run()
	exitCode, err := resolveExitCode(runErr)
	if err != nil {
		return Result{}, err
	}
	return Result{ExitCode: exitCode, DurationMs: time.Since(start).Milliseconds()}, nil
}

func runCaptured(ctx context.Context, session Session, correlator Correlator, cfg Config, argv []string, env []string, stdin io.Reader, stdout, stderr io.Writer) (Result, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if len(env) > 0 {
		cmd.Env = env
	}

	var stdinCap boundedCapture
	stdinCap.max = cfg.MaxPreviewBytes
	if stdin != nil {
		cmd.Stdin = io.TeeReader(stdin, &stdinCap)
	}

	outPipe, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, err
	}
	errPipe, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, err
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, err
	}

	var outCap, errCap boundedCapture
	outCap.max = cfg.MaxPreviewBytes
	errCap.max = cfg.MaxPreviewBytes

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(io.MultiWriter(stdout, &outCap), outPipe)
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(io.MultiWriter(stderr, &errCap), errPipe)
	}()

	waitErr := cmd.Wait()
	wg.Wait()

	exitCode, err := resolveExitCode(waitErr)
	if err != nil {
		return Result{}, err
	}

	outPreview, outBytes, outTrunc := outCap.snapshot()
	errPreview, errBytes, errTrunc := errCap.snapshot()
	stdinPreview, _, _ := stdinCap.snapshot()

	res := Result{
		ExitCode:         exitCode,
		DurationMs:       time.Since(start).Milliseconds(),
		OutBytes:         outBytes,
		ErrBytes:         errBytes,
		OutPreview:       outPreview,
		ErrPreview:       errPreview,
		OutTruncated:     outTrunc,
		ErrTruncated:     errTrunc,
		IsHookInvocation: true,
	}

	var event HookEvent
	if json.Unmarshal([]byte(stdinPreview), &event) == nil && event.HookEventName != "" {
		res.ParsedEvent = &event
	}

	emitSpan(ctx, session, correlator, res, start)
	return res, nil
}

func emitSpan(ctx context.Context, session Session, correlator Correlator, res Result, start time.Time) {
	if res.ParsedEvent != nil && res.ParsedEvent.HookEventName == "PostToolUse" {
		attrs := []attribute.KeyValue{
			attribute.String("tool.name", res.ParsedEvent.ToolName),
			attribute.String("tool.input", string(res.ParsedEvent.ToolInput)),
			attribute.String("tool.output", string(res.ParsedEvent.ToolResponse)),
			attribute.Int64("tool.duration.ms", res.DurationMs),
			attribute.Int("exit_code", res.ExitCode),
		}
		if correlator != nil {
			if id, ok := correlator.Match(res.ParsedEvent.ToolName, res.ParsedEvent.ToolInput); ok {
				res.ToolUseID = id
				attrs = append(attrs, attribute.String("tool.use_id", id))
			}
		}
		_, span := session.ToolSpan(ctx, "Tool: "+res.ParsedEvent.ToolName, attrs...)
		endSpan(span, res.ExitCode)
		return
	}

	name := "Hook: subprocess"
	var eventName string
	if res.ParsedEvent != nil {
		eventName = res.ParsedEvent.HookEventName
		name = "Hook: " + eventName
	}
	attrs := []attribute.KeyValue{
		attribute.Int("exit_code", res.ExitCode),
		attribute.Int64("stdout.bytes", res.OutBytes),
		attribute.Int64("stderr.bytes", res.ErrBytes),
		attribute.Bool("stdout.truncated", res.OutTruncated),
		attribute.Bool("stderr.truncated", res.ErrTruncated),
		attribute.Int64("duration_ms", res.DurationMs),
	}
	if eventName != "" {
		attrs = append(attrs, attribute.String("hook.event_name", eventName))
	}
	_, span := session.HookSpan(ctx, name, attrs...)
	endSpan(span, res.ExitCode)
}

func endSpan(span oteltrace.Span, exitCode int) {
	if exitCode != 0 {
		span.SetAttributes(attribute.Bool("error", true))
	}
	span.End()
}

func resolveExitCode(runErr error) (int, error) {
	if runErr == nil {
		return 0, nil
	}
	var ee *exec.ExitError
	if errors.As(runErr, &ee) {
		return ee.ExitCode(), nil
	}
	return 0, runErr
}

type boundedCapture struct {
	max int
	mu  sync.Mutex
	buf bytes.Buffer

	total     int64
	truncated bool
}

func (c *boundedCapture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.total += int64(len(p))

	remaining := c.max - c.buf.Len()
	if remaining <= 0 {
		c.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		_, _ = c.buf.Write(p[:remaining])
		c.truncated = true
		return len(p), nil
	}
	_, _ = c.buf.Write(p)
	return len(p), nil
}

func (c *boundedCapture) snapshot() (preview string, bytesTotal int64, truncated bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String(), c.total, c.truncated
}
