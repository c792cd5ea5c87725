// Package hookrun implements the body of the reserved-name hook binary the
// host CLI invokes for every hook event: it reads one JSON event from
// stdin, discovers the user's own configured hook commands, re-executes
// each under instrumentation, and merges their responses by a first-wins
// policy. The child-process bounded-capture idiom is the same one used in
// internal/intercept/execintercept and grounded the same way, on the
// teacher's internal/funnel/cli_funnel/exec.go.
package hookrun

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Session is the subset of *tracer.Session this package needs.
type Session interface {
	HookSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span)
}

// Event is the JSON object the host writes to the orchestrator's stdin for
// every hook invocation.
type Event struct {
	SessionID     string          `json:"session_id"`
	HookEventName string          `json:"hook_event_name"`
	ToolName      string          `json:"tool_name,omitempty"`
	ToolInput     json.RawMessage `json:"tool_input,omitempty"`
	ToolResponse  json.RawMessage `json:"tool_response,omitempty"`
}

// Response is the composite object the orchestrator writes to its own
// stdout, merged from every executed hook's own stdout JSON.
type Response struct {
	Continue       bool   `json:"continue"`
	StopReason     string `json:"stopReason,omitempty"`
	Decision       string `json:"decision,omitempty"`
	Reason         string `json:"reason,omitempty"`
	SuppressOutput *bool  `json:"suppressOutput,omitempty"`
}

type hookResult struct {
	Continue       *bool  `json:"continue"`
	StopReason     string `json:"stopReason,omitempty"`
	Decision       string `json:"decision,omitempty"`
	Reason         string `json:"reason,omitempty"`
	SuppressOutput *bool  `json:"suppressOutput,omitempty"`
}

const defaultMaxPreviewBytes = 10_000

// Execute opens a "Hook: <event>" span, runs each command in commands as a
// subprocess piping eventRaw to its stdin, and merges their stdout JSON by
// first-wins: the first command that returns continue:false short-circuits
// and its object becomes the result verbatim; otherwise the first non-empty
// value for each recognized field is merged into a {continue:true} base.
func Execute(ctx context.Context, session Session, event Event, eventRaw []byte, commands []HookCommand, maxPreviewBytes int) (Response, error) {
	if maxPreviewBytes <= 0 {
		maxPreviewBytes = defaultMaxPreviewBytes
	}

	spanName := "Hook: " + event.HookEventName
	if event.ToolName != "" {
		spanName = "Hook: " + event.HookEventName + "[" + event.ToolName + "]"
	}
	eventAttrs := []attribute.KeyValue{attribute.String("hook.event", event.HookEventName)}
	if event.ToolName != "" {
		eventAttrs = append(eventAttrs, attribute.String("tool.name", event.ToolName))
	}
	eventCtx, eventSpan := session.HookSpan(ctx, spanName, eventAttrs...)

	resp := Response{Continue: true}
	anyError := false

	for _, cmd := range commands {
		start := time.Now()
		cmdCtx, cmdSpan := session.HookSpan(eventCtx, "Hook command: "+cmd.Command,
			attribute.String("hook.command", cmd.Command),
		)
		_ = cmdCtx

		stdout, stderr, exitCode, runErr := runCommand(ctx, cmd.Command, eventRaw, maxPreviewBytes)
		duration := time.Since(start).Milliseconds()

		cmdSpan.SetAttributes(
			attribute.Int("hook.exit_code", exitCode),
			attribute.Int("hook.stdout_length", len(stdout)),
			attribute.Int("hook.stderr_length", len(stderr)),
			attribute.Int64("hook.duration.ms", duration),
		)
		if runErr != nil {
			cmdSpan.SetAttributes(attribute.String("hook.error", runErr.Error()))
			anyError = true
		}
		if exitCode != 0 {
			anyError = true
		}
		cmdSpan.End()

		var result hookResult
		if json.Unmarshal(bytes.TrimSpace(stdout), &result) != nil {
			continue
		}

		if result.Continue != nil && !*result.Continue {
			eventSpan.SetAttributes(attribute.Bool("error", anyError))
			eventSpan.End()
			return Response{
				Continue:       false,
				StopReason:     result.StopReason,
				Decision:       result.Decision,
				Reason:         result.Reason,
				SuppressOutput: result.SuppressOutput,
			}, nil
		}

		if resp.StopReason == "" && result.StopReason != "" {
			resp.StopReason = result.StopReason
		}
		if resp.Decision == "" && result.Decision != "" {
			resp.Decision = result.Decision
			resp.Reason = result.Reason
		}
		if resp.SuppressOutput == nil && result.SuppressOutput != nil {
			resp.SuppressOutput = result.SuppressOutput
		}
	}

	eventSpan.SetAttributes(attribute.Bool("error", anyError))
	eventSpan.End()
	return resp, nil
}

// runCommand executes command through the shell (hook commands are
// user-authored shell strings, the same contract the host itself uses),
// piping eventRaw to stdin and capturing a bounded preview of stdout/stderr.
func runCommand(ctx context.Context, command string, eventRaw []byte, maxPreviewBytes int) (stdout, stderr []byte, exitCode int, err error) {
	if strings.TrimSpace(command) == "" {
		return nil, nil, 0, errors.New("hookrun: empty command")
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Stdin = bytes.NewReader(eventRaw)

	var outCap, errCap boundedCapture
	outCap.max = maxPreviewBytes
	errCap.max = maxPreviewBytes

	outPipe, perr := cmd.StdoutPipe()
	if perr != nil {
		return nil, nil, 0, perr
	}
	errPipe, perr := cmd.StderrPipe()
	if perr != nil {
		return nil, nil, 0, perr
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, 0, err
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(&outCap, outPipe)
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(&errCap, errPipe)
	}()

	waitErr := cmd.Wait()
	wg.Wait()

	code := 0
	if waitErr != nil {
		var ee *exec.ExitError
		if errors.As(waitErr, &ee) {
			code = ee.ExitCode()
		} else {
			return nil, nil, 0, waitErr
		}
	}

	outPreview, _, _ := outCap.snapshot()
	errPreview, _, _ := errCap.snapshot()
	return []byte(outPreview), []byte(errPreview), code, nil
}

type boundedCapture struct {
	max       int
	mu        sync.Mutex
	buf       bytes.Buffer
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

func (c *boundedCapture) snapshot() (preview string, total int64, truncated bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String(), c.total, c.truncated
}
