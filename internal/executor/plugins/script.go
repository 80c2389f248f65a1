package plugins

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/sremani/chengis/internal/collaborators"
)

// ScriptExecutor registers the "script" step kind: a sandboxed JavaScript
// runtime (grounded in the teacher's TEEExecutor goja usage), with
// ctx-driven interruption on cancellation instead of a real process to
// wait on.
type ScriptExecutor struct{}

// Execute runs in.Step.Command as a JS program. `env` is exposed as a
// global object; console.log output is captured as stdout. A thrown JS
// exception yields exit code 1; successful completion yields exit code 0.
func (ScriptExecutor) Execute(ctx context.Context, in Input) (collaborators.ProcessResult, error) {
	rt := goja.New()
	var out bytes.Buffer

	env := make(map[string]string, len(in.Env)+len(in.Step.Env))
	for k, v := range in.Env {
		env[k] = v
	}
	for k, v := range in.Step.Env {
		env[k] = v
	}
	if err := rt.Set("env", env); err != nil {
		return collaborators.ProcessResult{}, fmt.Errorf("plugins: script step %q: set env: %w", in.Step.Name, err)
	}

	console := rt.NewObject()
	_ = console.Set("log", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, a := range call.Arguments {
			parts[i] = a.String()
		}
		out.WriteString(strings.Join(parts, " "))
		out.WriteByte('\n')
		return goja.Undefined()
	})
	if err := rt.Set("console", console); err != nil {
		return collaborators.ProcessResult{}, fmt.Errorf("plugins: script step %q: set console: %w", in.Step.Name, err)
	}

	timeout := in.Step.Timeout
	if timeout <= 0 {
		timeout = DefaultStepTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		select {
		case <-runCtx.Done():
			rt.Interrupt("cancelled")
		case <-done:
		}
	}()

	start := time.Now()
	_, runErr := rt.RunString(in.Step.Command)
	close(done)
	duration := time.Since(start)

	maskedOut := out.String()
	for _, v := range in.MaskValues {
		if v != "" {
			maskedOut = strings.ReplaceAll(maskedOut, v, "***")
		}
	}

	result := collaborators.ProcessResult{Stdout: maskedOut, Duration: duration}
	switch {
	case ctx.Err() == context.Canceled:
		result.Cancelled = true
		result.ExitCode = -1
	case runCtx.Err() == context.DeadlineExceeded:
		result.TimedOut = true
		result.ExitCode = -1
	case runErr != nil:
		result.ExitCode = 1
		result.Stderr = runErr.Error()
	default:
		result.ExitCode = 0
	}
	return result, nil
}
