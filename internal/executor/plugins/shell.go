package plugins

import (
	"context"
	"time"

	"github.com/sremani/chengis/internal/collaborators"
)

// DefaultStepTimeout is applied when a shell/container step declares none.
const DefaultStepTimeout = 5 * time.Minute

// ShellExecutor runs a shell step's command through the ProcessExecutor
// collaborator.
type ShellExecutor struct {
	Process collaborators.ProcessExecutor
}

// Execute runs in.Step.Command via the wrapped ProcessExecutor.
func (e *ShellExecutor) Execute(ctx context.Context, in Input) (collaborators.ProcessResult, error) {
	timeout := in.Step.Timeout
	if timeout <= 0 {
		timeout = DefaultStepTimeout
	}
	env := make(map[string]string, len(in.Env)+len(in.Step.Env))
	for k, v := range in.Env {
		env[k] = v
	}
	for k, v := range in.Step.Env {
		env[k] = v
	}
	dir := in.Workspace
	if in.Step.WorkingDir != "" {
		dir = in.Step.WorkingDir
	}
	return e.Process.Execute(ctx, collaborators.ProcessRequest{
		Command:    in.Step.Command,
		Dir:        dir,
		Env:        env,
		Timeout:    timeout,
		MaskValues: in.MaskValues,
	})
}
