package plugins

import (
	"github.com/sremani/chengis/internal/collaborators"
	"github.com/sremani/chengis/internal/domain/pipeline"
)

// NewDefaultRegistry constructs a Registry pre-populated with the built-in
// step kinds: shell and container (both backed by process), plus the
// sandboxed "script" plug-in kind. Callers may register additional kinds,
// notifiers, status reporters, and pipeline formats before the runtime
// wiring root starts executing builds.
func NewDefaultRegistry(process collaborators.ProcessExecutor) *Registry {
	r := NewRegistry()
	r.RegisterStepExecutor(string(pipeline.StepKindShell), &ShellExecutor{Process: process})
	r.RegisterStepExecutor(string(pipeline.StepKindContainer), &ContainerExecutor{Process: process})
	r.RegisterStepExecutor("script", ScriptExecutor{})
	return r
}
