// Package plugins implements the step-kind plug-in registry: a
// multimethod-dispatch replacement exposing a fixed interface per kind,
// indexed by string, with defaults registered at startup and never mutated
// again on the hot path.
package plugins

import (
	"context"
	"sync"

	"github.com/sremani/chengis/internal/collaborators"
	"github.com/sremani/chengis/internal/domain/pipeline"
)

// Input is everything a StepExecutor needs to run one Step.
type Input struct {
	Step       pipeline.Step
	Workspace  string
	Env        map[string]string
	MaskValues []string
}

// StepExecutor runs one step of a given kind to completion, honoring ctx
// cancellation.
type StepExecutor interface {
	Execute(ctx context.Context, in Input) (collaborators.ProcessResult, error)
}

// Registry is the process-wide, read-after-startup plug-in table for step
// executors, notifiers, SCM status reporters, and pipeline format parsers.
// It is written once at startup and read-only thereafter, but
// the registration methods are still guarded since tests construct and
// populate it directly.
type Registry struct {
	mu         sync.RWMutex
	executors  map[string]StepExecutor
	notifiers  map[string]collaborators.Notifier
	reporters  map[string]collaborators.StatusReporter
	formats    map[string]collaborators.PipelineFormatParser
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[string]StepExecutor),
		notifiers: make(map[string]collaborators.Notifier),
		reporters: make(map[string]collaborators.StatusReporter),
		formats:   make(map[string]collaborators.PipelineFormatParser),
	}
}

// RegisterStepExecutor binds a StepExecutor to a step kind name.
func (r *Registry) RegisterStepExecutor(kind string, e StepExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[kind] = e
}

// GetStepExecutor looks up the executor for kind. Unregistered kinds fall
// back to the shell executor.
func (r *Registry) GetStepExecutor(kind string) (StepExecutor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.executors[kind]; ok {
		return e, true
	}
	e, ok := r.executors[string(pipeline.StepKindShell)]
	return e, ok
}

// RegisterNotifier binds a Notifier to a channel kind name.
func (r *Registry) RegisterNotifier(kind string, n collaborators.Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifiers[kind] = n
}

// GetNotifier looks up the notifier for kind.
func (r *Registry) GetNotifier(kind string) (collaborators.Notifier, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.notifiers[kind]
	return n, ok
}

// RegisterStatusReporter binds a StatusReporter to an SCM provider name.
func (r *Registry) RegisterStatusReporter(provider string, sr collaborators.StatusReporter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reporters[provider] = sr
}

// GetStatusReporter looks up the reporter for provider.
func (r *Registry) GetStatusReporter(provider string) (collaborators.StatusReporter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sr, ok := r.reporters[provider]
	return sr, ok
}

// RegisterPipelineFormat binds a PipelineFormatParser to a file extension.
func (r *Registry) RegisterPipelineFormat(ext string, p collaborators.PipelineFormatParser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.formats[ext] = p
}

// GetPipelineFormat looks up the parser for a file extension.
func (r *Registry) GetPipelineFormat(ext string) (collaborators.PipelineFormatParser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.formats[ext]
	return p, ok
}
