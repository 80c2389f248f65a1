// Package collaborators declares the external-boundary interfaces the core
// consumes (persistence, VCS checkout, process execution, secrets, plug-in
// registry, metrics, SCM status, supply-chain hooks, feature flags). This
// package owns only the interfaces; concrete adapters live under
// internal/storage, internal/secrets, internal/executor/plugins, and
// internal/metrics.
package collaborators

import (
	"context"
	"time"

	"github.com/sremani/chengis/internal/domain/build"
)

// VCSCheckout resolves source for a build.
type VCSCheckout interface {
	Checkout(ctx context.Context, source, workspace, commit string) (*build.GitInfo, error)
}

// ProcessRequest describes a single shell/container invocation.
type ProcessRequest struct {
	Command    string
	Dir        string
	Env        map[string]string
	Timeout    time.Duration
	MaskValues []string
}

// ProcessResult is the outcome of a ProcessExecutor invocation.
type ProcessResult struct {
	ExitCode  int
	Stdout    string
	Stderr    string
	Duration  time.Duration
	TimedOut  bool
	Cancelled bool
}

// ProcessExecutor executes shell commands and container invocations,
// honoring ctx cancellation and the request timeout.
type ProcessExecutor interface {
	Execute(ctx context.Context, req ProcessRequest) (ProcessResult, error)
}

// SecretStore resolves named secrets scoped to a job/organization.
type SecretStore interface {
	GetSecretsForBuild(ctx context.Context, jobID, orgID string) (map[string]string, error)
}

// MetricsRecorder wraps counter/histogram emission such that a metrics
// failure never propagates to the caller.
type MetricsRecorder interface {
	RecordBuildStart()
	RecordBuildCompletion(status string, d time.Duration)
	RecordStageDuration(status string, d time.Duration)
	RecordStepDuration(status string, d time.Duration)
	RecordCacheResult(hit bool)
	RecordEventBusDepth(depth int)
	RecordApprovalWait(d time.Duration)
}

// StatusReporter publishes a build's status to an external SCM provider.
type StatusReporter interface {
	ReportStatus(ctx context.Context, provider string, b *build.Build) error
}

// SupplyChainHook receives the completed BuildResult; failures are logged,
// never propagated into the build's status.
type SupplyChainHook interface {
	Name() string
	Run(ctx context.Context, b *build.Build) error
}

// Notifier dispatches a build outcome to a configured notification target.
type Notifier interface {
	Notify(ctx context.Context, target string, b *build.Build) error
}

// PipelineFormatParser parses a workspace pipeline-as-code file of a given
// extension into server-shaped stages.
type PipelineFormatParser interface {
	Extension() string
	Parse(data []byte) (any, error)
}

// FeatureFlags is a pure predicate over configuration-scoped flags.
type FeatureFlags interface {
	Enabled(flag string) bool
}
