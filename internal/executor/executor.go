// Package executor implements the Pipeline Execution Engine: the
// stage/step state machine that resolves source, expands matrix
// combinations, runs stages sequentially or as a DAG, and finalizes a
// Build with its artifacts and post-action results.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/sremani/chengis/internal/approvalengine"
	"github.com/sremani/chengis/internal/cacheengine"
	"github.com/sremani/chengis/internal/collaborators"
	"github.com/sremani/chengis/internal/corekit"
	"github.com/sremani/chengis/internal/domain/build"
	"github.com/sremani/chengis/internal/domain/event"
	"github.com/sremani/chengis/internal/domain/job"
	"github.com/sremani/chengis/internal/domain/pipeline"
	"github.com/sremani/chengis/internal/domain/policy"
	"github.com/sremani/chengis/internal/eventbus"
	"github.com/sremani/chengis/internal/executor/plugins"
	"github.com/sremani/chengis/internal/logging"
	"github.com/sremani/chengis/internal/storage"
	"github.com/sremani/chengis/internal/workerpool"
	"github.com/sremani/chengis/internal/workspace"
)

// Deps bundles every collaborator and engine the Executor drives. All
// fields are constructed explicitly by the runtime wiring root; nothing
// here is a package-level singleton.
type Deps struct {
	Log       *logging.Logger
	Bus       *eventbus.Bus
	Workspace *workspace.Manager
	Plugins   *plugins.Registry

	Cache    *cacheengine.Engine
	Approval *approvalengine.Engine
	Policies storage.PolicyStore

	VCS            collaborators.VCSCheckout
	Secrets        collaborators.SecretStore
	Metrics        collaborators.MetricsRecorder
	StatusReporter collaborators.StatusReporter
	StatusProvider string
	Notifier       collaborators.Notifier
	NotifierKind   string
	SupplyChain    []collaborators.SupplyChainHook
	FeatureFlags   collaborators.FeatureFlags

	// NotifyRetry bounds how many times a failed notification dispatch is
	// retried with backoff before being logged and swallowed. The zero value
	// falls back to three attempts with exponential backoff from 500ms,
	// capped at 5s.
	NotifyRetry corekit.RetryPolicy

	MaxConcurrentStages int
	MaxParallelSteps    int
	MaxMatrixCombos     int
	ArtifactsRoot       string
}

// Executor drives one Build's execution from queued to finalized.
type Executor struct {
	deps        Deps
	resultCache *resultCache
}

// New constructs an Executor over deps.
func New(deps Deps) *Executor {
	return &Executor{deps: deps, resultCache: newResultCache()}
}

// Run executes j's pipeline for build b end to end: workspace setup,
// optional VCS checkout, matrix expansion, stage execution (DAG when any
// stage declares dependencies or the "dag-stage-execution" feature flag is
// enabled, sequential otherwise), post-actions,
// artifact collection, status reporting, notification dispatch, and
// supply-chain hook invocation. It always returns a Build with a terminal
// status; transient collaborator failures (metrics, notification, status
// report, supply-chain hook, artifact persistence) are logged but never
// change that status.
func (e *Executor) Run(ctx context.Context, j job.Job, b build.Build, cancel *workerpool.CancelFlag) build.Build {
	b.Status = build.StatusRunning
	b.StartedAt = time.Now().UTC()
	e.publish(ctx, b.ID, event.TypeBuildStarted, map[string]any{"job_id": j.ID})
	if e.deps.Metrics != nil {
		e.deps.Metrics.RecordBuildStart()
	}

	ws, err := e.deps.Workspace.ForBuild(j.ID, b.Number)
	if err != nil {
		return e.finalize(ctx, b, build.StatusFailure, fmt.Sprintf("workspace setup failed: %v", err))
	}
	b.Workspace = ws

	if j.Source.Repository != "" && e.deps.VCS != nil {
		e.publish(ctx, b.ID, event.TypeGitStarted, map[string]any{"repository": j.Source.Repository})
		ref := j.Source.DefaultRef
		if v, ok := b.Parameters["ref"]; ok && v != "" {
			ref = v
		}
		gitInfo, err := e.deps.VCS.Checkout(ctx, j.Source.Repository, ws, ref)
		if err != nil {
			e.publish(ctx, b.ID, event.TypeGitFailed, map[string]any{"error": err.Error()})
			return e.finalize(ctx, b, build.StatusFailure, fmt.Sprintf("checkout failed: %v", err))
		}
		b.Git = gitInfo
		e.publish(ctx, b.ID, event.TypeGitCompleted, map[string]any{"commit": gitInfo.Commit})
	}

	var secrets map[string]string
	if e.deps.Secrets != nil {
		secrets, _ = e.deps.Secrets.GetSecretsForBuild(ctx, j.ID, j.OrgID)
	}
	var branch string
	if b.Git != nil {
		branch = b.Git.Branch
	}
	env := buildEnv(b, j.Name, ws, b.Git, secrets, nil)

	resolved := j.Pipeline.Clone()
	if err := pipeline.Validate(resolved, e.deps.MaxMatrixCombos); err != nil {
		return e.finalize(ctx, b, build.StatusFailure, fmt.Sprintf("invalid pipeline: %v", err))
	}
	p := expandMatrix(resolved)
	b.PipelineSource = p.Source
	if b.PipelineSource == "" {
		b.PipelineSource = pipeline.SourceServer
	}

	var policies []policy.Policy
	if e.deps.Policies != nil {
		policies, _ = e.deps.Policies.ListPolicies(ctx, j.OrgID)
	}

	sc := stageContext{
		ctx: ctx, jobID: j.ID, orgID: j.OrgID, buildID: b.ID,
		branch: branch, parameters: b.Parameters, env: env, workspace: ws,
		policies: policies, cancel: cancel, maskValues: secretValues(secrets),
		diag: newDiagRecorder(),
	}

	useDAG := hasStageDependencies(p.Stages)
	if !useDAG && e.deps.FeatureFlags != nil {
		useDAG = e.deps.FeatureFlags.Enabled("dag-stage-execution")
	}

	var stageResults []build.StageResult
	if useDAG {
		var err error
		stageResults, err = e.runDAGStages(sc, p.Stages)
		if err != nil {
			return e.finalize(ctx, b, build.StatusFailure, err.Error())
		}
	} else {
		stageResults = e.runSequentialStages(sc, p.Stages)
	}

	b.Stages = stageResults
	b.CacheDiagnostics = sc.diag.snapshot()
	status := build.DeriveBuildStatus(stageResults)
	if cancel != nil && cancel.Cancelled() {
		status = build.StatusAborted
	}

	b.PostActionResults = e.runPostActions(sc, p.PostActions, status)

	if len(p.ArtifactGlobs) > 0 && e.deps.ArtifactsRoot != "" {
		artifacts, err := collectArtifacts(ws, e.deps.ArtifactsRoot, j.ID, b.Number, p.ArtifactGlobs)
		if err != nil && e.deps.Log != nil {
			e.deps.Log.WithError(err).Warn("executor: artifact collection failed")
		}
		b.Artifacts = artifacts
	}

	return e.finalizeWithStatus(ctx, b, status, p)
}

// hasStageDependencies reports whether any stage declares DependsOn,
// distinguishing a genuine DAG pipeline from a purely sequential one.
func hasStageDependencies(stages []pipeline.Stage) bool {
	for _, s := range stages {
		if len(s.DependsOn) > 0 {
			return true
		}
	}
	return false
}

func (e *Executor) finalize(ctx context.Context, b build.Build, status build.Status, reason string) build.Build {
	b.Stages = append(b.Stages, build.StageResult{Name: "setup", Status: build.StageStatusFailure, Reason: reason})
	return e.finalizeWithStatus(ctx, b, status, pipeline.Pipeline{})
}

// notifyRetryPolicy returns the configured NotifyRetry policy, or a sane
// bounded default (3 attempts, exponential backoff from 500ms) if the caller
// left it at the zero value.
func (e *Executor) notifyRetryPolicy() corekit.RetryPolicy {
	p := e.deps.NotifyRetry
	if p.Attempts <= 0 {
		p = corekit.RetryPolicy{Attempts: 3, InitialBackoff: 500 * time.Millisecond, MaxBackoff: 5 * time.Second, Multiplier: 2}
	}
	return p
}

func (e *Executor) finalizeWithStatus(ctx context.Context, b build.Build, status build.Status, p pipeline.Pipeline) build.Build {
	b.Status = status
	b.CompletedAt = time.Now().UTC()
	if e.deps.Metrics != nil {
		e.deps.Metrics.RecordBuildCompletion(string(status), b.CompletedAt.Sub(b.StartedAt))
	}

	if e.deps.StatusReporter != nil && e.deps.StatusProvider != "" {
		if err := e.deps.StatusReporter.ReportStatus(ctx, e.deps.StatusProvider, &b); err != nil && e.deps.Log != nil {
			e.deps.Log.WithError(err).Warn("executor: status report failed")
		}
	}

	for _, target := range p.NotificationTargets {
		if e.deps.Notifier == nil {
			continue
		}
		target := target
		err := corekit.Retry(ctx, e.notifyRetryPolicy(), func() error {
			return e.deps.Notifier.Notify(ctx, target, &b)
		})
		if err != nil && e.deps.Log != nil {
			e.deps.Log.WithError(err).WithField("target", target).Warn("executor: notification dispatch failed after retries")
		}
	}

	for _, hook := range e.deps.SupplyChain {
		if e.deps.FeatureFlags != nil && !e.deps.FeatureFlags.Enabled("supply-chain-hook:"+hook.Name()) {
			continue
		}
		if err := hook.Run(ctx, &b); err != nil && e.deps.Log != nil {
			e.deps.Log.WithError(err).WithField("hook", hook.Name()).Warn("executor: supply-chain hook failed")
		}
	}

	typ := event.TypeBuildCompleted
	if status == build.StatusAborted {
		typ = event.TypeBuildCancelled
	}
	e.publish(ctx, b.ID, typ, map[string]any{"status": string(status)})
	return b
}
