package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/sremani/chengis/internal/collaborators"
	"github.com/sremani/chengis/internal/domain/build"
	"github.com/sremani/chengis/internal/domain/event"
	"github.com/sremani/chengis/internal/domain/pipeline"
	"github.com/sremani/chengis/internal/domain/policy"
	"github.com/sremani/chengis/internal/eventbus"
	"github.com/sremani/chengis/internal/executor/plugins"
	"github.com/sremani/chengis/internal/policyengine"
	"github.com/sremani/chengis/internal/workerpool"
)

// stageContext bundles everything a stage execution needs that does not
// vary per stage: build identity, environment overlay, and the shared
// engines. It is read-only once built, so concurrent DAG-mode stages can
// share one value safely.
type stageContext struct {
	ctx        context.Context
	jobID      string
	orgID      string
	buildID    string
	branch     string
	parameters map[string]string
	env        map[string]string
	workspace  string
	policies   []policy.Policy
	cancel     *workerpool.CancelFlag
	maskValues []string
	diag       *diagRecorder
}

func (e *Executor) executeStage(sc stageContext, stage pipeline.Stage) build.StageResult {
	if !evalCondition(stage.Condition, sc.branch, sc.parameters) {
		return build.StageResult{Name: stage.Name, Status: build.StageStatusSkipped}
	}

	fingerprint := stageFingerprint(stage, sc.env)
	if cached, ok := e.resultCache.get(sc.jobID, fingerprint); ok {
		cached.Cached = true
		e.publish(sc.ctx, sc.buildID, event.TypeStageCached, map[string]any{"stage": stage.Name})
		return cached
	}

	e.publish(sc.ctx, sc.buildID, event.TypeStageStarted, map[string]any{"stage": stage.Name})
	started := time.Now().UTC()

	if len(sc.policies) > 0 {
		verdict := policyengine.Evaluate(sc.policies, policyengine.Context{
			BuildID: sc.buildID, OrgID: sc.orgID, StageName: stage.Name,
			Branch: sc.branch, Author: sc.parameters["author"], Parameters: sc.parameters,
			Now: time.Now().UTC(),
		}, e.deps.Log)
		if !verdict.Allowed {
			e.publish(sc.ctx, sc.buildID, event.TypeStagePolicyDenied, map[string]any{
				"stage": stage.Name, "policy": verdict.DeniedPolicy, "reason": verdict.Reason,
			})
			return build.StageResult{
				Name: stage.Name, Status: build.StageStatusAborted,
				Reason: fmt.Sprintf("denied by policy %q: %s", verdict.DeniedPolicy, verdict.Reason),
				StartedAt: started, EndedAt: time.Now().UTC(),
			}
		}
		if stage.Approval != nil && verdict.Override != nil && e.deps.Approval != nil {
			stage.Approval = approvalOverride(stage.Approval, verdict.Override)
		}
	}

	if stage.Approval != nil && e.deps.Approval != nil {
		e.publish(sc.ctx, sc.buildID, event.TypeApprovalRequested, map[string]any{"stage": stage.Name})
		outcome, err := e.deps.Approval.Request(sc.ctx, sc.buildID, stage.Name, *stage.Approval, nil, sc.cancel, nil)
		if err != nil || !outcome.Proceed {
			reason := outcome.Reason
			if err != nil && reason == "" {
				reason = err.Error()
			}
			result := build.StageResult{
				Name: stage.Name, Status: build.StageStatusAborted, Reason: reason,
				StartedAt: started, EndedAt: time.Now().UTC(),
			}
			e.publish(sc.ctx, sc.buildID, event.TypeStageCompleted, map[string]any{
				"stage": stage.Name, "status": string(result.Status),
			})
			return result
		}
	}

	if sc.cancel != nil && sc.cancel.Cancelled() {
		return build.StageResult{Name: stage.Name, Status: build.StageStatusAborted, Reason: "build cancelled", StartedAt: started, EndedAt: time.Now().UTC()}
	}

	if len(stage.Caches) > 0 && e.deps.Cache != nil {
		restores, err := e.deps.Cache.Restore(sc.ctx, sc.workspace, sc.jobID, stage.Caches)
		if err != nil && e.deps.Log != nil {
			e.deps.Log.WithError(err).Warn("executor: cache restore failed")
		}
		for _, r := range restores {
			status := "miss"
			if r.Hit {
				status = "hit"
			}
			sc.diag.record(stage.Name+"/"+r.EffectiveKey, status)
		}
	}

	steps := e.runSteps(sc, stage)
	status := build.DeriveStageStatus(steps)
	result := build.StageResult{
		Name: stage.Name, Status: status, Steps: steps,
		StartedAt: started, EndedAt: time.Now().UTC(),
	}
	if status == build.StageStatusFailure {
		result.Reason = "one or more steps failed"
	} else if status == build.StageStatusAborted {
		result.Reason = "build cancelled"
	}

	if len(stage.Caches) > 0 && e.deps.Cache != nil && status != build.StageStatusAborted {
		if err := e.deps.Cache.Save(sc.ctx, sc.workspace, sc.jobID, stage.Caches); err != nil && e.deps.Log != nil {
			e.deps.Log.WithError(err).Warn("executor: cache save failed")
		}
	}

	if status == build.StageStatusSuccess {
		e.resultCache.put(sc.jobID, fingerprint, result)
	}

	e.publish(sc.ctx, sc.buildID, event.TypeStageCompleted, map[string]any{
		"stage": stage.Name, "status": string(status),
	})
	return result
}

func approvalOverride(req *pipeline.ApprovalRequirement, override *policy.ApprovalOverride) *pipeline.ApprovalRequirement {
	amplified := *req
	if override.MinApprovals > amplified.MinApprovals {
		amplified.MinApprovals = override.MinApprovals
	}
	if override.ApproverGroup != "" {
		if amplified.ApproverGroup == "" {
			amplified.ApproverGroup = override.ApproverGroup
		} else if amplified.ApproverGroup != override.ApproverGroup {
			amplified.ApproverGroup += "," + override.ApproverGroup
		}
	}
	return &amplified
}

func (e *Executor) runSteps(sc stageContext, stage pipeline.Stage) []build.StepResult {
	if stage.Parallel {
		return e.runStepsParallel(sc, stage)
	}
	return e.runStepsSequential(sc, stage)
}

func (e *Executor) runStepsSequential(sc stageContext, stage pipeline.Stage) []build.StepResult {
	results := make([]build.StepResult, 0, len(stage.Steps))
	halted := false
	for _, step := range stage.Steps {
		if halted {
			results = append(results, build.StepResult{Name: step.Name, Status: build.StepStatusSkipped})
			continue
		}
		res := e.runStep(sc, stage, step)
		results = append(results, res)
		if res.Status == build.StepStatusFailure || res.Status == build.StepStatusAborted {
			halted = true
		}
	}
	return results
}

func (e *Executor) runStepsParallel(sc stageContext, stage pipeline.Stage) []build.StepResult {
	limit := e.deps.MaxParallelSteps
	if limit <= 0 {
		limit = 8
	}
	sem := make(chan struct{}, limit)
	results := make([]build.StepResult, len(stage.Steps))
	done := make(chan struct{})
	for i, step := range stage.Steps {
		i, step := i, step
		sem <- struct{}{}
		go func() {
			defer func() { <-sem }()
			results[i] = e.runStep(sc, stage, step)
			done <- struct{}{}
		}()
	}
	for range stage.Steps {
		<-done
	}
	return results
}

func (e *Executor) runStep(sc stageContext, stage pipeline.Stage, step pipeline.Step) build.StepResult {
	started := time.Now().UTC()
	if !evalCondition(step.Condition, sc.branch, sc.parameters) {
		return build.StepResult{Name: step.Name, Status: build.StepStatusSkipped, StartedAt: started, EndedAt: started}
	}
	if sc.cancel != nil && sc.cancel.Cancelled() {
		return build.StepResult{Name: step.Name, Status: build.StepStatusAborted, StartedAt: started, EndedAt: started}
	}

	e.publish(sc.ctx, sc.buildID, event.TypeStepStarted, map[string]any{"stage": stage.Name, "step": step.Name})

	runCtx, cancelRun := context.WithCancel(sc.ctx)
	stopWatch := make(chan struct{})
	if sc.cancel != nil {
		go func() {
			select {
			case <-sc.cancel.Done():
				cancelRun()
			case <-stopWatch:
			}
		}()
	}

	executor, ok := e.deps.Plugins.GetStepExecutor(string(step.Kind))
	var (
		procResult collaborators.ProcessResult
		runErr     error
	)
	if !ok {
		runErr = fmt.Errorf("executor: no step executor registered for kind %q", step.Kind)
	} else {
		procResult, runErr = executor.Execute(runCtx, plugins.Input{
			Step: step, Workspace: sc.workspace, Env: sc.env, MaskValues: sc.maskValues,
		})
	}
	close(stopWatch)
	cancelRun()

	ended := time.Now().UTC()
	result := build.StepResult{
		Name: step.Name, StartedAt: started, EndedAt: ended,
		Output: procResult.Stdout + procResult.Stderr,
		ExitCode: procResult.ExitCode, Duration: ended.Sub(started),
	}

	switch {
	case procResult.Cancelled || (sc.cancel != nil && sc.cancel.Cancelled()):
		result.Status = build.StepStatusAborted
	case runErr != nil, procResult.TimedOut, procResult.ExitCode != 0:
		result.Status = build.StepStatusFailure
		if runErr != nil && result.Output == "" {
			result.Output = runErr.Error()
		}
	default:
		result.Status = build.StepStatusSuccess
	}

	if e.deps.Metrics != nil {
		e.deps.Metrics.RecordStepDuration(string(result.Status), result.Duration)
	}
	e.publish(sc.ctx, sc.buildID, event.TypeStepCompleted, map[string]any{
		"stage": stage.Name, "step": step.Name, "status": string(result.Status),
	})
	return result
}

func (e *Executor) publish(ctx context.Context, buildID string, typ event.Type, data map[string]any) {
	if e.deps.Bus == nil {
		return
	}
	res := e.deps.Bus.Publish(ctx, event.New(buildID, typ, data))
	if res == eventbus.PublishTimeout && e.deps.Log != nil {
		e.deps.Log.WithField("build_id", buildID).Error("executor: critical event publish timed out")
	}
}
