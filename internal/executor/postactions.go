package executor

import (
	"github.com/sremani/chengis/internal/domain/build"
	"github.com/sremani/chengis/internal/domain/pipeline"
)

// runPostActions executes the always/on-success/on-failure step groups
// after the main stage set has finalized. Their outcomes are reported back
// to the caller but never feed into the build's overall status.
func (e *Executor) runPostActions(sc stageContext, groups *pipeline.PostActionGroups, buildStatus build.Status) []build.StageResult {
	if groups == nil {
		return nil
	}
	var results []build.StageResult
	if len(groups.Always) > 0 {
		results = append(results, e.runPostActionGroup(sc, "always", groups.Always))
	}
	switch buildStatus {
	case build.StatusSuccess:
		if len(groups.OnSuccess) > 0 {
			results = append(results, e.runPostActionGroup(sc, "on-success", groups.OnSuccess))
		}
	case build.StatusFailure, build.StatusAborted:
		if len(groups.OnFailure) > 0 {
			results = append(results, e.runPostActionGroup(sc, "on-failure", groups.OnFailure))
		}
	}
	return results
}

func (e *Executor) runPostActionGroup(sc stageContext, name string, steps []pipeline.Step) build.StageResult {
	stage := pipeline.Stage{Name: "post-action:" + name, Steps: steps}
	stepResults := e.runStepsSequential(sc, stage)
	return build.StageResult{
		Name:   stage.Name,
		Status: build.DeriveStageStatus(stepResults),
		Steps:  stepResults,
	}
}
