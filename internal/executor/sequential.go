package executor

import (
	"github.com/sremani/chengis/internal/domain/build"
	"github.com/sremani/chengis/internal/domain/pipeline"
)

// runSequentialStages executes stages in declared order, stopping before the
// next stage as soon as one fails or is aborted; stages not yet reached are
// simply absent from the returned results. Skipped stages (condition false)
// do not halt the run.
func (e *Executor) runSequentialStages(sc stageContext, stages []pipeline.Stage) []build.StageResult {
	results := make([]build.StageResult, 0, len(stages))
	for _, stage := range stages {
		res := e.executeStage(sc, stage)
		results = append(results, res)
		if res.Status == build.StageStatusFailure || res.Status == build.StageStatusAborted {
			break
		}
		if sc.cancel != nil && sc.cancel.Cancelled() {
			break
		}
	}
	return results
}
