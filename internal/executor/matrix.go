package executor

import (
	"github.com/sremani/chengis/internal/domain/pipeline"
	"github.com/sremani/chengis/internal/matrixexpand"
)

// expandMatrix replaces every stage with one clone per matrix combination
// when p declares a matrix, renaming DependsOn references so a consumer
// stage's combination N depends on each of its producers' combination N
// (combinations are generated in the same deterministic, sorted order for
// every stage, so pairing by index lines them up correctly).
func expandMatrix(p pipeline.Pipeline) pipeline.Pipeline {
	if p.Matrix == nil {
		return p
	}
	combos := matrixexpand.Expand(*p.Matrix)
	if len(combos) == 0 {
		return p
	}

	newStages := make([]pipeline.Stage, 0, len(p.Stages)*len(combos))
	for _, stage := range p.Stages {
		clones := matrixexpand.ExpandStage(stage, *p.Matrix)
		for i, clone := range clones {
			if len(stage.DependsOn) > 0 {
				deps := make([]string, 0, len(stage.DependsOn))
				for _, dep := range stage.DependsOn {
					deps = append(deps, dep+" "+combos[i].Suffix)
				}
				clone.DependsOn = deps
			}
			newStages = append(newStages, clone)
		}
	}
	p.Stages = newStages
	return p
}
