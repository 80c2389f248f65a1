package executor

import "github.com/sremani/chengis/internal/domain/pipeline"

// evalCondition reports whether cond permits execution. A nil condition
// always permits execution.
func evalCondition(cond *pipeline.Condition, branch string, params map[string]string) bool {
	if cond == nil {
		return true
	}
	switch cond.Kind {
	case pipeline.ConditionAlways, "":
		return true
	case pipeline.ConditionBranchEquals:
		return branch == cond.Value
	case pipeline.ConditionParameterEquals:
		return params[cond.Parameter] == cond.Value
	default:
		return true
	}
}
