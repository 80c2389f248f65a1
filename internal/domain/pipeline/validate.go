package pipeline

import (
	"fmt"
	"regexp"
)

// DefaultMaxMatrixCombinations is used when no explicit maximum is configured.
const DefaultMaxMatrixCombinations = 25

var imageRefPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._/-]*(:[a-zA-Z0-9._-]+)?(@sha256:[a-f0-9]{64})?$`)

// Validate checks the structural invariants of a Pipeline: unique stage
// names, DAG references to existing stages, acyclicity, unique step names
// per stage, validated container image references, and matrix expansion
// size. It is called before a Pipeline is ever executed; violations are
// configuration errors per the error taxonomy.
func Validate(p Pipeline, maxMatrixCombinations int) error {
	if p.Name == "" {
		return fmt.Errorf("pipeline: name is required")
	}
	if maxMatrixCombinations <= 0 {
		maxMatrixCombinations = DefaultMaxMatrixCombinations
	}

	seenStages := make(map[string]bool, len(p.Stages))
	for _, stage := range p.Stages {
		if stage.Name == "" {
			return fmt.Errorf("pipeline %q: stage name must not be empty", p.Name)
		}
		if seenStages[stage.Name] {
			return fmt.Errorf("pipeline %q: duplicate stage name %q", p.Name, stage.Name)
		}
		seenStages[stage.Name] = true

		if err := validateSteps(stage); err != nil {
			return fmt.Errorf("pipeline %q: stage %q: %w", p.Name, stage.Name, err)
		}
	}

	for _, stage := range p.Stages {
		for _, dep := range stage.DependsOn {
			if !seenStages[dep] {
				return fmt.Errorf("pipeline %q: stage %q depends on unknown stage %q", p.Name, stage.Name, dep)
			}
		}
	}

	if err := checkAcyclic(p.Stages); err != nil {
		return fmt.Errorf("pipeline %q: %w", p.Name, err)
	}

	if p.Matrix != nil {
		combos := 1
		for _, values := range p.Matrix.Dimensions {
			if len(values) == 0 {
				return fmt.Errorf("pipeline %q: matrix dimension with no values", p.Name)
			}
			combos *= len(values)
		}
		if combos > maxMatrixCombinations {
			return fmt.Errorf("pipeline %q: matrix expansion size %d exceeds maximum %d", p.Name, combos, maxMatrixCombinations)
		}
	}

	return nil
}

func validateSteps(stage Stage) error {
	seen := make(map[string]bool, len(stage.Steps))
	for _, step := range stage.Steps {
		if step.Name == "" {
			return fmt.Errorf("step name must not be empty")
		}
		if seen[step.Name] {
			return fmt.Errorf("duplicate step name %q", step.Name)
		}
		seen[step.Name] = true

		switch step.Kind {
		case StepKindShell:
			if step.Command == "" {
				return fmt.Errorf("step %q: shell step requires a command", step.Name)
			}
		case StepKindContainer:
			if step.Container == nil || step.Container.Image == "" {
				return fmt.Errorf("step %q: container step requires an image reference", step.Name)
			}
			if !imageRefPattern.MatchString(step.Container.Image) {
				return fmt.Errorf("step %q: malformed image reference %q", step.Name, step.Container.Image)
			}
		case "":
			return fmt.Errorf("step %q: kind is required", step.Name)
		default:
			// registered plug-in kind: validated by the plugin registry at
			// dispatch time, not here.
		}
	}
	return nil
}

// checkAcyclic rejects a DAG with any dependency cycle using recursive
// depth-first traversal with a coloring scheme (white/gray/black).
func checkAcyclic(stages []Stage) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	byName := make(map[string]Stage, len(stages))
	for _, s := range stages {
		byName[s.Name] = s
	}
	color := make(map[string]int, len(stages))

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch color[name] {
		case black:
			return nil
		case gray:
			return fmt.Errorf("dependency cycle detected at stage %q", name)
		}
		color[name] = gray
		for _, dep := range byName[name].DependsOn {
			if err := visit(dep, append(path, name)); err != nil {
				return err
			}
		}
		color[name] = black
		return nil
	}

	for _, s := range stages {
		if err := visit(s.Name, nil); err != nil {
			return err
		}
	}
	return nil
}
