// Package matrixexpand cartesian-expands a pipeline.MatrixConfig into one
// named, environment-tagged combination per assignment.
package matrixexpand

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sremani/chengis/internal/domain/pipeline"
)

// Combination is one assignment of values to all matrix dimensions.
type Combination struct {
	// Suffix is the "[k1=v1, k2=v2, …]" name suffix, dimensions sorted
	// alphabetically for a stable, reproducible name.
	Suffix string
	// Env holds the MATRIX_<DIM> additions for this combination.
	Env map[string]string
}

// Expand produces every combination of cfg's dimensions, applying the
// exclusion list, with dimensions iterated in sorted order for determinism.
func Expand(cfg pipeline.MatrixConfig) []Combination {
	dims := make([]string, 0, len(cfg.Dimensions))
	for d := range cfg.Dimensions {
		dims = append(dims, d)
	}
	sort.Strings(dims)

	var combos []map[string]string
	combos = append(combos, map[string]string{})
	for _, dim := range dims {
		var next []map[string]string
		for _, combo := range combos {
			for _, val := range cfg.Dimensions[dim] {
				c := cloneMap(combo)
				c[dim] = val
				next = append(next, c)
			}
		}
		combos = next
	}

	out := make([]Combination, 0, len(combos))
	for _, combo := range combos {
		if excluded(combo, cfg.Exclude) {
			continue
		}
		out = append(out, Combination{
			Suffix: suffixFor(combo, dims),
			Env:    envFor(combo),
		})
	}
	return out
}

func excluded(combo map[string]string, excludes []map[string]string) bool {
	for _, ex := range excludes {
		matches := true
		for k, v := range ex {
			if combo[k] != v {
				matches = false
				break
			}
		}
		if matches {
			return true
		}
	}
	return false
}

func suffixFor(combo map[string]string, dims []string) string {
	parts := make([]string, 0, len(dims))
	for _, dim := range dims {
		parts = append(parts, fmt.Sprintf("%s=%s", dim, combo[dim]))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func envFor(combo map[string]string) map[string]string {
	env := make(map[string]string, len(combo))
	for dim, val := range combo {
		env["MATRIX_"+strings.ToUpper(dim)] = val
	}
	return env
}

func cloneMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ExpandStage applies Expand to produce one Stage clone per combination,
// each named "{stage.Name} {suffix}" and carrying the combination's
// MATRIX_<DIM> env additions merged into every step.
func ExpandStage(stage pipeline.Stage, cfg pipeline.MatrixConfig) []pipeline.Stage {
	combos := Expand(cfg)
	if len(combos) == 0 {
		return []pipeline.Stage{stage}
	}
	out := make([]pipeline.Stage, 0, len(combos))
	for _, combo := range combos {
		clone := stage
		clone.Name = stage.Name + " " + combo.Suffix
		clone.Steps = make([]pipeline.Step, len(stage.Steps))
		for i, step := range stage.Steps {
			s := step
			env := make(map[string]string, len(step.Env)+len(combo.Env))
			for k, v := range step.Env {
				env[k] = v
			}
			for k, v := range combo.Env {
				env[k] = v
			}
			s.Env = env
			clone.Steps[i] = s
		}
		out = append(out, clone)
	}
	return out
}
