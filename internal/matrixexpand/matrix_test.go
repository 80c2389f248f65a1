package matrixexpand

import (
	"testing"

	"github.com/sremani/chengis/internal/domain/pipeline"
)

func TestExpandStageProducesNamedCombinations(t *testing.T) {
	stage := pipeline.Stage{
		Name: "Test",
		Steps: []pipeline.Step{
			{Name: "run", Kind: pipeline.StepKindShell, Command: "true"},
		},
	}
	cfg := pipeline.MatrixConfig{
		Dimensions: map[string][]string{
			"os":  {"linux", "macos"},
			"jdk": {"11", "17"},
		},
	}

	stages := ExpandStage(stage, cfg)
	if len(stages) != 4 {
		t.Fatalf("expected 4 expanded stages, got %d", len(stages))
	}

	want := map[string]bool{
		"Test [jdk=11, os=linux]":  true,
		"Test [jdk=11, os=macos]":  true,
		"Test [jdk=17, os=linux]":  true,
		"Test [jdk=17, os=macos]":  true,
	}
	for _, s := range stages {
		if !want[s.Name] {
			t.Errorf("unexpected stage name %q", s.Name)
		}
		if s.Steps[0].Env["MATRIX_OS"] == "" || s.Steps[0].Env["MATRIX_JDK"] == "" {
			t.Errorf("expected MATRIX_OS and MATRIX_JDK env in %q", s.Name)
		}
	}
}

func TestExpandAppliesExclusions(t *testing.T) {
	cfg := pipeline.MatrixConfig{
		Dimensions: map[string][]string{
			"os":  {"linux", "windows"},
			"jdk": {"11", "17"},
		},
		Exclude: []map[string]string{
			{"os": "windows", "jdk": "11"},
		},
	}
	combos := Expand(cfg)
	if len(combos) != 3 {
		t.Fatalf("expected 3 combinations after exclusion, got %d", len(combos))
	}
	for _, c := range combos {
		if c.Env["MATRIX_OS"] == "windows" && c.Env["MATRIX_JDK"] == "11" {
			t.Fatalf("excluded combination was not filtered: %v", c)
		}
	}
}
