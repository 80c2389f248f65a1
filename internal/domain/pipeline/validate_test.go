package pipeline

import "testing"

func TestValidateRejectsDuplicateStageNames(t *testing.T) {
	p := Pipeline{
		Name: "demo",
		Stages: []Stage{
			{Name: "build", Steps: []Step{{Name: "s", Kind: StepKindShell, Command: "true"}}},
			{Name: "build", Steps: []Step{{Name: "s", Kind: StepKindShell, Command: "true"}}},
		},
	}
	if err := Validate(p, 0); err == nil {
		t.Fatalf("expected duplicate stage name error")
	}
}

func TestValidateRejectsUnknownDependency(t *testing.T) {
	p := Pipeline{
		Name: "demo",
		Stages: []Stage{
			{Name: "test", Steps: []Step{{Name: "s", Kind: StepKindShell, Command: "true"}}, DependsOn: []string{"missing"}},
		},
	}
	if err := Validate(p, 0); err == nil {
		t.Fatalf("expected unknown dependency error")
	}
}

func TestValidateRejectsCycle(t *testing.T) {
	p := Pipeline{
		Name: "demo",
		Stages: []Stage{
			{Name: "a", Steps: []Step{{Name: "s", Kind: StepKindShell, Command: "true"}}, DependsOn: []string{"b"}},
			{Name: "b", Steps: []Step{{Name: "s", Kind: StepKindShell, Command: "true"}}, DependsOn: []string{"a"}},
		},
	}
	if err := Validate(p, 0); err == nil {
		t.Fatalf("expected cycle detection error")
	}
}

func TestValidateAcceptsAcyclicDAG(t *testing.T) {
	p := Pipeline{
		Name: "demo",
		Stages: []Stage{
			{Name: "a", Steps: []Step{{Name: "s", Kind: StepKindShell, Command: "true"}}},
			{Name: "b", Steps: []Step{{Name: "s", Kind: StepKindShell, Command: "true"}}, DependsOn: []string{"a"}},
			{Name: "c", Steps: []Step{{Name: "s", Kind: StepKindShell, Command: "true"}}, DependsOn: []string{"a"}},
		},
	}
	if err := Validate(p, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsDuplicateStepNames(t *testing.T) {
	p := Pipeline{
		Name: "demo",
		Stages: []Stage{
			{Name: "a", Steps: []Step{
				{Name: "s", Kind: StepKindShell, Command: "true"},
				{Name: "s", Kind: StepKindShell, Command: "true"},
			}},
		},
	}
	if err := Validate(p, 0); err == nil {
		t.Fatalf("expected duplicate step name error")
	}
}

func TestValidateRejectsBadContainerImage(t *testing.T) {
	p := Pipeline{
		Name: "demo",
		Stages: []Stage{
			{Name: "a", Steps: []Step{
				{Name: "s", Kind: StepKindContainer, Container: &ContainerSpec{Image: "bad image!"}},
			}},
		},
	}
	if err := Validate(p, 0); err == nil {
		t.Fatalf("expected malformed image reference error")
	}
}

func TestValidateRejectsOversizeMatrix(t *testing.T) {
	p := Pipeline{
		Name: "demo",
		Stages: []Stage{
			{Name: "a", Steps: []Step{{Name: "s", Kind: StepKindShell, Command: "true"}}},
		},
		Matrix: &MatrixConfig{
			Dimensions: map[string][]string{
				"os":  {"linux", "macos", "windows"},
				"jdk": {"8", "11", "17", "21"},
				"arch": {"amd64", "arm64", "386"},
			},
		},
	}
	if err := Validate(p, 25); err == nil {
		t.Fatalf("expected oversize matrix expansion error")
	}
}

func TestCloneIsDeep(t *testing.T) {
	p := Pipeline{
		Name: "demo",
		Stages: []Stage{
			{Name: "a", Steps: []Step{{Name: "s", Kind: StepKindShell, Command: "true", Env: map[string]string{"X": "1"}}}},
		},
	}
	clone := p.Clone()
	clone.Stages[0].Steps[0].Env["X"] = "2"
	if p.Stages[0].Steps[0].Env["X"] != "1" {
		t.Fatalf("expected original pipeline to be unaffected by clone mutation")
	}
}
