package build

import "testing"

func TestDeriveStageStatus(t *testing.T) {
	cases := []struct {
		name  string
		steps []StepResult
		want  StageStatus
	}{
		{"empty", nil, StageStatusSuccess},
		{"all success", []StepResult{{Status: StepStatusSuccess}, {Status: StepStatusSuccess}}, StageStatusSuccess},
		{"one failure", []StepResult{{Status: StepStatusSuccess}, {Status: StepStatusFailure}}, StageStatusFailure},
		{"one aborted wins over failure", []StepResult{{Status: StepStatusFailure}, {Status: StepStatusAborted}}, StageStatusAborted},
		{"all skipped", []StepResult{{Status: StepStatusSkipped}, {Status: StepStatusSkipped}}, StageStatusSkipped},
		{"mixed skipped and success", []StepResult{{Status: StepStatusSkipped}, {Status: StepStatusSuccess}}, StageStatusSuccess},
	}
	for _, c := range cases {
		if got := DeriveStageStatus(c.steps); got != c.want {
			t.Errorf("%s: got %s, want %s", c.name, got, c.want)
		}
	}
}

func TestDeriveBuildStatus(t *testing.T) {
	cases := []struct {
		name   string
		stages []StageResult
		want   Status
	}{
		{"empty", nil, StatusSuccess},
		{"all success", []StageResult{{Status: StageStatusSuccess}}, StatusSuccess},
		{"one failure", []StageResult{{Status: StageStatusSuccess}, {Status: StageStatusFailure}}, StatusFailure},
		{"one aborted wins", []StageResult{{Status: StageStatusFailure}, {Status: StageStatusAborted}}, StatusAborted},
	}
	for _, c := range cases {
		if got := DeriveBuildStatus(c.stages); got != c.want {
			t.Errorf("%s: got %s, want %s", c.name, got, c.want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []Status{StatusSuccess, StatusFailure, StatusAborted}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	nonTerminal := []Status{StatusQueued, StatusRunning, StatusAwaitingApproval}
	for _, s := range nonTerminal {
		if s.IsTerminal() {
			t.Errorf("expected %s to be non-terminal", s)
		}
	}
}
