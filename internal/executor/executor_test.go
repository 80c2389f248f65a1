package executor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sremani/chengis/internal/approvalengine"
	"github.com/sremani/chengis/internal/collaborators"
	"github.com/sremani/chengis/internal/domain/build"
	"github.com/sremani/chengis/internal/domain/job"
	"github.com/sremani/chengis/internal/domain/pipeline"
	"github.com/sremani/chengis/internal/eventbus"
	"github.com/sremani/chengis/internal/executor/plugins"
	"github.com/sremani/chengis/internal/logging"
	"github.com/sremani/chengis/internal/storage"
	"github.com/sremani/chengis/internal/workerpool"
	"github.com/sremani/chengis/internal/workspace"
)

func newTestExecutor(t *testing.T, deps Deps) *Executor {
	t.Helper()
	if deps.Log == nil {
		deps.Log = logging.NewDefault("test")
	}
	if deps.Plugins == nil {
		deps.Plugins = plugins.NewDefaultRegistry(collaborators.NewLocalProcessExecutor())
	}
	if deps.Workspace == nil {
		ws, err := workspace.New(t.TempDir())
		if err != nil {
			t.Fatalf("workspace.New: %v", err)
		}
		deps.Workspace = ws
	}
	return New(deps)
}

func shellStep(name, command string) pipeline.Step {
	return pipeline.Step{Name: name, Kind: pipeline.StepKindShell, Command: command}
}

func newBuild(id, jobID string, number int64) build.Build {
	return build.Build{ID: id, JobID: jobID, Number: number, Parameters: map[string]string{}}
}

// drainEvents reads Subscription events for a bounded window, returning the
// types observed, so tests can assert on publication order without racing
// the bus's dispatch goroutine.
func drainEvents(sub *eventbus.Subscription, window time.Duration) []string {
	var types []string
	deadline := time.After(window)
	for {
		select {
		case evt := <-sub.Events:
			types = append(types, string(evt.Type))
		case <-deadline:
			return types
		}
	}
}

func TestTwoStageSuccess(t *testing.T) {
	bus := eventbus.New(logging.NewDefault("test"))
	defer bus.Stop()

	e := newTestExecutor(t, Deps{Bus: bus})

	j := job.Job{ID: "job-1", Name: "demo", Pipeline: pipeline.Pipeline{
		Name: "demo",
		Stages: []pipeline.Stage{
			{Name: "Build", Steps: []pipeline.Step{shellStep("Compile", "true")}},
			{Name: "Test", Steps: []pipeline.Step{shellStep("T", "true")}},
		},
	}}
	b := newBuild("build-1", j.ID, 1)
	sub := bus.Subscribe(b.ID)
	defer sub.Close()

	result := e.Run(context.Background(), j, b, nil)

	if result.Status != build.StatusSuccess {
		t.Fatalf("expected build success, got %s", result.Status)
	}
	if len(result.Stages) != 2 {
		t.Fatalf("expected 2 stage results, got %d", len(result.Stages))
	}
	for _, s := range result.Stages {
		if s.Status != build.StageStatusSuccess {
			t.Fatalf("expected stage %s success, got %s", s.Name, s.Status)
		}
		if len(s.Steps) != 1 || s.Steps[0].ExitCode != 0 {
			t.Fatalf("expected stage %s single zero-exit step, got %+v", s.Name, s.Steps)
		}
	}

	types := drainEvents(sub, 200*time.Millisecond)
	if !contains(types, "build-started") || !contains(types, "build-completed") {
		t.Fatalf("expected build-started and build-completed events, got %v", types)
	}
}

func TestStepFailureHaltsSequential(t *testing.T) {
	e := newTestExecutor(t, Deps{})

	j := job.Job{ID: "job-2", Name: "demo", Pipeline: pipeline.Pipeline{
		Name: "demo",
		Stages: []pipeline.Stage{
			{Name: "Build", Steps: []pipeline.Step{shellStep("Compile", "false")}},
			{Name: "Test", Steps: []pipeline.Step{shellStep("T", "true")}},
		},
	}}
	b := newBuild("build-2", j.ID, 1)

	result := e.Run(context.Background(), j, b, nil)

	if result.Status != build.StatusFailure {
		t.Fatalf("expected build failure, got %s", result.Status)
	}
	if len(result.Stages) != 1 {
		t.Fatalf("expected only the Build stage present, got %d stages: %+v", len(result.Stages), result.Stages)
	}
	if result.Stages[0].Name != "Build" || result.Stages[0].Steps[0].ExitCode != 1 {
		t.Fatalf("expected Build/Compile exit-code 1, got %+v", result.Stages[0])
	}
}

func TestDAGWithFailedDependency(t *testing.T) {
	e := newTestExecutor(t, Deps{})

	j := job.Job{ID: "job-3", Name: "demo", Pipeline: pipeline.Pipeline{
		Name: "demo",
		Stages: []pipeline.Stage{
			{Name: "A", Steps: []pipeline.Step{shellStep("a1", "false")}},
			{Name: "B", Steps: []pipeline.Step{shellStep("b1", "true")}, DependsOn: []string{"A"}},
			{Name: "C", Steps: []pipeline.Step{shellStep("c1", "true")}, DependsOn: []string{"A"}},
		},
	}}
	b := newBuild("build-3", j.ID, 1)

	result := e.Run(context.Background(), j, b, nil)

	if len(result.Stages) != 3 {
		t.Fatalf("expected 3 stage results, got %d", len(result.Stages))
	}
	byName := make(map[string]build.StageResult, 3)
	for _, s := range result.Stages {
		byName[s.Name] = s
	}
	if byName["A"].Status != build.StageStatusFailure {
		t.Fatalf("expected A failure, got %s", byName["A"].Status)
	}
	for _, name := range []string{"B", "C"} {
		s := byName[name]
		if s.Status != build.StageStatusAborted {
			t.Fatalf("expected %s aborted, got %s", name, s.Status)
		}
		if s.Reason != "Dependency failed" {
			t.Fatalf("expected %s reason %q, got %q", name, "Dependency failed", s.Reason)
		}
		if len(s.Steps) != 0 {
			t.Fatalf("expected %s to have run no steps, got %+v", name, s.Steps)
		}
	}
}

func TestMatrixExpansion(t *testing.T) {
	e := newTestExecutor(t, Deps{})

	j := job.Job{ID: "job-4", Name: "demo", Pipeline: pipeline.Pipeline{
		Name: "demo",
		Stages: []pipeline.Stage{
			{Name: "Test", Steps: []pipeline.Step{shellStep("T", `echo "$MATRIX_OS $MATRIX_JDK"`)}},
		},
		Matrix: &pipeline.MatrixConfig{Dimensions: map[string][]string{
			"os":  {"linux", "macos"},
			"jdk": {"11", "17"},
		}},
	}}
	b := newBuild("build-4", j.ID, 1)

	result := e.Run(context.Background(), j, b, nil)

	wantNames := []string{
		"Test [jdk=11, os=linux]",
		"Test [jdk=11, os=macos]",
		"Test [jdk=17, os=linux]",
		"Test [jdk=17, os=macos]",
	}
	if len(result.Stages) != len(wantNames) {
		t.Fatalf("expected %d expanded stages, got %d: %+v", len(wantNames), len(result.Stages), result.Stages)
	}
	for i, want := range wantNames {
		got := result.Stages[i]
		if got.Name != want {
			t.Fatalf("stage %d: expected name %q, got %q", i, want, got.Name)
		}
		if got.Status != build.StageStatusSuccess {
			t.Fatalf("stage %q: expected success, got %s", got.Name, got.Status)
		}
	}
	if !strings.Contains(result.Stages[0].Steps[0].Output, "linux 11") {
		t.Fatalf("expected MATRIX_OS/MATRIX_JDK injected into step output, got %q", result.Stages[0].Steps[0].Output)
	}
	if !strings.Contains(result.Stages[3].Steps[0].Output, "macos 17") {
		t.Fatalf("expected MATRIX_OS/MATRIX_JDK injected into step output, got %q", result.Stages[3].Steps[0].Output)
	}
}

func TestApprovalTimeout(t *testing.T) {
	bus := eventbus.New(logging.NewDefault("test"))
	defer bus.Stop()
	approval := approvalengine.New(storage.NewMemory(), time.Millisecond, logging.NewDefault("test"))

	e := newTestExecutor(t, Deps{Bus: bus, Approval: approval})

	j := job.Job{ID: "job-5", Name: "demo", Pipeline: pipeline.Pipeline{
		Name: "demo",
		Stages: []pipeline.Stage{
			{Name: "Deploy", Steps: []pipeline.Step{shellStep("push", "true")},
				Approval: &pipeline.ApprovalRequirement{TimeoutMin: 0}},
		},
	}}
	b := newBuild("build-5", j.ID, 1)
	sub := bus.Subscribe(b.ID)
	defer sub.Close()

	result := e.Run(context.Background(), j, b, nil)

	if result.Status != build.StatusAborted {
		t.Fatalf("expected build aborted, got %s", result.Status)
	}
	if len(result.Stages) != 1 {
		t.Fatalf("expected a single Deploy stage result, got %+v", result.Stages)
	}
	deploy := result.Stages[0]
	if deploy.Status != build.StageStatusAborted || deploy.Reason != "Approval timed out" {
		t.Fatalf("expected Deploy aborted(reason=%q), got %s(reason=%q)", "Approval timed out", deploy.Status, deploy.Reason)
	}
	if len(deploy.Steps) != 0 {
		t.Fatalf("expected no steps to have run, got %+v", deploy.Steps)
	}

	types := drainEvents(sub, 200*time.Millisecond)
	if !contains(types, "approval-requested") {
		t.Fatalf("expected approval-requested event, got %v", types)
	}
	if !contains(types, "stage-completed") {
		t.Fatalf("expected stage-completed event, got %v", types)
	}
}

func TestCancellationStopsSubsequentStages(t *testing.T) {
	e := newTestExecutor(t, Deps{})
	cancel := workerpool.NewCancelFlag()
	cancel.Cancel()

	j := job.Job{ID: "job-6", Name: "demo", Pipeline: pipeline.Pipeline{
		Name: "demo",
		Stages: []pipeline.Stage{
			{Name: "Build", Steps: []pipeline.Step{shellStep("Compile", "true")}},
		},
	}}
	b := newBuild("build-6", j.ID, 1)

	result := e.Run(context.Background(), j, b, cancel)

	if result.Status != build.StatusAborted {
		t.Fatalf("expected build aborted after pre-cancellation, got %s", result.Status)
	}
}

func contains(items []string, target string) bool {
	for _, i := range items {
		if i == target {
			return true
		}
	}
	return false
}
