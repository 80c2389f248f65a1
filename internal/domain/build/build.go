// Package build holds the Build record and its per-stage/per-step results.
package build

import (
	"time"

	"github.com/sremani/chengis/internal/domain/pipeline"
)

// Status is the closed enum of Build lifecycle states.
type Status string

const (
	StatusQueued           Status = "queued"
	StatusRunning          Status = "running"
	StatusSuccess          Status = "success"
	StatusFailure          Status = "failure"
	StatusAborted          Status = "aborted"
	StatusAwaitingApproval Status = "awaiting-approval"
)

// TriggerKind records what caused a Build to be created.
type TriggerKind string

const (
	TriggerManual     TriggerKind = "manual"
	TriggerCron       TriggerKind = "cron"
	TriggerWebhook    TriggerKind = "webhook"
	TriggerDependency TriggerKind = "dependency"
)

// StepStatus is the closed enum of per-step outcomes.
type StepStatus string

const (
	StepStatusSuccess StepStatus = "success"
	StepStatusFailure StepStatus = "failure"
	StepStatusAborted StepStatus = "aborted"
	StepStatusSkipped StepStatus = "skipped"
)

// StageStatus is the closed enum of per-stage outcomes; it shares its value
// space with StepStatus but is kept distinct to avoid accidental mixing.
type StageStatus string

const (
	StageStatusSuccess StageStatus = "success"
	StageStatusFailure StageStatus = "failure"
	StageStatusAborted StageStatus = "aborted"
	StageStatusSkipped StageStatus = "skipped"
)

// StepResult is the outcome of running one Step.
type StepResult struct {
	Name      string
	Status    StepStatus
	StartedAt time.Time
	EndedAt   time.Time
	ExitCode  int
	Output    string // captured stdout+stderr, secret-masked
	Duration  time.Duration
}

// StageResult is the outcome of running one Stage.
type StageResult struct {
	Name      string
	Status    StageStatus
	Reason    string // populated for aborted/failure outcomes
	StartedAt time.Time
	EndedAt   time.Time
	Steps     []StepResult
	Cached    bool
}

// DeriveStageStatus derives a stage's status from its steps: aborted iff any
// step is aborted; else failure iff any step failed; else skipped iff every
// step is skipped; else success.
func DeriveStageStatus(steps []StepResult) StageStatus {
	if len(steps) == 0 {
		return StageStatusSuccess
	}
	allSkipped := true
	for _, s := range steps {
		if s.Status == StepStatusAborted {
			return StageStatusAborted
		}
		if s.Status != StepStatusSkipped {
			allSkipped = false
		}
	}
	for _, s := range steps {
		if s.Status == StepStatusFailure {
			return StageStatusFailure
		}
	}
	if allSkipped {
		return StageStatusSkipped
	}
	return StageStatusSuccess
}

// DeriveBuildStatus derives a build's status from its stage results the same
// way DeriveStageStatus derives a stage's from its steps. Post-action
// results are excluded.
func DeriveBuildStatus(stages []StageResult) Status {
	if len(stages) == 0 {
		return StatusSuccess
	}
	for _, s := range stages {
		if s.Status == StageStatusAborted {
			return StatusAborted
		}
	}
	for _, s := range stages {
		if s.Status == StageStatusFailure {
			return StatusFailure
		}
	}
	return StatusSuccess
}

// Artifact is a collected build output file.
type Artifact struct {
	Name        string
	Path        string
	Size        int64
	ContentType string
	SHA256      string
}

// GitInfo captures the resolved source-control state for a Build.
type GitInfo struct {
	Branch      string
	Commit      string
	CommitShort string
	Author      string
	Message     string
}

// Build is one execution of a Pipeline.
type Build struct {
	ID            string
	JobID         string
	OrgID         string
	Number        int64
	Status        Status
	StartedAt     time.Time
	CompletedAt   time.Time
	Trigger       TriggerKind
	Parameters    map[string]string
	Stages        []StageResult
	Workspace     string
	Artifacts     []Artifact
	PipelineSource pipeline.SourceKind
	Git           *GitInfo

	// PostActionResults holds the outcome of the always/on-success/on-failure
	// step groups run after the main stage set has finalized. Post-action
	// outcomes never feed back into Status.
	PostActionResults []StageResult

	// CacheDiagnostics records the result-cache fingerprint inputs used for
	// the most recent stage evaluation, surfaced for debugging rather than
	// left opaque.
	CacheDiagnostics map[string]string
}

// IsTerminal reports whether status represents a finalized Build.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusAborted:
		return true
	default:
		return false
	}
}
