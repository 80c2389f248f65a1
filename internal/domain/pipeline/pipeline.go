// Package pipeline holds the immutable plan value model: Pipeline, Stage,
// Step, Condition and MatrixConfig, plus the structural validation that
// happens before a Pipeline is ever executed.
package pipeline

import "time"

// StepKind selects which executor runs a Step.
type StepKind string

const (
	StepKindShell     StepKind = "shell"
	StepKindContainer StepKind = "container"
)

// ConditionKind selects how a Condition is evaluated.
type ConditionKind string

const (
	ConditionAlways          ConditionKind = "always"
	ConditionBranchEquals    ConditionKind = "branch-equals"
	ConditionParameterEquals ConditionKind = "parameter-equals"
)

// Condition gates whether a Stage or Step runs.
type Condition struct {
	Kind      ConditionKind
	Value     string // branch-equals
	Parameter string // parameter-equals
}

// ContainerSpec describes a container-kind Step's image and run options.
type ContainerSpec struct {
	Image          string
	Volumes        []string
	WorkingDir     string
	NetworkMode    string
	ImagePullPolicy string
	ExtraArgs      []string
}

// Step is one unit of work within a Stage.
type Step struct {
	Name       string
	Kind       StepKind
	Command    string
	Timeout    time.Duration
	Env        map[string]string
	WorkingDir string
	Container  *ContainerSpec
	Condition  *Condition
}

// CacheDeclaration describes one cache-restore/save pair for a Stage.
type CacheDeclaration struct {
	KeyTemplate string
	Paths       []string
	RestoreKeys []string
}

// ApprovalRequirement declares the gate a Stage must pass before running.
type ApprovalRequirement struct {
	Message       string
	Role          string
	ApproverGroup string
	TimeoutMin    int
	MinApprovals  int
}

// Stage is an ordered (or fan-out) sequence of Steps.
type Stage struct {
	Name        string
	Steps       []Step
	Parallel    bool
	Condition   *Condition
	DependsOn   []string
	Container   *ContainerSpec
	Caches      []CacheDeclaration
	Approval    *ApprovalRequirement
}

// MatrixConfig declares one or more dimensions to cartesian-expand a Stage
// across, plus any partial-combination exclusions.
type MatrixConfig struct {
	Dimensions map[string][]string
	Exclude    []map[string]string
}

// PostActionGroups bundles the always/on-success/on-failure step groups run
// after the main stage set has finalized.
type PostActionGroups struct {
	Always    []Step
	OnSuccess []Step
	OnFailure []Step
}

// SourceKind records where a Pipeline originated.
type SourceKind string

const (
	SourceServer       SourceKind = "server"
	SourceWorkspaceEDN  SourceKind = "workspace-edn"
	SourceWorkspaceYAML SourceKind = "workspace-yaml"
)

// ParameterDeclaration describes one accepted build parameter.
type ParameterDeclaration struct {
	Name         string
	DefaultValue string
	Required     bool
}

// Pipeline is the immutable plan describing a build.
type Pipeline struct {
	Name               string
	Description        string
	Stages             []Stage
	Matrix             *MatrixConfig
	Container          *ContainerSpec
	Parameters         []ParameterDeclaration
	ArtifactGlobs      []string
	NotificationTargets []string
	PostActions        *PostActionGroups
	Source             SourceKind
}

// Clone returns a deep copy of p, ensuring mutations to a registered Job's
// pipeline never leak into a running Build's in-memory plan.
func (p Pipeline) Clone() Pipeline {
	clone := p
	clone.Stages = make([]Stage, len(p.Stages))
	for i, s := range p.Stages {
		clone.Stages[i] = s.clone()
	}
	if p.Matrix != nil {
		m := *p.Matrix
		m.Dimensions = make(map[string][]string, len(p.Matrix.Dimensions))
		for k, v := range p.Matrix.Dimensions {
			m.Dimensions[k] = append([]string(nil), v...)
		}
		m.Exclude = make([]map[string]string, len(p.Matrix.Exclude))
		for i, ex := range p.Matrix.Exclude {
			m.Exclude[i] = cloneStringMap(ex)
		}
		clone.Matrix = &m
	}
	clone.Parameters = append([]ParameterDeclaration(nil), p.Parameters...)
	clone.ArtifactGlobs = append([]string(nil), p.ArtifactGlobs...)
	clone.NotificationTargets = append([]string(nil), p.NotificationTargets...)
	if p.PostActions != nil {
		pa := *p.PostActions
		pa.Always = cloneSteps(p.PostActions.Always)
		pa.OnSuccess = cloneSteps(p.PostActions.OnSuccess)
		pa.OnFailure = cloneSteps(p.PostActions.OnFailure)
		clone.PostActions = &pa
	}
	return clone
}

func (s Stage) clone() Stage {
	clone := s
	clone.Steps = cloneSteps(s.Steps)
	clone.DependsOn = append([]string(nil), s.DependsOn...)
	clone.Caches = append([]CacheDeclaration(nil), s.Caches...)
	if s.Condition != nil {
		c := *s.Condition
		clone.Condition = &c
	}
	if s.Container != nil {
		c := *s.Container
		clone.Container = &c
	}
	if s.Approval != nil {
		a := *s.Approval
		clone.Approval = &a
	}
	return clone
}

func cloneSteps(steps []Step) []Step {
	out := make([]Step, len(steps))
	for i, st := range steps {
		clone := st
		clone.Env = cloneStringMap(st.Env)
		if st.Container != nil {
			c := *st.Container
			clone.Container = &c
		}
		if st.Condition != nil {
			c := *st.Condition
			clone.Condition = &c
		}
		out[i] = clone
	}
	return out
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
