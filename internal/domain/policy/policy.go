// Package policy holds the Policy value model: organization-scoped rules
// the Policy Engine evaluates before a stage is allowed to run.
package policy

// Kind is the closed enum of policy rule kinds.
type Kind string

const (
	KindBranchRestriction    Kind = "branch-restriction"
	KindRequiredApproval     Kind = "required-approval"
	KindAuthorRestriction    Kind = "author-restriction"
	KindTimeWindow           Kind = "time-window"
	KindParameterRestriction Kind = "parameter-restriction"
)

// Action is the allow/deny verdict a matching rule applies.
type Action string

const (
	ActionAllow Action = "allow"
	ActionDeny  Action = "deny"
)

// ParameterOperator is the comparison a parameter-restriction rule applies.
type ParameterOperator string

const (
	OperatorEquals    ParameterOperator = "equals"
	OperatorNotEquals ParameterOperator = "not-equals"
	OperatorContains  ParameterOperator = "contains"
	OperatorExists    ParameterOperator = "exists"
	OperatorNotExists ParameterOperator = "not-exists"
)

// BranchRestrictionRule matches the git branch against glob patterns.
type BranchRestrictionRule struct {
	Branches []string
	Action   Action
}

// AuthorRestrictionRule matches the git author against glob patterns.
type AuthorRestrictionRule struct {
	Authors []string
	Action  Action
}

// TimeWindowAction selects whether the window allows or denies execution.
type TimeWindowAction string

const (
	TimeWindowAllowOnly  TimeWindowAction = "allow-only"
	TimeWindowDenyDuring TimeWindowAction = "deny-during"
)

// TimeWindowRule restricts execution to (or away from) a day/hour window.
type TimeWindowRule struct {
	Timezone  string
	Days      []string // three-letter weekday abbreviations, e.g. "MON"
	StartHour int
	EndHour   int
	Action    TimeWindowAction
}

// ParameterRestrictionRule evaluates a build parameter against a condition.
type ParameterRestrictionRule struct {
	Parameter string
	Operator  ParameterOperator
	Value     string
	Action    Action
}

// RequiredApprovalRule amplifies approval requirements for matching stages.
type RequiredApprovalRule struct {
	Stages        []string
	MinApprovals  int
	ApproverGroup string
}

// Policy is one organization-scoped rule.
type Policy struct {
	ID       string
	OrgID    string
	Enabled  bool
	Priority int
	Kind     Kind
	Name     string

	BranchRestriction    *BranchRestrictionRule
	AuthorRestriction    *AuthorRestrictionRule
	TimeWindow           *TimeWindowRule
	ParameterRestriction *ParameterRestrictionRule
	RequiredApproval     *RequiredApprovalRule
}

// ApprovalOverride is produced by a required-approval policy match: it
// amplifies (never reduces) a stage's approval requirement.
type ApprovalOverride struct {
	MinApprovals  int
	ApproverGroup string
}

// Verdict is the result of evaluating one policy against a stage context.
type Verdict struct {
	Policy   Policy
	Allowed  bool
	Reason   string
	Override *ApprovalOverride
}
