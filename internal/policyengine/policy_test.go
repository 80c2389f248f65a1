package policyengine

import (
	"testing"
	"time"

	"github.com/sremani/chengis/internal/domain/policy"
)

func TestBranchRestrictionAllowDeniesNonMatching(t *testing.T) {
	policies := []policy.Policy{{
		Name: "only-main", Enabled: true, Kind: policy.KindBranchRestriction,
		BranchRestriction: &policy.BranchRestrictionRule{Branches: []string{"main", "release/*"}, Action: policy.ActionAllow},
	}}
	res := Evaluate(policies, Context{Branch: "feature/x"}, nil)
	if res.Allowed {
		t.Fatalf("expected deny for non-matching branch")
	}

	res = Evaluate(policies, Context{Branch: "release/1.0"}, nil)
	if !res.Allowed {
		t.Fatalf("expected allow for matching glob branch")
	}
}

func TestTimeWindowDenyDuring(t *testing.T) {
	policies := []policy.Policy{{
		Name: "no-weekend-deploys", Enabled: true, Kind: policy.KindTimeWindow,
		TimeWindow: &policy.TimeWindowRule{Timezone: "UTC", Days: []string{"SAT", "SUN"}, StartHour: 0, EndHour: 24, Action: policy.TimeWindowDenyDuring},
	}}
	saturday := time.Date(2026, time.February, 7, 10, 0, 0, 0, time.UTC) // a Saturday
	res := Evaluate(policies, Context{Now: saturday}, nil)
	if res.Allowed {
		t.Fatalf("expected deny during denied window")
	}
}

func TestParameterRestrictionExists(t *testing.T) {
	policies := []policy.Policy{{
		Name: "require-approver", Enabled: true, Kind: policy.KindParameterRestriction,
		ParameterRestriction: &policy.ParameterRestrictionRule{Parameter: "force", Operator: policy.OperatorExists, Action: policy.ActionDeny},
	}}
	res := Evaluate(policies, Context{Parameters: map[string]string{"force": "true"}}, nil)
	if res.Allowed {
		t.Fatalf("expected deny when force parameter present")
	}
	res = Evaluate(policies, Context{Parameters: map[string]string{}}, nil)
	if !res.Allowed {
		t.Fatalf("expected allow when force parameter absent")
	}
}

func TestRequiredApprovalFoldsAcrossPolicies(t *testing.T) {
	policies := []policy.Policy{
		{
			Name: "p1", Enabled: true, Priority: 1, Kind: policy.KindRequiredApproval,
			RequiredApproval: &policy.RequiredApprovalRule{Stages: []string{"Deploy*"}, MinApprovals: 1, ApproverGroup: "sre"},
		},
		{
			Name: "p2", Enabled: true, Priority: 2, Kind: policy.KindRequiredApproval,
			RequiredApproval: &policy.RequiredApprovalRule{Stages: []string{"Deploy*"}, MinApprovals: 3, ApproverGroup: "security"},
		},
	}
	res := Evaluate(policies, Context{StageName: "Deploy Prod"}, nil)
	if !res.Allowed || res.Override == nil {
		t.Fatalf("expected an override, got %+v", res)
	}
	if res.Override.MinApprovals != 3 {
		t.Fatalf("expected the max of conflicting min-approvals (3), got %d", res.Override.MinApprovals)
	}
	if res.Override.ApproverGroup != "security,sre" {
		t.Fatalf("expected unioned approver groups, got %q", res.Override.ApproverGroup)
	}
}

func TestDisabledPolicySkipped(t *testing.T) {
	policies := []policy.Policy{{
		Name: "disabled", Enabled: false, Kind: policy.KindBranchRestriction,
		BranchRestriction: &policy.BranchRestrictionRule{Branches: []string{"main"}, Action: policy.ActionAllow},
	}}
	res := Evaluate(policies, Context{Branch: "anything"}, nil)
	if !res.Allowed {
		t.Fatalf("expected disabled policy to be skipped entirely")
	}
}
