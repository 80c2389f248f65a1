// Package policyengine implements the Policy Engine: pre-stage
// evaluation that can deny execution or amplify approval requirements.
package policyengine

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sremani/chengis/internal/domain/policy"
	"github.com/sremani/chengis/internal/logging"
)

// Context carries the per-evaluation facts a policy rule is checked
// against: the build's resolved git branch/author, its parameters, and the
// stage under consideration.
type Context struct {
	BuildID    string
	OrgID      string
	StageName  string
	Branch     string
	Author     string
	Parameters map[string]string
	Now        time.Time
}

// Result is the aggregate outcome of evaluating every enabled policy for an
// organization against one stage.
type Result struct {
	Allowed      bool
	DeniedPolicy string
	Reason       string
	Override     *policy.ApprovalOverride
}

// Evaluate loads-agnostic: callers pass in the already-loaded, enabled
// policies for the build's organization. Policies are evaluated in
// ascending Priority order (lower numbers evaluate, and can therefore deny,
// first). Any deny fails fast with the first denial; required-approval
// matches accumulate into a single amplified override (unioned approver
// groups, the max of any min-approvals seen — the authoritative resolution
// of the source's conflicting-policies open question, see DESIGN.md).
func Evaluate(policies []policy.Policy, pctx Context, log *logging.Logger) Result {
	ordered := make([]policy.Policy, 0, len(policies))
	for _, p := range policies {
		if p.Enabled {
			ordered = append(ordered, p)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })

	var override *policy.ApprovalOverride
	for _, p := range ordered {
		verdict := evaluateOne(p, pctx)
		logEvaluation(log, p, pctx, verdict)

		if !verdict.Allowed {
			return Result{Allowed: false, DeniedPolicy: p.Name, Reason: verdict.Reason}
		}
		if verdict.Override != nil {
			override = foldOverride(override, verdict.Override)
		}
	}
	return Result{Allowed: true, Override: override}
}

func foldOverride(acc, next *policy.ApprovalOverride) *policy.ApprovalOverride {
	if acc == nil {
		cp := *next
		return &cp
	}
	if next.MinApprovals > acc.MinApprovals {
		acc.MinApprovals = next.MinApprovals
	}
	acc.ApproverGroup = unionGroups(acc.ApproverGroup, next.ApproverGroup)
	return acc
}

func unionGroups(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	seen := map[string]bool{}
	var out []string
	for _, g := range append(splitGroups(a), splitGroups(b)...) {
		if g != "" && !seen[g] {
			seen[g] = true
			out = append(out, g)
		}
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}

func splitGroups(s string) []string { return strings.Split(s, ",") }

func evaluateOne(p policy.Policy, ctx Context) policy.Verdict {
	switch p.Kind {
	case policy.KindBranchRestriction:
		return evaluateBranchRestriction(p, ctx)
	case policy.KindAuthorRestriction:
		return evaluateAuthorRestriction(p, ctx)
	case policy.KindTimeWindow:
		return evaluateTimeWindow(p, ctx)
	case policy.KindParameterRestriction:
		return evaluateParameterRestriction(p, ctx)
	case policy.KindRequiredApproval:
		return evaluateRequiredApproval(p, ctx)
	default:
		return policy.Verdict{Policy: p, Allowed: true, Reason: "unknown policy kind, allowed by default"}
	}
}

func evaluateBranchRestriction(p policy.Policy, ctx Context) policy.Verdict {
	if p.BranchRestriction == nil {
		return policy.Verdict{Policy: p, Allowed: true}
	}
	return applyPatternAction(p, matchAny(ctx.Branch, p.BranchRestriction.Branches), p.BranchRestriction.Action, "branch")
}

func evaluateAuthorRestriction(p policy.Policy, ctx Context) policy.Verdict {
	if p.AuthorRestriction == nil {
		return policy.Verdict{Policy: p, Allowed: true}
	}
	return applyPatternAction(p, matchAny(ctx.Author, p.AuthorRestriction.Authors), p.AuthorRestriction.Action, "author")
}

// applyPatternAction implements the shared allow/deny semantics: `allow`
// with no match denies, `deny` with any match denies, otherwise allowed.
func applyPatternAction(p policy.Policy, matched bool, action policy.Action, field string) policy.Verdict {
	switch action {
	case policy.ActionAllow:
		if !matched {
			return policy.Verdict{Policy: p, Allowed: false, Reason: field + " does not match any allowed pattern"}
		}
	case policy.ActionDeny:
		if matched {
			return policy.Verdict{Policy: p, Allowed: false, Reason: field + " matches a denied pattern"}
		}
	}
	return policy.Verdict{Policy: p, Allowed: true}
}

func evaluateTimeWindow(p policy.Policy, ctx Context) policy.Verdict {
	rule := p.TimeWindow
	if rule == nil {
		return policy.Verdict{Policy: p, Allowed: true}
	}
	loc := time.UTC
	if rule.Timezone != "" {
		if l, err := time.LoadLocation(rule.Timezone); err == nil {
			loc = l
		}
	}
	now := ctx.Now
	if now.IsZero() {
		now = time.Now()
	}
	local := now.In(loc)

	inWindow := dayMatches(local.Weekday(), rule.Days) && hourInRange(local.Hour(), rule.StartHour, rule.EndHour)

	switch rule.Action {
	case policy.TimeWindowAllowOnly:
		if !inWindow {
			return policy.Verdict{Policy: p, Allowed: false, Reason: "outside allowed time window"}
		}
	case policy.TimeWindowDenyDuring:
		if inWindow {
			return policy.Verdict{Policy: p, Allowed: false, Reason: "within denied time window"}
		}
	}
	return policy.Verdict{Policy: p, Allowed: true}
}

func dayMatches(day time.Weekday, days []string) bool {
	if len(days) == 0 {
		return true
	}
	abbrev := strings.ToUpper(day.String()[:3])
	for _, d := range days {
		if strings.ToUpper(d) == abbrev {
			return true
		}
	}
	return false
}

// hourInRange treats [start, end) as a half-open window.
func hourInRange(hour, start, end int) bool {
	if start == end {
		return true
	}
	if start < end {
		return hour >= start && hour < end
	}
	// window wraps past midnight, e.g. 22-6
	return hour >= start || hour < end
}

func evaluateParameterRestriction(p policy.Policy, ctx Context) policy.Verdict {
	rule := p.ParameterRestriction
	if rule == nil {
		return policy.Verdict{Policy: p, Allowed: true}
	}
	val, exists := ctx.Parameters[rule.Parameter]

	var matched bool
	switch rule.Operator {
	case policy.OperatorEquals:
		matched = exists && val == rule.Value
	case policy.OperatorNotEquals:
		matched = !exists || val != rule.Value
	case policy.OperatorContains:
		matched = exists && strings.Contains(val, rule.Value)
	case policy.OperatorExists:
		matched = exists
	case policy.OperatorNotExists:
		matched = !exists
	}

	if matched {
		if rule.Action == policy.ActionDeny {
			return policy.Verdict{Policy: p, Allowed: false, Reason: "parameter restriction matched: " + rule.Parameter}
		}
		return policy.Verdict{Policy: p, Allowed: true}
	}
	if rule.Action == policy.ActionAllow {
		return policy.Verdict{Policy: p, Allowed: false, Reason: "parameter restriction not satisfied: " + rule.Parameter}
	}
	return policy.Verdict{Policy: p, Allowed: true}
}

func evaluateRequiredApproval(p policy.Policy, ctx Context) policy.Verdict {
	rule := p.RequiredApproval
	if rule == nil || !matchAny(ctx.StageName, rule.Stages) {
		return policy.Verdict{Policy: p, Allowed: true}
	}
	return policy.Verdict{
		Policy:  p,
		Allowed: true,
		Override: &policy.ApprovalOverride{
			MinApprovals:  rule.MinApprovals,
			ApproverGroup: rule.ApproverGroup,
		},
	}
}

// matchAny reports whether s matches any glob pattern in patterns using the
// `*` (any run of non-'/' characters) / `**` (any characters) grammar.
// An empty pattern list matches nothing.
func matchAny(s string, patterns []string) bool {
	for _, pat := range patterns {
		if globMatch(pat, s) {
			return true
		}
	}
	return false
}

var (
	globCacheMu sync.Mutex
	globCache   = map[string]*regexp.Regexp{}
)

func globMatch(pattern, s string) bool {
	globCacheMu.Lock()
	re, ok := globCache[pattern]
	if !ok {
		re = regexp.MustCompile("^" + translateGlob(pattern) + "$")
		globCache[pattern] = re
	}
	globCacheMu.Unlock()
	return re.MatchString(s)
}

func translateGlob(pattern string) string {
	var b strings.Builder
	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '*':
			if i+1 < len(runes) && runes[i+1] == '*' {
				b.WriteString(".*")
				i++
			} else {
				b.WriteString("[^/]*")
			}
		default:
			b.WriteString(regexp.QuoteMeta(string(runes[i])))
		}
	}
	return b.String()
}

func logEvaluation(log *logging.Logger, p policy.Policy, ctx Context, v policy.Verdict) {
	if log == nil {
		return
	}
	log.WithFields(map[string]any{
		"policy":     p.Name,
		"build_id":   ctx.BuildID,
		"stage_name": ctx.StageName,
		"allowed":    v.Allowed,
		"reason":     v.Reason,
	}).Info("policy evaluated")
}
