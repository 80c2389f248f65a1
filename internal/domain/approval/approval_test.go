package approval

import (
	"testing"
	"time"
)

func TestHasQuorum(t *testing.T) {
	g := Gate{MinApprovals: 2, Approvals: []Approval{{Approver: "a"}}}
	if g.HasQuorum() {
		t.Fatalf("expected no quorum with one of two approvals")
	}
	g.Approvals = append(g.Approvals, Approval{Approver: "b"})
	if !g.HasQuorum() {
		t.Fatalf("expected quorum with two of two approvals")
	}
}

func TestHasQuorumDefaultsToOne(t *testing.T) {
	g := Gate{Approvals: []Approval{{Approver: "a"}}}
	if !g.HasQuorum() {
		t.Fatalf("expected default min-approvals of 1 to be satisfied")
	}
}

func TestTimedOut(t *testing.T) {
	created := time.Now().Add(-10 * time.Minute)
	g := Gate{CreatedAt: created, Timeout: 5 * time.Minute}
	if !g.TimedOut(time.Now()) {
		t.Fatalf("expected gate to be timed out")
	}
	g.Timeout = time.Hour
	if g.TimedOut(time.Now()) {
		t.Fatalf("expected gate not to be timed out")
	}
}

func TestTimedOutZeroTimeoutExpiresImmediately(t *testing.T) {
	g := Gate{CreatedAt: time.Now().Add(-time.Millisecond)}
	if !g.TimedOut(time.Now()) {
		t.Fatalf("expected zero timeout to expire immediately")
	}
}
