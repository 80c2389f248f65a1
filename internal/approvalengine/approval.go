// Package approvalengine implements the Approval Gate Engine: gate
// creation, fail-closed semantics, and the cooperative wait protocol that
// never busy-loops a build worker.
package approvalengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/sremani/chengis/internal/domain/approval"
	"github.com/sremani/chengis/internal/domain/pipeline"
	"github.com/sremani/chengis/internal/domain/policy"
	"github.com/sremani/chengis/internal/logging"
	"github.com/sremani/chengis/internal/storage"
	"github.com/sremani/chengis/internal/workerpool"
)

// Outcome is the result of waiting on a gate.
type Outcome struct {
	Proceed    bool
	ApprovedBy []string
	Reason     string
}

// Engine is the process-wide Approval Gate Engine. The gate-id -> waiter-set
// map is shared mutable state and must be guarded for concurrent access.
type Engine struct {
	store        storage.ApprovalGateStore
	log          *logging.Logger
	pollInterval time.Duration

	mu      sync.Mutex
	waiters map[string][]chan struct{}
}

// New constructs an Engine. pollInterval <= 0 defaults to 5s.
func New(store storage.ApprovalGateStore, pollInterval time.Duration, log *logging.Logger) *Engine {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Engine{store: store, pollInterval: pollInterval, log: log, waiters: make(map[string][]chan struct{})}
}

// amplify applies an optional policy override to a stage's approval
// requirement: min-approvals only ever increases, approver groups union.
func amplify(req pipeline.ApprovalRequirement, override *policy.ApprovalOverride) pipeline.ApprovalRequirement {
	if override == nil {
		return req
	}
	if override.MinApprovals > req.MinApprovals {
		req.MinApprovals = override.MinApprovals
	}
	if override.ApproverGroup != "" {
		if req.ApproverGroup == "" {
			req.ApproverGroup = override.ApproverGroup
		} else if req.ApproverGroup != override.ApproverGroup {
			req.ApproverGroup = req.ApproverGroup + "," + override.ApproverGroup
		}
	}
	return req
}

// Request creates a gate for buildID/stageName from req (already amplified
// by the caller's policy override) and waits for
// resolution: approval, rejection, timeout, or build cancellation.
//
// Gate-creation failure fails closed: Request returns Proceed=false
// without ever creating a gate or running the guarded stage.
func (e *Engine) Request(ctx context.Context, buildID, stageName string, req pipeline.ApprovalRequirement, override *policy.ApprovalOverride, cancel *workerpool.CancelFlag, onCreated func(approval.Gate)) (Outcome, error) {
	req = amplify(req, override)
	minApprovals := req.MinApprovals
	if minApprovals <= 0 {
		minApprovals = 1
	}

	gate := approval.Gate{
		ID:            uuid.NewString(),
		BuildID:       buildID,
		StageName:     stageName,
		Role:          req.Role,
		ApproverGroup: req.ApproverGroup,
		MinApprovals:  minApprovals,
		Message:       req.Message,
		CreatedAt:     time.Now().UTC(),
		Timeout:       time.Duration(req.TimeoutMin) * time.Minute,
		Status:        approval.StatusPending,
	}

	created, err := e.store.CreateGate(ctx, gate)
	if err != nil {
		if e.log != nil {
			e.log.WithError(err).Error("approvalengine: gate creation failed, failing closed")
		}
		return Outcome{Proceed: false, Reason: "gate creation failed"}, nil
	}
	if onCreated != nil {
		onCreated(created)
	}

	waitCh := e.registerWaiter(created.ID)
	defer e.unregisterWaiter(created.ID, waitCh)

	return e.wait(ctx, created.ID, waitCh, cancel)
}

func (e *Engine) wait(ctx context.Context, gateID string, notify chan struct{}, cancel *workerpool.CancelFlag) (Outcome, error) {
	limiter := rate.NewLimiter(rate.Every(e.pollInterval), 1)
	poll := make(chan struct{}, 1)
	stopPoll := make(chan struct{})
	defer close(stopPoll)
	go func() {
		for {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			select {
			case poll <- struct{}{}:
			case <-stopPoll:
				return
			}
		}
	}()

	for {
		gate, err := e.store.GetGate(ctx, gateID)
		if err != nil {
			return Outcome{Proceed: false, Reason: "gate lookup failed"}, err
		}

		switch gate.Status {
		case approval.StatusApproved:
			return Outcome{Proceed: true, ApprovedBy: approverNames(gate)}, nil
		case approval.StatusRejected:
			reason := "rejected"
			if gate.RejectedReason != "" {
				reason = "rejected by " + gate.RejectedBy + ": " + gate.RejectedReason
			} else if gate.RejectedBy != "" {
				reason = "rejected by " + gate.RejectedBy
			}
			return Outcome{Proceed: false, Reason: reason}, nil
		}

		now := time.Now().UTC()
		if gate.TimedOut(now) {
			gate.Status = approval.StatusTimedOut
			if _, err := e.store.UpdateGate(ctx, gate); err != nil && e.log != nil {
				e.log.WithError(err).Error("approvalengine: failed to persist timed-out gate")
			}
			return Outcome{Proceed: false, Reason: "Approval timed out"}, nil
		}

		if cancel != nil && cancel.Cancelled() {
			gate.Status = approval.StatusRejected
			gate.RejectedBy = "system"
			gate.RejectedReason = "build cancelled"
			if _, err := e.store.UpdateGate(ctx, gate); err != nil && e.log != nil {
				e.log.WithError(err).Error("approvalengine: failed to persist cancelled gate")
			}
			return Outcome{Proceed: false, Reason: "cancelled"}, nil
		}

		var cancelDone <-chan struct{}
		if cancel != nil {
			cancelDone = cancel.Done()
		}
		select {
		case <-notify:
		case <-poll:
		case <-cancelDone:
		case <-ctx.Done():
			return Outcome{Proceed: false, Reason: "context cancelled"}, ctx.Err()
		}
	}
}

// Approve records an approver's consent, transitioning the gate to
// approved once quorum is met, then wakes every waiter.
func (e *Engine) Approve(ctx context.Context, gateID, approver string) error {
	gate, err := e.store.GetGate(ctx, gateID)
	if err != nil {
		return fmt.Errorf("approvalengine: %w", err)
	}
	if gate.Status != approval.StatusPending {
		return fmt.Errorf("approvalengine: gate %s is not pending", gateID)
	}
	gate.Approvals = append(gate.Approvals, approval.Approval{Approver: approver, GrantedAt: time.Now().UTC()})
	if gate.HasQuorum() {
		gate.Status = approval.StatusApproved
	}
	if _, err := e.store.UpdateGate(ctx, gate); err != nil {
		return fmt.Errorf("approvalengine: %w", err)
	}
	e.notifyResolved(gateID)
	return nil
}

// Reject transitions the gate to rejected and wakes every waiter.
func (e *Engine) Reject(ctx context.Context, gateID, rejectedBy, reason string) error {
	gate, err := e.store.GetGate(ctx, gateID)
	if err != nil {
		return fmt.Errorf("approvalengine: %w", err)
	}
	if gate.Status != approval.StatusPending {
		return fmt.Errorf("approvalengine: gate %s is not pending", gateID)
	}
	gate.Status = approval.StatusRejected
	gate.RejectedBy = rejectedBy
	gate.RejectedReason = reason
	if _, err := e.store.UpdateGate(ctx, gate); err != nil {
		return fmt.Errorf("approvalengine: %w", err)
	}
	e.notifyResolved(gateID)
	return nil
}

func (e *Engine) registerWaiter(gateID string) chan struct{} {
	ch := make(chan struct{}, 1)
	e.mu.Lock()
	e.waiters[gateID] = append(e.waiters[gateID], ch)
	e.mu.Unlock()
	return ch
}

func (e *Engine) unregisterWaiter(gateID string, ch chan struct{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	set := e.waiters[gateID]
	for i, c := range set {
		if c == ch {
			e.waiters[gateID] = append(set[:i], set[i+1:]...)
			break
		}
	}
	if len(e.waiters[gateID]) == 0 {
		delete(e.waiters, gateID)
	}
}

// notifyResolved signals every registered waiter for gateID; the API/web
// collaborator calls this after recording an approval or rejection.
func (e *Engine) notifyResolved(gateID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ch := range e.waiters[gateID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func approverNames(g approval.Gate) []string {
	out := make([]string, 0, len(g.Approvals))
	for _, a := range g.Approvals {
		out = append(out, a.Approver)
	}
	return out
}
