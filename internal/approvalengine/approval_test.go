package approvalengine

import (
	"context"
	"testing"
	"time"

	"github.com/sremani/chengis/internal/domain/pipeline"
	"github.com/sremani/chengis/internal/logging"
	"github.com/sremani/chengis/internal/storage"
	"github.com/sremani/chengis/internal/workerpool"
)

func TestRequestApprovedWakesImmediately(t *testing.T) {
	store := storage.NewMemory()
	e := New(store, 20*time.Millisecond, logging.NewDefault("test"))

	var gateID string
	done := make(chan Outcome, 1)
	go func() {
		out, err := e.Request(context.Background(), "build-1", "Deploy", pipeline.ApprovalRequirement{TimeoutMin: 10}, nil, nil, nil)
		if err != nil {
			t.Error(err)
		}
		done <- out
	}()

	// Give Request a moment to create the gate, then look it up to approve it.
	time.Sleep(10 * time.Millisecond)
	gates, _ := store.ListPendingGates(context.Background())
	if len(gates) != 1 {
		t.Fatalf("expected one pending gate, got %d", len(gates))
	}
	gateID = gates[0].ID
	if err := e.Approve(context.Background(), gateID, "alice"); err != nil {
		t.Fatal(err)
	}

	select {
	case out := <-done:
		if !out.Proceed {
			t.Fatalf("expected proceed=true after approval, got %+v", out)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for approval outcome")
	}
}

func TestRequestTimesOutImmediatelyWithZeroTimeout(t *testing.T) {
	store := storage.NewMemory()
	e := New(store, 5*time.Millisecond, logging.NewDefault("test"))

	out, err := e.Request(context.Background(), "build-2", "Deploy", pipeline.ApprovalRequirement{TimeoutMin: 0}, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.Proceed {
		t.Fatalf("expected proceed=false on immediate timeout")
	}
	if out.Reason != "Approval timed out" {
		t.Fatalf("expected timeout reason, got %q", out.Reason)
	}
}

func TestRequestRespectsCancellation(t *testing.T) {
	store := storage.NewMemory()
	e := New(store, 5*time.Millisecond, logging.NewDefault("test"))
	cancel := workerpool.NewCancelFlag()
	cancel.Cancel()

	out, err := e.Request(context.Background(), "build-3", "Deploy", pipeline.ApprovalRequirement{TimeoutMin: 10}, nil, cancel, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.Proceed || out.Reason != "cancelled" {
		t.Fatalf("expected cancelled outcome, got %+v", out)
	}
}

func TestRejectWakesWaiter(t *testing.T) {
	store := storage.NewMemory()
	e := New(store, 20*time.Millisecond, logging.NewDefault("test"))

	done := make(chan Outcome, 1)
	go func() {
		out, _ := e.Request(context.Background(), "build-4", "Deploy", pipeline.ApprovalRequirement{TimeoutMin: 10}, nil, nil, nil)
		done <- out
	}()

	time.Sleep(10 * time.Millisecond)
	gates, _ := store.ListPendingGates(context.Background())
	if len(gates) != 1 {
		t.Fatalf("expected one pending gate, got %d", len(gates))
	}
	if err := e.Reject(context.Background(), gates[0].ID, "bob", "not ready"); err != nil {
		t.Fatal(err)
	}

	select {
	case out := <-done:
		if out.Proceed {
			t.Fatalf("expected proceed=false after rejection")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for rejection outcome")
	}
}
