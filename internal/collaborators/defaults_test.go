package collaborators

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestLocalProcessExecutorSuccess(t *testing.T) {
	exec := NewLocalProcessExecutor()
	res, err := exec.Execute(context.Background(), ProcessRequest{Command: "true"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", res.ExitCode)
	}
}

func TestLocalProcessExecutorFailure(t *testing.T) {
	exec := NewLocalProcessExecutor()
	res, err := exec.Execute(context.Background(), ProcessRequest{Command: "false"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ExitCode == 0 {
		t.Fatalf("expected non-zero exit code")
	}
}

func TestLocalProcessExecutorMasksSecrets(t *testing.T) {
	exec := NewLocalProcessExecutor()
	res, err := exec.Execute(context.Background(), ProcessRequest{
		Command:    "echo supersecret123",
		MaskValues: []string{"supersecret123"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(res.Stdout, "supersecret123") {
		t.Fatalf("expected secret to be masked in output, got %q", res.Stdout)
	}
}

func TestLocalProcessExecutorTimeout(t *testing.T) {
	exec := NewLocalProcessExecutor()
	res, err := exec.Execute(context.Background(), ProcessRequest{
		Command: "sleep 5",
		Timeout: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.TimedOut {
		t.Fatalf("expected TimedOut to be true")
	}
}

func TestStaticFeatureFlags(t *testing.T) {
	flags := NewStaticFeatureFlags("provenance")
	if !flags.Enabled("provenance") {
		t.Fatalf("expected provenance to be enabled")
	}
	if flags.Enabled("signing") {
		t.Fatalf("expected signing to be disabled")
	}
}
