package workspace

import (
	"errors"
	"testing"
)

func TestForBuildCreatesContainedPath(t *testing.T) {
	root := t.TempDir()
	m, err := New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	path, err := m.ForBuild("job-1", 7)
	if err != nil {
		t.Fatalf("ForBuild: %v", err)
	}
	if path == "" {
		t.Fatalf("expected non-empty path")
	}
}

func TestResolveRejectsTraversal(t *testing.T) {
	root := t.TempDir()
	m, err := New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	base, err := m.ForBuild("job-1", 1)
	if err != nil {
		t.Fatalf("ForBuild: %v", err)
	}
	_, err = m.Resolve(base, "../../../etc/passwd")
	if !errors.Is(err, ErrPathTraversal) {
		t.Fatalf("expected ErrPathTraversal, got %v", err)
	}
}

func TestResolveAllowsContainedRelativePath(t *testing.T) {
	root := t.TempDir()
	m, err := New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	base, err := m.ForBuild("job-1", 1)
	if err != nil {
		t.Fatalf("ForBuild: %v", err)
	}
	if _, err := m.Resolve(base, "node_modules"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
