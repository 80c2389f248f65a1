package lifecycle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sremani/chengis/internal/domain/build"
	"github.com/sremani/chengis/internal/domain/job"
	"github.com/sremani/chengis/internal/logging"
	"github.com/sremani/chengis/internal/storage"
	"github.com/sremani/chengis/internal/workerpool"
)

// stubRunner records the build/flag it was given and returns a fixed result.
type stubRunner struct {
	result build.Build
	seen   chan *workerpool.CancelFlag
}

func (r *stubRunner) Run(_ context.Context, _ job.Job, b build.Build, cancel *workerpool.CancelFlag) build.Build {
	if r.seen != nil {
		r.seen <- cancel
	}
	out := r.result
	out.ID = b.ID
	out.Number = b.Number
	return out
}

func TestExecuteAssignsNumberAndPersistsResult(t *testing.T) {
	store := storage.NewMemory()
	registry := workerpool.NewRegistry()
	pool := workerpool.New(2)
	runner := &stubRunner{result: build.Build{Status: build.StatusSuccess}}
	mgr := New(store, registry, pool, runner, nil, logging.NewDefault("test"))

	j := job.Job{ID: "job-1", OrgID: "org-1", Name: "demo"}
	result, err := mgr.Execute(context.Background(), j, build.TriggerManual, Options{})
	require.NoError(t, err)
	require.Equal(t, int64(1), result.Number)
	require.Equal(t, build.StatusSuccess, result.Status)

	persisted, err := store.GetBuild(context.Background(), result.ID)
	require.NoError(t, err)
	require.Equal(t, build.StatusSuccess, persisted.Status)

	require.False(t, registry.IsActive(result.ID), "registry entry must be released on exit")
}

func TestExecuteForRecordDeregistersOnExit(t *testing.T) {
	store := storage.NewMemory()
	registry := workerpool.NewRegistry()
	pool := workerpool.New(1)
	seen := make(chan *workerpool.CancelFlag, 1)
	runner := &stubRunner{result: build.Build{Status: build.StatusFailure}, seen: seen}
	mgr := New(store, registry, pool, runner, nil, logging.NewDefault("test"))

	j := job.Job{ID: "job-2", OrgID: "org-1"}
	rec := build.Build{ID: "build-42", JobID: j.ID, OrgID: j.OrgID, Number: 1}
	_, err := store.CreateBuildWithNextNumber(context.Background(), rec)
	require.NoError(t, err)

	result, err := mgr.ExecuteForRecord(context.Background(), j, rec, Options{})
	require.NoError(t, err)
	require.Equal(t, build.StatusFailure, result.Status)

	flag := <-seen
	require.NotNil(t, flag)
	require.False(t, registry.IsActive(rec.ID))
}

func TestCancelForwardsToRegistry(t *testing.T) {
	store := storage.NewMemory()
	registry := workerpool.NewRegistry()
	pool := workerpool.New(1)
	mgr := New(store, registry, pool, &stubRunner{}, nil, logging.NewDefault("test"))

	require.False(t, mgr.Cancel("missing"))

	flag := registry.Register("build-x")
	defer registry.Deregister("build-x")
	require.True(t, mgr.Cancel("build-x"))
	require.True(t, flag.Cancelled())
}
