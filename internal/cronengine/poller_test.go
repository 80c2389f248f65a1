package cronengine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sremani/chengis/internal/domain/build"
	"github.com/sremani/chengis/internal/domain/cron"
	"github.com/sremani/chengis/internal/domain/job"
	"github.com/sremani/chengis/internal/lifecycle"
	"github.com/sremani/chengis/internal/storage"
)

type stubBuilder struct {
	mu      sync.Mutex
	created []build.Build
	done    chan struct{}
}

func (s *stubBuilder) CreateRecord(_ context.Context, j job.Job, trigger build.TriggerKind, _ lifecycle.Options) (build.Build, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := build.Build{ID: "b-1", JobID: j.ID, Trigger: trigger, Status: build.StatusQueued}
	s.created = append(s.created, b)
	return b, nil
}

func (s *stubBuilder) ExecuteForRecord(_ context.Context, _ job.Job, rec build.Build, _ lifecycle.Options) (build.Build, error) {
	rec.Status = build.StatusSuccess
	if s.done != nil {
		close(s.done)
	}
	return rec, nil
}

func TestEvaluateTriggersDueSchedule(t *testing.T) {
	mem := storage.NewMemory()
	ctx := context.Background()

	j, err := mem.CreateJob(ctx, job.Job{ID: "job-1", OrgID: "org-1", Name: "demo", Enabled: true})
	require.NoError(t, err)

	sc := cron.Schedule{
		ID:         "sched-1",
		JobID:      j.ID,
		Expression: "0 0 * * *",
		Timezone:   "UTC",
		NextRunAt:  time.Now().UTC().Add(-time.Minute),
		Status:     cron.StatusScheduled,
	}
	sc, err = mem.CreateSchedule(ctx, sc)
	require.NoError(t, err)

	builder := &stubBuilder{done: make(chan struct{})}
	p := New(mem, mem, mem, builder, nil, time.Hour, 10*time.Minute, nil)

	p.evaluate(ctx, sc, time.Now().UTC())

	select {
	case <-builder.done:
	case <-time.After(time.Second):
		t.Fatal("ExecuteForRecord was never invoked")
	}

	runs, err := mem.ListCronRuns(ctx, sc.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, cron.RunTriggered, runs[0].Outcome)
	require.Equal(t, "b-1", runs[0].BuildID)

	updated, err := mem.GetSchedule(ctx, sc.ID)
	require.NoError(t, err)
	require.Equal(t, cron.StatusTriggered, updated.Status)
	require.True(t, updated.NextRunAt.After(sc.NextRunAt))
}

func TestEvaluateRecordsMissedRun(t *testing.T) {
	mem := storage.NewMemory()
	ctx := context.Background()

	j, err := mem.CreateJob(ctx, job.Job{ID: "job-2", OrgID: "org-1", Name: "demo", Enabled: true})
	require.NoError(t, err)

	sc := cron.Schedule{
		ID:         "sched-2",
		JobID:      j.ID,
		Expression: "0 0 * * *",
		Timezone:   "UTC",
		NextRunAt:  time.Now().UTC().Add(-time.Hour),
		Status:     cron.StatusScheduled,
	}
	sc, err = mem.CreateSchedule(ctx, sc)
	require.NoError(t, err)

	builder := &stubBuilder{}
	p := New(mem, mem, mem, builder, nil, time.Hour, time.Minute, nil)

	p.evaluate(ctx, sc, time.Now().UTC())

	runs, err := mem.ListCronRuns(ctx, sc.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, cron.RunMissed, runs[0].Outcome)
	require.Empty(t, builder.created)
}

func TestEvaluateRecordsErrorWhenJobMissing(t *testing.T) {
	mem := storage.NewMemory()
	ctx := context.Background()

	sc := cron.Schedule{
		ID:         "sched-3",
		JobID:      "does-not-exist",
		Expression: "0 0 * * *",
		Timezone:   "UTC",
		NextRunAt:  time.Now().UTC().Add(-time.Minute),
		Status:     cron.StatusScheduled,
	}
	sc, err := mem.CreateSchedule(ctx, sc)
	require.NoError(t, err)

	builder := &stubBuilder{}
	p := New(mem, mem, mem, builder, nil, time.Hour, 10*time.Minute, nil)

	p.evaluate(ctx, sc, time.Now().UTC())

	runs, err := mem.ListCronRuns(ctx, sc.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, cron.RunError, runs[0].Outcome)
	require.NotEmpty(t, runs[0].Error)
	require.Empty(t, builder.created)
}
