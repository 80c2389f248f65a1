// Package lifecycle implements the Build Lifecycle Manager: atomic Build
// creation, active-builds registration, submission to the bounded worker
// pool, and exactly-once terminal persistence. The Executor owns the
// stage/step state machine; this package owns everything around one call
// to it.
package lifecycle

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/sremani/chengis/internal/collaborators"
	"github.com/sremani/chengis/internal/domain/build"
	"github.com/sremani/chengis/internal/domain/job"
	"github.com/sremani/chengis/internal/logging"
	"github.com/sremani/chengis/internal/storage"
	"github.com/sremani/chengis/internal/workerpool"
)

// Runner is the subset of *executor.Executor the manager drives. Declared
// here (not imported from executor) so lifecycle and executor each depend
// only on the shapes they need.
type Runner interface {
	Run(ctx context.Context, j job.Job, b build.Build, cancel *workerpool.CancelFlag) build.Build
}

// Options carries per-execution overrides: parameter overlay and metadata
// describing the trigger (e.g. cron schedule id/expression) folded into the
// Build's Parameters map under reserved keys.
type Options struct {
	Parameters map[string]string
	Metadata   map[string]string
}

// Manager is the process-wide Build Lifecycle Manager. It is constructed
// explicitly by the runtime wiring root and holds no package-level state.
type Manager struct {
	builds   storage.BuildStore
	registry *workerpool.Registry
	pool     *workerpool.Pool
	runner   Runner
	metrics  collaborators.MetricsRecorder
	log      *logging.Logger
}

// New constructs a Manager over its collaborators.
func New(builds storage.BuildStore, registry *workerpool.Registry, pool *workerpool.Pool, runner Runner, metrics collaborators.MetricsRecorder, log *logging.Logger) *Manager {
	return &Manager{builds: builds, registry: registry, pool: pool, runner: runner, metrics: metrics, log: log}
}

// CreateRecord assigns j's next build number and persists a queued Build
// record, without running it. Callers that need the build id before
// execution completes — a webhook handler returning a redirect, the
// scheduler's poll loop moving on to the next due schedule — call this,
// then invoke ExecuteForRecord on a goroutine of their own.
func (m *Manager) CreateRecord(ctx context.Context, j job.Job, trigger build.TriggerKind, opts Options) (build.Build, error) {
	rec := build.Build{
		ID:         uuid.NewString(),
		JobID:      j.ID,
		OrgID:      j.OrgID,
		Status:     build.StatusQueued,
		Trigger:    trigger,
		Parameters: mergeParameters(opts),
	}
	created, err := m.builds.CreateBuildWithNextNumber(ctx, rec)
	if err != nil {
		return build.Build{}, fmt.Errorf("lifecycle: create build: %w", err)
	}
	return created, nil
}

// Execute creates a new Build for j (atomic per-(job,org) build-number
// increment), registers it in the active-builds registry, runs it through
// the bounded worker pool, persists the terminal result, and returns it.
func (m *Manager) Execute(ctx context.Context, j job.Job, trigger build.TriggerKind, opts Options) (build.Build, error) {
	created, err := m.CreateRecord(ctx, j, trigger, opts)
	if err != nil {
		return build.Build{}, err
	}
	return m.ExecuteForRecord(ctx, j, created, opts)
}

// ExecuteForRecord runs an already-created Build record (its id and number
// already assigned via CreateRecord) through the bounded worker pool,
// blocking until it finishes.
func (m *Manager) ExecuteForRecord(ctx context.Context, j job.Job, rec build.Build, opts Options) (build.Build, error) {
	if rec.Parameters == nil {
		rec.Parameters = mergeParameters(opts)
	}

	flag := m.registry.Register(rec.ID)
	defer m.registry.Deregister(rec.ID)

	resultCh := make(chan build.Build, 1)
	m.pool.Submit(func() {
		resultCh <- m.runner.Run(ctx, j, rec, flag)
	})

	var result build.Build
	select {
	case result = <-resultCh:
	case <-ctx.Done():
		// The caller gave up waiting; keep waiting for the runner to return
		// so its terminal result is still persisted below.
		m.safeLog(func() {
			m.log.WithField("build_id", rec.ID).Warn("lifecycle: caller context done before build finished")
		})
		result = <-resultCh
	}

	if _, err := m.builds.UpdateBuild(context.Background(), result); err != nil {
		m.safeLog(func() {
			m.log.WithError(err).WithField("build_id", result.ID).Error("lifecycle: failed to persist terminal build result")
		})
	}

	return result, nil
}

// Cancel requests cancellation of an in-flight build. Best-effort and
// idempotent; reports whether the build was active.
func (m *Manager) Cancel(buildID string) bool {
	return m.registry.Cancel(buildID)
}

// IsActive reports whether buildID currently has a live worker.
func (m *Manager) IsActive(buildID string) bool {
	return m.registry.IsActive(buildID)
}

func (m *Manager) safeLog(fn func()) {
	if m.log == nil {
		return
	}
	fn()
}

// metadataPrefix is prepended to each Options.Metadata key when it is
// folded into Parameters; the entries mirror the "metadata" the scheduler
// attaches to cron-triggered builds (cron-schedule-id, cron-expression).
const metadataPrefix = "META_"

func mergeParameters(opts Options) map[string]string {
	out := make(map[string]string, len(opts.Parameters)+len(opts.Metadata))
	for k, v := range opts.Parameters {
		out[k] = v
	}
	for k, v := range opts.Metadata {
		out[metadataPrefix+k] = v
	}
	return out
}
