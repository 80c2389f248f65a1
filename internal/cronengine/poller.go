package cronengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sremani/chengis/internal/domain/build"
	"github.com/sremani/chengis/internal/domain/cron"
	"github.com/sremani/chengis/internal/domain/event"
	"github.com/sremani/chengis/internal/domain/job"
	"github.com/sremani/chengis/internal/eventbus"
	"github.com/sremani/chengis/internal/lifecycle"
	"github.com/sremani/chengis/internal/logging"
	"github.com/sremani/chengis/internal/storage"
)

// BuildCreator is the slice of *lifecycle.Manager the Poller drives: create
// the Build row fast (so the poll loop never blocks on one schedule's
// execution), then hand the run off to its own goroutine.
type BuildCreator interface {
	CreateRecord(ctx context.Context, j job.Job, trigger build.TriggerKind, opts lifecycle.Options) (build.Build, error)
	ExecuteForRecord(ctx context.Context, j job.Job, rec build.Build, opts lifecycle.Options) (build.Build, error)
}

// Poller is the single process-wide Scheduler: it polls persisted
// CronSchedule rows at a fixed interval, detects missed fires, and
// dispatches due ones into the Build Lifecycle Manager.
type Poller struct {
	schedules storage.CronScheduleStore
	cronRuns  storage.CronRunStore
	jobs      storage.JobStore
	builds    BuildCreator
	bus       *eventbus.Bus
	log       *logging.Logger

	pollInterval    time.Duration
	missedThreshold time.Duration

	mu       sync.Mutex
	cancel   context.CancelFunc
	loopWG   sync.WaitGroup // the ticker goroutine only
	buildsWG sync.WaitGroup // builds dispatched by a tick, run fire-and-forget
	running  bool
}

// New constructs a Poller. pollInterval <= 0 defaults to 60s;
// missedThreshold <= 0 defaults to 10m, matching spec §6 defaults.
func New(schedules storage.CronScheduleStore, cronRuns storage.CronRunStore, jobs storage.JobStore, builds BuildCreator, bus *eventbus.Bus, pollInterval, missedThreshold time.Duration, log *logging.Logger) *Poller {
	if pollInterval <= 0 {
		pollInterval = 60 * time.Second
	}
	if missedThreshold <= 0 {
		missedThreshold = 10 * time.Minute
	}
	return &Poller{
		schedules:       schedules,
		cronRuns:        cronRuns,
		jobs:            jobs,
		builds:          builds,
		bus:             bus,
		log:             log,
		pollInterval:    pollInterval,
		missedThreshold: missedThreshold,
	}
}

// Start begins the background polling loop. Calling Start on an already
// running Poller is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.mu.Unlock()

	p.loopWG.Add(1)
	go func() {
		defer p.loopWG.Done()
		ticker := time.NewTicker(p.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				p.tick(runCtx)
			}
		}
	}()
}

// Stop halts the polling loop and waits for the in-flight tick (if any) to
// return. It does not wait for builds the tick dispatched — those run to
// completion on their own goroutines regardless of Stop.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.running = false
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.loopWG.Wait()
}

// tick evaluates every schedule whose next-run-at has arrived.
func (p *Poller) tick(ctx context.Context) {
	now := time.Now().UTC()
	due, err := p.schedules.ListDueSchedules(ctx, now)
	if err != nil {
		p.logError(err, "cronengine: list due schedules failed")
		return
	}
	for _, sc := range due {
		p.evaluate(ctx, sc, now)
	}
}

// evaluate processes one due schedule: missed-run detection, job lookup,
// build dispatch, cron-run recording, and next-run-at recomputation —
// every code path stores the schedule, and every path with a parseable
// expression recomputes next-run-at first. An unparseable expression keeps
// its previous next-run-at.
func (p *Poller) evaluate(ctx context.Context, sc cron.Schedule, now time.Time) {
	parsed, err := Parse(sc.Expression, sc.Timezone)
	if err != nil {
		p.logError(err, "cronengine: schedule carries an unparseable expression")
		p.recordRun(ctx, sc, cron.Run{ScheduleID: sc.ID, JobID: sc.JobID, Outcome: cron.RunError, Error: err.Error(), ScheduledFor: sc.NextRunAt})
		p.reschedule(ctx, sc, now, parsed)
		return
	}

	if now.Sub(sc.NextRunAt) > p.missedThreshold {
		sc.Status = cron.StatusMissed
		p.recordRun(ctx, sc, cron.Run{ScheduleID: sc.ID, JobID: sc.JobID, Outcome: cron.RunMissed, ScheduledFor: sc.NextRunAt})
		p.reschedule(ctx, sc, now, parsed)
		return
	}

	j, err := p.jobs.GetJob(ctx, sc.JobID)
	if err != nil {
		sc.Status = cron.StatusError
		p.recordRun(ctx, sc, cron.Run{ScheduleID: sc.ID, JobID: sc.JobID, Outcome: cron.RunError, Error: fmt.Sprintf("job lookup failed: %v", err), ScheduledFor: sc.NextRunAt})
		p.reschedule(ctx, sc, now, parsed)
		return
	}

	opts := lifecycle.Options{
		Parameters: cloneParams(sc.Parameters),
		Metadata: map[string]string{
			"cron-schedule-id": sc.ID,
			"cron-expression":  sc.Expression,
		},
	}
	created, err := p.builds.CreateRecord(ctx, j, build.TriggerCron, opts)
	if err != nil {
		sc.Status = cron.StatusError
		p.recordRun(ctx, sc, cron.Run{ScheduleID: sc.ID, JobID: sc.JobID, Outcome: cron.RunError, Error: fmt.Sprintf("build creation failed: %v", err), ScheduledFor: sc.NextRunAt})
		p.reschedule(ctx, sc, now, parsed)
		return
	}

	if p.bus != nil {
		p.bus.Publish(ctx, event.New(created.ID, event.TypeBuildQueued, map[string]any{
			"cron_schedule_id": sc.ID,
			"job_id":           j.ID,
		}))
	}

	p.buildsWG.Add(1)
	go func() {
		defer p.buildsWG.Done()
		p.builds.ExecuteForRecord(context.Background(), j, created, opts)
	}()

	sc.Status = cron.StatusTriggered
	sc.LastRunAt = now
	p.recordRun(ctx, sc, cron.Run{ScheduleID: sc.ID, JobID: sc.JobID, Outcome: cron.RunTriggered, BuildID: created.ID, ScheduledFor: sc.NextRunAt})
	p.reschedule(ctx, sc, now, parsed)
}

func (p *Poller) reschedule(ctx context.Context, sc cron.Schedule, now time.Time, parsed *Expression) {
	if parsed != nil {
		sc.NextRunAt = parsed.Next(now)
	}
	if _, err := p.schedules.UpdateSchedule(ctx, sc); err != nil {
		p.logError(err, "cronengine: failed to persist rescheduled next-run-at")
	}
}

func (p *Poller) recordRun(ctx context.Context, sc cron.Schedule, r cron.Run) {
	if p.cronRuns == nil {
		return
	}
	if _, err := p.cronRuns.RecordCronRun(ctx, r); err != nil {
		p.logError(err, "cronengine: failed to record cron run")
	}
}

func (p *Poller) logError(err error, msg string) {
	if p.log == nil {
		return
	}
	p.log.WithError(err).Error(msg)
}

func cloneParams(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
