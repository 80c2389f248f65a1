// Package storage declares the persistence collaborator interfaces the core
// consumes, mirroring the teacher's per-entity interface-in-one-file layout.
// Concrete adapters live in this package's memory.go (tests/prototyping) and
// the postgres subpackage (production).
package storage

import (
	"context"
	"time"

	"github.com/sremani/chengis/internal/domain/approval"
	"github.com/sremani/chengis/internal/domain/build"
	"github.com/sremani/chengis/internal/domain/cachemodel"
	"github.com/sremani/chengis/internal/domain/cron"
	"github.com/sremani/chengis/internal/domain/job"
	"github.com/sremani/chengis/internal/domain/policy"
)

// JobStore persists Job definitions.
type JobStore interface {
	CreateJob(ctx context.Context, j job.Job) (job.Job, error)
	UpdateJob(ctx context.Context, j job.Job) (job.Job, error)
	GetJob(ctx context.Context, id string) (job.Job, error)
	ListJobs(ctx context.Context, orgID string) ([]job.Job, error)
	DeleteJob(ctx context.Context, id string) error
}

// BuildStore persists Build records and hands out build numbers atomically.
type BuildStore interface {
	// CreateBuildWithNextNumber assigns b.Number to one greater than the
	// highest existing Number for b.JobID and persists b atomically, so
	// concurrent builds for the same job never collide on their number.
	CreateBuildWithNextNumber(ctx context.Context, b build.Build) (build.Build, error)
	UpdateBuild(ctx context.Context, b build.Build) (build.Build, error)
	GetBuild(ctx context.Context, id string) (build.Build, error)
	ListBuilds(ctx context.Context, jobID string, limit int) ([]build.Build, error)
	ListRunningBuilds(ctx context.Context) ([]build.Build, error)
}

// ApprovalGateStore persists ApprovalGate records.
type ApprovalGateStore interface {
	CreateGate(ctx context.Context, g approval.Gate) (approval.Gate, error)
	UpdateGate(ctx context.Context, g approval.Gate) (approval.Gate, error)
	GetGate(ctx context.Context, id string) (approval.Gate, error)
	GetGateByBuildAndStage(ctx context.Context, buildID, stageName string) (approval.Gate, error)
	ListPendingGates(ctx context.Context) ([]approval.Gate, error)
}

// PolicyStore persists organization-scoped Policy rules.
type PolicyStore interface {
	CreatePolicy(ctx context.Context, p policy.Policy) (policy.Policy, error)
	UpdatePolicy(ctx context.Context, p policy.Policy) (policy.Policy, error)
	GetPolicy(ctx context.Context, id string) (policy.Policy, error)
	ListPolicies(ctx context.Context, orgID string) ([]policy.Policy, error)
	DeletePolicy(ctx context.Context, id string) error
}

// CronScheduleStore persists CronSchedule records.
type CronScheduleStore interface {
	CreateSchedule(ctx context.Context, s cron.Schedule) (cron.Schedule, error)
	UpdateSchedule(ctx context.Context, s cron.Schedule) (cron.Schedule, error)
	GetSchedule(ctx context.Context, id string) (cron.Schedule, error)
	ListSchedules(ctx context.Context, jobID string) ([]cron.Schedule, error)
	ListDueSchedules(ctx context.Context, before time.Time) ([]cron.Schedule, error)
}

// CronRunStore persists the outcome of each poll-cycle evaluation of a
// CronSchedule's due fire time, for audit and missed-run visibility.
type CronRunStore interface {
	RecordCronRun(ctx context.Context, r cron.Run) (cron.Run, error)
	ListCronRuns(ctx context.Context, scheduleID string) ([]cron.Run, error)
}

// CacheEntryStore persists immutable CacheEntry records. Saves are
// first-writer-wins: SaveEntry is a no-op if the key already exists.
type CacheEntryStore interface {
	SaveEntry(ctx context.Context, e cachemodel.Entry) (cachemodel.Entry, bool, error)
	FindEntry(ctx context.Context, jobID, key string) (cachemodel.Entry, bool, error)
	// ListEntriesByPrefix returns every entry for jobID whose key starts with
	// prefix, newest first, for restore-key fallback matching.
	ListEntriesByPrefix(ctx context.Context, jobID, prefix string) ([]cachemodel.Entry, error)
	EvictOlderThan(ctx context.Context, before time.Time) (int, error)
}

// Notification is a dispatched build-outcome notification record, kept for
// audit and retry visibility.
type Notification struct {
	ID        string
	BuildID   string
	Target    string
	Channel   string
	SentAt    time.Time
	Error     string
}

// NotificationStore persists dispatched Notification records.
type NotificationStore interface {
	RecordNotification(ctx context.Context, n Notification) (Notification, error)
	ListNotifications(ctx context.Context, buildID string) ([]Notification, error)
}
