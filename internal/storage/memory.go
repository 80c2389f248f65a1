package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sremani/chengis/internal/corekit"
	"github.com/sremani/chengis/internal/domain/approval"
	"github.com/sremani/chengis/internal/domain/build"
	"github.com/sremani/chengis/internal/domain/cachemodel"
	"github.com/sremani/chengis/internal/domain/cron"
	"github.com/sremani/chengis/internal/domain/job"
	"github.com/sremani/chengis/internal/domain/policy"
)

// Memory is a thread-safe in-memory persistence layer implementing every
// interface in this package. It is intended for tests and local
// development and deliberately keeps the implementation simple.
type Memory struct {
	mu sync.RWMutex

	jobs          map[string]job.Job
	builds        map[string]build.Build
	buildNumbers  map[string]int64 // jobID -> highest assigned number
	gates         map[string]approval.Gate
	policies      map[string]policy.Policy
	schedules     map[string]cron.Schedule
	cacheEntries  map[string]cachemodel.Entry // jobID|key -> entry
	notifications map[string][]Notification   // buildID -> notifications
	cronRuns      map[string][]cron.Run       // scheduleID -> runs
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		jobs:          make(map[string]job.Job),
		builds:        make(map[string]build.Build),
		buildNumbers:  make(map[string]int64),
		gates:         make(map[string]approval.Gate),
		policies:      make(map[string]policy.Policy),
		schedules:     make(map[string]cron.Schedule),
		cacheEntries:  make(map[string]cachemodel.Entry),
		notifications: make(map[string][]Notification),
		cronRuns:      make(map[string][]cron.Run),
	}
}

func cacheKey(jobID, key string) string { return jobID + "|" + key }

// --- JobStore ----------------------------------------------------------

func (m *Memory) CreateJob(_ context.Context, j job.Job) (job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if j.ID == "" {
		j.ID = uuid.NewString()
	} else if _, exists := m.jobs[j.ID]; exists {
		return job.Job{}, fmt.Errorf("job %s already exists", j.ID)
	}
	now := time.Now().UTC()
	j.CreatedAt = now
	j.UpdatedAt = now
	j.Pipeline = j.Pipeline.Clone()
	m.jobs[j.ID] = j
	return j, nil
}

func (m *Memory) UpdateJob(_ context.Context, j job.Job) (job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	original, ok := m.jobs[j.ID]
	if !ok {
		return job.Job{}, fmt.Errorf("job %s not found", j.ID)
	}
	j.CreatedAt = original.CreatedAt
	j.UpdatedAt = time.Now().UTC()
	j.Pipeline = j.Pipeline.Clone()
	m.jobs[j.ID] = j
	return j, nil
}

func (m *Memory) GetJob(_ context.Context, id string) (job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[id]
	if !ok {
		return job.Job{}, fmt.Errorf("job %s not found", id)
	}
	j.Pipeline = j.Pipeline.Clone()
	return j, nil
}

func (m *Memory) ListJobs(_ context.Context, orgID string) ([]job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if orgID != "" && j.OrgID != orgID {
			continue
		}
		j.Pipeline = j.Pipeline.Clone()
		out = append(out, j)
	}
	return out, nil
}

func (m *Memory) DeleteJob(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[id]; !ok {
		return fmt.Errorf("job %s not found", id)
	}
	delete(m.jobs, id)
	return nil
}

// --- BuildStore ----------------------------------------------------------

func (m *Memory) CreateBuildWithNextNumber(_ context.Context, b build.Build) (build.Build, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	m.buildNumbers[b.JobID]++
	b.Number = m.buildNumbers[b.JobID]
	m.builds[b.ID] = b
	return b, nil
}

func (m *Memory) UpdateBuild(_ context.Context, b build.Build) (build.Build, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.builds[b.ID]
	if !ok {
		return build.Build{}, fmt.Errorf("build %s not found", b.ID)
	}
	b.Number = existing.Number
	b.JobID = existing.JobID
	m.builds[b.ID] = b
	return b, nil
}

func (m *Memory) GetBuild(_ context.Context, id string) (build.Build, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.builds[id]
	if !ok {
		return build.Build{}, fmt.Errorf("build %s not found", id)
	}
	return b, nil
}

func (m *Memory) ListBuilds(_ context.Context, jobID string, limit int) ([]build.Build, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit = corekit.ClampLimit(limit, corekit.DefaultListLimit, corekit.MaxListLimit)
	out := make([]build.Build, 0, len(m.builds))
	for _, b := range m.builds {
		if jobID != "" && b.JobID != jobID {
			continue
		}
		out = append(out, b)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ListRunningBuilds(_ context.Context) ([]build.Build, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]build.Build, 0)
	for _, b := range m.builds {
		if !b.Status.IsTerminal() {
			out = append(out, b)
		}
	}
	return out, nil
}

// --- ApprovalGateStore ----------------------------------------------------

func (m *Memory) CreateGate(_ context.Context, g approval.Gate) (approval.Gate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	m.gates[g.ID] = g
	return g, nil
}

func (m *Memory) UpdateGate(_ context.Context, g approval.Gate) (approval.Gate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.gates[g.ID]; !ok {
		return approval.Gate{}, fmt.Errorf("gate %s not found", g.ID)
	}
	m.gates[g.ID] = g
	return g, nil
}

func (m *Memory) GetGate(_ context.Context, id string) (approval.Gate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, ok := m.gates[id]
	if !ok {
		return approval.Gate{}, fmt.Errorf("gate %s not found", id)
	}
	return g, nil
}

func (m *Memory) GetGateByBuildAndStage(_ context.Context, buildID, stageName string) (approval.Gate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, g := range m.gates {
		if g.BuildID == buildID && g.StageName == stageName {
			return g, nil
		}
	}
	return approval.Gate{}, fmt.Errorf("gate for build %s stage %s not found", buildID, stageName)
}

func (m *Memory) ListPendingGates(_ context.Context) ([]approval.Gate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]approval.Gate, 0)
	for _, g := range m.gates {
		if g.Status == approval.StatusPending {
			out = append(out, g)
		}
	}
	return out, nil
}

// --- PolicyStore -----------------------------------------------------------

func (m *Memory) CreatePolicy(_ context.Context, p policy.Policy) (policy.Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	} else if _, exists := m.policies[p.ID]; exists {
		return policy.Policy{}, fmt.Errorf("policy %s already exists", p.ID)
	}
	m.policies[p.ID] = p
	return p, nil
}

func (m *Memory) UpdatePolicy(_ context.Context, p policy.Policy) (policy.Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.policies[p.ID]; !ok {
		return policy.Policy{}, fmt.Errorf("policy %s not found", p.ID)
	}
	m.policies[p.ID] = p
	return p, nil
}

func (m *Memory) GetPolicy(_ context.Context, id string) (policy.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.policies[id]
	if !ok {
		return policy.Policy{}, fmt.Errorf("policy %s not found", id)
	}
	return p, nil
}

func (m *Memory) ListPolicies(_ context.Context, orgID string) ([]policy.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]policy.Policy, 0, len(m.policies))
	for _, p := range m.policies {
		if orgID != "" && p.OrgID != orgID {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *Memory) DeletePolicy(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.policies[id]; !ok {
		return fmt.Errorf("policy %s not found", id)
	}
	delete(m.policies, id)
	return nil
}

// --- CronScheduleStore -----------------------------------------------------

func (m *Memory) CreateSchedule(_ context.Context, s cron.Schedule) (cron.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	m.schedules[s.ID] = s
	return s, nil
}

func (m *Memory) UpdateSchedule(_ context.Context, s cron.Schedule) (cron.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.schedules[s.ID]; !ok {
		return cron.Schedule{}, fmt.Errorf("schedule %s not found", s.ID)
	}
	m.schedules[s.ID] = s
	return s, nil
}

func (m *Memory) GetSchedule(_ context.Context, id string) (cron.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.schedules[id]
	if !ok {
		return cron.Schedule{}, fmt.Errorf("schedule %s not found", id)
	}
	return s, nil
}

func (m *Memory) ListSchedules(_ context.Context, jobID string) ([]cron.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]cron.Schedule, 0)
	for _, s := range m.schedules {
		if jobID != "" && s.JobID != jobID {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *Memory) ListDueSchedules(_ context.Context, before time.Time) ([]cron.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]cron.Schedule, 0)
	for _, s := range m.schedules {
		if !s.NextRunAt.After(before) {
			out = append(out, s)
		}
	}
	return out, nil
}

// --- CronRunStore -----------------------------------------------------

func (m *Memory) RecordCronRun(_ context.Context, r cron.Run) (cron.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.RecordedAt = time.Now().UTC()
	m.cronRuns[r.ScheduleID] = append(m.cronRuns[r.ScheduleID], r)
	return r, nil
}

func (m *Memory) ListCronRuns(_ context.Context, scheduleID string) ([]cron.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]cron.Run, len(m.cronRuns[scheduleID]))
	copy(out, m.cronRuns[scheduleID])
	return out, nil
}

// --- CacheEntryStore ---------------------------------------------------

func (m *Memory) SaveEntry(_ context.Context, e cachemodel.Entry) (cachemodel.Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := cacheKey(e.JobID, e.Key)
	if existing, ok := m.cacheEntries[k]; ok {
		return existing, false, nil
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	m.cacheEntries[k] = e
	return e, true, nil
}

func (m *Memory) FindEntry(_ context.Context, jobID, key string) (cachemodel.Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.cacheEntries[cacheKey(jobID, key)]
	return e, ok, nil
}

// ListEntriesByPrefix returns every entry for jobID whose key starts with
// prefix, newest first.
func (m *Memory) ListEntriesByPrefix(_ context.Context, jobID, prefix string) ([]cachemodel.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []cachemodel.Entry
	for _, e := range m.cacheEntries {
		if e.JobID == jobID && strings.HasPrefix(e.Key, prefix) {
			matches = append(matches, e)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].CreatedAt.After(matches[j].CreatedAt) })
	return matches, nil
}

func (m *Memory) EvictOlderThan(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for k, e := range m.cacheEntries {
		if e.CreatedAt.Before(before) {
			delete(m.cacheEntries, k)
			evicted++
		}
	}
	return evicted, nil
}

// --- NotificationStore -----------------------------------------------------

func (m *Memory) RecordNotification(_ context.Context, n Notification) (Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.SentAt = time.Now().UTC()
	m.notifications[n.BuildID] = append(m.notifications[n.BuildID], n)
	return n, nil
}

func (m *Memory) ListNotifications(_ context.Context, buildID string) ([]Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Notification, len(m.notifications[buildID]))
	copy(out, m.notifications[buildID])
	return out, nil
}
