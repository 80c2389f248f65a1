// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/sremani/chengis/internal/corekit"
	"github.com/sremani/chengis/internal/domain/approval"
	"github.com/sremani/chengis/internal/domain/build"
	"github.com/sremani/chengis/internal/domain/cachemodel"
	"github.com/sremani/chengis/internal/domain/cron"
	"github.com/sremani/chengis/internal/domain/job"
	"github.com/sremani/chengis/internal/domain/pipeline"
	"github.com/sremani/chengis/internal/domain/policy"
	"github.com/sremani/chengis/internal/storage"
)

// Store implements the storage interfaces over a *sqlx.DB connection.
type Store struct {
	db *sqlx.DB
}

var _ storage.JobStore = (*Store)(nil)
var _ storage.BuildStore = (*Store)(nil)
var _ storage.ApprovalGateStore = (*Store)(nil)
var _ storage.PolicyStore = (*Store)(nil)
var _ storage.CronScheduleStore = (*Store)(nil)
var _ storage.CacheEntryStore = (*Store)(nil)
var _ storage.NotificationStore = (*Store)(nil)
var _ storage.CronRunStore = (*Store)(nil)

// Open connects to dsn with the "postgres" driver and verifies connectivity.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, err
	}
	return New(db), nil
}

// New wraps an already-connected *sqlx.DB.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying *sql.DB, e.g. for running migrations or tuning
// connection pool limits.
func (s *Store) DB() *sql.DB { return s.db.DB }

// --- JobStore ----------------------------------------------------------

func (s *Store) CreateJob(ctx context.Context, j job.Job) (job.Job, error) {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	j.CreatedAt = now
	j.UpdatedAt = now

	pipelineJSON, err := json.Marshal(j.Pipeline)
	if err != nil {
		return job.Job{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, org_id, name, pipeline, source_repository, source_default_ref, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, j.ID, j.OrgID, j.Name, pipelineJSON, j.Source.Repository, j.Source.DefaultRef, j.Enabled, j.CreatedAt, j.UpdatedAt)
	if err != nil {
		return job.Job{}, err
	}
	return j, nil
}

func (s *Store) UpdateJob(ctx context.Context, j job.Job) (job.Job, error) {
	existing, err := s.GetJob(ctx, j.ID)
	if err != nil {
		return job.Job{}, err
	}
	j.OrgID = existing.OrgID
	j.CreatedAt = existing.CreatedAt
	j.UpdatedAt = time.Now().UTC()

	pipelineJSON, err := json.Marshal(j.Pipeline)
	if err != nil {
		return job.Job{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET name = $2, pipeline = $3, source_repository = $4, source_default_ref = $5, enabled = $6, updated_at = $7
		WHERE id = $1
	`, j.ID, j.Name, pipelineJSON, j.Source.Repository, j.Source.DefaultRef, j.Enabled, j.UpdatedAt)
	if err != nil {
		return job.Job{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return job.Job{}, sql.ErrNoRows
	}
	return j, nil
}

func (s *Store) GetJob(ctx context.Context, id string) (job.Job, error) {
	row := s.db.QueryRowxContext(ctx, `
		SELECT id, org_id, name, pipeline, source_repository, source_default_ref, enabled, created_at, updated_at
		FROM jobs WHERE id = $1
	`, id)
	return scanJob(row)
}

func (s *Store) ListJobs(ctx context.Context, orgID string) ([]job.Job, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, org_id, name, pipeline, source_repository, source_default_ref, enabled, created_at, updated_at
		FROM jobs WHERE ($1 = '' OR org_id = $1) ORDER BY created_at
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Store) DeleteJob(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (job.Job, error) {
	var (
		j            job.Job
		pipelineRaw  []byte
	)
	if err := row.Scan(&j.ID, &j.OrgID, &j.Name, &pipelineRaw, &j.Source.Repository, &j.Source.DefaultRef, &j.Enabled, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return job.Job{}, err
	}
	if len(pipelineRaw) > 0 {
		var p pipeline.Pipeline
		if err := json.Unmarshal(pipelineRaw, &p); err != nil {
			return job.Job{}, err
		}
		j.Pipeline = p
	}
	return j, nil
}

// --- BuildStore ----------------------------------------------------------

// CreateBuildWithNextNumber assigns the next build number for b.JobID inside
// a transaction holding a row lock on the job, so concurrent inserts for the
// same job never race on the number.
func (s *Store) CreateBuildWithNextNumber(ctx context.Context, b build.Build) (build.Build, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return build.Build{}, err
	}
	defer tx.Rollback()

	var lockedJobID string
	if err := tx.QueryRowContext(ctx, `
		SELECT id FROM jobs WHERE id = $1 FOR UPDATE
	`, b.JobID).Scan(&lockedJobID); err != nil {
		return build.Build{}, err
	}

	var maxNumber sql.NullInt64
	if err := tx.QueryRowContext(ctx, `
		SELECT MAX(number) FROM builds WHERE job_id = $1
	`, b.JobID).Scan(&maxNumber); err != nil {
		return build.Build{}, err
	}
	b.Number = maxNumber.Int64 + 1
	if b.ID == "" {
		b.ID = uuid.NewString()
	}

	stagesJSON, err := json.Marshal(b.Stages)
	if err != nil {
		return build.Build{}, err
	}
	artifactsJSON, err := json.Marshal(b.Artifacts)
	if err != nil {
		return build.Build{}, err
	}
	paramsJSON, err := json.Marshal(b.Parameters)
	if err != nil {
		return build.Build{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO builds (id, job_id, org_id, number, status, started_at, completed_at, trigger, parameters, stages, workspace, artifacts, pipeline_source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, b.ID, b.JobID, b.OrgID, b.Number, b.Status, b.StartedAt, b.CompletedAt, b.Trigger, paramsJSON, stagesJSON, b.Workspace, artifactsJSON, b.PipelineSource); err != nil {
		return build.Build{}, err
	}

	if err := tx.Commit(); err != nil {
		return build.Build{}, err
	}
	return b, nil
}

func (s *Store) UpdateBuild(ctx context.Context, b build.Build) (build.Build, error) {
	existing, err := s.GetBuild(ctx, b.ID)
	if err != nil {
		return build.Build{}, err
	}
	b.JobID = existing.JobID
	b.Number = existing.Number

	stagesJSON, err := json.Marshal(b.Stages)
	if err != nil {
		return build.Build{}, err
	}
	artifactsJSON, err := json.Marshal(b.Artifacts)
	if err != nil {
		return build.Build{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE builds
		SET status = $2, completed_at = $3, stages = $4, artifacts = $5
		WHERE id = $1
	`, b.ID, b.Status, b.CompletedAt, stagesJSON, artifactsJSON)
	if err != nil {
		return build.Build{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return build.Build{}, sql.ErrNoRows
	}
	return b, nil
}

func (s *Store) GetBuild(ctx context.Context, id string) (build.Build, error) {
	row := s.db.QueryRowxContext(ctx, `
		SELECT id, job_id, org_id, number, status, started_at, completed_at, trigger, parameters, stages, workspace, artifacts, pipeline_source
		FROM builds WHERE id = $1
	`, id)
	return scanBuild(row)
}

func (s *Store) ListBuilds(ctx context.Context, jobID string, limit int) ([]build.Build, error) {
	limit = corekit.ClampLimit(limit, corekit.DefaultListLimit, corekit.MaxListLimit)
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, job_id, org_id, number, status, started_at, completed_at, trigger, parameters, stages, workspace, artifacts, pipeline_source
		FROM builds WHERE ($1 = '' OR job_id = $1) ORDER BY number DESC LIMIT $2
	`, jobID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBuilds(rows)
}

func (s *Store) ListRunningBuilds(ctx context.Context) ([]build.Build, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, job_id, org_id, number, status, started_at, completed_at, trigger, parameters, stages, workspace, artifacts, pipeline_source
		FROM builds WHERE status NOT IN ('success', 'failure', 'aborted')
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBuilds(rows)
}

func scanBuilds(rows *sqlx.Rows) ([]build.Build, error) {
	var out []build.Build
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBuild(row rowScanner) (build.Build, error) {
	var (
		b                           build.Build
		paramsRaw, stagesRaw, artifactsRaw []byte
		completedAt                 sql.NullTime
	)
	if err := row.Scan(&b.ID, &b.JobID, &b.OrgID, &b.Number, &b.Status, &b.StartedAt, &completedAt, &b.Trigger, &paramsRaw, &stagesRaw, &b.Workspace, &artifactsRaw, &b.PipelineSource); err != nil {
		return build.Build{}, err
	}
	if completedAt.Valid {
		b.CompletedAt = completedAt.Time
	}
	if len(paramsRaw) > 0 {
		_ = json.Unmarshal(paramsRaw, &b.Parameters)
	}
	if len(stagesRaw) > 0 {
		_ = json.Unmarshal(stagesRaw, &b.Stages)
	}
	if len(artifactsRaw) > 0 {
		_ = json.Unmarshal(artifactsRaw, &b.Artifacts)
	}
	return b, nil
}

// --- ApprovalGateStore ----------------------------------------------------

func (s *Store) CreateGate(ctx context.Context, g approval.Gate) (approval.Gate, error) {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	approvalsJSON, err := json.Marshal(g.Approvals)
	if err != nil {
		return approval.Gate{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO approval_gates (id, build_id, stage_name, role, approver_group, min_approvals, message, created_at, timeout_seconds, status, approvals, rejected_by, rejected_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, g.ID, g.BuildID, g.StageName, g.Role, g.ApproverGroup, g.MinApprovals, g.Message, g.CreatedAt, int64(g.Timeout.Seconds()), g.Status, approvalsJSON, g.RejectedBy, g.RejectedReason)
	if err != nil {
		return approval.Gate{}, err
	}
	return g, nil
}

func (s *Store) UpdateGate(ctx context.Context, g approval.Gate) (approval.Gate, error) {
	approvalsJSON, err := json.Marshal(g.Approvals)
	if err != nil {
		return approval.Gate{}, err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE approval_gates
		SET status = $2, approvals = $3, rejected_by = $4, rejected_reason = $5
		WHERE id = $1
	`, g.ID, g.Status, approvalsJSON, g.RejectedBy, g.RejectedReason)
	if err != nil {
		return approval.Gate{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return approval.Gate{}, sql.ErrNoRows
	}
	return g, nil
}

func (s *Store) GetGate(ctx context.Context, id string) (approval.Gate, error) {
	row := s.db.QueryRowxContext(ctx, `
		SELECT id, build_id, stage_name, role, approver_group, min_approvals, message, created_at, timeout_seconds, status, approvals, rejected_by, rejected_reason
		FROM approval_gates WHERE id = $1
	`, id)
	return scanGate(row)
}

func (s *Store) GetGateByBuildAndStage(ctx context.Context, buildID, stageName string) (approval.Gate, error) {
	row := s.db.QueryRowxContext(ctx, `
		SELECT id, build_id, stage_name, role, approver_group, min_approvals, message, created_at, timeout_seconds, status, approvals, rejected_by, rejected_reason
		FROM approval_gates WHERE build_id = $1 AND stage_name = $2
	`, buildID, stageName)
	return scanGate(row)
}

func (s *Store) ListPendingGates(ctx context.Context) ([]approval.Gate, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, build_id, stage_name, role, approver_group, min_approvals, message, created_at, timeout_seconds, status, approvals, rejected_by, rejected_reason
		FROM approval_gates WHERE status = 'pending'
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []approval.Gate
	for rows.Next() {
		g, err := scanGate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func scanGate(row rowScanner) (approval.Gate, error) {
	var (
		g             approval.Gate
		timeoutSecs   int64
		approvalsRaw  []byte
	)
	if err := row.Scan(&g.ID, &g.BuildID, &g.StageName, &g.Role, &g.ApproverGroup, &g.MinApprovals, &g.Message, &g.CreatedAt, &timeoutSecs, &g.Status, &approvalsRaw, &g.RejectedBy, &g.RejectedReason); err != nil {
		return approval.Gate{}, err
	}
	g.Timeout = time.Duration(timeoutSecs) * time.Second
	if len(approvalsRaw) > 0 {
		_ = json.Unmarshal(approvalsRaw, &g.Approvals)
	}
	return g, nil
}

// --- PolicyStore -----------------------------------------------------------

func (s *Store) CreatePolicy(ctx context.Context, p policy.Policy) (policy.Policy, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	payload, err := marshalPolicyPayload(p)
	if err != nil {
		return policy.Policy{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO policies (id, org_id, enabled, priority, kind, name, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.ID, p.OrgID, p.Enabled, p.Priority, p.Kind, p.Name, payload)
	if err != nil {
		return policy.Policy{}, err
	}
	return p, nil
}

func (s *Store) UpdatePolicy(ctx context.Context, p policy.Policy) (policy.Policy, error) {
	payload, err := marshalPolicyPayload(p)
	if err != nil {
		return policy.Policy{}, err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE policies SET enabled = $2, priority = $3, kind = $4, name = $5, payload = $6
		WHERE id = $1
	`, p.ID, p.Enabled, p.Priority, p.Kind, p.Name, payload)
	if err != nil {
		return policy.Policy{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return policy.Policy{}, sql.ErrNoRows
	}
	return p, nil
}

func (s *Store) GetPolicy(ctx context.Context, id string) (policy.Policy, error) {
	row := s.db.QueryRowxContext(ctx, `
		SELECT id, org_id, enabled, priority, kind, name, payload FROM policies WHERE id = $1
	`, id)
	return scanPolicy(row)
}

func (s *Store) ListPolicies(ctx context.Context, orgID string) ([]policy.Policy, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, org_id, enabled, priority, kind, name, payload FROM policies
		WHERE ($1 = '' OR org_id = $1) ORDER BY priority DESC
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []policy.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) DeletePolicy(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM policies WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// policyPayload bundles whichever rule variant a Policy carries into one
// JSON column, keyed by Kind.
type policyPayload struct {
	BranchRestriction    *policy.BranchRestrictionRule    `json:"branch_restriction,omitempty"`
	AuthorRestriction    *policy.AuthorRestrictionRule    `json:"author_restriction,omitempty"`
	TimeWindow           *policy.TimeWindowRule           `json:"time_window,omitempty"`
	ParameterRestriction *policy.ParameterRestrictionRule `json:"parameter_restriction,omitempty"`
	RequiredApproval     *policy.RequiredApprovalRule     `json:"required_approval,omitempty"`
}

func marshalPolicyPayload(p policy.Policy) ([]byte, error) {
	return json.Marshal(policyPayload{
		BranchRestriction:    p.BranchRestriction,
		AuthorRestriction:    p.AuthorRestriction,
		TimeWindow:           p.TimeWindow,
		ParameterRestriction: p.ParameterRestriction,
		RequiredApproval:     p.RequiredApproval,
	})
}

func scanPolicy(row rowScanner) (policy.Policy, error) {
	var (
		p          policy.Policy
		payloadRaw []byte
	)
	if err := row.Scan(&p.ID, &p.OrgID, &p.Enabled, &p.Priority, &p.Kind, &p.Name, &payloadRaw); err != nil {
		return policy.Policy{}, err
	}
	if len(payloadRaw) > 0 {
		var payload policyPayload
		if err := json.Unmarshal(payloadRaw, &payload); err != nil {
			return policy.Policy{}, err
		}
		p.BranchRestriction = payload.BranchRestriction
		p.AuthorRestriction = payload.AuthorRestriction
		p.TimeWindow = payload.TimeWindow
		p.ParameterRestriction = payload.ParameterRestriction
		p.RequiredApproval = payload.RequiredApproval
	}
	return p, nil
}

// --- CronScheduleStore -----------------------------------------------------

func (s *Store) CreateSchedule(ctx context.Context, sc cron.Schedule) (cron.Schedule, error) {
	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	paramsJSON, err := json.Marshal(sc.Parameters)
	if err != nil {
		return cron.Schedule{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cron_schedules (id, job_id, expression, timezone, next_run_at, last_run_at, status, parameters)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, sc.ID, sc.JobID, sc.Expression, sc.Timezone, sc.NextRunAt, sc.LastRunAt, sc.Status, paramsJSON)
	if err != nil {
		return cron.Schedule{}, err
	}
	return sc, nil
}

func (s *Store) UpdateSchedule(ctx context.Context, sc cron.Schedule) (cron.Schedule, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE cron_schedules SET next_run_at = $2, last_run_at = $3, status = $4
		WHERE id = $1
	`, sc.ID, sc.NextRunAt, sc.LastRunAt, sc.Status)
	if err != nil {
		return cron.Schedule{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return cron.Schedule{}, sql.ErrNoRows
	}
	return sc, nil
}

func (s *Store) GetSchedule(ctx context.Context, id string) (cron.Schedule, error) {
	row := s.db.QueryRowxContext(ctx, `
		SELECT id, job_id, expression, timezone, next_run_at, last_run_at, status, parameters
		FROM cron_schedules WHERE id = $1
	`, id)
	return scanSchedule(row)
}

func (s *Store) ListSchedules(ctx context.Context, jobID string) ([]cron.Schedule, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, job_id, expression, timezone, next_run_at, last_run_at, status, parameters
		FROM cron_schedules WHERE ($1 = '' OR job_id = $1)
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []cron.Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *Store) ListDueSchedules(ctx context.Context, before time.Time) ([]cron.Schedule, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, job_id, expression, timezone, next_run_at, last_run_at, status, parameters
		FROM cron_schedules WHERE next_run_at <= $1
	`, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []cron.Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func scanSchedule(row rowScanner) (cron.Schedule, error) {
	var (
		sc         cron.Schedule
		paramsRaw  []byte
	)
	if err := row.Scan(&sc.ID, &sc.JobID, &sc.Expression, &sc.Timezone, &sc.NextRunAt, &sc.LastRunAt, &sc.Status, &paramsRaw); err != nil {
		return cron.Schedule{}, err
	}
	if len(paramsRaw) > 0 {
		_ = json.Unmarshal(paramsRaw, &sc.Parameters)
	}
	return sc, nil
}

// --- CacheEntryStore ---------------------------------------------------

// SaveEntry inserts e unless a row for (job_id, key) already exists, in
// which case the existing row is returned unchanged: cache entries are
// immutable once written.
func (s *Store) SaveEntry(ctx context.Context, e cachemodel.Entry) (cachemodel.Entry, bool, error) {
	if existing, found, err := s.FindEntry(ctx, e.JobID, e.Key); err != nil {
		return cachemodel.Entry{}, false, err
	} else if found {
		return existing, false, nil
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	pathsJSON, err := json.Marshal(e.Paths)
	if err != nil {
		return cachemodel.Entry{}, false, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (id, job_id, key, paths, dir, size_bytes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (job_id, key) DO NOTHING
	`, e.ID, e.JobID, e.Key, pathsJSON, e.Dir, e.SizeBytes, e.CreatedAt)
	if err != nil {
		return cachemodel.Entry{}, false, err
	}

	// A concurrent writer may have won the race the ON CONFLICT guards
	// against; re-read to report the entry that actually persisted.
	final, found, err := s.FindEntry(ctx, e.JobID, e.Key)
	if err != nil {
		return cachemodel.Entry{}, false, err
	}
	if !found {
		return cachemodel.Entry{}, false, errors.New("cache entry vanished after insert")
	}
	return final, final.ID == e.ID, nil
}

func (s *Store) FindEntry(ctx context.Context, jobID, key string) (cachemodel.Entry, bool, error) {
	row := s.db.QueryRowxContext(ctx, `
		SELECT id, job_id, key, paths, dir, size_bytes, created_at
		FROM cache_entries WHERE job_id = $1 AND key = $2
	`, jobID, key)

	var (
		e        cachemodel.Entry
		pathsRaw []byte
	)
	if err := row.Scan(&e.ID, &e.JobID, &e.Key, &pathsRaw, &e.Dir, &e.SizeBytes, &e.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return cachemodel.Entry{}, false, nil
		}
		return cachemodel.Entry{}, false, err
	}
	if len(pathsRaw) > 0 {
		_ = json.Unmarshal(pathsRaw, &e.Paths)
	}
	return e, true, nil
}

// ListEntriesByPrefix returns every entry for jobID whose key starts with
// prefix, newest first, for restore-key fallback matching.
func (s *Store) ListEntriesByPrefix(ctx context.Context, jobID, prefix string) ([]cachemodel.Entry, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, job_id, key, paths, dir, size_bytes, created_at
		FROM cache_entries WHERE job_id = $1 AND key LIKE $2 || '%'
		ORDER BY created_at DESC
	`, jobID, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []cachemodel.Entry
	for rows.Next() {
		var (
			e        cachemodel.Entry
			pathsRaw []byte
		)
		if err := rows.Scan(&e.ID, &e.JobID, &e.Key, &pathsRaw, &e.Dir, &e.SizeBytes, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(pathsRaw) > 0 {
			_ = json.Unmarshal(pathsRaw, &e.Paths)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) EvictOlderThan(ctx context.Context, before time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE created_at < $1`, before)
	if err != nil {
		return 0, err
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}

// --- NotificationStore -----------------------------------------------------

func (s *Store) RecordNotification(ctx context.Context, n storage.Notification) (storage.Notification, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.SentAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, build_id, target, channel, sent_at, error)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, n.ID, n.BuildID, n.Target, n.Channel, n.SentAt, n.Error)
	if err != nil {
		return storage.Notification{}, err
	}
	return n, nil
}

func (s *Store) ListNotifications(ctx context.Context, buildID string) ([]storage.Notification, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, build_id, target, channel, sent_at, error FROM notifications WHERE build_id = $1 ORDER BY sent_at
	`, buildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.Notification
	for rows.Next() {
		var n storage.Notification
		if err := rows.Scan(&n.ID, &n.BuildID, &n.Target, &n.Channel, &n.SentAt, &n.Error); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// --- CronRunStore -----------------------------------------------------

func (s *Store) RecordCronRun(ctx context.Context, r cron.Run) (cron.Run, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.RecordedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cron_runs (id, schedule_id, job_id, outcome, build_id, error, scheduled_for, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, r.ID, r.ScheduleID, r.JobID, r.Outcome, r.BuildID, r.Error, r.ScheduledFor, r.RecordedAt)
	if err != nil {
		return cron.Run{}, err
	}
	return r, nil
}

func (s *Store) ListCronRuns(ctx context.Context, scheduleID string) ([]cron.Run, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, schedule_id, job_id, outcome, build_id, error, scheduled_for, recorded_at
		FROM cron_runs WHERE schedule_id = $1 ORDER BY recorded_at DESC
	`, scheduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []cron.Run
	for rows.Next() {
		var r cron.Run
		if err := rows.Scan(&r.ID, &r.ScheduleID, &r.JobID, &r.Outcome, &r.BuildID, &r.Error, &r.ScheduledFor, &r.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
