package postgres

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/sremani/chengis/internal/domain/job"
	"github.com/sremani/chengis/internal/domain/pipeline"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "postgres")), mock
}

func TestCreateJobInsertsRow(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO jobs").
		WithArgs(sqlmock.AnyArg(), "org-1", "build-and-test", sqlmock.AnyArg(), "git@example.com/repo.git", "main", true, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	j := job.Job{
		OrgID:   "org-1",
		Name:    "build-and-test",
		Enabled: true,
		Pipeline: pipeline.Pipeline{
			Stages: []pipeline.Stage{{Name: "build"}},
		},
	}
	j.Source.Repository = "git@example.com/repo.git"
	j.Source.DefaultRef = "main"

	created, err := store.CreateJob(context.Background(), j)
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJobReturnsErrNoRowsWhenMissing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, org_id, name, pipeline, source_repository, source_default_ref, enabled, created_at, updated_at").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.UpdateJob(context.Background(), job.Job{ID: "missing"})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
