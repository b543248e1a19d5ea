package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencampus/student-management-api/internal/models"
	"github.com/opencampus/student-management-api/internal/repository"
	appErrors "github.com/opencampus/student-management-api/pkg/errors"
	"github.com/opencampus/student-management-api/pkg/jobs"
	"github.com/opencampus/student-management-api/pkg/storage"
)

type memExportJobStore struct {
	rows map[string]*models.ExportJob
	seq  int
}

func newMemExportJobStore() *memExportJobStore {
	return &memExportJobStore{rows: make(map[string]*models.ExportJob)}
}

func (s *memExportJobStore) Create(ctx context.Context, job *models.ExportJob) error {
	s.seq++
	if job.ID == "" {
		job.ID = fmt.Sprintf("job-%d", s.seq)
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	stored := *job
	s.rows[job.ID] = &stored
	return nil
}

func (s *memExportJobStore) FindByID(ctx context.Context, id string) (*models.ExportJob, error) {
	job, ok := s.rows[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *job
	return &copied, nil
}

func (s *memExportJobStore) Update(ctx context.Context, id string, params repository.UpdateExportJobParams) error {
	job, ok := s.rows[id]
	if !ok {
		return sql.ErrNoRows
	}
	if params.Status != nil {
		job.Status = *params.Status
	}
	if params.Progress != nil {
		job.Progress = *params.Progress
	}
	if params.FilePath != nil {
		job.FilePath = params.FilePath
	}
	if params.ResultURL != nil {
		job.ResultURL = params.ResultURL
	}
	if params.ErrorMessage != nil {
		job.ErrorMessage = params.ErrorMessage
	}
	if params.FinishedAt != nil {
		job.FinishedAt = params.FinishedAt
	}
	return nil
}

func (s *memExportJobStore) ListQueued(ctx context.Context, limit int) ([]models.ExportJob, error) {
	out := make([]models.ExportJob, 0)
	for _, job := range s.rows {
		if job.Status == models.ExportJobStatusQueued {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (s *memExportJobStore) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ExportJob, error) {
	out := make([]models.ExportJob, 0)
	for _, job := range s.rows {
		if job.Status == models.ExportJobStatusFinished && job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			out = append(out, *job)
		}
	}
	return out, nil
}

type fakeDispatcher struct {
	enqueued []jobs.Job
	err      error
}

func (d *fakeDispatcher) Enqueue(job jobs.Job) error {
	if d.err != nil {
		return d.err
	}
	d.enqueued = append(d.enqueued, job)
	return nil
}

type rosterStub struct {
	payload []byte
	err     error
}

func (r rosterStub) ExportEnrollments(ctx context.Context, format string) ([]byte, string, error) {
	if r.err != nil {
		return nil, "", r.err
	}
	return r.payload, "text/csv", nil
}

func exportTestFixture(t *testing.T) (*ExportJobService, *ExportWorker, *memExportJobStore, *fakeDispatcher) {
	t.Helper()
	store := newMemExportJobStore()
	queue := &fakeDispatcher{}
	files, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("test-export-secret", time.Hour)
	cfg := ExportJobConfig{APIPrefix: "/api", ResultTTL: time.Hour, MaxRetries: 2}
	svc := NewExportJobService(store, queue, files, signer, cfg, nil)
	worker := NewExportWorker(store, rosterStub{payload: []byte("ID,Student\n1,Ada Lovelace\n")}, files, signer, cfg, nil)
	return svc, worker, store, queue
}

func TestExportJobLifecycle(t *testing.T) {
	svc, worker, store, queue := exportTestFixture(t)
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, "csv", adminClaims())
	require.NoError(t, err)
	assert.Equal(t, models.ExportJobStatusQueued, job.Status)
	assert.Equal(t, "admin@example.com", job.RequestedBy)
	require.Len(t, queue.enqueued, 1)

	require.NoError(t, worker.Handle(ctx, queue.enqueued[0]))

	finished, err := svc.GetStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExportJobStatusFinished, finished.Status)
	assert.Equal(t, 100, finished.Progress)
	require.NotNil(t, finished.ResultURL)
	assert.True(t, strings.HasPrefix(*finished.ResultURL, "/api/export/"))
	require.NotNil(t, store.rows[job.ID].FilePath)

	token := strings.TrimPrefix(*finished.ResultURL, "/api/export/")
	download, err := svc.ResolveDownload(ctx, token)
	require.NoError(t, err)
	defer download.File.Close()

	content, err := io.ReadAll(download.File)
	require.NoError(t, err)
	assert.Contains(t, string(content), "Ada Lovelace")
	assert.Equal(t, "csv", download.Format)
}

func TestExportJobCreateValidation(t *testing.T) {
	svc, _, _, queue := exportTestFixture(t)

	_, err := svc.CreateJob(context.Background(), "xlsx", adminClaims())
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)

	_, err = svc.CreateJob(context.Background(), "csv", nil)
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErr.Code)

	assert.Empty(t, queue.enqueued)
}

func TestExportJobEnqueueFailureMarksFailed(t *testing.T) {
	svc, _, store, queue := exportTestFixture(t)
	queue.err = errors.New("queue stopped")

	_, err := svc.CreateJob(context.Background(), "csv", adminClaims())
	require.Error(t, err)

	require.Len(t, store.rows, 1)
	for _, job := range store.rows {
		assert.Equal(t, models.ExportJobStatusFailed, job.Status)
		require.NotNil(t, job.ErrorMessage)
	}
}

func TestExportWorkerRetriesThenFails(t *testing.T) {
	svc, _, store, queue := exportTestFixture(t)
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, "csv", adminClaims())
	require.NoError(t, err)

	files, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("test-export-secret", time.Hour)
	cfg := ExportJobConfig{APIPrefix: "/api", MaxRetries: 2}
	worker := NewExportWorker(store, rosterStub{err: errors.New("db down")}, files, signer, cfg, nil)

	// first attempt goes back to the queue
	require.Error(t, worker.Handle(ctx, queue.enqueued[0]))
	assert.Equal(t, models.ExportJobStatusQueued, store.rows[job.ID].Status)
	require.NotNil(t, store.rows[job.ID].ErrorMessage)

	// exhausted attempts mark the job failed
	exhausted := queue.enqueued[0]
	exhausted.Attempt = 2
	require.Error(t, worker.Handle(ctx, exhausted))
	assert.Equal(t, models.ExportJobStatusFailed, store.rows[job.ID].Status)
	require.NotNil(t, store.rows[job.ID].FinishedAt)
}

func TestExportResolveDownloadRejectsBadTokens(t *testing.T) {
	svc, worker, store, queue := exportTestFixture(t)
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, "csv", adminClaims())
	require.NoError(t, err)

	// job still queued
	otherSigner := storage.NewSignedURLSigner("other-secret", time.Hour)
	forged, _, err := otherSigner.Generate(job.ID, "whatever.csv")
	require.NoError(t, err)

	var appErr *appErrors.Error
	_, err = svc.ResolveDownload(ctx, forged)
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)

	require.NoError(t, worker.Handle(ctx, queue.enqueued[0]))
	token := strings.TrimPrefix(*store.rows[job.ID].ResultURL, "/api/export/")

	_, err = svc.ResolveDownload(ctx, token+"tampered")
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)

	_, err = svc.ResolveDownload(ctx, "garbage")
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
}

func TestExportRecoverPendingJobs(t *testing.T) {
	svc, _, store, queue := exportTestFixture(t)
	ctx := context.Background()

	_, err := svc.CreateJob(ctx, "csv", adminClaims())
	require.NoError(t, err)
	_, err = svc.CreateJob(ctx, "pdf", adminClaims())
	require.NoError(t, err)
	queue.enqueued = nil

	svc.RecoverPendingJobs(ctx)
	assert.Len(t, queue.enqueued, 2)
	assert.Len(t, store.rows, 2)
}
