package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pirouette-labs/studio-ledger-api/internal/models"
	"github.com/pirouette-labs/studio-ledger-api/pkg/docstore"
	appErrors "github.com/pirouette-labs/studio-ledger-api/pkg/errors"
)

func newQueuedJob(id, date string) *models.ReportJob {
	return &models.ReportJob{
		ID:     id,
		Type:   models.ReportTypeDaySummary,
		Params: models.ReportJobParams{Date: date, Format: models.ReportFormatCSV},
		Status: models.ReportStatusQueued,
	}
}

func TestReportJobCreateAndGet(t *testing.T) {
	store := docstore.NewMemory()
	repo := NewReportJobRepository(store)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newQueuedJob("job-1", "2026-01-20")))

	job, err := repo.GetByID(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusQueued, job.Status)
	assert.False(t, job.CreatedAt.IsZero())

	// Creating the same id again fails the existence assertion.
	err = repo.Create(ctx, newQueuedJob("job-1", "2026-01-20"))
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
}

func TestReportJobGetAbsent(t *testing.T) {
	repo := NewReportJobRepository(docstore.NewMemory())
	_, err := repo.GetByID(context.Background(), "missing")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestReportJobUpdateAppliesOnlySetFields(t *testing.T) {
	store := docstore.NewMemory()
	repo := NewReportJobRepository(store)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newQueuedJob("job-1", "2026-01-20")))

	processing := models.ReportStatusProcessing
	progress := 10
	require.NoError(t, repo.Update(ctx, "job-1", UpdateReportJobParams{
		Status:   &processing,
		Progress: &progress,
	}))

	job, err := repo.GetByID(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusProcessing, job.Status)
	assert.Equal(t, 10, job.Progress)
	assert.Empty(t, job.ResultURL)

	finished := models.ReportStatusFinished
	url := "/api/v1/exports/tok"
	now := time.Now().UTC()
	require.NoError(t, repo.Update(ctx, "job-1", UpdateReportJobParams{
		Status:     &finished,
		ResultURL:  &url,
		FinishedAt: &now,
	}))

	job, err = repo.GetByID(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusFinished, job.Status)
	assert.Equal(t, url, job.ResultURL)
	// Progress was not in the second update and survives it.
	assert.Equal(t, 10, job.Progress)
	require.NotNil(t, job.FinishedAt)
}

func TestReportJobListQueuedOldestFirst(t *testing.T) {
	store := docstore.NewMemory()
	repo := NewReportJobRepository(store)
	ctx := context.Background()

	older := newQueuedJob("job-a", "2026-01-20")
	older.CreatedAt = time.Date(2026, 1, 18, 9, 0, 0, 0, time.UTC)
	newer := newQueuedJob("job-b", "2026-01-21")
	newer.CreatedAt = time.Date(2026, 1, 19, 9, 0, 0, 0, time.UTC)
	done := newQueuedJob("job-c", "2026-01-22")
	done.Status = models.ReportStatusFinished

	require.NoError(t, repo.Create(ctx, newer))
	require.NoError(t, repo.Create(ctx, older))
	require.NoError(t, repo.Create(ctx, done))

	queued, err := repo.ListQueued(ctx, 10)
	require.NoError(t, err)
	require.Len(t, queued, 2)
	assert.Equal(t, "job-a", queued[0].ID)
	assert.Equal(t, "job-b", queued[1].ID)
}

func TestReportJobListFinishedBefore(t *testing.T) {
	store := docstore.NewMemory()
	repo := NewReportJobRepository(store)
	ctx := context.Background()

	old := newQueuedJob("job-old", "2026-01-10")
	old.Status = models.ReportStatusFinished
	oldFinish := time.Now().Add(-48 * time.Hour)
	old.FinishedAt = &oldFinish

	recent := newQueuedJob("job-recent", "2026-01-19")
	recent.Status = models.ReportStatusFinished
	recentFinish := time.Now()
	recent.FinishedAt = &recentFinish

	require.NoError(t, repo.Create(ctx, old))
	require.NoError(t, repo.Create(ctx, recent))

	expired, err := repo.ListFinishedBefore(ctx, time.Now().Add(-24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "job-old", expired[0].ID)
}
