package repository

import (
	"context"
	"time"

	"github.com/pirouette-labs/studio-ledger-api/internal/models"
	"github.com/pirouette-labs/studio-ledger-api/pkg/docstore"
	appErrors "github.com/pirouette-labs/studio-ledger-api/pkg/errors"
)

const reportJobsCollection = "reportJobs"

// UpdateReportJobParams carries the mutable fields of a job record.
// Nil pointers leave the field untouched.
type UpdateReportJobParams struct {
	Status       *models.ReportStatus
	Progress     *int
	ResultURL    *string
	ErrorMessage *string
	FinishedAt   *time.Time
}

// ReportJobRepository persists background report jobs as
// reportJobs/{jobId} documents.
type ReportJobRepository struct {
	store docstore.Gateway
}

// NewReportJobRepository constructs a ReportJobRepository.
func NewReportJobRepository(store docstore.Gateway) *ReportJobRepository {
	return &ReportJobRepository{store: store}
}

// Create stores a fresh job record. The id must be new.
func (r *ReportJobRepository) Create(ctx context.Context, job *models.ReportJob) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	body, err := encodeDoc(job)
	if err != nil {
		return err
	}
	_, err = r.store.SetIfRevision(ctx, reportJobsCollection, job.ID, body, 0)
	return err
}

// GetByID loads a job record.
func (r *ReportJobRepository) GetByID(ctx context.Context, id string) (*models.ReportJob, error) {
	doc, err := r.store.Get(ctx, reportJobsCollection, id)
	if err != nil {
		if appErrors.Is(err, appErrors.ErrNotFound) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "report job "+id+" not found")
		}
		return nil, err
	}
	var job models.ReportJob
	if err := decodeDoc(doc.Body, &job); err != nil {
		return nil, err
	}
	job.ID = doc.ID
	return &job, nil
}

// Update applies the non-nil fields and saves the record.
func (r *ReportJobRepository) Update(ctx context.Context, id string, params UpdateReportJobParams) error {
	job, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if params.Status != nil {
		job.Status = *params.Status
	}
	if params.Progress != nil {
		job.Progress = *params.Progress
	}
	if params.ResultURL != nil {
		job.ResultURL = *params.ResultURL
	}
	if params.ErrorMessage != nil {
		job.ErrorMessage = *params.ErrorMessage
	}
	if params.FinishedAt != nil {
		job.FinishedAt = params.FinishedAt
	}
	body, err := encodeDoc(job)
	if err != nil {
		return err
	}
	_, err = r.store.Set(ctx, reportJobsCollection, id, body)
	return err
}

// ListQueued returns jobs still waiting for a worker, oldest first.
func (r *ReportJobRepository) ListQueued(ctx context.Context, limit int) ([]models.ReportJob, error) {
	docs, err := r.store.Query(ctx, reportJobsCollection,
		[]docstore.Predicate{{Field: "status", Value: string(models.ReportStatusQueued)}},
		&docstore.Ordering{Field: "created_at"})
	if err != nil {
		return nil, err
	}
	return r.decodeAll(docs, limit)
}

// ListFinishedBefore returns finished jobs whose files may have aged out.
func (r *ReportJobRepository) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ReportJob, error) {
	docs, err := r.store.Query(ctx, reportJobsCollection,
		[]docstore.Predicate{{Field: "status", Value: string(models.ReportStatusFinished)}},
		&docstore.Ordering{Field: "created_at"})
	if err != nil {
		return nil, err
	}
	jobs, err := r.decodeAll(docs, 0)
	if err != nil {
		return nil, err
	}
	out := make([]models.ReportJob, 0, len(jobs))
	for _, job := range jobs {
		if job.FinishedAt == nil || job.FinishedAt.After(cutoff) {
			continue
		}
		out = append(out, job)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *ReportJobRepository) decodeAll(docs []docstore.Document, limit int) ([]models.ReportJob, error) {
	out := make([]models.ReportJob, 0, len(docs))
	for _, doc := range docs {
		var job models.ReportJob
		if err := decodeDoc(doc.Body, &job); err != nil {
			return nil, err
		}
		job.ID = doc.ID
		out = append(out, job)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
