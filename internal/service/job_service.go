package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"doc-ingest-service/internal/entity"
	"doc-ingest-service/internal/repository"
)

var (
	ErrNotProcessed = errors.New("job is not processed")
	ErrUnknownTable = errors.New("unknown audit table")
)

// JobReader is the query side of the job store (implementations:
// postgresql.Store, memory.Store).
type JobReader interface {
	GetJob(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	ListJobs(ctx context.Context, f entity.JobFilter) ([]*entity.Job, error)
	FindStatus(ctx context.Context, code entity.JobStatus, category entity.Category) (*entity.Status, error)
	ListStatuses(ctx context.Context, category entity.Category) ([]entity.Status, error)
	ListAudit(ctx context.Context, table, recordID string) ([]entity.AuditEntry, error)
	GetDocument(ctx context.Context, category entity.Category, id uuid.UUID) (entity.Document, error)
}

type JobService struct {
	repo JobReader
}

func NewJobService(repo JobReader) *JobService {
	return &JobService{repo: repo}
}

// JobView is a job plus the display name of its (status, category) pair.
type JobView struct {
	*entity.Job
	StatusName string `json:"status_name"`
}

func (s *JobService) GetJob(ctx context.Context, id uuid.UUID) (*JobView, error) {
	j, err := s.repo.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	view := &JobView{Job: j}
	st, err := s.repo.FindStatus(ctx, j.Status, j.Category)
	switch {
	case err == nil:
		view.StatusName = st.DisplayName
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("find status: %w", err)
	}
	return view, nil
}

func (s *JobService) ListJobs(ctx context.Context, f entity.JobFilter) ([]JobView, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 50
	}
	jobs, err := s.repo.ListJobs(ctx, f)
	if err != nil {
		return nil, err
	}

	statuses, err := s.repo.ListStatuses(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list statuses: %w", err)
	}
	names := make(map[[2]string]string, len(statuses))
	for _, st := range statuses {
		names[[2]string{string(st.Code), string(st.Category)}] = st.DisplayName
	}

	out := make([]JobView, len(jobs))
	for i, j := range jobs {
		out[i] = JobView{Job: j, StatusName: names[[2]string{string(j.Status), string(j.Category)}]}
	}
	return out, nil
}

func (s *JobService) Statuses(ctx context.Context, category string) ([]entity.Status, error) {
	if category == "" {
		return s.repo.ListStatuses(ctx, "")
	}
	c, ok := entity.ParseCategory(category)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	return s.repo.ListStatuses(ctx, c)
}

func (s *JobService) Audit(ctx context.Context, table, recordID string) ([]entity.AuditEntry, error) {
	if table != entity.TableIngestJobs && table != entity.TableUploadBatches {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	return s.repo.ListAudit(ctx, table, recordID)
}

// Result returns the entity a PROCESSED job materialized.
func (s *JobService) Result(ctx context.Context, id uuid.UUID) (entity.Document, error) {
	j, err := s.repo.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.Status != entity.StatusProcessed || j.EntityID == nil {
		return nil, fmt.Errorf("%w: status %s", ErrNotProcessed, j.Status)
	}
	return s.repo.GetDocument(ctx, j.Category, *j.EntityID)
}
