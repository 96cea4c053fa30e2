// Package memory is a process-local job store with the same claim and
// finalize semantics as the Postgres repositories. It backs STORE_DRIVER=memory
// and the pipeline tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"doc-ingest-service/internal/entity"
	"doc-ingest-service/internal/repository"
)

type Option func(*Store)

// WithClock replaces time.Now, which lets tests move past the stale window.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

type Store struct {
	mu sync.Mutex

	now      func() time.Time
	jobs     map[uuid.UUID]*entity.Job
	docs     map[uuid.UUID]entity.Document // by entity id
	docByJob map[uuid.UUID]uuid.UUID
	audit    []entity.AuditEntry
	statuses map[statusKey]entity.Status
}

type statusKey struct {
	code     entity.JobStatus
	category entity.Category
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		now:      time.Now,
		jobs:     make(map[uuid.UUID]*entity.Job),
		docs:     make(map[uuid.UUID]entity.Document),
		docByJob: make(map[uuid.UUID]uuid.UUID),
		statuses: make(map[statusKey]entity.Status),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, c := range entity.AllCategories {
		for _, code := range entity.AllStatuses {
			s.statuses[statusKey{code, c}] = entity.Status{Code: code, Category: c, DisplayName: defaultDisplayName(code, c)}
		}
	}
	return s
}

func defaultDisplayName(code entity.JobStatus, c entity.Category) string {
	subject := "Purchase order"
	if c == entity.CategoryGoodsReceipt {
		subject = "Goods receipt"
	}
	switch code {
	case entity.StatusPending:
		return subject + " queued"
	case entity.StatusClaimed:
		return subject + " in extraction"
	case entity.StatusProcessed:
		return subject + " recorded"
	default:
		return subject + " rejected"
	}
}

func (s *Store) CreatePendingBatch(_ context.Context, jobs []*entity.Job, audit entity.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[uuid.UUID]struct{}, len(jobs))
	for _, j := range jobs {
		if _, ok := s.statuses[statusKey{entity.StatusPending, j.Category}]; !ok {
			return fmt.Errorf("insert jobs: unknown status (%s, %s)", entity.StatusPending, j.Category)
		}
		if _, dup := s.jobs[j.ID]; dup {
			return fmt.Errorf("insert jobs: duplicate id %s", j.ID)
		}
		if _, dup := seen[j.ID]; dup {
			return fmt.Errorf("insert jobs: duplicate id %s", j.ID)
		}
		if j.MaxAttempts <= 0 {
			return fmt.Errorf("insert jobs: max_attempts must be positive")
		}
		seen[j.ID] = struct{}{}
	}

	now := s.now()
	for _, j := range jobs {
		j.Status = entity.StatusPending
		j.Attempts = 0
		j.CreatedAt = now
		j.UpdatedAt = now
		s.jobs[j.ID] = cloneJob(j)
	}
	s.appendAudit(audit)
	return nil
}

func (s *Store) TryClaim(_ context.Context, id, token uuid.UUID, staleAfter time.Duration) (*entity.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, false, nil
	}
	now := s.now()
	if !s.claimable(j, now, staleAfter) {
		return nil, false, nil
	}

	j.Status = entity.StatusClaimed
	j.ClaimToken = &token
	j.ClaimedAt = &now
	j.Attempts++
	j.UpdatedAt = now
	return cloneJob(j), true, nil
}

func (s *Store) claimable(j *entity.Job, now time.Time, staleAfter time.Duration) bool {
	if !j.AttemptsLeft() {
		return false
	}
	return j.Status == entity.StatusPending || j.Reclaimable(now, staleAfter)
}

// guarded returns the job when it is still CLAIMED under token.
func (s *Store) guarded(id, token uuid.UUID) (*entity.Job, error) {
	j, ok := s.jobs[id]
	if !ok || j.Status != entity.StatusClaimed || j.ClaimToken == nil || *j.ClaimToken != token {
		return nil, repository.ErrClaimLost
	}
	return j, nil
}

func (s *Store) CompleteJob(_ context.Context, id, token uuid.UUID, doc entity.Document, audit entity.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.guarded(id, token)
	if err != nil {
		return err
	}
	if _, exists := s.docByJob[id]; exists {
		return repository.ErrClaimLost
	}

	now := s.now()
	entityID := doc.DocumentID()
	switch d := doc.(type) {
	case *entity.PurchaseOrder:
		d.CreatedAt = now
	case *entity.GoodsReceipt:
		d.CreatedAt = now
	default:
		return fmt.Errorf("unsupported document type %T", doc)
	}

	j.Status = entity.StatusProcessed
	j.EntityID = &entityID
	j.FailureReason = nil
	j.FinishedAt = &now
	j.UpdatedAt = now

	s.docs[entityID] = doc
	s.docByJob[id] = entityID
	s.appendAudit(audit)
	return nil
}

func (s *Store) FailJob(_ context.Context, id, token uuid.UUID, reason string, audit entity.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.guarded(id, token)
	if err != nil {
		return err
	}
	now := s.now()
	j.Status = entity.StatusFailed
	j.FailureReason = &reason
	j.FinishedAt = &now
	j.UpdatedAt = now
	s.appendAudit(audit)
	return nil
}

func (s *Store) ReleaseJob(_ context.Context, id, token uuid.UUID, lastError string, audit entity.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.guarded(id, token)
	if err != nil {
		return err
	}
	if !j.AttemptsLeft() {
		return repository.ErrClaimLost
	}
	j.Status = entity.StatusPending
	j.LastError = &lastError
	j.ClaimToken = nil
	j.ClaimedAt = nil
	j.UpdatedAt = s.now()
	s.appendAudit(audit)
	return nil
}

func (s *Store) FailExhausted(_ context.Context, staleAfter time.Duration, workerID string) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var ids []uuid.UUID
	for _, j := range s.sortedJobs() {
		if !j.Reclaimable(now, staleAfter) || j.AttemptsLeft() {
			continue
		}
		reason := entity.ReasonClaimAbandoned
		j.Status = entity.StatusFailed
		j.FailureReason = &reason
		j.FinishedAt = &now
		j.UpdatedAt = now
		s.appendAudit(entity.NewAuditEntry(entity.TableIngestJobs, j.ID.String(), entity.ActionFailed, j.UploadedBy, map[string]any{
			"reason":    reason,
			"attempts":  j.Attempts,
			"worker_id": workerID,
		}))
		ids = append(ids, j.ID)
	}
	return ids, nil
}

func (s *Store) ListClaimable(_ context.Context, staleAfter time.Duration, limit int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var ids []uuid.UUID
	for _, j := range s.sortedJobs() {
		if limit > 0 && len(ids) >= limit {
			break
		}
		if s.claimable(j, now, staleAfter) {
			ids = append(ids, j.ID)
		}
	}
	return ids, nil
}

func (s *Store) GetJob(_ context.Context, id uuid.UUID) (*entity.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneJob(j), nil
}

func (s *Store) ListJobs(_ context.Context, f entity.JobFilter) ([]*entity.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.sortedJobs()
	var out []*entity.Job
	// newest first, matching the SQL listing
	for i := len(all) - 1; i >= 0; i-- {
		j := all[i]
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		if f.Category != "" && j.Category != f.Category {
			continue
		}
		if f.BatchID != uuid.Nil && j.BatchID != f.BatchID {
			continue
		}
		out = append(out, cloneJob(j))
	}

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) FindStatus(_ context.Context, code entity.JobStatus, category entity.Category) (*entity.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.statuses[statusKey{code, category}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &st, nil
}

func (s *Store) ListStatuses(_ context.Context, category entity.Category) ([]entity.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []entity.Status
	for _, st := range s.statuses {
		if category == "" || st.Category == category {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].Category != out[k].Category {
			return out[i].Category < out[k].Category
		}
		return out[i].Code < out[k].Code
	})
	return out, nil
}

func (s *Store) ListAudit(_ context.Context, table, recordID string) ([]entity.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []entity.AuditEntry
	for i := len(s.audit) - 1; i >= 0; i-- {
		e := s.audit[i]
		if e.TableName == table && e.RecordID == recordID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) GetDocument(_ context.Context, category entity.Category, id uuid.UUID) (entity.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok || doc.Category() != category {
		return nil, repository.ErrNotFound
	}
	return doc, nil
}

// DocumentForJob reports the entity materialized for jobID, if any.
func (s *Store) DocumentForJob(jobID uuid.UUID) (entity.Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.docByJob[jobID]
	if !ok {
		return nil, false
	}
	return s.docs[id], true
}

func (s *Store) appendAudit(e entity.AuditEntry) {
	e.ID = int64(len(s.audit) + 1)
	e.CreatedAt = s.now()
	if len(e.Details) == 0 {
		e.Details = []byte(`{}`)
	}
	s.audit = append(s.audit, e)
}

// sortedJobs returns live pointers ordered oldest first. Callers hold mu.
func (s *Store) sortedJobs() []*entity.Job {
	out := make([]*entity.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.Before(out[k].CreatedAt)
		}
		return out[i].ID.String() < out[k].ID.String()
	})
	return out
}

func cloneJob(j *entity.Job) *entity.Job {
	c := *j
	if j.FailureReason != nil {
		v := *j.FailureReason
		c.FailureReason = &v
	}
	if j.LastError != nil {
		v := *j.LastError
		c.LastError = &v
	}
	if j.ClaimToken != nil {
		v := *j.ClaimToken
		c.ClaimToken = &v
	}
	if j.ClaimedAt != nil {
		v := *j.ClaimedAt
		c.ClaimedAt = &v
	}
	if j.EntityID != nil {
		v := *j.EntityID
		c.EntityID = &v
	}
	if j.FinishedAt != nil {
		v := *j.FinishedAt
		c.FinishedAt = &v
	}
	return &c
}
