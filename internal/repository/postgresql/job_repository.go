package postgresql

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"doc-ingest-service/internal/entity"
	"doc-ingest-service/internal/repository"
)

// Every mutation after the claim is guarded by this predicate: the row must
// still be CLAIMED under the caller's token.
const claimGuard = `status = 'CLAIMED' AND claim_token = $2`

const jobColumns = `id, batch_id, filename, storage_path, mime_type, size_bytes, status, category,
failure_reason, last_error, attempts, max_attempts, claim_token, claimed_at, entity_id,
uploaded_by, created_at, updated_at, finished_at`

type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

// CreatePendingBatch inserts every job as PENDING together with the batch
// audit entry. Either all rows become visible or none do.
func (r *JobRepository) CreatePendingBatch(ctx context.Context, jobs []*entity.Job, audit entity.AuditEntry) error {
	const q = `
INSERT INTO ingest_jobs (id, batch_id, filename, storage_path, mime_type, size_bytes, status, category,
                         attempts, max_attempts, uploaded_by)
VALUES ($1, $2, $3, $4, $5, $6, 'PENDING', $7, 0, $8, $9)
RETURNING status, created_at, updated_at;
`
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, j := range jobs {
			j := j
			batch.Queue(q, j.ID, j.BatchID, j.Filename, j.StoragePath, j.MimeType, j.SizeBytes,
				string(j.Category), j.MaxAttempts, j.UploadedBy,
			).QueryRow(func(row pgx.Row) error {
				var status string
				if err := row.Scan(&status, &j.CreatedAt, &j.UpdatedAt); err != nil {
					return err
				}
				j.Status = entity.JobStatus(status)
				return nil
			})
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert jobs: %w", err)
		}
		return insertAudit(ctx, tx, audit)
	})
}

// TryClaim atomically moves a PENDING job, or a CLAIMED job whose claim is
// older than staleAfter, to CLAIMED under token. The bool is false when
// another worker won or the job is not claimable.
func (r *JobRepository) TryClaim(ctx context.Context, id, token uuid.UUID, staleAfter time.Duration) (*entity.Job, bool, error) {
	q := `
UPDATE ingest_jobs
SET status = 'CLAIMED', claim_token = $2, claimed_at = now(), attempts = attempts + 1, updated_at = now()
WHERE id = $1
  AND attempts < max_attempts
  AND (status = 'PENDING' OR (status = 'CLAIMED' AND claimed_at < now() - make_interval(secs => $3)))
RETURNING ` + jobColumns + `;`

	job, err := scanJob(r.pool.QueryRow(ctx, q, id, token, seconds(staleAfter)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return job, true, nil
}

// CompleteJob marks the job PROCESSED, materializes doc and records audit in
// one transaction. A token mismatch persists nothing and yields ErrClaimLost.
func (r *JobRepository) CompleteJob(ctx context.Context, id, token uuid.UUID, doc entity.Document, audit entity.AuditEntry) error {
	q := `
UPDATE ingest_jobs
SET status = 'PROCESSED', entity_id = $3, failure_reason = NULL, finished_at = now(), updated_at = now()
WHERE id = $1 AND ` + claimGuard + `;`

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, q, id, token, doc.DocumentID())
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return repository.ErrClaimLost
		}
		if err := insertDocument(ctx, tx, doc); err != nil {
			if isUniqueViolation(err) {
				return repository.ErrClaimLost
			}
			return fmt.Errorf("insert %s: %w", doc.Category(), err)
		}
		return insertAudit(ctx, tx, audit)
	})
}

func (r *JobRepository) FailJob(ctx context.Context, id, token uuid.UUID, reason string, audit entity.AuditEntry) error {
	q := `
UPDATE ingest_jobs
SET status = 'FAILED', failure_reason = $3, finished_at = now(), updated_at = now()
WHERE id = $1 AND ` + claimGuard + `;`

	return r.guardedWithAudit(ctx, q, audit, id, token, reason)
}

// ReleaseJob returns a job to PENDING after a transient failure, clearing
// the claim so the next sweep can pick it up again.
func (r *JobRepository) ReleaseJob(ctx context.Context, id, token uuid.UUID, lastError string, audit entity.AuditEntry) error {
	q := `
UPDATE ingest_jobs
SET status = 'PENDING', last_error = $3, claim_token = NULL, claimed_at = NULL, updated_at = now()
WHERE id = $1 AND ` + claimGuard + ` AND attempts < max_attempts;`

	return r.guardedWithAudit(ctx, q, audit, id, token, lastError)
}

func (r *JobRepository) guardedWithAudit(ctx context.Context, q string, audit entity.AuditEntry, args ...any) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, q, args...)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return repository.ErrClaimLost
		}
		return insertAudit(ctx, tx, audit)
	})
}

// FailExhausted forces stale claims with no attempts left to FAILED, one
// audit entry per job, and returns the affected ids.
func (r *JobRepository) FailExhausted(ctx context.Context, staleAfter time.Duration, workerID string) ([]uuid.UUID, error) {
	const q = `
UPDATE ingest_jobs
SET status = 'FAILED', failure_reason = $2, finished_at = now(), updated_at = now()
WHERE status = 'CLAIMED'
  AND claimed_at < now() - make_interval(secs => $1)
  AND attempts >= max_attempts
RETURNING id, uploaded_by, attempts;
`
	var ids []uuid.UUID
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, q, seconds(staleAfter), entity.ReasonClaimAbandoned)
		if err != nil {
			return err
		}

		type exhausted struct {
			id       uuid.UUID
			user     string
			attempts int
		}
		var found []exhausted
		for rows.Next() {
			var e exhausted
			if err := rows.Scan(&e.id, &e.user, &e.attempts); err != nil {
				rows.Close()
				return err
			}
			found = append(found, e)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, e := range found {
			audit := entity.NewAuditEntry(entity.TableIngestJobs, e.id.String(), entity.ActionFailed, e.user, map[string]any{
				"reason":    entity.ReasonClaimAbandoned,
				"attempts":  e.attempts,
				"worker_id": workerID,
			})
			if err := insertAudit(ctx, tx, audit); err != nil {
				return err
			}
			ids = append(ids, e.id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ListClaimable returns ids of PENDING jobs and stale CLAIMED jobs that still
// have attempts left, oldest first.
func (r *JobRepository) ListClaimable(ctx context.Context, staleAfter time.Duration, limit int) ([]uuid.UUID, error) {
	const q = `
SELECT id
FROM ingest_jobs
WHERE attempts < max_attempts
  AND (status = 'PENDING' OR (status = 'CLAIMED' AND claimed_at < now() - make_interval(secs => $1)))
ORDER BY created_at, id
LIMIT $2;
`
	rows, err := r.pool.Query(ctx, q, seconds(staleAfter), limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func (r *JobRepository) GetJob(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM ingest_jobs WHERE id = $1;`

	job, err := scanJob(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

func (r *JobRepository) ListJobs(ctx context.Context, f entity.JobFilter) ([]*entity.Job, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.Category != "" {
		add("category = $%d", string(f.Category))
	}
	if f.BatchID != uuid.Nil {
		add("batch_id = $%d", f.BatchID)
	}

	q := `SELECT ` + jobColumns + ` FROM ingest_jobs WHERE 1=1`
	if len(where) > 0 {
		q += " AND " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id"

	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*entity.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func scanJob(row pgx.Row) (*entity.Job, error) {
	var (
		job      entity.Job
		status   string
		category string
	)
	if err := row.Scan(
		&job.ID,
		&job.BatchID,
		&job.Filename,
		&job.StoragePath,
		&job.MimeType,
		&job.SizeBytes,
		&status,
		&category,
		&job.FailureReason, // NULL => nil
		&job.LastError,
		&job.Attempts,
		&job.MaxAttempts,
		&job.ClaimToken,
		&job.ClaimedAt,
		&job.EntityID,
		&job.UploadedBy,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.FinishedAt,
	); err != nil {
		return nil, err
	}
	job.Status = entity.JobStatus(status)
	job.Category = entity.Category(category)
	return &job, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
