package postgresql

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"doc-ingest-service/internal/entity"
	"doc-ingest-service/internal/repository"
)

type StatusRepository struct {
	pool *pgxpool.Pool
}

func NewStatusRepository(pool *pgxpool.Pool) *StatusRepository {
	return &StatusRepository{pool: pool}
}

// FindStatus looks a status up by its full (code, category) key.
func (r *StatusRepository) FindStatus(ctx context.Context, code entity.JobStatus, category entity.Category) (*entity.Status, error) {
	const q = `
SELECT code, category, display_name
FROM job_statuses
WHERE code = $1 AND category = $2;
`
	var (
		s      entity.Status
		c, cat string
	)
	if err := r.pool.QueryRow(ctx, q, string(code), string(category)).Scan(&c, &cat, &s.DisplayName); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	s.Code = entity.JobStatus(c)
	s.Category = entity.Category(cat)
	return &s, nil
}

// ListStatuses returns the reference rows for one category, or all of them
// when category is empty.
func (r *StatusRepository) ListStatuses(ctx context.Context, category entity.Category) ([]entity.Status, error) {
	const q = `
SELECT code, category, display_name
FROM job_statuses
WHERE $1 = '' OR category = $1
ORDER BY category, code;
`
	rows, err := r.pool.Query(ctx, q, string(category))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (entity.Status, error) {
		var (
			s      entity.Status
			c, cat string
		)
		err := row.Scan(&c, &cat, &s.DisplayName)
		s.Code = entity.JobStatus(c)
		s.Category = entity.Category(cat)
		return s, err
	})
}
