package postgresql

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"doc-ingest-service/internal/entity"
)

// AuditRepository is read-only: entries are appended by the job transactions
// that cause them and never updated or deleted.
type AuditRepository struct {
	pool *pgxpool.Pool
}

func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

func (r *AuditRepository) ListAudit(ctx context.Context, table, recordID string) ([]entity.AuditEntry, error) {
	const q = `
SELECT id, table_name, record_id, action, user_id, details, created_at
FROM audit_trail
WHERE table_name = $1 AND record_id = $2
ORDER BY created_at DESC, id DESC;
`
	rows, err := r.pool.Query(ctx, q, table, recordID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (entity.AuditEntry, error) {
		var e entity.AuditEntry
		err := row.Scan(&e.ID, &e.TableName, &e.RecordID, &e.Action, &e.UserID, &e.Details, &e.CreatedAt)
		return e, err
	})
}

func insertAudit(ctx context.Context, q dbtx, e entity.AuditEntry) error {
	const ins = `
INSERT INTO audit_trail (table_name, record_id, action, user_id, details)
VALUES ($1, $2, $3, $4, $5);
`
	details := e.Details
	if len(details) == 0 {
		details = []byte(`{}`)
	}
	_, err := q.Exec(ctx, ins, e.TableName, e.RecordID, e.Action, e.UserID, details)
	return err
}
