package postgresql

import "github.com/jackc/pgx/v5/pgxpool"

// Store bundles the repositories over one pool so callers can depend on a
// single value, like the in-memory store.
type Store struct {
	*JobRepository
	*DocumentRepository
	*AuditRepository
	*StatusRepository
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		JobRepository:      NewJobRepository(pool),
		DocumentRepository: NewDocumentRepository(pool),
		AuditRepository:    NewAuditRepository(pool),
		StatusRepository:   NewStatusRepository(pool),
	}
}
