package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"doc-ingest-service/internal/entity"
	"doc-ingest-service/internal/extraction"
	"doc-ingest-service/internal/repository"
	"doc-ingest-service/internal/storage"
)

// JobStore is the part of the job store the worker side needs.
type JobStore interface {
	TryClaim(ctx context.Context, id, token uuid.UUID, staleAfter time.Duration) (*entity.Job, bool, error)
	CompleteJob(ctx context.Context, id, token uuid.UUID, doc entity.Document, audit entity.AuditEntry) error
	FailJob(ctx context.Context, id, token uuid.UUID, reason string, audit entity.AuditEntry) error
	ReleaseJob(ctx context.Context, id, token uuid.UUID, lastError string, audit entity.AuditEntry) error
	FailExhausted(ctx context.Context, staleAfter time.Duration, workerID string) ([]uuid.UUID, error)
	ListClaimable(ctx context.Context, staleAfter time.Duration, limit int) ([]uuid.UUID, error)
}

type Outcome int

const (
	OutcomeProcessed Outcome = iota + 1
	OutcomeFailed
	OutcomeReleased
	// OutcomeLost means another worker owns the job now; nothing was written.
	OutcomeLost
	// OutcomeAbandoned leaves the job CLAIMED; the stale-claim rule recovers it.
	OutcomeAbandoned
)

func (o Outcome) String() string {
	switch o {
	case OutcomeProcessed:
		return "processed"
	case OutcomeFailed:
		return "failed"
	case OutcomeReleased:
		return "released"
	case OutcomeLost:
		return "lost"
	case OutcomeAbandoned:
		return "abandoned"
	}
	return "unknown"
}

const (
	defaultJobTimeout   = 2 * time.Minute
	defaultMaxFileBytes = 20 << 20
	finalizeTimeout     = 15 * time.Second
	maxReasonLen        = 1000
)

type Processor struct {
	store        JobStore
	files        storage.FileStore
	converter    extraction.Converter
	workerID     string
	jobTimeout   time.Duration
	maxFileBytes int64
	logger       *slog.Logger
}

type ProcessorOption func(*Processor)

func WithJobTimeout(d time.Duration) ProcessorOption {
	return func(p *Processor) {
		if d > 0 {
			p.jobTimeout = d
		}
	}
}

func WithMaxFileBytes(n int64) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.maxFileBytes = n
		}
	}
}

func WithWorkerID(id string) ProcessorOption {
	return func(p *Processor) { p.workerID = id }
}

func WithLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

func NewProcessor(store JobStore, files storage.FileStore, converter extraction.Converter, opts ...ProcessorOption) *Processor {
	p := &Processor{
		store:        store,
		files:        files,
		converter:    converter,
		workerID:     "worker",
		jobTimeout:   defaultJobTimeout,
		maxFileBytes: defaultMaxFileBytes,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs one claimed job to a terminal state, or releases it for a
// retry. job must carry the claim token returned by TryClaim. Errors never
// escape: every path ends in an Outcome.
func (p *Processor) Process(ctx context.Context, job *entity.Job) (outcome Outcome) {
	start := time.Now()
	log := p.logger.With("job_id", job.ID, "worker_id", p.workerID, "attempt", job.Attempts, "category", job.Category)

	if job.ClaimToken == nil {
		log.Error("job.process.no_claim_token")
		return OutcomeLost
	}
	token := *job.ClaimToken

	defer func() {
		if r := recover(); r != nil {
			log.Error("job.process.panic", "panic", r)
			outcome = p.fail(ctx, log, job, token, fmt.Sprintf("panic: %v", r))
		}
		log.Info("job.process.done", "outcome", outcome.String(), "duration_ms", time.Since(start).Milliseconds())
	}()

	jobCtx, cancel := context.WithTimeout(ctx, p.jobTimeout)
	defer cancel()

	data, err := p.readFile(jobCtx, job.StoragePath)
	if err != nil {
		if ctx.Err() != nil {
			return OutcomeAbandoned
		}
		return p.fail(ctx, log, job, token, fmt.Sprintf("read file: %v", err))
	}

	raw, err := p.converter.Convert(jobCtx, data, job.MimeType, extraction.BuildPrompt(job.Category))
	if err != nil {
		if ctx.Err() != nil {
			return OutcomeAbandoned
		}
		if extraction.IsTransient(err) || errors.Is(err, context.DeadlineExceeded) {
			return p.retryOrFail(ctx, log, job, token, err)
		}
		return p.fail(ctx, log, job, token, fmt.Sprintf("extraction: %v", err))
	}

	doc, err := extraction.Decode(job.Category, job.ID, job.UploadedBy, raw)
	if err != nil {
		return p.fail(ctx, log, job, token, err.Error())
	}

	audit := entity.NewAuditEntry(entity.TableIngestJobs, job.ID.String(), entity.ActionProcessed, job.UploadedBy, map[string]any{
		"worker_id":   p.workerID,
		"attempt":     job.Attempts,
		"entity_type": string(doc.Category()),
		"entity_id":   doc.DocumentID().String(),
		"duration_ms": time.Since(start).Milliseconds(),
	})

	fctx, fcancel := finalizeContext(ctx)
	defer fcancel()

	err = p.store.CompleteJob(fctx, job.ID, token, doc, audit)
	switch {
	case err == nil:
		log.Info("job.processed", "entity_id", doc.DocumentID())
		return OutcomeProcessed
	case errors.Is(err, repository.ErrClaimLost):
		log.Warn("job.claim_lost", "stage", "complete")
		return OutcomeLost
	default:
		return p.fail(ctx, log, job, token, fmt.Sprintf("persist: %v", err))
	}
}

func (p *Processor) retryOrFail(ctx context.Context, log *slog.Logger, job *entity.Job, token uuid.UUID, cause error) Outcome {
	if !job.AttemptsLeft() {
		return p.fail(ctx, log, job, token, fmt.Sprintf("%s: %v", entity.ReasonRetriesExhausted, cause))
	}

	msg := truncate(cause.Error())
	audit := entity.NewAuditEntry(entity.TableIngestJobs, job.ID.String(), entity.ActionRetry, job.UploadedBy, map[string]any{
		"worker_id": p.workerID,
		"attempt":   job.Attempts,
		"error":     msg,
	})

	fctx, cancel := finalizeContext(ctx)
	defer cancel()

	if err := p.store.ReleaseJob(fctx, job.ID, token, msg, audit); err != nil {
		if errors.Is(err, repository.ErrClaimLost) {
			log.Warn("job.claim_lost", "stage", "release")
			return OutcomeLost
		}
		log.Error("job.release.error", "err", err)
		return OutcomeAbandoned
	}
	log.Warn("job.released", "err", msg, "attempts_left", job.MaxAttempts-job.Attempts)
	return OutcomeReleased
}

func (p *Processor) fail(ctx context.Context, log *slog.Logger, job *entity.Job, token uuid.UUID, reason string) Outcome {
	reason = truncate(reason)
	audit := entity.NewAuditEntry(entity.TableIngestJobs, job.ID.String(), entity.ActionFailed, job.UploadedBy, map[string]any{
		"worker_id": p.workerID,
		"attempt":   job.Attempts,
		"reason":    reason,
	})

	fctx, cancel := finalizeContext(ctx)
	defer cancel()

	if err := p.store.FailJob(fctx, job.ID, token, reason, audit); err != nil {
		if errors.Is(err, repository.ErrClaimLost) {
			log.Warn("job.claim_lost", "stage", "fail")
			return OutcomeLost
		}
		log.Error("job.fail.error", "reason", reason, "err", err)
		return OutcomeAbandoned
	}
	log.Warn("job.failed", "reason", reason)
	return OutcomeFailed
}

func (p *Processor) readFile(ctx context.Context, key string) ([]byte, error) {
	rc, err := p.files.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, p.maxFileBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > p.maxFileBytes {
		return nil, storage.ErrTooLarge
	}
	return data, nil
}

// finalizeContext lets a finished job record its result even when shutdown
// has cancelled ctx, bounded by finalizeTimeout.
func finalizeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
}

func truncate(s string) string {
	if len(s) <= maxReasonLen {
		return s
	}
	return s[:maxReasonLen]
}
