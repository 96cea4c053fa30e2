package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"doc-ingest-service/internal/entity"
	"doc-ingest-service/internal/notify"
	"doc-ingest-service/internal/storage"
)

var (
	ErrNoFiles         = errors.New("upload contains no files")
	ErrUnknownCategory = errors.New("unknown category")
	ErrTooManyFiles    = errors.New("too many files in upload")
)

// BatchCreator is the write side the upload path needs (implementations:
// postgresql.JobRepository, memory.Store).
type BatchCreator interface {
	CreatePendingBatch(ctx context.Context, jobs []*entity.Job, audit entity.AuditEntry) error
}

// Part is one file of an upload. Body is read exactly once.
type Part struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// PartFunc yields the next file part, or io.EOF after the last one.
type PartFunc func() (*Part, error)

type UploadRequest struct {
	Category string
	UserID   string
	Next     PartFunc
}

type JobSummary struct {
	ID       uuid.UUID `json:"id"`
	Filename string    `json:"filename"`
	MimeType string    `json:"mime_type"`
	Size     int64     `json:"size_bytes"`
}

type UploadResult struct {
	BatchID uuid.UUID    `json:"batch_id"`
	Count   int          `json:"count"`
	Jobs    []JobSummary `json:"jobs"`
}

type IngestConfig struct {
	MaxFiles     int
	MaxFileBytes int64
	MaxAttempts  int
}

type IngestService struct {
	store    BatchCreator
	files    storage.FileStore
	notifier notify.Notifier
	cfg      IngestConfig
	now      func() time.Time
	logger   *slog.Logger
}

func NewIngestService(store BatchCreator, files storage.FileStore, notifier notify.Notifier, cfg IngestConfig, logger *slog.Logger) *IngestService {
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = 100
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestService{store: store, files: files, notifier: notifier, cfg: cfg, now: time.Now, logger: logger}
}

// Ingest stores every part and then records one PENDING job per file in a
// single transaction. On any error the files written so far are removed and
// no job is created.
func (s *IngestService) Ingest(ctx context.Context, req UploadRequest) (_ *UploadResult, err error) {
	category, ok := entity.ParseCategory(req.Category)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, req.Category)
	}

	batchID := uuid.New()
	at := s.now().UTC()
	log := s.logger.With("batch_id", batchID, "category", category, "user_id", req.UserID)

	var (
		written []string
		jobs    []*entity.Job
	)
	defer func() {
		if err != nil && len(written) > 0 {
			s.removeFiles(ctx, log, written)
		}
	}()

	for {
		part, perr := req.Next()
		if errors.Is(perr, io.EOF) {
			break
		}
		if perr != nil {
			return nil, fmt.Errorf("read upload: %w", perr)
		}
		if len(jobs) >= s.cfg.MaxFiles {
			return nil, fmt.Errorf("%w: limit is %d", ErrTooManyFiles, s.cfg.MaxFiles)
		}

		name := cleanFilename(part.Filename)
		key := storage.NewKey(string(category), at, name)
		mimeType, body, derr := detectMIME(part)
		if derr != nil {
			return nil, fmt.Errorf("read %s: %w", name, derr)
		}

		// recorded before Save so a partially written object is removed too
		written = append(written, key)
		n, serr := s.files.Save(ctx, key, mimeType, body, s.cfg.MaxFileBytes)
		if serr != nil {
			return nil, fmt.Errorf("store %s: %w", name, serr)
		}

		jobs = append(jobs, &entity.Job{
			ID:          uuid.New(),
			BatchID:     batchID,
			Filename:    name,
			StoragePath: key,
			MimeType:    mimeType,
			SizeBytes:   n,
			Category:    category,
			MaxAttempts: s.cfg.MaxAttempts,
			UploadedBy:  req.UserID,
		})
	}
	if len(jobs) == 0 {
		return nil, ErrNoFiles
	}

	names := make([]string, len(jobs))
	for i, j := range jobs {
		names[i] = j.Filename
	}
	audit := entity.NewAuditEntry(entity.TableUploadBatches, batchID.String(), entity.ActionUpload, req.UserID, map[string]any{
		"category": category,
		"count":    len(jobs),
		"files":    names,
	})
	if err := s.store.CreatePendingBatch(ctx, jobs, audit); err != nil {
		return nil, fmt.Errorf("create jobs: %w", err)
	}

	if nerr := s.notifier.Notify(ctx, batchID); nerr != nil {
		log.Warn("upload.notify.error", "err", nerr)
	}
	log.Info("upload.accepted", "count", len(jobs))

	res := &UploadResult{BatchID: batchID, Count: len(jobs), Jobs: make([]JobSummary, len(jobs))}
	for i, j := range jobs {
		res.Jobs[i] = JobSummary{ID: j.ID, Filename: j.Filename, MimeType: j.MimeType, Size: j.SizeBytes}
	}
	return res, nil
}

func (s *IngestService) removeFiles(ctx context.Context, log *slog.Logger, keys []string) {
	// the request context may already be gone; cleanup still has to run
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	for _, key := range keys {
		if err := s.files.Delete(cctx, key); err != nil {
			log.Error("upload.rollback.delete_error", "key", key, "err", err)
		}
	}
	log.Warn("upload.rolled_back", "files", len(keys))
}

const sniffLen = 3072

// detectMIME trusts a specific Content-Type from the part header and sniffs
// the leading bytes otherwise. The returned reader replays the sniffed prefix.
func detectMIME(p *Part) (string, io.Reader, error) {
	if mt, _, err := mime.ParseMediaType(p.ContentType); err == nil && mt != "application/octet-stream" {
		return mt, p.Body, nil
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(p.Body, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", nil, err
	}
	head = head[:n]

	mt, _, _ := mime.ParseMediaType(mimetype.Detect(head).String())
	return mt, io.MultiReader(bytes.NewReader(head), p.Body), nil
}

func cleanFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "upload"
	}
	if len(name) > 255 {
		name = name[len(name)-255:]
	}
	return name
}
