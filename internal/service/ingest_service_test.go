package service_test

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doc-ingest-service/internal/entity"
	"doc-ingest-service/internal/repository/memory"
	"doc-ingest-service/internal/service"
	"doc-ingest-service/internal/storage"
)

// ---- fakes ----

// flakyFiles fails the failOn-th Save after writing part of the body.
type flakyFiles struct {
	storage.FileStore
	failOn int
	saves  int
}

func (f *flakyFiles) Save(ctx context.Context, key, contentType string, r io.Reader, maxBytes int64) (int64, error) {
	f.saves++
	if f.saves == f.failOn {
		_, _ = f.FileStore.Save(ctx, key, contentType, io.LimitReader(r, 2), maxBytes)
		return 2, errors.New("disk full")
	}
	return f.FileStore.Save(ctx, key, contentType, r, maxBytes)
}

type failingBatch struct{}

func (failingBatch) CreatePendingBatch(context.Context, []*entity.Job, entity.AuditEntry) error {
	return errors.New("connection reset")
}

type countingNotifier struct {
	calls atomic.Int32
	last  uuid.UUID
}

func (n *countingNotifier) Notify(_ context.Context, batchID uuid.UUID) error {
	n.calls.Add(1)
	n.last = batchID
	return nil
}

// ---- helpers ----

func parts(ps ...*service.Part) service.PartFunc {
	i := 0
	return func() (*service.Part, error) {
		if i >= len(ps) {
			return nil, io.EOF
		}
		i++
		return ps[i-1], nil
	}
}

func filePart(name, contentType, body string) *service.Part {
	return &service.Part{Filename: name, ContentType: contentType, Body: strings.NewReader(body)}
}

func countFiles(t *testing.T, root string) int {
	t.Helper()
	n := 0
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			n++
		}
		return nil
	})
	require.NoError(t, err)
	return n
}

func newLocal(t *testing.T) (*storage.LocalStore, string) {
	t.Helper()
	root := t.TempDir()
	files, err := storage.NewLocalStore(root)
	require.NoError(t, err)
	return files, root
}

// ---- tests ----

func TestIngest_CreatesPendingJobsAndNudges(t *testing.T) {
	files, root := newLocal(t)
	store := memory.NewStore()
	notifier := &countingNotifier{}
	svc := service.NewIngestService(store, files, notifier, service.IngestConfig{MaxAttempts: 4}, nil)

	res, err := svc.Ingest(context.Background(), service.UploadRequest{
		Category: "po",
		UserID:   "alice",
		Next: parts(
			filePart("a.pdf", "application/pdf", "%PDF-1.4 first"),
			filePart("b.png", "image/png", "png bytes"),
		),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, 2, countFiles(t, root))
	assert.Equal(t, int32(1), notifier.calls.Load())
	assert.Equal(t, res.BatchID, notifier.last)

	for _, js := range res.Jobs {
		j, err := store.GetJob(context.Background(), js.ID)
		require.NoError(t, err)
		assert.Equal(t, entity.StatusPending, j.Status)
		assert.Equal(t, entity.CategoryPurchaseOrder, j.Category)
		assert.Equal(t, res.BatchID, j.BatchID)
		assert.Equal(t, 4, j.MaxAttempts)
		assert.Equal(t, "alice", j.UploadedBy)
		assert.True(t, strings.HasPrefix(j.StoragePath, "purchase-order/"))
		assert.Equal(t, filepath.Ext(js.Filename), filepath.Ext(j.StoragePath))
	}

	audit, err := store.ListAudit(context.Background(), entity.TableUploadBatches, res.BatchID.String())
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, entity.ActionUpload, audit[0].Action)
	assert.Equal(t, "alice", audit[0].UserID)
}

func TestIngest_FailedSecondWriteLeavesNothingBehind(t *testing.T) {
	local, root := newLocal(t)
	files := &flakyFiles{FileStore: local, failOn: 2}
	store := memory.NewStore()
	notifier := &countingNotifier{}
	svc := service.NewIngestService(store, files, notifier, service.IngestConfig{}, nil)

	_, err := svc.Ingest(context.Background(), service.UploadRequest{
		Category: "purchase-order",
		UserID:   "alice",
		Next: parts(
			filePart("1.pdf", "application/pdf", "one"),
			filePart("2.pdf", "application/pdf", "two"),
			filePart("3.pdf", "application/pdf", "three"),
		),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	assert.Equal(t, 0, countFiles(t, root))
	jobs, err := store.ListJobs(context.Background(), entity.JobFilter{})
	require.NoError(t, err)
	assert.Empty(t, jobs)
	assert.Equal(t, int32(0), notifier.calls.Load())
}

func TestIngest_FailedInsertRemovesFiles(t *testing.T) {
	files, root := newLocal(t)
	svc := service.NewIngestService(failingBatch{}, files, nil, service.IngestConfig{}, nil)

	_, err := svc.Ingest(context.Background(), service.UploadRequest{
		Category: "grn",
		Next:     parts(filePart("a.pdf", "application/pdf", "x"), filePart("b.pdf", "application/pdf", "y")),
	})
	require.Error(t, err)
	assert.Equal(t, 0, countFiles(t, root))
}

func TestIngest_RejectsBadRequests(t *testing.T) {
	cases := []struct {
		name     string
		category string
		next     service.PartFunc
		want     error
	}{
		{"no files", "po", parts(), service.ErrNoFiles},
		{"unknown category", "invoice", parts(filePart("a.pdf", "", "x")), service.ErrUnknownCategory},
		{"too many files", "po", parts(
			filePart("a.pdf", "", "x"), filePart("b.pdf", "", "y"), filePart("c.pdf", "", "z"),
		), service.ErrTooManyFiles},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			files, root := newLocal(t)
			svc := service.NewIngestService(memory.NewStore(), files, nil, service.IngestConfig{MaxFiles: 2}, nil)

			_, err := svc.Ingest(context.Background(), service.UploadRequest{Category: tc.category, Next: tc.next})
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, 0, countFiles(t, root))
		})
	}
}

func TestIngest_SniffsMissingContentType(t *testing.T) {
	files, _ := newLocal(t)
	store := memory.NewStore()
	svc := service.NewIngestService(store, files, nil, service.IngestConfig{}, nil)

	body := "%PDF-1.4\n" + strings.Repeat("x", 5000)
	res, err := svc.Ingest(context.Background(), service.UploadRequest{
		Category: "po",
		Next:     parts(filePart("scan", "application/octet-stream", body)),
	})
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", res.Jobs[0].MimeType)
	assert.Equal(t, int64(len(body)), res.Jobs[0].Size)

	j, err := store.GetJob(context.Background(), res.Jobs[0].ID)
	require.NoError(t, err)
	rc, err := files.Open(context.Background(), j.StoragePath)
	require.NoError(t, err)
	defer rc.Close()
	stored, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, body, string(stored))
}

func TestIngest_OversizedFileIsRejected(t *testing.T) {
	files, root := newLocal(t)
	svc := service.NewIngestService(memory.NewStore(), files, nil, service.IngestConfig{MaxFileBytes: 4}, nil)

	_, err := svc.Ingest(context.Background(), service.UploadRequest{
		Category: "po",
		Next:     parts(filePart("a.pdf", "application/pdf", "ok"), filePart("b.pdf", "application/pdf", "too long")),
	})
	assert.ErrorIs(t, err, storage.ErrTooLarge)
	assert.Equal(t, 0, countFiles(t, root))
}
