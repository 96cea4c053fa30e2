package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doc-ingest-service/internal/entity"
	"doc-ingest-service/internal/repository"
	"doc-ingest-service/internal/repository/memory"
	"doc-ingest-service/internal/service"
)

func seed(t *testing.T, store *memory.Store, category entity.Category) *entity.Job {
	t.Helper()
	j := &entity.Job{
		ID:          uuid.New(),
		BatchID:     uuid.New(),
		Filename:    "a.pdf",
		StoragePath: "k/a.pdf",
		MimeType:    "application/pdf",
		Category:    category,
		MaxAttempts: 3,
		UploadedBy:  "bob",
	}
	require.NoError(t, store.CreatePendingBatch(context.Background(), []*entity.Job{j}, entity.AuditEntry{
		TableName: entity.TableUploadBatches, RecordID: j.BatchID.String(), Action: entity.ActionUpload,
	}))
	return j
}

func TestJobService_GetJob_IncludesDisplayName(t *testing.T) {
	store := memory.NewStore()
	j := seed(t, store, entity.CategoryGoodsReceipt)
	svc := service.NewJobService(store)

	got, err := svc.GetJob(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPending, got.Status)
	assert.Equal(t, "Goods receipt queued", got.StatusName)

	_, err = svc.GetJob(context.Background(), uuid.New())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestJobService_ListJobs_FiltersByCategory(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, entity.CategoryGoodsReceipt)
	po := seed(t, store, entity.CategoryPurchaseOrder)
	svc := service.NewJobService(store)

	got, err := svc.ListJobs(context.Background(), entity.JobFilter{Category: entity.CategoryPurchaseOrder})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, po.ID, got[0].ID)
	assert.Equal(t, "Purchase order queued", got[0].StatusName)
}

func TestJobService_Result(t *testing.T) {
	store := memory.NewStore()
	j := seed(t, store, entity.CategoryPurchaseOrder)
	svc := service.NewJobService(store)
	ctx := context.Background()

	_, err := svc.Result(ctx, j.ID)
	assert.ErrorIs(t, err, service.ErrNotProcessed)

	token := uuid.New()
	_, ok, err := store.TryClaim(ctx, j.ID, token, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	po := &entity.PurchaseOrder{ID: uuid.New(), JobID: j.ID, PONumber: "PO-9", Currency: "EUR"}
	require.NoError(t, store.CompleteJob(ctx, j.ID, token, po, entity.AuditEntry{
		TableName: entity.TableIngestJobs, RecordID: j.ID.String(), Action: entity.ActionProcessed,
	}))

	doc, err := svc.Result(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, po.ID, doc.DocumentID())
}

func TestJobService_AuditAndStatuses(t *testing.T) {
	store := memory.NewStore()
	j := seed(t, store, entity.CategoryPurchaseOrder)
	svc := service.NewJobService(store)
	ctx := context.Background()

	entries, err := svc.Audit(ctx, entity.TableUploadBatches, j.BatchID.String())
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = svc.Audit(ctx, "users", "1")
	assert.ErrorIs(t, err, service.ErrUnknownTable)

	statuses, err := svc.Statuses(ctx, "grn")
	require.NoError(t, err)
	assert.Len(t, statuses, len(entity.AllStatuses))

	_, err = svc.Statuses(ctx, "invoice")
	assert.ErrorIs(t, err, service.ErrUnknownCategory)
}
