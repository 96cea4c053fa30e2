package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doc-ingest-service/internal/entity"
	"doc-ingest-service/internal/extraction"
	"doc-ingest-service/internal/repository"
	"doc-ingest-service/internal/repository/memory"
	"doc-ingest-service/internal/storage"
)

const poJSON = `{"po_number":"PO-1","supplier_name":"Acme","order_date":"2026-01-05","currency":"EUR",
"lines":[{"description":"bolts","quantity":10,"unit_price":2}]}`

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type env struct {
	store *memory.Store
	files *storage.LocalStore
	clock *testClock
}

func newEnv(t *testing.T) *env {
	t.Helper()
	clk := &testClock{t: time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)}
	files, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	return &env{store: memory.NewStore(memory.WithClock(clk.Now)), files: files, clock: clk}
}

// addJob stores content and registers a PENDING purchase-order job for it.
func (e *env) addJob(t *testing.T, content string, maxAttempts int) *entity.Job {
	t.Helper()
	key := storage.NewKey(string(entity.CategoryPurchaseOrder), e.clock.Now(), "doc.pdf")
	n, err := e.files.Save(context.Background(), key, "application/pdf", strings.NewReader(content), 0)
	require.NoError(t, err)

	j := &entity.Job{
		ID:          uuid.New(),
		BatchID:     uuid.New(),
		Filename:    "doc.pdf",
		StoragePath: key,
		MimeType:    "application/pdf",
		SizeBytes:   n,
		Category:    entity.CategoryPurchaseOrder,
		MaxAttempts: maxAttempts,
		UploadedBy:  "alice",
	}
	require.NoError(t, e.store.CreatePendingBatch(context.Background(), []*entity.Job{j}, entity.AuditEntry{
		TableName: entity.TableUploadBatches, RecordID: j.BatchID.String(), Action: entity.ActionUpload, UserID: "alice",
	}))
	e.clock.Advance(time.Millisecond)
	return j
}

func (e *env) pool(conv extraction.Converter, workerID string) *Pool {
	proc := NewProcessor(e.store, e.files, conv, WithWorkerID(workerID), WithJobTimeout(5*time.Second))
	return NewPool(e.store, proc, nil, PoolConfig{Workers: 4, StaleAfter: 5 * time.Minute, BatchLimit: 100, WorkerID: workerID}, nil)
}

func (e *env) job(t *testing.T, id uuid.UUID) *entity.Job {
	t.Helper()
	j, err := e.store.GetJob(context.Background(), id)
	require.NoError(t, err)
	return j
}

func (e *env) terminalAudits(t *testing.T, id uuid.UUID) int {
	t.Helper()
	entries, err := e.store.ListAudit(context.Background(), entity.TableIngestJobs, id.String())
	require.NoError(t, err)
	n := 0
	for _, a := range entries {
		if a.Action == entity.ActionProcessed || a.Action == entity.ActionFailed {
			n++
		}
	}
	return n
}

// echoConverter returns the file content as the extracted record, with a few
// magic prefixes to simulate collaborator failures.
var echoConverter = extraction.ConverterFunc(func(_ context.Context, data []byte, _, _ string) (json.RawMessage, error) {
	switch {
	case bytes.HasPrefix(data, []byte("PERMANENT")):
		return nil, extraction.Permanent(errors.New("unreadable scan"))
	case bytes.HasPrefix(data, []byte("TRANSIENT")):
		return nil, extraction.Transient(errors.New("upstream 503"))
	case bytes.HasPrefix(data, []byte("PANIC")):
		panic("converter exploded")
	}
	return json.RawMessage(data), nil
})

func TestSweep_OneGoodOneFailingFile(t *testing.T) {
	e := newEnv(t)
	good := e.addJob(t, poJSON, 3)
	bad := e.addJob(t, "PERMANENT scan", 3)

	stats, err := e.pool(echoConverter, "w1").Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Claimed)
	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 1, stats.Failed)

	g := e.job(t, good.ID)
	assert.Equal(t, entity.StatusProcessed, g.Status)
	doc, ok := e.store.DocumentForJob(good.ID)
	require.True(t, ok)
	assert.Equal(t, *g.EntityID, doc.DocumentID())

	b := e.job(t, bad.ID)
	assert.Equal(t, entity.StatusFailed, b.Status)
	require.NotNil(t, b.FailureReason)
	assert.Contains(t, *b.FailureReason, "unreadable scan")
	_, ok = e.store.DocumentForJob(bad.ID)
	assert.False(t, ok)

	assert.Equal(t, 1, e.terminalAudits(t, good.ID))
	assert.Equal(t, 1, e.terminalAudits(t, bad.ID))

	// a further sweep finds nothing to do
	stats, err = e.pool(echoConverter, "w1").Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Listed)
}

func TestSweep_CrashedClaimIsReclaimedAfterStaleWindow(t *testing.T) {
	e := newEnv(t)
	j := e.addJob(t, poJSON, 3)
	ctx := context.Background()

	// worker A claims at T and dies without finalizing
	crashedToken := uuid.New()
	_, ok, err := e.store.TryClaim(ctx, j.ID, crashedToken, 5*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// at T+1min the claim is fresh: worker B leaves it alone
	e.clock.Advance(time.Minute)
	stats, err := e.pool(echoConverter, "w-b").Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Listed)
	assert.Equal(t, entity.StatusClaimed, e.job(t, j.ID).Status)

	// at T+6min it is stale and worker B finishes the job
	e.clock.Advance(5 * time.Minute)
	stats, err = e.pool(echoConverter, "w-b").Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)

	got := e.job(t, j.ID)
	assert.Equal(t, entity.StatusProcessed, got.Status)
	assert.Equal(t, 2, got.Attempts)

	// worker A waking up cannot overwrite the result
	err = e.store.FailJob(ctx, j.ID, crashedToken, "late", entity.AuditEntry{})
	assert.ErrorIs(t, err, repository.ErrClaimLost)
	assert.Equal(t, 1, e.terminalAudits(t, j.ID))
}

func TestSweep_TransientErrorIsRetriedThenSucceeds(t *testing.T) {
	e := newEnv(t)
	j := e.addJob(t, poJSON, 3)

	var calls atomic.Int32
	flaky := extraction.ConverterFunc(func(ctx context.Context, data []byte, mime, prompt string) (json.RawMessage, error) {
		if calls.Add(1) == 1 {
			return nil, extraction.Transient(errors.New("rate limited"))
		}
		return echoConverter(ctx, data, mime, prompt)
	})
	p := e.pool(flaky, "w1")

	stats, err := p.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Released)

	released := e.job(t, j.ID)
	assert.Equal(t, entity.StatusPending, released.Status)
	require.NotNil(t, released.LastError)
	assert.Contains(t, *released.LastError, "rate limited")

	stats, err = p.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, entity.StatusProcessed, e.job(t, j.ID).Status)

	entries, err := e.store.ListAudit(context.Background(), entity.TableIngestJobs, j.ID.String())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, entity.ActionProcessed, entries[0].Action)
	assert.Equal(t, entity.ActionRetry, entries[1].Action)
}

func TestSweep_TransientErrorsExhaustAttempts(t *testing.T) {
	e := newEnv(t)
	j := e.addJob(t, "TRANSIENT", 2)
	p := e.pool(echoConverter, "w1")

	_, err := p.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPending, e.job(t, j.ID).Status)

	stats, err := p.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	got := e.job(t, j.ID)
	assert.Equal(t, entity.StatusFailed, got.Status)
	require.NotNil(t, got.FailureReason)
	assert.True(t, strings.HasPrefix(*got.FailureReason, entity.ReasonRetriesExhausted))
	assert.Equal(t, 1, e.terminalAudits(t, j.ID))
}

func TestSweep_PanicAndMissingFileBecomeFailures(t *testing.T) {
	e := newEnv(t)
	panicky := e.addJob(t, "PANIC", 3)
	missing := e.addJob(t, poJSON, 3)
	require.NoError(t, e.files.Delete(context.Background(), missing.StoragePath))

	stats, err := e.pool(echoConverter, "w1").Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Failed)

	p := e.job(t, panicky.ID)
	assert.Equal(t, entity.StatusFailed, p.Status)
	assert.Contains(t, *p.FailureReason, "panic")

	m := e.job(t, missing.ID)
	assert.Equal(t, entity.StatusFailed, m.Status)
	assert.Contains(t, *m.FailureReason, "read file")
}

func TestSweep_InvalidPayloadIsPermanent(t *testing.T) {
	e := newEnv(t)
	j := e.addJob(t, `{"po_number":"PO-1"}`, 3)

	stats, err := e.pool(echoConverter, "w1").Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, entity.StatusFailed, e.job(t, j.ID).Status)
}

func TestSweep_CompetingPoolsProcessEachJobOnce(t *testing.T) {
	e := newEnv(t)
	var ids []uuid.UUID
	for i := 0; i < 20; i++ {
		ids = append(ids, e.addJob(t, poJSON, 3).ID)
	}

	var converted atomic.Int32
	counting := extraction.ConverterFunc(func(ctx context.Context, data []byte, mime, prompt string) (json.RawMessage, error) {
		converted.Add(1)
		time.Sleep(time.Millisecond)
		return echoConverter(ctx, data, mime, prompt)
	})

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		totals SweepStats
	)
	for _, id := range []string{"w1", "w2", "w3"} {
		wg.Add(1)
		go func(workerID string) {
			defer wg.Done()
			stats, err := e.pool(counting, workerID).Sweep(context.Background())
			assert.NoError(t, err)
			mu.Lock()
			totals.Processed += stats.Processed
			totals.Claimed += stats.Claimed
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 20, totals.Processed)
	assert.Equal(t, 20, totals.Claimed)
	assert.Equal(t, int32(20), converted.Load())
	for _, id := range ids {
		assert.Equal(t, entity.StatusProcessed, e.job(t, id).Status)
		assert.Equal(t, 1, e.terminalAudits(t, id))
	}
}

func TestProcess_ShutdownAbandonsClaim(t *testing.T) {
	e := newEnv(t)
	j := e.addJob(t, poJSON, 3)

	ctx, cancel := context.WithCancel(context.Background())
	blocking := extraction.ConverterFunc(func(ctx context.Context, _ []byte, _, _ string) (json.RawMessage, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	})

	claimed, ok, err := e.store.TryClaim(context.Background(), j.ID, uuid.New(), 5*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	proc := NewProcessor(e.store, e.files, blocking)
	assert.Equal(t, OutcomeAbandoned, proc.Process(ctx, claimed))
	assert.Equal(t, entity.StatusClaimed, e.job(t, j.ID).Status)
	assert.Equal(t, 0, e.terminalAudits(t, j.ID))
}

func TestSweep_FailsExhaustedStaleClaims(t *testing.T) {
	e := newEnv(t)
	j := e.addJob(t, poJSON, 1)

	_, ok, err := e.store.TryClaim(context.Background(), j.ID, uuid.New(), 5*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	e.clock.Advance(10 * time.Minute)

	stats, err := e.pool(echoConverter, "w1").Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Exhausted)

	got := e.job(t, j.ID)
	assert.Equal(t, entity.StatusFailed, got.Status)
	assert.Equal(t, entity.ReasonClaimAbandoned, *got.FailureReason)
	assert.Equal(t, 1, e.terminalAudits(t, j.ID))
}

func TestRun_StopsOnCancel(t *testing.T) {
	e := newEnv(t)
	j := e.addJob(t, poJSON, 3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.pool(echoConverter, "w1").Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return e.job(t, j.ID).Status == entity.StatusProcessed
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop")
	}
}
