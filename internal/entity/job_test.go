package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		want     bool
	}{
		{StatusPending, StatusClaimed, true},
		{StatusPending, StatusProcessed, false},
		{StatusPending, StatusFailed, false},
		{StatusClaimed, StatusProcessed, true},
		{StatusClaimed, StatusFailed, true},
		{StatusClaimed, StatusPending, true},
		{StatusClaimed, StatusClaimed, true},
		{StatusProcessed, StatusPending, false},
		{StatusProcessed, StatusFailed, false},
		{StatusFailed, StatusClaimed, false},
		{StatusFailed, StatusProcessed, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestTerminalStatusesNeverTransition(t *testing.T) {
	for _, from := range AllStatuses {
		if !from.Terminal() {
			continue
		}
		for _, to := range AllStatuses {
			assert.False(t, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestJobReclaimable(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	claimedAt := now.Add(-6 * time.Minute)
	fresh := now.Add(-1 * time.Minute)

	stale := &Job{Status: StatusClaimed, ClaimedAt: &claimedAt}
	assert.True(t, stale.Reclaimable(now, 5*time.Minute))

	recent := &Job{Status: StatusClaimed, ClaimedAt: &fresh}
	assert.False(t, recent.Reclaimable(now, 5*time.Minute))

	pending := &Job{Status: StatusPending}
	assert.False(t, pending.Reclaimable(now, 5*time.Minute))
}

func TestParseCategory(t *testing.T) {
	c, ok := ParseCategory(" Purchase_Order ")
	assert.True(t, ok)
	assert.Equal(t, CategoryPurchaseOrder, c)

	c, ok = ParseCategory("GRN")
	assert.True(t, ok)
	assert.Equal(t, CategoryGoodsReceipt, c)

	_, ok = ParseCategory("invoice")
	assert.False(t, ok)
}

func TestNewAuditEntryFallsBackToEmptyDetails(t *testing.T) {
	e := NewAuditEntry(TableIngestJobs, "id-1", ActionFailed, "u1", nil)
	assert.JSONEq(t, `{}`, string(e.Details))

	e = NewAuditEntry(TableIngestJobs, "id-1", ActionFailed, "u1", map[string]any{"reason": "x"})
	assert.JSONEq(t, `{"reason":"x"}`, string(e.Details))
}
