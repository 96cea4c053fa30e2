package entity

import (
	"encoding/json"
	"time"
)

const (
	TableIngestJobs    = "ingest_jobs"
	TableUploadBatches = "upload_batches"
)

const (
	ActionUpload    = "UPLOAD"
	ActionRetry     = "RETRY"
	ActionProcessed = "PROCESSED"
	ActionFailed    = "FAILED"
)

// AuditEntry is an append-only record of a state change.
type AuditEntry struct {
	ID        int64           `json:"id"`
	TableName string          `json:"table_name"`
	RecordID  string          `json:"record_id"`
	Action    string          `json:"action"`
	UserID    string          `json:"user_id"`
	Details   json.RawMessage `json:"details"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewAuditEntry marshals details; a details value that cannot be encoded is
// replaced by an empty object so the audit write itself never fails on it.
func NewAuditEntry(table, recordID, action, userID string, details any) AuditEntry {
	raw, err := json.Marshal(details)
	if err != nil || details == nil {
		raw = json.RawMessage(`{}`)
	}
	return AuditEntry{
		TableName: table,
		RecordID:  recordID,
		Action:    action,
		UserID:    userID,
		Details:   raw,
	}
}
