package entity

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	StatusPending   JobStatus = "PENDING"
	StatusClaimed   JobStatus = "CLAIMED"
	StatusProcessed JobStatus = "PROCESSED"
	StatusFailed    JobStatus = "FAILED"
)

// Failure reasons written by the pipeline itself rather than by extraction.
const (
	ReasonRetriesExhausted = "retries exhausted"
	ReasonClaimAbandoned   = "claim abandoned: attempts exhausted"
)

// AllStatuses lists every status code a job can hold.
var AllStatuses = []JobStatus{StatusPending, StatusClaimed, StatusProcessed, StatusFailed}

func (s JobStatus) Valid() bool {
	switch s {
	case StatusPending, StatusClaimed, StatusProcessed, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition may leave s.
func (s JobStatus) Terminal() bool {
	return s == StatusProcessed || s == StatusFailed
}

// CanTransition encodes the per-job state machine:
//
//	PENDING -> CLAIMED
//	CLAIMED -> CLAIMED   (stale reclaim under a new token)
//	CLAIMED -> PENDING   (released after a transient failure)
//	CLAIMED -> PROCESSED | FAILED
func CanTransition(from, to JobStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusClaimed
	case StatusClaimed:
		return to == StatusClaimed || to == StatusPending || to == StatusProcessed || to == StatusFailed
	}
	return false
}

type Job struct {
	ID            uuid.UUID  `json:"id"`
	BatchID       uuid.UUID  `json:"batch_id"`
	Filename      string     `json:"filename"`
	StoragePath   string     `json:"storage_path"`
	MimeType      string     `json:"mime_type"`
	SizeBytes     int64      `json:"size_bytes"`
	Status        JobStatus  `json:"status"`
	Category      Category   `json:"category"`
	FailureReason *string    `json:"failure_reason,omitempty"`
	LastError     *string    `json:"last_error,omitempty"`
	Attempts      int        `json:"attempts"`
	MaxAttempts   int        `json:"max_attempts"`
	ClaimToken    *uuid.UUID `json:"-"`
	ClaimedAt     *time.Time `json:"claimed_at,omitempty"`
	EntityID      *uuid.UUID `json:"entity_id,omitempty"`
	UploadedBy    string     `json:"uploaded_by"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// AttemptsLeft reports whether another claim is allowed after the current one.
func (j *Job) AttemptsLeft() bool {
	return j.Attempts < j.MaxAttempts
}

// Reclaimable reports whether a claim held by j has gone stale at now.
func (j *Job) Reclaimable(now time.Time, staleAfter time.Duration) bool {
	if j.Status != StatusClaimed || j.ClaimedAt == nil {
		return false
	}
	return j.ClaimedAt.Before(now.Add(-staleAfter))
}

// JobFilter narrows job listings. Zero values mean "any".
type JobFilter struct {
	Status   JobStatus
	Category Category
	BatchID  uuid.UUID
	Limit    int
	Offset   int
}
