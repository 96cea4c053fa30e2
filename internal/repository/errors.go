// Package repository holds the errors shared by every job store driver.
package repository

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// ErrClaimLost is returned by guarded mutations when the job is no longer
	// CLAIMED under the caller's token: another worker reclaimed it or it
	// already reached a terminal state.
	ErrClaimLost = errors.New("claim lost")
)
