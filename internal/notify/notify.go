// Package notify carries "jobs pending" nudges from the upload path to the
// pollers. Nudges only shorten pickup latency: a lost nudge is harmless since
// pollers also sweep on a timer.
package notify

import (
	"context"

	"github.com/google/uuid"
)

type Notifier interface {
	Notify(ctx context.Context, batchID uuid.UUID) error
}

type Source interface {
	// Nudges delivers at most one pending signal at a time until ctx ends.
	Nudges(ctx context.Context) <-chan struct{}
}

// Local is an in-process notifier for a worker running inside the API binary.
type Local struct {
	ch chan struct{}
}

func NewLocal() *Local {
	return &Local{ch: make(chan struct{}, 1)}
}

func (l *Local) Notify(_ context.Context, _ uuid.UUID) error {
	select {
	case l.ch <- struct{}{}:
	default: // a nudge is already pending
	}
	return nil
}

func (l *Local) Nudges(_ context.Context) <-chan struct{} {
	return l.ch
}

// Nop drops every nudge.
type Nop struct{}

func (Nop) Notify(context.Context, uuid.UUID) error { return nil }

func (Nop) Nudges(context.Context) <-chan struct{} { return nil }
