// Package extraction turns raw source files into structured records. The
// conversion itself is delegated to a Converter; this package owns the prompt,
// the per-category payload schema and decoding into typed documents.
package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

type Kind int

const (
	KindTransient Kind = iota + 1
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	}
	return "unknown"
}

// Error classifies a conversion failure. Transient failures are retried,
// permanent ones fail the job immediately.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s extraction error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func Transient(err error) error {
	return &Error{Kind: KindTransient, Err: err}
}

func Permanent(err error) error {
	return &Error{Kind: KindPermanent, Err: err}
}

// IsTransient reports whether err, or anything it wraps, is a transient
// extraction error. Unclassified errors count as permanent.
func IsTransient(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindTransient
}

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrInvalidPayload    = errors.New("invalid payload")
)

// Converter extracts a structured JSON record from file bytes.
type Converter interface {
	Convert(ctx context.Context, data []byte, mimeType, prompt string) (json.RawMessage, error)
}

type ConverterFunc func(ctx context.Context, data []byte, mimeType, prompt string) (json.RawMessage, error)

func (f ConverterFunc) Convert(ctx context.Context, data []byte, mimeType, prompt string) (json.RawMessage, error) {
	return f(ctx, data, mimeType, prompt)
}
