// Package storage keeps uploaded source files. Files are write-once: a key is
// never overwritten, and the only removal path is rollback of a failed upload.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrTooLarge   = errors.New("file exceeds size limit")
	ErrNotFound   = errors.New("file not found")
	ErrInvalidKey = errors.New("invalid storage key")
	ErrExists     = errors.New("file already exists")
)

type FileStore interface {
	// Save streams r under key and returns the number of bytes written.
	// A body longer than maxBytes (when > 0) yields ErrTooLarge and leaves nothing behind.
	Save(ctx context.Context, key, contentType string, r io.Reader, maxBytes int64) (int64, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// NewKey builds "<category>/<YYYY>/<MM>/<DD>/<uuid><ext>" for the given
// ingestion time. Only the extension of the original name survives.
func NewKey(category string, at time.Time, originalName string) string {
	at = at.UTC()
	return path.Join(
		category,
		fmt.Sprintf("%04d", at.Year()),
		fmt.Sprintf("%02d", int(at.Month())),
		fmt.Sprintf("%02d", at.Day()),
		uuid.NewString()+SanitizeExt(originalName),
	)
}

// SanitizeExt returns the lower-cased extension of name when it is short and
// purely alphanumeric, otherwise "".
func SanitizeExt(name string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(name)))
	if len(ext) < 2 || len(ext) > 10 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return ErrInvalidKey
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return ErrInvalidKey
		}
	}
	return nil
}

// limitedReader fails with ErrTooLarge once more than max bytes were read.
type limitedReader struct {
	r   io.Reader
	max int64
	n   int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.n += int64(n)
	if l.max > 0 && l.n > l.max {
		return n, ErrTooLarge
	}
	return n, err
}
