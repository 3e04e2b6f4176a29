// Package artifacts stores plugin archives. Two backends are provided:
// a local filesystem store for development and an S3-compatible object
// store for production.
package artifacts

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when no archive exists under a key
var ErrNotFound = errors.New("artifact not found")

// Storage persists plugin archives
type Storage interface {
	// Store writes an archive and returns its public download URL
	Store(ctx context.Context, key string, data []byte) (string, error)
	// Get opens an archive for reading
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Exists reports whether an archive is present
	Exists(ctx context.Context, key string) (bool, error)
	// Delete removes an archive
	Delete(ctx context.Context, key string) error
}
