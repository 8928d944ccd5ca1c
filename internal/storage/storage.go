// Package storage provides temporary and persistent file storage for rendered
// tracks. It defines the Storage interface (port) and implementations for
// local disk and S3.
package storage

import (
	"context"
	"io"
)

// Storage defines the interface for temporary and persistent file storage.
// Tracks are encoded into a reserved temp file, served from disk, and
// optionally uploaded to S3 for delivery.
type Storage interface {
	// CreateTemp reserves an empty temporary file and returns its path.
	// name is used as a filename hint and ext (e.g. ".wav") as the suffix.
	CreateTemp(ctx context.Context, name, ext string) (path string, err error)

	// LoadTemp reads a temporary file and returns a reader.
	// The caller is responsible for closing the returned ReadCloser.
	LoadTemp(ctx context.Context, path string) (io.ReadCloser, error)

	// CleanupTemp removes the specified temporary files.
	// It continues cleanup even if some files fail to delete.
	CleanupTemp(ctx context.Context, paths []string) error

	// UploadToS3 uploads data to S3 and returns the public URL.
	// Returns ErrS3NotConfigured if S3 is not configured.
	UploadToS3(ctx context.Context, key string, data io.Reader) (url string, err error)
}
