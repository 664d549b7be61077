package storage

import (
	"context"
	"io"
)

// ObjectStorage is the object store used for submission archives.
type ObjectStorage interface {
	// PutObject uploads size bytes from reader. A negative size streams until EOF.
	PutObject(ctx context.Context, bucket, objectKey string, reader io.Reader, size int64, contentType string) error

	// GetObject opens a reader for an object. Caller must close the returned reader.
	GetObject(ctx context.Context, bucket, objectKey string) (io.ReadCloser, error)
}
