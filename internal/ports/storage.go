package ports

import (
	"context"
	"io"
)

type PutObjectInput struct {
	ObjectKey   string
	ContentType string
	Reader      io.Reader
	Size        int64
}

type PutObjectOutput struct {
	// localfs returns the same object key; gdrive returns the Drive file ID.
	ObjectKey string
	Size      int64
}

// ArtifactStore receives a copy of every successful render when archiving is
// enabled. Implementations: localfs, gdrive.
type ArtifactStore interface {
	Provider() string

	PutObject(ctx context.Context, in PutObjectInput) (PutObjectOutput, error)

	// Check verifies the store is reachable and writable. Used by /health.
	Check(ctx context.Context) error
}
