package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when a blob does not exist at the requested path.
var ErrNotFound = errors.New("storage: not found")

// Client is a content-addressable blob store keyed by explicit path strings.
// Version paths are append-only: the workflow never overwrites an existing
// signed PDF, and PutIfAbsent gives first-writer-wins semantics for the PKI
// singleton blobs under concurrent first use.
type Client interface {
	Put(ctx context.Context, path string, data []byte) error
	// PutIfAbsent writes data only if no blob exists at path. It reports
	// whether this call created the blob; losing the race is not an error.
	PutIfAbsent(ctx context.Context, path string, data []byte) (bool, error)
	Get(ctx context.Context, path string) ([]byte, error)
	Exists(ctx context.Context, path string) (bool, error)
	MakeDirectory(ctx context.Context, path string) error
	Download(ctx context.Context, path string) (io.ReadCloser, error)
}
