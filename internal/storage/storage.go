// Package storage provides object storage for schema snapshot exports. A
// snapshot is an encoded table blob written under a deterministic key; the
// backend is either S3 or a local directory for development.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrObjectNotFound is returned when the requested object does not exist.
	ErrObjectNotFound = errors.New("object not found")

	// ErrStorageUnavailable is returned when the backend cannot be reached
	// after retries.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// ObjectStorage stores and retrieves snapshot blobs by key.
type ObjectStorage interface {
	// Put writes data under the given key, overwriting any existing object.
	Put(ctx context.Context, key string, data []byte) error

	// Get reads the object at the given key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Exists reports whether an object is stored under the given key.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes the object at the given key. Deleting a missing object
	// is not an error.
	Delete(ctx context.Context, key string) error

	// List returns the keys of all objects whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
