// Package blobstore abstracts object storage for card images and for
// mirroring checkpoint artifacts off the local disk.
package blobstore

import (
	"context"
	"io"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations return an error satisfying errors.Is(err, ErrNotFound).
// The default maps to os.ErrNotExist.
var ErrNotFound = os.ErrNotExist

// Store is an abstraction over object storage.
//
// Names are forward-slash separated keys relative to the store root.
type Store interface {
	// Put writes a blob. size is the content length, or -1 when unknown.
	Put(ctx context.Context, name string, r io.Reader, size int64) error

	// Get opens a blob for reading. The caller closes the reader.
	Get(ctx context.Context, name string) (io.ReadCloser, error)

	// Exists reports whether a blob is present without fetching it.
	Exists(ctx context.Context, name string) (bool, error)

	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error

	// List returns all blob names with the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}
