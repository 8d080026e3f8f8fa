// Package store implements the persistent content-addressed file store that
// backs the taskgrid execution engine. Files are kept under a sharded
// directory layout keyed by their content digest, with a single JSON
// metadata mirror and an OS-level exclusive lock per base directory.
package store

import (
	"context"
	"errors"
	"io"

	artifactstore "github.com/taskgrid/artifact-store"
)

// ErrNotFound is returned when a key has no backing file in the store.
var ErrNotFound = errors.New("store: not found")

// Store is the interface the execution-graph collaborator consumes.
// Implementations serialize mutations internally; callers may share one
// instance across goroutines.
type Store interface {
	// Store places content under key. If the key's backing file already
	// exists the content is drained without writing; by contract equal keys
	// mean equal bytes.
	Store(ctx context.Context, key artifactstore.Key, content io.Reader) error

	// Get returns the on-disk path for key, extending its lifetime.
	// Returns ErrNotFound if the backing file is absent or was evicted as
	// corrupted.
	Get(ctx context.Context, key artifactstore.Key) (string, error)

	// Has reports whether key has an intact backing file. Unlike Get it
	// never extends the entry's lifetime, though it may still evict a
	// corrupted entry.
	Has(ctx context.Context, key artifactstore.Key) (bool, error)

	// Persist extends the lifetime of key's entry.
	// Returns ErrNotFound if the backing file does not exist.
	Persist(ctx context.Context, key artifactstore.Key) error
}
