package store

import (
	"context"
	"errors"
	"io"
	"time"

	artifactstore "github.com/taskgrid/artifact-store"
	"github.com/taskgrid/artifact-store/telemetry"
)

// InstrumentedStore wraps a Store with metrics recording.
type InstrumentedStore struct {
	store Store
}

// NewInstrumentedStore creates a new instrumented store wrapper.
func NewInstrumentedStore(s Store) *InstrumentedStore {
	return &InstrumentedStore{store: s}
}

func (is *InstrumentedStore) Store(ctx context.Context, key artifactstore.Key, content io.Reader) error {
	start := time.Now()
	cr := &countingReader{r: content}
	err := is.store.Store(ctx, key, cr)
	telemetry.RecordStoreOp(ctx, "store", outcomeFromError(err), time.Since(start), cr.n)
	return err
}

func (is *InstrumentedStore) Get(ctx context.Context, key artifactstore.Key) (string, error) {
	start := time.Now()
	path, err := is.store.Get(ctx, key)
	telemetry.RecordStoreOp(ctx, "get", outcomeFromError(err), time.Since(start), 0)
	return path, err
}

func (is *InstrumentedStore) Has(ctx context.Context, key artifactstore.Key) (bool, error) {
	start := time.Now()
	ok, err := is.store.Has(ctx, key)
	telemetry.RecordStoreOp(ctx, "has", outcomeFromError(err), time.Since(start), 0)
	return ok, err
}

func (is *InstrumentedStore) Persist(ctx context.Context, key artifactstore.Key) error {
	start := time.Now()
	err := is.store.Persist(ctx, key)
	telemetry.RecordStoreOp(ctx, "persist", outcomeFromError(err), time.Since(start), 0)
	return err
}

func outcomeFromError(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "miss"
	default:
		return "error"
	}
}

// countingReader counts bytes as they flow through.
type countingReader struct {
	r io.Reader
	n int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += int64(n)
	return n, err
}

// Compile-time interface check
var _ Store = (*InstrumentedStore)(nil)
