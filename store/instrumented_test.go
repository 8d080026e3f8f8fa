package store

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	artifactstore "github.com/taskgrid/artifact-store"
)

// fakeStore records calls for wrapper tests.
type fakeStore struct {
	storeErr   error
	getPath    string
	getErr     error
	hasResult  bool
	persistErr error
	calls      []string
	drained    int64
}

func (f *fakeStore) Store(ctx context.Context, key artifactstore.Key, content io.Reader) error {
	f.calls = append(f.calls, "store")
	n, _ := io.Copy(io.Discard, content)
	f.drained = n
	return f.storeErr
}

func (f *fakeStore) Get(ctx context.Context, key artifactstore.Key) (string, error) {
	f.calls = append(f.calls, "get")
	return f.getPath, f.getErr
}

func (f *fakeStore) Has(ctx context.Context, key artifactstore.Key) (bool, error) {
	f.calls = append(f.calls, "has")
	return f.hasResult, nil
}

func (f *fakeStore) Persist(ctx context.Context, key artifactstore.Key) error {
	f.calls = append(f.calls, "persist")
	return f.persistErr
}

func TestInstrumentedStoreDelegates(t *testing.T) {
	ctx := context.Background()
	fake := &fakeStore{getPath: "/some/path", hasResult: true}
	is := NewInstrumentedStore(fake)

	key := artifactstore.KeyFromBytes([]byte("instrumented"))
	content := []byte("counted bytes")

	require.NoError(t, is.Store(ctx, key, bytes.NewReader(content)))
	require.Equal(t, int64(len(content)), fake.drained)

	path, err := is.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, "/some/path", path)

	ok, err := is.Has(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, is.Persist(ctx, key))

	require.Equal(t, []string{"store", "get", "has", "persist"}, fake.calls)
}

func TestOutcomeFromError(t *testing.T) {
	require.Equal(t, "ok", outcomeFromError(nil))
	require.Equal(t, "miss", outcomeFromError(ErrNotFound))
	require.Equal(t, "error", outcomeFromError(io.ErrUnexpectedEOF))
}
