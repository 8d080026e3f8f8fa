package reaper

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	artifactstore "github.com/taskgrid/artifact-store"
	"github.com/taskgrid/artifact-store/store"
)

func TestRunOnceReapsExpired(t *testing.T) {
	ctx := context.Background()

	s, err := store.Open(t.TempDir(), store.WithPersistDuration(time.Minute))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	key := artifactstore.KeyFromBytes([]byte("short lived"))
	require.NoError(t, s.Store(ctx, key, bytes.NewReader([]byte("short lived"))))

	mgr := NewManager(s, Config{Interval: time.Hour})

	// Before the window lapses, nothing to do.
	result := mgr.RunOnce(ctx)
	require.Equal(t, 0, result.Reaped)

	// Sweep from the future.
	mgr.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	result = mgr.RunOnce(ctx)
	require.Equal(t, 1, result.Reaped)

	ok, err := s.Has(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRunOnceRemovesOrphanedTempFiles(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()

	s, err := store.Open(base)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	// Simulate a crash mid-write: a stale temp file in a shard directory.
	shard := filepath.Join(base, "ab", "cd")
	require.NoError(t, os.MkdirAll(shard, 0o755))
	stale := filepath.Join(shard, ".tmp-12345")
	require.NoError(t, os.WriteFile(stale, []byte("partial"), 0o644))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	// A fresh temp file must survive, it may be an in-flight write.
	fresh := filepath.Join(shard, ".tmp-67890")
	require.NoError(t, os.WriteFile(fresh, []byte("in flight"), 0o644))

	mgr := NewManager(s, Config{Interval: time.Hour})
	mgr.RunOnce(ctx)

	_, err = os.Stat(stale)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	require.NoError(t, err)
}

func TestStartStop(t *testing.T) {
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	mgr := NewManager(s, Config{Interval: time.Hour})
	mgr.Start(context.Background())
	mgr.Stop()

	// Stop after Stop is a no-op.
	mgr.Stop()
}
