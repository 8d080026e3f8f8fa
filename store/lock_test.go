package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOpenBlocksWhileLocked(t *testing.T) {
	base := t.TempDir()

	first, err := Open(base)
	require.NoError(t, err)

	opened := make(chan *FileStore, 1)
	errCh := make(chan error, 1)
	go func() {
		s, err := Open(base)
		if err != nil {
			errCh <- err
			return
		}
		opened <- s
	}()

	// The second open must block while the first instance holds the lock.
	select {
	case <-opened:
		t.Fatal("second open succeeded while lock was held")
	case err := <-errCh:
		t.Fatalf("second open failed: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	require.NoError(t, first.Close())

	select {
	case s := <-opened:
		require.NoError(t, s.Close())
	case err := <-errCh:
		t.Fatalf("second open failed: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("second open never acquired the lock")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}
