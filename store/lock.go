package store

import (
	"fmt"
	"log/slog"

	"github.com/gofrs/flock"
)

// acquireLock takes the whole-store advisory lock on the metadata file.
// If another process holds it, a warning is logged once and the call blocks
// until the lock is available. Only cooperating FileStore instances are
// guaranteed to respect the lock.
func acquireLock(path string, logger *slog.Logger) (*flock.Flock, error) {
	fl := flock.New(path)

	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking store: %w", err)
	}
	if !locked {
		logger.Warn("store locked by another process, waiting", "path", path)
		if err := fl.Lock(); err != nil {
			return nil, fmt.Errorf("locking store: %w", err)
		}
	}
	return fl, nil
}
