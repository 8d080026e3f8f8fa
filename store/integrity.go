package store

import (
	artifactstore "github.com/taskgrid/artifact-store"
)

// verify reports whether the file at path still matches key.
//
// Fast path: if the file's birth and modification timestamps are equal, the
// file is assumed untouched since creation and therefore intact; no content
// is read. Slow path: re-hash the content and compare digests.
//
// The fast path is a heuristic, not a security control: a writer that
// preserves the timestamps, or a filesystem that reports none, slips past
// it. On platforms without birth-time support the slow path is the only
// path.
func (s *FileStore) verify(key artifactstore.Key, path string) bool {
	if birth, mod, ok := fileTimes(path); ok && birth.Equal(mod) {
		return true
	}

	actual, err := artifactstore.KeyFromFile(path)
	if err != nil {
		return false
	}
	return actual == key
}
