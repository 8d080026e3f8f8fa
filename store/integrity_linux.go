package store

import (
	"time"

	"golang.org/x/sys/unix"
)

// fileTimes returns the birth and modification timestamps for path via
// statx. ok is false when the call fails or the filesystem does not report
// a birth time, in which case the caller must fall back to re-hashing.
func fileTimes(path string) (birth, mod time.Time, ok bool) {
	var stx unix.Statx_t
	if err := unix.Statx(unix.AT_FDCWD, path, 0, unix.STATX_BTIME|unix.STATX_MTIME, &stx); err != nil {
		return time.Time{}, time.Time{}, false
	}
	if stx.Mask&unix.STATX_BTIME == 0 || stx.Mask&unix.STATX_MTIME == 0 {
		return time.Time{}, time.Time{}, false
	}
	birth = time.Unix(stx.Btime.Sec, int64(stx.Btime.Nsec))
	mod = time.Unix(stx.Mtime.Sec, int64(stx.Mtime.Nsec))
	return birth, mod, true
}
