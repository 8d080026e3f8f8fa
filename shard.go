package artifactstore

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Sharded path layout.
//
// A key's on-disk location is derived purely from its hex form: the first
// hex byte names a first-level directory, the second a subdirectory, and the
// full hex string names the file. This spreads entries over up to 256x256
// buckets so no single directory accumulates tens of thousands of files.

// ShardedPath returns the relative filesystem path for a key.
// Format: {hex[:2]}/{hex[2:4]}/{hex}
func ShardedPath(k Key) string {
	hex := k.String()
	return filepath.Join(hex[:2], hex[2:4], hex)
}

// ParseShardedPath extracts a Key from a relative sharded path as produced
// by ShardedPath. The shard directories must match the key's own prefix.
func ParseShardedPath(path string) (Key, error) {
	parts := strings.Split(filepath.ToSlash(path), "/")
	if len(parts) != 3 {
		return Key{}, fmt.Errorf("invalid sharded path: %s", path)
	}
	k, err := ParseKey(parts[2])
	if err != nil {
		return Key{}, fmt.Errorf("invalid key in sharded path %s: %w", path, err)
	}
	hex := k.String()
	if parts[0] != hex[:2] || parts[1] != hex[2:4] {
		return Key{}, fmt.Errorf("shard directories do not match key: %s", path)
	}
	return k, nil
}
