package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	artifactstore "github.com/taskgrid/artifact-store"
)

const (
	// infoFileName is the metadata mirror at the root of the base directory.
	infoFileName = "store_info"

	// DefaultPersistDuration is how long a file must stay on disk after an
	// access before it becomes eligible for reclamation.
	DefaultPersistDuration = 10 * time.Minute

	// readOnlyMode is the permission set applied to content files once
	// published. Content-addressed files are immutable by contract.
	readOnlyMode os.FileMode = 0o444
)

// FileStore manages a content-addressed storage directory. It owns the base
// directory, holds an exclusive advisory lock for its lifetime, and keeps a
// write-through metadata mirror consistent with the filesystem.
//
// Exactly one live FileStore may exist per base directory across all
// processes; within a process every operation is serialized by an internal
// mutex, so a single instance is safe to share across goroutines.
type FileStore struct {
	basePath       string
	logger         *slog.Logger
	persistFor     time.Duration
	checkIntegrity bool
	now            func() time.Time

	mu     sync.Mutex
	lock   *flock.Flock
	info   *os.File
	data   *storeData
	closed bool
}

// Option configures a FileStore.
type Option func(*FileStore)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *FileStore) {
		s.logger = logger
	}
}

// WithPersistDuration sets how long entries stay alive after each access.
func WithPersistDuration(d time.Duration) Option {
	return func(s *FileStore) {
		s.persistFor = d
	}
}

// WithIntegrityCheck enables or disables corruption checking on Get and Has.
// Enabled by default.
func WithIntegrityCheck(enabled bool) Option {
	return func(s *FileStore) {
		s.checkIntegrity = enabled
	}
}

// Open creates a FileStore over the given base directory, creating it if
// needed. It blocks until the whole-store lock is acquired, then loads the
// metadata mirror, dropping entries whose backing file has disappeared.
func Open(basePath string, opts ...Option) (*FileStore, error) {
	s := &FileStore{
		basePath:       basePath,
		logger:         slog.Default(),
		persistFor:     DefaultPersistDuration,
		checkIntegrity: true,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	abs, err := filepath.Abs(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("resolving base path: %w", err)
	}
	s.basePath = abs

	if err := os.MkdirAll(s.basePath, 0o755); err != nil {
		return nil, fmt.Errorf("creating base directory: %w", err)
	}

	infoPath := filepath.Join(s.basePath, infoFileName)
	if _, err := os.Stat(infoPath); errors.Is(err, os.ErrNotExist) {
		seed, err := json.Marshal(newStoreData())
		if err != nil {
			return nil, fmt.Errorf("encoding metadata: %w", err)
		}
		if err := os.WriteFile(infoPath, seed, 0o644); err != nil {
			return nil, fmt.Errorf("creating metadata file: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("checking metadata file: %w", err)
	}

	lock, err := acquireLock(infoPath, s.logger)
	if err != nil {
		return nil, err
	}

	info, err := os.OpenFile(infoPath, os.O_RDWR, 0)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("opening metadata file: %w", err)
	}

	data, err := loadStoreData(info, s.basePath)
	if err != nil {
		_ = info.Close()
		_ = lock.Unlock()
		return nil, err
	}

	s.lock = lock
	s.info = info
	s.data = data
	return s, nil
}

// Close releases the metadata file handle and the whole-store lock.
// The FileStore must not be used afterwards.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	err := s.info.Close()
	if uerr := s.lock.Unlock(); uerr != nil && err == nil {
		err = uerr
	}
	return err
}

// Base returns the absolute base directory of the store.
func (s *FileStore) Base() string {
	return s.basePath
}

// Path returns the on-disk path a key maps to. Pure derivation; the file may
// or may not exist.
func (s *FileStore) Path(key artifactstore.Key) string {
	return filepath.Join(s.basePath, artifactstore.ShardedPath(key))
}

// Store writes content under key. Idempotent: if the backing file already
// exists the content is drained without writing and only the entry lifetime
// is extended. New content is written to a temp sibling, marked read-only
// and renamed into place, so a partial write is never visible at the final
// path.
func (s *FileStore) Store(ctx context.Context, key artifactstore.Key, content io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(key)
	s.logger.Debug("storing content", "key", key.ShortString())

	present, err := s.hasLocked(key)
	if err != nil {
		return err
	}
	if present {
		s.logger.Debug("content already stored", "key", key.ShortString())
		if _, err := io.Copy(io.Discard, content); err != nil {
			return fmt.Errorf("draining content: %w", err)
		}
	} else {
		if err := writeContent(path, content); err != nil {
			return err
		}
	}

	s.data.entry(key).extend(s.now(), s.persistFor)
	return s.flushLocked()
}

// StoreFile hashes the file at path and stores its content, returning the
// computed key.
func (s *FileStore) StoreFile(ctx context.Context, path string) (artifactstore.Key, error) {
	key, err := artifactstore.KeyFromFile(path)
	if err != nil {
		return artifactstore.Key{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return artifactstore.Key{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if err := s.Store(ctx, key, f); err != nil {
		return artifactstore.Key{}, err
	}
	return key, nil
}

// Get returns the on-disk path for key. If the backing file is missing the
// stale entry is dropped and ErrNotFound returned; if it fails the integrity
// check it is evicted and ErrNotFound returned. On success the entry
// lifetime is extended: a read keeps content alive.
func (s *FileStore) Get(ctx context.Context, key artifactstore.Key) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(key)
	if !fileExists(path) {
		s.data.remove(key)
		if err := s.flushLocked(); err != nil {
			return "", err
		}
		return "", ErrNotFound
	}

	if s.checkIntegrity && !s.verify(key, path) {
		if err := s.evictLocked(key, path); err != nil {
			return "", err
		}
		return "", ErrNotFound
	}

	s.data.entry(key).extend(s.now(), s.persistFor)
	if err := s.flushLocked(); err != nil {
		return "", err
	}
	return path, nil
}

// Has reports whether key has an intact backing file. It never extends the
// entry lifetime, but a corrupted entry is still evicted.
func (s *FileStore) Has(ctx context.Context, key artifactstore.Key) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.hasLocked(key)
}

// Persist extends the lifetime of key's entry without touching the content.
// Returns ErrNotFound if the backing file does not exist.
func (s *FileStore) Persist(ctx context.Context, key artifactstore.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !fileExists(s.Path(key)) {
		return fmt.Errorf("persisting %s: %w", key.ShortString(), ErrNotFound)
	}
	s.data.entry(key).extend(s.now(), s.persistFor)
	return s.flushLocked()
}

// Flush rewrites the metadata mirror to disk.
func (s *FileStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.flushLocked()
}

// Keys returns the keys currently tracked by the metadata mirror.
func (s *FileStore) Keys() []artifactstore.Key {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]artifactstore.Key, 0, len(s.data.Items))
	for hex := range s.data.Items {
		key, err := artifactstore.ParseKey(hex)
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

// Len returns the number of tracked entries.
func (s *FileStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.data.Items)
}

// PersistUntil returns the reclamation-eligibility instant for key, and
// whether the key is tracked at all.
func (s *FileStore) PersistUntil(key artifactstore.Key) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data.Items[key.String()]
	if !ok {
		return time.Time{}, false
	}
	return e.Persistent, true
}

// Expired returns the keys whose persistence window lapsed before now.
// The store never deletes these on its own; reclamation is the job of an
// external sweeper.
func (s *FileStore) Expired(now time.Time) []artifactstore.Key {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []artifactstore.Key
	for hex, e := range s.data.Items {
		if !e.Persistent.Before(now) {
			continue
		}
		key, err := artifactstore.ParseKey(hex)
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

// ReapResult contains the results of a Reap call.
type ReapResult struct {
	Reaped     int
	BytesFreed int64
	Errors     int
}

// Reap removes every entry whose persistence window lapsed before now:
// backing file deleted, metadata entry dropped, mirror flushed once at the
// end. This is the hook for the external maintenance collaborator.
func (s *FileStore) Reap(ctx context.Context, now time.Time) (*ReapResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := &ReapResult{}
	changed := false

	for hex, e := range s.data.Items {
		if !e.Persistent.Before(now) {
			continue
		}
		key, err := artifactstore.ParseKey(hex)
		if err != nil {
			delete(s.data.Items, hex)
			changed = true
			continue
		}

		path := s.Path(key)
		if fi, err := os.Stat(path); err == nil {
			result.BytesFreed += fi.Size()
		}
		if err := removeFile(path); err != nil {
			s.logger.Warn("failed to remove expired file", "key", key.ShortString(), "error", err)
			result.Errors++
			continue
		}

		delete(s.data.Items, hex)
		changed = true
		result.Reaped++
		s.logger.Debug("reaped expired entry", "key", key.ShortString())
	}

	if changed {
		if err := s.flushLocked(); err != nil {
			return result, err
		}
	}
	return result, nil
}

// Verify re-hashes every tracked entry, bypassing the timestamp fast path,
// and evicts any whose content no longer matches its key. Returns the
// evicted keys.
func (s *FileStore) Verify(ctx context.Context) ([]artifactstore.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []artifactstore.Key
	for hex := range s.data.Items {
		key, err := artifactstore.ParseKey(hex)
		if err != nil {
			continue
		}
		path := s.Path(key)

		actual, err := artifactstore.KeyFromFile(path)
		if err == nil && actual == key {
			continue
		}

		s.logger.Warn("content does not match key, evicting", "key", key.ShortString())
		s.data.remove(key)
		if err := removeFile(path); err != nil {
			return evicted, err
		}
		evicted = append(evicted, key)
	}

	if len(evicted) > 0 {
		if err := s.flushLocked(); err != nil {
			return evicted, err
		}
	}
	return evicted, nil
}

// hasLocked reports whether key's backing file is present and intact,
// evicting it if corrupted. Caller holds s.mu.
func (s *FileStore) hasLocked(key artifactstore.Key) (bool, error) {
	path := s.Path(key)
	if !fileExists(path) {
		return false, nil
	}
	if s.checkIntegrity && !s.verify(key, path) {
		if err := s.evictLocked(key, path); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// evictLocked drops a corrupted entry: metadata removed, file deleted,
// mirror flushed. Caller holds s.mu.
func (s *FileStore) evictLocked(key artifactstore.Key, path string) error {
	s.logger.Warn("file failed the integrity check, evicting", "key", key.ShortString(), "path", path)
	s.data.remove(key)
	if err := removeFile(path); err != nil {
		return err
	}
	return s.flushLocked()
}

// flushLocked serializes the full metadata mirror into the store_info file,
// truncating it to the new length. Caller holds s.mu.
func (s *FileStore) flushLocked() error {
	buf, err := json.Marshal(s.data)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	if _, err := s.info.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seeking metadata file: %w", err)
	}
	if _, err := s.info.Write(buf); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}
	if err := s.info.Truncate(int64(len(buf))); err != nil {
		return fmt.Errorf("truncating metadata: %w", err)
	}
	return nil
}

// writeContent writes content to a temp sibling of path, syncs it, marks it
// read-only and renames it into place.
func writeContent(path string, content io.Reader) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating shard directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmp, content); err != nil {
		return fmt.Errorf("writing content: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing content: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tmpPath, readOnlyMode); err != nil {
		return fmt.Errorf("marking read-only: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("publishing content: %w", err)
	}

	success = true
	return nil
}

// removeFile clears the read-only bit before unlinking, since content files
// are published without the owner-write permission. Removing an already
// absent file is not an error.
func removeFile(path string) error {
	if err := os.Chmod(path, 0o644); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("clearing read-only bit: %w", err)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("removing file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Compile-time interface check
var _ Store = (*FileStore)(nil)
