package store

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	artifactstore "github.com/taskgrid/artifact-store"
)

// storeEntry is the bookkeeping for one stored file.
type storeEntry struct {
	// Persistent is the instant after which the file becomes eligible for
	// reclamation by an external sweeper.
	Persistent time.Time `json:"persistent"`
}

// extend pushes the reclamation horizon to now+d.
func (e *storeEntry) extend(now time.Time, d time.Duration) {
	e.Persistent = now.Add(d)
}

// storeData is the in-memory mirror of the store_info file.
type storeData struct {
	Items map[string]*storeEntry `json:"items"`
}

func newStoreData() *storeData {
	return &storeData{Items: make(map[string]*storeEntry)}
}

// entry returns the bookkeeping for key, creating it if needed.
func (d *storeData) entry(key artifactstore.Key) *storeEntry {
	hex := key.String()
	e, ok := d.Items[hex]
	if !ok {
		e = &storeEntry{}
		d.Items[hex] = e
	}
	return e
}

// remove drops the bookkeeping for key. It does not touch the backing file.
func (d *storeData) remove(key artifactstore.Key) {
	delete(d.Items, key.String())
}

// loadStoreData reads the metadata mirror and reconciles it against the
// filesystem: entries whose backing file no longer exists are dropped before
// the mirror becomes visible. The mirror is a cache of filesystem truth,
// never authoritative on its own.
func loadStoreData(r io.Reader, base string) (*storeData, error) {
	var data storeData
	if err := json.NewDecoder(r).Decode(&data); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	if data.Items == nil {
		data.Items = make(map[string]*storeEntry)
	}

	for hex := range data.Items {
		key, err := artifactstore.ParseKey(hex)
		if err != nil {
			delete(data.Items, hex)
			continue
		}
		if _, err := os.Stat(filepath.Join(base, artifactstore.ShardedPath(key))); err != nil {
			delete(data.Items, hex)
		}
	}
	return &data, nil
}
