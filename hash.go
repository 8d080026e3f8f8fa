// Package artifactstore provides content-addressed identification of
// artifact files for the taskgrid execution engine. A Key is the BLAKE3
// digest of a file's full content, so identical bytes map to exactly one
// key regardless of path, name or timestamps.
package artifactstore

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// KeySize is the size of a BLAKE3 content digest in bytes (512 bits).
const KeySize = 64

// Key represents a BLAKE3 512-bit digest of a file's content.
type Key [KeySize]byte

// String returns the hex-encoded representation of the key.
func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// ShortString returns a shortened hex representation for display.
func (k Key) ShortString() string {
	return hex.EncodeToString(k[:8])
}

// IsZero returns true if the key is all zeros (uninitialized).
func (k Key) IsZero() bool {
	return k == Key{}
}

// MarshalText implements encoding.TextMarshaler.
func (k Key) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Key) UnmarshalText(text []byte) error {
	if len(text) != KeySize*2 {
		return fmt.Errorf("invalid key length: expected %d hex chars, got %d", KeySize*2, len(text))
	}
	_, err := hex.Decode(k[:], text)
	return err
}

// ParseKey parses a hex-encoded key string.
func ParseKey(s string) (Key, error) {
	var k Key
	if err := k.UnmarshalText([]byte(s)); err != nil {
		return Key{}, err
	}
	return k, nil
}

// KeyFromBytes computes the key of the given bytes.
func KeyFromBytes(data []byte) Key {
	return Key(blake3.Sum512(data))
}

// KeyFromReader computes the key of content from the reader, feeding each
// chunk into the digest in the order it is read. It returns the key and the
// number of bytes read.
func KeyFromReader(r io.Reader) (Key, int64, error) {
	h := blake3.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return Key{}, n, fmt.Errorf("hashing content: %w", err)
	}
	var k Key
	if _, err := h.Digest().Read(k[:]); err != nil {
		return Key{}, n, fmt.Errorf("finalizing digest: %w", err)
	}
	return k, n, nil
}

// KeyFromFile computes the key of the file at path by streaming its bytes
// through the digest. The file is never materialized in memory at once.
func KeyFromFile(path string) (Key, error) {
	f, err := os.Open(path)
	if err != nil {
		return Key{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	k, _, err := KeyFromReader(f)
	if err != nil {
		return Key{}, fmt.Errorf("hashing %s: %w", path, err)
	}
	return k, nil
}

// Hasher wraps a BLAKE3 hasher for incremental key computation.
type Hasher struct {
	h *blake3.Hasher
}

// NewHasher creates a new Hasher.
func NewHasher() *Hasher {
	return &Hasher{h: blake3.New()}
}

// Write implements io.Writer.
func (h *Hasher) Write(p []byte) (int, error) {
	return h.h.Write(p)
}

// Sum returns the key of all data written so far.
func (h *Hasher) Sum() Key {
	var k Key
	_, _ = h.h.Digest().Read(k[:])
	return k
}

// Reset resets the hasher to its initial state.
func (h *Hasher) Reset() {
	h.h.Reset()
}

// HashingReader wraps a reader and computes the key as data is read.
type HashingReader struct {
	r io.Reader
	h *blake3.Hasher
	n int64
}

// NewHashingReader creates a reader that computes a key as data is read.
func NewHashingReader(r io.Reader) *HashingReader {
	return &HashingReader{
		r: r,
		h: blake3.New(),
	}
}

// Read implements io.Reader.
func (hr *HashingReader) Read(p []byte) (int, error) {
	n, err := hr.r.Read(p)
	if n > 0 {
		_, _ = hr.h.Write(p[:n])
		hr.n += int64(n)
	}
	return n, err
}

// Sum returns the key of all data read so far.
func (hr *HashingReader) Sum() Key {
	var k Key
	_, _ = hr.h.Digest().Read(k[:])
	return k
}

// BytesRead returns the total number of bytes read.
func (hr *HashingReader) BytesRead() int64 {
	return hr.n
}
