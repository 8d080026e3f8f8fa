package artifactstore

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyFromFileContentAddressing(t *testing.T) {
	dir := t.TempDir()
	content := []byte("hello world")

	// Same bytes under two different names must yield equal keys.
	pathA := filepath.Join(dir, "a.bin")
	pathB := filepath.Join(dir, "some", "nested", "b.bin")
	require.NoError(t, os.WriteFile(pathA, content, 0o644))
	require.NoError(t, os.MkdirAll(filepath.Dir(pathB), 0o755))
	require.NoError(t, os.WriteFile(pathB, content, 0o644))

	keyA, err := KeyFromFile(pathA)
	require.NoError(t, err)
	keyB, err := KeyFromFile(pathB)
	require.NoError(t, err)
	require.Equal(t, keyA, keyB)
	require.False(t, keyA.IsZero())

	// A single flipped byte must change the key.
	changed := append([]byte(nil), content...)
	changed[0] ^= 0x01
	pathC := filepath.Join(dir, "c.bin")
	require.NoError(t, os.WriteFile(pathC, changed, 0o644))

	keyC, err := KeyFromFile(pathC)
	require.NoError(t, err)
	require.NotEqual(t, keyA, keyC)
}

func TestKeyFromFileMissing(t *testing.T) {
	_, err := KeyFromFile(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}

func TestKeyVariantsAgree(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")

	fromBytes := KeyFromBytes(data)

	fromReader, n, err := KeyFromReader(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), n)
	require.Equal(t, fromBytes, fromReader)

	h := NewHasher()
	_, err = h.Write(data[:10])
	require.NoError(t, err)
	_, err = h.Write(data[10:])
	require.NoError(t, err)
	require.Equal(t, fromBytes, h.Sum())

	hr := NewHashingReader(bytes.NewReader(data))
	got, err := io.ReadAll(hr)
	require.NoError(t, err)
	require.Equal(t, data, got)
	require.Equal(t, fromBytes, hr.Sum())
	require.Equal(t, int64(len(data)), hr.BytesRead())
}

func TestKeyStringRoundTrip(t *testing.T) {
	key := KeyFromBytes([]byte("round trip"))

	s := key.String()
	require.Len(t, s, KeySize*2)

	parsed, err := ParseKey(s)
	require.NoError(t, err)
	require.Equal(t, key, parsed)

	text, err := key.MarshalText()
	require.NoError(t, err)
	var back Key
	require.NoError(t, back.UnmarshalText(text))
	require.Equal(t, key, back)
}

func TestParseKeyInvalid(t *testing.T) {
	_, err := ParseKey("abcd")
	require.Error(t, err)

	_, err = ParseKey("zz" + KeyFromBytes(nil).String()[2:])
	require.Error(t, err)
}

func TestShardedPath(t *testing.T) {
	key := KeyFromBytes([]byte("sharding"))
	hex := key.String()

	path := ShardedPath(key)
	require.Equal(t, filepath.Join(hex[:2], hex[2:4], hex), path)

	parsed, err := ParseShardedPath(path)
	require.NoError(t, err)
	require.Equal(t, key, parsed)
}

func TestParseShardedPathRejectsMismatch(t *testing.T) {
	key := KeyFromBytes([]byte("sharding"))
	hex := key.String()

	_, err := ParseShardedPath(filepath.Join("ff", hex[2:4], hex))
	require.Error(t, err)

	_, err = ParseShardedPath(hex)
	require.Error(t, err)
}
