// Package snapshot exports and imports a store directory as a
// zstd-compressed tar stream, for backup or transfer between hosts.
package snapshot

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Write streams the store directory at base to dst. Temp files from
// in-flight writes are skipped; everything else, including the metadata
// mirror, is archived with its permission bits.
func Write(dst io.Writer, base string) error {
	enc, err := zstd.NewWriter(dst, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("creating zstd writer: %w", err)
	}
	tw := tar.NewWriter(enc)

	err = filepath.WalkDir(base, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("writing header for %s: %w", rel, err)
		}

		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("opening %s: %w", path, err)
		}
		_, err = io.Copy(tw, f)
		_ = f.Close()
		if err != nil {
			return fmt.Errorf("archiving %s: %w", rel, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("finalizing archive: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalizing compression: %w", err)
	}
	return nil
}

// Extract unpacks an archive produced by Write into base, creating it if
// needed. Entries that would escape base are rejected.
func Extract(src io.Reader, base string) error {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return fmt.Errorf("creating base directory: %w", err)
	}

	dec, err := zstd.NewReader(src)
	if err != nil {
		return fmt.Errorf("creating zstd reader: %w", err)
	}
	defer dec.Close()

	tr := tar.NewReader(dec)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		name := filepath.FromSlash(hdr.Name)
		if filepath.IsAbs(name) || strings.Contains(name, "..") {
			return fmt.Errorf("archive entry escapes base directory: %s", hdr.Name)
		}
		path := filepath.Join(base, name)

		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("creating directory for %s: %w", hdr.Name, err)
		}

		mode := hdr.FileInfo().Mode().Perm()
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
		if err != nil {
			return fmt.Errorf("creating %s: %w", hdr.Name, err)
		}
		_, err = io.Copy(f, tr) //nolint:gosec // store archives are operator-provided
		cerr := f.Close()
		if err != nil {
			return fmt.Errorf("extracting %s: %w", hdr.Name, err)
		}
		if cerr != nil {
			return fmt.Errorf("closing %s: %w", hdr.Name, cerr)
		}
		// Restore the exact permission bits; content files are read-only.
		if err := os.Chmod(path, mode); err != nil {
			return fmt.Errorf("setting permissions on %s: %w", hdr.Name, err)
		}
	}
}
