// Package cscache implements the local changeset cache named in spec.md
// 4.4 step 2 ("consulting a local changeset cache to avoid
// re-downloading") and persisted at spec.md 6's <baseDir>/cscache.
// spec.md 1 places the changeset wire format itself out of scope ("files
// are content-addressed by changeset identifier; format is opaque to the
// core"), so this package only provides the cache directory's
// read/write/addressing discipline, grounded on the teacher's
// builddb.ComputePortCRC/UpdateCRC CRC32 content-addressing idiom
// (builddb/crc.go, builddb/db.go), generalized from "CRC keyed by port
// directory path" to "CRC keyed by changeset identifier" and from a
// bbolt index to a plain directory of files so reads are a single
// open+verify with no database dependency.
package cscache

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrCorrupt is returned by Open when a cached file's stored CRC32 does
// not match its contents, signaling the caller should treat it as a
// cache miss and re-fetch rather than trust a half-written file.
var ErrCorrupt = fmt.Errorf("cscache: stored checksum does not match contents")

// Cache is a directory of changeset files addressed by an opaque
// identifier string, matching spec.md 6's "<baseDir>/cscache" layout.
type Cache struct {
	Dir string
}

// Open creates dir if needed and returns a Cache rooted there.
func Open(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("cscache: %w", err)
	}
	return &Cache{Dir: dir}, nil
}

// Path returns the on-disk location for id, sanitized so changeset
// identifiers containing '/' or other path-unsafe characters can't
// escape the cache directory.
func (c *Cache) Path(id string) string {
	return filepath.Join(c.Dir, sanitize(id)+".cs")
}

func sanitize(id string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", "..", "__")
	return r.Replace(id)
}

// Has reports whether id is already cached. Read-mostly and safe for
// concurrent use alongside Open/Store (spec.md 5 "Shared resources").
func (c *Cache) Has(id string) bool {
	_, err := os.Stat(c.Path(id))
	return err == nil
}

// Open returns id's cached contents, verifying the stored CRC32 header
// against the payload. Callers should treat ErrCorrupt the same as a
// cache miss.
func (c *Cache) Open(id string) (io.ReadCloser, error) {
	data, err := os.ReadFile(c.Path(id))
	if err != nil {
		return nil, err
	}
	if len(data) < 4 {
		return nil, ErrCorrupt
	}
	wantCRC := binary.LittleEndian.Uint32(data[:4])
	payload := data[4:]
	if crc32.ChecksumIEEE(payload) != wantCRC {
		return nil, ErrCorrupt
	}
	return io.NopCloser(bytes.NewReader(payload)), nil
}

// Store writes id's contents atomically: the payload is written to a
// temp file in the same directory (so the final rename is same-
// filesystem) prefixed with its CRC32, fsynced, then renamed into place
// (spec.md 5: "writes use the filesystem's atomic-rename discipline").
// Concurrent Stores of the same id are safe; the last rename wins and
// earlier writers never observe a partial file at the final path.
func (c *Cache) Store(id string, r io.Reader) error {
	payload, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("cscache: read %s: %w", id, err)
	}

	tmp, err := os.CreateTemp(c.Dir, ".tmp-"+sanitize(id)+"-*")
	if err != nil {
		return fmt.Errorf("cscache: tempfile %s: %w", id, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed away

	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], crc32.ChecksumIEEE(payload))
	if _, err := tmp.Write(header[:]); err != nil {
		tmp.Close()
		return fmt.Errorf("cscache: write header %s: %w", id, err)
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("cscache: write payload %s: %w", id, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("cscache: sync %s: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cscache: close %s: %w", id, err)
	}
	if err := os.Rename(tmpPath, c.Path(id)); err != nil {
		return fmt.Errorf("cscache: rename %s: %w", id, err)
	}
	return nil
}
