// Package archive provides utilities for reading and writing the ZIP
// containers used by card packages (CHARX, Voxta). The reader tolerates
// self-extracting archives by locating the true ZIP start anywhere in
// the byte stream instead of assuming offset zero.
package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"

	cerrors "github.com/axAilotl/character-architect-sub002/core/errors"
)

// zipSignature is the local-file-header magic: PK\x03\x04.
var zipSignature = []byte{0x50, 0x4b, 0x03, 0x04}

// Limits bounds how much a parsed archive may expand to. The original
// tooling had no ceiling here; these guard against pathological inputs.
type Limits struct {
	// MaxTotalBytes caps the sum of uncompressed entry sizes.
	MaxTotalBytes int64
	// MaxEntryBytes caps a single uncompressed entry.
	MaxEntryBytes int64
}

// DefaultLimits returns the default archive limits.
func DefaultLimits() Limits {
	return Limits{
		MaxTotalBytes: 512 << 20, // 512 MiB
		MaxEntryBytes: 256 << 20, // 256 MiB
	}
}

// Reader wraps a zip.Reader over an in-memory container.
type Reader struct {
	zr     *zip.Reader
	limits Limits
	// Offset is where the ZIP data actually started; non-zero for SFX archives.
	Offset int
}

// FindZipStart returns the offset of the first ZIP local-file-header
// signature in data, or -1 when none exists.
func FindZipStart(data []byte) int {
	return bytes.Index(data, zipSignature)
}

// NewReader opens an in-memory ZIP container. SFX archives (true
// archive data not at offset zero) are handled by scanning for the
// signature. A missing signature reports "not a ZIP" (fallback
// eligible); a present signature that fails to parse reports corruption.
func NewReader(data []byte, limits Limits) (*Reader, error) {
	start := FindZipStart(data)
	if start < 0 {
		return nil, cerrors.NewNotThisFormat("ZIP", "no local-file-header signature found")
	}
	payload := data[start:]
	zr, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return nil, &cerrors.ParseError{Format: "ZIP", Message: err.Error(), Err: err}
	}

	var total int64
	for _, f := range zr.File {
		size := int64(f.UncompressedSize64)
		if limits.MaxEntryBytes > 0 && size > limits.MaxEntryBytes {
			return nil, cerrors.NewSize("ZIP entry "+f.Name, size, limits.MaxEntryBytes, nil)
		}
		total += size
	}
	if limits.MaxTotalBytes > 0 && total > limits.MaxTotalBytes {
		return nil, cerrors.NewSize("ZIP archive", total, limits.MaxTotalBytes,
			[]string{fmt.Sprintf("archive would expand to %s", humanize.IBytes(uint64(total)))})
	}

	return &Reader{zr: zr, limits: limits, Offset: start}, nil
}

// Visitor is a callback for iterating archive entries.
// Return true to stop iteration, false to continue.
type Visitor func(f *zip.File) (stop bool, err error)

// Iterate walks through all file entries, calling the visitor for each.
// Directory entries are skipped.
func (r *Reader) Iterate(visitor Visitor) error {
	for _, f := range r.zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		stop, err := visitor(f)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
	return nil
}

// ReadEntry decompresses a single entry, enforcing the per-entry limit
// against the actual decompressed stream, not just the header claim.
func (r *Reader) ReadEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, cerrors.NewParse("ZIP", fmt.Sprintf("open entry %s: %v", f.Name, err))
	}
	defer rc.Close()

	var limited io.Reader = rc
	if r.limits.MaxEntryBytes > 0 {
		limited = io.LimitReader(rc, r.limits.MaxEntryBytes+1)
	}
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, cerrors.NewParse("ZIP", fmt.Sprintf("read entry %s: %v", f.Name, err))
	}
	if r.limits.MaxEntryBytes > 0 && int64(len(data)) > r.limits.MaxEntryBytes {
		return nil, cerrors.NewSize("ZIP entry "+f.Name, int64(len(data)), r.limits.MaxEntryBytes, nil)
	}
	return data, nil
}

// ReadFile reads a named file from the archive. Archives with or
// without a leading directory component both resolve.
func (r *Reader) ReadFile(name string) ([]byte, error) {
	var content []byte
	err := r.Iterate(func(f *zip.File) (bool, error) {
		entryName := f.Name
		if idx := strings.Index(entryName, "/"); idx >= 0 && entryName != name {
			entryName = entryName[idx+1:]
		}
		if entryName == name || f.Name == name {
			var rerr error
			content, rerr = r.ReadEntry(f)
			return true, rerr
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	if content == nil {
		return nil, cerrors.NewNotFound("archive entry", name)
	}
	return content, nil
}

// FindFile finds the first entry matching the predicate and returns its
// content and name.
func (r *Reader) FindFile(predicate func(name string) bool) ([]byte, string, error) {
	var content []byte
	var foundName string
	err := r.Iterate(func(f *zip.File) (bool, error) {
		if predicate(f.Name) {
			var rerr error
			content, rerr = r.ReadEntry(f)
			foundName = f.Name
			return true, rerr
		}
		return false, nil
	})
	if err != nil {
		return nil, "", err
	}
	if content == nil {
		return nil, "", cerrors.NewNotFound("archive entry", "no matching file")
	}
	return content, foundName, nil
}

// Entries returns the names of all file entries in archive order.
func (r *Reader) Entries() []string {
	var names []string
	for _, f := range r.zr.File {
		if !f.FileInfo().IsDir() {
			names = append(names, f.Name)
		}
	}
	return names
}
