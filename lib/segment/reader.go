// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package segment

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"
	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/rtlog/lib/envelope"
)

const (
	filePrefix = "segment-"
	fileSuffix = ".rtlog"
)

// FileName returns the raw file name of the segment with the given
// index.
func FileName(index uint64) string {
	return fmt.Sprintf("%s%06d%s", filePrefix, index, fileSuffix)
}

// Entry is one segment found in a store directory.
type Entry struct {
	Index       uint64
	Path        string
	Compression Compression
}

// parseFileName recognizes raw and archived segment names.
func parseFileName(name string) (index uint64, compression Compression, ok bool) {
	rest, found := strings.CutPrefix(name, filePrefix)
	if !found {
		return 0, 0, false
	}
	for _, candidate := range []Compression{CompressionLZ4, CompressionZstd, CompressionNone} {
		digits, found := strings.CutSuffix(rest, fileSuffix+candidate.Extension())
		if !found {
			continue
		}
		index, err := strconv.ParseUint(digits, 10, 64)
		if err != nil || index == 0 {
			return 0, 0, false
		}
		return index, candidate, true
	}
	return 0, 0, false
}

// List returns the segments in dir ordered by index. When a segment
// exists both raw and archived (an archive that has not yet removed
// its source) the raw file is returned.
func List(dir string) ([]Entry, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	byIndex := make(map[uint64]Entry)
	for _, dirEntry := range dirEntries {
		if dirEntry.IsDir() {
			continue
		}
		index, compression, ok := parseFileName(dirEntry.Name())
		if !ok {
			continue
		}
		if existing, seen := byIndex[index]; seen && existing.Compression == CompressionNone {
			continue
		}
		byIndex[index] = Entry{
			Index:       index,
			Path:        filepath.Join(dir, dirEntry.Name()),
			Compression: compression,
		}
	}

	entries := make([]Entry, 0, len(byIndex))
	for _, entry := range byIndex {
		entries = append(entries, entry)
	}
	slices.SortFunc(entries, func(a, b Entry) int {
		switch {
		case a.Index < b.Index:
			return -1
		case a.Index > b.Index:
			return 1
		}
		return 0
	})
	return entries, nil
}

// removeAll deletes every segment file (raw, archived, or partially
// archived) in dir.
func removeAll(dir string) (int, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, dirEntry := range dirEntries {
		name := dirEntry.Name()
		if dirEntry.IsDir() {
			continue
		}
		_, _, ok := parseFileName(strings.TrimSuffix(name, ".tmp"))
		if !ok {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// withImage calls fn with the full uncompressed contents of the
// segment at path. Raw segments are mapped read-only for the duration
// of the call.
func withImage(path string, fn func(data []byte) error) error {
	_, compression, ok := parseFileName(filepath.Base(path))
	if !ok {
		compression = CompressionNone
	}

	if compression != CompressionNone {
		compressed, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		data, err := decompress(compressed, compression)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		return fn(data)
	}

	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return &os.PathError{Op: "open", Path: path, Err: err}
	}
	defer unix.Close(fd)

	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		return &os.PathError{Op: "stat", Path: path, Err: err}
	}
	if stat.Size < HeaderPageSize {
		return fmt.Errorf("%s: %w: %d bytes", path, ErrTruncated, stat.Size)
	}
	data, err := unix.Mmap(fd, 0, int(stat.Size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mapping %s: %w", path, err)
	}
	defer unix.Munmap(data)
	return fn(data)
}

// ScanSegment decodes the header of the segment at path and calls
// visit for each written record in write order. The envelope passed to
// visit is reused between calls. An error from visit stops the scan
// and is returned.
func ScanSegment(path string, visit func(*envelope.Envelope) error) (Header, error) {
	var header Header
	err := withImage(path, func(data []byte) error {
		var err error
		header, err = parseHeader(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		region := recordRegion(data, header.Records)
		var record envelope.Envelope
		for slot := range header.Records {
			offset := slot * envelope.RecordSize
			if err := envelope.Unmarshal(region[offset:offset+envelope.RecordSize], &record); err != nil {
				return fmt.Errorf("%s: record %d: %w", path, slot, err)
			}
			if err := visit(&record); err != nil {
				return err
			}
		}
		return nil
	})
	return header, err
}

// ReadSegment returns the header and every record of one segment.
func ReadSegment(path string) (Header, []envelope.Envelope, error) {
	var records []envelope.Envelope
	header, err := ScanSegment(path, func(record *envelope.Envelope) error {
		records = append(records, *record)
		return nil
	})
	if err != nil {
		return header, nil, err
	}
	return header, records, nil
}

// Replay visits every record in dir: segments in index order, records
// in write order. The result is the consumption order of the writer.
func Replay(dir string, visit func(*envelope.Envelope) error) error {
	entries, err := List(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if _, err := ScanSegment(entry.Path, visit); err != nil {
			return err
		}
	}
	return nil
}

// Verify checks the sealed checksum of the segment at path. An
// unsealed segment (the active segment of a writer that did not close
// cleanly) returns its header and ErrNotSealed; its records up to the
// cursor are still readable.
func Verify(path string) (Header, error) {
	var header Header
	err := withImage(path, func(data []byte) error {
		var err error
		header, err = parseHeader(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if !header.Sealed {
			return fmt.Errorf("%s: %w", path, ErrNotSealed)
		}
		if blake3.Sum256(recordRegion(data, header.Records)) != header.Checksum {
			return fmt.Errorf("%s: %w", path, ErrChecksumMismatch)
		}
		return nil
	})
	return header, err
}

// VerifyResult is the outcome of verifying one segment.
type VerifyResult struct {
	Entry  Entry
	Header Header
	Err    error
}

// VerifyDir verifies every segment in dir. The returned error is
// non-nil only if the directory cannot be listed; per-segment failures
// are in the results. An unsealed final segment is reported with
// ErrNotSealed like any other.
func VerifyDir(dir string) ([]VerifyResult, error) {
	entries, err := List(dir)
	if err != nil {
		return nil, err
	}
	results := make([]VerifyResult, 0, len(entries))
	for _, entry := range entries {
		header, err := Verify(entry.Path)
		results = append(results, VerifyResult{Entry: entry, Header: header, Err: err})
	}
	return results, nil
}

// Corrupt reports whether a verify error indicates damaged data rather
// than an unsealed segment.
func Corrupt(err error) bool {
	return err != nil && !errors.Is(err, ErrNotSealed)
}
