// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package segment

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects how sealed segments are archived.
type Compression uint8

const (
	// CompressionNone leaves sealed segments as raw files.
	CompressionNone Compression = iota

	// CompressionLZ4 rewrites sealed segments as lz4 frames. Cheap
	// enough to run next to a busy consumer.
	CompressionLZ4

	// CompressionZstd rewrites sealed segments as zstd streams.
	// Better ratio on text-heavy logs at more CPU.
	CompressionZstd
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// Extension returns the file suffix for archived segments, or "" for
// CompressionNone.
func (c Compression) Extension() string {
	switch c {
	case CompressionLZ4:
		return ".lz4"
	case CompressionZstd:
		return ".zst"
	default:
		return ""
	}
}

// ParseCompression parses a compression name as used in configuration.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown segment compression %q (want none, lz4, or zstd)", name)
	}
}

// archiver compresses sealed segments on a background goroutine.
// Requests queue on a buffered channel; the consumer blocks only if
// the archiver falls a full channel behind.
type archiver struct {
	compression Compression
	logger      *slog.Logger
	requests    chan string
	done        sync.WaitGroup

	archived atomic.Uint64
	failed   atomic.Uint64
}

func newArchiver(compression Compression, logger *slog.Logger) *archiver {
	a := &archiver{
		compression: compression,
		logger:      logger,
		requests:    make(chan string, 64),
	}
	a.done.Add(1)
	go a.run()
	return a
}

func (a *archiver) submit(path string) {
	a.requests <- path
}

// close stops accepting work and waits for queued segments to finish.
func (a *archiver) close() {
	close(a.requests)
	a.done.Wait()
}

func (a *archiver) run() {
	defer a.done.Done()
	for path := range a.requests {
		archivedPath, err := archiveFile(path, a.compression)
		if err != nil {
			a.failed.Add(1)
			a.logger.Error("archiving segment failed", "path", path, "compression", a.compression.String(), "error", err)
			continue
		}
		a.archived.Add(1)
		a.logger.Debug("segment archived", "path", archivedPath)
	}
}

// archiveFile compresses path into path+extension through a temporary
// file, renames it into place, and removes the raw segment. A reader
// listing the directory mid-archive sees either the raw file alone or
// both (and prefers the raw one).
func archiveFile(path string, compression Compression) (string, error) {
	source, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer source.Close()

	finalPath := path + compression.Extension()
	temporaryPath := finalPath + ".tmp"
	destination, err := os.OpenFile(temporaryPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", err
	}
	committed := false
	defer func() {
		if !committed {
			destination.Close()
			os.Remove(temporaryPath)
		}
	}()

	if err := compressStream(destination, source, compression); err != nil {
		return "", err
	}
	if err := destination.Sync(); err != nil {
		return "", fmt.Errorf("syncing %s: %w", temporaryPath, err)
	}
	if err := destination.Close(); err != nil {
		return "", fmt.Errorf("closing %s: %w", temporaryPath, err)
	}
	if err := os.Rename(temporaryPath, finalPath); err != nil {
		return "", err
	}
	committed = true
	if err := os.Remove(path); err != nil {
		return finalPath, fmt.Errorf("removing raw segment after archive: %w", err)
	}
	return finalPath, nil
}

func compressStream(destination io.Writer, source io.Reader, compression Compression) error {
	switch compression {
	case CompressionLZ4:
		writer := lz4.NewWriter(destination)
		if err := writer.Apply(lz4.CompressionLevelOption(lz4.Fast)); err != nil {
			return fmt.Errorf("lz4 options: %w", err)
		}
		if _, err := io.Copy(writer, source); err != nil {
			return fmt.Errorf("lz4 compress: %w", err)
		}
		return writer.Close()

	case CompressionZstd:
		writer, err := zstd.NewWriter(destination, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return fmt.Errorf("zstd encoder: %w", err)
		}
		if _, err := io.Copy(writer, source); err != nil {
			writer.Close()
			return fmt.Errorf("zstd compress: %w", err)
		}
		return writer.Close()

	default:
		return fmt.Errorf("unsupported archive compression %s", compression)
	}
}

// decompress returns the raw segment image held in an archived file.
func decompress(compressed []byte, compression Compression) ([]byte, error) {
	switch compression {
	case CompressionLZ4:
		data, err := io.ReadAll(lz4.NewReader(bytes.NewReader(compressed)))
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		return data, nil

	case CompressionZstd:
		decoder, err := zstd.NewReader(bytes.NewReader(compressed))
		if err != nil {
			return nil, fmt.Errorf("zstd decoder: %w", err)
		}
		defer decoder.Close()
		data, err := io.ReadAll(decoder)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return data, nil

	default:
		return nil, fmt.Errorf("unsupported archive compression %s", compression)
	}
}
