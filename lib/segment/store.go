// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package segment

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/rtlog/lib/clock"
	"github.com/bureau-foundation/rtlog/lib/envelope"
)

// DefaultSegmentRecords is the segment capacity used when
// Config.SegmentRecords is zero (about 9.7 MB per segment).
const DefaultSegmentRecords = 16384

// MaxSegmentRecords bounds Config.SegmentRecords so a segment maps in
// one piece (about 2.3 GiB) and its capacity fits the header's 32-bit
// field.
const MaxSegmentRecords = 1 << 22

// Config holds the parameters for a Store.
type Config struct {
	// Directory holds the segment files. Created if missing.
	Directory string

	// SegmentRecords is the number of records per segment.
	SegmentRecords int

	// FlushEvery msyncs the active segment after this many appends.
	// Zero disables count-based flushing; the consumer still flushes
	// on idle ticks and at shutdown.
	FlushEvery int

	// Compression archives sealed segments in the background. The
	// zero value keeps raw files.
	Compression Compression

	// Clock stamps segment creation times. Defaults to clock.Real().
	Clock clock.Clock

	// Logger receives rotation and archive messages. Required.
	Logger *slog.Logger
}

// Stats is a snapshot of store counters.
type Stats struct {
	Appended      uint64
	Segments      uint64
	Rotations     uint64
	Flushes       uint64
	Archived      uint64
	ArchiveErrors uint64
}

// Store is the append-only segmented log. Append, Flush, and Close
// belong to the consumer goroutine. Stats and EmergencySync may be
// called from any goroutine.
type Store struct {
	config   Config
	logger   *slog.Logger
	archiver *archiver

	active     *activeSegment
	nextIndex  uint64
	sinceFlush int
	closed     bool

	// current mirrors active for EmergencySync.
	current atomic.Pointer[activeSegment]

	appended  atomic.Uint64
	segments  atomic.Uint64
	rotations atomic.Uint64
	flushes   atomic.Uint64
}

// Open prepares the directory, removes any segments a previous run
// left there, and creates segment 1.
func Open(config Config) (*Store, error) {
	if config.Directory == "" {
		return nil, errors.New("segment: Directory is required")
	}
	if config.Logger == nil {
		return nil, errors.New("segment: Logger is required")
	}
	if config.SegmentRecords == 0 {
		config.SegmentRecords = DefaultSegmentRecords
	}
	if config.SegmentRecords < 0 || config.SegmentRecords > MaxSegmentRecords {
		return nil, fmt.Errorf("segment: SegmentRecords must be between 1 and %d, got %d", MaxSegmentRecords, config.SegmentRecords)
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}

	if err := os.MkdirAll(config.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	removed, err := removeAll(config.Directory)
	if err != nil {
		return nil, fmt.Errorf("clearing previous segments: %w", err)
	}
	if removed > 0 {
		config.Logger.Info("removed segments from previous run", "directory", config.Directory, "count", removed)
	}

	store := &Store{
		config:    config,
		logger:    config.Logger,
		nextIndex: 1,
	}
	if config.Compression != CompressionNone {
		store.archiver = newArchiver(config.Compression, config.Logger)
	}
	if err := store.openNext(); err != nil {
		if store.archiver != nil {
			store.archiver.close()
		}
		return nil, err
	}
	return store, nil
}

// Directory returns the directory the store writes to.
func (s *Store) Directory() string {
	return s.config.Directory
}

func (s *Store) openNext() error {
	index := s.nextIndex
	path := filepath.Join(s.config.Directory, FileName(index))
	segment, err := createSegment(path, index, s.config.SegmentRecords, s.config.Clock.Now())
	if err != nil {
		return err
	}
	s.nextIndex++
	s.active = segment
	s.current.Store(segment)
	s.segments.Add(1)
	return nil
}

// Append writes e at the end of the log, rotating first if the active
// segment is full.
func (s *Store) Append(e *envelope.Envelope) error {
	if s.closed {
		return ErrClosed
	}
	if s.active == nil {
		// A previous rotation failed to create its successor.
		if err := s.openNext(); err != nil {
			return err
		}
	}
	if s.active.full() {
		if err := s.rotate(); err != nil {
			return err
		}
	}

	s.active.append(e)
	s.appended.Add(1)
	s.sinceFlush++
	if s.config.FlushEvery > 0 && s.sinceFlush >= s.config.FlushEvery {
		return s.Flush()
	}
	return nil
}

// rotate seals the active segment, queues it for archiving, and opens
// the next one.
func (s *Store) rotate() error {
	sealed := s.active
	s.active = nil
	s.current.Store(nil)
	s.sinceFlush = 0

	header, sealErr := sealed.seal()
	s.rotations.Add(1)
	if sealErr != nil {
		s.logger.Error("sealing segment failed", "path", sealed.path, "error", sealErr)
	} else {
		s.logger.Info("segment sealed", "path", sealed.path, "records", header.Records)
		if s.archiver != nil {
			s.archiver.submit(sealed.path)
		}
	}

	if err := s.openNext(); err != nil {
		return errors.Join(sealErr, err)
	}
	return sealErr
}

// Flush msyncs the active segment.
func (s *Store) Flush() error {
	if s.closed {
		return ErrClosed
	}
	s.sinceFlush = 0
	if s.active == nil {
		return nil
	}
	s.flushes.Add(1)
	return s.active.sync()
}

// Unflushed reports how many appends have not been msynced.
func (s *Store) Unflushed() int {
	return s.sinceFlush
}

// EmergencySync msyncs whatever segment is currently mapped. It is
// safe to call concurrently with the consumer and is meant for the
// fatal-termination hook; a sync racing a rotation may fail, and the
// error is returned for the caller to ignore.
func (s *Store) EmergencySync() error {
	segment := s.current.Load()
	if segment == nil {
		return nil
	}
	return unix.Msync(segment.data, unix.MS_SYNC)
}

// Close seals the active segment and waits for pending archive work.
// A closed store rejects further appends.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var sealErr error
	if s.active != nil {
		sealed := s.active
		s.active = nil
		s.current.Store(nil)
		header, err := sealed.seal()
		sealErr = err
		if err == nil {
			s.logger.Info("segment sealed", "path", sealed.path, "records", header.Records)
			if s.archiver != nil {
				s.archiver.submit(sealed.path)
			}
		}
	}
	if s.archiver != nil {
		s.archiver.close()
	}
	return sealErr
}

// Stats returns the store counters.
func (s *Store) Stats() Stats {
	stats := Stats{
		Appended:  s.appended.Load(),
		Segments:  s.segments.Load(),
		Rotations: s.rotations.Load(),
		Flushes:   s.flushes.Load(),
	}
	if s.archiver != nil {
		stats.Archived = s.archiver.archived.Load()
		stats.ArchiveErrors = s.archiver.failed.Load()
	}
	return stats
}
