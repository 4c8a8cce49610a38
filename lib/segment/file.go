// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package segment

import (
	"fmt"
	"time"

	"github.com/zeebo/blake3"
	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/rtlog/lib/envelope"
)

// activeSegment is a writable, memory-mapped segment. Only the
// consumer goroutine mutates it; data and path never change after
// creation, so EmergencySync may read them from another goroutine.
type activeSegment struct {
	path     string
	index    uint64
	fd       int
	data     []byte
	capacity int
	records  int
	created  time.Time
}

// createSegment creates path exclusively, sizes it for capacity
// records, maps it read-write, and writes the initial header.
func createSegment(path string, index uint64, capacity int, created time.Time) (*activeSegment, error) {
	fd, err := unix.Open(path, unix.O_CREAT|unix.O_EXCL|unix.O_RDWR|unix.O_CLOEXEC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating segment %s: %w", path, err)
	}

	size := HeaderPageSize + capacity*envelope.RecordSize
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		unix.Unlink(path)
		return nil, fmt.Errorf("sizing segment %s to %d bytes: %w", path, size, err)
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		unix.Unlink(path)
		return nil, fmt.Errorf("mapping segment %s: %w", path, err)
	}

	segment := &activeSegment{
		path:     path,
		index:    index,
		fd:       fd,
		data:     data,
		capacity: capacity,
		created:  created,
	}
	putHeader(data[:HeaderPageSize], segment.header(false, [32]byte{}))
	return segment, nil
}

func (s *activeSegment) header(sealed bool, checksum [32]byte) *Header {
	return &Header{
		Index:    s.index,
		Capacity: s.capacity,
		Records:  s.records,
		Sealed:   sealed,
		Checksum: checksum,
		Created:  s.created,
	}
}

func (s *activeSegment) full() bool {
	return s.records >= s.capacity
}

// append copies e into the next slot and advances the cursor. The
// caller checks full first.
func (s *activeSegment) append(e *envelope.Envelope) {
	offset := HeaderPageSize + s.records*envelope.RecordSize
	envelope.MarshalRecord(e, s.data[offset:offset+envelope.RecordSize])
	s.records++
	putCursor(s.data, s.records)
}

func (s *activeSegment) sync() error {
	if err := unix.Msync(s.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("msync %s: %w", s.path, err)
	}
	return nil
}

// seal writes the checksum and sealed flag, syncs, unmaps, and
// truncates the file to the written records. The segment is unusable
// afterwards whether or not seal succeeds.
func (s *activeSegment) seal() (Header, error) {
	checksum := blake3.Sum256(recordRegion(s.data, s.records))
	header := s.header(true, checksum)
	putHeader(s.data[:HeaderPageSize], header)

	var firstErr error
	if err := s.sync(); err != nil {
		firstErr = err
	}
	if err := unix.Munmap(s.data); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("munmap %s: %w", s.path, err)
	}
	used := int64(HeaderPageSize + s.records*envelope.RecordSize)
	if err := unix.Ftruncate(s.fd, used); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("truncating sealed segment %s: %w", s.path, err)
	}
	if err := unix.Fsync(s.fd); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("fsync %s: %w", s.path, err)
	}
	if err := unix.Close(s.fd); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing %s: %w", s.path, err)
	}
	return *header, firstErr
}
