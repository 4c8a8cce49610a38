// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package segment

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/bureau-foundation/rtlog/lib/envelope"
)

// HeaderPageSize is the size of the header page preceding the record
// array.
const HeaderPageSize = 4096

// Version is the segment format version written by this package.
const Version = 1

var magic = [8]byte{'R', 'T', 'L', 'O', 'G', 'S', 'E', 'G'}

// Header page layout, little-endian. The rest of the page is zero.
const (
	offsetMagic      = 0  // [8]byte
	offsetVersion    = 8  // uint16
	offsetRecordSize = 10 // uint16
	offsetCapacity   = 12 // uint32
	offsetCursor     = 16 // uint64
	offsetSealed     = 24 // uint8
	offsetChecksum   = 32 // [32]byte
	offsetIndex      = 64 // uint64
	offsetCreated    = 72 // int64, unix nanoseconds
)

var (
	ErrBadMagic           = errors.New("segment: bad magic")
	ErrUnsupportedVersion = errors.New("segment: unsupported format version")
	ErrTruncated          = errors.New("segment: file shorter than its cursor")
	ErrChecksumMismatch   = errors.New("segment: checksum mismatch")
	ErrNotSealed          = errors.New("segment: not sealed")
	ErrClosed             = errors.New("segment: store closed")
)

// Header is the decoded header page of a segment.
type Header struct {
	Index      uint64
	Capacity   int
	Records    int
	Sealed     bool
	Checksum   [32]byte
	Created    time.Time
	RecordSize int
}

func putHeader(page []byte, header *Header) {
	copy(page[offsetMagic:], magic[:])
	binary.LittleEndian.PutUint16(page[offsetVersion:], Version)
	binary.LittleEndian.PutUint16(page[offsetRecordSize:], uint16(envelope.RecordSize))
	binary.LittleEndian.PutUint32(page[offsetCapacity:], uint32(header.Capacity))
	binary.LittleEndian.PutUint64(page[offsetCursor:], uint64(header.Records))
	if header.Sealed {
		page[offsetSealed] = 1
	} else {
		page[offsetSealed] = 0
	}
	copy(page[offsetChecksum:offsetChecksum+32], header.Checksum[:])
	binary.LittleEndian.PutUint64(page[offsetIndex:], header.Index)
	binary.LittleEndian.PutUint64(page[offsetCreated:], uint64(header.Created.UnixNano()))
}

func putCursor(page []byte, records int) {
	binary.LittleEndian.PutUint64(page[offsetCursor:], uint64(records))
}

// parseHeader decodes and validates the header page at the start of
// data, and checks that data holds every record the cursor claims.
func parseHeader(data []byte) (Header, error) {
	if len(data) < HeaderPageSize {
		return Header{}, fmt.Errorf("%w: %d bytes, header page needs %d", ErrTruncated, len(data), HeaderPageSize)
	}
	if [8]byte(data[offsetMagic:offsetMagic+8]) != magic {
		return Header{}, ErrBadMagic
	}
	if version := binary.LittleEndian.Uint16(data[offsetVersion:]); version != Version {
		return Header{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	header := Header{
		RecordSize: int(binary.LittleEndian.Uint16(data[offsetRecordSize:])),
		Capacity:   int(binary.LittleEndian.Uint32(data[offsetCapacity:])),
		Records:    int(binary.LittleEndian.Uint64(data[offsetCursor:])),
		Sealed:     data[offsetSealed] == 1,
		Index:      binary.LittleEndian.Uint64(data[offsetIndex:]),
		Created:    time.Unix(0, int64(binary.LittleEndian.Uint64(data[offsetCreated:]))),
	}
	copy(header.Checksum[:], data[offsetChecksum:offsetChecksum+32])

	if header.RecordSize != envelope.RecordSize {
		return Header{}, fmt.Errorf("%w: record size %d, this build reads %d",
			ErrUnsupportedVersion, header.RecordSize, envelope.RecordSize)
	}
	if header.Records > header.Capacity {
		return Header{}, fmt.Errorf("segment: cursor %d beyond capacity %d", header.Records, header.Capacity)
	}
	if need := HeaderPageSize + header.Records*envelope.RecordSize; len(data) < need {
		return Header{}, fmt.Errorf("%w: %d bytes, cursor %d needs %d", ErrTruncated, len(data), header.Records, need)
	}
	return header, nil
}

// recordRegion returns the written records of a segment image.
func recordRegion(data []byte, records int) []byte {
	return data[HeaderPageSize : HeaderPageSize+records*envelope.RecordSize]
}
