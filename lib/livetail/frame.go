// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package livetail

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/bureau-foundation/rtlog/lib/envelope"
)

// FramePrefixSize is the size of the big-endian length prefix.
const FramePrefixSize = 4

// MaxFrameSize bounds a frame including its prefix.
const MaxFrameSize = FramePrefixSize + envelope.RecordSize

// ErrFrameSize is returned for a length prefix outside the valid
// record range.
var ErrFrameSize = errors.New("livetail: invalid frame length")

// EncodeFrame writes the frame for e into dst, which must hold
// MaxFrameSize bytes, and returns the frame length.
func EncodeFrame(e *envelope.Envelope, dst []byte) int {
	written := envelope.Marshal(e, dst[FramePrefixSize:])
	binary.BigEndian.PutUint32(dst, uint32(written))
	return FramePrefixSize + written
}

// ReadFrame reads one frame from r into buffer (at least MaxFrameSize
// bytes) and returns the record bytes.
func ReadFrame(r io.Reader, buffer []byte) ([]byte, error) {
	if _, err := io.ReadFull(r, buffer[:FramePrefixSize]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(buffer)
	if length < envelope.HeaderSize || length > envelope.RecordSize {
		return nil, fmt.Errorf("%w: %d", ErrFrameSize, length)
	}
	record := buffer[FramePrefixSize : FramePrefixSize+int(length)]
	if _, err := io.ReadFull(r, record); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return record, nil
}
