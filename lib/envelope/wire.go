// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package envelope

import (
	"encoding/binary"
	"fmt"
)

// Field offsets within an encoded record.
const (
	offsetTimestamp  = 0
	offsetSeverity   = 8
	offsetProducerID = 9
	offsetSequence   = 11
	offsetContext    = 13
	offsetTag        = offsetContext + ContextSize
	offsetLength     = offsetTag + 1
	offsetPayload    = offsetLength + 2
)

// Marshal encodes the header and the used payload bytes into dst and
// returns the number of bytes written. dst must be at least
// HeaderSize+e.Length bytes (RecordSize is always enough). Marshal
// does not allocate.
func Marshal(e *Envelope, dst []byte) int {
	length := int(e.Length)
	if length > PayloadSize {
		length = PayloadSize
	}
	putHeader(e, dst, uint16(length))
	copy(dst[offsetPayload:], e.Payload[:length])
	return HeaderSize + length
}

// MarshalRecord encodes the full fixed-size slot into dst, which must
// be at least RecordSize bytes. Payload bytes beyond Length are
// zeroed so records are reproducible byte for byte.
func MarshalRecord(e *Envelope, dst []byte) {
	written := Marshal(e, dst)
	clear(dst[written:RecordSize])
}

func putHeader(e *Envelope, dst []byte, length uint16) {
	binary.LittleEndian.PutUint64(dst[offsetTimestamp:], uint64(e.Timestamp))
	dst[offsetSeverity] = byte(e.Severity)
	binary.LittleEndian.PutUint16(dst[offsetProducerID:], e.ProducerID)
	binary.LittleEndian.PutUint16(dst[offsetSequence:], e.Sequence)
	copy(dst[offsetContext:offsetContext+ContextSize], e.Context[:])
	dst[offsetTag] = byte(e.Tag)
	binary.LittleEndian.PutUint16(dst[offsetLength:], length)
}

// Unmarshal decodes an encoded record (either the trimmed form written
// by Marshal or a full slot written by MarshalRecord) into e.
func Unmarshal(src []byte, e *Envelope) error {
	if len(src) < HeaderSize {
		return fmt.Errorf("%w: %d bytes, need at least %d", ErrShortRecord, len(src), HeaderSize)
	}

	length := int(binary.LittleEndian.Uint16(src[offsetLength:]))
	if length > PayloadSize {
		return fmt.Errorf("%w: payload length %d exceeds %d", ErrInvalidRecord, length, PayloadSize)
	}
	if len(src) < HeaderSize+length {
		return fmt.Errorf("%w: payload length %d but only %d bytes follow the header",
			ErrShortRecord, length, len(src)-HeaderSize)
	}

	severity := Severity(src[offsetSeverity])
	if !severity.Valid() {
		return fmt.Errorf("%w: severity %d", ErrInvalidRecord, src[offsetSeverity])
	}

	e.Timestamp = int64(binary.LittleEndian.Uint64(src[offsetTimestamp:]))
	e.Severity = severity
	e.ProducerID = binary.LittleEndian.Uint16(src[offsetProducerID:])
	e.Sequence = binary.LittleEndian.Uint16(src[offsetSequence:])
	copy(e.Context[:], src[offsetContext:offsetContext+ContextSize])
	e.Tag = Tag(src[offsetTag])
	e.Length = uint16(length)
	copy(e.Payload[:], src[offsetPayload:offsetPayload+length])
	clear(e.Payload[length:])
	return nil
}

// EncodedLength returns the number of bytes Marshal writes for e.
func EncodedLength(e *Envelope) int {
	return HeaderSize + int(min(e.Length, PayloadSize))
}
