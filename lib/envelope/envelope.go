// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package envelope

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// ContextSize is the byte size of the opaque correlation tag.
	ContextSize = 64

	// PayloadSize is the fixed payload budget shared by both payload
	// shapes.
	PayloadSize = 512

	// HeaderSize is the encoded size of every field before the
	// payload bytes.
	HeaderSize = 8 + 1 + 2 + 2 + ContextSize + 1 + 2

	// RecordSize is the encoded size of a full fixed slot.
	RecordSize = HeaderSize + PayloadSize
)

var (
	// ErrPayloadTooLarge is returned when a structured payload does
	// not fit in PayloadSize bytes. Nothing is queued in that case.
	ErrPayloadTooLarge = errors.New("envelope: payload exceeds fixed budget")

	// ErrShortRecord is returned by Unmarshal when the input is
	// shorter than the header or the declared payload length.
	ErrShortRecord = errors.New("envelope: short record")

	// ErrInvalidRecord is returned by Unmarshal for out-of-range
	// field values.
	ErrInvalidRecord = errors.New("envelope: invalid record")
)

// Severity orders records by importance. Higher values are more
// severe; level filtering compares with >=.
type Severity uint8

const (
	SeverityTrace Severity = iota
	SeverityDebug
	SeverityInfo
	SeverityWarn
	SeverityError
)

// severityNames is indexed by Severity.
var severityNames = [...]string{"TRACE", "DEBUG", "INFO", "WARN", "ERROR"}

// Valid reports whether s is one of the defined levels.
func (s Severity) Valid() bool {
	return int(s) < len(severityNames)
}

// String returns the upper-case level name.
func (s Severity) String() string {
	if !s.Valid() {
		return fmt.Sprintf("SEVERITY(%d)", uint8(s))
	}
	return severityNames[s]
}

// ParseSeverity parses a level name, case-insensitively. "warning"
// is accepted as an alias for WARN.
func ParseSeverity(name string) (Severity, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	if upper == "WARNING" {
		return SeverityWarn, nil
	}
	for index, candidate := range severityNames {
		if candidate == upper {
			return Severity(index), nil
		}
	}
	return 0, fmt.Errorf("unknown severity %q (expected trace, debug, info, warn, or error)", name)
}

// Tag discriminates the payload shape. TagText is free-form text;
// every other value identifies a registered structured record type.
type Tag uint8

// TagText marks a free-form text payload.
const TagText Tag = 0

// Envelope is a single telemetry record. The zero value is a valid
// empty TRACE text record.
type Envelope struct {
	Timestamp  int64
	Severity   Severity
	ProducerID uint16
	Sequence   uint16
	Context    [ContextSize]byte
	Tag        Tag
	Length     uint16
	Payload    [PayloadSize]byte
}

// Reset clears every field except the payload bytes beyond Length,
// which are never read. Payload is not zeroed to keep Reset cheap on
// producer threads.
func (e *Envelope) Reset() {
	e.Timestamp = 0
	e.Severity = SeverityTrace
	e.ProducerID = 0
	e.Sequence = 0
	e.Context = [ContextSize]byte{}
	e.Tag = TagText
	e.Length = 0
}

// SetText stores text as a free-form payload, silently truncating it
// at PayloadSize bytes.
func (e *Envelope) SetText(text string) {
	e.Tag = TagText
	e.Length = uint16(copy(e.Payload[:], text))
}

// AppendText appends bytes to a free-form payload, truncating at
// PayloadSize. Calling it on a structured envelope converts it to
// text and discards the structured bytes.
func (e *Envelope) AppendText(text []byte) {
	if e.Tag != TagText {
		e.Tag = TagText
		e.Length = 0
	}
	e.Length += uint16(copy(e.Payload[e.Length:], text))
}

// SetStructured marks the first n payload bytes as an encoded record
// of the given schema tag. Returns ErrPayloadTooLarge if n exceeds
// the budget; TagText is rejected as a structured tag.
func (e *Envelope) SetStructured(tag Tag, n int) error {
	if tag == TagText {
		return ErrInvalidRecord
	}
	if n < 0 || n > PayloadSize {
		return ErrPayloadTooLarge
	}
	e.Tag = tag
	e.Length = uint16(n)
	return nil
}

// SetContext copies an opaque correlation tag into the envelope. Bytes
// beyond ContextSize are dropped; shorter inputs are zero-padded.
func (e *Envelope) SetContext(context []byte) {
	written := copy(e.Context[:], context)
	clear(e.Context[written:])
}

// Text returns the payload as a string when the envelope carries
// free-form text. Allocates; intended for consumers and tools.
func (e *Envelope) Text() string {
	return string(e.Payload[:e.Length])
}

// Bytes returns the used payload bytes without copying.
func (e *Envelope) Bytes() []byte {
	return e.Payload[:e.Length]
}

// IsStructured reports whether the payload is a structured record.
func (e *Envelope) IsStructured() bool {
	return e.Tag != TagText
}

// ContextString returns the context with trailing zero bytes removed.
func (e *Envelope) ContextString() string {
	end := len(e.Context)
	for end > 0 && e.Context[end-1] == 0 {
		end--
	}
	return string(e.Context[:end])
}
