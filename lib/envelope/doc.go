// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package envelope defines the fixed-size telemetry record that moves
// through every stage of the pipeline: producer scratch space, queue
// slot, segment record, and live-tail frame body.
//
// An [Envelope] contains no pointers and has the same size whatever
// its payload shape, so it can be copied into a preallocated slot
// without touching the heap. The payload is a tagged union
// discriminated by [Envelope.Tag]: [TagText] marks free-form text,
// any other value is the schema tag of a structured record registered
// with the registry package.
//
// # Wire Layout
//
// All multi-byte fields are little-endian:
//
//	offset  size  field
//	0       8     timestamp (monotonic nanoseconds)
//	8       1     severity
//	9       2     producer id
//	11      2     sequence
//	13      64    context
//	77      1     payload tag
//	78      2     payload length
//	80      ≤512  payload
//
// [Marshal] writes the header plus the used payload bytes (the
// live-tail frame body). [MarshalRecord] writes the full fixed
// [RecordSize] slot used by segment files.
package envelope
