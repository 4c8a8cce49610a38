// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package livetail mirrors consumed envelopes to external observers
// over a local stream socket.
//
// The wire protocol is one-way. After connecting, an observer reads a
// sequence of frames:
//
//	length (4 bytes, big-endian) | record (length bytes)
//
// where record is the envelope encoding produced by envelope.Marshal
// (80-byte header plus the used payload). Observers send nothing; any
// bytes they do send are discarded.
//
// Delivery is best effort. Each observer has a bounded frame queue; a
// frame that does not fit is dropped for that observer and counted.
// An observer whose socket errors or misses the write deadline is
// disconnected. Observers receive only frames published after they
// were registered at accept time: there is no history or replay.
// Persistent history lives in the segment store.
package livetail
