// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package segment implements the append-only persistent store for
// consumed envelopes.
//
// A store is a directory of numbered segment files. Each segment is a
// memory-mapped file: a 4096-byte header page followed by a fixed
// array of envelope.RecordSize slots. The consumer writes records at
// the cursor with plain memory copies and msyncs the mapping every
// FlushEvery appends and on demand.
//
// When a segment fills, the store seals it (BLAKE3-256 checksum of the
// written records, sealed flag, msync, truncate to the written length)
// and opens the next index. Sealed segments can be handed to a
// background archiver that rewrites them as lz4 or zstd streams and
// removes the raw file.
//
// Opening a store removes every segment already in its directory: each
// process run starts a fresh log. Tools that want to keep old runs
// copy the directory before restarting.
//
// Reading ([List], [ScanSegment], [Replay], [Verify]) is a pure
// function of the file contents and works on raw and archived
// segments alike, including the unsealed active segment left behind
// by a crashed writer.
package segment
