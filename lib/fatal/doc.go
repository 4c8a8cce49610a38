// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fatal terminates the process on unrecoverable errors without
// going through the telemetry pipeline.
//
// A [Terminator] writes the source location and message to a fresh
// dump file named <dump_dir>/<service>_fatal_error_<random>.txt,
// echoes the same information to stderr, and exits with status 255.
// Deferred functions do not run. The dump is written with plain file
// I/O so it works when the queue is full, the consumer is wedged, or
// the store has failed.
//
// The first caller wins: the terminator moves from normal to
// terminating with a single compare-and-swap, and any concurrent
// caller blocks forever while the winner finishes. Exactly one dump
// file is produced per process.
//
// An optional OnTerminate hook (typically a store sync) runs after the
// dump is written, bounded by HookTimeout. The dump never depends on
// it.
package fatal
