// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipeline wires the telemetry components together and runs
// the consumer loop.
//
// A [Pipeline] owns the shared queue, the schema registry, the
// severity threshold, the segment store, and the live-tail server.
// It is created once at startup with [Open] and passed explicitly to
// every collaborator: producers get their handles from
// [Pipeline.NewProducer], and the fatal terminator gets
// [Pipeline.EmergencySync] as its termination hook.
//
// [Pipeline.Run] is the consumer. It locks itself to an OS thread,
// applies the configured consumer scheduling, and on every drain tick
// moves ready envelopes from the queue to the store, the live-tail
// server, and any extra sinks, in that order. It is the only
// goroutine that blocks on file or socket I/O. Store failures are
// logged and counted; they never reach producers.
//
// Cancelling Run's context performs one last drain, flushes and
// closes the store, disconnects observers, and returns.
package pipeline
