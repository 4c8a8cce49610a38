// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package producer is the submission API used on real-time threads.
//
// Each producer goroutine (the control loop, each of its workers) owns
// one [Handle]. A handle carries the producer's id, its 16-bit
// sequence counter, a default correlation context, and a scratch
// envelope for in-place construction, so the hot path is:
//
//	if h.Enabled(envelope.SeverityDebug) {
//	    e := h.Begin(envelope.SeverityDebug)
//	    e.AppendText(reason)
//	    h.Submit(e)
//	}
//
// Submit never blocks, never allocates, and never waits for the
// consumer. It stamps producer id, sequence, and a monotonic
// timestamp, then tries to place the envelope in the shared queue. A
// full queue yields [Dropped]; the sequence counter advances either
// way, so gaps seen downstream count the drops exactly.
//
// Structured records go through [Emit] with a [registry.Codec]. An
// encoding that does not fit the payload budget is rejected before
// anything touches the queue and counted on the handle.
//
// Handles are not safe for concurrent use: one goroutine per handle.
// Counters may be read from any goroutine.
package producer
