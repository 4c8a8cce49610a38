// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ring implements the shared queue between real-time
// producers and the single telemetry consumer: a fixed-capacity,
// multi-producer/single-consumer ring of envelope slots.
//
// Each slot carries a sequence word that encodes its state relative
// to a ring position p:
//
//	seq == p      free: a producer may claim position p
//	seq == p+1    ready: the consumer may read position p
//	seq == p+N    free again for position p+N (next lap)
//
// A producer claims a position by compare-and-swap on the shared tail
// cursor, copies its envelope into the slot, and publishes it by
// storing p+1. The consumer only reads slots whose sequence says
// ready, so it never observes a half-written envelope, and a producer
// never writes a slot the consumer has not released.
//
// Overload policy is drop-newest: when the slot at the tail is still
// owned by the consumer, TryPush fails immediately and bumps the
// dropped counter. Nothing already queued is ever evicted.
//
// TryPush is non-blocking and allocation-free. It retries only when
// another producer won the same position, so its cost is bounded by
// producer contention, not by the consumer's pace.
package ring
