// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry assigns stable schema tags to structured telemetry
// record types and defines the codec interface that encodes them into
// an envelope's fixed payload buffer.
//
// Tags are small integers chosen by the application at a single
// registration point (usually main, before any producer starts) and
// written verbatim into every envelope, so they must never be
// renumbered once records carrying them have been persisted. Tag 0 is
// reserved for free-form text.
//
// A [Registry] is frozen once producers are created; lookups after
// that point are lock-free array reads, which keeps the producer-side
// "is this tag registered" check allocation-free.
//
// Tools that only need names (rtlog-dump, rtlog-tail) load a JSONC
// manifest with [LoadManifest] instead of linking the application's
// codecs.
package registry
