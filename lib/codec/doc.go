// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec wraps CBOR (RFC 8949) encoding for rtlog.
//
// Structured telemetry records that are not on a hard-deadline path
// use CBOR for their payload bytes, and the dump tool can emit
// replayed records as a CBOR sequence. Encoding uses Core
// Deterministic Encoding so identical records always produce
// identical bytes, which keeps payload sizes predictable against the
// fixed envelope budget.
//
// Consumers import this package rather than fxamacker/cbor directly
// so that encoder options live in one place.
package codec
