// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds helpers shared by rtlog tests.
//
// [SocketDir] returns a short directory under /tmp for Unix sockets,
// whose paths are limited to 108 bytes; t.TempDir paths can exceed
// that.
//
// [RequireReceive], [RequireClosed], and [WaitFor] bound every wait in
// a test with a wall-clock timeout so a broken pipeline fails the test
// instead of hanging it. They are the only place tests use real
// timeouts; everything else runs on the fake clock.
//
// Helpers call t.Fatalf on failure.
package testutil
