// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// Pipeline components take a Clock instead of calling the time package
// directly. [Real] reads CLOCK_MONOTONIC for envelope timestamps and
// delegates timers to the time package. [Fake] is a deterministic
// clock for tests: time moves only when Advance is called, and
// WaitForTimers lets a test wait until a goroutine has registered its
// ticker before advancing.
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go loop(ctx, c)               // loop calls c.NewTicker(time.Second)
//	c.WaitForTimers(1)
//	c.Advance(time.Second)        // delivers exactly one tick
package clock
