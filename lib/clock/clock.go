// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock abstracts wall time, monotonic time, and timers.
type Clock interface {
	// Now returns the current wall-clock time.
	Now() time.Time

	// Monotonic returns a monotonic reading in nanoseconds. Readings
	// never decrease within a process and are comparable across
	// goroutines. Must not allocate: producers call it on every
	// submission.
	Monotonic() int64

	// After returns a channel that receives once d has elapsed.
	After(d time.Duration) <-chan time.Time

	// NewTicker returns a Ticker firing every d. Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker

	// Sleep pauses the calling goroutine for at least d.
	Sleep(d time.Duration)
}

// Ticker delivers periodic ticks on C (capacity 1; ticks are dropped
// when the reader falls behind, as with time.Ticker).
type Ticker struct {
	C <-chan time.Time

	stop func()
}

// Stop turns off the ticker. C is not closed.
func (t *Ticker) Stop() { t.stop() }
