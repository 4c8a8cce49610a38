// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ring

import (
	"fmt"
	"math/bits"
	"sync/atomic"

	"github.com/bureau-foundation/rtlog/lib/envelope"
)

// MaxCapacity bounds the slot count so a queue never exceeds ~600 MB.
const MaxCapacity = 1 << 20

// cacheLine pads the hot cursors apart to avoid false sharing between
// producers (tail) and the consumer (head).
const cacheLine = 64

type slot struct {
	sequence atomic.Uint64
	envelope envelope.Envelope
}

// Queue is a bounded MPSC ring of envelopes. TryPush may be called
// from any number of goroutines; TryPop, Drain, and Len's consumer
// side must only be called from a single consumer goroutine.
type Queue struct {
	_    [cacheLine]byte
	tail atomic.Uint64
	_    [cacheLine - 8]byte
	head atomic.Uint64
	_    [cacheLine - 8]byte

	dropped atomic.Uint64
	pushed  atomic.Uint64

	mask  uint64
	slots []slot
}

// New creates a queue with at least capacity slots, rounded up to a
// power of two. All slot memory is allocated here; the queue never
// grows.
func New(capacity int) (*Queue, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("ring: capacity must be positive, got %d", capacity)
	}
	if capacity > MaxCapacity {
		return nil, fmt.Errorf("ring: capacity %d exceeds maximum %d", capacity, MaxCapacity)
	}
	size := uint64(1) << bits.Len64(uint64(capacity-1))
	queue := &Queue{
		mask:  size - 1,
		slots: make([]slot, size),
	}
	for index := range queue.slots {
		queue.slots[index].sequence.Store(uint64(index))
	}
	return queue, nil
}

// TryPush copies e into a free slot. Returns false without waiting
// when the queue is full (drop-newest); the dropped counter is
// incremented in that case.
func (q *Queue) TryPush(e *envelope.Envelope) bool {
	position := q.tail.Load()
	for {
		cell := &q.slots[position&q.mask]
		sequence := cell.sequence.Load()
		switch difference := int64(sequence - position); {
		case difference == 0:
			if q.tail.CompareAndSwap(position, position+1) {
				cell.envelope = *e
				cell.sequence.Store(position + 1)
				q.pushed.Add(1)
				return true
			}
			position = q.tail.Load()
		case difference < 0:
			// The slot still holds the previous lap's record.
			q.dropped.Add(1)
			return false
		default:
			// Another producer claimed this position first.
			position = q.tail.Load()
		}
	}
}

// TryPop copies the oldest ready envelope into dst and releases its
// slot. Returns false when no slot is ready. Consumer only.
func (q *Queue) TryPop(dst *envelope.Envelope) bool {
	position := q.head.Load()
	cell := &q.slots[position&q.mask]
	if cell.sequence.Load() != position+1 {
		return false
	}
	*dst = cell.envelope
	cell.sequence.Store(position + q.mask + 1)
	q.head.Store(position + 1)
	return true
}

// Drain pops up to limit ready envelopes, calling visit for each in
// queue order, and returns how many were popped. scratch holds each
// envelope during its visit; visit must not retain it. Consumer only.
func (q *Queue) Drain(limit int, scratch *envelope.Envelope, visit func(*envelope.Envelope)) int {
	drained := 0
	for drained < limit && q.TryPop(scratch) {
		visit(scratch)
		drained++
	}
	return drained
}

// Capacity returns the slot count.
func (q *Queue) Capacity() int {
	return len(q.slots)
}

// Len returns an approximate count of claimed-but-unconsumed slots.
// Exact when no producer is mid-submission.
func (q *Queue) Len() int {
	tail := q.tail.Load()
	head := q.head.Load()
	if tail < head {
		return 0
	}
	return int(tail - head)
}

// Dropped returns the number of TryPush calls rejected because the
// queue was full.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Pushed returns the number of envelopes accepted since creation.
func (q *Queue) Pushed() uint64 {
	return q.pushed.Load()
}
