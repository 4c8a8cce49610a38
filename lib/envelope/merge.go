// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package envelope

import "container/heap"

// MergeByTimestamp merges per-producer streams into a single
// presentation order. Each input stream must already be in its
// producer's emission order (which is non-decreasing in Timestamp);
// the output is ordered by Timestamp with ties broken by stream
// index, so per-producer order is never inverted.
//
// This is a presentation helper. Storage order is the consumer's
// drain order and is never rewritten.
func MergeByTimestamp(streams ...[]Envelope) []Envelope {
	total := 0
	cursors := make(mergeHeap, 0, len(streams))
	for index, stream := range streams {
		total += len(stream)
		if len(stream) > 0 {
			cursors = append(cursors, mergeCursor{stream: stream, index: index})
		}
	}
	heap.Init(&cursors)

	merged := make([]Envelope, 0, total)
	for cursors.Len() > 0 {
		head := &cursors[0]
		merged = append(merged, head.stream[head.position])
		head.position++
		if head.position == len(head.stream) {
			heap.Pop(&cursors)
		} else {
			heap.Fix(&cursors, 0)
		}
	}
	return merged
}

// SplitByProducer partitions records (in storage order) into one
// stream per producer id, preserving relative order. The returned
// streams are ordered by first appearance.
func SplitByProducer(records []Envelope) [][]Envelope {
	positions := make(map[uint16]int)
	var streams [][]Envelope
	for i := range records {
		producer := records[i].ProducerID
		position, exists := positions[producer]
		if !exists {
			position = len(streams)
			positions[producer] = position
			streams = append(streams, nil)
		}
		streams[position] = append(streams[position], records[i])
	}
	return streams
}

type mergeCursor struct {
	stream   []Envelope
	position int
	index    int
}

type mergeHeap []mergeCursor

func (h mergeHeap) Len() int { return len(h) }

func (h mergeHeap) Less(i, j int) bool {
	left := h[i].stream[h[i].position].Timestamp
	right := h[j].stream[h[j].position].Timestamp
	if left != right {
		return left < right
	}
	return h[i].index < h[j].index
}

func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *mergeHeap) Push(x any) { *h = append(*h, x.(mergeCursor)) }

func (h *mergeHeap) Pop() any {
	old := *h
	last := old[len(old)-1]
	*h = old[:len(old)-1]
	return last
}
