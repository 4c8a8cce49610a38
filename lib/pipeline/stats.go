// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"github.com/bureau-foundation/rtlog/lib/livetail"
	"github.com/bureau-foundation/rtlog/lib/producer"
	"github.com/bureau-foundation/rtlog/lib/segment"
)

// Stats is a snapshot of pipeline counters. Safe to take from any
// goroutine.
type Stats struct {
	Consumed     uint64
	QueueDepth   int
	QueueDropped uint64
	StoreErrors  uint64
	Store        segment.Stats
	LiveTail     livetail.Stats
	Producers    []producer.Stats
}

// Stats returns the current counters.
func (p *Pipeline) Stats() Stats {
	stats := Stats{
		Consumed:     p.consumed.Load(),
		QueueDepth:   p.queue.Len(),
		QueueDropped: p.queue.Dropped(),
		StoreErrors:  p.storeErrors.Load(),
		Store:        p.store.Stats(),
	}
	if p.tail != nil {
		stats.LiveTail = p.tail.Stats()
	}

	p.producerMu.Lock()
	for _, handle := range p.producers {
		stats.Producers = append(stats.Producers, handle.Stats())
	}
	p.producerMu.Unlock()
	return stats
}

func (p *Pipeline) logStats() {
	stats := p.Stats()
	var oversize uint64
	for _, producerStats := range stats.Producers {
		oversize += producerStats.Oversize
	}
	p.logger.Info("telemetry stats",
		"consumed", stats.Consumed,
		"queue_depth", stats.QueueDepth,
		"queue_dropped", stats.QueueDropped,
		"oversize", oversize,
		"store_errors", stats.StoreErrors,
		"segments", stats.Store.Segments,
		"archived", stats.Store.Archived,
		"observers", stats.LiveTail.Subscribers,
		"observer_frames_dropped", stats.LiveTail.FramesDropped,
	)
}
