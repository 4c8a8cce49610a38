// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/bureau-foundation/rtlog/lib/clock"
	"github.com/bureau-foundation/rtlog/lib/envelope"
	"github.com/bureau-foundation/rtlog/lib/producer"
	"github.com/bureau-foundation/rtlog/lib/registry"
)

const cycleReportTag envelope.Tag = 1

const cycleReportSize = 8 + 8 + 8 + 4

// cycleReport is what each simulated control cycle emits.
type cycleReport struct {
	Cycle   uint64
	Started int64
	Slack   time.Duration
	Overrun uint32
}

// cycleCodec encodes cycleReport as fixed little-endian fields so the
// producer path stays allocation-free.
var cycleCodec = registry.FuncCodec[cycleReport]{
	SchemaTag:  cycleReportTag,
	EncodeFunc: encodeCycleReport,
	DecodeFunc: decodeCycleReport,
}

func encodeCycleReport(dst []byte, report *cycleReport) (int, error) {
	if len(dst) < cycleReportSize {
		return 0, envelope.ErrPayloadTooLarge
	}
	binary.LittleEndian.PutUint64(dst[0:], report.Cycle)
	binary.LittleEndian.PutUint64(dst[8:], uint64(report.Started))
	binary.LittleEndian.PutUint64(dst[16:], uint64(report.Slack))
	binary.LittleEndian.PutUint32(dst[24:], report.Overrun)
	return cycleReportSize, nil
}

func decodeCycleReport(payload []byte, report *cycleReport) error {
	if len(payload) != cycleReportSize {
		return fmt.Errorf("cycle report is %d bytes, want %d", len(payload), cycleReportSize)
	}
	report.Cycle = binary.LittleEndian.Uint64(payload[0:])
	report.Started = int64(binary.LittleEndian.Uint64(payload[8:]))
	report.Slack = time.Duration(binary.LittleEndian.Uint64(payload[16:]))
	report.Overrun = binary.LittleEndian.Uint32(payload[24:])
	return nil
}

// worker is one simulated periodic task.
type worker struct {
	handle *producer.Handle
	clock  clock.Clock
	period time.Duration
	// textEvery sends a free-form line instead of a cycle report on
	// every textEvery-th cycle. Zero disables text lines.
	textEvery uint64

	submit   latency
	overruns uint64
	cycles   uint64
}

// run executes cycles until ctx is cancelled. Each cycle submits one
// envelope and then sleeps until the next period boundary. A cycle
// that ends past its boundary counts as an overrun and resets the
// schedule.
func (w *worker) run(ctx context.Context) {
	codec := &cycleCodec
	next := w.clock.Now()
	var report cycleReport
	for ctx.Err() == nil {
		started := w.clock.Monotonic()
		if w.textEvery > 0 && w.cycles%w.textEvery == 0 {
			w.handle.Text(envelope.SeverityDebug, "cycle boundary")
		} else {
			report.Cycle = w.cycles
			report.Started = started
			report.Slack = next.Add(w.period).Sub(w.clock.Now())
			report.Overrun = uint32(w.overruns)
			producer.Emit(w.handle, envelope.SeverityInfo, codec, &report)
		}
		w.submit.add(time.Duration(w.clock.Monotonic() - started))
		w.cycles++

		next = next.Add(w.period)
		if remaining := next.Sub(w.clock.Now()); remaining > 0 {
			w.clock.Sleep(remaining)
		} else {
			w.overruns++
			if remaining < -w.period {
				w.handle.Text(envelope.SeverityWarn, "cycle overrun")
			}
			next = w.clock.Now()
		}
	}
}
