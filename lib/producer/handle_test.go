// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package producer

import (
	"encoding/binary"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/rtlog/lib/clock"
	"github.com/bureau-foundation/rtlog/lib/envelope"
	"github.com/bureau-foundation/rtlog/lib/registry"
	"github.com/bureau-foundation/rtlog/lib/ring"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type jointSample struct {
	Joint    uint8
	Position int32
}

var jointCodec = registry.FuncCodec[jointSample]{
	SchemaTag: 3,
	EncodeFunc: func(dst []byte, record *jointSample) (int, error) {
		if len(dst) < 5 {
			return 0, envelope.ErrPayloadTooLarge
		}
		dst[0] = record.Joint
		binary.LittleEndian.PutUint32(dst[1:], uint32(record.Position))
		return 5, nil
	},
	DecodeFunc: func(payload []byte, record *jointSample) error {
		if len(payload) != 5 {
			return envelope.ErrInvalidRecord
		}
		record.Joint = payload[0]
		record.Position = int32(binary.LittleEndian.Uint32(payload[1:]))
		return nil
	},
}

// blobCodec encodes a byte slice verbatim, so tests can produce
// payloads of any size.
var blobCodec = registry.FuncCodec[[]byte]{
	SchemaTag: 4,
	EncodeFunc: func(dst []byte, record *[]byte) (int, error) {
		if len(*record) > len(dst) {
			return 0, envelope.ErrPayloadTooLarge
		}
		return copy(dst, *record), nil
	},
}

type fixture struct {
	queue    *ring.Queue
	clock    *clock.FakeClock
	registry *registry.Registry
	level    *LevelVar
}

func newFixture(t *testing.T, capacity int) *fixture {
	t.Helper()
	queue, err := ring.New(capacity)
	if err != nil {
		t.Fatalf("ring.New: %v", err)
	}
	reg := registry.New()
	if err := registry.RegisterCodec(reg, jointCodec, "joint_sample"); err != nil {
		t.Fatalf("RegisterCodec: %v", err)
	}
	if err := registry.RegisterCodec(reg, blobCodec, "blob"); err != nil {
		t.Fatalf("RegisterCodec: %v", err)
	}
	reg.Freeze()
	return &fixture{
		queue:    queue,
		clock:    clock.Fake(epoch),
		registry: reg,
		level:    &LevelVar{},
	}
}

func (f *fixture) handle(t *testing.T, id uint16, name string) *Handle {
	t.Helper()
	handle, err := New(Config{
		ID:       id,
		Name:     name,
		Queue:    f.queue,
		Clock:    f.clock,
		Registry: f.registry,
		Level:    f.level,
		Context:  []byte("cycle-0"),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return handle
}

func TestNewRequiresQueueAndClock(t *testing.T) {
	queue, _ := ring.New(4)
	if _, err := New(Config{Clock: clock.Fake(epoch)}); err == nil {
		t.Error("New without Queue succeeded")
	}
	if _, err := New(Config{Queue: queue}); err == nil {
		t.Error("New without Clock succeeded")
	}
}

func TestSubmitStampsEnvelope(t *testing.T) {
	f := newFixture(t, 8)
	handle := f.handle(t, 7, "control")

	f.clock.Advance(1500 * time.Microsecond)
	if result := handle.Text(envelope.SeverityWarn, "joint 2 near limit"); result != Accepted {
		t.Fatalf("Text = %v, want accepted", result)
	}
	f.clock.Advance(time.Millisecond)
	if result := handle.Text(envelope.SeverityInfo, "cycle complete"); result != Accepted {
		t.Fatalf("Text = %v, want accepted", result)
	}

	var got envelope.Envelope
	if !f.queue.TryPop(&got) {
		t.Fatal("queue empty after accepted submit")
	}
	if got.ProducerID != 7 || got.Sequence != 0 {
		t.Errorf("producer/sequence = %d/%d, want 7/0", got.ProducerID, got.Sequence)
	}
	if got.Timestamp != int64(1500*time.Microsecond) {
		t.Errorf("Timestamp = %d, want %d", got.Timestamp, int64(1500*time.Microsecond))
	}
	if got.Severity != envelope.SeverityWarn || got.Text() != "joint 2 near limit" {
		t.Errorf("envelope = %v %q", got.Severity, got.Text())
	}
	if got.ContextString() != "cycle-0" {
		t.Errorf("ContextString = %q, want cycle-0", got.ContextString())
	}

	if !f.queue.TryPop(&got) {
		t.Fatal("second envelope missing")
	}
	if got.Sequence != 1 || got.Timestamp != int64(2500*time.Microsecond) {
		t.Errorf("second envelope sequence/timestamp = %d/%d", got.Sequence, got.Timestamp)
	}
}

func TestTextTruncates(t *testing.T) {
	f := newFixture(t, 4)
	handle := f.handle(t, 1, "control")

	long := strings.Repeat("x", envelope.PayloadSize+100)
	if result := handle.Text(envelope.SeverityError, long); result != Accepted {
		t.Fatalf("Text = %v, want accepted", result)
	}
	var got envelope.Envelope
	f.queue.TryPop(&got)
	if int(got.Length) != envelope.PayloadSize {
		t.Errorf("Length = %d, want %d", got.Length, envelope.PayloadSize)
	}
}

func TestEnabledFollowsSharedLevel(t *testing.T) {
	f := newFixture(t, 4)
	control := f.handle(t, 1, "control")
	worker := f.handle(t, 2, "worker")

	f.level.Set(envelope.SeverityInfo)
	if control.Enabled(envelope.SeverityDebug) || worker.Enabled(envelope.SeverityDebug) {
		t.Error("debug enabled at info threshold")
	}
	if !control.Enabled(envelope.SeverityInfo) || !worker.Enabled(envelope.SeverityError) {
		t.Error("info/error disabled at info threshold")
	}
	if result := control.Text(envelope.SeverityTrace, "hidden"); result != Disabled {
		t.Errorf("Text below threshold = %v, want disabled", result)
	}
	if f.queue.Len() != 0 {
		t.Errorf("queue Len = %d after disabled submit", f.queue.Len())
	}
	if stats := control.Stats(); stats.Submitted != 0 {
		t.Errorf("Submitted = %d after disabled submit", stats.Submitted)
	}

	f.level.Set(envelope.SeverityTrace)
	if !control.Enabled(envelope.SeverityTrace) {
		t.Error("trace disabled after lowering threshold")
	}
}

func TestSequenceAdvancesOnDrop(t *testing.T) {
	f := newFixture(t, 4)
	handle := f.handle(t, 1, "control")

	var results []Result
	for range 6 {
		results = append(results, handle.Text(envelope.SeverityInfo, "tick"))
	}
	want := []Result{Accepted, Accepted, Accepted, Accepted, Dropped, Dropped}
	for i := range want {
		if results[i] != want[i] {
			t.Errorf("submit %d = %v, want %v", i, results[i], want[i])
		}
	}

	// Free two slots; the next accepted envelope must carry sequence 6,
	// leaving a gap of exactly the two drops.
	var got envelope.Envelope
	f.queue.TryPop(&got)
	f.queue.TryPop(&got)
	if result := handle.Text(envelope.SeverityInfo, "tick"); result != Accepted {
		t.Fatalf("submit after drain = %v", result)
	}

	var sequences []uint16
	for f.queue.TryPop(&got) {
		sequences = append(sequences, got.Sequence)
	}
	if len(sequences) != 3 || sequences[0] != 2 || sequences[1] != 3 || sequences[2] != 6 {
		t.Fatalf("sequences = %v, want [2 3 6]", sequences)
	}
	if gap := int(sequences[2]-sequences[1]) - 1; gap != 2 {
		t.Errorf("gap = %d, want 2", gap)
	}

	stats := handle.Stats()
	if stats.Submitted != 7 || stats.Dropped != 2 {
		t.Errorf("stats = %+v, want 7 submitted, 2 dropped", stats)
	}
}

func TestSequenceWraps(t *testing.T) {
	f := newFixture(t, 2)
	handle := f.handle(t, 1, "control")
	handle.sequence = 0xFFFF

	var got envelope.Envelope
	handle.Text(envelope.SeverityInfo, "last")
	f.queue.TryPop(&got)
	if got.Sequence != 0xFFFF {
		t.Fatalf("Sequence = %d, want 65535", got.Sequence)
	}
	handle.Text(envelope.SeverityInfo, "first")
	f.queue.TryPop(&got)
	if got.Sequence != 0 {
		t.Errorf("Sequence after wrap = %d, want 0", got.Sequence)
	}
}

func TestEmitStructured(t *testing.T) {
	f := newFixture(t, 4)
	handle := f.handle(t, 3, "worker")

	result, err := Emit(handle, envelope.SeverityDebug, jointCodec, &jointSample{Joint: 2, Position: -90})
	if err != nil || result != Accepted {
		t.Fatalf("Emit = %v, %v", result, err)
	}
	var got envelope.Envelope
	if !f.queue.TryPop(&got) {
		t.Fatal("structured envelope not queued")
	}
	if got.Tag != 3 || got.Length != 5 {
		t.Fatalf("tag/length = %d/%d, want 3/5", got.Tag, got.Length)
	}
	var decoded jointSample
	if err := jointCodec.Decode(got.Bytes(), &decoded); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded != (jointSample{Joint: 2, Position: -90}) {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestEmitOversizeRejected(t *testing.T) {
	f := newFixture(t, 4)
	handle := f.handle(t, 1, "control")

	handle.Text(envelope.SeverityInfo, "before")

	oversize := make([]byte, envelope.PayloadSize+1)
	result, err := Emit(handle, envelope.SeverityInfo, blobCodec, &oversize)
	if result != Rejected || !errors.Is(err, envelope.ErrPayloadTooLarge) {
		t.Fatalf("Emit oversize = %v, %v; want rejected, ErrPayloadTooLarge", result, err)
	}
	if f.queue.Len() != 1 {
		t.Errorf("queue Len = %d, want 1 (only the text envelope)", f.queue.Len())
	}
	stats := handle.Stats()
	if stats.Oversize != 1 {
		t.Errorf("Oversize = %d, want 1", stats.Oversize)
	}
	if stats.Submitted != 1 {
		t.Errorf("Submitted = %d, want 1", stats.Submitted)
	}

	exact := make([]byte, envelope.PayloadSize)
	if result, err := Emit(handle, envelope.SeverityInfo, blobCodec, &exact); result != Accepted || err != nil {
		t.Fatalf("Emit at budget = %v, %v", result, err)
	}

	// The rejected record consumed no sequence number.
	var got envelope.Envelope
	f.queue.TryPop(&got)
	f.queue.TryPop(&got)
	if got.Sequence != 1 {
		t.Errorf("sequence after rejection = %d, want 1", got.Sequence)
	}
	if handle.Stats().Oversize != 1 {
		t.Errorf("Oversize changed after an in-budget emit")
	}
}

func TestEmitUnknownSchema(t *testing.T) {
	f := newFixture(t, 4)
	handle := f.handle(t, 1, "control")

	unregistered := registry.FuncCodec[jointSample]{SchemaTag: 40, EncodeFunc: jointCodec.EncodeFunc}
	result, err := Emit(handle, envelope.SeverityInfo, unregistered, &jointSample{})
	if result != Rejected || !errors.Is(err, registry.ErrUnknownSchema) {
		t.Fatalf("Emit unregistered = %v, %v", result, err)
	}
	if f.queue.Len() != 0 {
		t.Error("unregistered record reached the queue")
	}
	if stats := handle.Stats(); stats.EncodeErrors != 1 || stats.Oversize != 0 {
		t.Errorf("stats = %+v, want 1 encode error", stats)
	}
}

func TestEmitDisabled(t *testing.T) {
	f := newFixture(t, 4)
	handle := f.handle(t, 1, "control")
	f.level.Set(envelope.SeverityWarn)

	calls := 0
	counting := registry.FuncCodec[jointSample]{
		SchemaTag: 3,
		EncodeFunc: func(dst []byte, record *jointSample) (int, error) {
			calls++
			return 0, nil
		},
	}
	result, err := Emit(handle, envelope.SeverityDebug, counting, &jointSample{})
	if result != Disabled || err != nil {
		t.Fatalf("Emit = %v, %v; want disabled", result, err)
	}
	if calls != 0 {
		t.Errorf("codec invoked %d times for a disabled severity", calls)
	}
}

func TestSubmitDoesNotAllocate(t *testing.T) {
	f := newFixture(t, 64)
	handle := f.handle(t, 1, "control")
	reason := []byte("deadline slack below 50us")
	sample := jointSample{Joint: 1, Position: 12}
	var sink envelope.Envelope

	allocs := testing.AllocsPerRun(1000, func() {
		if handle.Enabled(envelope.SeverityDebug) {
			e := handle.Begin(envelope.SeverityDebug)
			e.AppendText(reason)
			handle.Submit(e)
		}
		Emit(handle, envelope.SeverityInfo, &jointCodec, &sample)
		// Keep the queue from filling so both paths stay on the
		// accepted branch.
		f.queue.TryPop(&sink)
		f.queue.TryPop(&sink)
	})
	if allocs != 0 {
		t.Errorf("producer path allocated %.1f times per run", allocs)
	}
}

func TestResultString(t *testing.T) {
	for result, want := range map[Result]string{
		Accepted: "accepted", Dropped: "dropped", Rejected: "rejected", Disabled: "disabled", Result(9): "result(9)",
	} {
		if got := result.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", uint8(result), got, want)
		}
	}
}
