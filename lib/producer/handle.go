// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package producer

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/bureau-foundation/rtlog/lib/clock"
	"github.com/bureau-foundation/rtlog/lib/envelope"
	"github.com/bureau-foundation/rtlog/lib/registry"
)

// Result is the outcome of a submission.
type Result uint8

const (
	// Accepted: the envelope was copied into a free queue slot.
	Accepted Result = iota
	// Dropped: the queue was full; the envelope was discarded.
	Dropped
	// Rejected: the structured payload could not be encoded (too
	// large or unregistered schema). Nothing was queued.
	Rejected
	// Disabled: the severity is below the current threshold.
	Disabled
)

func (r Result) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case Dropped:
		return "dropped"
	case Rejected:
		return "rejected"
	case Disabled:
		return "disabled"
	default:
		return fmt.Sprintf("result(%d)", uint8(r))
	}
}

// Queue is the submission side of the shared queue.
type Queue interface {
	TryPush(e *envelope.Envelope) bool
}

// LevelVar is a severity threshold shared by every handle of a
// pipeline. Changing it takes effect on the next Enabled check.
type LevelVar struct {
	level atomic.Uint32
}

// Level returns the current threshold.
func (v *LevelVar) Level() envelope.Severity {
	return envelope.Severity(v.level.Load())
}

// Set changes the threshold.
func (v *LevelVar) Set(level envelope.Severity) {
	v.level.Store(uint32(level))
}

// Config holds the parameters for a Handle.
type Config struct {
	// ID is written into every envelope. Must be unique per pipeline.
	ID uint16

	// Name identifies the producer in logs and stats.
	Name string

	// Queue receives submitted envelopes. Required.
	Queue Queue

	// Clock stamps envelope timestamps. Required.
	Clock clock.Clock

	// Registry validates structured schema tags in Emit. Optional;
	// when nil, any non-zero tag is accepted.
	Registry *registry.Registry

	// Level is the shared severity threshold. Optional; when nil
	// every severity is enabled.
	Level *LevelVar

	// Context is the default correlation tag copied into envelopes
	// by Begin. Truncated to envelope.ContextSize.
	Context []byte
}

// Handle is one producer's submission endpoint.
type Handle struct {
	id       uint16
	name     string
	queue    Queue
	clock    clock.Clock
	registry *registry.Registry
	level    *LevelVar
	context  [envelope.ContextSize]byte

	// sequence is touched only by the owning goroutine.
	sequence uint16
	scratch  envelope.Envelope

	submitted    atomic.Uint64
	dropped      atomic.Uint64
	oversize     atomic.Uint64
	encodeErrors atomic.Uint64
}

// New creates a handle. All memory the handle will ever use is
// allocated here.
func New(cfg Config) (*Handle, error) {
	if cfg.Queue == nil {
		return nil, errors.New("producer: Queue is required")
	}
	if cfg.Clock == nil {
		return nil, errors.New("producer: Clock is required")
	}
	level := cfg.Level
	if level == nil {
		level = &LevelVar{}
	}
	handle := &Handle{
		id:       cfg.ID,
		name:     cfg.Name,
		queue:    cfg.Queue,
		clock:    cfg.Clock,
		registry: cfg.Registry,
		level:    level,
	}
	copy(handle.context[:], cfg.Context)
	return handle, nil
}

// ID returns the producer id stamped into envelopes.
func (h *Handle) ID() uint16 { return h.id }

// Name returns the producer's name.
func (h *Handle) Name() string { return h.name }

// Enabled reports whether severity passes the threshold. Callers check
// this before building an envelope so disabled levels cost nothing
// beyond one atomic load.
func (h *Handle) Enabled(severity envelope.Severity) bool {
	return severity >= h.level.Level()
}

// SetContext replaces the default context copied by Begin.
func (h *Handle) SetContext(context []byte) {
	written := copy(h.context[:], context)
	clear(h.context[written:])
}

// Begin resets the handle's scratch envelope with severity and the
// default context and returns it for in-place construction. The
// envelope is reused by the next Begin; submit it before calling
// Begin again.
func (h *Handle) Begin(severity envelope.Severity) *envelope.Envelope {
	h.scratch.Reset()
	h.scratch.Severity = severity
	h.scratch.Context = h.context
	return &h.scratch
}

// Submit stamps e with this producer's id, next sequence number, and
// the current monotonic time, then offers it to the queue. The
// sequence advances whether or not the queue accepts the envelope.
func (h *Handle) Submit(e *envelope.Envelope) Result {
	e.ProducerID = h.id
	e.Sequence = h.sequence
	h.sequence++
	e.Timestamp = h.clock.Monotonic()
	h.submitted.Add(1)
	if h.queue.TryPush(e) {
		return Accepted
	}
	h.dropped.Add(1)
	return Dropped
}

// Text submits a free-form message, truncated to the payload budget.
func (h *Handle) Text(severity envelope.Severity, message string) Result {
	if !h.Enabled(severity) {
		return Disabled
	}
	e := h.Begin(severity)
	e.SetText(message)
	return h.Submit(e)
}

// Emit encodes record with codec into the scratch envelope and
// submits it. Oversize or otherwise unencodable records are rejected
// at this call site: the handle's oversize (or encode error) counter
// is incremented, no sequence number is consumed, and nothing reaches
// the queue.
//
// Pass codec values larger than a word by pointer (&myCodec); boxing a
// struct value into the interface allocates.
func Emit[T any](h *Handle, severity envelope.Severity, codec registry.Codec[T], record *T) (Result, error) {
	if !h.Enabled(severity) {
		return Disabled, nil
	}
	tag := codec.Tag()
	if tag == envelope.TagText || (h.registry != nil && !h.registry.Known(tag)) {
		h.encodeErrors.Add(1)
		return Rejected, registry.ErrUnknownSchema
	}

	e := h.Begin(severity)
	written, err := codec.Encode(e.Payload[:], record)
	if err == nil {
		err = e.SetStructured(tag, written)
	}
	if err != nil {
		if errors.Is(err, envelope.ErrPayloadTooLarge) {
			h.oversize.Add(1)
		} else {
			h.encodeErrors.Add(1)
		}
		return Rejected, err
	}
	return h.Submit(e), nil
}

// Stats is a snapshot of a handle's counters.
type Stats struct {
	ID           uint16
	Name         string
	Submitted    uint64
	Dropped      uint64
	Oversize     uint64
	EncodeErrors uint64
}

// Stats returns the handle's counters. Safe from any goroutine.
func (h *Handle) Stats() Stats {
	return Stats{
		ID:           h.id,
		Name:         h.name,
		Submitted:    h.submitted.Load(),
		Dropped:      h.dropped.Load(),
		Oversize:     h.oversize.Load(),
		EncodeErrors: h.encodeErrors.Load(),
	}
}
