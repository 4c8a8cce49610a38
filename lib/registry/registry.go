// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bureau-foundation/rtlog/lib/envelope"
)

var (
	// ErrUnknownSchema is returned when a structured record carries a
	// tag that was never registered.
	ErrUnknownSchema = errors.New("registry: unknown schema tag")

	// ErrFrozen is returned by Register after Freeze.
	ErrFrozen = errors.New("registry: registry is frozen")
)

// Formatter renders an encoded payload for humans. Used by tools and
// never on producer threads.
type Formatter func(payload []byte) (string, error)

// Schema describes one registered record type.
type Schema struct {
	Tag    envelope.Tag
	Name   string
	Format Formatter
}

// Registry maps schema tags to names and formatters.
type Registry struct {
	mu     sync.Mutex
	frozen atomic.Bool
	byTag  [256]*Schema
	byName map[string]envelope.Tag
}

// New returns an empty, unfrozen registry.
func New() *Registry {
	return &Registry{byName: make(map[string]envelope.Tag)}
}

// Register records a schema. Tags and names must be unique, TagText
// is reserved, and registration fails once the registry is frozen.
// A nil format falls back to hex rendering.
func (r *Registry) Register(tag envelope.Tag, name string, format Formatter) error {
	if tag == envelope.TagText {
		return fmt.Errorf("registry: tag 0 is reserved for free-form text (schema %q)", name)
	}
	if name == "" {
		return fmt.Errorf("registry: schema tag %d has an empty name", tag)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen.Load() {
		return fmt.Errorf("%w: cannot register %q", ErrFrozen, name)
	}
	if existing := r.byTag[tag]; existing != nil {
		return fmt.Errorf("registry: tag %d already registered as %q", tag, existing.Name)
	}
	if existing, taken := r.byName[name]; taken {
		return fmt.Errorf("registry: name %q already registered with tag %d", name, existing)
	}

	r.byTag[tag] = &Schema{Tag: tag, Name: name, Format: format}
	r.byName[name] = tag
	return nil
}

// MustRegister is Register for static registration tables; it panics
// on error.
func MustRegister[T any](r *Registry, codec Codec[T], name string) {
	if err := r.Register(codec.Tag(), name, formatterFor(codec)); err != nil {
		panic(err)
	}
}

// RegisterCodec registers a codec under name. Codecs with a Describe
// method render their own payloads; others are decoded and printed
// with %+v.
func RegisterCodec[T any](r *Registry, codec Codec[T], name string) error {
	return r.Register(codec.Tag(), name, formatterFor(codec))
}

// Freeze stops further registration. Safe to call more than once.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen.Store(true)
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

// Known reports whether tag is registered. Lock-free and
// allocation-free once the registry is frozen; producers call it on
// every structured emission.
func (r *Registry) Known(tag envelope.Tag) bool {
	if !r.frozen.Load() {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	return r.byTag[tag] != nil
}

// Lookup returns the schema registered under tag.
func (r *Registry) Lookup(tag envelope.Tag) (Schema, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	schema := r.byTag[tag]
	if schema == nil {
		return Schema{}, false
	}
	return *schema, true
}

// TagFor returns the tag registered under name.
func (r *Registry) TagFor(name string) (envelope.Tag, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tag, ok := r.byName[name]
	return tag, ok
}

// Schemas returns all registered schemas in tag order.
func (r *Registry) Schemas() []Schema {
	r.mu.Lock()
	defer r.mu.Unlock()
	var schemas []Schema
	for _, schema := range r.byTag {
		if schema != nil {
			schemas = append(schemas, *schema)
		}
	}
	return schemas
}

// Describe renders an envelope payload for presentation: text
// payloads verbatim, structured payloads through their schema's
// formatter (hex when none is set). Unknown tags are reported as such
// rather than failing, since replayed segments may predate the
// current registration table.
func (r *Registry) Describe(e *envelope.Envelope) (name string, body string) {
	if !e.IsStructured() {
		return "text", e.Text()
	}
	schema, ok := r.Lookup(e.Tag)
	if !ok {
		return fmt.Sprintf("tag%d", e.Tag), fmt.Sprintf("%x", e.Bytes())
	}
	if schema.Format == nil {
		return schema.Name, fmt.Sprintf("%x", e.Bytes())
	}
	rendered, err := schema.Format(e.Bytes())
	if err != nil {
		return schema.Name, fmt.Sprintf("<undecodable: %v> %x", err, e.Bytes())
	}
	return schema.Name, rendered
}
