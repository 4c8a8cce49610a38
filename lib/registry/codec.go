// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/rtlog/lib/codec"
	"github.com/bureau-foundation/rtlog/lib/envelope"
)

// Codec encodes records of type T into a fixed payload buffer.
//
// Encode writes the record into dst (len(dst) == envelope.PayloadSize)
// and returns the byte count. It must return
// envelope.ErrPayloadTooLarge, not a partial encoding, when the record
// does not fit. Codecs used on real-time producers must not allocate.
type Codec[T any] interface {
	Tag() envelope.Tag
	Encode(dst []byte, record *T) (int, error)
	Decode(payload []byte, record *T) error
}

// describer is implemented by codecs that can render their own
// payloads.
type describer interface {
	Describe(payload []byte) (string, error)
}

func formatterFor[T any](c Codec[T]) Formatter {
	if d, ok := any(c).(describer); ok {
		return d.Describe
	}
	return func(payload []byte) (string, error) {
		var record T
		if err := c.Decode(payload, &record); err != nil {
			return "", err
		}
		return fmt.Sprintf("%+v", record), nil
	}
}

// FuncCodec adapts a pair of functions to Codec. Use it for
// hand-written, allocation-free field encoders on real-time paths.
type FuncCodec[T any] struct {
	SchemaTag  envelope.Tag
	EncodeFunc func(dst []byte, record *T) (int, error)
	DecodeFunc func(payload []byte, record *T) error
}

func (c FuncCodec[T]) Tag() envelope.Tag { return c.SchemaTag }

func (c FuncCodec[T]) Encode(dst []byte, record *T) (int, error) {
	return c.EncodeFunc(dst, record)
}

func (c FuncCodec[T]) Decode(payload []byte, record *T) error {
	if c.DecodeFunc == nil {
		return fmt.Errorf("registry: schema tag %d has no decoder", c.SchemaTag)
	}
	return c.DecodeFunc(payload, record)
}

// CBORCodec encodes records as deterministic CBOR. It allocates, so it
// belongs on worker threads that tolerate GC pressure, not on the
// control loop itself.
type CBORCodec[T any] struct {
	SchemaTag envelope.Tag
}

func (c CBORCodec[T]) Tag() envelope.Tag { return c.SchemaTag }

func (c CBORCodec[T]) Encode(dst []byte, record *T) (int, error) {
	written, err := codec.MarshalInto(dst, record)
	if errors.Is(err, codec.ErrBufferFull) {
		return 0, envelope.ErrPayloadTooLarge
	}
	return written, err
}

func (c CBORCodec[T]) Decode(payload []byte, record *T) error {
	return codec.Unmarshal(payload, record)
}

// Describe renders the payload in CBOR diagnostic notation.
func (c CBORCodec[T]) Describe(payload []byte) (string, error) {
	return codec.Diagnose(payload)
}
