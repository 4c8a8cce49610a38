// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"errors"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// ErrBufferFull is returned by MarshalInto when the encoding does not
// fit in the destination buffer.
var ErrBufferFull = errors.New("codec: encoding exceeds destination buffer")

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Decode untyped maps as map[string]any so decoded payloads
		// can be handed to encoding/json by the dump tool.
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// MarshalInto encodes v directly into dst and returns the number of
// bytes written. Returns ErrBufferFull if the encoding is longer than
// dst; dst contents are unspecified in that case.
func MarshalInto(dst []byte, v any) (int, error) {
	writer := fixedWriter{buffer: dst}
	if err := encMode.NewEncoder(&writer).Encode(v); err != nil {
		if errors.Is(err, ErrBufferFull) {
			return 0, ErrBufferFull
		}
		return 0, err
	}
	return writer.written, nil
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Encoder is a CBOR stream encoder.
type Encoder = cbor.Encoder

// Decoder is a CBOR stream decoder.
type Decoder = cbor.Decoder

// RawMessage is a raw encoded CBOR value.
type RawMessage = cbor.RawMessage

// NewEncoder returns a deterministic CBOR encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a CBOR decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return decMode.NewDecoder(r)
}

// Diagnose returns the RFC 8949 diagnostic notation of data, used to
// render structured payloads whose schema has no custom formatter.
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}

// fixedWriter is an io.Writer over a caller-owned buffer that refuses
// to grow.
type fixedWriter struct {
	buffer  []byte
	written int
}

func (w *fixedWriter) Write(p []byte) (int, error) {
	if len(p) > len(w.buffer)-w.written {
		return 0, ErrBufferFull
	}
	copy(w.buffer[w.written:], p)
	w.written += len(p)
	return len(p), nil
}
