// Package protoio writes protobuf wire-format output incrementally as
// nested tagged groups, without generated message types. Callers open a
// nested message with Start, write scalar fields into it, and seal it with
// End; the group is emitted as a length-delimited field of its parent.
package protoio

import (
	"errors"
	"io"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrUnbalanced is returned when Bytes or Flush is called while a group is
// still open, or End is called with no open group.
var ErrUnbalanced = errors.New("protoio: unbalanced start/end groups")

type frame struct {
	field protowire.Number
	buf   []byte
}

// Stream accumulates one wire-format message. The zero value is ready to
// use.
type Stream struct {
	frames []frame
}

// NewStream returns an empty stream.
func NewStream() *Stream {
	return &Stream{frames: []frame{{}}}
}

func (s *Stream) top() *frame {
	if len(s.frames) == 0 {
		s.frames = []frame{{}}
	}
	return &s.frames[len(s.frames)-1]
}

// Start opens a nested message written as the given field of the
// enclosing message.
func (s *Stream) Start(field protowire.Number) {
	s.top()
	s.frames = append(s.frames, frame{field: field})
}

// End seals the innermost open message and appends it to its parent as a
// length-delimited field.
func (s *Stream) End() error {
	if len(s.frames) < 2 {
		return ErrUnbalanced
	}
	done := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]
	parent := s.top()
	parent.buf = protowire.AppendTag(parent.buf, done.field, protowire.BytesType)
	parent.buf = protowire.AppendBytes(parent.buf, done.buf)
	return nil
}

// WriteUint64 writes a varint scalar field.
func (s *Stream) WriteUint64(field protowire.Number, v uint64) {
	f := s.top()
	f.buf = protowire.AppendTag(f.buf, field, protowire.VarintType)
	f.buf = protowire.AppendVarint(f.buf, v)
}

// WriteInt32 writes a varint scalar field from a signed value.
func (s *Stream) WriteInt32(field protowire.Number, v int32) {
	s.WriteUint64(field, uint64(uint32(v)))
}

// WriteDouble writes a fixed64 floating-point field.
func (s *Stream) WriteDouble(field protowire.Number, v float64) {
	f := s.top()
	f.buf = protowire.AppendTag(f.buf, field, protowire.Fixed64Type)
	f.buf = protowire.AppendFixed64(f.buf, math.Float64bits(v))
}

// WriteString writes a length-delimited string field.
func (s *Stream) WriteString(field protowire.Number, v string) {
	f := s.top()
	f.buf = protowire.AppendTag(f.buf, field, protowire.BytesType)
	f.buf = protowire.AppendString(f.buf, v)
}

// Bytes returns the encoded top-level message. Every Start must have been
// matched by End.
func (s *Stream) Bytes() ([]byte, error) {
	if len(s.frames) != 1 {
		return nil, ErrUnbalanced
	}
	return s.frames[0].buf, nil
}

// Flush writes the encoded message to w.
func (s *Stream) Flush(w io.Writer) error {
	b, err := s.Bytes()
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}
