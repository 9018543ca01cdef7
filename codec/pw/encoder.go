// Package pw implements the compact-u32 tagged wire codec: a top-level
// frame is compact_u32(tag) || compact_u32(body_len) || body[body_len],
// where tag identifies the message variant and body is that variant's
// fields encoded flat in big-endian primitives.
package pw

import (
	"encoding/binary"
	"math"
)

// Encoder accumulates a flat field encoding into an in-memory buffer. A
// body is always serialized fully before framing, since the frame header
// needs the body length up front.
type Encoder struct {
	buf []byte
}

func NewEncoder() *Encoder { return &Encoder{} }

func (e *Encoder) Bytes() []byte { return e.buf }

// WriteCompactU32 emits the variable-width u32: 1 byte if value < 0x80,
// 2 bytes with the top bit pattern "10" if value < 0x4000, 4 bytes with
// the top bits "11" if value < 0x20000000, else a 0xE0 marker byte
// followed by the raw 4-byte big-endian value.
func (e *Encoder) WriteCompactU32(value uint32) {
	switch {
	case value < 0x80:
		e.buf = append(e.buf, byte(value))
	case value < 0x4000:
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], uint16(value)|0x8000)
		e.buf = append(e.buf, b[:]...)
	case value < 0x20000000:
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], value|0xc0000000)
		e.buf = append(e.buf, b[:]...)
	default:
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], value)
		e.buf = append(e.buf, 0xe0)
		e.buf = append(e.buf, b[:]...)
	}
}

func (e *Encoder) WriteBool(v bool) {
	if v {
		e.buf = append(e.buf, 1)
	} else {
		e.buf = append(e.buf, 0)
	}
}

func (e *Encoder) WriteU8(v uint8)   { e.buf = append(e.buf, v) }
func (e *Encoder) WriteI8(v int8)    { e.buf = append(e.buf, byte(v)) }
func (e *Encoder) WriteChar(v byte)  { e.WriteU8(v) }

func (e *Encoder) WriteU16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	e.buf = append(e.buf, b[:]...)
}
func (e *Encoder) WriteI16(v int16) { e.WriteU16(uint16(v)) }

func (e *Encoder) WriteU32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	e.buf = append(e.buf, b[:]...)
}
func (e *Encoder) WriteI32(v int32) { e.WriteU32(uint32(v)) }

func (e *Encoder) WriteU64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	e.buf = append(e.buf, b[:]...)
}
func (e *Encoder) WriteI64(v int64) { e.WriteU64(uint64(v)) }

func (e *Encoder) WriteF32(v float32) { e.WriteU32(math.Float32bits(v)) }
func (e *Encoder) WriteF64(v float64) { e.WriteU64(math.Float64bits(v)) }

// WriteString/WriteBytes length-prefix with compact_u32.
func (e *Encoder) WriteString(s string) {
	e.WriteCompactU32(uint32(len(s)))
	e.buf = append(e.buf, s...)
}

func (e *Encoder) WriteBytes(b []byte) {
	e.WriteCompactU32(uint32(len(b)))
	e.buf = append(e.buf, b...)
}

// WriteNone/WriteSome encode an optional value as a 0/1 compact_u32 tag
// followed, when present, by the wrapped value.
func (e *Encoder) WriteNone() { e.WriteCompactU32(0) }

func (e *Encoder) WriteSome(write func(*Encoder)) {
	e.WriteCompactU32(1)
	write(e)
}

// WriteSeqLen/WriteMapLen length-prefix a sequence or map's element
// count; fixed-shape aggregates (tuples, structs) elide the length.
func (e *Encoder) WriteSeqLen(n int) { e.WriteCompactU32(uint32(n)) }
func (e *Encoder) WriteMapLen(n int) { e.WriteCompactU32(uint32(n)) }
