package pw

import (
	"encoding/binary"
	"math"
)

// Decoder walks a flat field encoding produced by Encoder. Every Read*
// method returns an ok bool instead of an error: ok=false means the
// buffer doesn't yet hold enough bytes to decode this value, which is not
// a failure, just "wait for more". Modeling it as a bool keeps
// incomplete-frame handling out of the error path entirely.
type Decoder struct {
	buf []byte
	pos int
}

func NewDecoder(buf []byte) *Decoder { return &Decoder{buf: buf} }

// Pos reports how many bytes have been consumed so far.
func (d *Decoder) Pos() int { return d.pos }

func (d *Decoder) remaining() int { return len(d.buf) - d.pos }

// ReadCompactU32 reads back the variable-width u32 WriteCompactU32
// emits, dispatching on the first byte's top bits to pick the 1/2/4/5
// byte form.
func (d *Decoder) ReadCompactU32() (value uint32, ok bool) {
	if d.remaining() < 1 {
		return 0, false
	}
	b0 := d.buf[d.pos]
	switch {
	case b0&0x80 == 0:
		d.pos++
		return uint32(b0), true
	case b0 == 0xe0:
		if d.remaining() < 5 {
			return 0, false
		}
		v := binary.BigEndian.Uint32(d.buf[d.pos+1 : d.pos+5])
		d.pos += 5
		return v, true
	case b0&0xe0 == 0xc0:
		if d.remaining() < 4 {
			return 0, false
		}
		v := binary.BigEndian.Uint32(d.buf[d.pos : d.pos+4])
		d.pos += 4
		return v &^ 0xc0000000, true
	default: // b0&0xc0 == 0x80
		if d.remaining() < 2 {
			return 0, false
		}
		v := binary.BigEndian.Uint16(d.buf[d.pos : d.pos+2])
		d.pos += 2
		return uint32(v) &^ 0x8000, true
	}
}

func (d *Decoder) ReadU8() (uint8, bool) {
	if d.remaining() < 1 {
		return 0, false
	}
	v := d.buf[d.pos]
	d.pos++
	return v, true
}

func (d *Decoder) ReadBool() (bool, bool) {
	v, ok := d.ReadU8()
	return v != 0, ok
}

func (d *Decoder) ReadI8() (int8, bool) {
	v, ok := d.ReadU8()
	return int8(v), ok
}

func (d *Decoder) ReadChar() (byte, bool) { return d.ReadU8() }

func (d *Decoder) ReadU16() (uint16, bool) {
	if d.remaining() < 2 {
		return 0, false
	}
	v := binary.BigEndian.Uint16(d.buf[d.pos : d.pos+2])
	d.pos += 2
	return v, true
}

func (d *Decoder) ReadI16() (int16, bool) {
	v, ok := d.ReadU16()
	return int16(v), ok
}

func (d *Decoder) ReadU32() (uint32, bool) {
	if d.remaining() < 4 {
		return 0, false
	}
	v := binary.BigEndian.Uint32(d.buf[d.pos : d.pos+4])
	d.pos += 4
	return v, true
}

func (d *Decoder) ReadI32() (int32, bool) {
	v, ok := d.ReadU32()
	return int32(v), ok
}

func (d *Decoder) ReadU64() (uint64, bool) {
	if d.remaining() < 8 {
		return 0, false
	}
	v := binary.BigEndian.Uint64(d.buf[d.pos : d.pos+8])
	d.pos += 8
	return v, true
}

func (d *Decoder) ReadI64() (int64, bool) {
	v, ok := d.ReadU64()
	return int64(v), ok
}

func (d *Decoder) ReadF32() (float32, bool) {
	v, ok := d.ReadU32()
	return math.Float32frombits(v), ok
}

func (d *Decoder) ReadF64() (float64, bool) {
	v, ok := d.ReadU64()
	return math.Float64frombits(v), ok
}

func (d *Decoder) ReadString() (string, bool) {
	n, ok := d.ReadCompactU32()
	if !ok || d.remaining() < int(n) {
		return "", false
	}
	s := string(d.buf[d.pos : d.pos+int(n)])
	d.pos += int(n)
	return s, true
}

func (d *Decoder) ReadBytes() ([]byte, bool) {
	n, ok := d.ReadCompactU32()
	if !ok || d.remaining() < int(n) {
		return nil, false
	}
	b := make([]byte, n)
	copy(b, d.buf[d.pos:d.pos+int(n)])
	d.pos += int(n)
	return b, true
}

// ReadOptionTag reports whether an optional value was serialized as
// present; the caller reads the wrapped value itself afterward.
func (d *Decoder) ReadOptionTag() (present bool, ok bool) {
	n, ok := d.ReadCompactU32()
	if !ok {
		return false, false
	}
	return n == 1, true
}

// ReadSeqLen/ReadMapLen read back the element count WriteSeqLen/WriteMapLen
// wrote.
func (d *Decoder) ReadSeqLen() (int, bool) {
	n, ok := d.ReadCompactU32()
	return int(n), ok
}
func (d *Decoder) ReadMapLen() (int, bool) { return d.ReadSeqLen() }
