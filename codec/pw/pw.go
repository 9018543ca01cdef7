package pw

import (
	"io"

	"github.com/pkg/errors"

	"github.com/cachefront/reactor/codec"
)

// Message is one top-level tagged packet. Tag returns the wire tag: by
// convention a protocol family claims a numeric base and each message kind
// adds its own offset, so logically separate protocols coexist on one
// connection without tag overlap. MarshalFields writes the payload fields
// flat; framing has already written the tag by the time it runs.
type Message interface {
	Tag() uint32
	MarshalFields(enc *Encoder)
}

// DecodeFunc builds the concrete Message a tag identifies, parsing its
// fields from dec. ok=false for an unrecognized tag (not an error: the
// caller turns that into a body-kind codec.Error).
type DecodeFunc[P Message] func(tag uint32, dec *Decoder) (p P, ok bool, err error)

// Streamer implements codec.ServiceStreamer[P] for the compact-u32 tagged
// format: a frame is compact_u32(tag) || compact_u32(body_len) ||
// body[body_len]. Unlike codec.Compose, Streamer doesn't split into a
// generic HeadStreamer/BodyStreamer: the tag has to be read before the
// field decoder can even be selected, so the two layers are inherently
// coupled for this wire format.
type Streamer[P Message] struct {
	decode DecodeFunc[P]
}

func NewStreamer[P Message](decode DecodeFunc[P]) *Streamer[P] {
	return &Streamer[P]{decode: decode}
}

func (s *Streamer[P]) WritePacket(w io.Writer, p P) error {
	body := NewEncoder()
	p.MarshalFields(body)

	head := NewEncoder()
	head.WriteCompactU32(p.Tag())
	head.WriteCompactU32(uint32(len(body.Bytes())))

	if _, err := w.Write(head.Bytes()); err != nil {
		return codec.WrapTransport(err)
	}
	if _, err := w.Write(body.Bytes()); err != nil {
		return codec.WrapTransport(err)
	}
	return nil
}

// ReadPacket peeks the receive buffer without consuming it until a full
// frame is present. A partial compact_u32 tag or length (the buffer holds
// only the first byte of a multi-byte length) and a complete header with
// an incomplete body both report (zero, false, nil): not yet, not an
// error.
func (s *Streamer[P]) ReadPacket(r codec.Peeker) (P, bool, error) {
	var zero P
	buf, wouldBlock, err := r.FillBuf()
	if wouldBlock {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, codec.WrapTransport(err)
	}

	dec := NewDecoder(buf)
	tag, ok := dec.ReadCompactU32()
	if !ok {
		return zero, false, nil
	}
	bodyLen, ok := dec.ReadCompactU32()
	if !ok {
		return zero, false, nil
	}
	headerLen := dec.Pos()
	total := headerLen + int(bodyLen)
	if len(buf) < total {
		return zero, false, nil
	}

	p, matched, err := s.decode(tag, NewDecoder(buf[headerLen:total]))
	if err != nil {
		return zero, false, codec.WrapBody(err)
	}
	if !matched {
		return zero, false, codec.WrapBody(errors.Errorf("pw: unrecognized tag %d", tag))
	}
	r.Consume(total)
	return p, true, nil
}

var _ codec.ServiceStreamer[Message] = (*Streamer[Message])(nil)
