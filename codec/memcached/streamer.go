package memcached

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/cachefront/reactor/codec"
)

// ErrWrongLen reports a header whose key/ext/value segment boundaries
// don't fit inside bodylen.
var ErrWrongLen = errors.New("memcached: key/ext length exceeds body length")

// Streamer implements codec.ServiceStreamer[Packet]. Like pw.Streamer, it
// doesn't go through the generic HeadStreamer/BodyStreamer split: the
// header here isn't just a length prefix, it carries opcode/status/opaque
// that a caller needs decoded alongside the body, so WritePacket/
// ReadPacket handle header and body as one unit.
type Streamer struct{}

func NewStreamer() *Streamer { return &Streamer{} }

func (Streamer) WritePacket(w io.Writer, p Packet) error {
	var head [HeaderSize]byte
	head[0] = p.Header.Magic
	head[1] = p.Header.Opcode
	binary.BigEndian.PutUint16(head[2:4], uint16(len(p.Key)))
	head[4] = uint8(len(p.Extras))
	head[5] = p.Header.DataType
	binary.BigEndian.PutUint16(head[6:8], p.Header.Status)
	bodyLen := len(p.Key) + len(p.Extras) + len(p.Value)
	binary.BigEndian.PutUint32(head[8:12], uint32(bodyLen))
	binary.BigEndian.PutUint32(head[12:16], p.Header.Opaque)
	binary.BigEndian.PutUint64(head[16:24], p.Header.Cas)

	if _, err := w.Write(head[:]); err != nil {
		return codec.WrapTransport(err)
	}
	if _, err := w.Write(p.Extras); err != nil {
		return codec.WrapTransport(err)
	}
	if _, err := io.WriteString(w, p.Key); err != nil {
		return codec.WrapTransport(err)
	}
	if _, err := w.Write(p.Value); err != nil {
		return codec.WrapTransport(err)
	}
	return nil
}

func (Streamer) ReadPacket(r codec.Peeker) (Packet, bool, error) {
	var zero Packet
	buf, wouldBlock, err := r.FillBuf()
	if wouldBlock {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, codec.WrapTransport(err)
	}
	if len(buf) < HeaderSize {
		return zero, false, nil
	}

	bodyLen := binary.BigEndian.Uint32(buf[8:12])
	total := HeaderSize + int(bodyLen)
	if len(buf) < total {
		return zero, false, nil
	}

	keyLen := int(binary.BigEndian.Uint16(buf[2:4]))
	extLen := int(buf[4])
	extEnd := HeaderSize + extLen
	keyEnd := extEnd + keyLen
	valueEnd := HeaderSize + int(bodyLen)
	if keyEnd > valueEnd {
		return zero, false, codec.WrapFraming(ErrWrongLen)
	}

	p := Packet{
		Header: Header{
			Magic:    buf[0],
			Opcode:   buf[1],
			KeyLen:   uint16(keyLen),
			ExtLen:   uint8(extLen),
			DataType: buf[5],
			Status:   binary.BigEndian.Uint16(buf[6:8]),
			BodyLen:  bodyLen,
			Opaque:   binary.BigEndian.Uint32(buf[12:16]),
			Cas:      binary.BigEndian.Uint64(buf[16:HeaderSize]),
		},
		Extras: append([]byte(nil), buf[HeaderSize:extEnd]...),
		Key:    string(buf[extEnd:keyEnd]),
		Value:  append([]byte(nil), buf[keyEnd:valueEnd]...),
	}

	r.Consume(total)
	return p, true, nil
}

var _ codec.ServiceStreamer[Packet] = Streamer{}
