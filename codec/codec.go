// Package codec defines the two-layer framing contract services compose
// against: a HeadStreamer handles the length preamble, a BodyStreamer[P]
// (de)serializes the payload, and Compose glues them into the
// ServiceStreamer a Service actually drives against a Stream's buffers.
package codec

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
)

// Kind classifies where in the pipeline an Error originated, so a Service
// can decide whether a framing/body error should shut the connection down
// (it always should) versus a configuration error that should fail startup.
type Kind int

const (
	KindTransport Kind = iota
	KindFraming
	KindBody
	KindConfiguration
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindFraming:
		return "framing"
	case KindBody:
		return "body"
	case KindConfiguration:
		return "configuration"
	default:
		return "internal"
	}
}

// Error is the unified error type a ServiceStreamer returns, tagging the
// underlying cause with a Kind so callers can branch without type-asserting
// into codec-specific error types.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Kind.String() + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// WrapTransport/WrapFraming/WrapBody build a Kind-tagged Error for the
// three places a streamer can fail: the transport beneath it, the length
// preamble, and the payload.
func WrapTransport(err error) error { return newError(KindTransport, errors.WithStack(err)) }
func WrapFraming(err error) error   { return newError(KindFraming, errors.WithStack(err)) }
func WrapBody(err error) error      { return newError(KindBody, errors.WithStack(err)) }

// HeadStreamer frames the length preamble in front of a serialized body.
// ReadLen inspects a peeked prefix without consuming it: ok=false means
// there are not yet enough bytes to decide.
type HeadStreamer interface {
	WriteLen(w io.Writer, length int) error
	ReadLen(peek []byte) (headerLen, bodyLen int, ok bool, err error)
}

// BodyStreamer (de)serializes one message of type P to/from a flat byte
// slice. Each concrete wire format instantiates this with its own packet
// type.
type BodyStreamer[P any] interface {
	WriteToBytes(p P) ([]byte, error)
	ReadFromBytes(b []byte) (P, error)
}

// Peeker is the read-side contract a ServiceStreamer needs from a Stream:
// FillBuf returns everything currently buffered without consuming it.
// wouldBlock=true means nothing is buffered and the transport has nothing
// to offer yet (not a failure); a non-nil err with wouldBlock=false means
// the transport has genuinely failed. Consume advances past bytes that
// have been framed into a packet.
type Peeker interface {
	FillBuf() (buf []byte, wouldBlock bool, err error)
	Consume(n int)
}

// ServiceStreamer is what a Service drives: write one packet into a
// io.Writer (the Stream's send buffer), or attempt to read one packet from
// a Peeker (the Stream's receive buffer), given the bytes already
// available without blocking.
type ServiceStreamer[P any] interface {
	WritePacket(w io.Writer, p P) error
	ReadPacket(r Peeker) (P, bool, error)
}

type composed[P any] struct {
	head HeadStreamer
	body BodyStreamer[P]
}

// Compose builds a ServiceStreamer from a HeadStreamer and a BodyStreamer.
// WritePacket serializes the body first so the header can carry its
// length, and assembles header and body into one frame handed to the
// writer in a single Write, so no header byte is enqueued unless its body
// goes with it.
func Compose[P any](head HeadStreamer, body BodyStreamer[P]) ServiceStreamer[P] {
	return &composed[P]{head: head, body: body}
}

func (c *composed[P]) WritePacket(w io.Writer, p P) error {
	raw, err := c.body.WriteToBytes(p)
	if err != nil {
		return WrapBody(err)
	}
	var frame bytes.Buffer
	if err := c.head.WriteLen(&frame, len(raw)); err != nil {
		return WrapFraming(err)
	}
	frame.Write(raw)
	if _, err := w.Write(frame.Bytes()); err != nil {
		return WrapTransport(err)
	}
	return nil
}

func (c *composed[P]) ReadPacket(r Peeker) (P, bool, error) {
	var zero P
	buf, wouldBlock, err := r.FillBuf()
	if wouldBlock {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, WrapTransport(err)
	}
	headerLen, bodyLen, ok, err := c.head.ReadLen(buf)
	if err != nil {
		return zero, false, WrapFraming(err)
	}
	if !ok {
		return zero, false, nil
	}
	total := headerLen + bodyLen
	if len(buf) < total {
		return zero, false, nil
	}
	p, err := c.body.ReadFromBytes(buf[headerLen:total])
	if err != nil {
		return zero, false, WrapBody(err)
	}
	r.Consume(total)
	return p, true, nil
}
