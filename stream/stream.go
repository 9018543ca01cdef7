// Package stream implements the per-connection and per-listener Eventer
// endpoints that a reactor.Loop polls: Stream wraps one non-blocking TCP
// connection with a send buffer and a receive buffer; Listen wraps one
// bound listening socket.
package stream

import (
	"io"
	"net"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/cachefront/reactor/buffer"
	"github.com/cachefront/reactor/reactor"
)

const (
	initWbufSize = 4096
	initRbufSize = 4096
	moreRbufSize = 4096
)

// Reregisterer is the narrow slice of *reactor.Loop that Stream/Listen
// need to schedule their own reregistration on a state change.
type Reregisterer interface {
	Reregister(token reactor.Token)
}

// Stream is a bidirectional byte pipe: non-blocking I/O, a send buffer
// (wbuf) that Flush drains into the socket, and a receive buffer (rbuf)
// that FillBuf tops up from the socket. It implements reactor.Eventer.
type Stream struct {
	token      reactor.Token
	loop       Reregisterer
	fd         int
	registered reactor.Interest
	interest   reactor.Interest
	got        reactor.Interest

	IsClient   bool
	Reconnect  bool
	Connecting bool
	PeerAddr   string

	wbuf *buffer.Buffer
	rbuf *buffer.Buffer
}

// New wraps an already-nonblocking fd as a Stream. isClient marks an
// outbound connection (eligible for reconnect on loss); accepted streams
// pass isClient=false. Connecting starts true for both: the first writable
// edge is what announces a stream as usable, whether the kernel is
// reporting an async connect's completion or an accepted socket's initial
// writability. The token is assigned afterward via SetToken, once the Loop
// has minted one for it (Stream exists before it has a token: the Loop's
// Register allocates the token from the Eventer it's given, so
// construction has to come first).
func New(loop Reregisterer, fd int, isClient, reconnect bool, peerAddr string) *Stream {
	return &Stream{
		loop:       loop,
		fd:         fd,
		interest:   reactor.All,
		IsClient:   isClient,
		Reconnect:  reconnect,
		Connecting: true,
		PeerAddr:   peerAddr,
		wbuf:       buffer.New(initWbufSize),
		rbuf:       buffer.New(initRbufSize),
	}
}

// AddrError marks an address that failed to parse/resolve at all, as
// opposed to one that resolved fine but whose peer refused or never
// answered the connect. Service.Start treats an AddrError as fatal
// configuration; any other error from Dial is a transport failure that
// should drive the normal reconnect path instead of aborting the Service.
type AddrError struct{ err error }

func (e *AddrError) Error() string { return e.err.Error() }
func (e *AddrError) Unwrap() error { return e.err }

// Dial starts a non-blocking outbound connect and wraps the result as a
// client Stream with Connecting=true. It never blocks waiting for the TCP
// handshake: the socket is created non-blocking and unix.Connect is given
// EINPROGRESS to run asynchronously, exactly like a peer refusing or never
// answering would be. The caller registers the returned Stream with the
// loop and waits for the first writable edge to observe connect completion
// (or failure, surfaced as got.IsError()/IsHup() on that same edge).
func Dial(loop Reregisterer, addr string, reconnect bool) (*Stream, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, &AddrError{err: errors.Wrap(err, "stream: resolve")}
	}
	fd, err := dialNonblock(tcpAddr)
	if err != nil {
		return nil, err
	}
	return New(loop, fd, true, reconnect, addr), nil
}

// FromAccepted wraps a just-accepted *net.TCPConn as a server-side Stream.
func FromAccepted(loop Reregisterer, conn *net.TCPConn) (*Stream, error) {
	peer := conn.RemoteAddr().String()
	fd, err := dupFD(conn)
	if err != nil {
		return nil, err
	}
	return New(loop, fd, false, false, peer), nil
}

// Eventer contract.

// SetToken records the Token the Loop allocated for this Stream on
// Register. Call once, immediately after Register returns.
func (s *Stream) SetToken(token reactor.Token) { s.token = token }
func (s *Stream) Token() reactor.Token         { return s.token }

func (s *Stream) FD() int                         { return s.fd }
func (s *Stream) Registered() reactor.Interest     { return s.registered }
func (s *Stream) SetRegistered(i reactor.Interest) { s.registered = i }
func (s *Stream) Interest() reactor.Interest       { return s.interest }

// Got reports the most recent readiness delivery recorded by SetGot/the
// service layer's on_ready dispatch.
func (s *Stream) Got() reactor.Interest { return s.got }

// SetGot records the readiness delivery for this edge. Called by the owning
// Service at the top of its on_ready handling, before Flush/FillBuf run.
func (s *Stream) SetGot(ready reactor.Interest) { s.got = ready }

// Shutdown is idempotent: once interest is already None, further calls are
// no-ops. It half-closes the socket both ways (best effort), clears
// interest so the reactor's next reregister pass deregisters and dispatches
// OnClose, and immediately schedules that reregister pass.
func (s *Stream) Shutdown() {
	if s.interest == reactor.None {
		return
	}
	s.got = reactor.Hup
	unix.Shutdown(s.fd, unix.SHUT_RDWR)
	logrus.WithField("token", s.token).Trace("stream shutdown")
	s.interest = reactor.None
	s.loop.Reregister(s.token)
}

// Close releases the underlying fd. Call only after the reactor has
// dispatched OnClose for this stream's token.
func (s *Stream) Close() error {
	return unix.Close(s.fd)
}

// wantWritable/wantReadable clear their respective cached readiness bit so
// edge-triggered rearm works: the next actual edge from the kernel is what
// sets the bit again via the service's on_ready dispatch.
func (s *Stream) wantWritable() { s.got &^= reactor.Writable }
func (s *Stream) wantReadable() { s.got &^= reactor.Readable }

// Write appends to the send buffer. Never fails except on allocation
// failure (which in Go surfaces as an OOM panic, not an error return).
func (s *Stream) Write(p []byte) (int, error) {
	dst := s.wbuf.Writable(len(p))
	n := copy(dst, p)
	s.wbuf.Commit(n)
	return n, nil
}

// Flush attempts to drain the send buffer into the socket. On WouldBlock it
// clears the writable bit so a subsequent writable edge retries; on a
// partial write it consumes only the accepted prefix and leaves the rest
// for the next edge; any other error triggers Shutdown.
func (s *Stream) Flush() error {
	if s.wbuf.IsEmpty() {
		return nil
	}
	n, err := unix.Write(s.fd, s.wbuf.Readable())
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			s.wantWritable()
			return nil
		}
		s.Shutdown()
		return errors.Wrap(err, "stream: write")
	}
	s.wbuf.Consume(n)
	if !s.wbuf.IsEmpty() {
		s.wantWritable()
	}
	return nil
}

// FillBuf ensures the receive buffer holds as much as the socket yields
// without blocking, looping physical reads until WouldBlock or a
// zero-length read (peer closed, which triggers Shutdown), then returns the
// buffered content. wouldBlock is true only when nothing at all is
// buffered and the socket had nothing to offer right now — that is not a
// failure, just "no packet yet". A non-nil err with wouldBlock=false means
// the transport genuinely failed with nothing buffered (Shutdown has
// already been triggered). Whenever anything is buffered, FillBuf returns
// it with err=nil regardless of what the last physical read did.
func (s *Stream) FillBuf() (buf []byte, wouldBlock bool, err error) {
	for {
		dst := s.rbuf.Writable(moreRbufSize)
		n, readErr := unix.Read(s.fd, dst)
		if readErr != nil {
			blocked := readErr == unix.EAGAIN || readErr == unix.EWOULDBLOCK
			if blocked {
				s.wantReadable()
			} else {
				s.Shutdown()
			}
			if s.rbuf.IsEmpty() {
				return nil, blocked, errors.Wrap(readErr, "stream: read")
			}
			break
		}
		s.rbuf.Commit(n)
		if n == 0 {
			s.Shutdown()
			break
		}
	}
	return s.rbuf.Readable(), false, nil
}

// Consume advances the receive buffer's read cursor by n bytes already
// examined via FillBuf.
func (s *Stream) Consume(n int) {
	s.rbuf.Consume(n)
}

// MarkConnected transitions Connecting to false. The Service calls this on
// the first observed writable edge for any stream, outbound or accepted.
func (s *Stream) MarkConnected() {
	s.Connecting = false
}

var _ io.Writer = (*Stream)(nil)
