package service

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/cachefront/reactor/codec"
	"github.com/cachefront/reactor/reactor"
	"github.com/cachefront/reactor/stream"
)

// testPacket is a 1-byte stand-in packet so these tests can exercise
// Service's dispatch logic without pulling in a real wire codec.
type testPacket struct{ v byte }

type fakeStreamer struct{}

func (fakeStreamer) WritePacket(w io.Writer, p testPacket) error {
	_, err := w.Write([]byte{p.v})
	return err
}

func (fakeStreamer) ReadPacket(r codec.Peeker) (testPacket, bool, error) {
	buf, wouldBlock, err := r.FillBuf()
	if wouldBlock {
		return testPacket{}, false, nil
	}
	if err != nil {
		return testPacket{}, false, err
	}
	if len(buf) < 1 {
		return testPacket{}, false, nil
	}
	v := buf[0]
	r.Consume(1)
	return testPacket{v: v}, true, nil
}

var _ codec.ServiceStreamer[testPacket] = fakeStreamer{}

type fakeHandler struct {
	connected    []reactor.Token
	disconnected []reactor.Token
	incoming     []testPacket
	outgoing     []testPacket
}

func (h *fakeHandler) Connected(token reactor.Token)    { h.connected = append(h.connected, token) }
func (h *fakeHandler) Disconnected(token reactor.Token) { h.disconnected = append(h.disconnected, token) }
func (h *fakeHandler) Incoming(token reactor.Token, p testPacket) {
	h.incoming = append(h.incoming, p)
}
func (h *fakeHandler) Outgoing(token reactor.Token, p testPacket) {
	h.outgoing = append(h.outgoing, p)
}

func newTestService(t *testing.T) (*Service[testPacket], *fakeHandler) {
	t.Helper()
	loop, err := reactor.New()
	require.NoError(t, err)
	t.Cleanup(func() { loop.Close() })
	h := &fakeHandler{}
	return New[testPacket](loop, fakeStreamer{}, h), h
}

func socketpair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(fds[0], true))
	require.NoError(t, unix.SetNonblock(fds[1], true))
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func (s *Service[P]) addStream(token reactor.Token, st *stream.Stream) {
	st.SetToken(token)
	s.streams[token] = st
}

func TestOnReadyStreamConnectedThenIncoming(t *testing.T) {
	s, h := newTestService(t)
	a, b := socketpair(t)
	st := stream.New(s.loop, a, true, false, "peer")
	s.addStream(reactor.Token(1), st)

	s.OnReady(reactor.Token(1), reactor.Writable)
	require.Equal(t, []reactor.Token{1}, h.connected)
	require.False(t, st.Connecting)

	_, err := unix.Write(b, []byte{5})
	require.NoError(t, err)
	s.OnReady(reactor.Token(1), reactor.Readable)
	require.Equal(t, []testPacket{{v: 5}}, h.incoming)
}

func TestWriteCallsOutgoingThenEncodesAndFlushes(t *testing.T) {
	s, h := newTestService(t)
	a, b := socketpair(t)
	st := stream.New(s.loop, a, false, false, "peer")
	s.addStream(reactor.Token(1), st)

	s.Write(reactor.Token(1), testPacket{v: 9})
	require.Equal(t, []testPacket{{v: 9}}, h.outgoing)

	buf := make([]byte, 1)
	n, err := unix.Read(b, buf)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, byte(9), buf[0])
}

func TestBroadcastReachesEveryStream(t *testing.T) {
	s, _ := newTestService(t)
	a1, b1 := socketpair(t)
	a2, b2 := socketpair(t)
	s.addStream(reactor.Token(1), stream.New(s.loop, a1, false, false, "p1"))
	s.addStream(reactor.Token(2), stream.New(s.loop, a2, false, false, "p2"))

	s.Broadcast(testPacket{v: 7})

	buf := make([]byte, 1)
	n, err := unix.Read(b1, buf)
	require.NoError(t, err)
	require.Equal(t, byte(7), buf[0])
	n, err = unix.Read(b2, buf)
	require.NoError(t, err)
	require.Equal(t, byte(7), buf[0])
	_ = n
}

// TestShutdownSuppressesReconnect: calling Shutdown clears Reconnect
// before the stream's OnClose would otherwise schedule a reconnect timer.
func TestShutdownSuppressesReconnect(t *testing.T) {
	s, h := newTestService(t)
	a, _ := socketpair(t)
	st := stream.New(s.loop, a, true, true, "peer")
	s.addStream(reactor.Token(1), st)

	s.Shutdown(reactor.Token(1))
	require.False(t, st.Reconnect)

	s.OnClose(reactor.Token(1))
	require.Equal(t, []reactor.Token{1}, h.disconnected)
	require.Empty(t, s.connecting, "a shutdown stream must not schedule a reconnect")
}

// TestOnCloseStreamSchedulesReconnect: a client stream that closes
// with Reconnect still true arms a reconnect timer for its peer address.
func TestOnCloseStreamSchedulesReconnect(t *testing.T) {
	s, h := newTestService(t)
	a, _ := socketpair(t)
	st := stream.New(s.loop, a, true, true, "203.0.113.1:9000")
	s.addStream(reactor.Token(1), st)

	s.OnClose(reactor.Token(1))
	require.Equal(t, []reactor.Token{1}, h.disconnected)
	require.Len(t, s.connecting, 1)
	for _, addr := range s.connecting {
		require.Equal(t, "203.0.113.1:9000", addr)
	}
}

func TestOnCloseAcceptedStreamNeverReconnects(t *testing.T) {
	s, h := newTestService(t)
	a, _ := socketpair(t)
	st := stream.New(s.loop, a, false, false, "peer")
	s.addStream(reactor.Token(1), st)

	s.OnClose(reactor.Token(1))
	require.Equal(t, []reactor.Token{1}, h.disconnected)
	require.Empty(t, s.connecting)
}

func TestOnReadyUnknownTokenReregistersRatherThanPanics(t *testing.T) {
	s, _ := newTestService(t)
	require.NotPanics(t, func() {
		s.OnReady(reactor.Token(999), reactor.Readable)
	})
}

func TestOnTimerDialsAndClearsConnectingEntry(t *testing.T) {
	s, _ := newTestService(t)
	// Use a listener on loopback so the reconnect dial succeeds.
	ln, err := stream.Bind(s.loop, "127.0.0.1:0")
	require.NoError(t, err)
	token := s.loop.Register(ln, s)
	ln.SetToken(token)
	s.listens[token] = ln

	timerToken := s.loop.RegisterTimer(time.Now(), s)
	s.connecting[timerToken] = ln.Addr

	s.OnTimer(timerToken)
	require.Empty(t, s.connecting)
	require.Len(t, s.streams, 1)
}
