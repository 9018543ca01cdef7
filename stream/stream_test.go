package stream

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/cachefront/reactor/reactor"
)

type fakeLoop struct {
	reregistered []reactor.Token
}

func (f *fakeLoop) Reregister(token reactor.Token) {
	f.reregistered = append(f.reregistered, token)
}

// socketpair returns two connected, non-blocking AF_UNIX stream fds so
// Stream's raw read/write/shutdown paths can be exercised without binding a
// real TCP listener.
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

func TestFlushDrainsWriteBufferIntoSocket(t *testing.T) {
	a, b := socketpair(t)
	loop := &fakeLoop{}
	s := New(loop, a, false, false, "peer")
	s.SetToken(reactor.Token(1))

	n, err := s.Write([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	require.NoError(t, s.Flush())

	buf := make([]byte, 16)
	got, err := unix.Read(b, buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:got]))
}

func TestFillBufReadsUntilWouldBlock(t *testing.T) {
	a, b := socketpair(t)
	loop := &fakeLoop{}
	s := New(loop, a, false, false, "peer")
	s.SetToken(reactor.Token(1))

	_, err := unix.Write(b, []byte("abcdef"))
	require.NoError(t, err)

	data, wouldBlock, err := s.FillBuf()
	require.NoError(t, err)
	require.False(t, wouldBlock)
	require.Equal(t, "abcdef", string(data))

	s.Consume(3)
	require.Equal(t, "def", string(s.rbuf.Readable()))
}

func TestFillBufOnEmptySocketReturnsWouldBlock(t *testing.T) {
	a, _ := socketpair(t)
	loop := &fakeLoop{}
	s := New(loop, a, false, false, "peer")
	s.SetToken(reactor.Token(1))

	_, wouldBlock, err := s.FillBuf()
	require.Error(t, err)
	require.True(t, wouldBlock)
	require.False(t, s.interest == reactor.None, "a WouldBlock with nothing buffered must not trigger shutdown")
}

func TestPeerCloseTriggersShutdown(t *testing.T) {
	a, b := socketpair(t)
	loop := &fakeLoop{}
	s := New(loop, a, false, false, "peer")
	s.SetToken(reactor.Token(7))

	require.NoError(t, unix.Close(b))

	_, _, _ = s.FillBuf()
	require.Equal(t, reactor.None, s.interest)
	require.Contains(t, loop.reregistered, reactor.Token(7))
}

func TestShutdownIsIdempotent(t *testing.T) {
	a, _ := socketpair(t)
	loop := &fakeLoop{}
	s := New(loop, a, false, false, "peer")
	s.SetToken(reactor.Token(3))

	s.Shutdown()
	s.Shutdown()

	require.Equal(t, []reactor.Token{3}, loop.reregistered)
}

func TestWantBitsClearIndependently(t *testing.T) {
	a, _ := socketpair(t)
	loop := &fakeLoop{}
	s := New(loop, a, false, false, "peer")
	s.SetToken(reactor.Token(1))

	s.got = reactor.All
	s.wantWritable()
	require.True(t, s.got.IsReadable())
	require.False(t, s.got.IsWritable())

	s.got = reactor.All
	s.wantReadable()
	require.False(t, s.got.IsReadable())
	require.True(t, s.got.IsWritable())
}
