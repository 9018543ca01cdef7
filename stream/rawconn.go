package stream

import (
	"io"
	"net"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// rawConn is satisfied by *net.TCPConn and *net.TCPListener alike.
type rawConn interface {
	syscall.Conn
	io.Closer
}

// dupFD extracts an independent, non-blocking raw file descriptor from conn
// and closes conn's own handle. The reactor's poller owns the returned fd
// from here on; Go's runtime netpoller never sees it, so Stream/Listen can
// drive their own edge-triggered epoll/kqueue registration without
// fighting the standard library's internal poller for the same fd.
func dupFD(conn rawConn) (int, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return -1, errors.Wrap(err, "stream: no raw conn")
	}
	var dup int
	var dupErr error
	err = raw.Control(func(fd uintptr) {
		dup, dupErr = unix.Dup(int(fd))
	})
	if err != nil {
		return -1, errors.Wrap(err, "stream: control")
	}
	if dupErr != nil {
		return -1, errors.Wrap(dupErr, "stream: dup")
	}
	if err := unix.SetNonblock(dup, true); err != nil {
		unix.Close(dup)
		return -1, errors.Wrap(err, "stream: set nonblocking")
	}
	conn.Close()
	return dup, nil
}

// dialNonblock creates a non-blocking socket and starts an asynchronous
// connect to raddr, tolerating EINPROGRESS: the caller registers the fd
// with the poller and observes connect completion (success or failure) on
// the first writable edge.
func dialNonblock(raddr *net.TCPAddr) (int, error) {
	sa, domain, err := toSockaddr(raddr)
	if err != nil {
		return -1, err
	}
	fd, err := unix.Socket(domain, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, errors.Wrap(err, "stream: socket")
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, errors.Wrap(err, "stream: set nonblocking")
	}
	if err := unix.Connect(fd, sa); err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return -1, errors.Wrap(err, "stream: connect")
	}
	return fd, nil
}

// toSockaddr converts a resolved net.TCPAddr into the unix.Sockaddr and
// address family unix.Connect/unix.Socket expect.
func toSockaddr(addr *net.TCPAddr) (unix.Sockaddr, int, error) {
	ip := addr.IP
	if ip == nil {
		ip = net.IPv4zero
	}
	if ip4 := ip.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		copy(sa.Addr[:], ip4)
		return sa, unix.AF_INET, nil
	}
	ip6 := ip.To16()
	if ip6 == nil {
		return nil, 0, errors.Errorf("stream: unsupported address %v", addr)
	}
	sa := &unix.SockaddrInet6{Port: addr.Port}
	copy(sa.Addr[:], ip6)
	return sa, unix.AF_INET6, nil
}
