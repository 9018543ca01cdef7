package stream

import (
	"net"
	"strconv"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/cachefront/reactor/reactor"
)

// Listen wraps one bound, non-blocking listening socket. It implements
// reactor.Eventer; its interest is reactor.All (readable and writable)
// until shutdown.
type Listen struct {
	token      reactor.Token
	loop       Reregisterer
	fd         int
	registered reactor.Interest
	interest   reactor.Interest

	Addr string
}

// Bind opens a TCP listener on addr and wraps it as a Listen. The token is
// assigned afterward via SetToken (see Stream's constructors for why).
func Bind(loop Reregisterer, addr string) (*Listen, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "listen: resolve")
	}
	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, errors.Wrap(err, "listen: bind")
	}
	fd, err := dupFD(ln)
	if err != nil {
		return nil, err
	}
	return &Listen{
		loop:     loop,
		fd:       fd,
		interest: reactor.All,
		Addr:     ln.Addr().String(),
	}, nil
}

// SetToken records the Token the Loop allocated for this Listen on
// Register. Call once, immediately after Register returns.
func (l *Listen) SetToken(token reactor.Token) { l.token = token }
func (l *Listen) Token() reactor.Token         { return l.token }

func (l *Listen) FD() int                         { return l.fd }
func (l *Listen) Registered() reactor.Interest     { return l.registered }
func (l *Listen) SetRegistered(i reactor.Interest) { l.registered = i }
func (l *Listen) Interest() reactor.Interest       { return l.interest }

// Shutdown is idempotent. It clears interest and schedules a reregister so
// the reactor deregisters this listener and dispatches OnClose.
func (l *Listen) Shutdown() {
	if l.interest == reactor.None {
		return
	}
	l.interest = reactor.None
	l.loop.Reregister(l.token)
}

// Close releases the underlying fd. Call only after the reactor has
// dispatched OnClose for this listener's token.
func (l *Listen) Close() error {
	return unix.Close(l.fd)
}

// Accept drains pending connections via non-blocking accept4 until
// EAGAIN/EWOULDBLOCK, invoking onAccept for each with the peer's raw fd
// (already non-blocking) and address string. A per-connection accept
// error other than EAGAIN/EWOULDBLOCK is not fatal to the listener: it is
// skipped and the loop keeps draining.
func (l *Listen) Accept(onAccept func(fd int, peerAddr string)) {
	for {
		nfd, sa, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			logrus.WithError(err).WithField("token", l.token).Trace("listen accept err")
			continue
		}
		onAccept(nfd, sockaddrString(sa))
	}
}

func sockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	default:
		return ""
	}
}
