//go:build linux

package reactor

import (
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// epollPoller is the Linux readiness primitive: edge-triggered
// epoll_create1/epoll_ctl/epoll_wait via golang.org/x/sys/unix.
type epollPoller struct {
	fd int
}

func newPoller() (poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "epoll_create1")
	}
	return &epollPoller{fd: fd}, nil
}

func toEpollEvents(i Interest) uint32 {
	var ev uint32 = unix.EPOLLET
	if i.IsReadable() {
		ev |= unix.EPOLLIN
	}
	if i.IsWritable() {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (p *epollPoller) Add(fd int, token Token, interest Interest) error {
	ev := unix.EpollEvent{Events: toEpollEvents(interest)}
	setEpollToken(&ev, token)
	return errors.Wrap(unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &ev), "epoll_ctl add")
}

func (p *epollPoller) Modify(fd int, token Token, interest Interest) error {
	ev := unix.EpollEvent{Events: toEpollEvents(interest)}
	setEpollToken(&ev, token)
	return errors.Wrap(unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &ev), "epoll_ctl mod")
}

func (p *epollPoller) Remove(fd int) error {
	err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil)
	if err != nil && err != unix.ENOENT {
		return errors.Wrap(err, "epoll_ctl del")
	}
	return nil
}

func (p *epollPoller) Wait(events []Event, timeout time.Duration) ([]Event, error) {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	raw := make([]unix.EpollEvent, 128)
	n, err := unix.EpollWait(p.fd, raw, ms)
	if err != nil {
		if err == unix.EINTR {
			return events, nil
		}
		return events, errors.Wrap(err, "epoll_wait")
	}
	for i := 0; i < n; i++ {
		var ready Interest
		if raw[i].Events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0 {
			ready |= Readable
		}
		if raw[i].Events&unix.EPOLLOUT != 0 {
			ready |= Writable
		}
		if raw[i].Events&unix.EPOLLERR != 0 {
			ready |= Error
		}
		if raw[i].Events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
			ready |= Hup
		}
		events = append(events, Event{Token: epollToken(&raw[i]), Ready: ready})
	}
	return events, nil
}

func (p *epollPoller) Close() error {
	return unix.Close(p.fd)
}

// setEpollToken/epollToken stash the Token across the epoll_data union's Fd
// and Pad halves so Wait can hand back a Token directly without an
// fd->token side table.
func setEpollToken(ev *unix.EpollEvent, token Token) {
	ev.Fd = int32(uint32(token))
	ev.Pad = int32(uint32(token >> 32))
}

func epollToken(ev *unix.EpollEvent) Token {
	return Token(uint32(ev.Fd)) | Token(uint32(ev.Pad))<<32
}
