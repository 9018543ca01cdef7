//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package reactor

import (
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// kqueuePoller is the BSD/darwin readiness primitive. kqueue has no single
// "interest" filter the way epoll does: read and write interest are
// separate filters that must be individually added/deleted, so Modify diffs
// against the Interest it last registered for that fd to issue the minimal
// set of EV_ADD/EV_DELETE changes. kevent's udata is a pointer-sized slot
// with no portable "store an integer" guarantee across the BSD family, so
// the token is kept in an ordinary side table keyed by fd instead.
type kqueuePoller struct {
	fd       int
	tokens   map[int]Token
	interest map[int]Interest
}

func newPoller() (poller, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, errors.Wrap(err, "kqueue")
	}
	return &kqueuePoller{
		fd:       fd,
		tokens:   make(map[int]Token),
		interest: make(map[int]Interest),
	}, nil
}

func kqChange(fd int, filter int16, flags uint16) unix.Kevent_t {
	return unix.Kevent_t{
		Ident:  uint64(fd),
		Filter: filter,
		Flags:  flags,
	}
}

func (p *kqueuePoller) Add(fd int, token Token, interest Interest) error {
	p.tokens[fd] = token
	return p.apply(fd, None, interest)
}

func (p *kqueuePoller) Modify(fd int, token Token, interest Interest) error {
	p.tokens[fd] = token
	return p.apply(fd, p.interest[fd], interest)
}

// apply issues EV_ADD for filters newly wanted (relative to prev) and
// EV_DELETE for filters no longer wanted, then records want as current.
func (p *kqueuePoller) apply(fd int, prev, want Interest) error {
	var changes []unix.Kevent_t
	if want.IsReadable() && !prev.IsReadable() {
		changes = append(changes, kqChange(fd, unix.EVFILT_READ, unix.EV_ADD|unix.EV_CLEAR))
	} else if !want.IsReadable() && prev.IsReadable() {
		changes = append(changes, kqChange(fd, unix.EVFILT_READ, unix.EV_DELETE))
	}
	if want.IsWritable() && !prev.IsWritable() {
		changes = append(changes, kqChange(fd, unix.EVFILT_WRITE, unix.EV_ADD|unix.EV_CLEAR))
	} else if !want.IsWritable() && prev.IsWritable() {
		changes = append(changes, kqChange(fd, unix.EVFILT_WRITE, unix.EV_DELETE))
	}
	p.interest[fd] = want
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.fd, changes, nil, nil)
	return errors.Wrap(err, "kevent register")
}

func (p *kqueuePoller) Remove(fd int) error {
	changes := []unix.Kevent_t{
		kqChange(fd, unix.EVFILT_READ, unix.EV_DELETE),
		kqChange(fd, unix.EVFILT_WRITE, unix.EV_DELETE),
	}
	// Best effort: either filter may not have been registered.
	unix.Kevent(p.fd, changes, nil, nil)
	delete(p.tokens, fd)
	delete(p.interest, fd)
	return nil
}

func (p *kqueuePoller) Wait(events []Event, timeout time.Duration) ([]Event, error) {
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &t
	}
	raw := make([]unix.Kevent_t, 128)
	n, err := unix.Kevent(p.fd, nil, raw, ts)
	if err != nil {
		if err == unix.EINTR {
			return events, nil
		}
		return events, errors.Wrap(err, "kevent poll")
	}
	for i := 0; i < n; i++ {
		fd := int(raw[i].Ident)
		token, ok := p.tokens[fd]
		if !ok {
			continue
		}
		var ready Interest
		switch raw[i].Filter {
		case unix.EVFILT_READ:
			ready |= Readable
		case unix.EVFILT_WRITE:
			ready |= Writable
		}
		if raw[i].Flags&unix.EV_EOF != 0 {
			ready |= Hup
		}
		if raw[i].Flags&unix.EV_ERROR != 0 {
			ready |= Error
		}
		events = append(events, Event{Token: token, Ready: ready})
	}
	return events, nil
}

func (p *kqueuePoller) Close() error {
	return unix.Close(p.fd)
}
