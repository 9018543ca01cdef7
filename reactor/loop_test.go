package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakePoller is an in-process stand-in for epoll/kqueue: Add/Modify/Remove
// just record the last interest told to the poller per fd, and tests drive
// readiness by pushing directly onto queued rather than calling Wait.
type fakePoller struct {
	registered map[int]Interest
	removed    []int
	queued     []Event
	closed     bool
}

func newFakePoller() *fakePoller {
	return &fakePoller{registered: make(map[int]Interest)}
}

func (f *fakePoller) Add(fd int, token Token, interest Interest) error {
	f.registered[fd] = interest
	return nil
}

func (f *fakePoller) Modify(fd int, token Token, interest Interest) error {
	f.registered[fd] = interest
	return nil
}

func (f *fakePoller) Remove(fd int) error {
	delete(f.registered, fd)
	f.removed = append(f.removed, fd)
	return nil
}

func (f *fakePoller) Wait(events []Event, timeout time.Duration) ([]Event, error) {
	events = append(events, f.queued...)
	f.queued = nil
	return events, nil
}

func (f *fakePoller) Close() error {
	f.closed = true
	return nil
}

// fakeEventer is a minimal Eventer with a settable desired interest.
type fakeEventer struct {
	fd         int
	want       Interest
	registered Interest
}

func (e *fakeEventer) FD() int                  { return e.fd }
func (e *fakeEventer) Registered() Interest     { return e.registered }
func (e *fakeEventer) SetRegistered(i Interest) { e.registered = i }
func (e *fakeEventer) Interest() Interest       { return e.want }

// recordingHandler tracks OnReady/OnClose calls and optionally reacts to
// OnClose by registering a fresh Eventer, modeling the reconnect-on-close
// pattern.
type recordingHandler struct {
	loop          *Loop
	eventer       *fakeEventer
	readyCalls    []Interest
	closeCalls    int
	onCloseAction func(l *Loop)
	gone          bool
}

func (h *recordingHandler) Eventer(token Token) (Eventer, bool) {
	if h.gone {
		return nil, false
	}
	return h.eventer, true
}

func (h *recordingHandler) OnReady(token Token, ready Interest) {
	h.readyCalls = append(h.readyCalls, ready)
}

func (h *recordingHandler) OnClose(token Token) {
	h.closeCalls++
	if h.onCloseAction != nil {
		h.onCloseAction(h.loop)
	}
}

func newTestLoop() *Loop {
	return &Loop{
		poller:        newFakePoller(),
		handlers:      make(map[Token]Handler),
		pendingSet:    make(map[Token]struct{}),
		timerHandlers: make(map[TimerToken]TimerHandler),
		timerHeap:     newTimerHeap(),
		cancelled:     make(map[TimerToken]struct{}),
	}
}

func TestRegisterDrainsToAdd(t *testing.T) {
	l := newTestLoop()
	ev := &fakeEventer{fd: 5, want: All}
	h := &recordingHandler{loop: l, eventer: ev}
	token := l.Register(ev, h)

	require.NoError(t, l.tick())
	fp := l.poller.(*fakePoller)
	require.Equal(t, All, fp.registered[5])
	require.Equal(t, All, ev.Registered())
	require.Contains(t, l.handlers, token)
}

func TestReregisterModifiesOnInterestChange(t *testing.T) {
	l := newTestLoop()
	ev := &fakeEventer{fd: 7, want: All}
	h := &recordingHandler{loop: l, eventer: ev}
	l.Register(ev, h)
	require.NoError(t, l.tick())

	ev.want = Readable
	token := Token(1)
	l.Reregister(token)
	require.NoError(t, l.tick())

	fp := l.poller.(*fakePoller)
	require.Equal(t, Readable, fp.registered[7])
	require.Equal(t, Readable, ev.Registered())
}

func TestReregisterWithNoneInterestClosesExactlyOnce(t *testing.T) {
	l := newTestLoop()
	ev := &fakeEventer{fd: 9, want: All}
	h := &recordingHandler{loop: l, eventer: ev}
	token := l.Register(ev, h)
	require.NoError(t, l.tick())

	ev.want = None
	l.Reregister(token)
	require.NoError(t, l.tick())

	require.Equal(t, 1, h.closeCalls)
	require.NotContains(t, l.handlers, token)
	fp := l.poller.(*fakePoller)
	require.Contains(t, fp.removed, 9)

	// A second reregister of the same (now-gone) token must not double-close.
	l.Reregister(token)
	require.NoError(t, l.tick())
	require.Equal(t, 1, h.closeCalls)
}

func TestOnCloseReconnectIsPickedUpSameTick(t *testing.T) {
	l := newTestLoop()
	ev := &fakeEventer{fd: 11, want: None}
	h := &recordingHandler{loop: l, eventer: ev}
	token := l.Register(ev, h)
	require.NoError(t, l.tick())

	reconnectEv := &fakeEventer{fd: 22, want: All}
	reconnectHandler := &recordingHandler{loop: l}
	reconnectHandler.eventer = reconnectEv

	registeredDuringClose := false
	h.onCloseAction = func(loop *Loop) {
		loop.Register(reconnectEv, reconnectHandler)
		registeredDuringClose = true
	}

	l.Reregister(token)
	require.NoError(t, l.tick())

	require.True(t, registeredDuringClose)
	fp := l.poller.(*fakePoller)
	require.Equal(t, All, fp.registered[22], "reconnect registration must be applied within the same tick")
	require.Len(t, l.handlers, 1, "the closed handler is gone and the reconnect handler is live")
}

func TestDispatchUnknownTokenIsNoop(t *testing.T) {
	l := newTestLoop()
	l.dispatchReady(Token(999), Readable)
	require.NoError(t, l.tick())
}

func TestTimerFiresAfterDeadline(t *testing.T) {
	l := newTestLoop()
	fired := false
	token := l.RegisterTimer(time.Now().Add(-time.Millisecond), timerFunc(func(TimerToken) { fired = true }))
	require.NoError(t, l.tick())
	l.fireExpiredTimers()
	require.True(t, fired)
	require.NotContains(t, l.timerHandlers, token)
}

func TestCancelledTimerDoesNotFire(t *testing.T) {
	l := newTestLoop()
	fired := false
	token := l.RegisterTimer(time.Now().Add(-time.Millisecond), timerFunc(func(TimerToken) { fired = true }))
	require.NoError(t, l.tick())
	l.CancelTimer(token)
	l.fireExpiredTimers()
	require.False(t, fired)
}

func TestNextTimeoutReflectsEarliestLiveTimer(t *testing.T) {
	l := newTestLoop()
	far := l.RegisterTimer(time.Now().Add(time.Hour), timerFunc(func(TimerToken) {}))
	near := l.RegisterTimer(time.Now().Add(time.Millisecond), timerFunc(func(TimerToken) {}))
	require.NoError(t, l.tick())

	l.CancelTimer(near)
	timeout := l.nextTimeout()
	require.Greater(t, timeout, 30*time.Minute)
	_ = far
}

// timerFunc adapts a plain function to TimerHandler for tests.
type timerFunc func(TimerToken)

func (f timerFunc) OnTimer(token TimerToken) { f(token) }
