// Package reactor implements a single-threaded, edge-triggered event loop:
// callers register Eventers under opaque Tokens, the Loop multiplexes
// readiness via the platform poller (epoll on Linux, kqueue on the BSD
// family), and dispatch runs entirely on the goroutine that calls Run.
package reactor

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Eventer is anything a Loop can poll: a raw file descriptor plus the
// interest set it currently wants and the interest set the poller last saw.
// Registered/SetRegistered exist so the Loop can diff "wanted" against
// "last told the poller" and skip a syscall when nothing changed.
type Eventer interface {
	FD() int
	Registered() Interest
	SetRegistered(Interest)
	Interest() Interest
}

// Handler owns one or more Tokens' worth of Eventers. Eventer looks up the
// live Eventer for a Token; returning false means the endpoint is already
// gone and the Loop should treat this tick's reregister as a close.
type Handler interface {
	Eventer(token Token) (Eventer, bool)
	OnReady(token Token, ready Interest)
	OnClose(token Token)
}

// TimerHandler receives a one-shot timer firing.
type TimerHandler interface {
	OnTimer(token TimerToken)
}

type registration struct {
	token   Token
	handler Handler
	eventer Eventer
}

type timerArm struct {
	token    TimerToken
	handler  TimerHandler
	deadline time.Time
}

// Loop is not safe for concurrent use; all Register/Reregister/RegisterTimer
// calls and all dispatch happen on the thread running Run.
type Loop struct {
	poller poller

	handlers  map[Token]Handler
	nextToken Token

	toRegister        []registration
	pendingReregister []Token
	pendingSet        map[Token]struct{}

	timerHandlers  map[TimerToken]TimerHandler
	timerHeap      *timerHeap
	cancelled      map[TimerToken]struct{}
	timersToArm    []timerArm
	nextTimerToken TimerToken
}

// New constructs a Loop backed by the platform poller.
func New() (*Loop, error) {
	p, err := newPoller()
	if err != nil {
		return nil, errors.Wrap(err, "reactor: create poller")
	}
	return &Loop{
		poller:        p,
		handlers:      make(map[Token]Handler),
		pendingSet:    make(map[Token]struct{}),
		timerHandlers: make(map[TimerToken]TimerHandler),
		timerHeap:     newTimerHeap(),
		cancelled:     make(map[TimerToken]struct{}),
	}, nil
}

// Register allocates a fresh Token for eventer and defers the poller Add to
// the next drain point, so a handler may call Register from within OnReady
// or OnClose without reentering the poller mid-dispatch.
func (l *Loop) Register(eventer Eventer, handler Handler) Token {
	l.nextToken++
	token := l.nextToken
	l.handlers[token] = handler
	l.toRegister = append(l.toRegister, registration{token: token, handler: handler, eventer: eventer})
	logrus.WithField("token", token).Trace("loop register")
	return token
}

// Reregister marks token for a reregister pass: the Loop will re-read its
// Eventer's current Interest and Modify/Remove the poller registration (or
// dispatch OnClose, if the Eventer or handler is gone) at the next drain.
func (l *Loop) Reregister(token Token) {
	if _, ok := l.pendingSet[token]; ok {
		return
	}
	l.pendingSet[token] = struct{}{}
	l.pendingReregister = append(l.pendingReregister, token)
	logrus.WithField("token", token).Trace("loop reregister")
}

// RegisterTimer schedules handler to fire at deadline and returns a token
// that CancelTimer can use to withdraw it before it fires.
func (l *Loop) RegisterTimer(deadline time.Time, handler TimerHandler) TimerToken {
	l.nextTimerToken++
	token := l.nextTimerToken
	l.timerHandlers[token] = handler
	l.timersToArm = append(l.timersToArm, timerArm{token: token, handler: handler, deadline: deadline})
	return token
}

// CancelTimer withdraws a previously registered timer. Safe to call after
// the timer has already fired (a no-op) or multiple times (idempotent).
func (l *Loop) CancelTimer(token TimerToken) {
	if token == NoTimerToken {
		return
	}
	delete(l.timerHandlers, token)
	l.cancelled[token] = struct{}{}
}

// Run drives the loop until every handler and timer has been withdrawn. It
// is the caller's job to seed at least one Register/RegisterTimer before
// calling Run, or Run returns immediately.
func (l *Loop) Run() error {
	if err := l.tick(); err != nil {
		return err
	}
	events := make([]Event, 0, 128)
	for !l.isEmpty() {
		timeout := l.nextTimeout()
		var err error
		events, err = l.poller.Wait(events[:0], timeout)
		if err != nil {
			return errors.Wrap(err, "reactor: poll")
		}
		for _, ev := range events {
			l.dispatchReady(ev.Token, ev.Ready)
		}
		l.fireExpiredTimers()
		if err := l.tick(); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the poller's kernel resources. Call after Run returns.
func (l *Loop) Close() error {
	return l.poller.Close()
}

func (l *Loop) isEmpty() bool {
	return len(l.handlers) == 0 && len(l.timerHandlers) == 0 &&
		len(l.toRegister) == 0 && len(l.pendingReregister) == 0 && len(l.timersToArm) == 0
}

func (l *Loop) hasPending() bool {
	return len(l.toRegister) > 0 || len(l.pendingReregister) > 0 || len(l.timersToArm) > 0
}

// tick drains the three deferred queues to quiescence. Draining reregisters
// before new registers matters: a close dispatched out of drainReregister
// may synchronously Register a reconnect attempt, and that fresh
// registration must still be picked up by this same tick rather than wait
// for the next readiness wakeup.
func (l *Loop) tick() error {
	for l.hasPending() {
		if err := l.drainReregister(); err != nil {
			return err
		}
		if err := l.drainRegister(); err != nil {
			return err
		}
		l.drainArmTimers()
	}
	return nil
}

// dispatchReady hands a readiness event to its handler. It is the
// handler's/Eventer's own responsibility to call Reregister when its
// interest set actually changes (e.g. Stream.Shutdown clearing interest to
// None) — dispatch itself never forces a reregister pass for a live token,
// only for one whose handler has already vanished.
func (l *Loop) dispatchReady(token Token, ready Interest) {
	handler, ok := l.handlers[token]
	if !ok {
		l.Reregister(token)
		return
	}
	logrus.WithFields(logrus.Fields{"token": token, "ready": ready}).Trace("loop on_ready begin")
	handler.OnReady(token, ready)
	logrus.WithField("token", token).Trace("loop on_ready end")
}

// drainReregister processes the pending reregister queue once. Closed
// handlers are collected and removed from l.handlers during the pass, then
// OnClose is dispatched for each only after the pass completes, so a
// handler whose OnClose reenters Register/Reregister never observes partial
// queue state.
func (l *Loop) drainReregister() error {
	if len(l.pendingReregister) == 0 {
		return nil
	}
	pending := l.pendingReregister
	l.pendingReregister = nil
	l.pendingSet = make(map[Token]struct{})

	type closedEntry struct {
		token   Token
		handler Handler
	}
	var closed []closedEntry

	for _, token := range pending {
		handler, ok := l.handlers[token]
		if !ok {
			continue
		}
		eventer, ok := handler.Eventer(token)
		if !ok {
			delete(l.handlers, token)
			closed = append(closed, closedEntry{token, handler})
			continue
		}
		want := eventer.Interest()
		if want == None {
			if err := l.poller.Remove(eventer.FD()); err != nil {
				return errors.Wrap(err, "reactor: remove")
			}
			delete(l.handlers, token)
			closed = append(closed, closedEntry{token, handler})
			continue
		}
		if want != eventer.Registered() {
			if err := l.poller.Modify(eventer.FD(), token, want); err != nil {
				return errors.Wrap(err, "reactor: modify")
			}
			eventer.SetRegistered(want)
		}
	}

	for _, c := range closed {
		logrus.WithField("token", c.token).Trace("loop on_close")
		c.handler.OnClose(c.token)
	}
	return nil
}

func (l *Loop) drainRegister() error {
	if len(l.toRegister) == 0 {
		return nil
	}
	pending := l.toRegister
	l.toRegister = nil
	for _, r := range pending {
		want := r.eventer.Interest()
		if err := l.poller.Add(r.eventer.FD(), r.token, want); err != nil {
			return errors.Wrap(err, "reactor: add")
		}
		r.eventer.SetRegistered(want)
	}
	return nil
}

func (l *Loop) drainArmTimers() {
	if len(l.timersToArm) == 0 {
		return
	}
	pending := l.timersToArm
	l.timersToArm = nil
	for _, t := range pending {
		l.timerHeap.push(t.deadline, t.token)
	}
}

// nextTimeout returns how long Run should block in poller.Wait: the gap
// until the earliest live (non-cancelled) timer deadline, or -1 to block
// indefinitely when no timer is pending.
func (l *Loop) nextTimeout() time.Duration {
	for l.timerHeap.Len() > 0 {
		deadline, ok := l.timerHeap.peekDeadline()
		if !ok {
			break
		}
		token := (*l.timerHeap)[0].token
		if _, dead := l.cancelled[token]; dead {
			l.timerHeap.pop()
			delete(l.cancelled, token)
			continue
		}
		d := time.Until(deadline)
		if d < 0 {
			d = 0
		}
		return d
	}
	return -1
}

// fireExpiredTimers pops and dispatches every timer whose deadline has
// passed. Cancelled timers are dropped silently.
func (l *Loop) fireExpiredTimers() {
	now := time.Now()
	for l.timerHeap.Len() > 0 {
		deadline, ok := l.timerHeap.peekDeadline()
		if !ok || deadline.After(now) {
			return
		}
		entry := l.timerHeap.pop()
		if _, dead := l.cancelled[entry.token]; dead {
			delete(l.cancelled, entry.token)
			continue
		}
		handler, ok := l.timerHandlers[entry.token]
		if !ok {
			continue
		}
		delete(l.timerHandlers, entry.token)
		handler.OnTimer(entry.token)
	}
}
