// Package service ties a reactor.Loop, a codec.ServiceStreamer, and a
// user Handler together into one running TCP service: it owns every
// Listen/Stream it creates, dispatches readiness into
// Connected/Disconnected/Incoming/Outgoing callbacks, and reconnects
// outbound streams on a fixed delay.
package service

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cachefront/reactor/codec"
	"github.com/cachefront/reactor/reactor"
	"github.com/cachefront/reactor/stream"
)

// reconnectDelay is how long a lost outbound connection waits before the
// next attempt, regardless of how the prior attempt failed. A var, not a
// const, so an integration test can shrink it rather than wait out the
// real interval.
var reconnectDelay = 5 * time.Second

// Handler receives the lifecycle callbacks for one Service's connections.
// A Service never calls these concurrently with itself: everything runs on
// the Loop's single goroutine.
type Handler[P any] interface {
	Connected(token reactor.Token)
	Disconnected(token reactor.Token)
	Incoming(token reactor.Token, packet P)
	Outgoing(token reactor.Token, packet P)
}

// Config names a service and the addresses it listens on / dials out to.
type Config struct {
	Name    string   `json:"name"    toml:"name"`
	Listen  []string `json:"listen"  toml:"listen"`
	Connect []string `json:"connect" toml:"connect"`
}

// Service owns a set of Listens and Streams registered under one Loop,
// all multiplexed through a single codec.ServiceStreamer[P] and a single
// Handler[P]. It implements reactor.Handler and reactor.TimerHandler.
type Service[P any] struct {
	name     string
	loop     *reactor.Loop
	streamer codec.ServiceStreamer[P]
	handler  Handler[P]

	listens    map[reactor.Token]*stream.Listen
	streams    map[reactor.Token]*stream.Stream
	connecting map[reactor.TimerToken]string

	log *logrus.Entry
}

// New builds a Service against an already-constructed Loop. Call Start to
// open listeners and dial outbound connections.
func New[P any](loop *reactor.Loop, streamer codec.ServiceStreamer[P], handler Handler[P]) *Service[P] {
	return &Service[P]{
		loop:       loop,
		streamer:   streamer,
		handler:    handler,
		listens:    make(map[reactor.Token]*stream.Listen),
		streams:    make(map[reactor.Token]*stream.Stream),
		connecting: make(map[reactor.TimerToken]string),
		log:        logrus.WithField("component", "service"),
	}
}

// Start binds every Listen address and dials every Connect address in cfg.
// Configured peers are always dialed with reconnect=true: an upstream
// named in the config is expected to be re-established on loss.
func (s *Service[P]) Start(cfg Config) error {
	s.name = cfg.Name
	s.log = s.log.WithField("service", cfg.Name)
	for _, addr := range cfg.Listen {
		expanded, err := expandListenAddr(addr)
		if err != nil {
			return err
		}
		for _, one := range expanded {
			if err := s.listen(one); err != nil {
				return err
			}
		}
	}
	for _, addr := range cfg.Connect {
		if err := s.connect(addr, true); err != nil {
			return err
		}
	}
	return nil
}

// Exit shuts every owned Stream and Listen down and withdraws pending
// reconnect timers, without waiting for the close callbacks: the Loop's
// own drain will dispatch OnClose for each as it observes interest go to
// None.
func (s *Service[P]) Exit() {
	for _, st := range s.streams {
		st.Reconnect = false
		st.Shutdown()
	}
	for _, ln := range s.listens {
		ln.Shutdown()
	}
	for token := range s.connecting {
		s.loop.CancelTimer(token)
	}
	s.connecting = make(map[reactor.TimerToken]string)
}

// Write encodes and sends packet on the stream named by token. An unknown
// token, an encode failure, and a flush failure are all logged and
// otherwise silent: a write failure doesn't propagate to the caller, and
// the stream shuts itself down on a genuine transport error.
func (s *Service[P]) Write(token reactor.Token, packet P) {
	st, ok := s.streams[token]
	if !ok {
		s.log.WithField("token", token).Trace("write to unknown stream")
		return
	}
	s.writeTo(token, st, packet)
}

// Broadcast sends packet to every stream the Service currently owns,
// including outbound streams whose connect has not completed yet.
func (s *Service[P]) Broadcast(packet P) {
	for token, st := range s.streams {
		s.writeTo(token, st, packet)
	}
}

func (s *Service[P]) writeTo(token reactor.Token, st *stream.Stream, packet P) {
	s.handler.Outgoing(token, packet)
	if err := s.streamer.WritePacket(st, packet); err != nil {
		s.log.WithError(err).WithField("token", token).Trace("write encode failed")
		return
	}
	if err := st.Flush(); err != nil {
		s.log.WithError(err).WithField("token", token).Trace("write flush failed")
	}
}

// Shutdown closes the stream named by token and suppresses any reconnect
// it would otherwise trigger.
func (s *Service[P]) Shutdown(token reactor.Token) {
	st, ok := s.streams[token]
	if !ok {
		s.log.WithField("token", token).Trace("shutdown of unknown stream")
		return
	}
	st.Reconnect = false
	st.Shutdown()
}

// StreamsCount reports how many streams are currently owned.
func (s *Service[P]) StreamsCount() int { return len(s.streams) }

func (s *Service[P]) listen(addr string) error {
	ln, err := stream.Bind(s.loop, addr)
	if err != nil {
		return err
	}
	token := s.loop.Register(ln, s)
	ln.SetToken(token)
	s.listens[token] = ln
	s.log.WithField("addr", addr).WithField("token", token).Info("listening")
	return nil
}

// connect dials addr. An AddrError (the address itself is malformed) is
// Configuration-kind and propagates to the caller, which for Start means
// aborting the Service; any other dial failure (refused, unreachable,
// timed out) is Transport-kind and is handled right here by arming the
// usual reconnect timer, the same path a Stream that connected and later
// dropped takes, rather than failing the caller.
func (s *Service[P]) connect(addr string, reconnect bool) error {
	st, err := stream.Dial(s.loop, addr, reconnect)
	if err != nil {
		if _, ok := err.(*stream.AddrError); ok {
			return err
		}
		s.log.WithError(err).WithField("addr", addr).Warn("connect failed, scheduling retry")
		if reconnect {
			s.timerConnect(addr)
		}
		return nil
	}
	token := s.loop.Register(st, s)
	st.SetToken(token)
	s.streams[token] = st
	return nil
}

func (s *Service[P]) timerConnect(addr string) {
	token := s.loop.RegisterTimer(time.Now().Add(reconnectDelay), s)
	s.connecting[token] = addr
}

// Eventer contract (reactor.Handler).

func (s *Service[P]) Eventer(token reactor.Token) (reactor.Eventer, bool) {
	if st, ok := s.streams[token]; ok {
		return st, true
	}
	if ln, ok := s.listens[token]; ok {
		return ln, true
	}
	return nil, false
}

// OnReady dispatches to whichever of streams/listens owns token. An
// unrecognized token forces a reregister so the Loop deregisters and
// reports the stale registration as closed.
func (s *Service[P]) OnReady(token reactor.Token, ready reactor.Interest) {
	if s.onReadyStream(token, ready) {
		return
	}
	if s.onReadyListen(token, ready) {
		return
	}
	s.loop.Reregister(token)
}

func (s *Service[P]) onReadyStream(token reactor.Token, ready reactor.Interest) bool {
	st, ok := s.streams[token]
	if !ok {
		return false
	}
	st.SetGot(ready)

	newConnected := false
	var packets []P

	switch {
	case ready.IsError() || ready.IsHup():
		st.Shutdown()
	default:
		if ready.IsWritable() {
			if st.Connecting {
				s.log.WithField("token", token).WithField("peer", st.PeerAddr).Info("connected")
				newConnected = true
				st.MarkConnected()
			}
			st.Flush()
		}
		if ready.IsReadable() {
			for {
				p, ok, err := s.streamer.ReadPacket(st)
				if err != nil {
					s.log.WithError(err).WithField("token", token).Trace("read failed")
					st.Shutdown()
					break
				}
				if !ok {
					break
				}
				packets = append(packets, p)
			}
		}
	}

	if newConnected {
		s.log.WithField("token", token).Trace("handler connected begin")
		s.handler.Connected(token)
		s.log.WithField("token", token).Trace("handler connected end")
	}
	for _, p := range packets {
		s.log.WithField("token", token).Trace("handler incoming begin")
		s.handler.Incoming(token, p)
		s.log.WithField("token", token).Trace("handler incoming end")
	}
	return true
}

func (s *Service[P]) onReadyListen(token reactor.Token, ready reactor.Interest) bool {
	ln, ok := s.listens[token]
	if !ok {
		return false
	}
	if ready.IsError() || ready.IsHup() {
		ln.Shutdown()
		return true
	}
	if ready.IsReadable() {
		ln.Accept(func(fd int, peerAddr string) {
			st := stream.New(s.loop, fd, false, false, peerAddr)
			newToken := s.loop.Register(st, s)
			st.SetToken(newToken)
			s.streams[newToken] = st
			s.log.WithField("token", newToken).WithField("peer", peerAddr).Trace("accepted")
		})
	}
	return true
}

// OnClose dispatches the removal of whichever endpoint owned token.
func (s *Service[P]) OnClose(token reactor.Token) {
	if s.onCloseStream(token) {
		return
	}
	s.onCloseListen(token)
}

func (s *Service[P]) onCloseStream(token reactor.Token) bool {
	st, ok := s.streams[token]
	if !ok {
		return false
	}
	delete(s.streams, token)
	if st.IsClient && st.Reconnect {
		s.log.WithField("token", token).WithField("peer", st.PeerAddr).Info("disconnected, reconnecting")
		s.timerConnect(st.PeerAddr)
	}
	st.Close()
	s.log.WithField("token", token).Trace("handler disconnected begin")
	s.handler.Disconnected(token)
	s.log.WithField("token", token).Trace("handler disconnected end")
	return true
}

func (s *Service[P]) onCloseListen(token reactor.Token) bool {
	ln, ok := s.listens[token]
	if !ok {
		return false
	}
	delete(s.listens, token)
	ln.Close()
	return true
}

// OnTimer fires a reconnect attempt for the address a prior Stream's
// close scheduled. An unrecognized token (already withdrawn by Exit) is a
// no-op. A Transport-kind dial failure re-arms its own timer inside
// connect, so the retry keeps repeating every reconnectDelay on its own;
// only an AddrError (the address itself became unparseable, which never
// actually happens for an address that dialed successfully once) reaches
// here and stops the drumbeat.
func (s *Service[P]) OnTimer(token reactor.TimerToken) {
	addr, ok := s.connecting[token]
	if !ok {
		return
	}
	delete(s.connecting, token)
	if err := s.connect(addr, true); err != nil {
		s.log.WithError(err).WithField("addr", addr).Warn("reconnect aborted: invalid address")
	}
}

var (
	_ reactor.Handler      = (*Service[int])(nil)
	_ reactor.TimerHandler = (*Service[int])(nil)
)
