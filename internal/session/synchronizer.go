// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package session keeps one authenticated channel to the daemon and applies its
// update stream to the mirror.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/autobrr/axon/internal/mirror"
	"github.com/autobrr/axon/internal/models"
)

// Event is delivered to Options.OnEvent from the synchronizer goroutine.
type Event interface {
	isEvent()
}

type StateChanged struct {
	State models.ConnState
	Err   error
}

type SnapshotPublished struct {
	Version uint64
}

type ProtocolErrorEvent struct {
	Err error
}

func (StateChanged) isEvent()       {}
func (SnapshotPublished) isEvent()  {}
func (ProtocolErrorEvent) isEvent() {}

type Options struct {
	RequestTimeout time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	DialTimeout    time.Duration
	// NotifyInterval limits how often SnapshotPublished is emitted for pushed updates.
	NotifyInterval time.Duration
	OnEvent        func(Event)
}

func (o Options) withDefaults() Options {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 10 * time.Second
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = time.Second
	}
	if o.MaxBackoff < o.InitialBackoff {
		o.MaxBackoff = max(30*time.Second, o.InitialBackoff)
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = defaultDialTimeout
	}
	if o.NotifyInterval <= 0 {
		o.NotifyInterval = 50 * time.Millisecond
	}
	return o
}

type target struct {
	server   string
	password string
	gen      uint64
}

// Synchronizer is the only writer of the mirror.
type Synchronizer struct {
	transport Transport
	mirror    *mirror.Mirror
	onEvent   func(Event)
	notify    *rate.Limiter
	pending   *pendingTable

	mu            sync.Mutex
	opts          Options
	state         models.ConnState
	target        *target
	gen           uint64
	conn          Conn
	sessionCancel context.CancelFunc
	backoff       backoff

	writeMu sync.Mutex

	wake      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once

	reconnects     atomic.Uint64
	protocolErrors atomic.Uint64
}

func New(transport Transport, m *mirror.Mirror, opts Options) *Synchronizer {
	opts = opts.withDefaults()

	onEvent := opts.OnEvent
	if onEvent == nil {
		onEvent = func(Event) {}
	}

	return &Synchronizer{
		transport: transport,
		mirror:    m,
		onEvent:   onEvent,
		notify:    rate.NewLimiter(rate.Every(opts.NotifyInterval), 1),
		pending:   newPendingTable(),
		opts:      opts,
		state:     models.StateDisconnected,
		backoff:   backoff{initial: opts.InitialBackoff, max: opts.MaxBackoff},
		wake:      make(chan struct{}, 1),
		closed:    make(chan struct{}),
	}
}

// Reconfigure applies new timeouts. Running requests keep their deadline.
func (s *Synchronizer) Reconfigure(requestTimeout, initialBackoff, maxBackoff time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	opts := s.opts
	opts.RequestTimeout = requestTimeout
	opts.InitialBackoff = initialBackoff
	opts.MaxBackoff = maxBackoff
	s.opts = opts.withDefaults()
	s.backoff.initial = s.opts.InitialBackoff
	s.backoff.max = s.opts.MaxBackoff
}

func (s *Synchronizer) Mirror() *mirror.Mirror {
	return s.mirror
}

func (s *Synchronizer) State() models.ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pending is the number of outstanding control requests.
func (s *Synchronizer) Pending() int {
	return s.pending.len()
}

func (s *Synchronizer) Reconnects() uint64 {
	return s.reconnects.Load()
}

func (s *Synchronizer) ProtocolErrors() uint64 {
	return s.protocolErrors.Load()
}

// Connect starts a session against server, replacing any current one.
func (s *Synchronizer) Connect(server, password string) error {
	s.mu.Lock()
	if s.state == models.StateClosed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.gen++
	s.target = &target{server: server, password: password, gen: s.gen}
	s.backoff.reset()
	cancel := s.sessionCancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.signal()
	return nil
}

// Disconnect ends the current session without reconnecting.
func (s *Synchronizer) Disconnect() {
	s.mu.Lock()
	s.gen++
	s.target = nil
	cancel := s.sessionCancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.signal()
}

// Close ends the session for good. Run returns afterwards.
func (s *Synchronizer) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.Disconnect()
		s.setState(models.StateClosed, nil)
	})
}

func (s *Synchronizer) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Synchronizer) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// SendControl sends a control request. It fails with ErrNotConnected unless the
// session is live. A ctx that is already done fails with ErrCanceled before
// anything is written. The call fails with ErrCanceled when ctx is done or the
// connection drops, and with ErrRequestTimeout when no response arrives in time.
func (s *Synchronizer) SendControl(ctx context.Context, method string, params any) (*Call, error) {
	if ctx != nil && ctx.Err() != nil {
		return nil, errors.Wrap(ErrCanceled, method)
	}

	s.mu.Lock()
	if s.state != models.StateLive || s.conn == nil {
		s.mu.Unlock()
		return nil, errors.Wrap(ErrNotConnected, method)
	}
	conn := s.conn
	call := s.pending.register(ctx, method, s.opts.RequestTimeout)
	s.mu.Unlock()

	if err := s.write(ctx, conn, call, params); err != nil {
		return nil, err
	}

	log.Debug().Uint64("id", call.ID).Str("method", method).Msg("control request sent")
	return call, nil
}

func (s *Synchronizer) request(ctx context.Context, conn Conn, method string, params any) (*Call, error) {
	s.mu.Lock()
	timeout := s.opts.RequestTimeout
	s.mu.Unlock()

	call := s.pending.register(context.Background(), method, timeout)
	if err := s.write(ctx, conn, call, params); err != nil {
		return nil, err
	}
	return call, nil
}

func (s *Synchronizer) write(ctx context.Context, conn Conn, call *Call, params any) error {
	frame, err := encodeRequest(call.ID, call.Method, params)
	if err != nil {
		s.pending.complete(call.ID, nil, err)
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}

	s.writeMu.Lock()
	err = conn.Write(ctx, frame)
	s.writeMu.Unlock()

	if err != nil {
		terr := &TransportError{Op: "write", Err: err}
		s.pending.complete(call.ID, nil, terr)
		return terr
	}
	return nil
}

// Run owns the connect, receive and reconnect loops. It returns when ctx is done
// or Close is called.
func (s *Synchronizer) Run(ctx context.Context) error {
	defer s.Close()

	for {
		t, ok := s.waitForTarget(ctx)
		if !ok {
			return s.exitErr(ctx)
		}

		err := s.runSession(ctx, t)

		if s.isClosed() || ctx.Err() != nil {
			return s.exitErr(ctx)
		}
		if !s.isCurrent(t.gen) || errors.Is(err, errSuperseded) {
			s.setState(models.StateDisconnected, nil)
			continue
		}

		if IsAuthError(err) {
			log.Warn().Err(err).Str("server", t.server).Msg("authentication rejected")
			s.mu.Lock()
			if s.gen == t.gen {
				s.target = nil
			}
			s.mu.Unlock()
			s.setState(models.StateDisconnected, err)
			continue
		}

		s.mu.Lock()
		delay := s.backoff.next()
		attempts := s.backoff.attempts
		s.mu.Unlock()

		s.reconnects.Add(1)
		log.Warn().Err(err).
			Str("server", t.server).
			Int("attempts", attempts).
			Dur("backoffDuration", delay).
			Msg("connection lost, scheduling reconnect")
		s.setState(models.StateDisconnected, err)

		if !s.sleep(ctx, delay) {
			return s.exitErr(ctx)
		}
	}
}

func (s *Synchronizer) exitErr(ctx context.Context) error {
	if s.isClosed() {
		return nil
	}
	return ctx.Err()
}

func (s *Synchronizer) waitForTarget(ctx context.Context) (target, bool) {
	for {
		s.mu.Lock()
		t := s.target
		s.mu.Unlock()
		if t != nil {
			return *t, true
		}

		select {
		case <-ctx.Done():
			return target{}, false
		case <-s.closed:
			return target{}, false
		case <-s.wake:
		}
	}
}

// sleep waits out a reconnect delay. Connect or Disconnect cut it short.
func (s *Synchronizer) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-s.closed:
		return false
	case <-timer.C:
		return true
	case <-s.wake:
		return true
	}
}

func (s *Synchronizer) isCurrent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}

// handshake walks Authenticating -> SyncingSnapshot -> Live for one connection.
type handshake struct {
	state models.ConnState
	call  *Call
}

func (h *handshake) done() <-chan struct{} {
	if h.call == nil {
		return nil
	}
	return h.call.Done()
}

func (s *Synchronizer) runSession(ctx context.Context, t target) error {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.gen != t.gen {
		s.mu.Unlock()
		return errSuperseded
	}
	s.sessionCancel = cancel
	dialTimeout := s.opts.DialTimeout
	s.mu.Unlock()

	s.setState(models.StateAuthenticating, nil)

	dialCtx, dialCancel := context.WithTimeout(sctx, dialTimeout)
	conn, err := s.transport.Dial(dialCtx, t.server, t.password)
	dialCancel()
	if err != nil {
		if IsAuthError(err) {
			return err
		}
		if sctx.Err() != nil && ctx.Err() == nil {
			return errSuperseded
		}
		return &TransportError{Op: "dial", Err: err}
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer s.teardown(conn)

	frames := make(chan []byte)
	readErr := make(chan error, 1)
	go s.readLoop(sctx, conn, frames, readErr)

	hs := &handshake{state: models.StateAuthenticating}
	hs.call, err = s.request(sctx, conn, MethodAuth, AuthParams{Password: t.password})
	if err != nil {
		return err
	}

	for {
		select {
		case <-sctx.Done():
			if ctx.Err() == nil {
				return errSuperseded
			}
			return ctx.Err()
		case err := <-readErr:
			return &TransportError{Op: "read", Err: err}
		case frame := <-frames:
			s.handleFrame(frame)
		case <-hs.done():
		}

		if err := s.advance(sctx, conn, hs, t); err != nil {
			return err
		}
	}
}

// advance moves the handshake forward once its current call completed. It runs
// right after every frame so a snapshot response is installed before any update
// that followed it on the wire.
func (s *Synchronizer) advance(ctx context.Context, conn Conn, hs *handshake, t target) error {
	if hs.call == nil {
		return nil
	}
	select {
	case <-hs.call.Done():
	default:
		return nil
	}

	result, err := hs.call.Result()
	hs.call = nil

	switch hs.state {
	case models.StateAuthenticating:
		if err != nil {
			var remote *RemoteError
			if errors.As(err, &remote) && remote.Code == codeAuth {
				return errors.Wrap(ErrAuthRejected, remote.Message)
			}
			return errors.Wrap(err, "auth")
		}

		hs.state = models.StateSyncingSnapshot
		s.setState(models.StateSyncingSnapshot, nil)

		hs.call, err = s.request(ctx, conn, MethodSnapshot, struct{}{})
		return err

	case models.StateSyncingSnapshot:
		if err != nil {
			return errors.Wrap(err, "snapshot")
		}
		res, err := decodeSnapshot(result)
		if err != nil {
			return err
		}

		snap, err := s.mirror.Replace(res)
		if err != nil {
			s.protocolError(err)
		}

		s.mu.Lock()
		s.backoff.reset()
		s.mu.Unlock()

		hs.state = models.StateLive
		s.setState(models.StateLive, nil)
		log.Info().
			Str("server", t.server).
			Uint64("version", snap.Version).
			Int("torrents", snap.Len()).
			Msg("session live")
		s.onEvent(SnapshotPublished{Version: s.mirror.Version()})
	}
	return nil
}

func (s *Synchronizer) readLoop(ctx context.Context, conn Conn, frames chan<- []byte, errc chan<- error) {
	for {
		frame, err := conn.Read(ctx)
		if err != nil {
			errc <- err
			return
		}
		select {
		case frames <- frame:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Synchronizer) handleFrame(frame []byte) {
	typ, err := decodeHead(frame)
	if err != nil {
		s.protocolError(err)
		return
	}

	switch typ {
	case frameResponse:
		r, err := decodeResponse(frame)
		if err != nil {
			s.protocolError(err)
			return
		}
		var callErr error
		if r.Error != nil {
			callErr = r.Error
		}
		if !s.pending.complete(r.ID, r.Result, callErr) {
			s.protocolError(&ProtocolError{Reason: "response for unknown request"})
		}

	case frameUpdate:
		if s.State() != models.StateLive {
			log.Trace().Msg("dropping update received before snapshot")
			return
		}
		u, err := decodeUpdate(frame)
		if err != nil {
			s.protocolError(err)
			return
		}
		snap, err := s.mirror.Apply(u)
		if err != nil {
			s.protocolError(&ProtocolError{Reason: "bad update", Err: err})
			return
		}
		if s.notify.Allow() {
			s.onEvent(SnapshotPublished{Version: snap.Version})
		}

	default:
		s.protocolError(&ProtocolError{Reason: "unexpected frame type " + typ})
	}
}

func (s *Synchronizer) protocolError(err error) {
	s.protocolErrors.Add(1)
	log.Debug().Err(err).Msg("dropping message")
	s.onEvent(ProtocolErrorEvent{Err: err})
}

func (s *Synchronizer) teardown(conn Conn) {
	s.mu.Lock()
	s.conn = nil
	s.sessionCancel = nil
	s.mu.Unlock()

	if n := s.pending.failAll(ErrCanceled); n > 0 {
		log.Debug().Int("requests", n).Msg("canceled pending requests")
	}
	if err := conn.Close(); err != nil {
		log.Trace().Err(err).Msg("closing connection")
	}
}

func (s *Synchronizer) setState(state models.ConnState, err error) {
	s.mu.Lock()
	if s.state == models.StateClosed || (s.state == state && err == nil && state != models.StateDisconnected) {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = state
	server := ""
	if s.target != nil {
		server = s.target.server
	}
	reconnecting := s.backoff.attempts > 0 && s.target != nil
	s.mu.Unlock()

	sess := models.Session{
		State:         state,
		Server:        server,
		Authenticated: state == models.StateSyncingSnapshot || state == models.StateLive,
		Reconnecting:  reconnecting && state == models.StateDisconnected,
	}
	if err != nil {
		sess.LastError = err.Error()
	}
	s.mirror.SetSession(sess)

	if prev != state {
		log.Debug().Stringer("from", prev).Stringer("to", state).Msg("session state changed")
	}
	s.onEvent(StateChanged{State: state, Err: err})
}
