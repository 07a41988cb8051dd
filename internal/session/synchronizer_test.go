// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package session

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/axon/internal/mirror"
	"github.com/autobrr/axon/internal/models"
)

const waitFor = 2 * time.Second

var errConnClosed = errors.New("connection closed")

type fakeConn struct {
	toClient   chan []byte
	fromClient chan []byte
	closed     chan struct{}
	closeOnce  sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		toClient:   make(chan []byte, 32),
		fromClient: make(chan []byte, 32),
		closed:     make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-c.toClient:
		return frame, nil
	case <-c.closed:
		return nil, errConnClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(ctx context.Context, frame []byte) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	select {
	case c.fromClient <- frame:
		return nil
	case <-c.closed:
		return errConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

type daemonRequest struct {
	Type   string          `json:"type"`
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

func (c *fakeConn) expect(t *testing.T, method string) daemonRequest {
	t.Helper()
	select {
	case frame := <-c.fromClient:
		var req daemonRequest
		require.NoError(t, json.Unmarshal(frame, &req))
		require.Equal(t, "request", req.Type)
		require.Equal(t, method, req.Method)
		return req
	case <-time.After(waitFor):
		t.Fatalf("no %s request", method)
		return daemonRequest{}
	}
}

func (c *fakeConn) send(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	c.toClient <- data
}

func (c *fakeConn) respond(t *testing.T, id uint64, result any) {
	c.send(t, map[string]any{"type": "response", "id": id, "result": result})
}

func (c *fakeConn) respondError(t *testing.T, id uint64, code, message string) {
	c.send(t, map[string]any{"type": "response", "id": id, "error": map[string]string{"code": code, "message": message}})
}

func (c *fakeConn) push(t *testing.T, resource, id, op string, fields map[string]any) {
	c.send(t, map[string]any{"type": "update", "resource": resource, "id": id, "op": op, "fields": fields})
}

type fakeTransport struct {
	conns   chan *fakeConn
	dials   atomic.Int32
	dialErr func(attempt int32) error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{conns: make(chan *fakeConn, 8)}
}

func (f *fakeTransport) Dial(ctx context.Context, server, password string) (Conn, error) {
	n := f.dials.Add(1)
	if f.dialErr != nil {
		if err := f.dialErr(n); err != nil {
			return nil, err
		}
	}
	c := newFakeConn()
	f.conns <- c
	return c, nil
}

func (f *fakeTransport) next(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-f.conns:
		return c
	case <-time.After(waitFor):
		t.Fatal("no dial")
		return nil
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(e Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) states() []models.ConnState {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.ConnState
	for _, e := range l.events {
		if sc, ok := e.(StateChanged); ok {
			out = append(out, sc.State)
		}
	}
	return out
}

type harness struct {
	sync      *Synchronizer
	transport *fakeTransport
	mirror    *mirror.Mirror
	events    *eventLog
	done      chan error
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()

	h := &harness{
		transport: newFakeTransport(),
		mirror:    mirror.New(),
		events:    &eventLog{},
		done:      make(chan error, 1),
	}
	opts.OnEvent = h.events.add
	if opts.InitialBackoff == 0 {
		opts.InitialBackoff = 10 * time.Millisecond
		opts.MaxBackoff = 40 * time.Millisecond
	}
	h.sync = New(h.transport, h.mirror, opts)

	ctx, cancel := context.WithCancel(t.Context())
	go func() { h.done <- h.sync.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(waitFor):
			t.Error("Run did not return")
		}
	})
	return h
}

func (h *harness) waitState(t *testing.T, state models.ConnState) {
	t.Helper()
	require.Eventually(t, func() bool { return h.sync.State() == state }, waitFor, 5*time.Millisecond, "state %s", state)
}

// goLive runs the handshake on the next connection with the given snapshot.
func (h *harness) goLive(t *testing.T, snapshot map[string]any) *fakeConn {
	t.Helper()
	conn := h.transport.next(t)
	auth := conn.expect(t, MethodAuth)
	conn.respond(t, auth.ID, true)
	snap := conn.expect(t, MethodSnapshot)
	conn.respond(t, snap.ID, snapshot)
	h.waitState(t, models.StateLive)
	return conn
}

func snapshotOf(ids ...string) map[string]any {
	torrents := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		torrents = append(torrents, map[string]any{"id": id, "name": "torrent " + id, "status": "seeding"})
	}
	return map[string]any{"torrents": torrents, "trackers": []any{}, "server": map[string]any{"rate_up": 1}}
}

func TestConnectReachesLive(t *testing.T) {
	h := newHarness(t, Options{})
	require.NoError(t, h.sync.Connect("ws://daemon", "secret"))

	conn := h.transport.next(t)
	auth := conn.expect(t, MethodAuth)

	var params AuthParams
	require.NoError(t, json.Unmarshal(auth.Params, &params))
	assert.Equal(t, "secret", params.Password)
	assert.Equal(t, models.StateAuthenticating, h.sync.State())

	conn.respond(t, auth.ID, true)
	snap := conn.expect(t, MethodSnapshot)
	assert.Equal(t, models.StateSyncingSnapshot, h.sync.State())

	conn.respond(t, snap.ID, snapshotOf("1", "2"))
	h.waitState(t, models.StateLive)

	s := h.mirror.Snapshot()
	assert.Equal(t, []string{"1", "2"}, s.IDs())
	assert.Equal(t, models.StateLive, s.Session().State)
	assert.Equal(t, "ws://daemon", s.Session().Server)
	assert.True(t, s.Session().Authenticated)

	assert.Equal(t, []models.ConnState{
		models.StateAuthenticating,
		models.StateSyncingSnapshot,
		models.StateLive,
	}, h.events.states())
}

func TestAuthRejection(t *testing.T) {
	tests := []struct {
		name    string
		dialErr error
	}{
		{name: "auth_response_error"},
		{name: "handshake_refused", dialErr: errors.Wrap(ErrAuthRejected, "handshake status 401")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Options{})
			if tt.dialErr != nil {
				h.transport.dialErr = func(int32) error { return tt.dialErr }
			}
			require.NoError(t, h.sync.Connect("ws://daemon", "wrong"))

			if tt.dialErr == nil {
				conn := h.transport.next(t)
				auth := conn.expect(t, MethodAuth)
				conn.respondError(t, auth.ID, "auth", "bad password")
			}

			require.Eventually(t, func() bool {
				s := h.mirror.Snapshot().Session()
				return s.State == models.StateDisconnected && s.LastError != ""
			}, waitFor, 5*time.Millisecond)

			time.Sleep(50 * time.Millisecond)
			assert.Equal(t, int32(1), h.transport.dials.Load(), "auth failure must not reconnect")
			assert.Contains(t, h.mirror.Snapshot().Session().LastError, ErrAuthRejected.Error())

			h.events.mu.Lock()
			last := h.events.events[len(h.events.events)-1].(StateChanged)
			h.events.mu.Unlock()
			assert.True(t, IsAuthError(last.Err))
		})
	}
}

func TestSendControlNotConnected(t *testing.T) {
	h := newHarness(t, Options{})

	call, err := h.sync.SendControl(t.Context(), MethodPause, IDsParams{IDs: []string{"1"}})
	require.ErrorIs(t, err, ErrNotConnected)
	assert.Nil(t, call)
}

func TestSendControlRoundTrip(t *testing.T) {
	h := newHarness(t, Options{})
	require.NoError(t, h.sync.Connect("ws://daemon", "secret"))
	conn := h.goLive(t, snapshotOf("1"))

	up := int64(2048)
	call, err := h.sync.SendControl(t.Context(), MethodSetLimits, SetLimitsParams{ID: "1", ThrottleUp: &up})
	require.NoError(t, err)
	assert.Equal(t, 1, h.sync.Pending())

	req := conn.expect(t, MethodSetLimits)
	assert.JSONEq(t, `{"id":"1","throttle_up":2048,"throttle_down":null}`, string(req.Params))

	conn.respond(t, req.ID, map[string]bool{"ok": true})

	result, err := call.Wait(t.Context())
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(result))
	assert.Equal(t, 0, h.sync.Pending())

	t.Run("remote_error", func(t *testing.T) {
		call, err := h.sync.SendControl(t.Context(), MethodRemove, RemoveParams{IDs: []string{"1"}})
		require.NoError(t, err)
		req := conn.expect(t, MethodRemove)
		conn.respondError(t, req.ID, "not_found", "no such torrent")

		_, err = call.Wait(t.Context())
		var remote *RemoteError
		require.ErrorAs(t, err, &remote)
		assert.Equal(t, "not_found", remote.Code)
		assert.Equal(t, models.StateLive, h.sync.State())
	})
}

func TestSendControlTimeout(t *testing.T) {
	h := newHarness(t, Options{RequestTimeout: 40 * time.Millisecond})
	require.NoError(t, h.sync.Connect("ws://daemon", "secret"))
	conn := h.goLive(t, snapshotOf("1"))

	call, err := h.sync.SendControl(t.Context(), MethodPause, IDsParams{IDs: []string{"1"}})
	require.NoError(t, err)
	req := conn.expect(t, MethodPause)

	_, err = call.Wait(t.Context())
	require.ErrorIs(t, err, ErrRequestTimeout)
	assert.Equal(t, 0, h.sync.Pending())

	// a late response is dropped without touching the session
	conn.respond(t, req.ID, true)
	require.Eventually(t, func() bool { return h.sync.ProtocolErrors() == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, models.StateLive, h.sync.State())
}

func TestSendControlCanceledByContext(t *testing.T) {
	h := newHarness(t, Options{})
	require.NoError(t, h.sync.Connect("ws://daemon", "secret"))
	conn := h.goLive(t, snapshotOf("1"))

	ctx, cancel := context.WithCancel(t.Context())
	call, err := h.sync.SendControl(ctx, MethodSetLimits, SetLimitsParams{})
	require.NoError(t, err)
	conn.expect(t, MethodSetLimits)

	cancel()
	<-call.Done()
	_, err = call.Result()
	require.ErrorIs(t, err, ErrCanceled)
	assert.Equal(t, 0, h.sync.Pending())
}

func TestSendControlSkipsWriteWhenAlreadyCanceled(t *testing.T) {
	h := newHarness(t, Options{})
	require.NoError(t, h.sync.Connect("ws://daemon", "secret"))
	conn := h.goLive(t, snapshotOf("1"))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	call, err := h.sync.SendControl(ctx, MethodSetLimits, SetLimitsParams{ID: "1"})
	require.ErrorIs(t, err, ErrCanceled)
	assert.Nil(t, call)
	assert.Equal(t, 0, h.sync.Pending())

	// the next frame on the wire is the following request, not set_limits
	_, err = h.sync.SendControl(t.Context(), MethodPause, IDsParams{IDs: []string{"1"}})
	require.NoError(t, err)
	conn.expect(t, MethodPause)
}

func TestTransportFailureCancelsPendingAndResyncs(t *testing.T) {
	h := newHarness(t, Options{})
	require.NoError(t, h.sync.Connect("ws://daemon", "secret"))
	conn := h.goLive(t, snapshotOf("1", "2"))

	call, err := h.sync.SendControl(t.Context(), MethodSetLimits, SetLimitsParams{ID: "1"})
	require.NoError(t, err)
	conn.expect(t, MethodSetLimits)

	versionBefore := h.mirror.Version()
	require.NoError(t, conn.Close())

	<-call.Done()
	_, err = call.Result()
	require.ErrorIs(t, err, ErrCanceled)

	torrent, ok := h.mirror.Snapshot().Torrent("1")
	require.True(t, ok)
	assert.Nil(t, torrent.ThrottleUp)

	conn2 := h.transport.next(t)
	assert.Equal(t, uint64(1), h.sync.Reconnects())

	auth := conn2.expect(t, MethodAuth)
	conn2.respond(t, auth.ID, true)
	snap := conn2.expect(t, MethodSnapshot)
	conn2.respond(t, snap.ID, snapshotOf("2", "3"))
	h.waitState(t, models.StateLive)

	s := h.mirror.Snapshot()
	assert.Greater(t, s.Version, versionBefore)
	assert.Equal(t, []string{"2", "3"}, s.IDs())
	_, ok = s.Torrent("1")
	assert.False(t, ok)

	assert.Contains(t, h.events.states(), models.StateDisconnected)
}

func TestUpdatesBeforeLiveAreDropped(t *testing.T) {
	h := newHarness(t, Options{})
	require.NoError(t, h.sync.Connect("ws://daemon", "secret"))

	conn := h.transport.next(t)
	auth := conn.expect(t, MethodAuth)
	conn.respond(t, auth.ID, true)
	snap := conn.expect(t, MethodSnapshot)

	conn.push(t, "torrent", "early", "upsert", map[string]any{"name": "early"})
	conn.respond(t, snap.ID, snapshotOf("1"))
	conn.push(t, "torrent", "1", "upsert", map[string]any{"status": "paused"})

	require.Eventually(t, func() bool {
		tor, ok := h.mirror.Snapshot().Torrent("1")
		return ok && tor.Status == models.StatusPaused
	}, waitFor, 5*time.Millisecond)

	_, ok := h.mirror.Snapshot().Torrent("early")
	assert.False(t, ok)
}

func TestProtocolErrorsKeepConnection(t *testing.T) {
	h := newHarness(t, Options{})
	require.NoError(t, h.sync.Connect("ws://daemon", "secret"))
	conn := h.goLive(t, snapshotOf("1"))

	conn.toClient <- []byte("not json")
	conn.send(t, map[string]any{"type": "mystery"})
	conn.push(t, "torrent", "1", "upsert", map[string]any{"progress": "lots"})
	conn.push(t, "torrent", "1", "upsert", map[string]any{"name": "renamed"})

	require.Eventually(t, func() bool {
		tor, _ := h.mirror.Snapshot().Torrent("1")
		return tor.Name == "renamed"
	}, waitFor, 5*time.Millisecond)

	assert.Equal(t, uint64(3), h.sync.ProtocolErrors())
	assert.Equal(t, models.StateLive, h.sync.State())
	assert.Equal(t, int32(1), h.transport.dials.Load())
}

func TestDisconnectStopsReconnecting(t *testing.T) {
	h := newHarness(t, Options{})
	require.NoError(t, h.sync.Connect("ws://daemon", "secret"))
	h.goLive(t, snapshotOf("1"))

	h.sync.Disconnect()
	h.waitState(t, models.StateDisconnected)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), h.transport.dials.Load())
	assert.Equal(t, uint64(0), h.sync.Reconnects())
}

func TestCloseStopsRun(t *testing.T) {
	h := newHarness(t, Options{})
	require.NoError(t, h.sync.Connect("ws://daemon", "secret"))
	h.goLive(t, snapshotOf("1"))

	h.sync.Close()

	select {
	case err := <-h.done:
		require.NoError(t, err)
		h.done <- err
	case <-time.After(waitFor):
		t.Fatal("Run did not return after Close")
	}

	assert.Equal(t, models.StateClosed, h.sync.State())
	assert.ErrorIs(t, h.sync.Connect("ws://daemon", "secret"), ErrClosed)
	_, err := h.sync.SendControl(t.Context(), MethodPause, nil)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		name     string
		attempts int
		want     time.Duration
	}{
		{name: "first", attempts: 1, want: time.Second},
		{name: "second", attempts: 2, want: 2 * time.Second},
		{name: "fourth", attempts: 4, want: 8 * time.Second},
		{name: "capped", attempts: 6, want: 30 * time.Second},
		{name: "huge", attempts: 200, want: 30 * time.Second},
		{name: "zero_treated_as_first", attempts: 0, want: time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, calculateBackoff(tt.attempts, time.Second, 30*time.Second))
		})
	}

	b := backoff{initial: time.Second, max: 4 * time.Second}
	assert.Equal(t, time.Second, b.next())
	assert.Equal(t, 2*time.Second, b.next())
	assert.Equal(t, 4*time.Second, b.next())
	assert.Equal(t, 4*time.Second, b.next())
	b.reset()
	assert.Equal(t, time.Second, b.next())
}
