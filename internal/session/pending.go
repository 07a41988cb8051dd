// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Call is the handle of an outstanding control request.
type Call struct {
	ID     uint64
	Method string

	done   chan struct{}
	result json.RawMessage
	err    error

	stopTimer  func() bool
	stopCancel func() bool
}

func newCall(id uint64, method string) *Call {
	return &Call{ID: id, Method: method, done: make(chan struct{})}
}

// Done is closed once the call has a result.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Result returns the raw result or error. It must only be called after Done is closed.
func (c *Call) Result() (json.RawMessage, error) {
	return c.result, c.err
}

// Wait blocks until the call completes or ctx is done.
func (c *Call) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-c.done:
		return c.result, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Decode unmarshals the result into v. It must only be called after Done is closed.
func (c *Call) Decode(v any) error {
	if c.err != nil {
		return c.err
	}
	if len(c.result) == 0 || v == nil {
		return nil
	}
	if err := json.Unmarshal(c.result, v); err != nil {
		return &ProtocolError{Reason: "malformed " + c.Method + " result", Err: err}
	}
	return nil
}

func (c *Call) finish(result json.RawMessage, err error) {
	if c.stopTimer != nil {
		c.stopTimer()
	}
	if c.stopCancel != nil {
		c.stopCancel()
	}
	c.result = result
	c.err = err
	close(c.done)
}

// pendingTable correlates responses with outstanding calls. Whoever removes a
// call from the table completes it, so every call completes exactly once.
type pendingTable struct {
	mu    sync.Mutex
	next  uint64
	calls map[uint64]*Call
}

func newPendingTable() *pendingTable {
	return &pendingTable{calls: make(map[uint64]*Call)}
}

// register allocates an id and arms the timeout and, when ctx is non-nil,
// cancellation tied to ctx.
func (p *pendingTable) register(ctx context.Context, method string, timeout time.Duration) *Call {
	p.mu.Lock()
	p.next++
	call := newCall(p.next, method)
	p.calls[call.ID] = call

	if timeout > 0 {
		t := time.AfterFunc(timeout, func() {
			p.complete(call.ID, nil, errors.Wrapf(ErrRequestTimeout, "%s after %s", method, timeout))
		})
		call.stopTimer = t.Stop
	}
	if ctx != nil {
		call.stopCancel = context.AfterFunc(ctx, func() {
			p.complete(call.ID, nil, errors.Wrap(ErrCanceled, method))
		})
	}
	p.mu.Unlock()

	return call
}

// complete resolves the call with the given id. It reports false for unknown or
// already completed ids.
func (p *pendingTable) complete(id uint64, result json.RawMessage, err error) bool {
	p.mu.Lock()
	call, ok := p.calls[id]
	if ok {
		delete(p.calls, id)
	}
	p.mu.Unlock()

	if !ok {
		return false
	}
	call.finish(result, err)
	return true
}

// failAll completes every outstanding call with err.
func (p *pendingTable) failAll(err error) int {
	p.mu.Lock()
	calls := p.calls
	p.calls = make(map[uint64]*Call)
	p.mu.Unlock()

	for _, call := range calls {
		call.finish(nil, errors.Wrap(err, call.Method))
	}
	return len(calls)
}

func (p *pendingTable) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}
