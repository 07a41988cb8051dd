// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package tui implements the terminal interface: a login form, the filtered
// torrent list and its overlays.
package tui

import (
	"context"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"

	"github.com/autobrr/axon/internal/session"
)

// programRef is a shared reference to the tea.Program for goroutine sends.
// It's set after tea.NewProgram but before p.Run().
type programRef struct {
	mu sync.Mutex
	p  *tea.Program
}

func (r *programRef) Set(p *tea.Program) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.p = p
}

func (r *programRef) Send(msg tea.Msg) {
	r.mu.Lock()
	p := r.p
	r.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// Clear nils out the program reference, preventing post-exit sends.
func (r *programRef) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.p = nil
}

// Bridge forwards synchronizer events into the running program. Events sent
// before the program starts or after it exits are dropped; the mirror still
// holds the state they describe.
type Bridge struct {
	ref programRef
}

func NewBridge() *Bridge {
	return &Bridge{}
}

// Forward is suitable as session.Options.OnEvent.
func (b *Bridge) Forward(ev session.Event) {
	b.ref.Send(SessionEventMsg{Event: ev})
}

type syncController struct {
	s *session.Synchronizer
}

// NewController adapts a synchronizer to the Controller the model drives.
func NewController(s *session.Synchronizer) Controller {
	return syncController{s: s}
}

func (c syncController) Connect(server, password string) error {
	return c.s.Connect(server, password)
}

func (c syncController) SendControl(ctx context.Context, method string, params any) (Call, error) {
	call, err := c.s.SendControl(ctx, method, params)
	if err != nil {
		return nil, err
	}
	return call, nil
}

// Run starts the program and blocks until the user quits or ctx is canceled.
func Run(ctx context.Context, bridge *Bridge, opts Options) error {
	model := NewModel(opts)

	p := tea.NewProgram(
		model,
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)

	bridge.ref.Set(p)
	defer bridge.ref.Clear()

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return errors.Wrap(err, "tui")
}
