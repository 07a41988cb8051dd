// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package tui

import (
	"context"

	"github.com/autobrr/axon/internal/models"
)

type PanelKind int

const (
	PanelLogin PanelKind = iota
	PanelTorrentList
	PanelDetails
	PanelTrackers
	PanelLimits
	PanelErrorView
	PanelFilterInput
)

func (k PanelKind) String() string {
	switch k {
	case PanelLogin:
		return "login"
	case PanelTorrentList:
		return "torrents"
	case PanelDetails:
		return "details"
	case PanelTrackers:
		return "trackers"
	case PanelLimits:
		return "limits"
	case PanelErrorView:
		return "errors"
	case PanelFilterInput:
		return "filter"
	default:
		return "unknown"
	}
}

// Panel is one entry of the panel stack. Each kind carries only its own focus data.
type Panel interface {
	Kind() PanelKind
}

// LoginPanel is the root before a session is live.
type LoginPanel struct {
	// Field is 0 for the server input and 1 for the password input.
	Field int
	Err   string
}

// ListPanel is the root while a session is live.
type ListPanel struct {
	Cursor int
	// FocusID keeps the cursor on the same torrent when the filtered list changes.
	FocusID string
}

type DetailsPanel struct {
	TorrentID string
}

type TrackersPanel struct {
	TorrentID string
	Cursor    int
}

type ErrorPanel struct {
	TorrentID string
}

type FilterPanel struct{}

// LimitsPanel edits the throttles of one torrent, or the global ones when TorrentID is empty.
type LimitsPanel struct {
	TorrentID string
	// Field is 0 for upload and 1 for download.
	Field   int
	Pending bool
	Err     string

	cancel context.CancelFunc
	seq    uint64
}

func (*LoginPanel) Kind() PanelKind    { return PanelLogin }
func (*ListPanel) Kind() PanelKind     { return PanelTorrentList }
func (*DetailsPanel) Kind() PanelKind  { return PanelDetails }
func (*TrackersPanel) Kind() PanelKind { return PanelTrackers }
func (*ErrorPanel) Kind() PanelKind    { return PanelErrorView }
func (*FilterPanel) Kind() PanelKind   { return PanelFilterInput }
func (*LimitsPanel) Kind() PanelKind   { return PanelLimits }

// Global reports whether the panel edits the daemon wide limits.
func (p *LimitsPanel) Global() bool {
	return p.TorrentID == ""
}

// close cancels an in-flight commit so its result is never applied.
func (p *LimitsPanel) close() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.Pending = false
}

type closer interface {
	close()
}

// Navigator is the panel stack. The first entry is the root and is never popped.
type Navigator struct {
	stack []Panel
	seq   uint64
}

func NewNavigator() *Navigator {
	return &Navigator{stack: []Panel{&LoginPanel{}}}
}

// Focus returns the leaf that receives input.
func (n *Navigator) Focus() Panel {
	return n.stack[len(n.stack)-1]
}

func (n *Navigator) Root() Panel {
	return n.stack[0]
}

// Kinds lists the stack from root to leaf.
func (n *Navigator) Kinds() []PanelKind {
	kinds := make([]PanelKind, len(n.stack))
	for i, p := range n.stack {
		kinds[i] = p.Kind()
	}
	return kinds
}

func (n *Navigator) Depth() int {
	return len(n.stack)
}

// InTextMode reports whether keys go to a text buffer instead of navigation.
func (n *Navigator) InTextMode() bool {
	switch n.Focus().(type) {
	case *LoginPanel, *FilterPanel, *LimitsPanel:
		return true
	}
	return false
}

// List returns the torrent list root, or nil before a session is live.
func (n *Navigator) List() *ListPanel {
	l, _ := n.stack[0].(*ListPanel)
	return l
}

// Find returns the topmost panel of the given kind.
func (n *Navigator) Find(kind PanelKind) Panel {
	for i := len(n.stack) - 1; i >= 0; i-- {
		if n.stack[i].Kind() == kind {
			return n.stack[i]
		}
	}
	return nil
}

// Push opens an overlay on top of the torrent list. Overlays only open from the
// list itself, and a second filter input is never stacked.
func (n *Navigator) Push(p Panel) bool {
	if n.List() == nil {
		return false
	}
	switch p.(type) {
	case *LoginPanel, *ListPanel:
		return false
	}
	if _, ok := n.Focus().(*ListPanel); !ok {
		return false
	}
	if lp, ok := p.(*LimitsPanel); ok {
		n.seq++
		lp.seq = n.seq
	}
	n.stack = append(n.stack, p)
	return true
}

// Pop closes the focused overlay and returns it. The root stays.
func (n *Navigator) Pop() Panel {
	if len(n.stack) == 1 {
		return nil
	}
	leaf := n.stack[len(n.stack)-1]
	n.stack = n.stack[:len(n.stack)-1]
	closePanel(leaf)
	return leaf
}

// SessionChanged applies connection state transitions. It reports whether the
// stack was replaced.
func (n *Navigator) SessionChanged(state models.ConnState, err string) bool {
	switch state {
	case models.StateDisconnected, models.StateAuthenticating:
		if login, ok := n.stack[0].(*LoginPanel); ok && len(n.stack) == 1 {
			if err != "" || state == models.StateAuthenticating {
				login.Err = err
			}
			return false
		}
		n.reset(&LoginPanel{Err: err})
		return true

	case models.StateLive:
		if _, ok := n.stack[0].(*ListPanel); ok {
			return false
		}
		n.reset(&ListPanel{})
		return true
	}
	return false
}

func (n *Navigator) reset(root Panel) {
	for i := len(n.stack) - 1; i >= 0; i-- {
		closePanel(n.stack[i])
	}
	n.stack = []Panel{root}
}

// BeginCommit marks the limits panel as waiting for the daemon. cancel is
// called when the panel goes away before the result arrives.
func (n *Navigator) BeginCommit(p *LimitsPanel, cancel context.CancelFunc) uint64 {
	p.close()
	p.Pending = true
	p.Err = ""
	p.cancel = cancel
	return p.seq
}

// FinishCommit applies a commit result. Results for panels that are no longer
// focused are dropped and reported as stale.
func (n *Navigator) FinishCommit(seq uint64, err error) (applied bool) {
	p, ok := n.Focus().(*LimitsPanel)
	if !ok || p.seq != seq || !p.Pending {
		return false
	}
	p.close()
	if err != nil {
		p.Err = err.Error()
		return true
	}
	n.Pop()
	return true
}

// MoveCursor moves the list cursor by delta over the visible ids.
func (l *ListPanel) MoveCursor(delta int, ids []string) {
	l.Cursor = clamp(l.Cursor+delta, len(ids))
	l.FocusID = ""
	if len(ids) > 0 {
		l.FocusID = ids[l.Cursor]
	}
}

// Sync puts the cursor back on FocusID after the visible ids changed.
func (l *ListPanel) Sync(ids []string) {
	if l.FocusID != "" {
		for i, id := range ids {
			if id == l.FocusID {
				l.Cursor = i
				return
			}
		}
	}
	l.Cursor = clamp(l.Cursor, len(ids))
	if len(ids) > 0 {
		l.FocusID = ids[l.Cursor]
	} else {
		l.FocusID = ""
	}
}

func closePanel(p Panel) {
	if c, ok := p.(closer); ok {
		c.close()
	}
}

func clamp(v, count int) int {
	if count <= 0 || v < 0 {
		return 0
	}
	if v >= count {
		return count - 1
	}
	return v
}
