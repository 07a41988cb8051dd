// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package tui

import (
	"github.com/autobrr/axon/internal/session"
)

// SessionEventMsg carries a synchronizer event into the update loop.
type SessionEventMsg struct {
	Event session.Event
}

// TickMsg is the periodic refresh.
type TickMsg struct{}

// LimitsResultMsg is the outcome of a limits commit.
type LimitsResultMsg struct {
	Seq uint64
	Err error
}

// ControlResultMsg is the outcome of a fire-and-forget control request.
type ControlResultMsg struct {
	Method string
	Err    error
}

// ProfileSavedMsg signals the login was stored for next time.
type ProfileSavedMsg struct {
	Server string
	Err    error
}

// ClearStatusMsg clears the transient status line.
type ClearStatusMsg struct {
	Seq uint64
}
