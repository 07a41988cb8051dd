// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

// ConnState is the lifecycle of one logical daemon session.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateAuthenticating
	StateSyncingSnapshot
	StateLive
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateAuthenticating:
		return "authenticating"
	case StateSyncingSnapshot:
		return "syncing"
	case StateLive:
		return "live"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is the connection half of the mirrored state.
type Session struct {
	State         ConnState
	Server        string
	Authenticated bool
	// Reconnecting is set while a backoff timer is pending after a transport failure.
	Reconnecting bool
	LastError    string
}
