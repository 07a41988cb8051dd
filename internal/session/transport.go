// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package session

import "context"

// Transport opens message channels to a daemon.
type Transport interface {
	// Dial connects and returns ErrAuthRejected (wrapped) when the handshake
	// itself refuses the credentials.
	Dial(ctx context.Context, server, password string) (Conn, error)
}

// Conn is one framed, bidirectional channel. Read is only called from a single
// goroutine; Write may be called concurrently with Read.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, frame []byte) error
	Close() error
}
