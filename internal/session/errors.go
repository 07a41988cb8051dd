// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package session

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrNotConnected   = errors.New("not connected")
	ErrRequestTimeout = errors.New("request timed out")
	ErrCanceled       = errors.New("request canceled")
	ErrAuthRejected   = errors.New("authentication rejected")
	ErrClosed         = errors.New("session closed")

	errSuperseded = errors.New("session superseded")
)

// TransportError is a read, write or dial failure on the channel. It always ends the
// current connection.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError is a message the client could not make sense of. Only that message is dropped.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err == nil {
		return "protocol: " + e.Reason
	}
	return fmt.Sprintf("protocol: %s: %v", e.Reason, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// RemoteError is an error response sent by the daemon.
type RemoteError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return "daemon error: " + e.Code
	}
	return fmt.Sprintf("daemon error %s: %s", e.Code, e.Message)
}

// IsAuthError reports whether err means the credentials were refused.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuthRejected)
}
