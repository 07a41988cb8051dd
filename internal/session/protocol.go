// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package session

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/autobrr/axon/internal/mirror"
)

const (
	frameRequest  = "request"
	frameResponse = "response"
	frameUpdate   = "update"
)

// Daemon methods.
const (
	MethodAuth      = "auth"
	MethodSnapshot  = "snapshot"
	MethodSetLimits = "set_limits"
	MethodPause     = "pause"
	MethodResume    = "resume"
	MethodRemove    = "remove"
)

// codeAuth is the error code the daemon uses for rejected credentials.
const codeAuth = "auth"

type AuthParams struct {
	Password string `json:"password"`
}

// SetLimitsParams changes throttles of one torrent, or the global ones when ID is empty.
// A nil throttle follows the global limit, -1 is unlimited.
type SetLimitsParams struct {
	ID           string `json:"id,omitempty"`
	ThrottleUp   *int64 `json:"throttle_up"`
	ThrottleDown *int64 `json:"throttle_down"`
}

type IDsParams struct {
	IDs []string `json:"ids"`
}

type RemoveParams struct {
	IDs       []string `json:"ids"`
	Artifacts bool     `json:"artifacts"`
}

type requestFrame struct {
	Type   string `json:"type"`
	ID     uint64 `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type responseFrame struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RemoteError    `json:"error,omitempty"`
}

type frameHead struct {
	Type string `json:"type"`
}

func encodeRequest(id uint64, method string, params any) ([]byte, error) {
	data, err := json.Marshal(requestFrame{Type: frameRequest, ID: id, Method: method, Params: params})
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s request", method)
	}
	return data, nil
}

func decodeHead(frame []byte) (string, error) {
	var head frameHead
	if err := json.Unmarshal(frame, &head); err != nil {
		return "", &ProtocolError{Reason: "malformed frame", Err: err}
	}
	return head.Type, nil
}

func decodeResponse(frame []byte) (responseFrame, error) {
	var r responseFrame
	if err := json.Unmarshal(frame, &r); err != nil {
		return r, &ProtocolError{Reason: "malformed response", Err: err}
	}
	if r.ID == 0 {
		return r, &ProtocolError{Reason: "response without id"}
	}
	return r, nil
}

func decodeUpdate(frame []byte) (mirror.Update, error) {
	var u mirror.Update
	if err := json.Unmarshal(frame, &u); err != nil {
		return u, &ProtocolError{Reason: "malformed update", Err: err}
	}
	return u, nil
}

func decodeSnapshot(result json.RawMessage) (mirror.Resources, error) {
	var res mirror.Resources
	if len(result) == 0 {
		return res, &ProtocolError{Reason: "empty snapshot"}
	}
	if err := json.Unmarshal(result, &res); err != nil {
		return res, &ProtocolError{Reason: "malformed snapshot", Err: err}
	}
	return res, nil
}
