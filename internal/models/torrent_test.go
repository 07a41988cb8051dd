// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawFields(t *testing.T, js string) map[string]json.RawMessage {
	t.Helper()
	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(js), &fields))
	return fields
}

func TestParseStatus(t *testing.T) {
	for _, st := range AllStatuses {
		got, err := ParseStatus(string(st))
		require.NoError(t, err)
		assert.Equal(t, st, got)
	}

	_, err := ParseStatus("stalled")
	require.ErrorIs(t, err, ErrUnknownStatus)
}

func TestTorrentApplyFieldsMergesOnlyPresentFields(t *testing.T) {
	tor := &Torrent{ID: "1"}

	_, _, err := tor.ApplyFields(rawFields(t, `{"name":"Foo","status":"pending","size":1024}`))
	require.NoError(t, err)

	_, _, err = tor.ApplyFields(rawFields(t, `{"status":"hashing"}`))
	require.NoError(t, err)

	assert.Equal(t, "Foo", tor.Name)
	assert.Equal(t, StatusHashing, tor.Status)
	assert.EqualValues(t, 1024, tor.Size)
}

func TestTorrentApplyFieldsErrorMessage(t *testing.T) {
	tor := &Torrent{ID: "1"}

	_, _, err := tor.ApplyFields(rawFields(t, `{"status":"error","error":"disk full"}`))
	require.NoError(t, err)
	assert.Equal(t, "disk full", tor.ErrorMessage())

	_, _, err = tor.ApplyFields(rawFields(t, `{"status":"seeding"}`))
	require.NoError(t, err)
	assert.Empty(t, tor.ErrorMessage())
}

func TestTorrentErrorMessageIndependentOfUpdateSplit(t *testing.T) {
	tests := []struct {
		name    string
		updates []string
		want    string
	}{
		{
			name:    "single_update",
			updates: []string{`{"error":"disk full","status":"error"}`},
			want:    "disk full",
		},
		{
			name:    "error_then_status",
			updates: []string{`{"error":"disk full"}`, `{"status":"error"}`},
			want:    "disk full",
		},
		{
			name:    "status_then_error",
			updates: []string{`{"status":"error"}`, `{"error":"disk full"}`},
			want:    "disk full",
		},
		{
			name:    "left_error_state",
			updates: []string{`{"error":"disk full","status":"error"}`, `{"status":"seeding"}`},
			want:    "",
		},
		{
			name:    "error_cleared",
			updates: []string{`{"error":"disk full","status":"error"}`, `{"error":null}`},
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tor := &Torrent{ID: "1", Status: StatusIdle}
			for _, u := range tt.updates {
				_, _, err := tor.ApplyFields(rawFields(t, u))
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, tor.ErrorMessage())
		})
	}
}

func TestTorrentApplyFieldsThrottles(t *testing.T) {
	tor := &Torrent{ID: "1"}

	_, _, err := tor.ApplyFields(rawFields(t, `{"throttle_up":-1,"throttle_down":2048}`))
	require.NoError(t, err)
	require.NotNil(t, tor.ThrottleUp)
	assert.Equal(t, Unlimited, *tor.ThrottleUp)
	require.NotNil(t, tor.ThrottleDown)
	assert.EqualValues(t, 2048, *tor.ThrottleDown)

	_, _, err = tor.ApplyFields(rawFields(t, `{"throttle_up":null}`))
	require.NoError(t, err)
	assert.Nil(t, tor.ThrottleUp)
	assert.NotNil(t, tor.ThrottleDown)
}

func TestTorrentApplyFieldsRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		fields string
	}{
		{name: "unknown status", fields: `{"status":"stalled"}`},
		{name: "size wrong type", fields: `{"size":"big"}`},
		{name: "progress out of range", fields: `{"progress":140}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tor := &Torrent{ID: "1"}
			_, _, err := tor.ApplyFields(rawFields(t, tt.fields))
			assert.Error(t, err)
		})
	}
}

func TestTorrentApplyFieldsTrackers(t *testing.T) {
	tor := &Torrent{ID: "1"}

	trackers, set, err := tor.ApplyFields(rawFields(t, `{"name":"x"}`))
	require.NoError(t, err)
	assert.False(t, set)
	assert.Nil(t, trackers)

	trackers, set, err = tor.ApplyFields(rawFields(t, `{"trackers":["a","b","a",""]}`))
	require.NoError(t, err)
	assert.True(t, set)
	assert.Equal(t, []string{"a", "b"}, trackers)
}

func TestTorrentCloneIsDeep(t *testing.T) {
	limit := int64(10)
	msg := "oops"
	orig := &Torrent{ID: "1", Trackers: []string{"a"}, ThrottleUp: &limit, Error: &msg}

	c := orig.Clone()
	c.Trackers[0] = "b"
	*c.ThrottleUp = 20
	*c.Error = "changed"

	assert.Equal(t, "a", orig.Trackers[0])
	assert.EqualValues(t, 10, *orig.ThrottleUp)
	assert.Equal(t, "oops", *orig.Error)
}

func TestTrackerDisplayHost(t *testing.T) {
	tests := []struct {
		name    string
		tracker Tracker
		want    string
	}{
		{name: "explicit host", tracker: Tracker{ID: "1", Host: "example.com", URL: "udp://other.org:80"}, want: "example.com"},
		{name: "from url", tracker: Tracker{ID: "1", URL: "udp://tracker.example.com:6969/announce"}, want: "tracker.example.com"},
		{name: "falls back to id", tracker: Tracker{ID: "example.com"}, want: "example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.tracker.DisplayHost())
		})
	}
}

func TestServerRatios(t *testing.T) {
	s := Server{TransferredUp: 300, TransferredDown: 100, SesTransferredUp: 5}

	assert.InDelta(t, 3.0, s.LifetimeRatio(), 0.0001)
	assert.Zero(t, s.SessionRatio())

	require.NoError(t, s.ApplyFields(rawFields(t, `{"ses_transferred_down":10,"free_space":42}`)))
	assert.InDelta(t, 0.5, s.SessionRatio(), 0.0001)
	assert.EqualValues(t, 42, s.FreeSpace)
}
