// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/axon/internal/mirror"
	"github.com/autobrr/axon/internal/models"
)

type fakeStats struct {
	state      models.ConnState
	pending    int
	reconnects uint64
	protoErrs  uint64
}

func (f fakeStats) State() models.ConnState { return f.state }
func (f fakeStats) Pending() int            { return f.pending }
func (f fakeStats) Reconnects() uint64      { return f.reconnects }
func (f fakeStats) ProtocolErrors() uint64  { return f.protoErrs }

func seededMirror(t *testing.T) *mirror.Mirror {
	t.Helper()
	raw := func(v any) json.RawMessage {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		return b
	}

	m := mirror.New()
	_, err := m.Replace(mirror.Resources{
		Torrents: []map[string]json.RawMessage{
			{"id": raw("1"), "status": raw("seeding"), "trackers": raw([]string{"a"})},
			{"id": raw("2"), "status": raw("seeding")},
			{"id": raw("3"), "status": raw("error")},
		},
		Server: map[string]json.RawMessage{
			"rate_up":     raw(2048),
			"throttle_up": raw(-1),
			"free_space":  raw(1 << 30),
		},
	})
	require.NoError(t, err)
	return m
}

func TestCollector(t *testing.T) {
	m := seededMirror(t)
	c := NewCollector(m, fakeStats{state: models.StateLive, pending: 2, reconnects: 3, protoErrs: 1})

	// torrents per status + trackers + version + states + pending + reconnects
	// + protocol errors + 2 rates + 1 throttle + 2 transferred + free space
	want := len(models.AllStatuses) + 1 + 1 + 5 + 1 + 1 + 1 + 2 + 1 + 2 + 1
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))
	families, err := reg.Gather()
	require.NoError(t, err)

	got := 0
	for _, mf := range families {
		got += len(mf.GetMetric())
	}
	assert.Equal(t, want, got)
}

func TestServerExposesMetrics(t *testing.T) {
	m := seededMirror(t)
	srv, err := NewServer("127.0.0.1", 0, NewCollector(m, fakeStats{state: models.StateLive, reconnects: 3}))
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)

	tests := []string{
		`axon_torrents{status="seeding"} 2`,
		`axon_torrents{status="error"} 1`,
		`axon_trackers 1`,
		`axon_session_state{state="live"} 1`,
		`axon_session_state{state="disconnected"} 0`,
		`axon_session_reconnects_total 3`,
		`axon_server_rate_bytes_per_second{direction="up"} 2048`,
		`axon_server_throttle_bytes_per_second{direction="up"} -1`,
		`axon_server_free_space_bytes 1.073741824e+09`,
	}
	for _, want := range tests {
		assert.Contains(t, text, want)
	}
	assert.NotContains(t, text, `axon_server_throttle_bytes_per_second{direction="down"}`)

	health, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}
