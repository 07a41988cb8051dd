// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package mirror

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/axon/internal/models"
)

func fields(t *testing.T, kv map[string]any) map[string]json.RawMessage {
	t.Helper()
	out := make(map[string]json.RawMessage, len(kv))
	for k, v := range kv {
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		out[k] = raw
	}
	return out
}

func upsertTorrent(t *testing.T, id string, kv map[string]any) Update {
	return Update{Kind: KindTorrent, ID: id, Op: OpUpsert, Fields: fields(t, kv)}
}

func TestApplyMergesFields(t *testing.T) {
	m := New()

	_, err := m.Apply(upsertTorrent(t, "1", map[string]any{"name": "Foo", "status": "pending"}))
	require.NoError(t, err)
	snap, err := m.Apply(upsertTorrent(t, "1", map[string]any{"status": "hashing"}))
	require.NoError(t, err)

	got, ok := snap.Torrent("1")
	require.True(t, ok)
	assert.Equal(t, "Foo", got.Name)
	assert.Equal(t, models.StatusHashing, got.Status)
	assert.Equal(t, uint64(2), snap.Version)
}

func TestErrorMessageSurvivesSeparateStatusUpdate(t *testing.T) {
	split := New()
	_, err := split.Apply(upsertTorrent(t, "1", map[string]any{"error": "disk full"}))
	require.NoError(t, err)
	_, err = split.Apply(upsertTorrent(t, "1", map[string]any{"status": "error"}))
	require.NoError(t, err)

	joined := New()
	_, err = joined.Apply(upsertTorrent(t, "1", map[string]any{"error": "disk full", "status": "error"}))
	require.NoError(t, err)

	for _, m := range []*Mirror{split, joined} {
		got, ok := m.Snapshot().Torrent("1")
		require.True(t, ok)
		assert.Equal(t, models.StatusError, got.Status)
		assert.Equal(t, "disk full", got.ErrorMessage())
	}
}

func TestApplyKeepsPublishedSnapshotsImmutable(t *testing.T) {
	m := New()

	first, err := m.Apply(upsertTorrent(t, "1", map[string]any{"name": "Foo", "trackers": []string{"a"}}))
	require.NoError(t, err)

	_, err = m.Apply(upsertTorrent(t, "1", map[string]any{"name": "Bar", "trackers": []string{"b"}}))
	require.NoError(t, err)

	old, _ := first.Torrent("1")
	assert.Equal(t, "Foo", old.Name)
	assert.Equal(t, []string{"a"}, old.Trackers)

	tr, ok := first.Tracker("a")
	require.True(t, ok)
	assert.Equal(t, []string{"1"}, tr.Torrents)
	_, ok = first.Tracker("b")
	assert.False(t, ok)

	cur := m.Snapshot()
	tr, _ = cur.Tracker("a")
	assert.Empty(t, tr.Torrents)
	tr, _ = cur.Tracker("b")
	assert.Equal(t, []string{"1"}, tr.Torrents)
}

func TestApplyRejectsMalformedUpdateAtomically(t *testing.T) {
	tests := []struct {
		name   string
		update Update
	}{
		{
			name:   "bad_progress_type",
			update: Update{Kind: KindTorrent, ID: "1", Op: OpUpsert, Fields: map[string]json.RawMessage{"name": json.RawMessage(`"Changed"`), "progress": json.RawMessage(`"half"`)}},
		},
		{
			name:   "progress_out_of_range",
			update: Update{Kind: KindTorrent, ID: "1", Op: OpUpsert, Fields: map[string]json.RawMessage{"name": json.RawMessage(`"Changed"`), "progress": json.RawMessage(`140`)}},
		},
		{
			name:   "unknown_status",
			update: Update{Kind: KindTorrent, ID: "1", Op: OpUpsert, Fields: map[string]json.RawMessage{"name": json.RawMessage(`"Changed"`), "status": json.RawMessage(`"exploding"`)}},
		},
		{
			name:   "unknown_kind",
			update: Update{Kind: "peer", ID: "1", Op: OpUpsert},
		},
		{
			name:   "unknown_op",
			update: Update{Kind: KindTorrent, ID: "1", Op: "patch"},
		},
		{
			name:   "missing_id",
			update: Update{Kind: KindTorrent, Op: OpUpsert},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New()
			before, err := m.Apply(upsertTorrent(t, "1", map[string]any{"name": "Foo"}))
			require.NoError(t, err)

			after, err := m.Apply(tt.update)
			require.Error(t, err)
			assert.Same(t, before, after)
			assert.Equal(t, before.Version, m.Version())

			got, _ := m.Snapshot().Torrent("1")
			assert.Equal(t, "Foo", got.Name)
		})
	}
}

func TestApplyBatchSkipsOnlyMalformedUpdates(t *testing.T) {
	m := New()

	snap, err := m.ApplyBatch([]Update{
		upsertTorrent(t, "1", map[string]any{"name": "Foo"}),
		{Kind: KindTorrent, ID: "2", Op: OpUpsert, Fields: map[string]json.RawMessage{"size": json.RawMessage(`"big"`)}},
		upsertTorrent(t, "3", map[string]any{"name": "Baz"}),
	})
	require.Error(t, err)

	assert.Equal(t, uint64(1), snap.Version)
	assert.Equal(t, []string{"1", "3"}, snap.IDs())
}

func TestBackreferences(t *testing.T) {
	m := New()

	_, err := m.ApplyBatch([]Update{
		upsertTorrent(t, "t1", map[string]any{"name": "one", "trackers": []string{"tr1", "tr2"}}),
		upsertTorrent(t, "t2", map[string]any{"name": "two", "trackers": []string{"tr1"}}),
		{Kind: KindTracker, ID: "tr1", Op: OpUpsert, Fields: fields(t, map[string]any{"host": "example.com"})},
	})
	require.NoError(t, err)

	snap := m.Snapshot()
	tr1, ok := snap.Tracker("tr1")
	require.True(t, ok)
	assert.Equal(t, "example.com", tr1.Host)
	assert.ElementsMatch(t, []string{"t1", "t2"}, tr1.Torrents)

	tr2, ok := snap.Tracker("tr2")
	require.True(t, ok, "tracker stub created on first reference")
	assert.Equal(t, []string{"t1"}, tr2.Torrents)

	t.Run("remove_torrent_drops_tracker_refs", func(t *testing.T) {
		snap, err := m.Apply(Update{Kind: KindTorrent, ID: "t1", Op: OpRemove})
		require.NoError(t, err)

		_, ok := snap.Torrent("t1")
		assert.False(t, ok)
		tr1, _ := snap.Tracker("tr1")
		assert.Equal(t, []string{"t2"}, tr1.Torrents)
		tr2, _ := snap.Tracker("tr2")
		assert.Empty(t, tr2.Torrents)
		assert.Equal(t, []string{"t2"}, snap.IDs())
	})

	t.Run("remove_tracker_drops_torrent_refs", func(t *testing.T) {
		snap, err := m.Apply(Update{Kind: KindTracker, ID: "tr1", Op: OpRemove})
		require.NoError(t, err)

		_, ok := snap.Tracker("tr1")
		assert.False(t, ok)
		t2, _ := snap.Torrent("t2")
		assert.Empty(t, t2.Trackers)
	})

	t.Run("tracker_torrents_create_torrent_stub", func(t *testing.T) {
		snap, err := m.Apply(Update{Kind: KindTracker, ID: "tr3", Op: OpUpsert, Fields: fields(t, map[string]any{"torrents": []string{"t9"}})})
		require.NoError(t, err)

		t9, ok := snap.Torrent("t9")
		require.True(t, ok)
		assert.Equal(t, []string{"tr3"}, t9.Trackers)
		assert.Equal(t, models.StatusIdle, t9.Status)
	})
}

func TestRemoveUnknownIsNoop(t *testing.T) {
	m := New()
	snap, err := m.Apply(Update{Kind: KindTorrent, ID: "missing", Op: OpRemove})
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Len())
	assert.Equal(t, uint64(1), snap.Version)
}

func TestInsertionOrderPreserved(t *testing.T) {
	m := New()
	for _, id := range []string{"c", "a", "b"} {
		_, err := m.Apply(upsertTorrent(t, id, map[string]any{"name": id}))
		require.NoError(t, err)
	}
	_, err := m.Apply(upsertTorrent(t, "a", map[string]any{"size": 10}))
	require.NoError(t, err)

	var got []string
	m.Snapshot().Range(func(tor *models.Torrent) bool {
		got = append(got, tor.ID)
		return true
	})
	assert.Equal(t, []string{"c", "a", "b"}, got)
}

func TestReplace(t *testing.T) {
	m := New()
	m.SetSession(models.Session{State: models.StateSyncingSnapshot, Server: "ws://daemon"})
	_, err := m.Apply(upsertTorrent(t, "stale", map[string]any{"name": "old"}))
	require.NoError(t, err)
	before := m.Version()

	snap, err := m.Replace(Resources{
		Torrents: []map[string]json.RawMessage{
			fields(t, map[string]any{"id": "1", "name": "A", "trackers": []string{"tr"}}),
			fields(t, map[string]any{"id": "2", "name": "B", "progress": "bad"}),
			fields(t, map[string]any{"name": "no id"}),
		},
		Trackers: []map[string]json.RawMessage{
			fields(t, map[string]any{"id": "tr", "url": "https://tracker.example.com/announce"}),
		},
		Server: fields(t, map[string]any{"rate_up": 100, "ses_transferred_up": 50, "ses_transferred_down": 25}),
	})
	require.Error(t, err)

	assert.Greater(t, snap.Version, before)
	assert.Equal(t, []string{"1"}, snap.IDs())
	_, ok := snap.Torrent("stale")
	assert.False(t, ok)

	tr, ok := snap.Tracker("tr")
	require.True(t, ok)
	assert.Equal(t, []string{"1"}, tr.Torrents)
	assert.Equal(t, "tracker.example.com", snap.TrackerHost("tr"))

	server := snap.Server()
	assert.Equal(t, int64(100), server.RateUp)
	assert.InDelta(t, 2.0, server.SessionRatio(), 0.0001)
	assert.Equal(t, "ws://daemon", snap.Session().Server)
}

func TestSetSessionBumpsVersion(t *testing.T) {
	m := New()
	snap := m.SetSession(models.Session{State: models.StateLive})
	assert.Equal(t, uint64(1), snap.Version)
	assert.Equal(t, models.StateLive, snap.Session().State)
	assert.Equal(t, 0, snap.Len())
}

// model is a reference mirror keeping only the last value written per field.
type model map[string]map[string]any

func (r model) apply(u Update) {
	if u.Op == OpRemove {
		delete(r, u.ID)
		return
	}
	rec, ok := r[u.ID]
	if !ok {
		rec = map[string]any{}
		r[u.ID] = rec
	}
	for k, raw := range u.Fields {
		var v any
		_ = json.Unmarshal(raw, &v)
		rec[k] = v
	}
}

func TestBatchingDoesNotChangeFinalState(t *testing.T) {
	statuses := []string{"idle", "seeding", "leeching", "error", "paused", "pending", "hashing"}
	errs := []any{nil, "disk full", "tracker unreachable"}
	throttles := []any{nil, models.Unlimited, 0, 1500000}
	trackerPool := []string{"tr0", "tr1", "tr2", "tr3", "tr4"}

	for seed := uint64(1); seed <= 25; seed++ {
		t.Run(fmt.Sprintf("seed_%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewPCG(seed, seed*7))

			updates := make([]Update, 0, 200)
			for range 200 {
				id := fmt.Sprintf("t%d", rng.IntN(12))
				if rng.IntN(8) == 0 {
					updates = append(updates, Update{Kind: KindTorrent, ID: id, Op: OpRemove})
					continue
				}
				kv := map[string]any{}
				if rng.IntN(2) == 0 {
					kv["name"] = fmt.Sprintf("name-%d", rng.IntN(1000))
				}
				if rng.IntN(2) == 0 {
					kv["status"] = statuses[rng.IntN(len(statuses))]
				}
				if rng.IntN(2) == 0 {
					kv["size"] = rng.IntN(1 << 30)
				}
				if rng.IntN(2) == 0 {
					kv["progress"] = rng.IntN(101)
				}
				if rng.IntN(3) == 0 {
					kv["error"] = errs[rng.IntN(len(errs))]
				}
				if rng.IntN(4) == 0 {
					kv["throttle_up"] = throttles[rng.IntN(len(throttles))]
				}
				if rng.IntN(4) == 0 {
					kv["throttle_down"] = throttles[rng.IntN(len(throttles))]
				}
				if rng.IntN(3) == 0 {
					perm := rng.Perm(len(trackerPool))[:rng.IntN(len(trackerPool)+1)]
					trackers := make([]string, 0, len(perm))
					for _, i := range perm {
						trackers = append(trackers, trackerPool[i])
					}
					kv["trackers"] = trackers
				}
				updates = append(updates, upsertTorrent(t, id, kv))
			}

			ref := model{}
			single := New()
			for _, u := range updates {
				ref.apply(u)
				_, err := single.Apply(u)
				require.NoError(t, err)
			}

			batched := New()
			for rest := updates; len(rest) > 0; {
				n := min(1+rng.IntN(20), len(rest))
				_, err := batched.ApplyBatch(rest[:n])
				require.NoError(t, err)
				rest = rest[n:]
			}

			for _, snap := range []*Snapshot{single.Snapshot(), batched.Snapshot()} {
				require.Equal(t, len(ref), snap.Len())
				for id, rec := range ref {
					got, ok := snap.Torrent(id)
					require.True(t, ok, id)
					assertMatchesReference(t, rec, got)
				}
				assertBackreferencesSymmetric(t, snap, trackerPool)
			}
			assert.Equal(t, single.Snapshot().IDs(), batched.Snapshot().IDs())
		})
	}
}

func assertMatchesReference(t *testing.T, rec map[string]any, got *models.Torrent) {
	t.Helper()

	if v, ok := rec["name"]; ok {
		assert.Equal(t, v, got.Name)
	}
	status := "idle"
	if v, ok := rec["status"]; ok {
		status = v.(string)
	}
	assert.Equal(t, models.Status(status), got.Status)
	if v, ok := rec["size"]; ok {
		assert.Equal(t, int64(v.(float64)), got.Size)
	}
	if v, ok := rec["progress"]; ok {
		assert.InDelta(t, v.(float64), got.Progress, 0)
	}

	wantErr := ""
	if v, ok := rec["error"].(string); ok && status == "error" {
		wantErr = v
	}
	assert.Equal(t, wantErr, got.ErrorMessage(), got.ID)

	for key, limit := range map[string]*int64{"throttle_up": got.ThrottleUp, "throttle_down": got.ThrottleDown} {
		v, ok := rec[key]
		if !ok || v == nil {
			assert.Nil(t, limit, key)
			continue
		}
		require.NotNil(t, limit, key)
		assert.Equal(t, int64(v.(float64)), *limit, key)
	}

	var wantTrackers []string
	if v, ok := rec["trackers"]; ok {
		for _, id := range v.([]any) {
			wantTrackers = append(wantTrackers, id.(string))
		}
	}
	assert.ElementsMatch(t, wantTrackers, got.Trackers, got.ID)
}

func assertBackreferencesSymmetric(t *testing.T, snap *Snapshot, trackerIDs []string) {
	t.Helper()

	snap.Range(func(tor *models.Torrent) bool {
		for _, trackerID := range tor.Trackers {
			tr, ok := snap.Tracker(trackerID)
			if assert.True(t, ok, trackerID) {
				assert.Contains(t, tr.Torrents, tor.ID)
			}
		}
		return true
	})
	for _, trackerID := range trackerIDs {
		tr, ok := snap.Tracker(trackerID)
		if !ok {
			continue
		}
		for _, torrentID := range tr.Torrents {
			tor, ok := snap.Torrent(torrentID)
			if assert.True(t, ok, torrentID) {
				assert.Contains(t, tor.Trackers, trackerID)
			}
		}
	}
}
