// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package mirror

import (
	"maps"
	"slices"

	"github.com/autobrr/axon/internal/models"
)

// writer stages mutations on top of a published snapshot. Maps are cloned up
// front; records are cloned the first time the transaction touches them so
// untouched records stay shared with the base snapshot.
type writer struct {
	torrents map[string]*models.Torrent
	order    []string
	trackers map[string]*models.Tracker
	server   models.Server
	session  models.Session

	ownedTorrents map[string]struct{}
	ownedTrackers map[string]struct{}
	orderOwned    bool
}

func newWriter(base *Snapshot) *writer {
	return &writer{
		torrents:      maps.Clone(base.torrents),
		order:         slices.Clip(base.order),
		trackers:      maps.Clone(base.trackers),
		server:        base.server,
		session:       base.session,
		ownedTorrents: make(map[string]struct{}),
		ownedTrackers: make(map[string]struct{}),
	}
}

func (w *writer) snapshot() *Snapshot {
	if w.torrents == nil {
		w.torrents = make(map[string]*models.Torrent)
	}
	if w.trackers == nil {
		w.trackers = make(map[string]*models.Tracker)
	}
	return &Snapshot{
		torrents: w.torrents,
		order:    w.order,
		trackers: w.trackers,
		server:   w.server,
		session:  w.session,
	}
}

// applyIsolated decodes the update against copies first and only commits when
// decoding succeeded, so a failing update leaves the writer untouched.
func (w *writer) applyIsolated(u Update) error {
	if err := u.validate(); err != nil {
		return err
	}

	switch u.Kind {
	case KindTorrent:
		if u.Op == OpRemove {
			w.removeTorrent(u.ID)
			return nil
		}
		return w.upsertTorrent(u)

	case KindTracker:
		if u.Op == OpRemove {
			w.removeTracker(u.ID)
			return nil
		}
		return w.upsertTracker(u)

	case KindServer:
		if u.Op == OpRemove {
			w.server = models.Server{}
			return nil
		}
		next := w.server.Clone()
		if err := next.ApplyFields(u.Fields); err != nil {
			return err
		}
		w.server = next
	}
	return nil
}

func (w *writer) upsertTorrent(u Update) error {
	existing, found := w.torrents[u.ID]

	var candidate *models.Torrent
	if found {
		candidate = existing.Clone()
	} else {
		candidate = newTorrent(u.ID)
	}

	trackers, trackersSet, err := candidate.ApplyFields(u.Fields)
	if err != nil {
		return err
	}

	w.torrents[u.ID] = candidate
	w.ownedTorrents[u.ID] = struct{}{}
	if !found {
		w.appendOrder(u.ID)
	}

	if trackersSet {
		w.setTorrentTrackers(candidate, trackers)
	}
	return nil
}

func (w *writer) upsertTracker(u Update) error {
	existing, found := w.trackers[u.ID]

	var candidate *models.Tracker
	if found {
		candidate = existing.Clone()
	} else {
		candidate = &models.Tracker{ID: u.ID}
	}

	torrents, torrentsSet, err := candidate.ApplyFields(u.Fields)
	if err != nil {
		return err
	}

	w.trackers[u.ID] = candidate
	w.ownedTrackers[u.ID] = struct{}{}

	if torrentsSet {
		w.setTrackerTorrents(candidate, torrents)
	}
	return nil
}

func (w *writer) removeTorrent(id string) {
	t, ok := w.torrents[id]
	if !ok {
		return
	}
	for _, trackerID := range t.Trackers {
		if tr, ok := w.trackers[trackerID]; ok && slices.Contains(tr.Torrents, id) {
			tr = w.mutableTracker(trackerID)
			tr.Torrents = without(tr.Torrents, id)
		}
	}
	delete(w.torrents, id)
	delete(w.ownedTorrents, id)
	w.removeOrder(id)
}

func (w *writer) removeTracker(id string) {
	tr, ok := w.trackers[id]
	if !ok {
		return
	}
	for _, torrentID := range tr.Torrents {
		if t, ok := w.torrents[torrentID]; ok && slices.Contains(t.Trackers, id) {
			t = w.mutableTorrent(torrentID)
			t.Trackers = without(t.Trackers, id)
		}
	}
	delete(w.trackers, id)
	delete(w.ownedTrackers, id)
}

// setTorrentTrackers replaces the tracker list of t and mirrors the change on
// the tracker side. Unknown trackers are created as stubs.
func (w *writer) setTorrentTrackers(t *models.Torrent, next []string) {
	prev := t.Trackers
	t.Trackers = next

	for _, trackerID := range prev {
		if slices.Contains(next, trackerID) {
			continue
		}
		if tr, ok := w.trackers[trackerID]; ok && slices.Contains(tr.Torrents, t.ID) {
			tr = w.mutableTracker(trackerID)
			tr.Torrents = without(tr.Torrents, t.ID)
		}
	}

	for _, trackerID := range next {
		tr, ok := w.trackers[trackerID]
		if ok && slices.Contains(tr.Torrents, t.ID) {
			continue
		}
		if !ok {
			w.trackers[trackerID] = &models.Tracker{ID: trackerID}
			w.ownedTrackers[trackerID] = struct{}{}
		}
		tr = w.mutableTracker(trackerID)
		tr.Torrents = append(tr.Torrents, t.ID)
	}
}

// setTrackerTorrents is the mirror image of setTorrentTrackers.
func (w *writer) setTrackerTorrents(tr *models.Tracker, next []string) {
	prev := tr.Torrents
	tr.Torrents = next

	for _, torrentID := range prev {
		if slices.Contains(next, torrentID) {
			continue
		}
		if t, ok := w.torrents[torrentID]; ok && slices.Contains(t.Trackers, tr.ID) {
			t = w.mutableTorrent(torrentID)
			t.Trackers = without(t.Trackers, tr.ID)
		}
	}

	for _, torrentID := range next {
		t, ok := w.torrents[torrentID]
		if ok && slices.Contains(t.Trackers, tr.ID) {
			continue
		}
		if !ok {
			w.torrents[torrentID] = newTorrent(torrentID)
			w.ownedTorrents[torrentID] = struct{}{}
			w.appendOrder(torrentID)
		}
		t = w.mutableTorrent(torrentID)
		t.Trackers = append(t.Trackers, tr.ID)
	}
}

func (w *writer) mutableTorrent(id string) *models.Torrent {
	if _, ok := w.ownedTorrents[id]; ok {
		return w.torrents[id]
	}
	c := w.torrents[id].Clone()
	w.torrents[id] = c
	w.ownedTorrents[id] = struct{}{}
	return c
}

func (w *writer) mutableTracker(id string) *models.Tracker {
	if _, ok := w.ownedTrackers[id]; ok {
		return w.trackers[id]
	}
	c := w.trackers[id].Clone()
	w.trackers[id] = c
	w.ownedTrackers[id] = struct{}{}
	return c
}

func (w *writer) appendOrder(id string) {
	w.order = append(w.order, id)
}

func (w *writer) removeOrder(id string) {
	idx := slices.Index(w.order, id)
	if idx < 0 {
		return
	}
	if !w.orderOwned {
		w.order = slices.Clone(w.order)
		w.orderOwned = true
	}
	w.order = slices.Delete(w.order, idx, idx+1)
}

func newTorrent(id string) *models.Torrent {
	return &models.Torrent{ID: id, Status: models.StatusIdle}
}

func without(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
