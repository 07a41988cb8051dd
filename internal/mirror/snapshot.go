// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package mirror

import (
	"github.com/autobrr/axon/internal/models"
)

// Snapshot is an immutable, versioned view of the mirror. Records returned by its
// accessors are shared with later snapshots and must not be modified.
type Snapshot struct {
	Version uint64

	torrents map[string]*models.Torrent
	order    []string
	trackers map[string]*models.Tracker
	server   models.Server
	session  models.Session
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		torrents: make(map[string]*models.Torrent),
		trackers: make(map[string]*models.Tracker),
	}
}

// Len is the number of torrents.
func (s *Snapshot) Len() int {
	return len(s.order)
}

// Torrent looks up a torrent by id.
func (s *Snapshot) Torrent(id string) (*models.Torrent, bool) {
	t, ok := s.torrents[id]
	return t, ok
}

// Tracker looks up a tracker by id.
func (s *Snapshot) Tracker(id string) (*models.Tracker, bool) {
	t, ok := s.trackers[id]
	return t, ok
}

// TrackerHost resolves a tracker id to the host used for matching.
func (s *Snapshot) TrackerHost(id string) string {
	if t, ok := s.trackers[id]; ok {
		return t.DisplayHost()
	}
	return id
}

// IDs returns torrent ids in insertion order.
func (s *Snapshot) IDs() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Range calls fn for every torrent in insertion order until fn returns false.
func (s *Snapshot) Range(fn func(t *models.Torrent) bool) {
	for _, id := range s.order {
		if !fn(s.torrents[id]) {
			return
		}
	}
}

// TorrentTrackers resolves the trackers of a torrent, skipping dangling ids.
func (s *Snapshot) TorrentTrackers(t *models.Torrent) []*models.Tracker {
	out := make([]*models.Tracker, 0, len(t.Trackers))
	for _, id := range t.Trackers {
		if tr, ok := s.trackers[id]; ok {
			out = append(out, tr)
		}
	}
	return out
}

// TrackerCount is the number of trackers.
func (s *Snapshot) TrackerCount() int {
	return len(s.trackers)
}

// CountByStatus tallies torrents per status.
func (s *Snapshot) CountByStatus() map[models.Status]int {
	counts := make(map[models.Status]int, len(models.AllStatuses))
	for _, t := range s.torrents {
		counts[t.Status]++
	}
	return counts
}

func (s *Snapshot) Server() models.Server {
	return s.server
}

func (s *Snapshot) Session() models.Session {
	return s.session
}
