// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package mirror holds the local copy of the daemon's torrents, trackers and
// server statistics. A single writer mutates it; readers work on immutable
// snapshots published through an atomic pointer swap.
package mirror

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/axon/internal/models"
)

type Kind string

const (
	KindTorrent Kind = "torrent"
	KindTracker Kind = "tracker"
	KindServer  Kind = "server"
)

type Op string

const (
	OpUpsert Op = "upsert"
	OpRemove Op = "remove"
)

var (
	ErrUnknownKind = errors.New("unknown resource kind")
	ErrUnknownOp   = errors.New("unknown update operation")
	ErrMissingID   = errors.New("update without resource id")
)

// Update is a single pushed change to one resource.
type Update struct {
	Kind   Kind                       `json:"resource"`
	ID     string                     `json:"id"`
	Op     Op                         `json:"op"`
	Fields map[string]json.RawMessage `json:"fields,omitempty"`
}

func (u Update) validate() error {
	switch u.Kind {
	case KindTorrent, KindTracker:
		if u.ID == "" {
			return errors.Wrapf(ErrMissingID, "%s", u.Kind)
		}
	case KindServer:
	default:
		return errors.Wrapf(ErrUnknownKind, "%q", u.Kind)
	}

	switch u.Op {
	case OpUpsert, OpRemove:
	default:
		return errors.Wrapf(ErrUnknownOp, "%q", u.Op)
	}
	return nil
}

// Resources is the full listing returned when a session (re)synchronizes.
type Resources struct {
	Torrents []map[string]json.RawMessage `json:"torrents"`
	Trackers []map[string]json.RawMessage `json:"trackers"`
	Server   map[string]json.RawMessage   `json:"server"`
}

// Mirror is the canonical in-memory state. Only the session synchronizer writes to it.
type Mirror struct {
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
}

func New() *Mirror {
	m := &Mirror{}
	m.current.Store(emptySnapshot())
	return m
}

// Snapshot returns the latest published snapshot. It never changes after publication.
func (m *Mirror) Snapshot() *Snapshot {
	return m.current.Load()
}

// Version is shorthand for Snapshot().Version.
func (m *Mirror) Version() uint64 {
	return m.current.Load().Version
}

// Apply applies one update as a single atomic mutation. On error nothing is published.
func (m *Mirror) Apply(u Update) (*Snapshot, error) {
	return m.ApplyBatch([]Update{u})
}

// ApplyBatch applies updates in order and publishes once. A malformed update is
// skipped without affecting the others; the returned error joins every skipped update.
func (m *Mirror) ApplyBatch(updates []Update) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := newWriter(m.current.Load())

	var errs []error
	applied := 0
	for _, u := range updates {
		if err := w.applyIsolated(u); err != nil {
			errs = append(errs, errors.Wrapf(err, "%s %s %s", u.Op, u.Kind, u.ID))
			continue
		}
		applied++
	}

	if applied == 0 {
		return m.current.Load(), joinErrors(errs)
	}

	return m.publish(w), joinErrors(errs)
}

// Replace drops every resource and installs the given listing. Malformed records are
// skipped and logged; the replacement itself always happens.
func (m *Mirror) Replace(res Resources) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.current.Load()
	fresh := emptySnapshot()
	fresh.Version = prev.Version
	fresh.session = prev.session

	w := newWriter(fresh)

	var errs []error
	for _, fields := range res.Torrents {
		if err := w.applyIsolated(Update{Kind: KindTorrent, ID: idOf(fields), Op: OpUpsert, Fields: fields}); err != nil {
			errs = append(errs, err)
		}
	}
	for _, fields := range res.Trackers {
		if err := w.applyIsolated(Update{Kind: KindTracker, ID: idOf(fields), Op: OpUpsert, Fields: fields}); err != nil {
			errs = append(errs, err)
		}
	}
	if res.Server != nil {
		if err := w.applyIsolated(Update{Kind: KindServer, Op: OpUpsert, Fields: res.Server}); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		log.Warn().Int("skipped", len(errs)).Msg("mirror: skipped malformed records in snapshot")
	}

	snap := m.publish(w)
	log.Debug().
		Uint64("version", snap.Version).
		Int("torrents", snap.Len()).
		Int("trackers", len(snap.trackers)).
		Msg("mirror: replaced from full snapshot")

	return snap, joinErrors(errs)
}

// SetSession publishes a new snapshot carrying the given session state.
func (m *Mirror) SetSession(s models.Session) *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := newWriter(m.current.Load())
	w.session = s
	return m.publish(w)
}

func (m *Mirror) publish(w *writer) *Snapshot {
	snap := w.snapshot()
	snap.Version = m.current.Load().Version + 1
	m.current.Store(snap)
	return snap
}

func idOf(fields map[string]json.RawMessage) string {
	var id string
	if raw, ok := fields["id"]; ok {
		_ = json.Unmarshal(raw, &id)
	}
	return id
}

func joinErrors(errs []error) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return errors.Wrapf(errs[0], "and %d more", len(errs)-1)
	}
}
