// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package filter

import (
	"sync"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"github.com/cespare/xxhash/v2"

	"github.com/autobrr/axon/internal/mirror"
	"github.com/autobrr/axon/internal/models"
)

const queryCacheTTL = 5 * time.Minute

// Apply returns the ids of matching torrents in mirror order.
func Apply(snap *mirror.Snapshot, q *Query) []string {
	ids := make([]string, 0, snap.Len())
	snap.Range(func(t *models.Torrent) bool {
		if q.Match(t, snap) {
			ids = append(ids, t.ID)
		}
		return true
	})
	return ids
}

type evaluation struct {
	version uint64
	text    string
	policy  CasePolicy
	ids     []string
}

// Evaluator re-runs a query only when the snapshot version, the text or the case
// policy changed since the previous call.
type Evaluator struct {
	queries *ttlcache.Cache[uint64, *Query]

	mu   sync.Mutex
	last *evaluation
}

func NewEvaluator() *Evaluator {
	return &Evaluator{
		queries: ttlcache.New(ttlcache.Options[uint64, *Query]{}.SetDefaultTTL(queryCacheTTL)),
	}
}

func queryKey(text string, policy CasePolicy) uint64 {
	return xxhash.Sum64String(policy.String() + "\x00" + text)
}

// Query returns the compiled query for text, reusing recent compilations.
func (e *Evaluator) Query(text string, policy CasePolicy) *Query {
	key := queryKey(text, policy)
	if q, ok := e.queries.Get(key); ok && q.text == text && q.policy == policy {
		return q
	}
	q := Compile(text, policy)
	e.queries.Set(key, q, ttlcache.DefaultTTL)
	return q
}

// Evaluate returns matching ids. The returned slice is shared between calls
// with the same inputs and must not be modified.
func (e *Evaluator) Evaluate(snap *mirror.Snapshot, text string, policy CasePolicy) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	if l := e.last; l != nil && l.version == snap.Version && l.text == text && l.policy == policy {
		return l.ids
	}

	ids := Apply(snap, e.Query(text, policy))
	e.last = &evaluation{version: snap.Version, text: text, policy: policy, ids: ids}
	return ids
}

// Invalidate forces the next Evaluate to scan again.
func (e *Evaluator) Invalidate() {
	e.mu.Lock()
	e.last = nil
	e.mu.Unlock()
}
