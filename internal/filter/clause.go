// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package filter

import (
	"fmt"
	"strings"

	"github.com/autobrr/axon/internal/models"
)

// HostResolver maps tracker ids to hosts. A nil resolver matches on the id.
type HostResolver interface {
	TrackerHost(id string) string
}

// Clause is one independently evaluable condition.
type Clause interface {
	Match(t *models.Torrent, hosts HostResolver) bool
	String() string
}

type comparison byte

const (
	less    comparison = '<'
	greater comparison = '>'
	equal   comparison = ':'
)

func parseComparison(b byte) (comparison, bool) {
	switch c := comparison(b); c {
	case less, greater, equal:
		return c, true
	}
	return 0, false
}

func (c comparison) eval(value, operand float64) bool {
	switch c {
	case less:
		return value < operand
	case greater:
		return value > operand
	default:
		return value == operand
	}
}

const bytesPerMB = 1024 * 1024

type sizeClause struct {
	cmp comparison
	mb  float64
}

func (c sizeClause) Match(t *models.Torrent, _ HostResolver) bool {
	return c.cmp.eval(float64(t.Size)/bytesPerMB, c.mb)
}

func (c sizeClause) String() string {
	return fmt.Sprintf("size %c %g MB", c.cmp, c.mb)
}

type progressClause struct {
	cmp     comparison
	percent float64
}

func (c progressClause) Match(t *models.Torrent, _ HostResolver) bool {
	return c.cmp.eval(t.Progress, c.percent)
}

func (c progressClause) String() string {
	return fmt.Sprintf("progress %c %g%%", c.cmp, c.percent)
}

type statusClause struct {
	statuses []models.Status
}

func (c statusClause) Match(t *models.Torrent, _ HostResolver) bool {
	for _, st := range c.statuses {
		if t.Status == st {
			return true
		}
	}
	return false
}

func (c statusClause) String() string {
	names := make([]string, len(c.statuses))
	for i, st := range c.statuses {
		names[i] = string(st)
	}
	return "status in " + strings.Join(names, ",")
}

// matcher is a substring test under a case policy.
type matcher struct {
	needle string
	fold   bool
}

func newMatcher(needle string, policy CasePolicy) matcher {
	if policy == CaseInsensitive {
		return matcher{needle: strings.ToLower(needle), fold: true}
	}
	return matcher{needle: needle}
}

func (m matcher) contains(s string) bool {
	if m.fold {
		s = strings.ToLower(s)
	}
	return strings.Contains(s, m.needle)
}

type trackerClause struct {
	matcher
}

func newTrackerClause(host string, policy CasePolicy) trackerClause {
	return trackerClause{newMatcher(host, policy)}
}

func (c trackerClause) Match(t *models.Torrent, hosts HostResolver) bool {
	for _, id := range t.Trackers {
		host := id
		if hosts != nil {
			host = hosts.TrackerHost(id)
		}
		if c.contains(host) {
			return true
		}
	}
	return false
}

func (c trackerClause) String() string {
	return fmt.Sprintf("tracker contains %q", c.needle)
}

type textClause struct {
	matcher
}

func newTextClause(text string, policy CasePolicy) textClause {
	return textClause{newMatcher(text, policy)}
}

func (c textClause) Match(t *models.Torrent, _ HostResolver) bool {
	return c.contains(t.Name)
}

func (c textClause) String() string {
	return fmt.Sprintf("name contains %q", c.needle)
}
