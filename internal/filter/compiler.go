// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package filter compiles the torrent list query language.
//
// A query is a whitespace separated list of tokens, all of which must match:
//
//	t:<host>        a tracker host contains <host>
//	s<sign><mb>     size in MiB, sign is <, > (strict) or : (exact)
//	s:<codes>       status is one of the codes i s l e p pe h m
//	p<sign><pct>    progress percent, same signs as size
//	anything else   the name contains the token
//
// Tokens that look like a specifier but do not parse are matched as plain text.
package filter

import (
	"strconv"
	"strings"

	"github.com/autobrr/axon/internal/models"
)

type CasePolicy int

const (
	CaseInsensitive CasePolicy = iota
	CaseSensitive
)

// String is the indicator shown next to the filter prompt.
func (c CasePolicy) String() string {
	if c == CaseSensitive {
		return "s"
	}
	return "i"
}

func (c CasePolicy) Toggle() CasePolicy {
	if c == CaseSensitive {
		return CaseInsensitive
	}
	return CaseSensitive
}

// Query is a compiled filter. It is immutable and safe to share.
type Query struct {
	text    string
	policy  CasePolicy
	clauses []Clause
}

// Compile never fails; malformed specifiers degrade to text clauses.
func Compile(text string, policy CasePolicy) *Query {
	tokens := strings.Fields(text)
	q := &Query{
		text:    text,
		policy:  policy,
		clauses: make([]Clause, 0, len(tokens)),
	}
	for _, tok := range tokens {
		q.clauses = append(q.clauses, compileToken(tok, policy))
	}
	return q
}

func (q *Query) Text() string { return q.text }

func (q *Query) Case() CasePolicy { return q.policy }

// Clauses returns the compiled clauses in token order.
func (q *Query) Clauses() []Clause {
	return q.clauses
}

// Empty reports whether the query matches everything.
func (q *Query) Empty() bool {
	return len(q.clauses) == 0
}

// Match stops at the first failing clause.
func (q *Query) Match(t *models.Torrent, hosts HostResolver) bool {
	for _, c := range q.clauses {
		if !c.Match(t, hosts) {
			return false
		}
	}
	return true
}

func compileToken(tok string, policy CasePolicy) Clause {
	if len(tok) > 2 {
		name, sign, content := tok[0], tok[1], tok[2:]
		switch name {
		case 't':
			if sign == ':' {
				return newTrackerClause(content, policy)
			}
		case 's':
			if sign == ':' {
				if set, ok := parseStatusCodes(content); ok {
					return statusClause{statuses: set}
				}
			}
			if cmp, ok := parseComparison(sign); ok {
				if n, ok := parseNumber(content); ok {
					return sizeClause{cmp: cmp, mb: n}
				}
			}
		case 'p':
			if cmp, ok := parseComparison(sign); ok {
				if n, ok := parseNumber(content); ok {
					return progressClause{cmp: cmp, percent: n}
				}
			}
		}
	}
	return newTextClause(tok, policy)
}

var statusCodes = map[string]models.Status{
	"i":  models.StatusIdle,
	"s":  models.StatusSeeding,
	"l":  models.StatusLeeching,
	"e":  models.StatusError,
	"p":  models.StatusPaused,
	"pe": models.StatusPending,
	"h":  models.StatusHashing,
	"m":  models.StatusMagnet,
}

// parseStatusCodes decodes a run of status codes left to right, preferring the
// two letter code where both readings are possible.
func parseStatusCodes(s string) ([]models.Status, bool) {
	if s == "" {
		return nil, false
	}

	var out []models.Status
	for i := 0; i < len(s); {
		if strings.HasPrefix(s[i:], "pe") {
			out = appendStatus(out, models.StatusPending)
			i += 2
			continue
		}
		st, ok := statusCodes[s[i:i+1]]
		if !ok {
			return nil, false
		}
		out = appendStatus(out, st)
		i++
	}
	return out, true
}

func appendStatus(set []models.Status, st models.Status) []models.Status {
	for _, existing := range set {
		if existing == st {
			return set
		}
	}
	return append(set, st)
}

// parseNumber accepts digits with an optional fractional part. Signs, exponents
// and unit suffixes are rejected.
func parseNumber(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	dot := false
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r == '.' && !dot && i > 0 && i < len(s)-1:
			dot = true
		default:
			return 0, false
		}
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
