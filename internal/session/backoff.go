// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package session

import "time"

// backoff tracks consecutive connection failures.
type backoff struct {
	attempts int
	initial  time.Duration
	max      time.Duration
}

// next records a failure and returns how long to wait before the next attempt.
func (b *backoff) next() time.Duration {
	b.attempts++
	return calculateBackoff(b.attempts, b.initial, b.max)
}

func (b *backoff) reset() {
	b.attempts = 0
}

// calculateBackoff returns exponential backoff duration with limits
func calculateBackoff(attempts int, initialDuration, maxDuration time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	// past this the shift overflows; the cap applies long before that anyway
	if attempts > 32 {
		return maxDuration
	}
	backoff := time.Duration(1<<(attempts-1)) * initialDuration
	if backoff <= 0 || backoff > maxDuration {
		return maxDuration
	}
	return backoff
}
