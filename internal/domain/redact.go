// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import "strings"

const redactedPrefix = "<redacted>"

// RedactString hides a secret while keeping a hint of whether one is set.
func RedactString(s string) string {
	if s == "" {
		return ""
	}
	return redactedPrefix
}

func IsRedactedString(s string) bool {
	return strings.HasPrefix(s, redactedPrefix)
}
