// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package tui

import (
	"math"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/autobrr/axon/internal/models"
)

var errLimitTooLarge = errors.New("limit too large")

// parseLimit reads a throttle from user input. Empty means follow the global
// limit, -1/inf/∞ means unlimited, anything else is a byte size like 2MiB or 500k.
func parseLimit(input string) (*int64, error) {
	s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(input), "/s"))
	switch strings.ToLower(s) {
	case "":
		return nil, nil
	case "-1", "inf", "∞", "unlimited":
		v := models.Unlimited
		return &v, nil
	}

	n, err := humanize.ParseBytes(s)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid limit %q", input)
	}
	if n > math.MaxInt64 {
		return nil, errors.Wrapf(errLimitTooLarge, "%q", input)
	}
	v := int64(n)
	return &v, nil
}

// formatLimit renders a throttle for display.
func formatLimit(v *int64) string {
	switch {
	case v == nil:
		return "global"
	case *v < 0:
		return "∞"
	default:
		return humanize.IBytes(uint64(*v)) + "/s"
	}
}

// limitInputValue prefills the limits inputs. Sizes IBytes would round are
// written as plain byte counts so an unedited commit sends the same value back.
func limitInputValue(v *int64) string {
	switch {
	case v == nil:
		return ""
	case *v < 0:
		return "inf"
	}

	human := humanize.IBytes(uint64(*v))
	if n, err := humanize.ParseBytes(human); err == nil && n == uint64(*v) {
		return human
	}
	return strconv.FormatInt(*v, 10)
}

func formatRate(v int64) string {
	if v <= 0 {
		return "0 B/s"
	}
	return humanize.IBytes(uint64(v)) + "/s"
}

func formatSize(v int64) string {
	if v < 0 {
		v = 0
	}
	return humanize.IBytes(uint64(v))
}
