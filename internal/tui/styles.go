// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/autobrr/axon/internal/models"
)

// Colors using AdaptiveColor for light/dark terminal support.
var (
	colorWhite  = lipgloss.AdaptiveColor{Light: "0", Dark: "15"}
	colorDim    = lipgloss.AdaptiveColor{Light: "242", Dark: "240"}
	colorGreen  = lipgloss.AdaptiveColor{Light: "28", Dark: "40"}
	colorRed    = lipgloss.AdaptiveColor{Light: "160", Dark: "196"}
	colorYellow = lipgloss.AdaptiveColor{Light: "136", Dark: "220"}
	colorCyan   = lipgloss.AdaptiveColor{Light: "30", Dark: "45"}
	colorBlue   = lipgloss.AdaptiveColor{Light: "25", Dark: "75"}
)

// Layout styles.
var (
	headerStyle = lipgloss.NewStyle().
			Bold(true)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(colorWhite).
			Background(lipgloss.AdaptiveColor{Light: "235", Dark: "236"})

	selectedRowStyle = lipgloss.NewStyle().
				Background(lipgloss.AdaptiveColor{Light: "254", Dark: "237"})

	dimStyle = lipgloss.NewStyle().Foreground(colorDim)
)

// Filter prompt styles.
var (
	filterActiveStyle   = lipgloss.NewStyle().Foreground(colorCyan)
	filterInactiveStyle = lipgloss.NewStyle().Foreground(colorDim)
)

// Overlay styles.
var (
	overlayStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorWhite).
			Padding(1, 2)

	overlayTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(colorWhite).
				MarginBottom(1)

	overlayDimStyle = lipgloss.NewStyle().
			Foreground(colorDim)

	labelStyle = lipgloss.NewStyle().
			Foreground(colorDim).
			Width(14)

	errorTextStyle = lipgloss.NewStyle().Foreground(colorRed)
)

// Key hint styles.
var (
	keyStyle  = lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
	hintStyle = lipgloss.NewStyle().Foreground(colorDim)
)

var statusStyles = map[models.Status]lipgloss.Style{
	models.StatusIdle:     lipgloss.NewStyle().Foreground(colorDim),
	models.StatusSeeding:  lipgloss.NewStyle().Foreground(colorGreen),
	models.StatusLeeching: lipgloss.NewStyle().Foreground(colorBlue),
	models.StatusError:    lipgloss.NewStyle().Foreground(colorRed).Bold(true),
	models.StatusPaused:   lipgloss.NewStyle().Foreground(colorYellow),
	models.StatusPending:  lipgloss.NewStyle().Foreground(colorDim),
	models.StatusHashing:  lipgloss.NewStyle().Foreground(colorCyan),
	models.StatusMagnet:   lipgloss.NewStyle().Foreground(colorCyan),
}

func statusStyle(s models.Status) lipgloss.Style {
	if st, ok := statusStyles[s]; ok {
		return st
	}
	return dimStyle
}
