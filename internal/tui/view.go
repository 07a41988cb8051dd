// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/dustin/go-humanize"

	"github.com/autobrr/axon/internal/models"
)

const (
	colSize     = 10
	colProgress = 7
	colStatus   = 9
	colRate     = 12
	minNameCol  = 12

	// header, filter line, footer, status line
	chromeLines = 4
)

// View renders the full TUI.
func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	width, height := m.width, m.height
	if width == 0 {
		width = 80
	}
	if height == 0 {
		height = 24
	}

	if login, ok := m.nav.Root().(*LoginPanel); ok {
		return m.renderLogin(login, width, height)
	}

	base := m.renderMain(width, height)

	var overlay string
	switch p := m.nav.Focus().(type) {
	case *DetailsPanel:
		overlay = m.renderDetails(p, width)
	case *TrackersPanel:
		overlay = m.renderTrackers(p, width)
	case *ErrorPanel:
		overlay = m.renderErrors(p, width)
	case *LimitsPanel:
		overlay = m.renderLimits(p)
	default:
		return base
	}
	return renderOverlay(base, overlay, width, height)
}

func (m *Model) listHeight() int {
	h := m.height
	if h == 0 {
		h = 24
	}
	return max(h-chromeLines, 1)
}

func (m *Model) renderLogin(p *LoginPanel, width, height int) string {
	var b strings.Builder

	b.WriteString(overlayTitleStyle.Render("Connect to daemon"))
	b.WriteString("\n")
	b.WriteString(labelStyle.Render("Server") + m.serverInput.View() + "\n")
	b.WriteString(labelStyle.Render("Password") + m.passwordInput.View() + "\n")

	session := models.Session{}
	if m.snap != nil {
		session = m.snap.Session()
	}
	if session.State != models.StateDisconnected {
		b.WriteString("\n" + dimStyle.Render(session.State.String()+"…"))
	} else if session.Reconnecting {
		b.WriteString("\n" + dimStyle.Render("reconnecting…"))
	}
	if p.Err != "" {
		b.WriteString("\n" + errorTextStyle.Render(p.Err))
	}
	b.WriteString("\n\n" + renderHints([][2]string{
		{"Tab", "next field"},
		{"Enter", "connect"},
		{"Ctrl+d", "quit"},
	}))

	box := overlayStyle.Render(b.String())
	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, box)
}

func (m *Model) renderMain(width, height int) string {
	var b strings.Builder

	b.WriteString(m.renderListHeader(width))
	b.WriteString("\n")
	b.WriteString(m.renderRows(width))
	b.WriteString(m.renderFilterLine(width))
	b.WriteString("\n")
	b.WriteString(m.renderFooter(width))
	b.WriteString("\n")
	b.WriteString(m.renderStatusLine(width))

	lines := strings.Split(b.String(), "\n")
	if len(lines) > height {
		lines = lines[:height]
	}
	return strings.Join(lines, "\n")
}

func nameWidth(width int) int {
	return max(width-colSize-colProgress-colStatus-2*colRate-5, minNameCol)
}

func (m *Model) renderListHeader(width int) string {
	row := fmt.Sprintf("%-*s %*s %*s %-*s %*s %*s",
		nameWidth(width), "Name",
		colSize, "Size",
		colProgress, "Done",
		colStatus, "Status",
		colRate, "Up",
		colRate, "Down",
	)
	return headerStyle.Render(ansi.Truncate(row, width, ""))
}

func (m *Model) renderRows(width int) string {
	rows := m.listHeight()
	list := m.nav.List()
	if list == nil || len(m.visible) == 0 {
		empty := "No torrents"
		if m.filterInput.Value() != "" {
			empty = "No torrents match the filter"
		}
		return dimStyle.Render(empty) + strings.Repeat("\n", rows)
	}

	start := 0
	if list.Cursor >= rows {
		start = list.Cursor - rows + 1
	}
	end := min(start+rows, len(m.visible))

	var b strings.Builder
	nw := nameWidth(width)
	for i := start; i < end; i++ {
		t, ok := m.snap.Torrent(m.visible[i])
		if !ok {
			b.WriteString("\n")
			continue
		}
		name := ansi.Truncate(t.Name, nw, "…")
		name += strings.Repeat(" ", max(nw-lipgloss.Width(name), 0))

		status := fmt.Sprintf("%-*s", colStatus, string(t.Status))
		line := fmt.Sprintf("%s %*s %*s %s %*s %*s",
			name,
			colSize, formatSize(t.Size),
			colProgress, fmt.Sprintf("%.1f%%", t.Progress),
			statusStyle(t.Status).Render(status),
			colRate, formatRate(t.RateUp),
			colRate, formatRate(t.RateDown),
		)
		if i == list.Cursor {
			line = selectedRowStyle.Width(width).Render(ansi.Strip(line))
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString(strings.Repeat("\n", rows-(end-start)))
	return b.String()
}

func (m *Model) renderFilterLine(width int) string {
	prompt := fmt.Sprintf("Filter[%s]: ", m.casePolicy)
	if _, ok := m.nav.Focus().(*FilterPanel); ok {
		return filterActiveStyle.Render(prompt) + m.filterInput.View()
	}

	text := m.filterInput.Value()
	line := filterInactiveStyle.Render(prompt + text)
	if text != "" && m.snap != nil {
		line += dimStyle.Render(fmt.Sprintf("  (%d/%d)", len(m.visible), m.snap.Len()))
	}
	return ansi.Truncate(line, width, "")
}

func (m *Model) renderFooter(width int) string {
	if m.snap == nil {
		return ""
	}
	server := m.snap.Server()
	session := m.snap.Session()

	parts := []string{
		fmt.Sprintf("↑ %s [%s]", formatRate(server.RateUp), formatLimit(server.ThrottleUp)),
		fmt.Sprintf("↓ %s [%s]", formatRate(server.RateDown), formatLimit(server.ThrottleDown)),
		fmt.Sprintf("ratio %.2f/%.2f", server.SessionRatio(), server.LifetimeRatio()),
		"free " + formatSize(server.FreeSpace),
		fmt.Sprintf("%d torrents", m.snap.Len()),
		session.State.String(),
	}
	line := " " + strings.Join(parts, " │ ")
	return statusBarStyle.Width(width).Render(ansi.Truncate(line, width, ""))
}

func (m *Model) renderStatusLine(width int) string {
	if m.status != "" {
		style := dimStyle
		if m.statusErr {
			style = errorTextStyle
		}
		return ansi.Truncate(style.Render(m.status), width, "")
	}
	return ansi.Truncate(renderHints([][2]string{
		{listKeys.Details.Help().Key, listKeys.Details.Help().Desc},
		{listKeys.Trackers.Help().Key, listKeys.Trackers.Help().Desc},
		{listKeys.Errors.Help().Key, listKeys.Errors.Help().Desc},
		{listKeys.Limits.Help().Key, listKeys.Limits.Help().Desc},
		{listKeys.GlobalLimit.Help().Key, listKeys.GlobalLimit.Help().Desc},
		{listKeys.Toggle.Help().Key, listKeys.Toggle.Help().Desc},
		{listKeys.Filter.Help().Key, listKeys.Filter.Help().Desc},
		{listKeys.CycleCase.Help().Key, listKeys.CycleCase.Help().Desc},
		{globalKeys.Quit.Help().Key, globalKeys.Quit.Help().Desc},
	}), width, "")
}

func renderHints(hints [][2]string) string {
	parts := make([]string, len(hints))
	for i, h := range hints {
		parts[i] = keyStyle.Render(h[0]) + " " + hintStyle.Render(h[1])
	}
	return strings.Join(parts, "  ")
}

func field(label, value string) string {
	return labelStyle.Render(label) + value + "\n"
}

func overlayWidth(width int) int {
	return min(max(width-10, 40), 100)
}

func removedOverlay(title string) string {
	return overlayStyle.Render(overlayTitleStyle.Render(title) + "\n" + dimStyle.Render("torrent was removed"))
}

func (m *Model) renderDetails(p *DetailsPanel, width int) string {
	t, ok := m.snap.Torrent(p.TorrentID)
	if !ok {
		return removedOverlay("Details")
	}

	var b strings.Builder
	b.WriteString(overlayTitleStyle.Render(ansi.Truncate(t.Name, overlayWidth(width)-6, "…")))
	b.WriteString("\n")
	b.WriteString(field("ID", t.ID))
	b.WriteString(field("Path", t.Path))
	b.WriteString(field("Status", statusStyle(t.Status).Render(string(t.Status))))
	b.WriteString(field("Size", formatSize(t.Size)))
	b.WriteString(field("Progress", fmt.Sprintf("%.2f%%", t.Progress)))
	b.WriteString(field("Downloaded", formatSize(t.Downloaded)))
	b.WriteString(field("Uploaded", formatSize(t.Uploaded)))
	b.WriteString(field("Ratio", fmt.Sprintf("%.3f", t.Ratio())))
	b.WriteString(field("Rates", fmt.Sprintf("↑ %s  ↓ %s", formatRate(t.RateUp), formatRate(t.RateDown))))
	b.WriteString(field("Limits", fmt.Sprintf("↑ %s  ↓ %s", formatLimit(t.ThrottleUp), formatLimit(t.ThrottleDown))))
	b.WriteString(field("Peers", humanize.Comma(int64(t.Peers))))
	b.WriteString(field("Files", humanize.Comma(int64(t.Files))))
	b.WriteString(field("Pieces", fmt.Sprintf("%s × %s", humanize.Comma(int64(t.Pieces)), formatSize(t.PieceSize))))
	b.WriteString(field("Availability", fmt.Sprintf("%.2f", t.Availability)))
	b.WriteString(field("Priority", fmt.Sprintf("%d", t.Priority)))
	if !t.Created.IsZero() {
		b.WriteString(field("Created", t.Created.Local().Format("2006-01-02 15:04")+" ("+humanize.Time(t.Created)+")"))
	}
	b.WriteString(field("Trackers", fmt.Sprintf("%d", len(t.Trackers))))
	if msg := t.ErrorMessage(); msg != "" {
		b.WriteString(field("Error", errorTextStyle.Render(msg)))
	}
	b.WriteString("\n" + renderHints([][2]string{{"q", "close"}}))

	return overlayStyle.Render(b.String())
}

func (m *Model) renderTrackers(p *TrackersPanel, width int) string {
	t, ok := m.snap.Torrent(p.TorrentID)
	if !ok {
		return removedOverlay("Trackers")
	}
	inner := overlayWidth(width) - 6

	var b strings.Builder
	b.WriteString(overlayTitleStyle.Render("Trackers: " + ansi.Truncate(t.Name, inner-10, "…")))
	b.WriteString("\n")

	trackers := m.snap.TorrentTrackers(t)
	if len(trackers) == 0 {
		b.WriteString(dimStyle.Render("no trackers") + "\n")
	}
	for i, tr := range trackers {
		line := tr.DisplayHost()
		if tr.URL != "" {
			line += "  " + dimStyle.Render(tr.URL)
		}
		if tr.Error != nil && *tr.Error != "" {
			line += "  " + errorTextStyle.Render(*tr.Error)
		}
		line = ansi.Truncate(line, inner, "…")
		if i == p.Cursor {
			line = selectedRowStyle.Render(ansi.Strip(line))
		}
		b.WriteString(line + "\n")
	}
	b.WriteString("\n" + renderHints([][2]string{{"j/k", "navigate"}, {"q", "close"}}))

	return overlayStyle.Render(b.String())
}

// errorLines lists the torrent error followed by "host: error" for every
// tracker reporting one.
func (m *Model) errorLines(t *models.Torrent) []string {
	var lines []string
	if msg := t.ErrorMessage(); msg != "" {
		lines = append(lines, msg)
	}
	for _, tr := range m.snap.TorrentTrackers(t) {
		if tr.Error != nil && *tr.Error != "" {
			lines = append(lines, tr.DisplayHost()+": "+*tr.Error)
		}
	}
	return lines
}

func (m *Model) renderErrors(p *ErrorPanel, width int) string {
	t, ok := m.snap.Torrent(p.TorrentID)
	if !ok {
		return removedOverlay("Errors")
	}
	inner := overlayWidth(width) - 6

	var b strings.Builder
	b.WriteString(overlayTitleStyle.Render("Errors: " + ansi.Truncate(t.Name, inner-8, "…")))
	b.WriteString("\n")

	lines := m.errorLines(t)
	if len(lines) == 0 {
		b.WriteString(dimStyle.Render("no errors") + "\n")
	}
	for _, l := range lines {
		b.WriteString(errorTextStyle.Render(ansi.Wordwrap(l, inner, " ")) + "\n")
	}
	b.WriteString("\n" + renderHints([][2]string{{"q", "close"}}))

	return overlayStyle.Render(b.String())
}

func (m *Model) renderLimits(p *LimitsPanel) string {
	title := "Global limits"
	if !p.Global() {
		title = "Limits"
		if t, ok := m.snap.Torrent(p.TorrentID); ok {
			title += ": " + ansi.Truncate(t.Name, 50, "…")
		}
	}

	var b strings.Builder
	b.WriteString(overlayTitleStyle.Render(title))
	b.WriteString("\n")
	b.WriteString(field("Upload", m.limitInputs[0].View()))
	b.WriteString(field("Download", m.limitInputs[1].View()))
	b.WriteString(dimStyle.Render("empty = global, inf = unlimited, e.g. 2MiB") + "\n")

	switch {
	case p.Pending:
		b.WriteString("\n" + dimStyle.Render("saving…"))
	case p.Err != "":
		b.WriteString("\n" + errorTextStyle.Render(p.Err))
	}
	b.WriteString("\n" + renderHints([][2]string{
		{"Tab", "next field"},
		{"Enter", "apply"},
		{"Esc", "cancel"},
	}))

	return overlayStyle.Render(b.String())
}
