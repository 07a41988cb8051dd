// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package tui

import (
	"context"
	"encoding/json"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/axon/internal/filter"
	"github.com/autobrr/axon/internal/mirror"
	"github.com/autobrr/axon/internal/models"
	"github.com/autobrr/axon/internal/session"
)

const (
	defaultRefreshInterval = 250 * time.Millisecond
	statusDuration         = 4 * time.Second
	defaultPageSize        = 10
)

// Call is an outstanding control request.
type Call interface {
	Wait(ctx context.Context) (json.RawMessage, error)
}

// Controller is the part of the synchronizer the UI drives.
type Controller interface {
	Connect(server, password string) error
	SendControl(ctx context.Context, method string, params any) (Call, error)
}

// ProfileSaver remembers successful logins.
type ProfileSaver interface {
	Save(ctx context.Context, server, password string) (*models.Profile, error)
}

type Options struct {
	Controller      Controller
	Mirror          *mirror.Mirror
	Profiles        ProfileSaver
	RefreshInterval time.Duration
	// Server and Password prefill the login panel.
	Server   string
	Password string
	// Autoconnect submits the login panel on start.
	Autoconnect bool
}

type loginAttempt struct {
	server   string
	password string
}

// Model is the root Bubbletea model for the TUI.
type Model struct {
	ctrl      Controller
	mirror    *mirror.Mirror
	profiles  ProfileSaver
	evaluator *filter.Evaluator
	refresh   time.Duration

	nav        *Navigator
	snap       *mirror.Snapshot
	visible    []string
	casePolicy filter.CasePolicy

	// Inputs
	serverInput   textinput.Model
	passwordInput textinput.Model
	filterInput   textinput.Model
	limitInputs   [2]textinput.Model

	login       *loginAttempt
	autoconnect bool

	// Status display
	status    string
	statusErr bool
	statusSeq uint64

	width  int
	height int

	quitting bool
}

// NewModel creates the initial TUI model.
func NewModel(opts Options) *Model {
	refresh := opts.RefreshInterval
	if refresh <= 0 {
		refresh = defaultRefreshInterval
	}

	server := textinput.New()
	server.Placeholder = "ws://localhost:8412"
	server.Prompt = ""
	server.SetValue(opts.Server)

	password := textinput.New()
	password.Prompt = ""
	password.EchoMode = textinput.EchoPassword
	password.EchoCharacter = '•'
	password.SetValue(opts.Password)

	filterInput := textinput.New()
	filterInput.Prompt = ""
	filterInput.Placeholder = "t:host s>100 s:sl p<50 name"

	m := &Model{
		ctrl:          opts.Controller,
		mirror:        opts.Mirror,
		profiles:      opts.Profiles,
		evaluator:     filter.NewEvaluator(),
		refresh:       refresh,
		nav:           NewNavigator(),
		serverInput:   server,
		passwordInput: password,
		filterInput:   filterInput,
		autoconnect:   opts.Autoconnect && opts.Server != "",
	}
	for i := range m.limitInputs {
		in := textinput.New()
		in.Prompt = ""
		in.Placeholder = "global"
		in.CharLimit = 24
		m.limitInputs[i] = in
	}

	if opts.Server == "" {
		m.serverInput.Focus()
	} else {
		m.nav.Root().(*LoginPanel).Field = 1
		m.passwordInput.Focus()
	}
	m.refreshView()

	return m
}

// Init returns the initial commands.
func (m *Model) Init() tea.Cmd {
	cmds := []tea.Cmd{tickCmd(m.refresh), textinput.Blink}
	if m.autoconnect {
		cmds = append(cmds, m.submitLogin(m.nav.Root().(*LoginPanel)))
	}
	return tea.Batch(cmds...)
}

// Navigator exposes the panel stack.
func (m *Model) Navigator() *Navigator {
	return m.nav
}

// Visible returns the ids shown in the torrent list.
func (m *Model) Visible() []string {
	return m.visible
}

func (m *Model) FilterText() string {
	return m.filterInput.Value()
}

func (m *Model) CasePolicy() filter.CasePolicy {
	return m.casePolicy
}

// Update processes messages and returns an updated model and commands.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	// ── Window resize ──────────────────────────────────────────────
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	// ── Key events ─────────────────────────────────────────────────
	case tea.KeyMsg:
		return m, m.handleKey(msg)

	// ── Refresh ────────────────────────────────────────────────────
	case TickMsg:
		m.refreshView()
		return m, tickCmd(m.refresh)

	// ── Session ────────────────────────────────────────────────────
	case SessionEventMsg:
		return m, m.handleSessionEvent(msg.Event)

	// ── Control results ────────────────────────────────────────────
	case LimitsResultMsg:
		if !m.nav.FinishCommit(msg.Seq, msg.Err) {
			log.Debug().Err(msg.Err).Uint64("seq", msg.Seq).Msg("dropping limits result for closed panel")
			return m, nil
		}
		if msg.Err != nil {
			log.Warn().Err(msg.Err).Msg("failed to set limits")
			return m, nil
		}
		return m, m.setStatus("Limits updated", false)

	case ControlResultMsg:
		if msg.Err != nil {
			log.Warn().Err(msg.Err).Str("method", msg.Method).Msg("control request failed")
			return m, m.setStatus(msg.Method+": "+msg.Err.Error(), true)
		}
		return m, nil

	case ProfileSavedMsg:
		if msg.Err != nil {
			return m, m.setStatus("could not save profile: "+msg.Err.Error(), true)
		}
		return m, nil

	case ClearStatusMsg:
		if msg.Seq == m.statusSeq {
			m.status = ""
			m.statusErr = false
		}
		return m, nil
	}

	return m, nil
}

func (m *Model) handleSessionEvent(ev session.Event) tea.Cmd {
	switch ev := ev.(type) {
	case session.StateChanged:
		errText := ""
		if ev.Err != nil {
			errText = ev.Err.Error()
		}

		var cmd tea.Cmd
		if m.nav.SessionChanged(ev.State, errText) {
			m.focusRootInputs()
		}

		if ev.State == models.StateLive && m.login != nil {
			cmd = saveProfileCmd(m.profiles, m.login.server, m.login.password)
			m.login = nil
		}
		if ev.State == models.StateDisconnected && session.IsAuthError(ev.Err) {
			m.login = nil
		}

		m.refreshView()
		return cmd

	case session.SnapshotPublished:
		m.refreshView()

	case session.ProtocolErrorEvent:
		log.Trace().Err(ev.Err).Msg("protocol error surfaced to ui")
	}
	return nil
}

func (m *Model) focusRootInputs() {
	m.filterInput.Blur()
	for i := range m.limitInputs {
		m.limitInputs[i].Blur()
	}

	login, ok := m.nav.Root().(*LoginPanel)
	if !ok {
		m.serverInput.Blur()
		m.passwordInput.Blur()
		return
	}
	m.focusLoginField(login)
}

func (m *Model) focusLoginField(p *LoginPanel) {
	if p.Field == 0 {
		m.passwordInput.Blur()
		m.serverInput.Focus()
	} else {
		m.serverInput.Blur()
		m.passwordInput.Focus()
	}
}

// refreshView re-reads the mirror and re-runs the filter when anything changed.
func (m *Model) refreshView() {
	if m.mirror == nil {
		return
	}
	m.snap = m.mirror.Snapshot()
	m.visible = m.evaluator.Evaluate(m.snap, m.filterInput.Value(), m.casePolicy)
	if list := m.nav.List(); list != nil {
		list.Sync(m.visible)
	}
}

func (m *Model) setStatus(text string, isErr bool) tea.Cmd {
	m.statusSeq++
	m.status = text
	m.statusErr = isErr
	return clearStatusAfter(statusDuration, m.statusSeq)
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	if key.Matches(msg, globalKeys.Quit) {
		m.quitting = true
		return tea.Quit
	}

	switch p := m.nav.Focus().(type) {
	case *LoginPanel:
		return m.handleLoginKey(p, msg)
	case *FilterPanel:
		return m.handleFilterKey(msg)
	case *LimitsPanel:
		return m.handleLimitsKey(p, msg)
	case *ListPanel:
		return m.handleListKey(p, msg)
	case *TrackersPanel:
		switch {
		case key.Matches(msg, overlayKeys.Up):
			p.Cursor = clamp(p.Cursor-1, m.trackerCount(p.TorrentID))
		case key.Matches(msg, overlayKeys.Down):
			p.Cursor = clamp(p.Cursor+1, m.trackerCount(p.TorrentID))
		case key.Matches(msg, overlayKeys.Close, listKeys.Trackers):
			m.nav.Pop()
		}
	case *DetailsPanel:
		if key.Matches(msg, overlayKeys.Close, listKeys.Details) {
			m.nav.Pop()
		}
	case *ErrorPanel:
		if key.Matches(msg, overlayKeys.Close, listKeys.Errors) {
			m.nav.Pop()
		}
	}
	return nil
}

func (m *Model) handleLoginKey(p *LoginPanel, msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, formKeys.Next, formKeys.Prev):
		p.Field = 1 - p.Field
		m.focusLoginField(p)
		return textinput.Blink

	case key.Matches(msg, formKeys.Submit):
		return m.submitLogin(p)
	}

	var cmd tea.Cmd
	if p.Field == 0 {
		m.serverInput, cmd = m.serverInput.Update(msg)
	} else {
		m.passwordInput, cmd = m.passwordInput.Update(msg)
	}
	return cmd
}

func (m *Model) submitLogin(p *LoginPanel) tea.Cmd {
	server, err := models.NormalizeServer(m.serverInput.Value())
	if err != nil {
		p.Err = err.Error()
		return nil
	}
	password := m.passwordInput.Value()

	p.Err = ""
	m.login = &loginAttempt{server: server, password: password}
	log.Info().Str("server", server).Msg("connecting")
	return connectCmd(m.ctrl, server, password)
}

func (m *Model) handleFilterKey(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, formKeys.Cancel, formKeys.Submit):
		m.filterInput.Blur()
		m.nav.Pop()
		return nil

	case key.Matches(msg, listKeys.CycleCase):
		m.casePolicy = m.casePolicy.Toggle()
		m.refreshView()
		return nil
	}

	var cmd tea.Cmd
	m.filterInput, cmd = m.filterInput.Update(msg)
	m.refreshView()
	return cmd
}

func (m *Model) handleLimitsKey(p *LimitsPanel, msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, formKeys.Cancel):
		m.nav.Pop()
		return nil

	case p.Pending:
		return nil

	case key.Matches(msg, formKeys.Next, formKeys.Prev):
		m.limitInputs[p.Field].Blur()
		p.Field = 1 - p.Field
		m.limitInputs[p.Field].Focus()
		return textinput.Blink

	case key.Matches(msg, formKeys.Submit):
		return m.commitLimits(p)
	}

	var cmd tea.Cmd
	m.limitInputs[p.Field], cmd = m.limitInputs[p.Field].Update(msg)
	return cmd
}

func (m *Model) commitLimits(p *LimitsPanel) tea.Cmd {
	up, err := parseLimit(m.limitInputs[0].Value())
	if err != nil {
		p.Err = "upload: " + err.Error()
		return nil
	}
	down, err := parseLimit(m.limitInputs[1].Value())
	if err != nil {
		p.Err = "download: " + err.Error()
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	seq := m.nav.BeginCommit(p, cancel)

	return commitLimitsCmd(ctx, m.ctrl, seq, session.SetLimitsParams{
		ID:           p.TorrentID,
		ThrottleUp:   up,
		ThrottleDown: down,
	})
}

func (m *Model) handleListKey(p *ListPanel, msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, listKeys.Up):
		p.MoveCursor(-1, m.visible)
	case key.Matches(msg, listKeys.Down):
		p.MoveCursor(1, m.visible)
	case key.Matches(msg, listKeys.Home):
		p.MoveCursor(-len(m.visible), m.visible)
	case key.Matches(msg, listKeys.End):
		p.MoveCursor(len(m.visible), m.visible)
	case key.Matches(msg, listKeys.PageUp):
		p.MoveCursor(-m.pageSize(), m.visible)
	case key.Matches(msg, listKeys.PageDown):
		p.MoveCursor(m.pageSize(), m.visible)

	case key.Matches(msg, listKeys.Filter):
		m.nav.Push(&FilterPanel{})
		m.filterInput.Focus()
		return textinput.Blink

	case key.Matches(msg, listKeys.CycleCase):
		m.casePolicy = m.casePolicy.Toggle()
		m.refreshView()

	case key.Matches(msg, listKeys.GlobalLimit):
		server := m.snap.Server()
		return m.openLimits("", server.ThrottleUp, server.ThrottleDown)
	}

	t := m.focused(p)
	if t == nil {
		return nil
	}

	switch {
	case key.Matches(msg, listKeys.Details):
		m.nav.Push(&DetailsPanel{TorrentID: t.ID})
	case key.Matches(msg, listKeys.Trackers):
		m.nav.Push(&TrackersPanel{TorrentID: t.ID})
	case key.Matches(msg, listKeys.Errors):
		m.nav.Push(&ErrorPanel{TorrentID: t.ID})
	case key.Matches(msg, listKeys.Limits):
		return m.openLimits(t.ID, t.ThrottleUp, t.ThrottleDown)
	case key.Matches(msg, listKeys.Toggle):
		method := session.MethodPause
		if t.Status == models.StatusPaused {
			method = session.MethodResume
		}
		return controlCmd(m.ctrl, method, session.IDsParams{IDs: []string{t.ID}})
	}
	return nil
}

func (m *Model) openLimits(torrentID string, up, down *int64) tea.Cmd {
	if !m.nav.Push(&LimitsPanel{TorrentID: torrentID}) {
		return nil
	}
	m.limitInputs[0].SetValue(limitInputValue(up))
	m.limitInputs[1].SetValue(limitInputValue(down))
	m.limitInputs[1].Blur()
	m.limitInputs[0].Focus()
	m.limitInputs[0].CursorEnd()
	return textinput.Blink
}

func (m *Model) focused(p *ListPanel) *models.Torrent {
	if p.FocusID == "" || m.snap == nil {
		return nil
	}
	t, _ := m.snap.Torrent(p.FocusID)
	return t
}

func (m *Model) trackerCount(torrentID string) int {
	if m.snap == nil {
		return 0
	}
	t, ok := m.snap.Torrent(torrentID)
	if !ok {
		return 0
	}
	return len(m.snap.TorrentTrackers(t))
}

func (m *Model) pageSize() int {
	if rows := m.listHeight(); rows > 1 {
		return rows - 1
	}
	return defaultPageSize
}
