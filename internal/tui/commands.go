// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/axon/internal/session"
)

const profileSaveTimeout = 5 * time.Second

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(_ time.Time) tea.Msg {
		return TickMsg{}
	})
}

func clearStatusAfter(d time.Duration, seq uint64) tea.Cmd {
	return tea.Tick(d, func(_ time.Time) tea.Msg {
		return ClearStatusMsg{Seq: seq}
	})
}

func connectCmd(ctrl Controller, server, password string) tea.Cmd {
	return func() tea.Msg {
		if err := ctrl.Connect(server, password); err != nil {
			return SessionEventMsg{Event: session.StateChanged{Err: err}}
		}
		return nil
	}
}

// commitLimitsCmd sends the new throttles. ctx is canceled when the panel closes;
// the call itself always completes, by response, timeout or cancellation.
func commitLimitsCmd(ctx context.Context, ctrl Controller, seq uint64, params session.SetLimitsParams) tea.Cmd {
	return func() tea.Msg {
		call, err := ctrl.SendControl(ctx, session.MethodSetLimits, params)
		if err != nil {
			return LimitsResultMsg{Seq: seq, Err: err}
		}
		_, err = call.Wait(context.Background())
		return LimitsResultMsg{Seq: seq, Err: err}
	}
}

func controlCmd(ctrl Controller, method string, params any) tea.Cmd {
	return func() tea.Msg {
		call, err := ctrl.SendControl(context.Background(), method, params)
		if err != nil {
			return ControlResultMsg{Method: method, Err: err}
		}
		_, err = call.Wait(context.Background())
		return ControlResultMsg{Method: method, Err: err}
	}
}

func saveProfileCmd(store ProfileSaver, server, password string) tea.Cmd {
	if store == nil {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), profileSaveTimeout)
		defer cancel()

		profile, err := store.Save(ctx, server, password)
		if err != nil {
			log.Error().Err(err).Str("server", server).Msg("failed to save profile")
			return ProfileSavedMsg{Server: server, Err: err}
		}
		log.Debug().Int("profileID", profile.ID).Str("server", profile.Server).Msg("saved profile")
		return ProfileSavedMsg{Server: profile.Server}
	}
}
