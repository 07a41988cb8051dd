// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"encoding/json"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type Status string

const (
	StatusIdle     Status = "idle"
	StatusSeeding  Status = "seeding"
	StatusLeeching Status = "leeching"
	StatusError    Status = "error"
	StatusPaused   Status = "paused"
	StatusPending  Status = "pending"
	StatusHashing  Status = "hashing"
	StatusMagnet   Status = "magnet"
)

var AllStatuses = []Status{
	StatusIdle,
	StatusSeeding,
	StatusLeeching,
	StatusError,
	StatusPaused,
	StatusPending,
	StatusHashing,
	StatusMagnet,
}

var ErrUnknownStatus = errors.New("unknown torrent status")

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if slices.Contains(AllStatuses, st) {
		return st, nil
	}
	return "", errors.Wrapf(ErrUnknownStatus, "%q", s)
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Unlimited is the throttle value for "no limit"; a nil throttle follows the global limit.
const Unlimited int64 = -1

type Torrent struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	Downloaded   int64     `json:"downloaded"`
	Uploaded     int64     `json:"uploaded"`
	Progress     float64   `json:"progress"`
	Status       Status    `json:"status"`
	Error        *string   `json:"error,omitempty"`
	Trackers     []string  `json:"trackers"`
	Peers        int       `json:"peers"`
	Files        int       `json:"files"`
	Pieces       int       `json:"pieces"`
	PieceSize    int64     `json:"piece_size"`
	Availability float64   `json:"availability"`
	Priority     int       `json:"priority"`
	RateUp       int64     `json:"rate_up"`
	RateDown     int64     `json:"rate_down"`
	ThrottleUp   *int64    `json:"throttle_up"`
	ThrottleDown *int64    `json:"throttle_down"`
	Created      time.Time `json:"created"`
}

// Clone returns a deep copy, so the original can stay in a published snapshot.
func (t *Torrent) Clone() *Torrent {
	c := *t
	c.Trackers = slices.Clone(t.Trackers)
	c.Error = clonePtr(t.Error)
	c.ThrottleUp = clonePtr(t.ThrottleUp)
	c.ThrottleDown = clonePtr(t.ThrottleDown)
	return &c
}

// ErrorMessage is empty unless the torrent is in the error state. The stored
// Error is kept as last written so it survives status updates sent apart.
func (t *Torrent) ErrorMessage() string {
	if t.Status != StatusError || t.Error == nil {
		return ""
	}
	return *t.Error
}

// Ratio is uploaded/downloaded, 0 when nothing was downloaded.
func (t *Torrent) Ratio() float64 {
	if t.Downloaded == 0 {
		return 0
	}
	return float64(t.Uploaded) / float64(t.Downloaded)
}

// ApplyFields merges the fields present in an update. Trackers are returned
// separately so the caller can keep backreferences in sync.
func (t *Torrent) ApplyFields(fields map[string]json.RawMessage) (trackers []string, trackersSet bool, err error) {
	for key, raw := range fields {
		switch key {
		case "id":
		case "name":
			err = decodeField(key, raw, &t.Name)
		case "path":
			err = decodeField(key, raw, &t.Path)
		case "size":
			err = decodeField(key, raw, &t.Size)
		case "downloaded":
			err = decodeField(key, raw, &t.Downloaded)
		case "uploaded":
			err = decodeField(key, raw, &t.Uploaded)
		case "progress":
			err = decodeField(key, raw, &t.Progress)
			if err == nil && (t.Progress < 0 || t.Progress > 100) {
				err = errors.Errorf("field progress: %v out of range", t.Progress)
			}
		case "status":
			err = decodeField(key, raw, &t.Status)
		case "error":
			t.Error = nil
			err = decodeField(key, raw, &t.Error)
		case "trackers":
			trackersSet = true
			err = decodeField(key, raw, &trackers)
		case "peers":
			err = decodeField(key, raw, &t.Peers)
		case "files":
			err = decodeField(key, raw, &t.Files)
		case "pieces":
			err = decodeField(key, raw, &t.Pieces)
		case "piece_size":
			err = decodeField(key, raw, &t.PieceSize)
		case "availability":
			err = decodeField(key, raw, &t.Availability)
		case "priority":
			err = decodeField(key, raw, &t.Priority)
		case "rate_up":
			err = decodeField(key, raw, &t.RateUp)
		case "rate_down":
			err = decodeField(key, raw, &t.RateDown)
		case "throttle_up":
			t.ThrottleUp = nil
			err = decodeField(key, raw, &t.ThrottleUp)
		case "throttle_down":
			t.ThrottleDown = nil
			err = decodeField(key, raw, &t.ThrottleDown)
		case "created":
			err = decodeField(key, raw, &t.Created)
		}
		if err != nil {
			return nil, false, err
		}
	}

	return dedupe(trackers), trackersSet, nil
}

type Tracker struct {
	ID       string   `json:"id"`
	URL      string   `json:"url"`
	Host     string   `json:"host"`
	Torrents []string `json:"torrents"`
	Error    *string  `json:"error,omitempty"`
}

func (t *Tracker) Clone() *Tracker {
	c := *t
	c.Torrents = slices.Clone(t.Torrents)
	c.Error = clonePtr(t.Error)
	return &c
}

// DisplayHost is the host used for matching and display, falling back to the URL host and ID.
func (t *Tracker) DisplayHost() string {
	if t.Host != "" {
		return t.Host
	}
	if t.URL != "" {
		if u, err := url.Parse(t.URL); err == nil && u.Hostname() != "" {
			return u.Hostname()
		}
	}
	return t.ID
}

func (t *Tracker) ApplyFields(fields map[string]json.RawMessage) (torrents []string, torrentsSet bool, err error) {
	for key, raw := range fields {
		switch key {
		case "id":
		case "url":
			err = decodeField(key, raw, &t.URL)
		case "host":
			err = decodeField(key, raw, &t.Host)
		case "torrents":
			torrentsSet = true
			err = decodeField(key, raw, &torrents)
		case "error":
			t.Error = nil
			err = decodeField(key, raw, &t.Error)
		}
		if err != nil {
			return nil, false, err
		}
	}
	return dedupe(torrents), torrentsSet, nil
}

// Server holds daemon wide statistics and the global rate limits.
type Server struct {
	RateUp             int64  `json:"rate_up"`
	RateDown           int64  `json:"rate_down"`
	ThrottleUp         *int64 `json:"throttle_up"`
	ThrottleDown       *int64 `json:"throttle_down"`
	TransferredUp      int64  `json:"transferred_up"`
	TransferredDown    int64  `json:"transferred_down"`
	SesTransferredUp   int64  `json:"ses_transferred_up"`
	SesTransferredDown int64  `json:"ses_transferred_down"`
	FreeSpace          int64  `json:"free_space"`
}

func (s Server) Clone() Server {
	c := s
	c.ThrottleUp = clonePtr(s.ThrottleUp)
	c.ThrottleDown = clonePtr(s.ThrottleDown)
	return c
}

func (s *Server) SessionRatio() float64 {
	return ratio(s.SesTransferredUp, s.SesTransferredDown)
}

func (s *Server) LifetimeRatio() float64 {
	return ratio(s.TransferredUp, s.TransferredDown)
}

func (s *Server) ApplyFields(fields map[string]json.RawMessage) error {
	for key, raw := range fields {
		var err error
		switch key {
		case "rate_up":
			err = decodeField(key, raw, &s.RateUp)
		case "rate_down":
			err = decodeField(key, raw, &s.RateDown)
		case "throttle_up":
			s.ThrottleUp = nil
			err = decodeField(key, raw, &s.ThrottleUp)
		case "throttle_down":
			s.ThrottleDown = nil
			err = decodeField(key, raw, &s.ThrottleDown)
		case "transferred_up":
			err = decodeField(key, raw, &s.TransferredUp)
		case "transferred_down":
			err = decodeField(key, raw, &s.TransferredDown)
		case "ses_transferred_up":
			err = decodeField(key, raw, &s.SesTransferredUp)
		case "ses_transferred_down":
			err = decodeField(key, raw, &s.SesTransferredDown)
		case "free_space":
			err = decodeField(key, raw, &s.FreeSpace)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func ratio(up, down int64) float64 {
	if down == 0 {
		return 0
	}
	return float64(up) / float64(down)
}

func decodeField(key string, raw json.RawMessage, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return errors.Wrapf(err, "field %s", key)
	}
	return nil
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func dedupe(ids []string) []string {
	if ids == nil {
		return nil
	}
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
