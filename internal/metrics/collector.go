// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package metrics exposes the mirrored daemon state and the connection health
// as prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/autobrr/axon/internal/mirror"
	"github.com/autobrr/axon/internal/models"
)

const namespace = "axon"

// SessionStats is the read side of the synchronizer.
type SessionStats interface {
	State() models.ConnState
	Pending() int
	Reconnects() uint64
	ProtocolErrors() uint64
}

// Collector reads the latest snapshot on every scrape, so it never holds the
// mirror lock longer than a pointer load.
type Collector struct {
	mirror *mirror.Mirror
	stats  SessionStats

	torrents       *prometheus.Desc
	trackers       *prometheus.Desc
	version        *prometheus.Desc
	state          *prometheus.Desc
	pending        *prometheus.Desc
	reconnects     *prometheus.Desc
	protocolErrors *prometheus.Desc
	rate           *prometheus.Desc
	throttle       *prometheus.Desc
	transferred    *prometheus.Desc
	freeSpace      *prometheus.Desc
}

func NewCollector(m *mirror.Mirror, stats SessionStats) *Collector {
	return &Collector{
		mirror: m,
		stats:  stats,
		torrents: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "torrents"),
			"Number of torrents by status",
			[]string{"status"}, nil,
		),
		trackers: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "trackers"),
			"Number of trackers",
			nil, nil,
		),
		version: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "mirror", "version"),
			"Version of the latest published snapshot",
			nil, nil,
		),
		state: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "session", "state"),
			"Current connection state, 1 for the active state",
			[]string{"state"}, nil,
		),
		pending: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "session", "pending_requests"),
			"Control requests waiting for a response",
			nil, nil,
		),
		reconnects: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "session", "reconnects_total"),
			"Reconnect attempts after transport failures",
			nil, nil,
		),
		protocolErrors: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "session", "protocol_errors_total"),
			"Frames that could not be decoded or applied",
			nil, nil,
		),
		rate: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "server", "rate_bytes_per_second"),
			"Daemon transfer rate",
			[]string{"direction"}, nil,
		),
		throttle: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "server", "throttle_bytes_per_second"),
			"Daemon global throttle, -1 when unlimited",
			[]string{"direction"}, nil,
		),
		transferred: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "server", "transferred_bytes"),
			"Bytes transferred by the daemon over its lifetime",
			[]string{"direction"}, nil,
		),
		freeSpace: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "server", "free_space_bytes"),
			"Free space in the daemon download directory",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.torrents
	ch <- c.trackers
	ch <- c.version
	ch <- c.state
	ch <- c.pending
	ch <- c.reconnects
	ch <- c.protocolErrors
	ch <- c.rate
	ch <- c.throttle
	ch <- c.transferred
	ch <- c.freeSpace
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.mirror.Snapshot()

	counts := snap.CountByStatus()
	for _, status := range models.AllStatuses {
		ch <- prometheus.MustNewConstMetric(c.torrents, prometheus.GaugeValue, float64(counts[status]), string(status))
	}
	ch <- prometheus.MustNewConstMetric(c.trackers, prometheus.GaugeValue, float64(snap.TrackerCount()))
	ch <- prometheus.MustNewConstMetric(c.version, prometheus.GaugeValue, float64(snap.Version))

	current := c.stats.State()
	for _, state := range []models.ConnState{
		models.StateDisconnected,
		models.StateAuthenticating,
		models.StateSyncingSnapshot,
		models.StateLive,
		models.StateClosed,
	} {
		v := 0.0
		if state == current {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, v, state.String())
	}
	ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(c.stats.Pending()))
	ch <- prometheus.MustNewConstMetric(c.reconnects, prometheus.CounterValue, float64(c.stats.Reconnects()))
	ch <- prometheus.MustNewConstMetric(c.protocolErrors, prometheus.CounterValue, float64(c.stats.ProtocolErrors()))

	server := snap.Server()
	ch <- prometheus.MustNewConstMetric(c.rate, prometheus.GaugeValue, float64(server.RateUp), "up")
	ch <- prometheus.MustNewConstMetric(c.rate, prometheus.GaugeValue, float64(server.RateDown), "down")
	if server.ThrottleUp != nil {
		ch <- prometheus.MustNewConstMetric(c.throttle, prometheus.GaugeValue, float64(*server.ThrottleUp), "up")
	}
	if server.ThrottleDown != nil {
		ch <- prometheus.MustNewConstMetric(c.throttle, prometheus.GaugeValue, float64(*server.ThrottleDown), "down")
	}
	ch <- prometheus.MustNewConstMetric(c.transferred, prometheus.GaugeValue, float64(server.TransferredUp), "up")
	ch <- prometheus.MustNewConstMetric(c.transferred, prometheus.GaugeValue, float64(server.TransferredDown), "down")
	ch <- prometheus.MustNewConstMetric(c.freeSpace, prometheus.GaugeValue, float64(server.FreeSpace))
}
