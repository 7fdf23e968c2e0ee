// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides Prometheus instrumentation for wsbridge.
// Metrics implements bridge.Events, so wiring it into the proxy is a
// one-line configuration change.
package metrics

import (
	"time"

	"github.com/absmach/wsbridge/pkg/bridge"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for wsbridge.
type Metrics struct {
	ActiveSessions  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	SessionDuration prometheus.Histogram
	BytesRelayed    *prometheus.CounterVec
	Rejections      *prometheus.CounterVec
	ServerListFetch *prometheus.CounterVec
}

var _ bridge.Events = (*Metrics)(nil)

// New creates a Metrics instance registered with reg.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "wsbridge"
	}
	factory := promauto.With(reg)

	return &Metrics{
		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_sessions",
				Help:      "Number of currently active relay sessions",
			},
		),
		SessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_total",
				Help:      "Total number of relay sessions by teardown cause",
			},
			[]string{"cause"},
		),
		SessionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_duration_seconds",
				Help:      "Relay session duration in seconds",
				Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 300, 600, 1800, 3600},
			},
		),
		BytesRelayed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_relayed_total",
				Help:      "Total bytes relayed by direction",
			},
			[]string{"direction"},
		),
		Rejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rejections_total",
				Help:      "Total rejected upgrade attempts by reason",
			},
			[]string{"reason"},
		),
		ServerListFetch: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "server_list_fetches_total",
				Help:      "Total upstream server list fetches by status",
			},
			[]string{"status"},
		),
	}
}

// Started implements bridge.Events.
func (m *Metrics) Started(sessionID, target string) {
	m.ActiveSessions.Inc()
}

// Connected implements bridge.Events.
func (m *Metrics) Connected(sessionID, target string) {}

// Disconnected implements bridge.Events.
func (m *Metrics) Disconnected(sessionID, target, cause string, duration time.Duration) {
	m.ActiveSessions.Dec()
	m.SessionsTotal.WithLabelValues(cause).Inc()
	m.SessionDuration.Observe(duration.Seconds())
}

// Rejected implements bridge.Events.
func (m *Metrics) Rejected(target, reason string) {
	m.Rejections.WithLabelValues(reason).Inc()
}

// Relayed implements bridge.Events.
func (m *Metrics) Relayed(direction bridge.Direction, bytes int) {
	m.BytesRelayed.WithLabelValues(direction.String()).Add(float64(bytes))
}

// ObserveFetch records a server-list fetch outcome. Shaped to plug into
// serverlist.Config.OnFetch.
func (m *Metrics) ObserveFetch(err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ServerListFetch.WithLabelValues(status).Inc()
}
