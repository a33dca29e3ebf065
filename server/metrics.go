// SPDX-License-Identifier: GPL-2.0-only

package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

// URB outcomes.
const (
	outcomeOK     = "ok"
	outcomeStall  = "stall"
	outcomeSilent = "silent"
)

type metrics struct {
	sessionsTotal       prometheus.Counter
	sessionsActive      prometheus.Gauge
	urbsTotal           *prometheus.CounterVec
	unlinksTotal        prometheus.Counter
	protocolErrorsTotal prometheus.Counter
	rejectedConnections prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sessions_total",
			Help: "The number of client connections accepted.",
		}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sessions_active",
			Help: "The number of client connections currently open.",
		}),
		urbsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "urbs_total",
			Help: "The number of submitted URBs, by endpoint kind and outcome.",
		}, []string{"kind", "outcome"}),
		unlinksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "unlinks_total",
			Help: "The number of unlink requests received.",
		}),
		protocolErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "protocol_errors_total",
			Help: "The number of sessions closed because of a malformed or unknown message.",
		}),
		rejectedConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rejected_connections_total",
			Help: "The number of connections dropped because the connection limit was reached.",
		}),
	}
	if reg != nil {
		reg = prometheus.WrapRegistererWithPrefix("usbip_", reg)
		reg.MustRegister(
			m.sessionsTotal,
			m.sessionsActive,
			m.urbsTotal,
			m.unlinksTotal,
			m.protocolErrorsTotal,
			m.rejectedConnections,
		)
	}
	return m
}
