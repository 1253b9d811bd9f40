// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finch Contributors

package plugin

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains Prometheus metrics for plugin lifecycle operations.
type Metrics struct {
	LoadsTotal       prometheus.Counter
	LoadFailures     *prometheus.CounterVec
	UnloadsTotal     prometheus.Counter
	ReloadsTotal     prometheus.Counter
	ShutdownFailures prometheus.Counter
	Loaded           prometheus.Gauge
}

// NewMetrics creates and registers plugin lifecycle metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LoadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "finch_plugin_loads_total",
			Help: "Total number of successful plugin loads",
		}),
		LoadFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finch_plugin_load_failures_total",
				Help: "Total number of failed plugin loads by error code",
			},
			[]string{"code"},
		),
		UnloadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "finch_plugin_unloads_total",
			Help: "Total number of plugin unloads",
		}),
		ReloadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "finch_plugin_reloads_total",
			Help: "Total number of plugin reloads",
		}),
		ShutdownFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "finch_plugin_shutdown_failures_total",
			Help: "Total number of plugin shutdown failures swallowed during unload",
		}),
		Loaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "finch_plugins_loaded",
			Help: "Number of currently loaded plugins",
		}),
	}

	reg.MustRegister(
		m.LoadsTotal,
		m.LoadFailures,
		m.UnloadsTotal,
		m.ReloadsTotal,
		m.ShutdownFailures,
		m.Loaded,
	)
	return m
}

// RecordLoadFailure increments the load failure counter for an error code.
func (m *Metrics) RecordLoadFailure(code string) {
	if code == "" {
		code = "UNKNOWN"
	}
	m.LoadFailures.WithLabelValues(code).Inc()
}
