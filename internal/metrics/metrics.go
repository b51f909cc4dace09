// Copyright (C) 2026 SOLTECSIS, SLU. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics exposes Prometheus metrics for the policy compiler, the
// rule ordering engine and the tree repair engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all fwcloud Prometheus metrics.
type Metrics struct {
	CompilesTotal      prometheus.Counter
	CompileErrorsTotal prometheus.Counter
	CompileDuration    prometheus.Histogram

	RuleOperations *prometheus.CounterVec

	RepairsTotal      prometheus.Counter
	RepairErrorsTotal prometheus.Counter

	InstallsTotal prometheus.Counter
	InstallErrors prometheus.Counter

	WSClients prometheus.Gauge

	HTTPRequests *prometheus.CounterVec
}

// New creates the metric set.
func New() *Metrics {
	return &Metrics{
		CompilesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fwcloud_compiles_total",
			Help: "Total number of policy script compilations",
		}),
		CompileErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fwcloud_compile_errors_total",
			Help: "Total number of failed policy script compilations",
		}),
		CompileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fwcloud_compile_duration_seconds",
			Help:    "Duration of policy script compilations",
			Buckets: prometheus.DefBuckets,
		}),
		RuleOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fwcloud_rule_operations_total",
			Help: "Total number of rule ordering operations",
		}, []string{"family", "operation"}),

		RepairsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fwcloud_tree_repairs_total",
			Help: "Total number of tree repair runs",
		}),
		RepairErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fwcloud_tree_repair_errors_total",
			Help: "Total number of failed tree repair runs",
		}),
		InstallsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fwcloud_installs_total",
			Help: "Total number of policy installs pushed to firewalls",
		}),
		InstallErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fwcloud_install_errors_total",
			Help: "Total number of failed policy installs",
		}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fwcloud_websocket_clients",
			Help: "Number of connected websocket clients",
		}),

		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fwcloud_http_requests_total",
			Help: "Total number of HTTP requests by route and status",
		}, []string{"route", "status"}),
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.CompilesTotal.Describe(ch)
	m.CompileErrorsTotal.Describe(ch)
	m.CompileDuration.Describe(ch)
	m.RuleOperations.Describe(ch)
	m.RepairsTotal.Describe(ch)
	m.RepairErrorsTotal.Describe(ch)
	m.InstallsTotal.Describe(ch)
	m.InstallErrors.Describe(ch)
	m.WSClients.Describe(ch)
	m.HTTPRequests.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.CompilesTotal.Collect(ch)
	m.CompileErrorsTotal.Collect(ch)
	m.CompileDuration.Collect(ch)
	m.RuleOperations.Collect(ch)
	m.RepairsTotal.Collect(ch)
	m.RepairErrorsTotal.Collect(ch)
	m.InstallsTotal.Collect(ch)
	m.InstallErrors.Collect(ch)
	m.WSClients.Collect(ch)
	m.HTTPRequests.Collect(ch)
}

// Register registers the metric set with a registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	return reg.Register(m)
}
