// Copyright (c) 2026 Cilo Authors
// SPDX-License-Identifier: MIT
// See LICENSES/MIT.txt for full license text

// Package metrics exposes devstack's Prometheus collectors. A nil *Metrics
// is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "devstack"

var healthBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	operations  *prometheus.CounterVec
	healthCheck *prometheus.HistogramVec
	cpuPercent  *prometheus.GaugeVec
	memoryBytes *prometheus.GaugeVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Container lifecycle operations by outcome",
		}, []string{"operation", "service", "result"}),
		healthCheck: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "health_check_duration_seconds",
			Help:      "Latency of health probes",
			Buckets:   healthBuckets,
		}, []string{"service", "state"}),
		cpuPercent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "container_cpu_percent",
			Help:      "Last sampled CPU usage per service",
		}, []string{"service"}),
		memoryBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "container_memory_bytes",
			Help:      "Last sampled memory usage per service",
		}, []string{"service"}),
	}

	m.registry.MustRegister(
		m.operations,
		m.healthCheck,
		m.cpuPercent,
		m.memoryBytes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveOperation counts one lifecycle operation.
func (m *Metrics) ObserveOperation(operation, service string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.operations.WithLabelValues(operation, service, result).Inc()
}

// ObserveHealthCheck records a probe's latency and resulting state.
func (m *Metrics) ObserveHealthCheck(service, state string, latency time.Duration) {
	if m == nil {
		return
	}
	m.healthCheck.WithLabelValues(service, state).Observe(latency.Seconds())
}

// SetResourceUsage records the latest stats sample for service.
func (m *Metrics) SetResourceUsage(service string, cpuPercent float64, memoryBytes uint64) {
	if m == nil {
		return
	}
	m.cpuPercent.WithLabelValues(service).Set(cpuPercent)
	m.memoryBytes.WithLabelValues(service).Set(float64(memoryBytes))
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
