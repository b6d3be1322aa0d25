// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the improver
// HTTP surface. Metrics are exposed via the /metrics endpoint.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal
// locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "aleutian"

const improverSubsystem = "improver"

// HTTPMetrics holds the request-level Prometheus metrics. Initialize
// once at startup via InitMetrics().
type HTTPMetrics struct {
	// RequestsTotal counts API requests by endpoint and status.
	RequestsTotal *prometheus.CounterVec

	// JobsSubmitted counts enhancement jobs accepted by the API.
	JobsSubmitted prometheus.Counter

	// RequestDurationSeconds measures handler latency by endpoint.
	RequestDurationSeconds *prometheus.HistogramVec
}

// DefaultMetrics is the singleton instance. Initialized by InitMetrics().
var DefaultMetrics *HTTPMetrics

// InitMetrics creates and registers the metrics on the default
// Prometheus registry. Call once at startup; a second call panics on
// duplicate registration.
func InitMetrics() *HTTPMetrics {
	DefaultMetrics = &HTTPMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: improverSubsystem,
				Name:      "requests_total",
				Help:      "Total API requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		JobsSubmitted: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: improverSubsystem,
				Name:      "jobs_submitted_total",
				Help:      "Total enhancement jobs accepted",
			},
		),

		RequestDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: improverSubsystem,
				Name:      "request_duration_seconds",
				Help:      "Handler latency by endpoint",
				Buckets:   []float64{0.005, 0.025, 0.1, 0.5, 1.0, 5.0, 30.0},
			},
			[]string{"endpoint"},
		),
	}
	return DefaultMetrics
}

// RecordRequest records one finished API request.
func (m *HTTPMetrics) RecordRequest(endpoint string, success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.RequestsTotal.WithLabelValues(endpoint, status).Inc()
}

// RecordDuration records one handler latency observation.
func (m *HTTPMetrics) RecordDuration(endpoint string, seconds float64) {
	if m == nil {
		return
	}
	m.RequestDurationSeconds.WithLabelValues(endpoint).Observe(seconds)
}
