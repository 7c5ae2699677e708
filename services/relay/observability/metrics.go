// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the relay.
//
// # Description
//
// Metrics include:
//   - Relay request counters and latency (by action and HTTP status)
//   - Relay error counters (by action and error kind)
//   - Upstream attempt counters and latency (by service and outcome)
//   - Upstream retry counters (by service)
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every method is a no-op on a nil *RelayMetrics.
package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const metricsNamespace = "keyrelay"

const (
	relaySubsystem    = "relay"
	upstreamSubsystem = "upstream"
)

// RelayMetrics holds all Prometheus metrics for the relay.
type RelayMetrics struct {
	// RequestsTotal counts relay calls.
	// Labels: action (generate_text, ..., unknown), status (HTTP status code)
	RequestsTotal *prometheus.CounterVec

	// ErrorsTotal counts failed relay calls by error kind.
	// Labels: action, kind (invalid_input, upstream_error, ...)
	ErrorsTotal *prometheus.CounterVec

	// RequestDurationSeconds measures end-to-end relay latency.
	// Labels: action
	RequestDurationSeconds *prometheus.HistogramVec

	// UpstreamAttemptsTotal counts individual upstream calls.
	// Labels: service (gemini, unsplash, emailjs, cpanel), outcome (success, failure)
	UpstreamAttemptsTotal *prometheus.CounterVec

	// UpstreamRetriesTotal counts waits scheduled before a retry.
	// Labels: service
	UpstreamRetriesTotal *prometheus.CounterVec

	// UpstreamDurationSeconds measures single upstream attempts.
	// Labels: service
	UpstreamDurationSeconds *prometheus.HistogramVec
}

// NewRelayMetrics creates and registers all relay metrics on reg.
//
// # Inputs
//
//   - reg: Registry to register on. Nil means prometheus.DefaultRegisterer.
//
// # Limitations
//
//   - Panics if called twice with the same registry (duplicate registration).
func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &RelayMetrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "requests_total",
				Help:      "Total relay requests by action and HTTP status",
			},
			[]string{"action", "status"},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "errors_total",
				Help:      "Total relay errors by action and error kind",
			},
			[]string{"action", "kind"},
		),

		RequestDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "request_duration_seconds",
				Help:      "Relay request duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"action"},
		),

		UpstreamAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: upstreamSubsystem,
				Name:      "attempts_total",
				Help:      "Total upstream call attempts by service and outcome",
			},
			[]string{"service", "outcome"},
		),

		UpstreamRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: upstreamSubsystem,
				Name:      "retries_total",
				Help:      "Total upstream retries scheduled by service",
			},
			[]string{"service"},
		),

		UpstreamDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: upstreamSubsystem,
				Name:      "duration_seconds",
				Help:      "Single upstream attempt duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
			},
			[]string{"service"},
		),
	}
}

// =============================================================================
// Helper Methods
// =============================================================================

// RecordRequest records a completed relay call.
func (m *RelayMetrics) RecordRequest(action string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(action, strconv.Itoa(status)).Inc()
	m.RequestDurationSeconds.WithLabelValues(action).Observe(elapsed.Seconds())
}

// RecordError records a failed relay call.
func (m *RelayMetrics) RecordError(action, kind string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(action, kind).Inc()
}

// ObserveUpstream records one upstream attempt. It satisfies
// upstream.Observer.
func (m *RelayMetrics) ObserveUpstream(service, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.UpstreamAttemptsTotal.WithLabelValues(service, outcome).Inc()
	m.UpstreamDurationSeconds.WithLabelValues(service).Observe(elapsed.Seconds())
}

// RecordRetry records a scheduled retry.
func (m *RelayMetrics) RecordRetry(service string) {
	if m == nil {
		return
	}
	m.UpstreamRetriesTotal.WithLabelValues(service).Inc()
}
