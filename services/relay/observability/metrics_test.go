// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) (*RelayMetrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewRelayMetrics(reg), reg
}

func TestNewRelayMetrics_Registers(t *testing.T) {
	m, reg := newTestMetrics(t)
	m.RecordRequest("generate_text", 200, time.Second)
	m.RecordError("send_email", "upstream_error")
	m.ObserveUpstream("gemini", "success", 10*time.Millisecond)
	m.RecordRetry("gemini")

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.ElementsMatch(t, []string{
		"keyrelay_relay_requests_total",
		"keyrelay_relay_errors_total",
		"keyrelay_relay_request_duration_seconds",
		"keyrelay_upstream_attempts_total",
		"keyrelay_upstream_retries_total",
		"keyrelay_upstream_duration_seconds",
	}, names)
}

func TestNewRelayMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewRelayMetrics(reg)
	assert.Panics(t, func() { NewRelayMetrics(reg) })
}

func TestRelayMetrics_RecordRequest(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordRequest("search_images", 200, 50*time.Millisecond)
	m.RecordRequest("search_images", 200, 70*time.Millisecond)
	m.RecordRequest("search_images", 500, time.Second)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.RequestsTotal.WithLabelValues("search_images", "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RequestsTotal.WithLabelValues("search_images", "500")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.RequestDurationSeconds))
}

func TestRelayMetrics_UpstreamAndRetries(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.ObserveUpstream("gemini", "failure", time.Second)
	m.ObserveUpstream("gemini", "failure", time.Second)
	m.ObserveUpstream("gemini", "success", time.Second)
	m.RecordRetry("gemini")
	m.RecordRetry("gemini")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.UpstreamAttemptsTotal.WithLabelValues("gemini", "failure")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.UpstreamAttemptsTotal.WithLabelValues("gemini", "success")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.UpstreamRetriesTotal.WithLabelValues("gemini")))
}

func TestRelayMetrics_NilIsNoop(t *testing.T) {
	var m *RelayMetrics
	assert.NotPanics(t, func() {
		m.RecordRequest("a", 200, time.Second)
		m.RecordError("a", "b")
		m.ObserveUpstream("s", "success", time.Second)
		m.RecordRetry("s")
	})
}

func TestRelayMetrics_ConcurrentSafety(t *testing.T) {
	m, _ := newTestMetrics(t)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RecordRequest("generate_text", 200, time.Millisecond)
			m.RecordError("generate_text", "invalid_ai_output")
		}()
	}
	wg.Wait()
	assert.Equal(t, float64(50), testutil.ToFloat64(m.RequestsTotal.WithLabelValues("generate_text", "200")))
	assert.Equal(t, float64(50), testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("generate_text", "invalid_ai_output")))
}
