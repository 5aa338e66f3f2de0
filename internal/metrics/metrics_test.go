// Copyright (c) 2026 Cilo Authors
// SPDX-License-Identifier: MIT
// See LICENSES/MIT.txt for full license text

package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveOperation(t *testing.T) {
	m := New()
	m.ObserveOperation("start", "postgres", nil)
	m.ObserveOperation("start", "postgres", nil)
	m.ObserveOperation("start", "postgres", errors.New("pull failed"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.operations.WithLabelValues("start", "postgres", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("start", "postgres", "error")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveOperation("stop", "redis", nil)
	m.ObserveHealthCheck("redis", "healthy", time.Millisecond)
	m.SetResourceUsage("redis", 1, 2)
	assert.NotNil(t, m.Handler())
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.SetResourceUsage("redis", 12.5, 1024)
	m.ObserveHealthCheck("redis", "healthy", 20*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `devstack_container_cpu_percent{service="redis"} 12.5`)
	assert.Contains(t, string(body), `devstack_container_memory_bytes{service="redis"} 1024`)
	assert.Contains(t, string(body), `devstack_health_check_duration_seconds_count{service="redis",state="healthy"} 1`)
}
