// Copyright (c) 2026 Cilo Authors
// SPDX-License-Identifier: MIT
// See LICENSES/MIT.txt for full license text

package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharedco/devstack/internal/config"
	"github.com/sharedco/devstack/internal/container"
	"github.com/sharedco/devstack/internal/container/containertest"
	"github.com/sharedco/devstack/internal/credentials"
	"github.com/sharedco/devstack/internal/engine"
	"github.com/sharedco/devstack/internal/health"
	"github.com/sharedco/devstack/internal/logging"
	"github.com/sharedco/devstack/internal/metrics"
	"github.com/sharedco/devstack/internal/models"
	"github.com/sharedco/devstack/internal/orchestrator"
	"github.com/sharedco/devstack/internal/server/api"
)

func setupTestServer(t *testing.T) (*api.Server, *containertest.Backend, *engine.Coordinator) {
	t.Helper()
	store, err := credentials.Open(t.TempDir())
	require.NoError(t, err)

	fake := containertest.New()
	log := logging.Discard()
	m := metrics.New()
	cfg := &models.ProjectConfig{
		Name: "shop",
		Services: []models.ServiceSpec{
			{Name: "postgres", Version: "16"},
			{Name: "redis", Version: "7"},
		},
	}
	orch := orchestrator.New(fake, store, cfg.Name, orchestrator.WithLogger(log), orchestrator.WithMetrics(m))
	checker := health.New(fake, health.WithLogger(log), health.WithMetrics(m))
	coord := engine.New(cfg, orch, checker, config.Default(), engine.WithLogger(log), engine.WithCredentials(store))

	return api.NewServer("127.0.0.1:0", coord, m, log), fake, coord
}

func do(t *testing.T, srv http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := setupTestServer(t)

	w := do(t, srv, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "healthy", resp["status"])
	assert.Equal(t, "shop", resp["project"])
}

func TestServiceLifecycle(t *testing.T) {
	srv, fake, _ := setupTestServer(t)

	w := do(t, srv, http.MethodPost, "/services/redis/start")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{"shop_redis"}, fake.Running())

	w = do(t, srv, http.MethodGet, "/services")
	require.Equal(t, http.StatusOK, w.Code)
	var services []api.ServiceResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&services))
	require.Len(t, services, 2)
	assert.Equal(t, api.ServiceResponse{Name: "postgres", Version: "16", State: "absent"}, services[0])
	assert.Equal(t, "redis", services[1].Name)
	assert.Equal(t, 5000, services[1].Port)
	assert.Equal(t, "running", services[1].State)

	w = do(t, srv, http.MethodPost, "/services/redis/restart")
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, srv, http.MethodPost, "/services/redis/stop")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, fake.Running())
}

func TestUndeclaredServiceIs404(t *testing.T) {
	srv, _, _ := setupTestServer(t)

	for _, path := range []string{"/services/kafka/health", "/services/kafka/stats", "/services/kafka/logs"} {
		w := do(t, srv, http.MethodGet, path)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
	w := do(t, srv, http.MethodPost, "/services/kafka/start")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServiceHealthEndpoint(t *testing.T) {
	srv, _, _ := setupTestServer(t)

	w := do(t, srv, http.MethodGet, "/services/postgres/health")
	require.Equal(t, http.StatusOK, w.Code)

	var st health.Status
	require.NoError(t, json.NewDecoder(w.Body).Decode(&st))
	assert.Equal(t, "postgres", st.Service)
	assert.Equal(t, health.NotRunning, st.State)
}

func TestStatsEndpoints(t *testing.T) {
	srv, fake, coord := setupTestServer(t)
	require.NoError(t, coord.StartService(context.Background(), "postgres"))
	fake.StatsFor["shop_postgres"] = &container.Stats{MemoryUsage: 512, MemoryLimit: 1024, PIDs: 7}

	w := do(t, srv, http.MethodGet, "/services/postgres/stats")
	require.Equal(t, http.StatusOK, w.Code)
	var one api.StatsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&one))
	assert.Equal(t, 50.0, one.MemoryPercent)
	assert.Equal(t, uint64(7), one.PIDs)

	w = do(t, srv, http.MethodGet, "/stats")
	require.Equal(t, http.StatusOK, w.Code)
	var all []api.StatsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&all))
	require.Len(t, all, 1)
	assert.Equal(t, "postgres", all[0].Service)

	w = do(t, srv, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `devstack_container_memory_bytes{service="postgres"} 512`)
}

func TestLogsEndpoint(t *testing.T) {
	srv, fake, coord := setupTestServer(t)
	require.NoError(t, coord.StartService(context.Background(), "redis"))
	fake.LogOutput = "Ready to accept connections tcp\n"

	w := do(t, srv, http.MethodGet, "/services/redis/logs?tail=5")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/plain", w.Header().Get("Content-Type"))
	assert.Equal(t, "Ready to accept connections tcp\n", w.Body.String())

	w = do(t, srv, http.MethodGet, "/services/redis/logs?tail=-1")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLogsWebSocket(t *testing.T) {
	srv, fake, coord := setupTestServer(t)
	require.NoError(t, coord.StartService(context.Background(), "redis"))
	fake.LogOutput = "1:M * Ready to accept connections\n"

	ts := httptest.NewServer(srv)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/services/redis/logs/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "1:M * Ready to accept connections\n", string(msg))

	// Closing the client ends the follow on the server side.
	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}

func TestLifecycleRejectsCrossSiteRequests(t *testing.T) {
	srv, fake, _ := setupTestServer(t)

	tests := []struct {
		name        string
		contentType string
		origin      string
		want        int
	}{
		{name: "form post", contentType: "application/x-www-form-urlencoded", want: http.StatusUnsupportedMediaType},
		{name: "no content type", want: http.StatusUnsupportedMediaType},
		{name: "foreign origin", contentType: "application/json", origin: "https://example.com", want: http.StatusForbidden},
		{name: "loopback origin", contentType: "application/json; charset=utf-8", origin: "http://localhost:3000", want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/services/redis/start", nil)
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			srv.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
	assert.Equal(t, []string{"shop_redis"}, fake.Running())
}

func TestLogsWebSocketRejectsForeignOrigin(t *testing.T) {
	srv, _, coord := setupTestServer(t)
	require.NoError(t, coord.StartService(context.Background(), "redis"))

	ts := httptest.NewServer(srv)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/services/redis/logs/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://example.com"}})
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"http://127.0.0.1:8080"}})
	require.NoError(t, err)
	defer resp.Body.Close()
	conn.Close()
}
