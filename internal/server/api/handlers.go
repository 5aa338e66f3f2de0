// Copyright (c) 2026 Cilo Authors
// SPDX-License-Identifier: MIT
// See LICENSES/MIT.txt for full license text

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/sharedco/devstack/internal/container"
	"github.com/sharedco/devstack/internal/errdefs"
	"github.com/sharedco/devstack/internal/orchestrator"
)

const defaultTail = 100

// ServiceResponse describes one declared service.
type ServiceResponse struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Port      int    `json:"port,omitempty"`
	Container string `json:"container,omitempty"`
	State     string `json:"state"`
	Status    string `json:"status,omitempty"`
}

// StatsResponse is one stats sample with derived percentages.
type StatsResponse struct {
	Service       string    `json:"service"`
	ReadAt        time.Time `json:"read_at"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryUsage   uint64    `json:"memory_usage"`
	MemoryLimit   uint64    `json:"memory_limit"`
	MemoryPercent float64   `json:"memory_percent"`
	NetworkRx     uint64    `json:"network_rx"`
	NetworkTx     uint64    `json:"network_tx"`
	BlockRead     uint64    `json:"block_read"`
	BlockWrite    uint64    `json:"block_write"`
	PIDs          uint64    `json:"pids"`
}

func newStatsResponse(service string, st *container.Stats) StatsResponse {
	return StatsResponse{
		Service:       service,
		ReadAt:        st.ReadAt,
		CPUPercent:    st.CPUPercent(),
		MemoryUsage:   st.MemoryUsage,
		MemoryLimit:   st.MemoryLimit,
		MemoryPercent: st.MemoryPercent(),
		NetworkRx:     st.NetworkRx,
		NetworkTx:     st.NetworkTx,
		BlockRead:     st.BlockRead,
		BlockWrite:    st.BlockWrite,
		PIDs:          st.PIDs,
	}
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError maps err onto a status code.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errdefs.ErrServiceNotDeclared), errors.Is(err, errdefs.ErrContainerNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errdefs.ErrPortConflict):
		status = http.StatusConflict
	case errors.Is(err, errdefs.ErrEngineUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
	}
	respondJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) declared(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := chi.URLParam(r, "name")
	if _, ok := s.engine.Config().Service(name); !ok {
		s.respondError(w, r, errdefs.New(errdefs.ErrServiceNotDeclared, "lookup", name, nil))
		return "", false
	}
	return name, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"project": s.engine.Config().Name,
	})
}

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	list, err := s.engine.List(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	byName := make(map[string]container.Summary, len(list))
	for _, c := range list {
		byName[c.Name] = c
	}

	cfg := s.engine.Config()
	ports := s.engine.Ports()
	out := make([]ServiceResponse, 0, len(cfg.Services))
	for _, spec := range cfg.Services {
		resp := ServiceResponse{Name: spec.Name, Version: spec.Version, Port: ports[spec.Name], State: "absent"}
		if c, ok := byName[orchestrator.ContainerName(cfg.Name, spec.Name)]; ok {
			resp.Container = c.Name
			resp.State = c.State
			resp.Status = c.Status
		}
		out = append(out, resp)
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleServiceHealth(w http.ResponseWriter, r *http.Request) {
	name, ok := s.declared(w, r)
	if !ok {
		return
	}
	st, err := s.engine.ServiceHealth(r.Context(), name)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleServiceStats(w http.ResponseWriter, r *http.Request) {
	name, ok := s.declared(w, r)
	if !ok {
		return
	}
	st, err := s.engine.Stats(r.Context(), name)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newStatsResponse(name, st))
}

func (s *Server) handleAllStats(w http.ResponseWriter, r *http.Request) {
	all, err := s.engine.AllStats(r.Context())
	if err != nil && len(all) == 0 {
		s.respondError(w, r, err)
		return
	}
	if err != nil {
		s.logger.Warn("partial stats", "error", err)
	}

	out := make([]StatsResponse, 0, len(all))
	for _, spec := range s.engine.Config().Services {
		if st, ok := all[spec.Name]; ok {
			out = append(out, newStatsResponse(spec.Name, st))
		}
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) lifecycle(op string, fn func(context.Context, string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, ok := s.declared(w, r)
		if !ok {
			return
		}
		if err := fn(r.Context(), name); err != nil {
			s.respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"service": name, "status": op})
	}
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.lifecycle("started", s.engine.StartService)(w, r)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.lifecycle("stopped", s.engine.StopService)(w, r)
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	s.lifecycle("restarted", s.engine.RestartService)(w, r)
}

func tailParam(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("tail")
	if raw == "" {
		return defaultTail, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	name, ok := s.declared(w, r)
	if !ok {
		return
	}
	tail, ok := tailParam(r)
	if !ok {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "tail must be a non-negative integer"})
		return
	}

	var buf bytes.Buffer
	if err := s.engine.Logs(r.Context(), name, false, tail, &buf); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// wsWriter sends each write as one text message.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (ww *wsWriter) Write(p []byte) (int, error) {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if err := ww.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *Server) handleLogsWS(w http.ResponseWriter, r *http.Request) {
	name, ok := s.declared(w, r)
	if !ok {
		return
	}
	tail, ok := tailParam(r)
	if !ok {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "tail must be a non-negative integer"})
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The read loop notices the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ww := &wsWriter{conn: conn}
	err = s.engine.Logs(ctx, name, true, tail, ww)
	if err != nil && ctx.Err() == nil {
		s.logger.Warn("log stream failed", "service", name, "error", err)
	}

	ww.mu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	ww.mu.Unlock()
}
