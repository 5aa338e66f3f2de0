// Copyright (c) 2026 Cilo Authors
// SPDX-License-Identifier: MIT
// See LICENSES/MIT.txt for full license text

// Package health decides whether a service container is ready to use.
package health

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sharedco/devstack/internal/container"
	"github.com/sharedco/devstack/internal/errdefs"
	"github.com/sharedco/devstack/internal/metrics"
)

// State is the outcome of one health check.
type State string

const (
	NotRunning           State = "not_running"
	RunningNoHealthcheck State = "running_no_healthcheck"
	Healthy              State = "healthy"
	Unhealthy            State = "unhealthy"
	InspectFailed        State = "inspect_failed"
)

const DefaultInterval = 2 * time.Second

// Status is recomputed on every check.
type Status struct {
	Service   string        `json:"service"`
	State     State         `json:"state"`
	Healthy   bool          `json:"healthy"`
	Message   string        `json:"message"`
	Latency   time.Duration `json:"latency"`
	CheckedAt time.Time     `json:"checked_at"`
}

type probe struct {
	match   string
	argv    []string
	markers []string
}

// probes is matched in order by substring of the service name.
var probes = []probe{
	{"postgres", []string{"pg_isready", "-U", "postgres"}, []string{"accepting connections"}},
	{"redis", []string{"redis-cli", "ping"}, []string{"PONG"}},
	{"mongo", []string{"mongosh", "--quiet", "--eval", "db.adminCommand('ping')"}, []string{"ok"}},
	{"mysql", []string{"mysqladmin", "ping", "-h", "localhost"}, []string{"alive"}},
	{"rabbitmq", []string{"rabbitmq-diagnostics", "-q", "ping"}, []string{"succeeded"}},
	{"elasticsearch", []string{"curl", "-fsS", "http://localhost:9200/_cluster/health"}, []string{"green", "yellow"}},
}

var genericMarkers = []string{"accepting connections", "ready"}

func probeFor(service string) (probe, bool) {
	lower := strings.ToLower(service)
	for _, p := range probes {
		if strings.Contains(lower, p.match) {
			return p, true
		}
	}
	return probe{}, false
}

// Checker runs health checks against one engine.
type Checker struct {
	backend  container.Backend
	interval time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Checker)

// WithInterval sets the WaitForHealthy polling interval.
func WithInterval(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.interval = d
		}
	}
}

func WithLogger(l *slog.Logger) Option { return func(c *Checker) { c.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(c *Checker) { c.metrics = m } }

func New(backend container.Backend, opts ...Option) *Checker {
	c := &Checker{backend: backend, interval: DefaultInterval, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckContainer inspects the container and, when the engine has no native
// health status, runs the service's readiness probe inside it.
func (c *Checker) CheckContainer(ctx context.Context, id, service string) Status {
	start := time.Now()
	st := c.check(ctx, id, service)
	st.Service = service
	st.Latency = time.Since(start)
	st.CheckedAt = time.Now()
	c.metrics.ObserveHealthCheck(service, string(st.State), st.Latency)
	return st
}

func (c *Checker) check(ctx context.Context, id, service string) Status {
	info, err := c.backend.InspectContainer(ctx, id)
	if err != nil {
		return Status{State: InspectFailed, Message: fmt.Sprintf("failed to inspect container: %v", err)}
	}
	if !info.Running {
		status := info.Status
		if status == "" {
			status = "unknown"
		}
		return Status{State: NotRunning, Message: "container not running: " + status}
	}

	switch info.Health {
	case "healthy":
		return Status{State: Healthy, Healthy: true, Message: "healthy"}
	case "unhealthy":
		return Status{State: Unhealthy, Message: "unhealthy"}
	case "starting":
		return Status{State: Unhealthy, Message: "starting"}
	}

	p, ok := probeFor(service)
	if !ok {
		return Status{State: RunningNoHealthcheck, Healthy: true, Message: "running (no health check available)"}
	}

	var out bytes.Buffer
	code, err := c.backend.Exec(ctx, id, p.argv, &out, &out)
	if err != nil {
		return Status{State: Unhealthy, Message: fmt.Sprintf("health check failed: %v", err)}
	}
	output := strings.TrimSpace(out.String())
	if code != 0 {
		msg := fmt.Sprintf("health check failed: %s exited with code %d", p.argv[0], code)
		if output != "" {
			msg += ": " + output
		}
		return Status{State: Unhealthy, Message: msg}
	}

	for _, marker := range append(p.markers, genericMarkers...) {
		if strings.Contains(output, marker) {
			return Status{State: Healthy, Healthy: true, Message: "healthy"}
		}
	}
	return Status{State: RunningNoHealthcheck, Healthy: true, Message: "running"}
}

// WaitForHealthy polls CheckContainer until it reports healthy. It gives up
// with ErrHealthCheckTimeout once timeout has elapsed, even if a probe is
// still in flight.
func (c *Checker) WaitForHealthy(ctx context.Context, id, service string, timeout time.Duration) (Status, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		st := c.CheckContainer(waitCtx, id, service)
		if st.Healthy {
			return st, nil
		}

		c.logger.Info("waiting for service to become healthy", "service", service, "state", st.State, "message", st.Message)

		select {
		case <-waitCtx.Done():
			if err := ctx.Err(); err != nil {
				return st, err
			}
			return st, errdefs.New(errdefs.ErrHealthCheckTimeout, "wait for healthy", service,
				fmt.Errorf("not healthy after %s: %s", timeout, st.Message))
		case <-ticker.C:
		}
	}
}
