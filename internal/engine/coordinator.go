// Copyright (c) 2026 Cilo Authors
// SPDX-License-Identifier: MIT
// See LICENSES/MIT.txt for full license text

// Package engine coordinates a project's services: port allocation,
// parallel start, health waiting and per-service operations.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sharedco/devstack/internal/config"
	"github.com/sharedco/devstack/internal/container"
	"github.com/sharedco/devstack/internal/errdefs"
	"github.com/sharedco/devstack/internal/health"
	"github.com/sharedco/devstack/internal/models"
)

// Orchestrator is the container lifecycle the coordinator drives.
type Orchestrator interface {
	Project() string
	ContainerName(service string) string
	CreateNetwork(ctx context.Context) error
	StartService(ctx context.Context, spec models.ServiceSpec, hostPort int) (string, error)
	StopService(ctx context.Context, service string) error
	RestartService(ctx context.Context, service string) error
	RemoveService(ctx context.Context, service string) error
	StopAll(ctx context.Context) error
	RestartAll(ctx context.Context) error
	ListContainers(ctx context.Context) ([]container.Summary, error)
	ExecCommand(ctx context.Context, service string, argv []string, stdout, stderr io.Writer) error
	ExecCommandWithOutput(ctx context.Context, service string, argv []string) (string, error)
	GetLogs(ctx context.Context, service string, follow bool, tail int, w io.Writer) error
	GetStats(ctx context.Context, service string) (*container.Stats, error)
	GetAllStats(ctx context.Context) (map[string]*container.Stats, error)
}

// HealthChecker probes service containers.
type HealthChecker interface {
	CheckContainer(ctx context.Context, id, service string) health.Status
	WaitForHealthy(ctx context.Context, id, service string, timeout time.Duration) (health.Status, error)
}

// CredentialReader looks up persisted secrets.
type CredentialReader interface {
	Get(key string) (string, bool)
}

// StartOptions controls Start.
type StartOptions struct {
	WaitHealthy bool
	// Timeout bounds each health wait. Zero uses the configured default.
	Timeout time.Duration
}

// Coordinator owns the port allocation of one project.
type Coordinator struct {
	cfg       *models.ProjectConfig
	orch      Orchestrator
	checker   HealthChecker
	settings  config.Settings
	creds     CredentialReader
	portCheck func(port int) bool
	logger    *slog.Logger

	mu        sync.Mutex
	ports     map[string]int
	networkUp bool

	streams *LogStreams
}

type Option func(*Coordinator)

func WithLogger(l *slog.Logger) Option { return func(c *Coordinator) { c.logger = l } }

// WithCredentials supplies the secrets used by ConnectionEnv.
func WithCredentials(r CredentialReader) Option { return func(c *Coordinator) { c.creds = r } }

// WithPortCheck makes automatic allocation skip ports for which available
// returns false.
func WithPortCheck(available func(port int) bool) Option {
	return func(c *Coordinator) { c.portCheck = available }
}

func New(cfg *models.ProjectConfig, orch Orchestrator, checker HealthChecker, settings config.Settings, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:      cfg,
		orch:     orch,
		checker:  checker,
		settings: settings,
		logger:   slog.Default(),
		ports:    map[string]int{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.streams = NewLogStreams(orch, c.logger)
	return c
}

// Config returns the project configuration.
func (c *Coordinator) Config() *models.ProjectConfig { return c.cfg }

// Streams returns the log follower registry.
func (c *Coordinator) Streams() *LogStreams { return c.streams }

// Build creates the project network and allocates host ports. Fixed ports
// are reserved first, existing allocations of still-declared services are
// kept, and the rest are numbered upward from the base port in declaration
// order.
func (c *Coordinator) Build(ctx context.Context) (map[string]int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ports, err := c.allocate()
	if err != nil {
		return nil, err
	}
	if err := c.orch.CreateNetwork(ctx); err != nil {
		return nil, err
	}
	c.networkUp = true
	c.ports = ports

	for _, s := range c.cfg.Services {
		c.logger.Debug("allocated port", "service", s.Name, "port", ports[s.Name])
	}
	return maps.Clone(ports), nil
}

func (c *Coordinator) allocate() (map[string]int, error) {
	owner, err := c.fixedPorts("allocate ports")
	if err != nil {
		return nil, err
	}
	next := make(map[string]int, len(c.cfg.Services))
	for p, svc := range owner {
		next[svc] = p
	}

	for _, s := range c.cfg.Services {
		if _, done := next[s.Name]; done {
			continue
		}
		if p, ok := c.ports[s.Name]; ok {
			if _, taken := owner[p]; !taken {
				owner[p] = s.Name
				next[s.Name] = p
			}
		}
	}

	port := c.settings.BasePort
	for _, s := range c.cfg.Services {
		if _, done := next[s.Name]; done {
			continue
		}
		port = c.nextFree(port, owner)
		if port > 65535 {
			return nil, errdefs.New(errdefs.ErrPortConflict, "allocate ports", s.Name, errors.New("no free port left"))
		}
		owner[port] = s.Name
		next[s.Name] = port
		port++
	}
	return next, nil
}

// fixedPorts validates the declared fixed ports and maps each to its service.
func (c *Coordinator) fixedPorts(op string) (map[int]string, error) {
	owner := make(map[int]string, len(c.cfg.Services))
	for _, s := range c.cfg.Services {
		if s.Port == 0 {
			continue
		}
		if err := models.ValidatePort(s.Port); err != nil {
			return nil, errdefs.New(errdefs.ErrInvalidConfig, op, s.Name, err)
		}
		if other, taken := owner[s.Port]; taken {
			return nil, errdefs.New(errdefs.ErrPortConflict, op, s.Name,
				fmt.Errorf("port %d is also declared by %s", s.Port, other))
		}
		owner[s.Port] = s.Name
	}
	return owner, nil
}

// nextFree returns the first port >= from that is neither allocated nor
// rejected by the port check.
func (c *Coordinator) nextFree(from int, owner map[int]string) int {
	for p := from; p <= 65535; p++ {
		if _, taken := owner[p]; taken {
			continue
		}
		if c.portCheck != nil && !c.portCheck(p) {
			c.logger.Debug("skipping busy host port", "port", p)
			continue
		}
		return p
	}
	return 65536
}

// Ports returns a copy of the current allocation.
func (c *Coordinator) Ports() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.ports)
}

// Adopt seeds the allocation from the host ports the project's existing
// containers publish, so a fresh process sees the ports an earlier Build
// handed out. Services without a container are left unallocated.
func (c *Coordinator) Adopt(ctx context.Context) (map[string]int, error) {
	list, err := c.orch.ListContainers(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]container.Summary, len(list))
	for _, s := range list {
		byName[s.Name] = s
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, spec := range c.cfg.Services {
		s, ok := byName[c.orch.ContainerName(spec.Name)]
		if !ok {
			continue
		}
		if p, ok := PublishedPort(s.Ports); ok {
			c.ports[spec.Name] = p
		}
	}
	return maps.Clone(c.ports), nil
}

// PublishedPort returns the first host port in a listing's port column,
// e.g. "0.0.0.0:5000->5432/tcp, :::5000->5432/tcp".
func PublishedPort(ports string) (int, bool) {
	for _, mapping := range strings.Split(ports, ",") {
		host, _, found := strings.Cut(strings.TrimSpace(mapping), "->")
		if !found {
			continue
		}
		i := strings.LastIndex(host, ":")
		if i < 0 {
			continue
		}
		if p, err := strconv.Atoi(host[i+1:]); err == nil && p > 0 {
			return p, true
		}
	}
	return 0, false
}

// Port returns the host port allocated to service.
func (c *Coordinator) Port(service string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.ports[service]
	return p, ok
}

// Start starts every declared service in parallel, building first when
// any service lacks a port. With WaitHealthy it returns once every
// service reports healthy.
func (c *Coordinator) Start(ctx context.Context, opts StartOptions) error {
	c.mu.Lock()
	built := c.networkUp
	for _, s := range c.cfg.Services {
		if _, ok := c.ports[s.Name]; !ok {
			built = false
		}
	}
	c.mu.Unlock()
	if !built {
		if _, err := c.Build(ctx); err != nil {
			return err
		}
	}

	ports := c.Ports()
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.settings.HealthTimeout
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, spec := range c.cfg.Services {
		port := ports[spec.Name]
		g.Go(func() error {
			id, err := c.orch.StartService(gctx, spec, port)
			if err != nil {
				return err
			}
			if !opts.WaitHealthy {
				return nil
			}
			st, err := c.checker.WaitForHealthy(gctx, id, spec.Name, timeout)
			if err != nil {
				return err
			}
			c.logger.Info("service healthy", "service", spec.Name, "state", st.State)
			return nil
		})
	}
	return g.Wait()
}

// Stop stops every project container.
func (c *Coordinator) Stop(ctx context.Context) error {
	return c.orch.StopAll(ctx)
}

// Down stops log streams and removes every declared service's container.
func (c *Coordinator) Down(ctx context.Context) error {
	c.streams.StopAll()

	var errs []error
	for _, s := range c.cfg.Services {
		errs = append(errs, c.orch.RemoveService(ctx, s.Name))
	}
	return errors.Join(errs...)
}

// StartService starts one declared service, allocating a port if it has
// none yet.
func (c *Coordinator) StartService(ctx context.Context, service string) error {
	spec, ok := c.cfg.Service(service)
	if !ok {
		return errdefs.New(errdefs.ErrServiceNotDeclared, "start", service, nil)
	}

	c.mu.Lock()
	port, err := c.portFor(spec)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.ports[service] = port
	networkUp := c.networkUp
	c.mu.Unlock()

	if !networkUp {
		if err := c.orch.CreateNetwork(ctx); err != nil {
			return err
		}
		c.mu.Lock()
		c.networkUp = true
		c.mu.Unlock()
	}

	_, err = c.orch.StartService(ctx, spec, port)
	return err
}

// portFor returns the service's allocated port, or picks one that no other
// service holds or has declared as fixed. Callers hold c.mu.
func (c *Coordinator) portFor(spec models.ServiceSpec) (int, error) {
	if port, ok := c.ports[spec.Name]; ok {
		return port, nil
	}
	fixed, err := c.fixedPorts("start")
	if err != nil {
		return 0, err
	}
	owner := c.owners()
	if spec.Port != 0 {
		if other, taken := owner[spec.Port]; taken {
			return 0, errdefs.New(errdefs.ErrPortConflict, "start", spec.Name,
				fmt.Errorf("port %d is already allocated to %s", spec.Port, other))
		}
		return spec.Port, nil
	}

	for p, svc := range fixed {
		if _, taken := owner[p]; !taken {
			owner[p] = svc
		}
	}
	port := c.nextFree(c.settings.BasePort+len(c.ports), owner)
	if port > 65535 {
		return 0, errdefs.New(errdefs.ErrPortConflict, "start", spec.Name, errors.New("no free port left"))
	}
	return port, nil
}

// owners must be called with mu held.
func (c *Coordinator) owners() map[int]string {
	out := make(map[int]string, len(c.ports))
	for svc, p := range c.ports {
		out[p] = svc
	}
	return out
}

func (c *Coordinator) StopService(ctx context.Context, service string) error {
	c.streams.Stop(service)
	return c.orch.StopService(ctx, service)
}

func (c *Coordinator) RestartService(ctx context.Context, service string) error {
	return c.orch.RestartService(ctx, service)
}

func (c *Coordinator) RestartAll(ctx context.Context) error {
	return c.orch.RestartAll(ctx)
}

// List returns the project's containers.
func (c *Coordinator) List(ctx context.Context) ([]container.Summary, error) {
	return c.orch.ListContainers(ctx)
}

func (c *Coordinator) Logs(ctx context.Context, service string, follow bool, tail int, w io.Writer) error {
	return c.orch.GetLogs(ctx, service, follow, tail, w)
}

func (c *Coordinator) Exec(ctx context.Context, service string, argv []string, stdout, stderr io.Writer) error {
	return c.orch.ExecCommand(ctx, service, argv, stdout, stderr)
}

func (c *Coordinator) ExecWithOutput(ctx context.Context, service string, argv []string) (string, error) {
	return c.orch.ExecCommandWithOutput(ctx, service, argv)
}

func (c *Coordinator) Stats(ctx context.Context, service string) (*container.Stats, error) {
	return c.orch.GetStats(ctx, service)
}

func (c *Coordinator) AllStats(ctx context.Context) (map[string]*container.Stats, error) {
	return c.orch.GetAllStats(ctx)
}

// Health checks every declared service concurrently. Results follow
// declaration order.
func (c *Coordinator) Health(ctx context.Context) ([]health.Status, error) {
	ids, err := c.containerIDs(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]health.Status, len(c.cfg.Services))
	var g errgroup.Group
	for i, spec := range c.cfg.Services {
		g.Go(func() error {
			out[i] = c.check(ctx, ids, spec.Name)
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

// ServiceHealth checks one declared service.
func (c *Coordinator) ServiceHealth(ctx context.Context, service string) (health.Status, error) {
	if _, ok := c.cfg.Service(service); !ok {
		return health.Status{}, errdefs.New(errdefs.ErrServiceNotDeclared, "health", service, nil)
	}
	ids, err := c.containerIDs(ctx)
	if err != nil {
		return health.Status{}, err
	}
	return c.check(ctx, ids, service), nil
}

func (c *Coordinator) containerIDs(ctx context.Context) (map[string]string, error) {
	list, err := c.orch.ListContainers(ctx)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]string, len(list))
	for _, s := range list {
		ids[s.Name] = s.ID
	}
	return ids, nil
}

func (c *Coordinator) check(ctx context.Context, ids map[string]string, service string) health.Status {
	id, ok := ids[c.orch.ContainerName(service)]
	if !ok {
		return health.Status{
			Service:   service,
			State:     health.NotRunning,
			Message:   "container not found",
			CheckedAt: time.Now(),
		}
	}
	return c.checker.CheckContainer(ctx, id, service)
}
