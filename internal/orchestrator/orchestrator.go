// Copyright (c) 2026 Cilo Authors
// SPDX-License-Identifier: MIT
// See LICENSES/MIT.txt for full license text

// Package orchestrator turns declared services into containers on the
// selected engine and drives their lifecycle.
package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/sharedco/devstack/internal/container"
	"github.com/sharedco/devstack/internal/errdefs"
	"github.com/sharedco/devstack/internal/metrics"
	"github.com/sharedco/devstack/internal/models"
	"github.com/sharedco/devstack/internal/secrets"
)

// Container labels.
const (
	LabelProject = container.LabelProject
	LabelService = container.LabelService
)

const defaultStopTimeout = 10 * time.Second

// CredentialSource hands out persisted secrets.
type CredentialSource interface {
	GetOrGenerate(ctx context.Context, key string, gen secrets.Generator) (string, error)
}

// Orchestrator manages the containers of one project.
type Orchestrator struct {
	backend     container.Backend
	creds       CredentialSource
	project     string
	projectDir  string
	stopTimeout time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithLogger(l *slog.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

func WithStopTimeout(d time.Duration) Option { return func(o *Orchestrator) { o.stopTimeout = d } }

// WithProjectDir resolves relative bind mount sources against dir.
func WithProjectDir(dir string) Option { return func(o *Orchestrator) { o.projectDir = dir } }

// New returns an Orchestrator for project using backend.
func New(backend container.Backend, creds CredentialSource, project string, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		backend:     backend,
		creds:       creds,
		project:     project,
		stopTimeout: defaultStopTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("project", project)
	return o
}

// Project returns the project name.
func (o *Orchestrator) Project() string { return o.project }

// Backend returns the engine backend.
func (o *Orchestrator) Backend() container.Backend { return o.backend }

// ContainerName is the deterministic container name for a service.
func (o *Orchestrator) ContainerName(service string) string {
	return ContainerName(o.project, service)
}

// NetworkName is the project network name.
func (o *Orchestrator) NetworkName() string {
	return NetworkName(o.project)
}

func ContainerName(project, service string) string { return project + "_" + service }

func NetworkName(project string) string { return "devstack_" + project }

// ServiceOf returns the service a listed container belongs to.
func (o *Orchestrator) ServiceOf(s container.Summary) string {
	if svc := s.Labels[LabelService]; svc != "" {
		return svc
	}
	return strings.TrimPrefix(s.Name, o.project+"_")
}

// CreateNetwork creates the project network. An existing network is fine.
func (o *Orchestrator) CreateNetwork(ctx context.Context) error {
	name := o.NetworkName()
	err := o.backend.CreateNetwork(ctx, name, map[string]string{LabelProject: o.project})
	switch {
	case err == nil:
		o.logger.Info("created network", "network", name)
		return nil
	case errors.Is(err, container.ErrAlreadyExists):
		o.logger.Debug("network already exists", "network", name)
		return nil
	default:
		return errdefs.New(errdefs.ErrNetworkCreate, "create network", "", fmt.Errorf("%s: %w", name, err))
	}
}

// ServiceEnv assembles the container environment for spec: declared values
// first, "auto-generate" placeholders resolved from the credential store,
// then generated credentials for well-known service types. Declared keys
// are never overridden.
func (o *Orchestrator) ServiceEnv(ctx context.Context, spec models.ServiceSpec) ([]string, error) {
	env := make(map[string]string, len(spec.Environment)+4)
	for key, value := range spec.Environment {
		if value != models.AutoGenerate {
			env[key] = value
			continue
		}
		secret, err := o.creds.GetOrGenerate(ctx, CredentialKey(spec.Name, key), secrets.ForKey(key))
		if err != nil {
			return nil, err
		}
		env[key] = secret
	}

	if rule, ok := credentialRules[TypeOf(spec.Name)]; ok {
		for key, value := range rule.static {
			if _, declared := env[key]; !declared {
				env[key] = value
			}
		}
		for _, sv := range rule.secrets {
			if _, declared := env[sv.env]; declared {
				continue
			}
			secret, err := o.creds.GetOrGenerate(ctx, CredentialKey(spec.Name, sv.keySuffix), secrets.DBPassword)
			if err != nil {
				return nil, err
			}
			env[sv.env] = secret
		}
	}

	out := make([]string, 0, len(env))
	for _, key := range slices.Sorted(maps.Keys(env)) {
		out = append(out, key+"="+env[key])
	}
	return out, nil
}

// StartService pulls the image, replaces any previous container, and creates
// and starts a fresh one publishing hostPort. It returns the container id.
func (o *Orchestrator) StartService(ctx context.Context, spec models.ServiceSpec, hostPort int) (id string, err error) {
	defer func() { o.metrics.ObserveOperation("start", spec.Name, err) }()

	name := o.ContainerName(spec.Name)
	ref := ImageFor(spec.Name, spec.Version)
	containerPort := ContainerPortFor(spec.Name)
	log := o.logger.With("service", spec.Name)

	log.Info("pulling image", "image", ref)
	err = o.backend.PullImage(ctx, ref, func(line string) {
		log.Debug("pull progress", "status", line)
	})
	if err != nil {
		return "", errdefs.New(errdefs.ErrImagePull, "pull "+ref, spec.Name, err)
	}

	if rmErr := o.backend.RemoveContainer(ctx, name); rmErr != nil && !errors.Is(rmErr, container.ErrNotFound) {
		log.Warn("failed to remove previous container", "container", name, "error", rmErr)
	}

	env, err := o.ServiceEnv(ctx, spec)
	if err != nil {
		return "", errdefs.New(errdefs.ErrCredentialIO, "resolve credentials", spec.Name, err)
	}

	cs := container.Spec{
		Name:    name,
		Image:   ref,
		Env:     env,
		Cmd:     spec.Command,
		Binds:   o.resolveBinds(spec.Volumes),
		Network: o.NetworkName(),
		Labels: map[string]string{
			LabelProject: o.project,
			LabelService: spec.Name,
		},
		Ports: []container.PortBinding{{
			HostIP:        "0.0.0.0",
			HostPort:      hostPort,
			ContainerPort: containerPort,
			Protocol:      "tcp",
		}},
	}

	id, err = o.backend.CreateContainer(ctx, cs)
	if err != nil {
		return "", errdefs.New(errdefs.ErrContainerCreate, "create container", spec.Name, err)
	}
	if err = o.backend.StartContainer(ctx, id); err != nil {
		return "", errdefs.New(errdefs.ErrContainerCreate, "start container", spec.Name, err)
	}

	log.Info("started service", "container", name, "host_port", hostPort, "container_port", containerPort)
	return id, nil
}

// resolveBinds makes relative host paths absolute. Named volumes pass
// through unchanged.
func (o *Orchestrator) resolveBinds(volumes []string) []string {
	if len(volumes) == 0 {
		return nil
	}
	binds := make([]string, 0, len(volumes))
	for _, v := range volumes {
		src, rest, _ := strings.Cut(v, ":")
		if o.projectDir != "" && strings.HasPrefix(src, ".") {
			src = filepath.Join(o.projectDir, src)
		}
		binds = append(binds, src+":"+rest)
	}
	return binds
}

// StopService stops the service's container. A missing container is not an
// error.
func (o *Orchestrator) StopService(ctx context.Context, service string) (err error) {
	defer func() { o.metrics.ObserveOperation("stop", service, err) }()

	return o.stop(ctx, service, o.ContainerName(service))
}

func (o *Orchestrator) stop(ctx context.Context, service, id string) error {
	err := o.backend.StopContainer(ctx, id, o.stopTimeout)
	if errors.Is(err, container.ErrNotFound) {
		o.logger.Debug("nothing to stop", "service", service)
		return nil
	}
	if err != nil {
		return fmt.Errorf("stop %s: %w", service, err)
	}
	o.logger.Info("stopped service", "service", service)
	return nil
}

// RestartService restarts the service's container, falling back to stop
// and start when the engine has no restart command.
func (o *Orchestrator) RestartService(ctx context.Context, service string) (err error) {
	defer func() { o.metrics.ObserveOperation("restart", service, err) }()

	return o.restart(ctx, service, o.ContainerName(service))
}

func (o *Orchestrator) restart(ctx context.Context, service, id string) error {
	err := o.backend.RestartContainer(ctx, id, o.stopTimeout)
	switch {
	case err == nil:
	case errors.Is(err, container.ErrNotFound):
		return nil
	case errors.Is(err, container.ErrUnsupported) || errors.Is(err, errdefs.ErrUnsupportedOperation):
		if err := o.stop(ctx, service, id); err != nil {
			return err
		}
		if err := o.backend.StartContainer(ctx, id); err != nil {
			return fmt.Errorf("restart %s: %w", service, err)
		}
	default:
		return fmt.Errorf("restart %s: %w", service, err)
	}
	o.logger.Info("restarted service", "service", service)
	return nil
}

// StopAll stops every container of the project, continuing past failures.
func (o *Orchestrator) StopAll(ctx context.Context) error {
	list, err := o.ListContainers(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, c := range list {
		service := o.ServiceOf(c)
		err := o.stop(ctx, service, c.ID)
		o.metrics.ObserveOperation("stop", service, err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// RestartAll restarts every container of the project.
func (o *Orchestrator) RestartAll(ctx context.Context) error {
	list, err := o.ListContainers(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, c := range list {
		service := o.ServiceOf(c)
		err := o.restart(ctx, service, c.ID)
		o.metrics.ObserveOperation("restart", service, err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// RemoveService force-removes the service's container and its anonymous
// volumes.
func (o *Orchestrator) RemoveService(ctx context.Context, service string) (err error) {
	defer func() { o.metrics.ObserveOperation("remove", service, err) }()

	err = o.backend.RemoveContainer(ctx, o.ContainerName(service))
	if err != nil && !errors.Is(err, container.ErrNotFound) {
		return fmt.Errorf("remove %s: %w", service, err)
	}
	return nil
}

// ListContainers returns the project's containers, matched by name prefix.
func (o *Orchestrator) ListContainers(ctx context.Context) ([]container.Summary, error) {
	list, err := o.backend.ListContainers(ctx, o.project+"_")
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	return list, nil
}

// resolve finds the container for service among the project's containers:
// the project container name first, then any name ending in "-{service}".
func (o *Orchestrator) resolve(ctx context.Context, op, service string) (container.Summary, error) {
	list, err := o.backend.ListContainers(ctx, o.project)
	if err != nil {
		return container.Summary{}, fmt.Errorf("%s %s: list containers: %w", op, service, err)
	}

	var owned []container.Summary
	for _, c := range list {
		if o.owns(c) {
			owned = append(owned, c)
		}
	}
	want := o.ContainerName(service)
	for _, c := range owned {
		if c.Name == want {
			return c, nil
		}
	}
	for _, c := range owned {
		if strings.HasSuffix(c.Name, "-"+service) {
			return c, nil
		}
	}
	return container.Summary{}, errdefs.New(errdefs.ErrContainerNotFound, op, service, nil)
}

// owns reports whether c belongs to this project, by label or by a
// "{project}_" or "{project}-" name prefix.
func (o *Orchestrator) owns(c container.Summary) bool {
	if c.Labels[LabelProject] == o.project {
		return true
	}
	return strings.HasPrefix(c.Name, o.project+"_") || strings.HasPrefix(c.Name, o.project+"-")
}

// ExecCommand runs argv in the service container, streaming its output.
// A non-zero exit is an ExecFailure.
func (o *Orchestrator) ExecCommand(ctx context.Context, service string, argv []string, stdout, stderr io.Writer) error {
	c, err := o.resolve(ctx, "exec", service)
	if err != nil {
		return err
	}
	code, err := o.backend.Exec(ctx, c.ID, argv, stdout, stderr)
	if err != nil {
		return errdefs.New(errdefs.ErrExec, "exec", service, err)
	}
	if code != 0 {
		return errdefs.New(errdefs.ErrExec, "exec", service, fmt.Errorf("%s exited with code %d", argv[0], code))
	}
	return nil
}

// ExecCommandWithOutput runs argv and returns its stdout.
func (o *Orchestrator) ExecCommandWithOutput(ctx context.Context, service string, argv []string) (string, error) {
	c, err := o.resolve(ctx, "exec", service)
	if err != nil {
		return "", err
	}

	var stdout, stderr bytes.Buffer
	code, err := o.backend.Exec(ctx, c.ID, argv, &stdout, &stderr)
	if err != nil {
		return "", errdefs.New(errdefs.ErrExec, "exec", service, err)
	}
	if code != 0 {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		return "", errdefs.New(errdefs.ErrExec, "exec", service, fmt.Errorf("exit code %d: %s", code, msg))
	}
	return stdout.String(), nil
}

// GetLogs writes the service's logs to w. With follow it blocks until ctx
// is cancelled; tail bounds the replayed history.
func (o *Orchestrator) GetLogs(ctx context.Context, service string, follow bool, tail int, w io.Writer) error {
	c, err := o.resolve(ctx, "logs", service)
	if err != nil {
		return err
	}
	if err := o.backend.Logs(ctx, c.ID, container.LogOptions{Follow: follow, Tail: tail}, w, w); err != nil {
		return fmt.Errorf("logs %s: %w", service, err)
	}
	return nil
}

// GetStats samples resource usage of the service's container.
func (o *Orchestrator) GetStats(ctx context.Context, service string) (*container.Stats, error) {
	c, err := o.resolve(ctx, "stats", service)
	if err != nil {
		return nil, err
	}
	stats, err := o.backend.Stats(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("stats %s: %w", service, err)
	}
	o.metrics.SetResourceUsage(service, stats.CPUPercent(), stats.MemoryUsage)
	return stats, nil
}

// GetAllStats samples every running project container, keyed by service.
// Containers that fail to report are skipped and their errors joined.
func (o *Orchestrator) GetAllStats(ctx context.Context) (map[string]*container.Stats, error) {
	list, err := o.ListContainers(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]*container.Stats, len(list))
	var errs []error
	for _, c := range list {
		if !c.Running() {
			continue
		}
		service := o.ServiceOf(c)
		stats, err := o.backend.Stats(ctx, c.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("stats %s: %w", service, err))
			continue
		}
		o.metrics.SetResourceUsage(service, stats.CPUPercent(), stats.MemoryUsage)
		out[service] = stats
	}
	return out, errors.Join(errs...)
}
