// Copyright (c) 2026 Cilo Authors
// SPDX-License-Identifier: MIT
// See LICENSES/MIT.txt for full license text

package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sharedco/devstack/internal/config"
	"github.com/sharedco/devstack/internal/container"
	"github.com/sharedco/devstack/internal/credentials"
	"github.com/sharedco/devstack/internal/engine"
	"github.com/sharedco/devstack/internal/errdefs"
	"github.com/sharedco/devstack/internal/health"
	"github.com/sharedco/devstack/internal/logging"
	"github.com/sharedco/devstack/internal/metrics"
	"github.com/sharedco/devstack/internal/models"
	"github.com/sharedco/devstack/internal/orchestrator"
)

// session is everything one command invocation needs for a project.
type session struct {
	settings config.Settings
	logger   *slog.Logger
	cfg      *models.ProjectConfig
	backend  container.Backend
	creds    *credentials.Store
	metrics  *metrics.Metrics
	orch     *orchestrator.Orchestrator
	coord    *engine.Coordinator
}

// settings merges DEVSTACK_* variables with the persistent flags.
func (o *rootOptions) settings() (config.Settings, error) {
	s, err := config.Load()
	if err != nil {
		return config.Settings{}, err
	}
	if o.logLevel != "" {
		s.LogLevel = o.logLevel
	}
	if o.logFormat != "" {
		s.LogFormat = o.logFormat
	}
	if o.runtime != "" {
		s.Runtime = o.runtime
	}
	return s, nil
}

func (o *rootOptions) loadConfig() (*models.ProjectConfig, error) {
	if o.configPath != "" {
		return models.LoadProjectConfigFile(o.configPath)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	return models.LoadProjectConfig(cwd)
}

// open loads the project, selects a runtime and wires the components.
func (o *rootOptions) open(cmd *cobra.Command) (*session, error) {
	ctx := cmd.Context()

	settings, err := o.settings()
	if err != nil {
		return nil, err
	}
	logger := logging.New(settings.LogLevel, settings.LogFormat, cmd.ErrOrStderr())

	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}

	backend, err := o.backend(ctx, settings, logger)
	if err != nil {
		return nil, err
	}

	store, err := credentials.Open(cfg.Dir)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}

	m := metrics.New()
	orch := orchestrator.New(backend, store, cfg.Name,
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(m),
		orchestrator.WithStopTimeout(settings.StopTimeout),
		orchestrator.WithProjectDir(cfg.Dir),
	)
	checker := health.New(backend,
		health.WithInterval(settings.HealthInterval),
		health.WithLogger(logger),
		health.WithMetrics(m),
	)
	coordOpts := []engine.Option{engine.WithLogger(logger), engine.WithCredentials(store)}
	if o.deps.PortCheck != nil {
		coordOpts = append(coordOpts, engine.WithPortCheck(o.deps.PortCheck))
	}

	logger.Debug("project loaded", "project", cfg.Name, "services", len(cfg.Services), "runtime", backend.Name())
	return &session{
		settings: settings,
		logger:   logger,
		cfg:      cfg,
		backend:  backend,
		creds:    store,
		metrics:  m,
		orch:     orch,
		coord:    engine.New(cfg, orch, checker, settings, coordOpts...),
	}, nil
}

func (o *rootOptions) backend(ctx context.Context, settings config.Settings, logger *slog.Logger) (container.Backend, error) {
	sel, err := o.deps.Detector.Discover(ctx, settings.Runtime)
	if err != nil {
		return nil, err
	}
	logger.Debug("runtime selected", "runtime", sel.Preferred.Descriptor.Kind, "version", sel.Preferred.Version)
	return o.deps.OpenBackend(ctx, sel, logger)
}

// adopt picks up the ports of containers an earlier invocation started.
func (s *session) adopt(ctx context.Context) error {
	_, err := s.coord.Adopt(ctx)
	return err
}

func (s *session) Close() error {
	s.coord.Streams().StopAll()
	return s.backend.Close()
}

// withSession runs fn against an opened session and closes it afterwards.
func (o *rootOptions) withSession(fn func(cmd *cobra.Command, args []string, s *session) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		s, err := o.open(cmd)
		if err != nil {
			return err
		}
		defer s.Close()
		return fn(cmd, args, s)
	}
}

func requireDeclared(s *session, service string) error {
	if _, ok := s.cfg.Service(service); !ok {
		return errdefs.New(errdefs.ErrServiceNotDeclared, "lookup", service, nil)
	}
	return nil
}
