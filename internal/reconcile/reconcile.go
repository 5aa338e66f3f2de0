// Copyright (c) 2026 Cilo Authors
// SPDX-License-Identifier: MIT
// See LICENSES/MIT.txt for full license text

// Package reconcile compares a project's declared services with the
// containers the engine actually holds.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/sharedco/devstack/internal/container"
	"github.com/sharedco/devstack/internal/models"
)

// Runtime is the slice of the orchestrator reconciliation needs.
type Runtime interface {
	ListContainers(ctx context.Context) ([]container.Summary, error)
	RemoveService(ctx context.Context, service string) error
	ServiceOf(c container.Summary) string
}

// Orphan is a project container whose service is no longer declared,
// typically left behind after a service was removed from devstack.yml.
type Orphan struct {
	Name    string
	Service string
	State   string
}

// Result contains reconciliation findings
type Result struct {
	Running []string
	Stopped []string
	Missing []string
	Orphans []Orphan
}

// Project classifies every declared service and finds orphans.
func Project(ctx context.Context, cfg *models.ProjectConfig, rt Runtime) (*Result, error) {
	list, err := rt.ListContainers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	byService := make(map[string]container.Summary, len(list))
	for _, c := range list {
		byService[rt.ServiceOf(c)] = c
	}

	res := &Result{}
	for _, spec := range cfg.Services {
		c, ok := byService[spec.Name]
		switch {
		case !ok:
			res.Missing = append(res.Missing, spec.Name)
		case c.Running():
			res.Running = append(res.Running, spec.Name)
		default:
			res.Stopped = append(res.Stopped, spec.Name)
		}
		delete(byService, spec.Name)
	}

	for _, c := range list {
		svc := rt.ServiceOf(c)
		if _, leftover := byService[svc]; leftover {
			res.Orphans = append(res.Orphans, Orphan{Name: c.Name, Service: svc, State: c.State})
		}
	}
	return res, nil
}

// RemoveOrphans removes every orphan and returns how many went away.
func RemoveOrphans(ctx context.Context, rt Runtime, orphans []Orphan) (int, error) {
	var errs []error
	removed := 0
	for _, o := range orphans {
		if err := rt.RemoveService(ctx, o.Service); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
