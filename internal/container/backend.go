// Copyright (c) 2026 Cilo Authors
// SPDX-License-Identifier: MIT
// See LICENSES/MIT.txt for full license text

// Package container defines the boundary between devstack and a container
// engine. Backends talk either to an engine API socket or to an engine CLI.
package container

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

// Labels set on every container and network devstack creates.
const (
	LabelProject = "devstack.project"
	LabelService = "devstack.service"
)

var (
	// ErrNotFound reports a container the engine does not know about.
	ErrNotFound = errors.New("no such container")
	// ErrAlreadyExists reports a network or container name collision.
	ErrAlreadyExists = errors.New("already exists")
	// ErrUnsupported reports an operation the backend cannot perform.
	ErrUnsupported = errors.New("not supported")
)

// Backend is the set of engine operations the orchestrator needs.
type Backend interface {
	Name() string
	Ping(ctx context.Context) error

	CreateNetwork(ctx context.Context, name string, labels map[string]string) error
	PullImage(ctx context.Context, ref string, progress func(line string)) error

	CreateContainer(ctx context.Context, spec Spec) (string, error)
	StartContainer(ctx context.Context, id string) error
	StopContainer(ctx context.Context, id string, timeout time.Duration) error
	RestartContainer(ctx context.Context, id string, timeout time.Duration) error
	RemoveContainer(ctx context.Context, id string) error

	// ListContainers returns the containers whose name starts with
	// namePrefix. CLI backends also return those labelled for the project
	// the prefix names, since pod names cannot contain "_".
	ListContainers(ctx context.Context, namePrefix string) ([]Summary, error)
	InspectContainer(ctx context.Context, id string) (*Inspect, error)

	// Exec runs argv inside the container and returns its exit code.
	Exec(ctx context.Context, id string, argv []string, stdout, stderr io.Writer) (int, error)
	Logs(ctx context.Context, id string, opts LogOptions, stdout, stderr io.Writer) error
	Stats(ctx context.Context, id string) (*Stats, error)

	Close() error
}

// Spec describes a container to create.
type Spec struct {
	Name    string
	Image   string
	Env     []string
	Cmd     []string
	Binds   []string
	Ports   []PortBinding
	Network string
	Labels  map[string]string
}

// PortBinding publishes ContainerPort/Protocol on HostIP:HostPort.
type PortBinding struct {
	HostIP        string
	HostPort      int
	ContainerPort int
	Protocol      string
}

// Summary is one row of a container listing.
type Summary struct {
	ID     string
	Name   string
	Image  string
	State  string // running, exited, created, ...
	Status string // human readable, e.g. "Up 3 minutes"
	Ports  string
	Labels map[string]string
}

// Running reports whether the listing shows the container as running.
func (s Summary) Running() bool {
	return s.State == "running"
}

// Inspect is the subset of container state devstack reads.
type Inspect struct {
	ID      string
	Name    string
	Running bool
	Status  string
	// Health is the engine's native health status ("healthy",
	// "unhealthy", "starting"), or empty when no healthcheck is defined.
	Health string
}

// LogOptions controls log replay and following.
type LogOptions struct {
	Follow bool
	Tail   int // 0 replays everything
}

// MatchesPrefix reports whether s is selected by a ListContainers prefix:
// by name, or by a project label equal to the prefix without its "_".
func MatchesPrefix(s Summary, prefix string) bool {
	if strings.HasPrefix(s.Name, prefix) {
		return true
	}
	project := strings.TrimSuffix(prefix, "_")
	return project != "" && s.Labels[LabelProject] == project
}
