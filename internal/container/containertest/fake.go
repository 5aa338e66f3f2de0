// Copyright (c) 2026 Cilo Authors
// SPDX-License-Identifier: MIT
// See LICENSES/MIT.txt for full license text

// Package containertest provides an in-memory container.Backend for tests.
package containertest

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sharedco/devstack/internal/container"
)

// ExecFunc scripts the result of an exec call.
type ExecFunc func(name string, argv []string, stdout, stderr io.Writer) (int, error)

// Container is the fake's record of a created container.
type Container struct {
	ID      string
	Spec    container.Spec
	Running bool
	Health  string
}

// Backend is a fake engine. The exported fields may be set before use to
// inject behaviour; everything else is guarded by the mutex.
type Backend struct {
	// Errors maps an operation name ("pull", "create", "start", "stop",
	// "restart", "remove", "network", "list", "inspect", "logs", "stats")
	// to the error it returns.
	Errors map[string]error
	// ExecHandler answers Exec; nil exits 0 with no output.
	ExecHandler ExecFunc
	// LogOutput is written by Logs.
	LogOutput string
	// StatsFor answers Stats by container name.
	StatsFor map[string]*container.Stats
	// NoRestart makes RestartContainer return container.ErrUnsupported.
	NoRestart bool

	mu         sync.Mutex
	seq        int
	containers map[string]*Container
	networks   map[string]map[string]string
	pulls      []string
	calls      []string
}

// New returns an empty fake engine.
func New() *Backend {
	return &Backend{
		Errors:     map[string]error{},
		StatsFor:   map[string]*container.Stats{},
		containers: map[string]*Container{},
		networks:   map[string]map[string]string{},
	}
}

func (b *Backend) record(call string) error {
	b.calls = append(b.calls, call)
	return b.Errors[strings.Fields(call)[0]]
}

// Calls returns the recorded operations, e.g. "start app_redis".
func (b *Backend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

// Pulls returns the pulled image references.
func (b *Backend) Pulls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.pulls...)
}

// Networks returns the created network names.
func (b *Backend) Networks() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.networks))
	for n := range b.networks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Container returns a copy of the named container.
func (b *Backend) Container(name string) (Container, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.containers[name]
	if !ok {
		return Container{}, false
	}
	return *c, true
}

// Add registers an existing container, as if created outside the test.
func (b *Backend) Add(name string, running bool, labels map[string]string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	b.containers[name] = &Container{
		ID:      fmt.Sprintf("id-%d", b.seq),
		Spec:    container.Spec{Name: name, Labels: labels},
		Running: running,
	}
}

// SetHealth sets the engine-native health status of a container.
func (b *Backend) SetHealth(name, health string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.containers[name]; ok {
		c.Health = health
	}
}

// SetRunning flips a container's running state.
func (b *Backend) SetRunning(name string, running bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.containers[name]; ok {
		c.Running = running
	}
}

// Running returns the names of running containers.
func (b *Backend) Running() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var names []string
	for name, c := range b.containers {
		if c.Running {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (b *Backend) byID(id string) (*Container, bool) {
	for _, c := range b.containers {
		if c.ID == id || c.Spec.Name == id {
			return c, true
		}
	}
	return nil, false
}

func (b *Backend) Name() string { return "fake" }

func (b *Backend) Ping(context.Context) error { return nil }

func (b *Backend) CreateNetwork(_ context.Context, name string, labels map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("network " + name); err != nil {
		return err
	}
	if _, ok := b.networks[name]; ok {
		return fmt.Errorf("network %s: %w", name, container.ErrAlreadyExists)
	}
	b.networks[name] = labels
	return nil
}

func (b *Backend) PullImage(_ context.Context, ref string, progress func(string)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("pull " + ref); err != nil {
		return err
	}
	b.pulls = append(b.pulls, ref)
	if progress != nil {
		progress("Pull complete")
	}
	return nil
}

func (b *Backend) CreateContainer(_ context.Context, spec container.Spec) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("create " + spec.Name); err != nil {
		return "", err
	}
	if _, ok := b.containers[spec.Name]; ok {
		return "", fmt.Errorf("container %s: %w", spec.Name, container.ErrAlreadyExists)
	}
	b.seq++
	c := &Container{ID: fmt.Sprintf("id-%d", b.seq), Spec: spec}
	b.containers[spec.Name] = c
	return c.ID, nil
}

func (b *Backend) StartContainer(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.byID(id)
	if !ok {
		return container.ErrNotFound
	}
	if err := b.record("start " + c.Spec.Name); err != nil {
		return err
	}
	c.Running = true
	return nil
}

func (b *Backend) StopContainer(_ context.Context, id string, _ time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.byID(id)
	if !ok {
		return container.ErrNotFound
	}
	if err := b.record("stop " + c.Spec.Name); err != nil {
		return err
	}
	c.Running = false
	return nil
}

func (b *Backend) RestartContainer(_ context.Context, id string, _ time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.NoRestart {
		return container.ErrUnsupported
	}
	c, ok := b.byID(id)
	if !ok {
		return container.ErrNotFound
	}
	if err := b.record("restart " + c.Spec.Name); err != nil {
		return err
	}
	c.Running = true
	return nil
}

func (b *Backend) RemoveContainer(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.byID(id)
	if !ok {
		return container.ErrNotFound
	}
	if err := b.record("remove " + c.Spec.Name); err != nil {
		return err
	}
	delete(b.containers, c.Spec.Name)
	return nil
}

func (b *Backend) ListContainers(_ context.Context, prefix string) ([]container.Summary, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.Errors["list"]; err != nil {
		return nil, err
	}
	var out []container.Summary
	for name, c := range b.containers {
		if !container.MatchesPrefix(container.Summary{Name: name, Labels: c.Spec.Labels}, prefix) {
			continue
		}
		state, status := "exited", "Exited (0)"
		if c.Running {
			state, status = "running", "Up 1 second"
		}
		var ports []string
		for _, p := range c.Spec.Ports {
			ports = append(ports, fmt.Sprintf("%s:%d->%d/%s", p.HostIP, p.HostPort, p.ContainerPort, p.Protocol))
		}
		out = append(out, container.Summary{
			ID:     c.ID,
			Name:   name,
			Image:  c.Spec.Image,
			State:  state,
			Status: status,
			Ports:  strings.Join(ports, ", "),
			Labels: c.Spec.Labels,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (b *Backend) InspectContainer(_ context.Context, id string) (*container.Inspect, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.Errors["inspect"]; err != nil {
		return nil, err
	}
	c, ok := b.byID(id)
	if !ok {
		return nil, container.ErrNotFound
	}
	status := "exited"
	if c.Running {
		status = "running"
	}
	return &container.Inspect{ID: c.ID, Name: c.Spec.Name, Running: c.Running, Status: status, Health: c.Health}, nil
}

func (b *Backend) Exec(_ context.Context, id string, argv []string, stdout, stderr io.Writer) (int, error) {
	b.mu.Lock()
	c, ok := b.byID(id)
	if !ok {
		b.mu.Unlock()
		return -1, container.ErrNotFound
	}
	name := c.Spec.Name
	b.calls = append(b.calls, "exec "+name+" "+strings.Join(argv, " "))
	handler := b.ExecHandler
	b.mu.Unlock()

	if handler == nil {
		return 0, nil
	}
	return handler(name, argv, stdout, stderr)
}

func (b *Backend) Logs(ctx context.Context, id string, opts container.LogOptions, stdout, _ io.Writer) error {
	b.mu.Lock()
	c, ok := b.byID(id)
	if !ok {
		b.mu.Unlock()
		return container.ErrNotFound
	}
	err := b.record("logs " + c.Spec.Name)
	out := b.LogOutput
	b.mu.Unlock()
	if err != nil {
		return err
	}

	if _, err := io.WriteString(stdout, out); err != nil {
		return err
	}
	if opts.Follow {
		<-ctx.Done()
	}
	return nil
}

func (b *Backend) Stats(_ context.Context, id string) (*container.Stats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.byID(id)
	if !ok {
		return nil, container.ErrNotFound
	}
	if err := b.record("stats " + c.Spec.Name); err != nil {
		return nil, err
	}
	if s, ok := b.StatsFor[c.Spec.Name]; ok {
		return s, nil
	}
	return &container.Stats{ReadAt: time.Now()}, nil
}

func (b *Backend) Close() error { return nil }

var _ container.Backend = (*Backend)(nil)
