// Copyright (c) 2026 Cilo Authors
// SPDX-License-Identifier: MIT
// See LICENSES/MIT.txt for full license text

// Package docker implements container.Backend on the Docker Engine API.
package docker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	dockererrdefs "github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	backend "github.com/sharedco/devstack/internal/container"
)

// Provider talks to the engine over its API socket.
type Provider struct {
	cli    *client.Client
	logger *slog.Logger
}

// NewProvider connects using DOCKER_HOST and friends, negotiating the API
// version. host overrides the environment when non-empty.
func NewProvider(host string, logger *slog.Logger) (*Provider, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{cli: cli, logger: logger}, nil
}

func (p *Provider) Name() string {
	return "Docker (api)"
}

func (p *Provider) Ping(ctx context.Context) error {
	ping, err := p.cli.Ping(ctx)
	if err != nil {
		return fmt.Errorf("docker ping: %w", err)
	}
	if ping.APIVersion == "" {
		return fmt.Errorf("docker ping returned empty API version")
	}
	return nil
}

func (p *Provider) Close() error {
	return p.cli.Close()
}

func (p *Provider) CreateNetwork(ctx context.Context, name string, labels map[string]string) error {
	_, err := p.cli.NetworkCreate(ctx, name, network.CreateOptions{
		Driver: "bridge",
		Labels: labels,
	})
	if err == nil {
		return nil
	}
	if dockererrdefs.IsConflict(err) || strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("network %s: %w", name, backend.ErrAlreadyExists)
	}
	return fmt.Errorf("network create: %w", err)
}

// PullImage pulls ref, reporting download and pull status lines.
func (p *Provider) PullImage(ctx context.Context, ref string, progress func(string)) error {
	rc, err := p.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("image pull: %w", err)
	}
	defer rc.Close()

	decoder := json.NewDecoder(rc)
	for {
		var msg jsonmessage.JSONMessage
		if err := decoder.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decode pull output: %w", err)
		}
		if msg.Error != nil {
			return fmt.Errorf("image pull: %s", msg.Error.Message)
		}
		if progress != nil && (strings.Contains(msg.Status, "Download") || strings.Contains(msg.Status, "Pull")) {
			line := msg.Status
			if msg.ID != "" {
				line = msg.ID + ": " + line
			}
			progress(line)
		}
	}
}

func (p *Provider) CreateContainer(ctx context.Context, spec backend.Spec) (string, error) {
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, pb := range spec.Ports {
		proto := pb.Protocol
		if proto == "" {
			proto = "tcp"
		}
		port, err := nat.NewPort(proto, strconv.Itoa(pb.ContainerPort))
		if err != nil {
			return "", fmt.Errorf("invalid container port %d: %w", pb.ContainerPort, err)
		}
		hostIP := pb.HostIP
		if hostIP == "" {
			hostIP = "0.0.0.0"
		}
		exposed[port] = struct{}{}
		bindings[port] = append(bindings[port], nat.PortBinding{HostIP: hostIP, HostPort: strconv.Itoa(pb.HostPort)})
	}

	cfg := &container.Config{
		Image:        spec.Image,
		Env:          spec.Env,
		Cmd:          spec.Cmd,
		Labels:       spec.Labels,
		ExposedPorts: exposed,
	}
	hostCfg := &container.HostConfig{
		Binds:        spec.Binds,
		PortBindings: bindings,
	}
	if spec.Network != "" {
		hostCfg.NetworkMode = container.NetworkMode(spec.Network)
	}

	resp, err := p.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		if dockererrdefs.IsConflict(err) {
			return "", fmt.Errorf("container %s: %w", spec.Name, backend.ErrAlreadyExists)
		}
		return "", fmt.Errorf("container create: %w", err)
	}
	for _, w := range resp.Warnings {
		p.logger.Warn("container create warning", "container", spec.Name, "warning", w)
	}
	return resp.ID, nil
}

func (p *Provider) StartContainer(ctx context.Context, id string) error {
	return mapNotFound(id, p.cli.ContainerStart(ctx, id, container.StartOptions{}))
}

func (p *Provider) StopContainer(ctx context.Context, id string, timeout time.Duration) error {
	secs := int(timeout.Seconds())
	return mapNotFound(id, p.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &secs}))
}

func (p *Provider) RestartContainer(ctx context.Context, id string, timeout time.Duration) error {
	secs := int(timeout.Seconds())
	return mapNotFound(id, p.cli.ContainerRestart(ctx, id, container.StopOptions{Timeout: &secs}))
}

func (p *Provider) RemoveContainer(ctx context.Context, id string) error {
	err := p.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true})
	return mapNotFound(id, err)
}

func (p *Provider) ListContainers(ctx context.Context, prefix string) ([]backend.Summary, error) {
	opts := container.ListOptions{All: true}
	if prefix != "" {
		opts.Filters = filters.NewArgs(filters.Arg("name", prefix))
	}
	list, err := p.cli.ContainerList(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("container list: %w", err)
	}

	out := make([]backend.Summary, 0, len(list))
	for _, c := range list {
		var name string
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		// The name filter is a substring match.
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		var ports []string
		for _, port := range c.Ports {
			if port.PublicPort != 0 {
				ports = append(ports, fmt.Sprintf("%s:%d->%d/%s", port.IP, port.PublicPort, port.PrivatePort, port.Type))
			}
		}
		out = append(out, backend.Summary{
			ID:     c.ID,
			Name:   name,
			Image:  c.Image,
			State:  c.State,
			Status: c.Status,
			Ports:  strings.Join(ports, ", "),
			Labels: c.Labels,
		})
	}
	return out, nil
}

func (p *Provider) InspectContainer(ctx context.Context, id string) (*backend.Inspect, error) {
	info, err := p.cli.ContainerInspect(ctx, id)
	if err != nil {
		return nil, mapNotFound(id, err)
	}
	out := &backend.Inspect{ID: info.ID, Name: strings.TrimPrefix(info.Name, "/")}
	if info.State != nil {
		out.Running = info.State.Running
		out.Status = info.State.Status
		if info.State.Health != nil {
			out.Health = info.State.Health.Status
		}
	}
	return out, nil
}

// Exec runs argv in the container and demultiplexes its output.
func (p *Provider) Exec(ctx context.Context, id string, argv []string, stdout, stderr io.Writer) (int, error) {
	created, err := p.cli.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:          argv,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return -1, mapNotFound(id, err)
	}

	attach, err := p.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return -1, fmt.Errorf("exec attach: %w", err)
	}
	defer attach.Close()

	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	if _, err := stdcopy.StdCopy(stdout, stderr, attach.Reader); err != nil {
		return -1, fmt.Errorf("exec stream: %w", err)
	}

	inspect, err := p.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return -1, fmt.Errorf("exec inspect: %w", err)
	}
	return inspect.ExitCode, nil
}

func (p *Provider) Logs(ctx context.Context, id string, opts backend.LogOptions, stdout, stderr io.Writer) error {
	logOpts := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     opts.Follow,
	}
	if opts.Tail > 0 {
		logOpts.Tail = strconv.Itoa(opts.Tail)
	}

	rc, err := p.cli.ContainerLogs(ctx, id, logOpts)
	if err != nil {
		return mapNotFound(id, err)
	}
	defer rc.Close()

	if stderr == nil {
		stderr = stdout
	}
	if _, err := stdcopy.StdCopy(stdout, stderr, rc); err != nil && ctx.Err() == nil {
		return fmt.Errorf("log stream: %w", err)
	}
	return nil
}

// statsJSON is the subset of the engine's stats document devstack reads.
type statsJSON struct {
	Read     time.Time `json:"read"`
	CPUStats cpuStats  `json:"cpu_stats"`
	PreCPU   cpuStats  `json:"precpu_stats"`
	Memory   struct {
		Usage uint64 `json:"usage"`
		Limit uint64 `json:"limit"`
	} `json:"memory_stats"`
	Networks map[string]struct {
		RxBytes uint64 `json:"rx_bytes"`
		TxBytes uint64 `json:"tx_bytes"`
	} `json:"networks"`
	BlkioStats struct {
		IOServiceBytesRecursive []struct {
			Op    string `json:"op"`
			Value uint64 `json:"value"`
		} `json:"io_service_bytes_recursive"`
	} `json:"blkio_stats"`
	PidsStats struct {
		Current uint64 `json:"current"`
	} `json:"pids_stats"`
}

type cpuStats struct {
	CPUUsage struct {
		TotalUsage  uint64   `json:"total_usage"`
		PercpuUsage []uint64 `json:"percpu_usage"`
	} `json:"cpu_usage"`
	SystemUsage uint64 `json:"system_cpu_usage"`
	OnlineCPUs  uint32 `json:"online_cpus"`
}

// Stats takes a single non-streaming sample, which carries the previous
// CPU reading needed for the delta.
func (p *Provider) Stats(ctx context.Context, id string) (*backend.Stats, error) {
	resp, err := p.cli.ContainerStats(ctx, id, false)
	if err != nil {
		return nil, mapNotFound(id, err)
	}
	defer resp.Body.Close()

	var raw statsJSON
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}
	return convertStats(&raw), nil
}

func convertStats(raw *statsJSON) *backend.Stats {
	s := &backend.Stats{
		ReadAt:       raw.Read,
		CPUTotal:     raw.CPUStats.CPUUsage.TotalUsage,
		PreCPUTotal:  raw.PreCPU.CPUUsage.TotalUsage,
		SystemCPU:    raw.CPUStats.SystemUsage,
		PreSystemCPU: raw.PreCPU.SystemUsage,
		OnlineCPUs:   raw.CPUStats.OnlineCPUs,
		PerCPUCount:  len(raw.CPUStats.CPUUsage.PercpuUsage),
		MemoryUsage:  raw.Memory.Usage,
		MemoryLimit:  raw.Memory.Limit,
		PIDs:         raw.PidsStats.Current,
	}
	for _, n := range raw.Networks {
		s.NetworkRx += n.RxBytes
		s.NetworkTx += n.TxBytes
	}
	for _, entry := range raw.BlkioStats.IOServiceBytesRecursive {
		switch strings.ToLower(entry.Op) {
		case "read":
			s.BlockRead += entry.Value
		case "write":
			s.BlockWrite += entry.Value
		}
	}
	return s
}

func mapNotFound(id string, err error) error {
	if err == nil {
		return nil
	}
	if client.IsErrNotFound(err) {
		return fmt.Errorf("%s: %w", id, backend.ErrNotFound)
	}
	return err
}
