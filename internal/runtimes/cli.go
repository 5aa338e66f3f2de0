// Copyright (c) 2026 Cilo Authors
// SPDX-License-Identifier: MIT
// See LICENSES/MIT.txt for full license text

package runtimes

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os/exec"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/sharedco/devstack/internal/container"
	"github.com/sharedco/devstack/internal/runtime"
)

// CommandFunc runs name with args, streaming output to stdout and stderr.
type CommandFunc func(ctx context.Context, stdout, stderr io.Writer, name string, args ...string) error

func execCommand(ctx context.Context, stdout, stderr io.Writer, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return cmd.Run()
}

// CLIBackend drives a container engine through its command line, using the
// argument templates from a runtime.Descriptor. Operations with no
// descriptor template are only available on docker-compatible engines.
type CLIBackend struct {
	desc   runtime.Descriptor
	run    CommandFunc
	logger *slog.Logger
}

// NewCLIBackend returns a backend for desc. A nil run uses os/exec.
func NewCLIBackend(desc runtime.Descriptor, run CommandFunc, logger *slog.Logger) *CLIBackend {
	if run == nil {
		run = execCommand
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIBackend{desc: desc, run: run, logger: logger}
}

func (b *CLIBackend) Name() string {
	return b.desc.DisplayName + " (cli)"
}

func (b *CLIBackend) Close() error { return nil }

// Ping runs the descriptor's status command.
func (b *CLIBackend) Ping(ctx context.Context) error {
	_, err := b.output(ctx, b.desc.Command, b.desc.StatusArgs...)
	return err
}

func (b *CLIBackend) CreateNetwork(ctx context.Context, name string, labels map[string]string) error {
	if err := b.requireDocker("network create"); err != nil {
		return err
	}

	args := []string{"network", "create", "--driver", "bridge"}
	args = append(args, labelArgs(labels)...)
	args = append(args, name)

	_, err := b.output(ctx, b.desc.Binary(), args...)
	return err
}

func (b *CLIBackend) PullImage(ctx context.Context, ref string, progress func(string)) error {
	if err := b.requireDocker("pull"); err != nil {
		return err
	}

	pr, pw := io.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(pr)
		for scanner.Scan() {
			if progress != nil {
				progress(scanner.Text())
			}
		}
		io.Copy(io.Discard, pr)
	}()

	var stderr bytes.Buffer
	err := b.run(ctx, pw, &stderr, b.desc.Binary(), "pull", ref)
	pw.Close()
	<-done

	if err != nil {
		return commandError("pull", stderr.String(), err)
	}
	return nil
}

func (b *CLIBackend) CreateContainer(ctx context.Context, spec container.Spec) (string, error) {
	if err := b.requireDocker("create"); err != nil {
		return "", err
	}

	args := []string{"create", "--name", spec.Name}
	if spec.Network != "" {
		args = append(args, "--network", spec.Network)
	}
	args = append(args, labelArgs(spec.Labels)...)
	for _, env := range spec.Env {
		args = append(args, "-e", env)
	}
	for _, bind := range spec.Binds {
		args = append(args, "-v", bind)
	}
	for _, p := range spec.Ports {
		args = append(args, "-p", publishArg(p))
	}
	args = append(args, spec.Image)
	args = append(args, spec.Cmd...)

	out, err := b.output(ctx, b.desc.Binary(), args...)
	if err != nil {
		return "", err
	}
	return lastLine(out), nil
}

func (b *CLIBackend) StartContainer(ctx context.Context, id string) error {
	return b.lifecycle(ctx, runtime.OpStart, id, 0)
}

func (b *CLIBackend) StopContainer(ctx context.Context, id string, timeout time.Duration) error {
	return b.lifecycle(ctx, runtime.OpStop, id, timeout)
}

func (b *CLIBackend) RestartContainer(ctx context.Context, id string, timeout time.Duration) error {
	return b.lifecycle(ctx, runtime.OpRestart, id, timeout)
}

func (b *CLIBackend) lifecycle(ctx context.Context, op runtime.Op, id string, timeout time.Duration) error {
	if !b.desc.Supports(op) {
		return fmt.Errorf("%s %s: %w", b.desc.DisplayName, op, container.ErrUnsupported)
	}
	args, err := b.desc.Render(op, id, container.LogOptions{})
	if err != nil {
		return err
	}
	if timeout > 0 && b.desc.DockerCompatible && (op == runtime.OpStop || op == runtime.OpRestart) {
		secs := strconv.Itoa(int(timeout.Seconds()))
		args = append(args[:len(args)-1], "--time", secs, id)
	}
	_, err = b.output(ctx, b.desc.Binary(), args...)
	return err
}

func (b *CLIBackend) RemoveContainer(ctx context.Context, id string) error {
	if err := b.requireDocker("rm"); err != nil {
		return err
	}
	_, err := b.output(ctx, b.desc.Binary(), "rm", "-f", "-v", id)
	return err
}

func (b *CLIBackend) ListContainers(ctx context.Context, prefix string) ([]container.Summary, error) {
	args, err := b.desc.Render(runtime.OpList, "", container.LogOptions{})
	if err != nil {
		return nil, err
	}
	out, err := b.output(ctx, b.desc.Binary(), args...)
	if err != nil {
		return nil, err
	}

	all, err := ParseList(b.desc.ListFormat, out)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s container list: %w", b.desc.DisplayName, err)
	}

	filtered := all[:0]
	for _, s := range all {
		if container.MatchesPrefix(s, prefix) {
			filtered = append(filtered, s)
		}
	}
	slices.SortFunc(filtered, func(a, b container.Summary) int { return strings.Compare(a.Name, b.Name) })
	return filtered, nil
}

func (b *CLIBackend) InspectContainer(ctx context.Context, id string) (*container.Inspect, error) {
	if err := b.requireDocker("inspect"); err != nil {
		return nil, err
	}
	out, err := b.output(ctx, b.desc.Binary(), "inspect", "--type", "container", "--format", "{{json .State}}", id)
	if err != nil {
		return nil, err
	}
	inspect, err := parseInspectState(out)
	if err != nil {
		return nil, err
	}
	inspect.ID = id
	inspect.Name = id
	return inspect, nil
}

func (b *CLIBackend) Exec(ctx context.Context, id string, argv []string, stdout, stderr io.Writer) (int, error) {
	if err := b.requireDocker("exec"); err != nil {
		return -1, err
	}

	var errBuf bytes.Buffer
	errW := io.Writer(&errBuf)
	if stderr != nil {
		errW = io.MultiWriter(stderr, &errBuf)
	}
	if stdout == nil {
		stdout = io.Discard
	}

	args := append([]string{"exec", id}, argv...)
	err := b.run(ctx, stdout, errW, b.desc.Binary(), args...)
	if err == nil {
		return 0, nil
	}

	var exitErr interface{ ExitCode() int }
	if errors.As(err, &exitErr) {
		if isMissingContainer(errBuf.String()) {
			return -1, fmt.Errorf("%s: %w", id, container.ErrNotFound)
		}
		return exitErr.ExitCode(), nil
	}
	return -1, commandError("exec", errBuf.String(), err)
}

func (b *CLIBackend) Logs(ctx context.Context, id string, opts container.LogOptions, stdout, stderr io.Writer) error {
	args, err := b.desc.Render(runtime.OpLogs, id, opts)
	if err != nil {
		return err
	}

	var errBuf bytes.Buffer
	errW := io.Writer(&errBuf)
	if stderr != nil {
		errW = io.MultiWriter(stderr, &errBuf)
	}
	err = b.run(ctx, stdout, errW, b.desc.Binary(), args...)
	if err != nil && ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return commandError("logs", errBuf.String(), err)
	}
	return nil
}

func (b *CLIBackend) Stats(ctx context.Context, id string) (*container.Stats, error) {
	if err := b.requireDocker("stats"); err != nil {
		return nil, err
	}
	out, err := b.output(ctx, b.desc.Binary(), "stats", "--no-stream", "--format", "{{json .}}", id)
	if err != nil {
		return nil, err
	}
	return ParseStatsLine(lastLine(out))
}

func (b *CLIBackend) requireDocker(op string) error {
	if b.desc.DockerCompatible {
		return nil
	}
	return fmt.Errorf("%s %s: %w", b.desc.DisplayName, op, container.ErrUnsupported)
}

// output runs a command and returns stdout. Failures are mapped onto the
// container package sentinels where the engine's message allows it.
func (b *CLIBackend) output(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	b.logger.Debug("running engine command", "command", name, "args", args)
	if err := b.run(ctx, &stdout, &stderr, name, args...); err != nil {
		op := name
		if len(args) > 0 {
			op = name + " " + args[0]
		}
		return nil, commandError(op, stderr.String(), err)
	}
	return stdout.Bytes(), nil
}

func commandError(op, stderr string, err error) error {
	msg := strings.TrimSpace(stderr)
	switch {
	case strings.Contains(strings.ToLower(msg), "already exists"):
		return fmt.Errorf("%s: %s: %w", op, msg, container.ErrAlreadyExists)
	case isMissingContainer(msg):
		return fmt.Errorf("%s: %s: %w", op, msg, container.ErrNotFound)
	case msg != "":
		return fmt.Errorf("%s: %s: %w", op, msg, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func isMissingContainer(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "no such container") ||
		strings.Contains(lower, "no container with name or id") ||
		strings.Contains(lower, "no such object")
}

func labelArgs(labels map[string]string) []string {
	var args []string
	for _, k := range slices.Sorted(maps.Keys(labels)) {
		args = append(args, "--label", k+"="+labels[k])
	}
	return args
}

func publishArg(p container.PortBinding) string {
	proto := p.Protocol
	if proto == "" {
		proto = "tcp"
	}
	host := p.HostIP
	if host == "" {
		host = "0.0.0.0"
	}
	return fmt.Sprintf("%s:%d:%d/%s", host, p.HostPort, p.ContainerPort, proto)
}

func lastLine(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
