// Copyright (c) 2026 Cilo Authors
// SPDX-License-Identifier: MIT
// See LICENSES/MIT.txt for full license text

package runtime

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sharedco/devstack/internal/errdefs"
)

const defaultProbeTimeout = 5 * time.Second

var versionPattern = regexp.MustCompile(`v?(\d+\.\d+(?:\.\d+)?)`)

// Runner executes a probe command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs probes as subprocesses.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, err
	}
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Detector probes the descriptor table.
type Detector struct {
	Runner       Runner
	Descriptors  []Descriptor
	ProbeTimeout time.Duration
}

// NewDetector returns a Detector over the full table using subprocesses.
func NewDetector() *Detector {
	return &Detector{Runner: ExecRunner, Descriptors: Descriptors(), ProbeTimeout: defaultProbeTimeout}
}

// Detect probes every descriptor concurrently and returns statuses in table
// order. It fails with ErrEngineUnavailable when nothing is installed.
func (d *Detector) Detect(ctx context.Context) ([]Status, error) {
	descs := d.Descriptors
	if descs == nil {
		descs = Descriptors()
	}

	statuses := make([]Status, len(descs))
	g, gctx := errgroup.WithContext(ctx)
	for i, desc := range descs {
		g.Go(func() error {
			statuses[i] = d.probe(gctx, desc)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, s := range statuses {
		if s.Installed {
			return statuses, nil
		}
	}
	return statuses, errdefs.New(errdefs.ErrEngineUnavailable, "detect", "", fmt.Errorf("none of %d supported engines is installed", len(descs)))
}

func (d *Detector) probe(ctx context.Context, desc Descriptor) Status {
	status := Status{Descriptor: desc}

	out, err := d.run(ctx, desc.Command, desc.VersionArgs)
	if err != nil {
		return status
	}
	status.Installed = true
	status.Version = ParseVersion(string(out))

	if _, err := d.run(ctx, desc.Command, desc.StatusArgs); err == nil {
		status.Running = true
	}
	return status
}

func (d *Detector) run(ctx context.Context, name string, args []string) ([]byte, error) {
	timeout := d.ProbeTimeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	runner := d.Runner
	if runner == nil {
		runner = ExecRunner
	}
	return runner(ctx, name, args...)
}

// Discover detects engines and selects the preferred one. override names a
// Kind (or command) to force; empty means automatic selection.
func (d *Detector) Discover(ctx context.Context, override string) (Selection, error) {
	statuses, err := d.Detect(ctx)
	if err != nil {
		return Selection{Statuses: statuses}, err
	}

	idx, err := Select(statuses, override)
	if err != nil {
		return Selection{Statuses: statuses}, err
	}
	statuses[idx].Preferred = true
	return Selection{Statuses: statuses, Preferred: statuses[idx]}, nil
}

// Select returns the index of the preferred engine: the first that is both
// installed and running, else the first installed one.
func Select(statuses []Status, override string) (int, error) {
	if override != "" {
		for i, s := range statuses {
			if string(s.Descriptor.Kind) == override || s.Descriptor.Command == override {
				if !s.Installed {
					return -1, errdefs.New(errdefs.ErrEngineUnavailable, "select", "", fmt.Errorf("requested runtime %s is not installed", override))
				}
				return i, nil
			}
		}
		return -1, errdefs.New(errdefs.ErrEngineUnavailable, "select", "", fmt.Errorf("unknown runtime %q", override))
	}

	for i, s := range statuses {
		if s.IsReady() {
			return i, nil
		}
	}
	for i, s := range statuses {
		if s.Installed {
			return i, nil
		}
	}
	return -1, errdefs.New(errdefs.ErrEngineUnavailable, "select", "", nil)
}

// ParseVersion extracts a version number from the first non-empty line of
// a version command's output, or returns that line unchanged.
func ParseVersion(output string) string {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := versionPattern.FindStringSubmatch(line); m != nil {
			return m[1]
		}
		return line
	}
	return ""
}
