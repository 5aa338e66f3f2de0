// Copyright (c) 2026 Cilo Authors
// SPDX-License-Identifier: MIT
// See LICENSES/MIT.txt for full license text

package runtime

import (
	"fmt"
	"strings"

	"github.com/sharedco/devstack/internal/container"
	"github.com/sharedco/devstack/internal/errdefs"
)

// Kind identifies a container engine variant.
type Kind string

const (
	Docker        Kind = "docker"
	Podman        Kind = "podman"
	Minikube      Kind = "minikube"
	Kubernetes    Kind = "kubernetes"
	DockerCompose Kind = "docker-compose"
	Containerd    Kind = "containerd"
	CriO          Kind = "cri-o"
	Nerdctl       Kind = "nerdctl"
	Colima        Kind = "colima"
)

// Op is a logical lifecycle operation rendered through a Descriptor.
type Op string

const (
	OpList    Op = "list"
	OpStart   Op = "start"
	OpStop    Op = "stop"
	OpRestart Op = "restart"
	OpLogs    Op = "logs"
)

// ListFormat says how to parse the output of a descriptor's list command.
type ListFormat int

const (
	// ListDockerJSON is docker-style ps output, either one JSON object per
	// line or a single JSON array.
	ListDockerJSON ListFormat = iota
	// ListKubePods is `kubectl get pods -o json`.
	ListKubePods
	// ListCRIJSON is `crictl ps --output json`.
	ListCRIJSON
	// ListText is a whitespace table with a header row.
	ListText
)

// Template placeholders.
const (
	PlaceholderID     = "{id}"
	PlaceholderFollow = "{follow}"
	PlaceholderTail   = "{tail}"
)

// Descriptor is the static capability record for one engine variant.
type Descriptor struct {
	Kind        Kind
	DisplayName string
	// Command is the binary used for discovery.
	Command string
	// EngineCommand runs container operations when it differs from
	// Command, e.g. colima drives containers through the docker CLI.
	EngineCommand string

	VersionArgs []string
	StatusArgs  []string

	ListArgs    []string
	ListFormat  ListFormat
	StartArgs   []string
	StopArgs    []string
	RestartArgs []string
	LogsArgs    []string

	DockerCompatible     bool
	KubernetesCompatible bool
	// APISocket means the engine serves the Docker Engine API on a local
	// socket and can be driven through the SDK.
	APISocket bool
}

// Binary returns the command used for container operations.
func (d Descriptor) Binary() string {
	if d.EngineCommand != "" {
		return d.EngineCommand
	}
	return d.Command
}

func (d Descriptor) template(op Op) []string {
	switch op {
	case OpList:
		return d.ListArgs
	case OpStart:
		return d.StartArgs
	case OpStop:
		return d.StopArgs
	case OpRestart:
		return d.RestartArgs
	case OpLogs:
		return d.LogsArgs
	default:
		return nil
	}
}

// Supports reports whether op has a template for this engine.
func (d Descriptor) Supports(op Op) bool {
	return len(d.template(op)) > 0
}

// Render expands the template for op into an argument list. A placeholder
// that expands to nothing is dropped.
func (d Descriptor) Render(op Op, id string, opts container.LogOptions) ([]string, error) {
	tmpl := d.template(op)
	if len(tmpl) == 0 {
		return nil, errdefs.New(errdefs.ErrUnsupportedOperation, string(op), "", fmt.Errorf("%s has no %s command", d.DisplayName, op))
	}

	args := make([]string, 0, len(tmpl)+2)
	for _, part := range tmpl {
		switch part {
		case PlaceholderID:
			args = append(args, id)
		case PlaceholderFollow:
			if opts.Follow {
				args = append(args, "-f")
			}
		case PlaceholderTail:
			if opts.Tail > 0 {
				args = append(args, "--tail", fmt.Sprint(opts.Tail))
			}
		default:
			args = append(args, part)
		}
	}
	return args, nil
}

// CommandLine renders op as a printable command line.
func (d Descriptor) CommandLine(op Op, id string, opts container.LogOptions) string {
	args, err := d.Render(op, id, opts)
	if err != nil {
		return ""
	}
	return strings.Join(append([]string{d.Binary()}, args...), " ")
}

// Status is the probe result for one descriptor.
type Status struct {
	Descriptor Descriptor
	Installed  bool
	Running    bool
	Version    string
	Preferred  bool
}

// IsReady reports whether the engine is installed and running.
func (s Status) IsReady() bool {
	return s.Installed && s.Running
}

// Describe returns a short human readable state.
func (s Status) Describe() string {
	switch {
	case !s.Installed:
		return "Not installed"
	case !s.Running:
		return "Installed but not running"
	case s.Version != "":
		return fmt.Sprintf("Ready (%s)", s.Version)
	default:
		return "Ready"
	}
}

// Selection is the result of one discovery run.
type Selection struct {
	Statuses  []Status
	Preferred Status
}

// Installed returns the statuses of installed engines, in priority order.
func (s Selection) Installed() []Status {
	var out []Status
	for _, st := range s.Statuses {
		if st.Installed {
			out = append(out, st)
		}
	}
	return out
}
