// Copyright (c) 2026 Cilo Authors
// SPDX-License-Identifier: MIT
// See LICENSES/MIT.txt for full license text

package runtime

var dockerLike = Descriptor{
	VersionArgs: []string{"--version"},
	StatusArgs:  []string{"ps"},
	ListArgs:    []string{"ps", "-a", "--format", "json"},
	ListFormat:  ListDockerJSON,
	StartArgs:   []string{"start", PlaceholderID},
	StopArgs:    []string{"stop", PlaceholderID},
	RestartArgs: []string{"restart", PlaceholderID},
	LogsArgs:    []string{"logs", PlaceholderFollow, PlaceholderTail, PlaceholderID},

	DockerCompatible: true,
}

func derive(base Descriptor, fn func(*Descriptor)) Descriptor {
	fn(&base)
	return base
}

// descriptors is in selection priority order.
var descriptors = []Descriptor{
	derive(dockerLike, func(d *Descriptor) {
		d.Kind, d.DisplayName, d.Command = Docker, "Docker", "docker"
		d.APISocket = true
	}),
	derive(dockerLike, func(d *Descriptor) {
		d.Kind, d.DisplayName, d.Command = Podman, "Podman", "podman"
	}),
	{
		Kind:        Minikube,
		DisplayName: "Minikube",
		Command:     "minikube",
		VersionArgs: []string{"version"},
		StatusArgs:  []string{"status"},
		ListArgs:    []string{"kubectl", "--", "get", "pods", "-o", "json"},
		ListFormat:  ListKubePods,
		StopArgs:    []string{"kubectl", "--", "delete", "pod", PlaceholderID},
		RestartArgs: []string{"kubectl", "--", "rollout", "restart", "deployment", PlaceholderID},
		LogsArgs:    []string{"kubectl", "--", "logs", PlaceholderFollow, PlaceholderTail, PlaceholderID},

		KubernetesCompatible: true,
	},
	{
		Kind:        Kubernetes,
		DisplayName: "Kubernetes",
		Command:     "kubectl",
		VersionArgs: []string{"version", "--client"},
		StatusArgs:  []string{"cluster-info"},
		ListArgs:    []string{"get", "pods", "-o", "json"},
		ListFormat:  ListKubePods,
		StopArgs:    []string{"delete", "pod", PlaceholderID},
		RestartArgs: []string{"rollout", "restart", "deployment", PlaceholderID},
		LogsArgs:    []string{"logs", PlaceholderFollow, PlaceholderTail, PlaceholderID},

		KubernetesCompatible: true,
	},
	{
		Kind:        DockerCompose,
		DisplayName: "Docker Compose",
		Command:     "docker-compose",
		VersionArgs: []string{"--version"},
		StatusArgs:  []string{"ps"},
		ListArgs:    []string{"ps", "--format", "json"},
		ListFormat:  ListDockerJSON,
		StartArgs:   []string{"start", PlaceholderID},
		StopArgs:    []string{"stop", PlaceholderID},
		RestartArgs: []string{"restart", PlaceholderID},
		LogsArgs:    []string{"logs", PlaceholderFollow, PlaceholderTail, PlaceholderID},
	},
	{
		Kind:        Containerd,
		DisplayName: "containerd",
		Command:     "ctr",
		VersionArgs: []string{"version"},
		StatusArgs:  []string{"containers", "list"},
		ListArgs:    []string{"containers", "list"},
		ListFormat:  ListText,
		StartArgs:   []string{"tasks", "start", "--detach", PlaceholderID},
		StopArgs:    []string{"tasks", "kill", PlaceholderID},
	},
	{
		Kind:        CriO,
		DisplayName: "CRI-O",
		Command:     "crictl",
		VersionArgs: []string{"version"},
		StatusArgs:  []string{"ps"},
		ListArgs:    []string{"ps", "-a", "--output", "json"},
		ListFormat:  ListCRIJSON,
		StartArgs:   []string{"start", PlaceholderID},
		StopArgs:    []string{"stop", PlaceholderID},
		LogsArgs:    []string{"logs", PlaceholderFollow, PlaceholderTail, PlaceholderID},
	},
	derive(dockerLike, func(d *Descriptor) {
		d.Kind, d.DisplayName, d.Command = Nerdctl, "nerdctl", "nerdctl"
	}),
	derive(dockerLike, func(d *Descriptor) {
		d.Kind, d.DisplayName, d.Command = Colima, "Colima", "colima"
		d.EngineCommand = "docker"
		d.VersionArgs = []string{"version"}
		d.StatusArgs = []string{"status"}
		d.APISocket = true
	}),
}

// Descriptors returns a copy of the descriptor table in priority order.
func Descriptors() []Descriptor {
	out := make([]Descriptor, len(descriptors))
	copy(out, descriptors)
	return out
}

// Lookup returns the descriptor for kind. The command name is accepted as
// an alias, so "kubectl" finds Kubernetes.
func Lookup(kind string) (Descriptor, bool) {
	for _, d := range descriptors {
		if string(d.Kind) == kind || d.Command == kind {
			return d, true
		}
	}
	return Descriptor{}, false
}
