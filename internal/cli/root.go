// Copyright (c) 2026 Cilo Authors
// SPDX-License-Identifier: MIT
// See LICENSES/MIT.txt for full license text

// Package cli implements the devstack command tree.
package cli

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sharedco/devstack/internal/container"
	"github.com/sharedco/devstack/internal/models"
	"github.com/sharedco/devstack/internal/runtime"
	"github.com/sharedco/devstack/internal/runtimes"
	"github.com/sharedco/devstack/internal/version"
)

// Deps are the host collaborators the commands reach for.
type Deps struct {
	Detector    *runtime.Detector
	OpenBackend func(ctx context.Context, sel runtime.Selection, logger *slog.Logger) (container.Backend, error)
	// PortCheck reports whether a host port is free. Nil skips the check.
	PortCheck func(port int) bool
}

// DefaultDeps probes the real host.
func DefaultDeps() Deps {
	return Deps{
		Detector:    runtime.NewDetector(),
		OpenBackend: runtimes.Open,
		PortCheck:   models.PortAvailable,
	}
}

type rootOptions struct {
	deps       Deps
	configPath string
	logLevel   string
	logFormat  string
	runtime    string
}

// NewRootCommand builds the devstack command tree over deps.
func NewRootCommand(deps Deps) *cobra.Command {
	opts := &rootOptions{deps: deps}

	cmd := &cobra.Command{
		Use:   "devstack",
		Short: "devstack - containerized development services",
		Long: `devstack runs the databases, caches and brokers a project declares in
devstack.yml as containers on the local engine. Each service gets a
predictable host port, generated credentials that survive restarts,
and a health check.`,
		Version:      version.Short(),
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to devstack.yml (default: search upward from the current directory)")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringVar(&opts.logFormat, "log-format", "", "Log format: text or json")
	flags.StringVar(&opts.runtime, "runtime", "", "Force a container runtime (docker, podman, nerdctl, ...)")

	cmd.AddCommand(
		newBuildCmd(opts),
		newUpCmd(opts),
		newDownCmd(opts),
		newStartCmd(opts),
		newStopCmd(opts),
		newRestartCmd(opts),
		newPsCmd(opts),
		newLogsCmd(opts),
		newExecCmd(opts),
		newStatsCmd(opts),
		newHealthCmd(opts),
		newDoctorCmd(opts),
		newEnvCmd(opts),
		newBackupCmd(opts),
		newRestoreCmd(opts),
		newMigrateCmd(opts),
		newServeCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// Execute runs the command tree against the real host.
func Execute() error {
	return NewRootCommand(DefaultDeps()).Execute()
}
