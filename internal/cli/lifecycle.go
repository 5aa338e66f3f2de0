// Copyright (c) 2026 Cilo Authors
// SPDX-License-Identifier: MIT
// See LICENSES/MIT.txt for full license text

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sharedco/devstack/internal/engine"
	"github.com/sharedco/devstack/internal/orchestrator"
)

const (
	upLogTail       = 10
	shutdownTimeout = 30 * time.Second
)

func newBuildCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "Allocate ports and create the project network",
		Args:  cobra.NoArgs,
		RunE: o.withSession(func(cmd *cobra.Command, args []string, s *session) error {
			ctx := cmd.Context()
			if err := s.adopt(ctx); err != nil {
				return err
			}
			ports, err := s.coord.Build(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✓ Network %s ready\n\n", orchestrator.NetworkName(s.cfg.Name))
			printPorts(out, s.cfg.ServiceNames(), ports)
			return nil
		}),
	}
}

func newUpCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Start every declared service",
		Long: `Start every declared service in parallel.

Without --detach, up follows the services' logs until interrupted and then
stops the project's containers.`,
		Args: cobra.NoArgs,
		RunE: o.withSession(runUp),
	}
	cmd.Flags().BoolP("detach", "d", false, "Start services and return")
	cmd.Flags().Bool("wait", false, "Wait until every service reports healthy")
	cmd.Flags().Duration("timeout", 0, "Health wait per service (default: DEVSTACK_HEALTH_TIMEOUT)")
	return cmd
}

func runUp(cmd *cobra.Command, args []string, s *session) error {
	detach, _ := cmd.Flags().GetBool("detach")
	wait, _ := cmd.Flags().GetBool("wait")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	if err := s.adopt(ctx); err != nil {
		return err
	}
	ports, err := s.coord.Build(ctx)
	if err != nil {
		return err
	}
	printPorts(out, s.cfg.ServiceNames(), ports)
	fmt.Fprintln(out)

	if err := s.coord.Start(ctx, engine.StartOptions{WaitHealthy: wait, Timeout: timeout}); err != nil {
		return err
	}
	for _, name := range s.cfg.ServiceNames() {
		fmt.Fprintf(out, "✓ %s started on port %d\n", name, ports[name])
	}
	if wait {
		statuses, err := s.coord.Health(ctx)
		if err != nil {
			return err
		}
		for _, st := range statuses {
			fmt.Fprintln(out, healthLine(st))
		}
	}

	if detach {
		fmt.Fprintln(out, "\nRun 'devstack logs <service>' to view logs, 'devstack down' to remove the containers.")
		return nil
	}

	fmt.Fprintln(out, "\nFollowing logs. Press Ctrl+C to stop.")
	names := s.cfg.ServiceNames()
	mux := newLogMux(out, names)
	writers := make([]*prefixWriter, len(names))
	for i, name := range names {
		writers[i] = mux.writer(i, name)
		s.coord.Streams().Start(ctx, name, upLogTail, writers[i])
	}

	<-ctx.Done()
	s.coord.Streams().StopAll()
	for _, w := range writers {
		w.Flush()
	}

	fmt.Fprintln(out, "\nStopping services...")
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), shutdownTimeout)
	defer cancel()
	if err := s.coord.Stop(stopCtx); err != nil {
		return err
	}
	fmt.Fprintln(out, "✓ Services stopped")
	return nil
}

func newDownCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Stop and remove the project's containers",
		Args:  cobra.NoArgs,
		RunE: o.withSession(func(cmd *cobra.Command, args []string, s *session) error {
			ctx := cmd.Context()
			if err := s.coord.Stop(ctx); err != nil {
				s.logger.Warn("stop before remove failed", "error", err)
			}
			if err := s.coord.Down(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Removed containers for %s\n", s.cfg.Name)
			return nil
		}),
	}
}

func newStartCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "start <service>",
		Short: "Start one service",
		Args:  cobra.ExactArgs(1),
		RunE: o.withSession(func(cmd *cobra.Command, args []string, s *session) error {
			ctx := cmd.Context()
			if err := s.adopt(ctx); err != nil {
				return err
			}
			if err := s.coord.StartService(ctx, args[0]); err != nil {
				return err
			}
			port, _ := s.coord.Port(args[0])
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s started on port %d\n", args[0], port)
			return nil
		}),
	}
}

func newStopCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stop [service]",
		Short: "Stop one service, or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: o.withSession(func(cmd *cobra.Command, args []string, s *session) error {
			ctx := cmd.Context()
			if len(args) == 0 {
				if err := s.coord.Stop(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "✓ All services stopped")
				return nil
			}
			if err := requireDeclared(s, args[0]); err != nil {
				return err
			}
			if err := s.coord.StopService(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s stopped\n", args[0])
			return nil
		}),
	}
}

func newRestartCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "restart [service]",
		Short: "Restart one service, or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: o.withSession(func(cmd *cobra.Command, args []string, s *session) error {
			ctx := cmd.Context()
			if len(args) == 0 {
				if err := s.coord.RestartAll(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "✓ All services restarted")
				return nil
			}
			if err := requireDeclared(s, args[0]); err != nil {
				return err
			}
			if err := s.coord.RestartService(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s restarted\n", args[0])
			return nil
		}),
	}
}
