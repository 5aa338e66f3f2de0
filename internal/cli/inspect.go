// Copyright (c) 2026 Cilo Authors
// SPDX-License-Identifier: MIT
// See LICENSES/MIT.txt for full license text

package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sharedco/devstack/internal/health"
	"github.com/sharedco/devstack/internal/probe"
)

func newPsCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "ps",
		Aliases: []string{"status"},
		Short:   "List the project's containers",
		Args:    cobra.NoArgs,
		RunE: o.withSession(func(cmd *cobra.Command, args []string, s *session) error {
			list, err := s.coord.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintf(out, "No containers for project %s\n", s.cfg.Name)
				fmt.Fprintln(out, "Run 'devstack up -d' to start the services")
				return nil
			}

			w := newTable(out)
			fmt.Fprintln(w, "NAME\tSERVICE\tSTATUS\tPORTS")
			for _, c := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.Name, s.orch.ServiceOf(c), c.Status, c.Ports)
			}
			return w.Flush()
		}),
	}
}

func newLogsCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs <service>",
		Short: "Show a service's logs",
		Args:  cobra.ExactArgs(1),
		RunE: o.withSession(func(cmd *cobra.Command, args []string, s *session) error {
			follow, _ := cmd.Flags().GetBool("follow")
			tail, _ := cmd.Flags().GetInt("tail")
			if err := requireDeclared(s, args[0]); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			err := s.coord.Logs(ctx, args[0], follow, tail, cmd.OutOrStdout())
			if follow && ctx.Err() != nil {
				return nil
			}
			return err
		}),
	}
	cmd.Flags().BoolP("follow", "f", false, "Follow log output")
	cmd.Flags().IntP("tail", "n", 100, "Number of lines to show from the end (0 for all)")
	return cmd
}

func newExecCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "exec <service> -- <command> [args...]",
		Short: "Run a command in a service container",
		Args:  cobra.MinimumNArgs(2),
		RunE: o.withSession(func(cmd *cobra.Command, args []string, s *session) error {
			if err := requireDeclared(s, args[0]); err != nil {
				return err
			}
			return s.coord.Exec(cmd.Context(), args[0], args[1:], cmd.OutOrStdout(), cmd.ErrOrStderr())
		}),
	}
}

func newStatsCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show resource usage of running services",
		Args:  cobra.NoArgs,
		RunE: o.withSession(func(cmd *cobra.Command, args []string, s *session) error {
			all, err := s.coord.AllStats(cmd.Context())
			if err != nil && len(all) == 0 {
				return err
			}
			if err != nil {
				s.logger.Warn("some stats unavailable", "error", err)
			}

			out := cmd.OutOrStdout()
			if len(all) == 0 {
				fmt.Fprintln(out, "No running services")
				return nil
			}
			w := newTable(out)
			fmt.Fprintln(w, "SERVICE\tCPU %\tMEM USAGE / LIMIT\tMEM %\tNET I/O\tBLOCK I/O\tPIDS")
			for _, name := range s.cfg.ServiceNames() {
				st, ok := all[name]
				if !ok {
					continue
				}
				fmt.Fprintf(w, "%s\t%.2f%%\t%s\t%.2f%%\t%s\t%s\t%d\n",
					name,
					st.CPUPercent(),
					memory(st.MemoryUsage, st.MemoryLimit),
					st.MemoryPercent(),
					ioPair(st.NetworkRx, st.NetworkTx),
					ioPair(st.BlockRead, st.BlockWrite),
					st.PIDs,
				)
			}
			return w.Flush()
		}),
	}
}

var errUnhealthy = errors.New("not all services are healthy")

func newHealthCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Report the health of every declared service",
		Long: `Report the health of every declared service.

With --host, each service is also probed from the host through its
published port: postgres with a real connection, redis with PING and
everything else with a TCP connect.`,
		Args: cobra.NoArgs,
		RunE: o.withSession(func(cmd *cobra.Command, args []string, s *session) error {
			hostCheck, _ := cmd.Flags().GetBool("host")
			timeout, _ := cmd.Flags().GetDuration("probe-timeout")
			ctx := cmd.Context()

			statuses, err := s.coord.Health(ctx)
			if err != nil {
				return err
			}

			var probes map[string]probe.Result
			if hostCheck {
				if err := s.adopt(ctx); err != nil {
					return err
				}
				probes = hostProbes(cmd, s, timeout)
			}

			healthy := true
			w := newTable(cmd.OutOrStdout())
			if hostCheck {
				fmt.Fprintln(w, "\tSERVICE\tSTATE\tHOST\tMESSAGE")
			} else {
				fmt.Fprintln(w, "\tSERVICE\tSTATE\tMESSAGE")
			}
			for _, st := range statuses {
				ok := st.Healthy
				if !hostCheck {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", check(ok), st.Service, st.State, st.Message)
				} else {
					res, probed := probes[st.Service]
					host := "-"
					if probed {
						host = fmt.Sprintf("%s %s", res.Method, res.Address)
						ok = ok && res.OK
					}
					msg := st.Message
					if probed && res.Error != "" {
						msg = res.Error
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", check(ok), st.Service, st.State, host, msg)
				}
				healthy = healthy && ok
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if !healthy {
				return errUnhealthy
			}
			return nil
		}),
	}
	cmd.Flags().Bool("host", false, "Also probe each service from the host")
	cmd.Flags().Duration("probe-timeout", probe.DefaultTimeout, "Timeout for each host probe")
	return cmd
}

// hostProbes checks every running service with an allocated port.
func hostProbes(cmd *cobra.Command, s *session, timeout time.Duration) map[string]probe.Result {
	p := probe.New()
	p.Timeout = timeout

	out := map[string]probe.Result{}
	for _, spec := range s.cfg.Services {
		port, ok := s.coord.Port(spec.Name)
		if !ok {
			continue
		}
		out[spec.Name] = p.Check(cmd.Context(), probe.Target{
			Service: spec.Name,
			Port:    port,
			URL:     s.coord.ConnectionURL(spec, port),
		})
	}
	return out
}

// healthLine renders one status for compact output.
func healthLine(st health.Status) string {
	if st.Message == "" {
		return fmt.Sprintf("%s %s: %s", check(st.Healthy), st.Service, st.State)
	}
	return fmt.Sprintf("%s %s: %s (%s)", check(st.Healthy), st.Service, st.State, st.Message)
}
