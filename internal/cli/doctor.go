// Copyright (c) 2026 Cilo Authors
// SPDX-License-Identifier: MIT
// See LICENSES/MIT.txt for full license text

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sharedco/devstack/internal/config"
	"github.com/sharedco/devstack/internal/credentials"
	"github.com/sharedco/devstack/internal/reconcile"
	"github.com/sharedco/devstack/internal/runtime"
)

func newDoctorCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check container runtimes and the project setup",
		Long: `Doctor probes every supported container runtime and reports which are
installed and running, marks the one devstack would use, and checks that
the project config and credential file can be read. It then lists
containers left behind by services no longer declared; --fix removes them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			settings, err := o.settings()
			if err != nil {
				return err
			}

			fmt.Fprintln(out, "🔍 Checking devstack environment...")
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Container runtimes:")

			statuses, detectErr := o.deps.Detector.Detect(cmd.Context())
			preferred := -1
			if detectErr == nil {
				preferred, detectErr = runtime.Select(statuses, settings.Runtime)
			}
			for i, st := range statuses {
				line := fmt.Sprintf("  %s %s: %s", check(st.IsReady()), st.Descriptor.DisplayName, st.Describe())
				if i == preferred {
					line += " (preferred)"
				}
				fmt.Fprintln(out, line)
			}
			if detectErr != nil {
				fmt.Fprintf(out, "  ❌ %v\n", detectErr)
			}

			fmt.Fprintln(out)
			fmt.Fprintln(out, "Project:")
			cfg, err := o.loadConfig()
			if err != nil {
				fmt.Fprintf(out, "  ❌ config: %v\n", err)
				return detectErr
			}
			fmt.Fprintf(out, "  ✅ config: %s (project %s, %d services)\n", cfg.Path, cfg.Name, len(cfg.Services))

			path := config.CredentialsPath(cfg.Dir)
			switch store, err := credentials.Open(cfg.Dir); {
			case err != nil:
				fmt.Fprintf(out, "  ❌ credentials: %v\n", err)
			case !config.FileExists(path):
				fmt.Fprintf(out, "  ✅ credentials: %s (created on first start)\n", path)
			default:
				fmt.Fprintf(out, "  ✅ credentials: %s (%d values)\n", store.Path(), len(store.All()))
			}
			if detectErr != nil {
				return detectErr
			}

			fix, _ := cmd.Flags().GetBool("fix")
			return o.withSession(func(cmd *cobra.Command, args []string, s *session) error {
				return checkContainers(cmd, s, fix)
			})(cmd, args)
		},
	}
	cmd.Flags().Bool("fix", false, "Remove containers of services no longer declared")
	return cmd
}

func checkContainers(cmd *cobra.Command, s *session, fix bool) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out)
	fmt.Fprintln(out, "📊 Reconciling containers...")

	res, err := reconcile.Project(cmd.Context(), s.cfg, s.orch)
	if err != nil {
		fmt.Fprintf(out, "  ❌ %v\n", err)
		return err
	}
	fmt.Fprintf(out, "  Running: %d, stopped: %d, not created: %d\n", len(res.Running), len(res.Stopped), len(res.Missing))
	if len(res.Orphans) == 0 {
		fmt.Fprintln(out, "  ✅ No orphaned containers")
		return nil
	}

	fmt.Fprintf(out, "  Found %d orphaned containers:\n", len(res.Orphans))
	for _, orphan := range res.Orphans {
		fmt.Fprintf(out, "    - %s (%s)\n", orphan.Name, orphan.State)
	}
	if !fix {
		fmt.Fprintln(out, "  Run 'devstack doctor --fix' to remove them")
		return nil
	}

	fmt.Fprint(out, "\n🔧 Removing orphaned containers... ")
	removed, err := reconcile.RemoveOrphans(cmd.Context(), s.orch, res.Orphans)
	if err != nil {
		fmt.Fprintf(out, "❌ %v\n", err)
		return err
	}
	fmt.Fprintf(out, "✅ (removed %d)\n", removed)
	return nil
}
