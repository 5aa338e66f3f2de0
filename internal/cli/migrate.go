// Copyright (c) 2026 Cilo Authors
// SPDX-License-Identifier: MIT
// See LICENSES/MIT.txt for full license text

package cli

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/sharedco/devstack/internal/dbmigrate"
	"github.com/sharedco/devstack/internal/errdefs"
	"github.com/sharedco/devstack/internal/orchestrator"
)

func newMigrateCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run SQL migrations against the project's postgres",
	}
	cmd.PersistentFlags().String("dir", "migrations", "Migrations directory")
	cmd.PersistentFlags().String("service", "postgres", "Postgres service to migrate")

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: o.withMigrator(func(cmd *cobra.Command, m *dbmigrate.Migrator) error {
			changed, err := m.Up()
			if err != nil {
				return err
			}
			reportMigration(cmd, m, changed)
			return nil
		}),
	}

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: o.withMigrator(func(cmd *cobra.Command, m *dbmigrate.Migrator) error {
			steps, _ := cmd.Flags().GetInt("steps")
			changed, err := m.Down(steps)
			if err != nil {
				return err
			}
			reportMigration(cmd, m, changed)
			return nil
		}),
	}
	down.Flags().Int("steps", 1, "Number of migrations to roll back (0 for all)")

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the applied migration version",
		Args:  cobra.NoArgs,
		RunE: o.withMigrator(func(cmd *cobra.Command, m *dbmigrate.Migrator) error {
			v, dirty, err := m.Version()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", v, dirty)
			return nil
		}),
	}

	cmd.AddCommand(up, down, version)
	return cmd
}

func reportMigration(cmd *cobra.Command, m *dbmigrate.Migrator, changed bool) {
	out := cmd.OutOrStdout()
	if !changed {
		fmt.Fprintln(out, "✓ No change")
		return
	}
	v, _, err := m.Version()
	if err != nil {
		fmt.Fprintln(out, "✓ Migrations applied")
		return
	}
	fmt.Fprintf(out, "✓ Now at version %d\n", v)
}

// withMigrator opens migrations against the published port of the
// postgres service.
func (o *rootOptions) withMigrator(fn func(cmd *cobra.Command, m *dbmigrate.Migrator) error) func(*cobra.Command, []string) error {
	return o.withSession(func(cmd *cobra.Command, args []string, s *session) error {
		dir, _ := cmd.Flags().GetString("dir")
		service, _ := cmd.Flags().GetString("service")

		dbURL, err := migrationURL(cmd, s, service)
		if err != nil {
			return err
		}
		m, err := dbmigrate.Open(dir, dbURL, s.logger)
		if err != nil {
			return err
		}
		defer m.Close()
		return fn(cmd, m)
	})
}

func migrationURL(cmd *cobra.Command, s *session, service string) (string, error) {
	spec, ok := s.cfg.Service(service)
	if !ok {
		return "", errdefs.New(errdefs.ErrServiceNotDeclared, "migrate", service, nil)
	}
	if orchestrator.TypeOf(service) != orchestrator.TypePostgres {
		return "", errdefs.New(errdefs.ErrUnsupportedServiceType, "migrate", service, fmt.Errorf("migrations need a postgres service"))
	}
	if err := s.adopt(cmd.Context()); err != nil {
		return "", err
	}
	port, ok := s.coord.Port(service)
	if !ok {
		return "", errdefs.New(errdefs.ErrContainerNotFound, "migrate", service, fmt.Errorf("start it with 'devstack start %s'", service))
	}

	u, err := url.Parse(s.coord.ConnectionURL(spec, port))
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("sslmode", "disable")
	u.RawQuery = q.Encode()
	return u.String(), nil
}
