// Copyright (c) 2026 Cilo Authors
// SPDX-License-Identifier: MIT
// See LICENSES/MIT.txt for full license text

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sharedco/devstack/internal/backup"
	"github.com/sharedco/devstack/internal/config"
)

func newBackupCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup <service>",
		Short: "Dump a database service to a file",
		Args:  cobra.ExactArgs(1),
		RunE: o.withSession(func(cmd *cobra.Command, args []string, s *session) error {
			if err := requireDeclared(s, args[0]); err != nil {
				return err
			}
			dir, _ := cmd.Flags().GetString("dir")
			if dir == "" {
				dir = config.BackupDir(s.cfg.Dir)
			}

			path, err := backup.New(s.coord, backup.WithLogger(s.logger)).Backup(cmd.Context(), args[0], dir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Backed up %s to %s\n", args[0], path)
			return nil
		}),
	}
	cmd.Flags().String("dir", "", "Backup directory (default: <project>/backups)")
	return cmd
}

func newRestoreCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <service> <file>",
		Short: "Load a backup file into a database service",
		Args:  cobra.ExactArgs(2),
		RunE: o.withSession(func(cmd *cobra.Command, args []string, s *session) error {
			if err := requireDeclared(s, args[0]); err != nil {
				return err
			}
			if err := backup.New(s.coord, backup.WithLogger(s.logger)).Restore(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Restored %s from %s\n", args[0], args[1])
			return nil
		}),
	}
}
