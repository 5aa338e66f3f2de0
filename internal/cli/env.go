// Copyright (c) 2026 Cilo Authors
// SPDX-License-Identifier: MIT
// See LICENSES/MIT.txt for full license text

package cli

import (
	"github.com/spf13/cobra"

	"github.com/sharedco/devstack/internal/engine"
)

func newEnvCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "env",
		Short: "Print connection variables for the running services",
		Long: `Print HOST, PORT and URL variables for every service that has a
container, followed by the project's env block.

  eval "$(devstack env)"
  devstack env --format dotenv > .env`,
		Args: cobra.NoArgs,
		RunE: o.withSession(func(cmd *cobra.Command, args []string, s *session) error {
			format, _ := cmd.Flags().GetString("format")
			if err := s.adopt(cmd.Context()); err != nil {
				return err
			}
			data, err := engine.FormatEnv(s.coord.ConnectionEnv(), format)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}),
	}
	cmd.Flags().StringP("format", "f", engine.FormatShell, "Output format: shell, dotenv, json, yaml")
	return cmd
}
