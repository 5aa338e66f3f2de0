// Copyright (c) 2026 Cilo Authors
// SPDX-License-Identifier: MIT
// See LICENSES/MIT.txt for full license text

package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sharedco/devstack/internal/server/api"
)

func newServeCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the monitor API",
		Long: `Serve the monitor API: service listing, health, stats, lifecycle
actions, logs (plain and over websocket) and Prometheus metrics.`,
		Args: cobra.NoArgs,
		RunE: o.withSession(func(cmd *cobra.Command, args []string, s *session) error {
			addr, _ := cmd.Flags().GetString("addr")
			if addr == "" {
				addr = s.settings.ListenAddr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := s.adopt(ctx); err != nil {
				return err
			}

			srv := api.NewServer(addr, s.coord, s.metrics, s.logger)
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			s.logger.Info("shutting down monitor API")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		}),
	}
	cmd.Flags().String("addr", "", "Listen address (default: DEVSTACK_LISTEN_ADDR)")
	return cmd
}
