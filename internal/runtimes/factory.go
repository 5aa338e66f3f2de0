// Copyright (c) 2026 Cilo Authors
// SPDX-License-Identifier: MIT
// See LICENSES/MIT.txt for full license text

package runtimes

import (
	"context"
	"log/slog"
	"time"

	"github.com/sharedco/devstack/internal/container"
	"github.com/sharedco/devstack/internal/errdefs"
	"github.com/sharedco/devstack/internal/runtime"
	"github.com/sharedco/devstack/internal/runtime/docker"
)

const pingTimeout = 3 * time.Second

// Open returns a backend for the preferred engine of sel. Engines that serve
// the Docker API are driven through the SDK when the socket answers;
// everything else goes through the engine's CLI.
func Open(ctx context.Context, sel runtime.Selection, logger *slog.Logger) (container.Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	desc := sel.Preferred.Descriptor
	if desc.Kind == "" {
		return nil, errdefs.New(errdefs.ErrEngineUnavailable, "open runtime", "", nil)
	}

	if desc.APISocket {
		provider, err := docker.NewProvider("", logger)
		if err == nil {
			pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
			err = provider.Ping(pingCtx)
			cancel()
			if err == nil {
				logger.Debug("using engine API", "runtime", desc.Kind)
				return provider, nil
			}
			provider.Close()
		}
		logger.Debug("engine API unavailable, falling back to CLI", "runtime", desc.Kind, "error", err)
	}

	logger.Debug("using engine CLI", "runtime", desc.Kind, "command", desc.Binary())
	return NewCLIBackend(desc, nil, logger), nil
}
