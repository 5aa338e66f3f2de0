// Copyright (c) 2026 Cilo Authors
// SPDX-License-Identifier: MIT
// See LICENSES/MIT.txt for full license text

package models

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/sharedco/devstack/internal/errdefs"
)

const (
	maxServiceNameLength = 64
	minUserPort          = 1024
	maxPort              = 65535
)

// Validate checks every service declaration.
func (c *ProjectConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: project name is empty", errdefs.ErrInvalidConfig)
	}

	var errs []error
	seen := make(map[string]bool)
	for _, s := range c.Services {
		if seen[s.Name] {
			errs = append(errs, fmt.Errorf("%w: service %s declared twice", errdefs.ErrInvalidConfig, s.Name))
			continue
		}
		seen[s.Name] = true

		if err := s.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Validate checks one service declaration.
func (s ServiceSpec) Validate() error {
	var errs []error
	if err := ValidateServiceName(s.Name); err != nil {
		errs = append(errs, err)
	}
	if err := ValidateVersion(s.Version); err != nil {
		errs = append(errs, fmt.Errorf("service %s: %w", s.Name, err))
	}
	if s.Port != 0 {
		if err := ValidatePort(s.Port); err != nil {
			errs = append(errs, fmt.Errorf("service %s: %w", s.Name, err))
		}
	}
	for _, v := range s.Volumes {
		if err := ValidateVolume(v); err != nil {
			errs = append(errs, fmt.Errorf("service %s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}

// ValidateServiceName accepts letters, digits, '-' and '_', not leading
// with '-' or '_', at most 64 characters.
func ValidateServiceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: service name is empty", errdefs.ErrInvalidConfig)
	}
	if len(name) > maxServiceNameLength {
		return fmt.Errorf("%w: service name %q longer than %d characters", errdefs.ErrInvalidConfig, name, maxServiceNameLength)
	}
	if name[0] == '-' || name[0] == '_' {
		return fmt.Errorf("%w: service name %q must start with a letter or digit", errdefs.ErrInvalidConfig, name)
	}
	for _, r := range name {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !isAlnum && r != '-' && r != '_' {
			return fmt.Errorf("%w: service name %q contains %q", errdefs.ErrInvalidConfig, name, r)
		}
	}
	return nil
}

// ValidatePort requires an unprivileged TCP port.
func ValidatePort(port int) error {
	if port < minUserPort || port > maxPort {
		return fmt.Errorf("%w: port %d outside %d-%d", errdefs.ErrInvalidConfig, port, minUserPort, maxPort)
	}
	return nil
}

// ValidateVersion rejects empty tags and tags that smuggle a second ':'.
func ValidateVersion(version string) error {
	if strings.TrimSpace(version) == "" {
		return fmt.Errorf("%w: version is empty", errdefs.ErrInvalidConfig)
	}
	if strings.ContainsAny(version, ": \t") {
		return fmt.Errorf("%w: version %q is not a valid image tag", errdefs.ErrInvalidConfig, version)
	}
	return nil
}

// ValidateVolume checks a src:dst[:mode] bind.
func ValidateVolume(volume string) error {
	if strings.ContainsAny(volume, "<>|\x00") {
		return fmt.Errorf("%w: volume %q contains invalid characters", errdefs.ErrInvalidConfig, volume)
	}
	parts := strings.Split(volume, ":")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("%w: volume %q must be src:dst[:mode]", errdefs.ErrInvalidConfig, volume)
	}
	if len(parts) == 3 && parts[2] != "ro" && parts[2] != "rw" && parts[2] != "z" && parts[2] != "Z" {
		return fmt.Errorf("%w: volume %q has unknown mode %q", errdefs.ErrInvalidConfig, volume, parts[2])
	}
	return nil
}

// PortAvailable reports whether port can be bound on the loopback interface.
func PortAvailable(port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
