// Copyright (c) 2026 Cilo Authors
// SPDX-License-Identifier: MIT
// See LICENSES/MIT.txt for full license text

package models

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sharedco/devstack/internal/config"
)

// ErrConfigNotFound is returned when no devstack.yml exists at or above the
// search directory.
var ErrConfigNotFound = errors.New("no devstack.yml found (searched current and parent directories)")

// AutoGenerate marks an environment value that devstack should fill with a
// persisted secret.
const AutoGenerate = "auto-generate"

// ServiceSpec is one declared service. Port 0 means a port is allocated
// automatically.
type ServiceSpec struct {
	Name        string
	Version     string
	Environment map[string]string
	Volumes     []string
	Command     []string
	Port        int
}

// ProjectConfig is a parsed devstack.yml. Services keep document order.
type ProjectConfig struct {
	Name     string
	Services []ServiceSpec
	Env      map[string]string
	Dir      string
	Path     string
}

// Service returns the declared service called name.
func (c *ProjectConfig) Service(name string) (ServiceSpec, bool) {
	for _, s := range c.Services {
		if s.Name == name {
			return s, true
		}
	}
	return ServiceSpec{}, false
}

// ServiceNames returns service names in declaration order.
func (c *ProjectConfig) ServiceNames() []string {
	names := make([]string, 0, len(c.Services))
	for _, s := range c.Services {
		names = append(names, s.Name)
	}
	return names
}

type rawConfig struct {
	Project  string            `yaml:"project"`
	Metadata struct {
		Name string `yaml:"name"`
	} `yaml:"metadata"`
	Services yaml.Node         `yaml:"services"`
	Env      map[string]string `yaml:"env"`
}

type rawService struct {
	Version     string            `yaml:"version"`
	Port        portValue         `yaml:"port"`
	Environment map[string]string `yaml:"environment"`
	Volumes     []string          `yaml:"volumes"`
	Command     commandValue      `yaml:"command"`
}

// portValue accepts an integer or "auto".
type portValue int

func (p *portValue) UnmarshalYAML(value *yaml.Node) error {
	s := strings.TrimSpace(value.Value)
	if s == "" || strings.EqualFold(s, "auto") {
		*p = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("line %d: port must be a number or \"auto\", got %q", value.Line, value.Value)
	}
	*p = portValue(n)
	return nil
}

// commandValue accepts a string (split on whitespace) or a list.
type commandValue []string

func (c *commandValue) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*c = strings.Fields(value.Value)
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*c = list
		return nil
	default:
		return fmt.Errorf("line %d: command must be a string or list", value.Line)
	}
}

// LoadProjectConfig finds and loads the nearest devstack.yml at or above dir.
func LoadProjectConfig(dir string) (*ProjectConfig, error) {
	path := config.FindConfigFile(dir)
	if path == "" {
		return nil, ErrConfigNotFound
	}
	return LoadProjectConfigFile(path)
}

// LoadProjectConfigFile loads and validates the config at path.
func LoadProjectConfigFile(path string) (*ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	cfg, err := ParseProjectConfig(data, filepath.Dir(abs))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	cfg.Path = abs
	return cfg, nil
}

// ParseProjectConfig decodes and validates config bytes. dir is the project
// directory and supplies the default project name.
func ParseProjectConfig(data []byte, dir string) (*ProjectConfig, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	name := raw.Project
	if name == "" {
		name = raw.Metadata.Name
	}
	if name == "" {
		name = filepath.Base(dir)
	}

	cfg := &ProjectConfig{
		Name: NormalizeName(name),
		Env:  raw.Env,
		Dir:  dir,
	}

	services, err := decodeServices(&raw.Services)
	if err != nil {
		return nil, err
	}
	cfg.Services = services

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeServices walks the services mapping node so declaration order is
// kept. A scalar value is shorthand for the version.
func decodeServices(node *yaml.Node) ([]ServiceSpec, error) {
	if node.Kind == 0 {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: services must be a mapping", node.Line)
	}

	services := make([]ServiceSpec, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valueNode := node.Content[i], node.Content[i+1]
		spec := ServiceSpec{Name: keyNode.Value}

		switch valueNode.Kind {
		case yaml.ScalarNode:
			spec.Version = valueNode.Value
		case yaml.MappingNode:
			var rs rawService
			if err := valueNode.Decode(&rs); err != nil {
				return nil, fmt.Errorf("service %s: %w", spec.Name, err)
			}
			spec.Version = rs.Version
			spec.Port = int(rs.Port)
			spec.Environment = rs.Environment
			spec.Volumes = rs.Volumes
			spec.Command = []string(rs.Command)
		default:
			return nil, fmt.Errorf("line %d: service %s must be a version or a mapping", valueNode.Line, spec.Name)
		}

		if spec.Version == "" {
			spec.Version = "latest"
		}
		services = append(services, spec)
	}
	return services, nil
}

// NormalizeName lowercases name and replaces characters that are not valid
// in container or network names.
func NormalizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-_")
}
