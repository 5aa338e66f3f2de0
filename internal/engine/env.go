// Copyright (c) 2026 Cilo Authors
// SPDX-License-Identifier: MIT
// See LICENSES/MIT.txt for full license text

package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"net"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sharedco/devstack/internal/models"
	"github.com/sharedco/devstack/internal/orchestrator"
)

// EnvVar is one exported variable.
type EnvVar struct {
	Key   string
	Value string
}

// Export formats.
const (
	FormatShell  = "shell"
	FormatDotenv = "dotenv"
	FormatJSON   = "json"
	FormatYAML   = "yaml"
)

// EnvPrefix turns a service name into an environment variable prefix.
func EnvPrefix(service string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(service))
}

// ConnectionEnv returns the project env followed by HOST, PORT and URL
// variables for every service with an allocated port.
func (c *Coordinator) ConnectionEnv() []EnvVar {
	ports := c.Ports()

	var out []EnvVar
	for _, key := range slices.Sorted(maps.Keys(c.cfg.Env)) {
		out = append(out, EnvVar{key, c.cfg.Env[key]})
	}
	for _, spec := range c.cfg.Services {
		port, ok := ports[spec.Name]
		if !ok {
			continue
		}
		prefix := EnvPrefix(spec.Name)
		out = append(out,
			EnvVar{prefix + "_HOST", "localhost"},
			EnvVar{prefix + "_PORT", strconv.Itoa(port)},
			EnvVar{prefix + "_URL", c.ConnectionURL(spec, port)},
		)
	}
	return out
}

// ConnectionURL builds the client connection string for spec published on
// the host at port.
func (c *Coordinator) ConnectionURL(spec models.ServiceSpec, port int) string {
	host := net.JoinHostPort("localhost", strconv.Itoa(port))
	creds := orchestrator.CredentialsFor(spec.Name)
	password := c.password(spec, creds)

	switch orchestrator.TypeOf(spec.Name) {
	case orchestrator.TypePostgres:
		u := url.URL{Scheme: "postgresql", User: url.UserPassword(creds.User, password), Host: host, Path: "/" + creds.Database}
		return u.String()
	case orchestrator.TypeMySQL:
		u := url.URL{Scheme: "mysql", User: url.UserPassword(creds.User, password), Host: host, Path: "/" + creds.Database}
		return u.String()
	case orchestrator.TypeMongo:
		u := url.URL{Scheme: "mongodb", User: url.UserPassword(creds.User, password), Host: host, Path: "/", RawQuery: "authSource=admin"}
		return u.String()
	case orchestrator.TypeRedis:
		return "redis://" + host
	case orchestrator.TypeRabbitMQ:
		u := url.URL{Scheme: "amqp", User: url.UserPassword(creds.User, password), Host: host}
		return u.String()
	default:
		return "http://" + host
	}
}

// password prefers a literal value declared in the service environment
// over the generated one.
func (c *Coordinator) password(spec models.ServiceSpec, creds orchestrator.Credentials) string {
	if v, ok := spec.Environment[creds.PasswordEnv]; ok && v != models.AutoGenerate {
		return v
	}
	if c.creds == nil || creds.PasswordKey == "" {
		return ""
	}
	v, _ := c.creds.Get(creds.PasswordKey)
	return v
}

// FormatEnv renders vars in one of the export formats.
func FormatEnv(vars []EnvVar, format string) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case FormatShell, "":
		for _, v := range vars {
			fmt.Fprintf(&buf, "export %s=%s\n", v.Key, strconv.Quote(v.Value))
		}
	case FormatDotenv:
		for _, v := range vars {
			fmt.Fprintf(&buf, "%s=%s\n", v.Key, v.Value)
		}
	case FormatJSON:
		m := make(map[string]string, len(vars))
		for _, v := range vars {
			m[v.Key] = v.Value
		}
		data, err := json.MarshalIndent(m, "", "  ")
		if err != nil {
			return nil, err
		}
		buf.Write(data)
		buf.WriteByte('\n')
	case FormatYAML:
		node := &yaml.Node{Kind: yaml.MappingNode}
		for _, v := range vars {
			node.Content = append(node.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Value: v.Key},
				&yaml.Node{Kind: yaml.ScalarNode, Value: v.Value, Tag: "!!str"},
			)
		}
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(node); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown env format %q (want shell, dotenv, json or yaml)", format)
	}
	return buf.Bytes(), nil
}
