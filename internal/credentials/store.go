// Copyright (c) 2026 Cilo Authors
// SPDX-License-Identifier: MIT
// See LICENSES/MIT.txt for full license text

// Package credentials persists generated per-project secrets in a flat
// KEY=value file next to the project config.
package credentials

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/sharedco/devstack/internal/config"
	"github.com/sharedco/devstack/internal/errdefs"
	"github.com/sharedco/devstack/internal/secrets"
)

const lockTimeout = 30 * time.Second

var header = []string{
	"# devstack generated credentials",
	"# DO NOT COMMIT THIS FILE TO VERSION CONTROL",
}

// Store is a durable key/secret map for one project. Once a key has been
// generated it keeps its value for the life of the file.
type Store struct {
	mu     sync.Mutex
	path   string
	values map[string]string
}

// Open loads the credential file for projectDir. A missing file is an
// empty store.
func Open(projectDir string) (*Store, error) {
	return OpenFile(config.CredentialsPath(projectDir))
}

// OpenFile loads the credential file at path.
func OpenFile(path string) (*Store, error) {
	values, err := readFile(path)
	if err != nil {
		return nil, errdefs.New(errdefs.ErrCredentialIO, "load credentials", "", err)
	}
	return &Store{path: path, values: values}, nil
}

// Path returns the credential file location.
func (s *Store) Path() string {
	return s.path
}

// Get returns the stored value for key.
func (s *Store) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// All returns a copy of every stored credential.
func (s *Store) All() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.values)
}

// GetOrGenerate returns the value for key, generating and persisting it with
// gen when absent. The file is rewritten before the value is returned, so a
// secret handed to a container is always on disk.
func (s *Store) GetOrGenerate(ctx context.Context, key string, gen secrets.Generator) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.values[key]; ok {
		return v, nil
	}

	var value string
	err := s.withFileLock(ctx, func() error {
		current, err := readFile(s.path)
		if err != nil {
			return err
		}
		if v, ok := current[key]; ok {
			value = v
			s.values = current
			return nil
		}

		generated, err := gen()
		if err != nil {
			return fmt.Errorf("generate %s: %w", key, err)
		}

		next := maps.Clone(current)
		next[key] = generated
		if err := atomicWrite(s.path, next); err != nil {
			return err
		}
		s.values = next
		value = generated
		return nil
	})
	if err != nil {
		return "", errdefs.New(errdefs.ErrCredentialIO, "generate credential", key, err)
	}
	return value, nil
}

func (s *Store) withFileLock(ctx context.Context, fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create credential directory: %w", err)
	}
	fileLock := flock.New(s.path + ".lock")

	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	locked, err := fileLock.TryLockContext(lockCtx, 100*time.Millisecond)
	if err != nil {
		return fmt.Errorf("failed to acquire credential lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("credential lock timeout after %v", lockTimeout)
	}
	defer fileLock.Unlock()

	return fn()
}

func readFile(path string) (map[string]string, error) {
	values := make(map[string]string)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return values, nil
		}
		return nil, err
	}
	return Parse(data), nil
}

// Parse reads KEY=value lines, skipping blanks and # comments. Only the
// first '=' separates key from value.
func Parse(data []byte) map[string]string {
	values := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		values[strings.TrimSpace(key)] = value
	}
	return values
}

// Format renders values in the on-disk layout, keys sorted.
func Format(values map[string]string) []byte {
	var buf bytes.Buffer
	for _, line := range header {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	for _, key := range slices.Sorted(maps.Keys(values)) {
		fmt.Fprintf(&buf, "%s=%s\n", key, values[key])
	}
	return buf.Bytes()
}

// atomicWrite writes via temp file + rename so a failed write never leaves
// a truncated credential file behind.
func atomicWrite(path string, values map[string]string) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".devstack-env-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if err := tmpFile.Chmod(0o600); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to set credential permissions: %w", err)
	}

	if _, err := tmpFile.Write(Format(values)); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write credentials: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync credentials: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename credential file: %w", err)
	}
	return nil
}
