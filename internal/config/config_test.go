// Copyright (c) 2026 Cilo Authors
// SPDX-License-Identifier: MIT
// See LICENSES/MIT.txt for full license text

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"DEVSTACK_BASE_PORT", "DEVSTACK_HEALTH_INTERVAL", "DEVSTACK_RUNTIME"} {
		t.Setenv(key, "")
	}
	s, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), s)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DEVSTACK_BASE_PORT", "6000")
	t.Setenv("DEVSTACK_HEALTH_INTERVAL", "500ms")
	t.Setenv("DEVSTACK_RUNTIME", "podman")
	t.Setenv("DEVSTACK_STOP_TIMEOUT", "not-a-duration")

	s, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 6000, s.BasePort)
	assert.Equal(t, 500*time.Millisecond, s.HealthInterval)
	assert.Equal(t, "podman", s.Runtime)
	assert.Equal(t, 10*time.Second, s.StopTimeout)
}

func TestLoadRejectsBadPort(t *testing.T) {
	t.Setenv("DEVSTACK_BASE_PORT", "70000")
	_, err := Load()
	assert.Error(t, err)
}

func TestFindConfigFileWalksParents(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "devstack.yaml"), []byte("services: {}\n"), 0o644))

	assert.Equal(t, filepath.Join(root, "devstack.yaml"), FindConfigFile(nested))
	assert.Equal(t, filepath.Join(root, "devstack.yaml"), FindFile(nested, "devstack.yaml"))
	assert.Empty(t, FindFile(nested, "missing.yml"))
}

func TestCredentialsPath(t *testing.T) {
	assert.Equal(t, filepath.Join("/tmp/proj", ".devstack.env"), CredentialsPath("/tmp/proj"))
}
