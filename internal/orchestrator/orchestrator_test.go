// Copyright (c) 2026 Cilo Authors
// SPDX-License-Identifier: MIT
// See LICENSES/MIT.txt for full license text

package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharedco/devstack/internal/container"
	"github.com/sharedco/devstack/internal/container/containertest"
	"github.com/sharedco/devstack/internal/credentials"
	"github.com/sharedco/devstack/internal/errdefs"
	"github.com/sharedco/devstack/internal/logging"
	"github.com/sharedco/devstack/internal/models"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *containertest.Backend, *credentials.Store) {
	t.Helper()
	dir := t.TempDir()
	store, err := credentials.Open(dir)
	require.NoError(t, err)
	fake := containertest.New()
	o := New(fake, store, "shop", WithLogger(logging.Discard()), WithProjectDir(dir))
	return o, fake, store
}

func envMap(env []string) map[string]string {
	out := map[string]string{}
	for _, kv := range env {
		k, v, _ := strings.Cut(kv, "=")
		out[k] = v
	}
	return out
}

func TestNaming(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	assert.Equal(t, "shop_postgres", o.ContainerName("postgres"))
	assert.Equal(t, o.ContainerName("postgres"), o.ContainerName("postgres"))
	assert.Equal(t, "devstack_shop", o.NetworkName())
}

func TestCreateNetworkIdempotent(t *testing.T) {
	o, fake, _ := newTestOrchestrator(t)
	ctx := context.Background()

	require.NoError(t, o.CreateNetwork(ctx))
	require.NoError(t, o.CreateNetwork(ctx))
	assert.Equal(t, []string{"devstack_shop"}, fake.Networks())
}

func TestCreateNetworkFailure(t *testing.T) {
	o, fake, _ := newTestOrchestrator(t)
	fake.Errors["network"] = errors.New("permission denied")

	err := o.CreateNetwork(context.Background())
	assert.ErrorIs(t, err, errdefs.ErrNetworkCreate)
}

func TestStartServicePostgres(t *testing.T) {
	o, fake, store := newTestOrchestrator(t)
	ctx := context.Background()

	id, err := o.StartService(ctx, models.ServiceSpec{Name: "postgres", Version: "16"}, 5000)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, []string{"postgres:16"}, fake.Pulls())

	c, ok := fake.Container("shop_postgres")
	require.True(t, ok)
	assert.True(t, c.Running)
	assert.Equal(t, "devstack_shop", c.Spec.Network)
	assert.Equal(t, "shop", c.Spec.Labels[LabelProject])
	assert.Equal(t, "postgres", c.Spec.Labels[LabelService])
	require.Len(t, c.Spec.Ports, 1)
	assert.Equal(t, 5000, c.Spec.Ports[0].HostPort)
	assert.Equal(t, 5432, c.Spec.Ports[0].ContainerPort)

	env := envMap(c.Spec.Env)
	assert.Equal(t, "devstack", env["POSTGRES_USER"])
	assert.Equal(t, "devstack", env["POSTGRES_DB"])
	assert.Len(t, env["POSTGRES_PASSWORD"], 24)

	stored, ok := store.Get("postgres_POSTGRES_PASSWORD")
	require.True(t, ok)
	assert.Equal(t, stored, env["POSTGRES_PASSWORD"])
}

func TestStartServiceReusesPassword(t *testing.T) {
	o, fake, _ := newTestOrchestrator(t)
	ctx := context.Background()
	spec := models.ServiceSpec{Name: "postgres", Version: "16"}

	_, err := o.StartService(ctx, spec, 5000)
	require.NoError(t, err)
	first, _ := fake.Container("shop_postgres")

	_, err = o.StartService(ctx, spec, 5000)
	require.NoError(t, err)
	second, _ := fake.Container("shop_postgres")

	assert.NotEqual(t, first.ID, second.ID, "old container should be replaced")
	assert.Equal(t, envMap(first.Spec.Env)["POSTGRES_PASSWORD"], envMap(second.Spec.Env)["POSTGRES_PASSWORD"])
}

func TestServiceEnvDeclaredWins(t *testing.T) {
	o, _, store := newTestOrchestrator(t)
	spec := models.ServiceSpec{
		Name: "postgres",
		Environment: map[string]string{
			"POSTGRES_PASSWORD": "hunter2",
			"API_TOKEN":         models.AutoGenerate,
		},
	}

	env, err := o.ServiceEnv(context.Background(), spec)
	require.NoError(t, err)

	m := envMap(env)
	assert.Equal(t, "hunter2", m["POSTGRES_PASSWORD"])
	assert.Len(t, m["API_TOKEN"], 64)
	assert.Equal(t, "devstack", m["POSTGRES_USER"])

	_, generated := store.Get("postgres_POSTGRES_PASSWORD")
	assert.False(t, generated)
	token, _ := store.Get("postgres_API_TOKEN")
	assert.Equal(t, m["API_TOKEN"], token)

	assert.True(t, strings.HasPrefix(env[0], "API_TOKEN="), "env must be sorted")
}

func TestServiceEnvMySQL(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	env, err := o.ServiceEnv(context.Background(), models.ServiceSpec{Name: "mysql"})
	require.NoError(t, err)

	m := envMap(env)
	assert.Len(t, m["MYSQL_PASSWORD"], 24)
	assert.Len(t, m["MYSQL_ROOT_PASSWORD"], 24)
	assert.NotEqual(t, m["MYSQL_PASSWORD"], m["MYSQL_ROOT_PASSWORD"])
}

func TestStartServicePullFailureIsFatal(t *testing.T) {
	o, fake, _ := newTestOrchestrator(t)
	fake.Errors["pull"] = errors.New("manifest unknown")

	_, err := o.StartService(context.Background(), models.ServiceSpec{Name: "redis", Version: "7"}, 5001)
	require.ErrorIs(t, err, errdefs.ErrImagePull)
	assert.Equal(t, "redis", errdefs.ServiceOf(err))
	_, exists := fake.Container("shop_redis")
	assert.False(t, exists)
}

func TestStartServiceCreateFailure(t *testing.T) {
	o, fake, _ := newTestOrchestrator(t)
	fake.Errors["create"] = errors.New("port is already allocated")

	_, err := o.StartService(context.Background(), models.ServiceSpec{Name: "redis"}, 5001)
	assert.ErrorIs(t, err, errdefs.ErrContainerCreate)
}

func TestStartServiceResolvesRelativeVolumes(t *testing.T) {
	o, fake, _ := newTestOrchestrator(t)
	spec := models.ServiceSpec{Name: "redis", Volumes: []string{"./data:/data", "cache:/cache:ro"}}

	_, err := o.StartService(context.Background(), spec, 5001)
	require.NoError(t, err)

	c, _ := fake.Container("shop_redis")
	require.Len(t, c.Spec.Binds, 2)
	assert.True(t, filepath.IsAbs(strings.SplitN(c.Spec.Binds[0], ":", 2)[0]))
	assert.Equal(t, "cache:/cache:ro", c.Spec.Binds[1])
}

func TestStopServiceMissingIsNoop(t *testing.T) {
	o, fake, _ := newTestOrchestrator(t)
	require.NoError(t, o.StopService(context.Background(), "ghost"))
	assert.Empty(t, fake.Calls())
}

func TestStopLeavesOtherStacksAlone(t *testing.T) {
	o, fake, _ := newTestOrchestrator(t)
	ctx := context.Background()
	fake.Add("redis", true, nil)
	fake.Add("api-redis", true, nil)
	fake.Add("shopping_redis", true, nil)

	require.NoError(t, o.StopService(ctx, "redis"))
	require.NoError(t, o.RestartService(ctx, "redis"))
	assert.Empty(t, fake.Calls())
	assert.Equal(t, []string{"api-redis", "redis", "shopping_redis"}, fake.Running())

	_, err := o.ExecCommandWithOutput(ctx, "redis", []string{"redis-cli", "ping"})
	assert.ErrorIs(t, err, errdefs.ErrContainerNotFound)
}

func TestResolveServiceSuffix(t *testing.T) {
	tests := []struct {
		name      string
		container string
		labels    map[string]string
		want      string
	}{
		{name: "project dash prefix", container: "shop-redis", want: "shop-redis"},
		{name: "labelled", container: "legacy-cache-redis", labels: map[string]string{LabelProject: "shop"}, want: "legacy-cache-redis"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, fake, _ := newTestOrchestrator(t)
			fake.ExecHandler = func(name string, _ []string, stdout, _ io.Writer) (int, error) {
				io.WriteString(stdout, name)
				return 0, nil
			}
			fake.Add(tt.container, true, tt.labels)

			out, err := o.ExecCommandWithOutput(context.Background(), "redis", []string{"redis-cli", "ping"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestResolvePrefersProjectName(t *testing.T) {
	o, fake, _ := newTestOrchestrator(t)
	fake.Add("shop-redis", true, nil)
	fake.Add("shop_redis", true, nil)
	fake.ExecHandler = func(name string, _ []string, stdout, _ io.Writer) (int, error) {
		io.WriteString(stdout, name)
		return 0, nil
	}

	out, err := o.ExecCommandWithOutput(context.Background(), "redis", []string{"true"})
	require.NoError(t, err)
	assert.Equal(t, "shop_redis", out)
}

func TestRestartFallsBackToStopStart(t *testing.T) {
	o, fake, _ := newTestOrchestrator(t)
	ctx := context.Background()
	_, err := o.StartService(ctx, models.ServiceSpec{Name: "redis"}, 5001)
	require.NoError(t, err)

	fake.NoRestart = true
	require.NoError(t, o.RestartService(ctx, "redis"))

	calls := fake.Calls()
	assert.Equal(t, []string{"stop shop_redis", "start shop_redis"}, calls[len(calls)-2:])
	assert.Equal(t, []string{"shop_redis"}, fake.Running())
}

func TestStopAllLeavesNothingRunning(t *testing.T) {
	o, fake, _ := newTestOrchestrator(t)
	ctx := context.Background()
	for i, name := range []string{"postgres", "redis"} {
		_, err := o.StartService(ctx, models.ServiceSpec{Name: name}, 5000+i)
		require.NoError(t, err)
	}
	fake.Add("other_redis", true, nil)

	require.NoError(t, o.StopAll(ctx))
	assert.Equal(t, []string{"other_redis"}, fake.Running())
}

func TestStopAllJoinsErrors(t *testing.T) {
	o, fake, _ := newTestOrchestrator(t)
	fake.Add("shop_a", true, nil)
	fake.Add("shop_b", true, nil)
	fake.Errors["stop"] = errors.New("daemon busy")

	err := o.StopAll(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, strings.Count(err.Error(), "daemon busy"))
}

func TestExecCommand(t *testing.T) {
	o, fake, _ := newTestOrchestrator(t)
	fake.Add("shop_postgres", true, nil)
	fake.ExecHandler = func(_ string, argv []string, stdout, stderr io.Writer) (int, error) {
		if argv[0] == "false" {
			fmt.Fprint(stderr, "boom")
			return 1, nil
		}
		fmt.Fprint(stdout, strings.Join(argv, " "))
		return 0, nil
	}
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, o.ExecCommand(ctx, "postgres", []string{"echo", "hi"}, &out, io.Discard))
	assert.Equal(t, "echo hi", out.String())

	got, err := o.ExecCommandWithOutput(ctx, "postgres", []string{"psql", "-c", "select 1"})
	require.NoError(t, err)
	assert.Equal(t, "psql -c select 1", got)

	_, err = o.ExecCommandWithOutput(ctx, "postgres", []string{"false"})
	require.ErrorIs(t, err, errdefs.ErrExec)
	assert.Contains(t, err.Error(), "boom")

	err = o.ExecCommand(ctx, "missing", []string{"true"}, io.Discard, io.Discard)
	assert.ErrorIs(t, err, errdefs.ErrContainerNotFound)
}

func TestGetLogs(t *testing.T) {
	o, fake, _ := newTestOrchestrator(t)
	fake.Add("shop_redis", true, nil)
	fake.LogOutput = "Ready to accept connections\n"

	var buf bytes.Buffer
	require.NoError(t, o.GetLogs(context.Background(), "redis", false, 10, &buf))
	assert.Equal(t, "Ready to accept connections\n", buf.String())
}

func TestGetAllStatsSkipsStopped(t *testing.T) {
	o, fake, _ := newTestOrchestrator(t)
	fake.Add("shop_postgres", true, map[string]string{LabelService: "postgres"})
	fake.Add("shop_redis", false, nil)
	fake.StatsFor["shop_postgres"] = &container.Stats{MemoryUsage: 1 << 20, MemoryLimit: 1 << 30}

	all, err := o.GetAllStats(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, uint64(1<<20), all["postgres"].MemoryUsage)
}
