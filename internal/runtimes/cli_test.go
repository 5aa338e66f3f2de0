// Copyright (c) 2026 Cilo Authors
// SPDX-License-Identifier: MIT
// See LICENSES/MIT.txt for full license text

package runtimes

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharedco/devstack/internal/container"
	"github.com/sharedco/devstack/internal/logging"
	"github.com/sharedco/devstack/internal/runtime"
)

type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }
func (e *exitError) ExitCode() int { return e.code }

type scripted struct {
	stdout string
	stderr string
	err    error
}

// fakeCLI records invocations and replies from a script keyed by the
// first argument.
type fakeCLI struct {
	calls  [][]string
	script map[string]scripted
}

func (f *fakeCLI) run(ctx context.Context, stdout, stderr io.Writer, name string, args ...string) error {
	f.calls = append(f.calls, append([]string{name}, args...))
	reply := f.script[args[0]]
	if stdout != nil {
		io.WriteString(stdout, reply.stdout)
	}
	if stderr != nil {
		io.WriteString(stderr, reply.stderr)
	}
	return reply.err
}

func (f *fakeCLI) last() string {
	return strings.Join(f.calls[len(f.calls)-1], " ")
}

func newBackend(t *testing.T, kind string, f *fakeCLI) *CLIBackend {
	t.Helper()
	desc, ok := runtime.Lookup(kind)
	require.True(t, ok)
	return NewCLIBackend(desc, f.run, logging.Discard())
}

func TestCLICreateContainerArgs(t *testing.T) {
	f := &fakeCLI{script: map[string]scripted{"create": {stdout: "abc123\n"}}}
	b := newBackend(t, "podman", f)

	id, err := b.CreateContainer(context.Background(), container.Spec{
		Name:    "shop_postgres",
		Image:   "postgres:16",
		Env:     []string{"POSTGRES_USER=devstack"},
		Binds:   []string{"./data:/var/lib/postgresql/data"},
		Ports:   []container.PortBinding{{HostPort: 5000, ContainerPort: 5432}},
		Network: "devstack_shop",
		Labels:  map[string]string{"devstack.service": "postgres", "devstack.project": "shop"},
		Cmd:     []string{"postgres", "-c", "fsync=off"},
	})
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)
	assert.Equal(t,
		"podman create --name shop_postgres --network devstack_shop --label devstack.project=shop --label devstack.service=postgres -e POSTGRES_USER=devstack -v ./data:/var/lib/postgresql/data -p 0.0.0.0:5000:5432/tcp postgres:16 postgres -c fsync=off",
		f.last())
}

func TestCLINetworkAlreadyExists(t *testing.T) {
	f := &fakeCLI{script: map[string]scripted{
		"network": {stderr: "Error response from daemon: network with name devstack_shop already exists", err: &exitError{1}},
	}}
	b := newBackend(t, "docker", f)

	err := b.CreateNetwork(context.Background(), "devstack_shop", nil)
	assert.True(t, errors.Is(err, container.ErrAlreadyExists))
	assert.Equal(t, "docker network create --driver bridge devstack_shop", f.last())
}

func TestCLIStopUsesTimeoutAndMapsNotFound(t *testing.T) {
	f := &fakeCLI{script: map[string]scripted{
		"stop": {stderr: "Error response from daemon: No such container: shop_redis", err: &exitError{1}},
	}}
	b := newBackend(t, "docker", f)

	err := b.StopContainer(context.Background(), "shop_redis", 10*time.Second)
	assert.True(t, errors.Is(err, container.ErrNotFound))
	assert.Equal(t, "docker stop --time 10 shop_redis", f.last())
}

func TestCLIColimaDrivesDockerBinary(t *testing.T) {
	f := &fakeCLI{script: map[string]scripted{}}
	b := newBackend(t, "colima", f)

	require.NoError(t, b.RestartContainer(context.Background(), "shop_redis", 0))
	assert.Equal(t, "docker restart shop_redis", f.last())
}

func TestCLIKubernetesUnsupportedOperations(t *testing.T) {
	f := &fakeCLI{script: map[string]scripted{}}
	b := newBackend(t, "kubectl", f)

	err := b.StartContainer(context.Background(), "api")
	assert.True(t, errors.Is(err, container.ErrUnsupported))

	_, err = b.Exec(context.Background(), "api", []string{"true"}, nil, nil)
	assert.True(t, errors.Is(err, container.ErrUnsupported))

	require.NoError(t, b.StopContainer(context.Background(), "api", time.Second))
	assert.Equal(t, "kubectl delete pod api", f.last())
}

func TestCLIKubernetesListMatchesProjectLabel(t *testing.T) {
	pods := `{"items":[
		{"metadata":{"name":"redis-5c8d","labels":{"devstack.project":"shop","devstack.service":"redis"}},"status":{"phase":"Running"}},
		{"metadata":{"name":"redis-9f1a","labels":{"devstack.project":"blog"}},"status":{"phase":"Running"}},
		{"metadata":{"name":"coredns-77b"},"status":{"phase":"Running"}}
	]}`
	f := &fakeCLI{script: map[string]scripted{"get": {stdout: pods}}}
	b := newBackend(t, "kubectl", f)

	list, err := b.ListContainers(context.Background(), "shop_")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "redis-5c8d", list[0].Name)
	assert.Equal(t, "redis", list[0].Labels[container.LabelService])
}

func TestCLIExecReturnsExitCode(t *testing.T) {
	f := &fakeCLI{script: map[string]scripted{
		"exec": {stdout: "partial", stderr: "boom", err: &exitError{3}},
	}}
	b := newBackend(t, "docker", f)

	var out, errOut strings.Builder
	code, err := b.Exec(context.Background(), "shop_pg", []string{"psql", "-c", "select 1"}, &out, &errOut)
	require.NoError(t, err)
	assert.Equal(t, 3, code)
	assert.Equal(t, "partial", out.String())
	assert.Equal(t, "boom", errOut.String())
	assert.Equal(t, "docker exec shop_pg psql -c select 1", f.last())
}

func TestCLIListFiltersByPrefix(t *testing.T) {
	ps := `{"ID":"1","Names":"shop_redis","Image":"redis:7","State":"running","Status":"Up 2 minutes","Ports":"0.0.0.0:5001->6379/tcp","Labels":"devstack.project=shop,devstack.service=redis"}
{"ID":"2","Names":"other_pg","Image":"postgres:16","State":"exited","Status":"Exited (0)","Ports":"","Labels":""}
{"ID":"3","Names":"shop_postgres","Image":"postgres:16","State":"exited","Status":"Exited (0)","Ports":"","Labels":""}
`
	f := &fakeCLI{script: map[string]scripted{"ps": {stdout: ps}}}
	b := newBackend(t, "docker", f)

	list, err := b.ListContainers(context.Background(), "shop_")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "shop_postgres", list[0].Name)
	assert.Equal(t, "shop_redis", list[1].Name)
	assert.True(t, list[1].Running())
	assert.Equal(t, "redis", list[1].Labels["devstack.service"])
	assert.Equal(t, "docker ps -a --format json", f.last())
}

func TestCLIPullStreamsProgress(t *testing.T) {
	f := &fakeCLI{script: map[string]scripted{"pull": {stdout: "16: Pulling from library/postgres\nDigest: sha256:abc\n"}}}
	b := newBackend(t, "docker", f)

	var lines []string
	require.NoError(t, b.PullImage(context.Background(), "postgres:16", func(l string) { lines = append(lines, l) }))
	assert.Equal(t, []string{"16: Pulling from library/postgres", "Digest: sha256:abc"}, lines)
}

func TestCLIInspectAndStats(t *testing.T) {
	f := &fakeCLI{script: map[string]scripted{
		"inspect": {stdout: `{"Status":"running","Running":true,"Health":{"Status":"healthy"}}`},
		"stats":   {stdout: `{"CPUPerc":"1.50%","MemUsage":"64MiB / 1GiB","NetIO":"1.5kB / 500B","BlockIO":"2MB / 0B","PIDs":"4"}` + "\n"},
	}}
	b := newBackend(t, "docker", f)

	in, err := b.InspectContainer(context.Background(), "shop_pg")
	require.NoError(t, err)
	assert.True(t, in.Running)
	assert.Equal(t, "healthy", in.Health)

	st, err := b.Stats(context.Background(), "shop_pg")
	require.NoError(t, err)
	assert.InDelta(t, 1.5, st.CPUPercent(), 0.0001)
	assert.Equal(t, uint64(64<<20), st.MemoryUsage)
	assert.Equal(t, uint64(1<<30), st.MemoryLimit)
	assert.Equal(t, uint64(1500), st.NetworkRx)
	assert.Equal(t, uint64(500), st.NetworkTx)
	assert.Equal(t, uint64(2000000), st.BlockRead)
	assert.Equal(t, uint64(4), st.PIDs)
}
