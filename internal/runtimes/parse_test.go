// Copyright (c) 2026 Cilo Authors
// SPDX-License-Identifier: MIT
// See LICENSES/MIT.txt for full license text

package runtimes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharedco/devstack/internal/runtime"
)

func TestParseListFormats(t *testing.T) {
	tests := []struct {
		name      string
		format    runtime.ListFormat
		input     string
		wantNames []string
		wantState string
	}{
		{
			name:      "podman array",
			format:    runtime.ListDockerJSON,
			input:     `[{"Id":"aa","Names":["shop_redis"],"Image":"docker.io/library/redis:7","State":"running","Status":"Up","Ports":[{"host_port":5001}],"Labels":{"devstack.project":"shop"}}]`,
			wantNames: []string{"shop_redis"},
			wantState: "running",
		},
		{
			name:      "compose ndjson",
			format:    runtime.ListDockerJSON,
			input:     `{"ID":"bb","Name":"shop_web","Image":"nginx","State":"exited","Status":"Exited (0)"}`,
			wantNames: []string{"shop_web"},
			wantState: "exited",
		},
		{
			name:      "kube pods",
			format:    runtime.ListKubePods,
			input:     `{"items":[{"metadata":{"name":"shop-api-7d9","uid":"u1","labels":{"app":"api"}},"spec":{"containers":[{"image":"api:1"}]},"status":{"phase":"Running"}}]}`,
			wantNames: []string{"shop-api-7d9"},
			wantState: "running",
		},
		{
			name:      "crictl",
			format:    runtime.ListCRIJSON,
			input:     `{"containers":[{"id":"c1","metadata":{"name":"shop_redis"},"image":{"image":"redis:7"},"state":"CONTAINER_RUNNING"}]}`,
			wantNames: []string{"shop_redis"},
			wantState: "running",
		},
		{
			name:      "ctr text",
			format:    runtime.ListText,
			input:     "CONTAINER    IMAGE                            RUNTIME\nshop_redis   docker.io/library/redis:7        io.containerd.runc.v2\n",
			wantNames: []string{"shop_redis"},
			wantState: "unknown",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := ParseList(tt.format, []byte(tt.input))
			require.NoError(t, err)
			var names []string
			for _, s := range list {
				names = append(names, s.Name)
			}
			assert.Equal(t, tt.wantNames, names)
			assert.Equal(t, tt.wantState, list[0].State)
		})
	}
}

func TestParseDockerPSEmpty(t *testing.T) {
	list, err := ParseList(runtime.ListDockerJSON, []byte("\n"))
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestParseDockerPSMalformed(t *testing.T) {
	_, err := ParseList(runtime.ListDockerJSON, []byte("{not json"))
	assert.Error(t, err)
}

func TestParseLabels(t *testing.T) {
	assert.Equal(t, map[string]string{"a": "1", "b": "x=y"}, parseLabels([]byte(`"a=1,b=x=y"`)))
	assert.Equal(t, map[string]string{"a": "1"}, parseLabels([]byte(`{"a":"1"}`)))
	assert.Nil(t, parseLabels([]byte(`""`)))
}

func TestParseInspectStatePodmanHealthcheck(t *testing.T) {
	in, err := parseInspectState([]byte(`{"Status":"running","Running":true,"Healthcheck":{"Status":"starting"}}`))
	require.NoError(t, err)
	assert.Equal(t, "starting", in.Health)

	in, err = parseInspectState([]byte(`{"Status":"exited","Running":false}`))
	require.NoError(t, err)
	assert.False(t, in.Running)
	assert.Empty(t, in.Health)
}
