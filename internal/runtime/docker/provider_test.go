// Copyright (c) 2026 Cilo Authors
// SPDX-License-Identifier: MIT
// See LICENSES/MIT.txt for full license text

package docker

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const statsFixture = `{
  "read": "2026-01-02T03:04:05Z",
  "cpu_stats": {
    "cpu_usage": {"total_usage": 400000000, "percpu_usage": [1, 2]},
    "system_cpu_usage": 20000000000,
    "online_cpus": 2
  },
  "precpu_stats": {
    "cpu_usage": {"total_usage": 300000000},
    "system_cpu_usage": 19000000000
  },
  "memory_stats": {"usage": 104857600, "limit": 1073741824},
  "networks": {
    "eth0": {"rx_bytes": 1000, "tx_bytes": 500},
    "eth1": {"rx_bytes": 24, "tx_bytes": 12}
  },
  "blkio_stats": {"io_service_bytes_recursive": [
    {"op": "Read", "value": 4096},
    {"op": "Write", "value": 8192},
    {"op": "read", "value": 4096}
  ]},
  "pids_stats": {"current": 7}
}`

func TestConvertStats(t *testing.T) {
	var raw statsJSON
	require.NoError(t, json.Unmarshal([]byte(statsFixture), &raw))

	s := convertStats(&raw)

	assert.InDelta(t, 20.0, s.CPUPercent(), 0.0001)
	assert.InDelta(t, 9.765625, s.MemoryPercent(), 0.0001)
	assert.Equal(t, uint64(1024), s.NetworkRx)
	assert.Equal(t, uint64(512), s.NetworkTx)
	assert.Equal(t, uint64(8192), s.BlockRead)
	assert.Equal(t, uint64(8192), s.BlockWrite)
	assert.Equal(t, uint64(7), s.PIDs)
	assert.Equal(t, 2, s.PerCPUCount)
	assert.Equal(t, 2026, s.ReadAt.Year())
}

func TestMapNotFoundPassesThroughNil(t *testing.T) {
	assert.NoError(t, mapNotFound("x", nil))
}
