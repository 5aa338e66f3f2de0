// Copyright (c) 2026 Cilo Authors
// SPDX-License-Identifier: MIT
// See LICENSES/MIT.txt for full license text

package container

import "time"

// Stats is a one-shot resource snapshot. CPU counters are cumulative; the
// Pre* fields hold the engine's previous sample.
type Stats struct {
	ReadAt time.Time

	CPUTotal       uint64
	PreCPUTotal    uint64
	SystemCPU      uint64
	PreSystemCPU   uint64
	OnlineCPUs     uint32
	PerCPUCount    int
	ReportedCPUPct *float64 // set by backends that only expose a percentage

	MemoryUsage uint64
	MemoryLimit uint64

	NetworkRx uint64
	NetworkTx uint64

	BlockRead  uint64
	BlockWrite uint64

	PIDs uint64
}

// CPUPercent returns (cpuDelta/systemDelta) * cpus * 100, or 0 when either
// delta is not positive.
func (s *Stats) CPUPercent() float64 {
	if s.ReportedCPUPct != nil {
		return *s.ReportedCPUPct
	}
	if s.CPUTotal <= s.PreCPUTotal || s.SystemCPU <= s.PreSystemCPU {
		return 0
	}
	cpuDelta := float64(s.CPUTotal - s.PreCPUTotal)
	systemDelta := float64(s.SystemCPU - s.PreSystemCPU)

	cpus := float64(s.OnlineCPUs)
	if cpus == 0 {
		cpus = float64(s.PerCPUCount)
	}
	if cpus == 0 {
		cpus = 1
	}
	return cpuDelta / systemDelta * cpus * 100
}

// MemoryPercent returns usage as a percentage of the limit.
func (s *Stats) MemoryPercent() float64 {
	if s.MemoryLimit == 0 {
		return 0
	}
	return float64(s.MemoryUsage) / float64(s.MemoryLimit) * 100
}
