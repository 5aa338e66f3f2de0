// Copyright (c) 2026 Cilo Authors
// SPDX-License-Identifier: MIT
// See LICENSES/MIT.txt for full license text

package runtimes

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/docker/go-units"

	"github.com/sharedco/devstack/internal/container"
	"github.com/sharedco/devstack/internal/runtime"
)

// ParseList decodes the output of a descriptor's list command.
func ParseList(format runtime.ListFormat, data []byte) ([]container.Summary, error) {
	switch format {
	case runtime.ListDockerJSON:
		return parseDockerPS(data)
	case runtime.ListKubePods:
		return parseKubePods(data)
	case runtime.ListCRIJSON:
		return parseCRI(data)
	case runtime.ListText:
		return parseTextTable(data), nil
	default:
		return nil, fmt.Errorf("unknown list format %d", format)
	}
}

// psRow covers docker (ndjson, string fields), podman (array, list/map
// fields) and compose v2 output. Field matching is case-insensitive, so ID
// also picks up podman's "Id".
type psRow struct {
	ID     string
	Names  json.RawMessage
	Name   string
	Image  string
	State  string
	Status string
	Ports  json.RawMessage
	Labels json.RawMessage
}

func parseDockerPS(data []byte) ([]container.Summary, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	var rows []psRow
	if data[0] == '[' {
		if err := json.Unmarshal(data, &rows); err != nil {
			return nil, fmt.Errorf("failed to parse container list: %w", err)
		}
	} else {
		scanner := bufio.NewScanner(bytes.NewReader(data))
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var row psRow
			if err := json.Unmarshal(line, &row); err != nil {
				return nil, fmt.Errorf("failed to parse container line: %w", err)
			}
			rows = append(rows, row)
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
	}

	out := make([]container.Summary, 0, len(rows))
	for _, r := range rows {
		name := r.Name
		if name == "" {
			name = firstString(r.Names)
		}
		out = append(out, container.Summary{
			ID:     r.ID,
			Name:   strings.TrimPrefix(name, "/"),
			Image:  r.Image,
			State:  strings.ToLower(r.State),
			Status: r.Status,
			Ports:  rawString(r.Ports),
			Labels: parseLabels(r.Labels),
		})
	}
	return out, nil
}

// firstString accepts a JSON string or a list of strings. Docker joins
// multiple names with commas.
func firstString(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		name, _, _ := strings.Cut(s, ",")
		return name
	}
	var list []string
	if json.Unmarshal(raw, &list) == nil && len(list) > 0 {
		return list[0]
	}
	return ""
}

func rawString(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return ""
}

// parseLabels accepts docker's "k=v,k2=v2" string or a JSON object.
func parseLabels(raw json.RawMessage) map[string]string {
	var m map[string]string
	if json.Unmarshal(raw, &m) == nil {
		return m
	}
	var s string
	if json.Unmarshal(raw, &s) != nil || s == "" {
		return nil
	}
	m = make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		k, v, _ := strings.Cut(pair, "=")
		if k != "" {
			m[k] = v
		}
	}
	return m
}

type kubePodList struct {
	Items []struct {
		Metadata struct {
			Name   string            `json:"name"`
			UID    string            `json:"uid"`
			Labels map[string]string `json:"labels"`
		} `json:"metadata"`
		Spec struct {
			Containers []struct {
				Image string `json:"image"`
			} `json:"containers"`
		} `json:"spec"`
		Status struct {
			Phase string `json:"phase"`
		} `json:"status"`
	} `json:"items"`
}

func parseKubePods(data []byte) ([]container.Summary, error) {
	var list kubePodList
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to parse pod list: %w", err)
	}
	out := make([]container.Summary, 0, len(list.Items))
	for _, item := range list.Items {
		var image string
		if len(item.Spec.Containers) > 0 {
			image = item.Spec.Containers[0].Image
		}
		out = append(out, container.Summary{
			ID:     item.Metadata.UID,
			Name:   item.Metadata.Name,
			Image:  image,
			State:  strings.ToLower(item.Status.Phase),
			Status: item.Status.Phase,
			Labels: item.Metadata.Labels,
		})
	}
	return out, nil
}

type criList struct {
	Containers []struct {
		ID       string `json:"id"`
		Metadata struct {
			Name string `json:"name"`
		} `json:"metadata"`
		Image struct {
			Image string `json:"image"`
		} `json:"image"`
		State  string            `json:"state"`
		Labels map[string]string `json:"labels"`
	} `json:"containers"`
}

var criStates = map[string]string{
	"CONTAINER_RUNNING": "running",
	"CONTAINER_EXITED":  "exited",
	"CONTAINER_CREATED": "created",
	"CONTAINER_UNKNOWN": "unknown",
}

func parseCRI(data []byte) ([]container.Summary, error) {
	var list criList
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to parse cri container list: %w", err)
	}
	out := make([]container.Summary, 0, len(list.Containers))
	for _, c := range list.Containers {
		state, ok := criStates[c.State]
		if !ok {
			state = strings.ToLower(c.State)
		}
		out = append(out, container.Summary{
			ID:     c.ID,
			Name:   c.Metadata.Name,
			Image:  c.Image.Image,
			State:  state,
			Status: c.State,
			Labels: c.Labels,
		})
	}
	return out, nil
}

// parseTextTable reads a whitespace table whose first row is a header.
// The first column is the container id and the second the image.
func parseTextTable(data []byte) []container.Summary {
	var out []container.Summary
	scanner := bufio.NewScanner(bytes.NewReader(data))
	header := true
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if header {
			header = false
			continue
		}
		s := container.Summary{ID: fields[0], Name: fields[0], State: "unknown"}
		if len(fields) > 1 {
			s.Image = fields[1]
		}
		out = append(out, s)
	}
	return out
}

type inspectState struct {
	Status  string `json:"Status"`
	Running bool   `json:"Running"`
	Health  *struct {
		Status string `json:"Status"`
	} `json:"Health"`
	Healthcheck *struct {
		Status string `json:"Status"`
	} `json:"Healthcheck"`
}

func parseInspectState(data []byte) (*container.Inspect, error) {
	var st inspectState
	if err := json.Unmarshal(bytes.TrimSpace(data), &st); err != nil {
		return nil, fmt.Errorf("failed to parse container state: %w", err)
	}
	inspect := &container.Inspect{Running: st.Running, Status: st.Status}
	switch {
	case st.Health != nil:
		inspect.Health = st.Health.Status
	case st.Healthcheck != nil:
		inspect.Health = st.Healthcheck.Status
	}
	return inspect, nil
}

// statsLine is `docker stats --no-stream --format '{{json .}}'`.
type statsLine struct {
	CPUPerc  string `json:"CPUPerc"`
	MemUsage string `json:"MemUsage"`
	NetIO    string `json:"NetIO"`
	BlockIO  string `json:"BlockIO"`
	PIDs     string `json:"PIDs"`
}

// ParseStatsLine converts one formatted stats row into Stats. The CLI only
// reports a CPU percentage, so it is carried through ReportedCPUPct.
func ParseStatsLine(line string) (*container.Stats, error) {
	var row statsLine
	if err := json.Unmarshal([]byte(line), &row); err != nil {
		return nil, fmt.Errorf("failed to parse stats: %w", err)
	}

	stats := &container.Stats{}

	cpu, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(row.CPUPerc), "%"), 64)
	if err == nil {
		stats.ReportedCPUPct = &cpu
	}

	usage, limit := splitPair(row.MemUsage)
	stats.MemoryUsage = ramBytes(usage)
	stats.MemoryLimit = ramBytes(limit)

	rx, tx := splitPair(row.NetIO)
	stats.NetworkRx = humanBytes(rx)
	stats.NetworkTx = humanBytes(tx)

	read, write := splitPair(row.BlockIO)
	stats.BlockRead = humanBytes(read)
	stats.BlockWrite = humanBytes(write)

	if pids, err := strconv.ParseUint(strings.TrimSpace(row.PIDs), 10, 64); err == nil {
		stats.PIDs = pids
	}
	return stats, nil
}

func splitPair(s string) (string, string) {
	a, b, _ := strings.Cut(s, "/")
	return strings.TrimSpace(a), strings.TrimSpace(b)
}

// ramBytes parses binary sizes such as "12.5MiB".
func ramBytes(s string) uint64 {
	n, err := units.RAMInBytes(s)
	if err != nil || n < 0 {
		return 0
	}
	return uint64(n)
}

// humanBytes parses decimal sizes such as "1.2kB".
func humanBytes(s string) uint64 {
	n, err := units.FromHumanSize(s)
	if err != nil || n < 0 {
		return 0
	}
	return uint64(n)
}
