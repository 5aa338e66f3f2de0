// Copyright (c) 2026 Cilo Authors
// SPDX-License-Identifier: MIT
// See LICENSES/MIT.txt for full license text

// Package probe checks from the host that a published service accepts
// client connections.
package probe

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	redis "github.com/redis/go-redis/v9"

	"github.com/sharedco/devstack/internal/orchestrator"
)

const DefaultTimeout = 3 * time.Second

// Target is a service published on a host port.
type Target struct {
	Service string
	Port    int
	// URL is the client connection string, used for protocol-aware probes.
	URL string
}

// Result is the outcome of one probe.
type Result struct {
	Service string        `json:"service"`
	Method  string        `json:"method"`
	Address string        `json:"address"`
	OK      bool          `json:"ok"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

// Prober runs host-side readiness checks.
type Prober struct {
	Timeout time.Duration
	Host    string
}

func New() *Prober {
	return &Prober{Timeout: DefaultTimeout, Host: "localhost"}
}

// Check probes t: postgres with a pgx connection and ping, redis with a
// PING, and anything else with a TCP dial.
func (p *Prober) Check(ctx context.Context, t Target) Result {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	addr := net.JoinHostPort(p.Host, strconv.Itoa(t.Port))
	res := Result{Service: t.Service, Address: addr}
	start := time.Now()

	var err error
	switch orchestrator.TypeOf(t.Service) {
	case orchestrator.TypePostgres:
		res.Method = "postgres"
		err = pingPostgres(ctx, t.URL)
	case orchestrator.TypeRedis:
		res.Method = "redis"
		err = pingRedis(ctx, addr)
	default:
		res.Method = "tcp"
		err = dial(ctx, addr)
	}

	res.Latency = time.Since(start)
	res.OK = err == nil
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

func pingPostgres(ctx context.Context, url string) error {
	conn, err := pgx.Connect(ctx, url)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close(context.Background())

	if err := conn.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

func pingRedis(ctx context.Context, addr string) error {
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

func dial(ctx context.Context, addr string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}
