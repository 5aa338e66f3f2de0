// Copyright (c) 2026 Cilo Authors
// SPDX-License-Identifier: MIT
// See LICENSES/MIT.txt for full license text

package probe

import (
	"bufio"
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listen(t *testing.T) (net.Listener, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	return ln, ln.Addr().(*net.TCPAddr).Port
}

func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func newTestProber() *Prober {
	return &Prober{Timeout: 2 * time.Second, Host: "127.0.0.1"}
}

// serveRESP answers PING with PONG and every other command with an error,
// which the client tolerates during connection setup.
func serveRESP(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go func(c net.Conn) {
			defer c.Close()
			r := bufio.NewReader(c)
			for {
				cmd, err := readCommand(r)
				if err != nil {
					return
				}
				reply := "-ERR unknown command\r\n"
				if strings.EqualFold(cmd, "PING") {
					reply = "+PONG\r\n"
				}
				if _, err := io.WriteString(c, reply); err != nil {
					return
				}
			}
		}(conn)
	}
}

func readCommand(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "*")))
	if err != nil {
		return "", err
	}
	var first string
	for i := 0; i < n; i++ {
		header, err := r.ReadString('\n')
		if err != nil {
			return "", err
		}
		size, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(header, "$")))
		if err != nil {
			return "", err
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		if i == 0 {
			first = string(buf[:size])
		}
	}
	return first, nil
}

func TestCheckTCP(t *testing.T) {
	ln, port := listen(t)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	res := newTestProber().Check(context.Background(), Target{Service: "api", Port: port})
	assert.True(t, res.OK, res.Error)
	assert.Equal(t, "tcp", res.Method)
	assert.Equal(t, net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), res.Address)
}

func TestCheckTCPRefused(t *testing.T) {
	res := newTestProber().Check(context.Background(), Target{Service: "kafka", Port: closedPort(t)})
	assert.False(t, res.OK)
	assert.NotEmpty(t, res.Error)
}

func TestCheckRedis(t *testing.T) {
	ln, port := listen(t)
	go serveRESP(ln)

	res := newTestProber().Check(context.Background(), Target{Service: "cache-redis", Port: port})
	assert.True(t, res.OK, res.Error)
	assert.Equal(t, "redis", res.Method)
}

func TestCheckPostgresUnreachable(t *testing.T) {
	port := closedPort(t)
	url := "postgresql://devstack:pw@127.0.0.1:" + strconv.Itoa(port) + "/devstack?connect_timeout=1"

	res := newTestProber().Check(context.Background(), Target{Service: "postgres", Port: port, URL: url})
	assert.False(t, res.OK)
	assert.Equal(t, "postgres", res.Method)
	assert.Contains(t, res.Error, "failed to connect")
}
