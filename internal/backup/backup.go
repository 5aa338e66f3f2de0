// Copyright (c) 2026 Cilo Authors
// SPDX-License-Identifier: MIT
// See LICENSES/MIT.txt for full license text

// Package backup dumps and restores database services through exec. Data
// crosses the container boundary base64 encoded.
package backup

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sharedco/devstack/internal/errdefs"
	"github.com/sharedco/devstack/internal/orchestrator"
)

const (
	remoteFile = "/tmp/devstack-backup"
	remoteB64  = remoteFile + ".b64"
	// chunkSize keeps each exec argument well below the kernel's
	// per-argument limit.
	chunkSize = 64 * 1024
)

// Executor runs a command in a service container and returns its stdout.
type Executor interface {
	ExecWithOutput(ctx context.Context, service string, argv []string) (string, error)
}

type tool struct {
	ext string
	// dump writes the backup to the given path inside the container.
	dump func(path string) string
	// restore reads the backup from stdin. Empty means unsupported.
	restore string
}

var tools = map[orchestrator.ServiceType]tool{
	orchestrator.TypePostgres: {
		ext: ".dump",
		dump: func(p string) string {
			return fmt.Sprintf("pg_dump -U %s -Fc %s > %s", orchestrator.DefaultUser, orchestrator.DefaultDatabase, p)
		},
		restore: fmt.Sprintf("pg_restore -U %s -d %s --clean --if-exists", orchestrator.DefaultUser, orchestrator.DefaultDatabase),
	},
	orchestrator.TypeMySQL: {
		ext:     ".sql",
		dump:    func(p string) string { return `mysqldump -u root -p"$MYSQL_ROOT_PASSWORD" --all-databases > ` + p },
		restore: `mysql -u root -p"$MYSQL_ROOT_PASSWORD"`,
	},
	orchestrator.TypeMongo: {
		ext: ".archive",
		dump: func(p string) string {
			return fmt.Sprintf(`mongodump --archive=%s -u %s -p "$MONGO_INITDB_ROOT_PASSWORD" --authenticationDatabase admin`, p, orchestrator.DefaultUser)
		},
		restore: fmt.Sprintf(`mongorestore --archive --drop -u %s -p "$MONGO_INITDB_ROOT_PASSWORD" --authenticationDatabase admin`, orchestrator.DefaultUser),
	},
	orchestrator.TypeRedis: {
		ext:  ".rdb",
		dump: func(p string) string { return "redis-cli --rdb " + p },
	},
}

func toolFor(op, service string) (tool, error) {
	t, ok := tools[orchestrator.TypeOf(service)]
	if !ok {
		return tool{}, errdefs.New(errdefs.ErrUnsupportedServiceType, op, service,
			fmt.Errorf("no backup tool for service type %q", orchestrator.TypeOf(service)))
	}
	return t, nil
}

// Supported reports whether service can be backed up.
func Supported(service string) bool {
	_, err := toolFor("backup", service)
	return err == nil
}

// Manager performs backups and restores.
type Manager struct {
	exec   Executor
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Manager)

func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.logger = l } }

// WithClock overrides the time used for backup file names.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

func New(exec Executor, opts ...Option) *Manager {
	m := &Manager{exec: exec, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Backup dumps service into dir and returns the written file.
func (m *Manager) Backup(ctx context.Context, service, dir string) (string, error) {
	t, err := toolFor("backup", service)
	if err != nil {
		return "", err
	}

	script := fmt.Sprintf("set -e; %s; base64 %s; rm -f %s", t.dump(remoteFile), remoteFile, remoteFile)
	out, err := m.exec.ExecWithOutput(ctx, service, []string{"sh", "-c", script})
	if err != nil {
		return "", fmt.Errorf("backup %s: %w", service, err)
	}

	data, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(out), ""))
	if err != nil {
		return "", fmt.Errorf("backup %s: decode dump: %w", service, err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("backup %s: %w", service, err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-%s%s", service, m.now().Format("20060102-150405"), t.ext))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("backup %s: %w", service, err)
	}

	m.logger.Info("backup written", "service", service, "path", path, "bytes", len(data))
	return path, nil
}

// Restore loads file into service.
func (m *Manager) Restore(ctx context.Context, service, file string) error {
	t, err := toolFor("restore", service)
	if err != nil {
		return err
	}
	if t.restore == "" {
		return errdefs.New(errdefs.ErrUnsupportedOperation, "restore", service,
			fmt.Errorf("%s backups cannot be restored online", orchestrator.TypeOf(service)))
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("restore %s: %w", service, err)
	}
	encoded := base64.StdEncoding.EncodeToString(data)

	if _, err := m.exec.ExecWithOutput(ctx, service, []string{"sh", "-c", ": > " + remoteB64}); err != nil {
		return fmt.Errorf("restore %s: %w", service, err)
	}
	for start := 0; start < len(encoded); start += chunkSize {
		end := min(start+chunkSize, len(encoded))
		chunk := encoded[start:end]
		if _, err := m.exec.ExecWithOutput(ctx, service, []string{"sh", "-c", `printf %s "$1" >> ` + remoteB64, "sh", chunk}); err != nil {
			return fmt.Errorf("restore %s: upload: %w", service, err)
		}
	}

	script := fmt.Sprintf("set -e; base64 -d %s > %s; %s < %s; rm -f %s %s",
		remoteB64, remoteFile, t.restore, remoteFile, remoteFile, remoteB64)
	if _, err := m.exec.ExecWithOutput(ctx, service, []string{"sh", "-c", script}); err != nil {
		return fmt.Errorf("restore %s: %w", service, err)
	}

	m.logger.Info("backup restored", "service", service, "path", file, "bytes", len(data))
	return nil
}
