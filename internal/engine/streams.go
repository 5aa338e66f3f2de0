// Copyright (c) 2026 Cilo Authors
// SPDX-License-Identifier: MIT
// See LICENSES/MIT.txt for full license text

package engine

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"sync"
)

// LogSource follows a service's logs until ctx is cancelled.
type LogSource interface {
	GetLogs(ctx context.Context, service string, follow bool, tail int, w io.Writer) error
}

// LogStreams tracks one cancellable log follower per service.
type LogStreams struct {
	src    LogSource
	logger *slog.Logger

	mu      sync.Mutex
	streams map[string]*logStream
}

type logStream struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewLogStreams(src LogSource, logger *slog.Logger) *LogStreams {
	return &LogStreams{src: src, logger: logger, streams: map[string]*logStream{}}
}

// Start follows service's logs into w, replacing any stream already
// running for that service. The returned channel closes when the stream
// ends.
func (l *LogStreams) Start(ctx context.Context, service string, tail int, w io.Writer) <-chan struct{} {
	l.Stop(service)

	sctx, cancel := context.WithCancel(ctx)
	s := &logStream{cancel: cancel, done: make(chan struct{})}

	l.mu.Lock()
	l.streams[service] = s
	l.mu.Unlock()

	go func() {
		defer close(s.done)
		defer cancel()

		err := l.src.GetLogs(sctx, service, true, tail, w)
		if err != nil && sctx.Err() == nil {
			l.logger.Warn("log stream ended", "service", service, "error", err)
		}

		l.mu.Lock()
		if l.streams[service] == s {
			delete(l.streams, service)
		}
		l.mu.Unlock()
	}()
	return s.done
}

// Stop cancels the stream for service and waits for it to finish. Other
// services' streams are unaffected.
func (l *LogStreams) Stop(service string) {
	l.mu.Lock()
	s, ok := l.streams[service]
	delete(l.streams, service)
	l.mu.Unlock()

	if ok {
		s.cancel()
		<-s.done
	}
}

// StopAll cancels every stream.
func (l *LogStreams) StopAll() {
	l.mu.Lock()
	all := l.streams
	l.streams = map[string]*logStream{}
	l.mu.Unlock()

	for _, s := range all {
		s.cancel()
	}
	for _, s := range all {
		<-s.done
	}
}

// Active returns the services with a running stream, sorted.
func (l *LogStreams) Active() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, 0, len(l.streams))
	for name := range l.streams {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
