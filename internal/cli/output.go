// Copyright (c) 2026 Cilo Authors
// SPDX-License-Identifier: MIT
// See LICENSES/MIT.txt for full license text

package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"
	"text/tabwriter"

	"github.com/docker/go-units"
	"golang.org/x/term"
)

var prefixColors = []string{"36", "33", "32", "35", "34", "91", "92", "93"}

// logMux interleaves several services' log streams onto one writer, one
// whole line at a time.
type logMux struct {
	mu    sync.Mutex
	out   io.Writer
	width int
	color bool
}

func newLogMux(out io.Writer, services []string) *logMux {
	width := 0
	for _, s := range services {
		width = max(width, len(s))
	}
	return &logMux{out: out, width: width, color: isTerminal(out)}
}

// writer returns the line writer for the i-th service.
func (m *logMux) writer(i int, service string) *prefixWriter {
	prefix := fmt.Sprintf("%-*s | ", m.width, service)
	if m.color {
		prefix = fmt.Sprintf("\x1b[%sm%s\x1b[0m", prefixColors[i%len(prefixColors)], prefix)
	}
	return &prefixWriter{mux: m, prefix: prefix}
}

// prefixWriter buffers partial lines until their newline arrives.
type prefixWriter struct {
	mux    *logMux
	prefix string
	buf    []byte
}

func (w *prefixWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			return len(p), nil
		}
		if err := w.emit(w.buf[:i+1]); err != nil {
			return 0, err
		}
		w.buf = w.buf[i+1:]
	}
}

// Flush writes a trailing partial line.
func (w *prefixWriter) Flush() error {
	if len(w.buf) == 0 {
		return nil
	}
	line := append(w.buf, '\n')
	w.buf = nil
	return w.emit(line)
}

func (w *prefixWriter) emit(line []byte) error {
	w.mux.mu.Lock()
	defer w.mux.mu.Unlock()
	_, err := fmt.Fprintf(w.mux.out, "%s%s", w.prefix, line)
	return err
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func newTable(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
}

func printPorts(out io.Writer, order []string, ports map[string]int) {
	w := newTable(out)
	fmt.Fprintln(w, "SERVICE\tPORT")
	for _, svc := range order {
		if p, ok := ports[svc]; ok {
			fmt.Fprintf(w, "%s\t%d\n", svc, p)
		}
	}
	w.Flush()
}

// memory renders usage against limit the way `docker stats` does.
func memory(usage, limit uint64) string {
	return fmt.Sprintf("%s / %s", units.BytesSize(float64(usage)), units.BytesSize(float64(limit)))
}

func ioPair(in, out uint64) string {
	return fmt.Sprintf("%s / %s", units.HumanSize(float64(in)), units.HumanSize(float64(out)))
}

func check(ok bool) string {
	if ok {
		return "✅"
	}
	return "❌"
}
