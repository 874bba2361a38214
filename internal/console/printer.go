// Package console owns terminal output for the CLI. Multi-line reports are
// written as one uninterrupted block; single lines printed meanwhile wait in
// a bounded backlog and follow the block.
package console

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

// DefaultBacklog is the number of lines held while a report is being written.
const DefaultBacklog = 256

// Printer serializes writes to one output stream.
type Printer struct {
	out      io.Writer
	colorize bool

	reportMu sync.Mutex
	writeMu  sync.Mutex

	mu        sync.Mutex
	reporting bool
	backlog   []string
	limit     int
	dropped   int
}

// New returns a printer writing to out. A non-positive backlog uses
// DefaultBacklog.
func New(out io.Writer, backlog int) *Printer {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	return &Printer{out: out, colorize: shouldColorize(out), limit: backlog}
}

// Colorize reports whether output is a terminal.
func (p *Printer) Colorize() bool { return p.colorize }

// Printf writes one line. While a report is in progress the line is queued;
// when the queue is full the oldest queued line is dropped.
func (p *Printer) Printf(format string, args ...any) {
	line := strings.TrimRight(fmt.Sprintf(format, args...), "\n")

	p.mu.Lock()
	if p.reporting {
		if len(p.backlog) >= p.limit {
			p.backlog = p.backlog[1:]
			p.dropped++
		}
		p.backlog = append(p.backlog, line)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.writeLines([]string{line})
}

// Report writes lines as one contiguous block.
func (p *Printer) Report(lines []string) {
	p.reportMu.Lock()
	defer p.reportMu.Unlock()

	p.mu.Lock()
	p.reporting = true
	p.mu.Unlock()

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.writeLines(lines)

	p.mu.Lock()
	p.reporting = false
	pending := p.backlog
	p.backlog = nil
	p.mu.Unlock()

	p.writeLines(pending)
}

// Dropped returns how many queued lines were discarded.
func (p *Printer) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

func (p *Printer) writeLines(lines []string) {
	if len(lines) == 0 {
		return
	}
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	_, _ = io.WriteString(p.out, b.String())
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
