// Package logging builds the process logger. Lines go to the log file under
// the configured log directory and, optionally, to stderr.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Options controls where log lines go.
type Options struct {
	// Path is the log file. Empty disables file output.
	Path   string
	Stderr bool
	Debug  bool
	Prefix string
}

// Logger wraps a charm logger with the file it writes to.
type Logger struct {
	*log.Logger
	file *os.File
}

// New creates (or appends to) the log file and returns a logger writing to
// it.
func New(opts Options) (*Logger, error) {
	var writers []io.Writer
	var file *os.File
	if path := strings.TrimSpace(opts.Path); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("logging: ensure log dir: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("logging: open log file: %w", err)
		}
		file = f
		writers = append(writers, f)
	}
	if opts.Stderr {
		writers = append(writers, os.Stderr)
	}
	var out io.Writer = io.Discard
	switch len(writers) {
	case 0:
	case 1:
		out = writers[0]
	default:
		out = io.MultiWriter(writers...)
	}
	level := log.InfoLevel
	if opts.Debug {
		level = log.DebugLevel
	}
	logger := log.NewWithOptions(out, log.Options{
		Prefix:          opts.Prefix,
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	})
	return &Logger{Logger: logger, file: file}, nil
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{Logger: log.New(io.Discard)}
}

// Component returns a child logger tagged with name.
func (l *Logger) Component(name string) *log.Logger {
	if l == nil || l.Logger == nil {
		return log.New(io.Discard)
	}
	return l.Logger.WithPrefix(name)
}

// Close releases the file handle.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Printf writes a single informational line.
func (l *Logger) Printf(format string, args ...any) {
	if l == nil || l.Logger == nil {
		return
	}
	l.Logger.Info(strings.TrimRight(fmt.Sprintf(format, args...), "\n"))
}
