// Package logging builds the charmbracelet/log loggers used across
// stackview. Level, prefix and destination come from the environment.
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

const (
	EnvLevel  = "STACKVIEW_LOG_LEVEL"
	EnvPrefix = "STACKVIEW_LOG_PREFIX"
	EnvToFile = "STACKVIEW_LOG_TO_FILE"
)

// LoggerCloser wraps a logger and provides a Close method for cleanup
type LoggerCloser struct {
	*log.Logger
	closer io.Closer
}

// Close closes the underlying writer if it's closeable
func (lc *LoggerCloser) Close() error {
	if lc.closer != nil {
		return lc.closer.Close()
	}
	return nil
}

// ParseLevel maps debug, warn and error to their levels; anything else is
// info.
func ParseLevel(s string) log.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return log.DebugLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// NewLoggerWithWriter creates a new logger with the provided writer
func NewLoggerWithWriter(w io.Writer) *LoggerCloser {
	lg := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
		Level:           ParseLevel(os.Getenv(EnvLevel)),
	})

	prefix := os.Getenv(EnvPrefix)
	if prefix == "" {
		prefix = "stackview "
	}

	var closer io.Closer
	if c, ok := w.(io.Closer); ok && w != os.Stderr {
		closer = c
	}

	return &LoggerCloser{
		Logger: lg.WithPrefix(prefix),
		closer: closer,
	}
}

// NewLogger creates a logger writing to stderr, or to a timestamped file in
// dir when STACKVIEW_LOG_TO_FILE=1.
func NewLogger(dir string) *LoggerCloser {
	output := io.Writer(os.Stderr)
	if os.Getenv(EnvToFile) == "1" {
		if f, err := openLogFile(dir); err == nil {
			output = f
		}
	}
	return NewLoggerWithWriter(output)
}

// NewTUILogger creates a logger that never writes to the terminal: the TUI
// owns it. Without STACKVIEW_LOG_TO_FILE=1 everything is discarded.
func NewTUILogger(dir string) *LoggerCloser {
	if os.Getenv(EnvToFile) == "1" {
		if f, err := openLogFile(dir); err == nil {
			return NewLoggerWithWriter(f)
		}
	}
	return NewLoggerWithWriter(io.Discard)
}

func openLogFile(dir string) (*os.File, error) {
	timestamp := time.Now().Format("20060102-150405")
	name := fmt.Sprintf("stackview-%s-debug.log", timestamp)
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		name = filepath.Join(dir, name)
	}
	return os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
}

// IsDebug returns true if debug logging is enabled
func IsDebug() bool {
	return ParseLevel(os.Getenv(EnvLevel)) == log.DebugLevel
}
