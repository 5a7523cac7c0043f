// Package logger builds the structured logger shared by the server and the CLI.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"ragchat/internal/config"
)

// New creates a logger writing to stderr and, when cfg.File is set, appending to that file.
// The returned closer releases the file and is never nil.
func New(cfg config.LogConfig) (*log.Logger, io.Closer, error) {
	return build(cfg, os.Stderr)
}

// NewFileOnly is New without the stderr copy, for full-screen terminal programs.
// Without cfg.File everything is dropped.
func NewFileOnly(cfg config.LogConfig) (*log.Logger, io.Closer, error) {
	return build(cfg, nil)
}

func build(cfg config.LogConfig, console io.Writer) (*log.Logger, io.Closer, error) {
	var writers []io.Writer
	if console != nil {
		writers = append(writers, console)
	}
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, f)
		closer = f
	}
	var out io.Writer = io.Discard
	if len(writers) > 0 {
		out = io.MultiWriter(writers...)
	}

	l := log.NewWithOptions(out, log.Options{
		ReportTimestamp: true,
		TimeFormat:      timeFormat(cfg.TimeFormat),
		Level:           ParseLevel(cfg.Level),
	})
	return l, closer, nil
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *log.Logger {
	return log.New(io.Discard)
}

// ParseLevel converts a level name to a log level, defaulting to info.
func ParseLevel(level string) log.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	case "fatal":
		return log.FatalLevel
	default:
		return log.InfoLevel
	}
}

func timeFormat(f string) string {
	if f == "" {
		return time.DateTime
	}
	return f
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
