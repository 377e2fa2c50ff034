// Package logging builds the process root logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

// Options configures New.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // text or json (terminal handler only)
	// File, when set, also receives JSON records.
	File string
	// Writer is the terminal destination; defaults to os.Stderr.
	Writer io.Writer
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// New returns a logger that writes to the terminal and, if configured, to a
// JSON log file. The returned close function releases the file.
func New(opts Options) (*slog.Logger, func() error, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	hopts := &slog.HandlerOptions{Level: level}

	var terminal slog.Handler
	switch strings.ToLower(opts.Format) {
	case "", "text":
		terminal = slog.NewTextHandler(w, hopts)
	case "json":
		terminal = slog.NewJSONHandler(w, hopts)
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", opts.Format)
	}
	handlers := []slog.Handler{terminal}
	closeFn := func() error { return nil }

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		handlers = append(handlers, slog.NewJSONHandler(f, hopts))
		closeFn = f.Close
	}
	if len(handlers) == 1 {
		return slog.New(terminal), closeFn, nil
	}
	return slog.New(slogmulti.Fanout(handlers...)), closeFn, nil
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
