// Package logging builds the process-wide slog logger: human-readable
// lines on the console and JSON lines appended to a log file that sits
// next to the executable unless configured otherwise.
package logging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/loqalabs/loqa-narrator/internal/config"
)

// DefaultFileName is used when telemetry.log_file is empty.
const DefaultFileName = "narrator.log"

// New returns a logger writing to console and to the configured log
// file. The returned closer releases the file; it is never nil. A log
// file that cannot be opened only costs the file output.
func New(cfg config.TelemetryConfig, console io.Writer) (*slog.Logger, io.Closer) {
	level := ParseLevel(cfg.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	handlers := []slog.Handler{slog.NewTextHandler(console, opts)}

	var closer io.Closer = nopCloser{}
	path := ResolvePath(cfg.LogFile)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err == nil {
		handlers = append(handlers, slog.NewJSONHandler(bestEffort{w: file}, opts))
		closer = file
	}

	logger := slog.New(fanout(handlers))
	if err != nil {
		logger.Warn("log file unavailable", slog.String("path", path), slog.String("error", err.Error()))
	}
	return logger, closer
}

// ResolvePath returns configured when set, otherwise DefaultFileName in
// the executable's directory.
func ResolvePath(configured string) string {
	if configured != "" {
		return configured
	}
	exe, err := os.Executable()
	if err != nil {
		return DefaultFileName
	}
	return filepath.Join(filepath.Dir(exe), DefaultFileName)
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Discard returns a logger that drops everything; handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// bestEffort swallows write errors so a full disk or a revoked file
// handle never surfaces into the pipeline.
type bestEffort struct {
	w io.Writer
}

func (b bestEffort) Write(p []byte) (int, error) {
	_, _ = b.w.Write(p)
	return len(p), nil
}

type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
