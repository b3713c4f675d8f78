package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-narrator/internal/config"
)

func TestNewWritesConsoleAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "narrator.log")
	var console bytes.Buffer
	logger, closer := New(config.TelemetryConfig{LogLevel: "info", LogFile: path}, &console)
	logger.With(slog.String("component", "test")).Info("run started", slog.String("run_id", "r1"))
	logger.Debug("hidden")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if !strings.Contains(console.String(), "run started") {
		t.Fatalf("console missing line: %q", console.String())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"run_id":"r1"`) || !strings.Contains(string(data), `"component":"test"`) {
		t.Fatalf("file missing attributes: %s", data)
	}
	if strings.Contains(string(data), "hidden") {
		t.Fatal("debug line written at info level")
	}
}

func TestNewAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "narrator.log")
	if err := os.WriteFile(path, []byte("previous\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	logger, closer := New(config.TelemetryConfig{LogFile: path}, &bytes.Buffer{})
	logger.Info("next")
	closer.Close()

	data, _ := os.ReadFile(path)
	if !strings.HasPrefix(string(data), "previous\n") {
		t.Fatalf("log file truncated: %q", data)
	}
}

func TestNewSurvivesUnwritableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing-dir", "narrator.log")
	var console bytes.Buffer
	logger, closer := New(config.TelemetryConfig{LogFile: path}, &console)
	defer closer.Close()
	logger.Info("still logging")
	if !strings.Contains(console.String(), "log file unavailable") {
		t.Fatalf("expected warning on console, got %q", console.String())
	}
	if !strings.Contains(console.String(), "still logging") {
		t.Fatal("console output lost")
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestBestEffortSwallowsErrors(t *testing.T) {
	n, err := bestEffort{w: failingWriter{}}.Write([]byte("abc"))
	if err != nil || n != 3 {
		t.Fatalf("expected swallowed error, got n=%d err=%v", n, err)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("DEBUG") != slog.LevelDebug || ParseLevel("warning") != slog.LevelWarn || ParseLevel("") != slog.LevelInfo {
		t.Fatal("unexpected level mapping")
	}
}

func TestResolvePath(t *testing.T) {
	if got := ResolvePath("/tmp/x.log"); got != "/tmp/x.log" {
		t.Fatalf("configured path ignored: %s", got)
	}
	if got := ResolvePath(""); filepath.Base(got) != DefaultFileName {
		t.Fatalf("unexpected default path %s", got)
	}
}
