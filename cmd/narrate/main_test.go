package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const fakeFFmpeg = `#!/bin/sh
if [ "$1" = "-version" ]; then
  echo "ffmpeg version 6.1"
  exit 0
fi
for a; do last=$a; done
while IFS= read -r line; do echo "$line"; done < "$9" > "$last"
`

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	script := filepath.Join(dir, "ffmpeg")
	if err := os.WriteFile(script, []byte(fakeFFmpeg), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("NARRATOR_TRANSCODER_PATH", script)
	t.Setenv("NARRATOR_EVENT_STORE_PATH", filepath.Join(dir, "runs.db"))
	t.Setenv("NARRATOR_TELEMETRY_LOG_FILE", filepath.Join(dir, "narrator.log"))
	t.Setenv("NARRATOR_TELEMETRY_LOG_LEVEL", "error")
	t.Setenv("NARRATOR_MODEL_MODE", "mock")
	return dir
}

func TestUsageErrors(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run(nil, strings.NewReader(""), &stdout, &stderr); code != exitUsage {
		t.Fatalf("expected usage exit without document, got %d", code)
	}
	if code := run([]string{"-workers", "-1", "a.txt"}, strings.NewReader(""), &stdout, &stderr); code != exitUsage {
		t.Fatalf("expected usage exit for negative workers, got %d", code)
	}
	if code := run([]string{"-bogus"}, strings.NewReader(""), &stdout, &stderr); code != exitUsage {
		t.Fatalf("expected usage exit for unknown flag, got %d", code)
	}
}

func TestListVoices(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"-list-voices"}, strings.NewReader(""), &stdout, &stderr); code != exitOK {
		t.Fatalf("unexpected exit %d: %s", code, stderr.String())
	}
	out := stdout.String()
	for _, id := range []string{"aidar", "baya", "eugene", "kseniya", "xenia"} {
		if !strings.Contains(out, id) {
			t.Fatalf("voice %s missing from %q", id, out)
		}
	}
	if !strings.Contains(out, "* xenia") {
		t.Fatalf("default voice not marked in %q", out)
	}
}

func TestNarrateAndHistory(t *testing.T) {
	dir := setupEnv(t)
	doc := filepath.Join(dir, "book.txt")
	if err := os.WriteFile(doc, []byte("Привет. Как дела?"), 0o644); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	code := run([]string{"-voice", "xenia", doc}, strings.NewReader(""), &stdout, &stderr)
	if code != exitOK {
		t.Fatalf("expected success, got %d: %s", code, stderr.String())
	}
	artifact := strings.TrimSpace(stdout.String())
	if filepath.Dir(artifact) != dir || !strings.HasPrefix(filepath.Base(artifact), "book_xenia_") || filepath.Ext(artifact) != ".mp3" {
		t.Fatalf("unexpected artifact path %q", artifact)
	}
	if _, err := os.Stat(artifact); err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
	if !strings.Contains(stderr.String(), "100%") {
		t.Fatalf("expected progress to reach 100%%, got %q", stderr.String())
	}

	stdout.Reset()
	stderr.Reset()
	if code := run([]string{"history", "-n", "5"}, strings.NewReader(""), &stdout, &stderr); code != exitOK {
		t.Fatalf("history failed with %d: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "book.txt") || !strings.Contains(stdout.String(), "done") {
		t.Fatalf("run missing from history: %q", stdout.String())
	}
}

func TestNarrateMissingTranscoder(t *testing.T) {
	dir := setupEnv(t)
	t.Setenv("NARRATOR_TRANSCODER_PATH", filepath.Join(dir, "absent"))
	t.Setenv("NARRATOR_TRANSCODER_SEARCH_DIRS", filepath.Join(dir, "empty"))
	t.Setenv("PATH", filepath.Join(dir, "empty"))
	doc := filepath.Join(dir, "book.txt")
	if err := os.WriteFile(doc, []byte("Привет."), 0o644); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	if code := run([]string{doc}, strings.NewReader(""), &stdout, &stderr); code != exitError {
		t.Fatalf("expected error exit, got %d", code)
	}
	if !strings.Contains(stderr.String(), "ffmpeg.org") {
		t.Fatalf("expected remediation text, got %q", stderr.String())
	}
}

func TestNarrateUnknownVoice(t *testing.T) {
	dir := setupEnv(t)
	doc := filepath.Join(dir, "book.txt")
	if err := os.WriteFile(doc, []byte("Привет."), 0o644); err != nil {
		t.Fatal(err)
	}
	var stdout, stderr bytes.Buffer
	if code := run([]string{"-voice", "robot", doc}, strings.NewReader(""), &stdout, &stderr); code != exitError {
		t.Fatalf("expected error exit, got %d", code)
	}
	if !strings.Contains(stderr.String(), "robot") {
		t.Fatalf("expected voice in error, got %q", stderr.String())
	}
}

func TestProgressBarThinsWithoutTerminal(t *testing.T) {
	var buf bytes.Buffer
	bar := newProgressBar(&buf, false)
	for p := 0; p <= 100; p++ {
		bar.Update("narrating", p, "")
	}
	bar.Done()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 11 {
		t.Fatalf("expected 11 lines, got %d:\n%s", len(lines), buf.String())
	}
	if !strings.HasSuffix(lines[10], "100%") {
		t.Fatalf("unexpected last line %q", lines[10])
	}
}

func TestRenderBar(t *testing.T) {
	got := renderBar("narrating", 50, "1/2")
	want := "narrating  [###############...............]  50% 1/2"
	if got != want {
		t.Fatalf("renderBar = %q, want %q", got, want)
	}
}
