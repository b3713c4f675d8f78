package transcode

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-narrator/internal/config"
	"github.com/loqalabs/loqa-narrator/internal/logging"
)

const fakeFFmpeg = `#!/bin/sh
if [ "$1" = "-version" ]; then
  echo "ffmpeg version 6.1"
  exit 0
fi
if [ "$2" = "-i" ]; then
  echo "  Duration: 00:01:02.50, start: 0.000000, bitrate: 192 kb/s" >&2
  exit 0
fi
for a; do last=$a; done
while IFS= read -r line; do echo "$line"; done < "$9" > "$last"
`

func writeScript(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "ffmpeg")
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func testConfig(dirs ...string) config.TranscoderConfig {
	cfg := config.Default().Transcoder
	cfg.SearchDirs = dirs
	cfg.VersionTimeoutMS = 2000
	return cfg
}

func TestParseDuration(t *testing.T) {
	out := "Input #0, mp3, from 'x.mp3':\n  Duration: 01:02:03.25, start: 0.025057, bitrate: 192 kb/s\n"
	d, err := ParseDuration(out)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := time.Hour + 2*time.Minute + 3*time.Second + 250*time.Millisecond
	if d != want {
		t.Fatalf("got %v, want %v", d, want)
	}
	if _, err := ParseDuration("no timing here"); err == nil {
		t.Fatal("expected error without duration line")
	}
}

func TestLocateSearchDirs(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	dir := t.TempDir()
	want := writeScript(t, dir, fakeFFmpeg)

	ff := NewFFmpeg(testConfig(filepath.Join(t.TempDir(), "missing"), dir), logging.Discard())
	got, err := ff.Locate(context.Background())
	if err != nil {
		t.Fatalf("locate: %v", err)
	}
	if got != want {
		t.Fatalf("located %q, want %q", got, want)
	}
}

func TestLocateConfiguredPathWins(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	configured := writeScript(t, t.TempDir(), fakeFFmpeg)
	other := t.TempDir()
	writeScript(t, other, fakeFFmpeg)

	cfg := testConfig(other)
	cfg.Path = configured
	got, err := NewFFmpeg(cfg, logging.Discard()).Locate(context.Background())
	if err != nil || got != configured {
		t.Fatalf("expected configured path, got %q (%v)", got, err)
	}
}

func TestLocateNotFound(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	_, err := NewFFmpeg(testConfig(t.TempDir()), logging.Discard()).Locate(context.Background())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLocateNotFunctional(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	dir := t.TempDir()
	writeScript(t, dir, "#!/bin/sh\nexit 1\n")
	_, err := NewFFmpeg(testConfig(dir), logging.Discard()).Locate(context.Background())
	if !errors.Is(err, ErrNotFunctional) {
		t.Fatalf("expected ErrNotFunctional, got %v", err)
	}
}

func TestConcatenateAndProbe(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	dir := t.TempDir()
	writeScript(t, dir, fakeFFmpeg)
	ff := NewFFmpeg(testConfig(dir), logging.Discard())

	work := t.TempDir()
	manifest := filepath.Join(work, "list.txt")
	if err := os.WriteFile(manifest, []byte("file '/tmp/a.wav'\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	dest := filepath.Join(work, "out.m4a")
	enc := Encoding{Codec: "aac", Bitrate: "128k", Container: "ipod"}
	if err := ff.Concatenate(context.Background(), manifest, dest, enc); err != nil {
		t.Fatalf("concatenate: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil || !strings.Contains(string(data), "a.wav") {
		t.Fatalf("unexpected output %q (%v)", data, err)
	}

	d, err := ff.ProbeDuration(context.Background(), dest)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if d != 62*time.Second+500*time.Millisecond {
		t.Fatalf("unexpected duration %v", d)
	}
}

func TestConcatenateReportsStderr(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	dir := t.TempDir()
	writeScript(t, dir, "#!/bin/sh\n[ \"$1\" = \"-version\" ] && exit 0\necho 'Invalid data found' >&2\nexit 1\n")
	ff := NewFFmpeg(testConfig(dir), logging.Discard())
	err := ff.Concatenate(context.Background(), "list.txt", filepath.Join(t.TempDir(), "out.mp3"), Encoding{"libmp3lame", "192k", "mp3"})
	if err == nil || !strings.Contains(err.Error(), "Invalid data found") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}

func TestMP3DurationRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.mp3")
	if err := os.WriteFile(path, []byte("not an mp3"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := MP3Duration(path); err == nil {
		t.Fatal("expected error for invalid mp3")
	}
}
