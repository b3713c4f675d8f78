// Package assembly joins synthesized clips into one encoded artifact.
package assembly

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loqalabs/loqa-narrator/internal/transcode"
)

const manifestName = "concat.txt"

// AssemblyError reports a failed join. No artifact exists at Destination
// when it is returned.
type AssemblyError struct {
	Destination string
	Err         error
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("assemble %s: %v", e.Destination, e.Err)
}

func (e *AssemblyError) Unwrap() error { return e.Err }

// Result describes the produced artifact.
type Result struct {
	Path     string
	Duration time.Duration
}

type Stage struct {
	transcoder transcode.Transcoder
	encoding   transcode.Encoding
	logger     *slog.Logger
}

func NewStage(t transcode.Transcoder, enc transcode.Encoding, log *slog.Logger) *Stage {
	return &Stage{
		transcoder: t,
		encoding:   enc,
		logger:     log.With(slog.String("component", "assembly")),
	}
}

// Assemble concatenates clips, in the given order, into destination. The
// transcoder writes a hidden sibling file that is renamed over
// destination only on success, so a failure leaves nothing behind.
func (s *Stage) Assemble(ctx context.Context, clips []string, destination, scratchDir string) (Result, error) {
	if len(clips) == 0 {
		return Result{}, &AssemblyError{Destination: destination, Err: errors.New("no clips to assemble")}
	}
	manifest := filepath.Join(scratchDir, manifestName)
	if err := WriteManifest(manifest, clips); err != nil {
		return Result{}, &AssemblyError{Destination: destination, Err: err}
	}
	defer os.Remove(manifest)

	partial := PartialPath(destination)
	defer os.Remove(partial)

	s.logger.Info("assembling artifact", slog.Int("clips", len(clips)), slog.String("destination", destination))
	if err := s.transcoder.Concatenate(ctx, manifest, partial, s.encoding); err != nil {
		return Result{}, &AssemblyError{Destination: destination, Err: err}
	}
	if info, err := os.Stat(partial); err != nil || info.Size() == 0 {
		return Result{}, &AssemblyError{Destination: destination, Err: errors.New("transcoder produced no output")}
	}
	if err := os.Rename(partial, destination); err != nil {
		return Result{}, &AssemblyError{Destination: destination, Err: err}
	}

	duration, err := s.transcoder.ProbeDuration(ctx, destination)
	if err != nil {
		s.logger.Warn("could not determine artifact duration", slog.String("path", destination), slog.String("error", err.Error()))
	}
	s.logger.Info("artifact ready",
		slog.String("path", destination),
		slog.String("duration", FormatDuration(duration)),
	)
	return Result{Path: destination, Duration: duration}, nil
}

// PartialPath is the hidden in-progress name used for destination.
func PartialPath(destination string) string {
	dir, name := filepath.Split(destination)
	return filepath.Join(dir, "."+name+".partial")
}

// WriteManifest writes one concat demuxer entry per clip using absolute
// paths.
func WriteManifest(path string, clips []string) error {
	var b strings.Builder
	for _, clip := range clips {
		abs, err := filepath.Abs(clip)
		if err != nil {
			return err
		}
		b.WriteString("file '")
		b.WriteString(QuotePath(abs))
		b.WriteString("'\n")
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// QuotePath escapes single quotes for a single-quoted concat entry.
func QuotePath(p string) string {
	return strings.ReplaceAll(p, "'", `'\''`)
}

// FormatDuration renders d as MM:SS, or HH:MM:SS past an hour.
func FormatDuration(d time.Duration) string {
	secs := int(d.Round(time.Second) / time.Second)
	h, m, s := secs/3600, secs/60%60, secs%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
