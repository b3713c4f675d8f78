package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hajimehoshi/go-mp3"

	"github.com/loqalabs/loqa-narrator/internal/config"
)

var durationLine = regexp.MustCompile(`Duration:\s*(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)

// FFmpeg drives an ffmpeg binary. The resolved path is cached after the
// first successful Locate.
type FFmpeg struct {
	cfg    config.TranscoderConfig
	logger *slog.Logger

	mu   sync.Mutex
	path string
}

func NewFFmpeg(cfg config.TranscoderConfig, log *slog.Logger) *FFmpeg {
	return &FFmpeg{cfg: cfg, logger: log.With(slog.String("component", "ffmpeg"))}
}

// Candidates lists the paths Locate tries, in order: the configured path,
// the PATH lookup, then each search directory.
func (f *FFmpeg) Candidates() []string {
	var out []string
	if f.cfg.Path != "" {
		out = append(out, expandHome(f.cfg.Path))
	}
	if p, err := exec.LookPath("ffmpeg"); err == nil {
		out = append(out, p)
	}
	for _, dir := range f.cfg.SearchDirs {
		out = append(out, filepath.Join(expandHome(dir), binaryName()))
	}
	return out
}

func (f *FFmpeg) Locate(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.path != "" {
		return f.path, nil
	}

	var broken string
	for _, candidate := range f.Candidates() {
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		if err := f.checkVersion(ctx, candidate); err != nil {
			f.logger.Warn("transcoder failed version check", slog.String("path", candidate), slogError(err))
			if broken == "" {
				broken = candidate
			}
			continue
		}
		f.logger.Info("transcoder located", slog.String("path", candidate))
		f.path = candidate
		return candidate, nil
	}
	if broken != "" {
		return "", fmt.Errorf("%w: %s", ErrNotFunctional, broken)
	}
	return "", ErrNotFound
}

func (f *FFmpeg) checkVersion(ctx context.Context, path string) error {
	timeout := time.Duration(f.cfg.VersionTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return exec.CommandContext(ctx, path, "-version").Run()
}

func (f *FFmpeg) Concatenate(ctx context.Context, manifest, destination string, enc Encoding) error {
	bin, err := f.Locate(ctx)
	if err != nil {
		return err
	}
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "concat", "-safe", "0", "-i", manifest,
		"-c:a", enc.Codec, "-b:a", enc.Bitrate,
		"-f", enc.Container,
		"-y", destination,
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	started := time.Now()
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("ffmpeg concat: %w: %s", err, msg)
		}
		return fmt.Errorf("ffmpeg concat: %w", err)
	}
	f.logger.Debug("concatenation finished", slog.String("destination", destination), slog.Duration("elapsed", time.Since(started)))
	return nil
}

// ProbeDuration decodes MP3 files natively and asks ffmpeg for anything
// else.
func (f *FFmpeg) ProbeDuration(ctx context.Context, path string) (time.Duration, error) {
	if strings.EqualFold(filepath.Ext(path), ".mp3") {
		d, err := MP3Duration(path)
		if err == nil {
			return d, nil
		}
		f.logger.Debug("native mp3 probe failed", slog.String("path", path), slogError(err))
	}
	bin, err := f.Locate(ctx)
	if err != nil {
		return 0, err
	}
	cmd := exec.CommandContext(ctx, bin, "-hide_banner", "-i", path, "-f", "null", "-")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffmpeg probe: %w", err)
	}
	return ParseDuration(stderr.String())
}

// MP3Duration decodes the stream header and frame index of an MP3 file.
func MP3Duration(path string) (time.Duration, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()
	dec, err := mp3.NewDecoder(file)
	if err != nil {
		return 0, fmt.Errorf("decode mp3: %w", err)
	}
	length := dec.Length()
	if length <= 0 || dec.SampleRate() <= 0 {
		return 0, errors.New("mp3 length unknown")
	}
	// go-mp3 always yields 16-bit stereo: four bytes per frame.
	frames := length / 4
	return time.Duration(frames) * time.Second / time.Duration(dec.SampleRate()), nil
}

// ParseDuration extracts the first "Duration: HH:MM:SS.ss" from ffmpeg
// diagnostics.
func ParseDuration(output string) (time.Duration, error) {
	m := durationLine.FindStringSubmatch(output)
	if m == nil {
		return 0, errors.New("duration not reported")
	}
	h, _ := strconv.Atoi(m[1])
	mins, _ := strconv.Atoi(m[2])
	sec, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return 0, err
	}
	total := time.Duration(h)*time.Hour + time.Duration(mins)*time.Minute
	return total + time.Duration(sec*float64(time.Second)), nil
}

func binaryName() string {
	if runtime.GOOS == "windows" {
		return "ffmpeg.exe"
	}
	return "ffmpeg"
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
