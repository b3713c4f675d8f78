package tts

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// ModelCache keeps a downloaded model artifact on local disk. The file is
// fetched once into a temporary name and renamed into place, so a partial
// download never looks complete.
type ModelCache struct {
	URL      string
	Dir      string
	FileName string
	Client   *http.Client
	logger   *slog.Logger
}

func NewModelCache(url, dir, fileName string, log *slog.Logger) *ModelCache {
	if fileName == "" {
		fileName = filepath.Base(url)
	}
	return &ModelCache{
		URL:      url,
		Dir:      dir,
		FileName: fileName,
		Client:   http.DefaultClient,
		logger:   log.With(slog.String("component", "model-cache")),
	}
}

// Path is where the artifact lives once available.
func (c *ModelCache) Path() string {
	return filepath.Join(expandHome(c.Dir), c.FileName)
}

func (c *ModelCache) EnsureAvailable(ctx context.Context, progress Progress) error {
	dest := c.Path()
	if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
		return nil
	}
	if c.URL == "" {
		return fmt.Errorf("model %s missing and no download url configured", dest)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create model cache dir: %w", err)
	}

	c.logger.Info("downloading model", slog.String("url", c.URL), slog.String("path", dest))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("download model: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download model: unexpected status %s", resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+c.FileName+".*.partial")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := &progressWriter{total: resp.ContentLength, report: progress}
	if _, err := io.Copy(io.MultiWriter(tmp, w), resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("download model: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("install model: %w", err)
	}
	c.logger.Info("model ready", slog.String("path", dest), slog.Int64("bytes", w.done))
	return nil
}

type progressWriter struct {
	done   int64
	total  int64
	report Progress
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.done += int64(len(b))
	if p.report != nil {
		p.report(p.done, p.total)
	}
	return len(b), nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
