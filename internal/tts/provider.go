package tts

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/loqalabs/loqa-narrator/internal/config"
)

// New builds the provider selected by cfg.Mode. The returned closer
// releases backend connections and is never nil.
func New(cfg config.ModelConfig, log *slog.Logger) (ModelProvider, io.Closer, error) {
	switch cfg.Mode {
	case "", "mock":
		log.Info("using mock speech model")
		return NewMockProvider(), nopCloser{}, nil
	case "exec":
		var cache *ModelCache
		if cfg.URL != "" {
			cache = NewModelCache(cfg.URL, cfg.CacheDir, cfg.FileName, log)
		}
		p, err := NewExecProvider(cfg.Command, cache)
		if err != nil {
			return nil, nil, err
		}
		log.Info("using exec speech model", slog.String("command", cfg.Command))
		return p, nopCloser{}, nil
	case "yandex":
		p, err := NewYandexProvider(cfg.Yandex, log)
		if err != nil {
			return nil, nil, err
		}
		log.Info("using speechkit speech model", slog.String("endpoint", cfg.Yandex.Endpoint))
		return p, p, nil
	default:
		return nil, nil, fmt.Errorf("unsupported model mode %q", cfg.Mode)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
