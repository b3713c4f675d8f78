package tts

import (
	"context"
	"sync"
	"sync/atomic"
)

// Lazy shares one provider across runs and prepares it on first use.
// A failed preparation is retried by the next caller; after success the
// provider is only read.
type Lazy struct {
	inner ModelProvider
	mu    sync.Mutex
	ready atomic.Bool
}

func NewLazy(inner ModelProvider) *Lazy {
	return &Lazy{inner: inner}
}

func (l *Lazy) EnsureAvailable(ctx context.Context, progress Progress) error {
	if l.ready.Load() {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ready.Load() {
		return nil
	}
	if err := l.inner.EnsureAvailable(ctx, progress); err != nil {
		return err
	}
	l.ready.Store(true)
	return nil
}

func (l *Lazy) Synthesize(ctx context.Context, text, voice string, sampleRate int) (Waveform, error) {
	if err := l.EnsureAvailable(ctx, nil); err != nil {
		return Waveform{}, err
	}
	return l.inner.Synthesize(ctx, text, voice, sampleRate)
}

// Ready reports whether preparation has succeeded.
func (l *Lazy) Ready() bool { return l.ready.Load() }
