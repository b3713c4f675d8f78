package tts

import (
	"context"
	"time"
)

// Waveform is mono audio as float samples in [-1, 1].
type Waveform struct {
	Samples    []float32
	SampleRate int
}

// Duration is the playback length of the waveform.
func (w Waveform) Duration() time.Duration {
	if w.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(w.Samples)) * time.Second / time.Duration(w.SampleRate)
}

// Progress receives byte counts while a model artifact downloads. total
// is -1 when the size is unknown.
type Progress func(done, total int64)

// ModelProvider is the contract for speech model backends.
type ModelProvider interface {
	// EnsureAvailable prepares the model, downloading it on first use.
	// Calling it again after success is cheap.
	EnsureAvailable(ctx context.Context, progress Progress) error
	// Synthesize renders text with the given voice at sampleRate.
	Synthesize(ctx context.Context, text, voice string, sampleRate int) (Waveform, error)
}
