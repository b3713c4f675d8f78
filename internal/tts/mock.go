package tts

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"unicode/utf8"
)

const (
	mockPerRune   = 0.06 // seconds of audio per rune
	mockMinLength = 0.25
)

type mockProvider struct{}

// NewMockProvider returns a provider that renders a short sine tone per
// request. The tone length follows the text length and its pitch follows
// the voice, so output is deterministic.
func NewMockProvider() ModelProvider {
	return &mockProvider{}
}

func (m *mockProvider) EnsureAvailable(context.Context, Progress) error { return nil }

func (m *mockProvider) Synthesize(ctx context.Context, text, voice string, sampleRate int) (Waveform, error) {
	if err := ctx.Err(); err != nil {
		return Waveform{}, err
	}
	if strings.TrimSpace(text) == "" {
		return Waveform{}, errors.New("mock synth: empty text")
	}
	if sampleRate <= 0 {
		return Waveform{}, errors.New("mock synth: sample rate must be positive")
	}
	seconds := math.Max(mockMinLength, float64(utf8.RuneCountInString(text))*mockPerRune)
	n := int(seconds * float64(sampleRate))

	h := fnv.New32a()
	_, _ = h.Write([]byte(voice))
	freq := 180 + float64(h.Sum32()%160)

	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(0.2 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return Waveform{Samples: samples, SampleRate: sampleRate}, nil
}
