package synth

import (
	"fmt"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/loqalabs/loqa-narrator/internal/tts"
)

// WriteWav stores the waveform as 16-bit mono PCM. Samples outside
// [-1, 1] are clipped.
func WriteWav(path string, wave tts.Waveform) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create clip: %w", err)
	}
	defer file.Close()

	data := make([]int, len(wave.Samples))
	for i, s := range wave.Samples {
		v := math.Round(float64(s) * math.MaxInt16)
		data[i] = int(math.Max(math.MinInt16, math.Min(math.MaxInt16, v)))
	}
	buffer := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: wave.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	enc := wav.NewEncoder(file, wave.SampleRate, 16, 1, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return file.Close()
}
