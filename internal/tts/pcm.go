package tts

import (
	"encoding/binary"
	"fmt"
)

// FromPCM16 converts little-endian signed 16-bit mono PCM to samples.
func FromPCM16(pcm []byte) ([]float32, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("pcm payload not aligned")
	}
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
	}
	return out, nil
}

// FromInts scales integer samples of the given bit depth to [-1, 1] and
// averages interleaved channels down to mono.
func FromInts(data []int, bitDepth, channels int) []float32 {
	if channels <= 0 {
		channels = 1
	}
	scale := float32(int64(1) << (bitDepth - 1))
	frames := len(data) / channels
	out := make([]float32, frames)
	for f := 0; f < frames; f++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += float32(data[f*channels+c]) / scale
		}
		out[f] = sum / float32(channels)
	}
	return out
}

// Resample converts samples between rates with linear interpolation.
func Resample(samples []float32, from, to int) []float32 {
	if from == to || from <= 0 || to <= 0 || len(samples) == 0 {
		return samples
	}
	n := int(int64(len(samples)) * int64(to) / int64(from))
	out := make([]float32, n)
	step := float64(from) / float64(to)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = samples[j] + (samples[j+1]-samples[j])*frac
	}
	return out
}
