// Package synth renders text units into per-unit WAV clips.
package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/loqalabs/loqa-narrator/internal/text"
	"github.com/loqalabs/loqa-narrator/internal/tts"
)

// ErrCancelled is returned by a checkpoint to stop dispatching units.
var ErrCancelled = errors.New("synthesis cancelled")

// SynthesisError reports the unit the model could not render.
type SynthesisError struct {
	Index   int
	Content string
	Err     error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesize unit %d: %v", e.Index, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// Clip is one rendered unit on disk. Samples is the frame count.
type Clip struct {
	Index      int
	Path       string
	SampleRate int
	Samples    int
}

// Duration is the playback length of the clip.
func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.Samples) * time.Second / time.Duration(c.SampleRate)
}

// Paths lists clip paths in order.
func Paths(clips []Clip) []string {
	out := make([]string, len(clips))
	for i, c := range clips {
		out[i] = c.Path
	}
	return out
}

type Stage struct {
	provider   tts.ModelProvider
	sampleRate int
	workers    int
	logger     *slog.Logger
}

func NewStage(provider tts.ModelProvider, sampleRate, workers int, log *slog.Logger) *Stage {
	if workers < 1 {
		workers = 1
	}
	return &Stage{
		provider:   provider,
		sampleRate: sampleRate,
		workers:    workers,
		logger:     log.With(slog.String("component", "synthesis")),
	}
}

// ClipName is the scratch file name of the clip at position.
func ClipName(position int) string {
	return fmt.Sprintf("audio_%03d.wav", position)
}

// Run synthesizes every unit into dir. checkpoint is consulted before each
// unit is dispatched and may return ErrCancelled; progress is called after
// each completed clip. Clips come back in unit order whatever order the
// workers finish in. The first failure stops dispatch, in-flight units
// are awaited and the failure is returned.
func (s *Stage) Run(ctx context.Context, units []text.Unit, voice, dir string, checkpoint func() error, progress func(done, total int)) ([]Clip, error) {
	total := len(units)
	clips := make([]Clip, total)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		done     int
		firstErr error
		sema     = make(chan struct{}, s.workers)
	)
	failed := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return firstErr != nil
	}

	var stopErr error
dispatch:
	for pos, unit := range units {
		if err := ctx.Err(); err != nil {
			stopErr = err
			break
		}
		select {
		case sema <- struct{}{}:
		case <-ctx.Done():
			stopErr = ctx.Err()
			break dispatch
		}
		if failed() {
			<-sema
			break
		}
		// Consulted with a slot held so a sequential run sees the
		// previous unit's completion.
		if checkpoint != nil {
			if err := checkpoint(); err != nil {
				<-sema
				stopErr = err
				break
			}
		}

		wg.Add(1)
		go func(pos int, unit text.Unit) {
			defer wg.Done()
			defer func() { <-sema }()

			clip, err := s.render(ctx, unit, voice, filepath.Join(dir, ClipName(pos+1)))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = &SynthesisError{Index: unit.Index, Content: unit.Content, Err: err}
				}
				return
			}
			clips[pos] = clip
			done++
			if progress != nil {
				progress(done, total)
			}
		}(pos, unit)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if stopErr != nil {
		if errors.Is(stopErr, ErrCancelled) {
			s.logger.Info("synthesis stopped on request", slog.Int("completed", done), slog.Int("total", total))
		}
		return nil, stopErr
	}
	return clips, nil
}

func (s *Stage) render(ctx context.Context, unit text.Unit, voice, path string) (Clip, error) {
	started := time.Now()
	wave, err := s.provider.Synthesize(ctx, unit.Content, voice, s.sampleRate)
	if err != nil {
		return Clip{}, err
	}
	if len(wave.Samples) == 0 {
		return Clip{}, errors.New("model returned no audio")
	}
	if err := WriteWav(path, wave); err != nil {
		return Clip{}, err
	}
	s.logger.Debug("clip written",
		slog.Int("index", unit.Index),
		slog.String("path", path),
		slog.Duration("audio", wave.Duration()),
		slog.Duration("elapsed", time.Since(started)),
	)
	return Clip{Index: unit.Index, Path: path, SampleRate: wave.SampleRate, Samples: len(wave.Samples)}, nil
}
