package tts

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/loqalabs/loqa-narrator/internal/logging"
)

func TestMockProviderDeterministic(t *testing.T) {
	p := NewMockProvider()
	a, err := p.Synthesize(context.Background(), "Привет.", "xenia", 48000)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	b, _ := p.Synthesize(context.Background(), "Привет.", "xenia", 48000)
	if len(a.Samples) == 0 || len(a.Samples) != len(b.Samples) {
		t.Fatalf("expected equal non-empty output, got %d and %d", len(a.Samples), len(b.Samples))
	}
	for i := range a.Samples {
		if a.Samples[i] != b.Samples[i] {
			t.Fatalf("sample %d differs", i)
		}
	}
	if a.SampleRate != 48000 {
		t.Fatalf("unexpected sample rate %d", a.SampleRate)
	}
	if a.Duration() <= 0 {
		t.Fatal("expected positive duration")
	}
}

func TestMockProviderRejectsEmpty(t *testing.T) {
	if _, err := NewMockProvider().Synthesize(context.Background(), "  ", "xenia", 48000); err == nil {
		t.Fatal("expected error for empty text")
	}
}

type countingProvider struct {
	calls atomic.Int32
	fail  atomic.Bool
}

func (c *countingProvider) EnsureAvailable(context.Context, Progress) error {
	c.calls.Add(1)
	if c.fail.Load() {
		return errors.New("unavailable")
	}
	return nil
}

func (c *countingProvider) Synthesize(ctx context.Context, text, voice string, sampleRate int) (Waveform, error) {
	return Waveform{Samples: []float32{0}, SampleRate: sampleRate}, nil
}

func TestLazyPreparesOnceAndRetriesFailures(t *testing.T) {
	inner := &countingProvider{}
	inner.fail.Store(true)
	lazy := NewLazy(inner)

	if _, err := lazy.Synthesize(context.Background(), "a", "xenia", 8000); err == nil {
		t.Fatal("expected failure while model unavailable")
	}
	if lazy.Ready() {
		t.Fatal("lazy provider marked ready after failure")
	}

	inner.fail.Store(false)
	for i := 0; i < 3; i++ {
		if _, err := lazy.Synthesize(context.Background(), "a", "xenia", 8000); err != nil {
			t.Fatalf("synthesize: %v", err)
		}
	}
	if got := inner.calls.Load(); got != 2 {
		t.Fatalf("expected 2 preparation attempts, got %d", got)
	}
}

func TestModelCacheDownloadsOnce(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("model-bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	cache := NewModelCache(srv.URL+"/v5_ru.pt", dir, "", logging.Discard())
	var last int64
	progress := func(done, total int64) { last = done }

	for i := 0; i < 2; i++ {
		if err := cache.EnsureAvailable(context.Background(), progress); err != nil {
			t.Fatalf("ensure available: %v", err)
		}
	}
	if hits.Load() != 1 {
		t.Fatalf("expected one download, got %d", hits.Load())
	}
	if last != int64(len("model-bytes")) {
		t.Fatalf("unexpected progress %d", last)
	}
	data, err := os.ReadFile(filepath.Join(dir, "v5_ru.pt"))
	if err != nil || string(data) != "model-bytes" {
		t.Fatalf("unexpected cached file %q (%v)", data, err)
	}
}

func TestModelCacheBadStatusLeavesNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	dir := t.TempDir()
	cache := NewModelCache(srv.URL+"/m.pt", dir, "m.pt", logging.Discard())
	if err := cache.EnsureAvailable(context.Background(), nil); err == nil {
		t.Fatal("expected download failure")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected empty cache dir, found %d entries", len(entries))
	}
}

func TestExecProvider(t *testing.T) {
	script := filepath.Join(t.TempDir(), "synth.sh")
	body := "#!/bin/sh\ncat >/dev/null\necho '{\"pcm_base64\":\"AAD/fw==\",\"final\":true}'\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}
	p, err := NewExecProvider(script, nil)
	if err != nil {
		t.Fatalf("new exec provider: %v", err)
	}
	if err := p.EnsureAvailable(context.Background(), nil); err != nil {
		t.Fatalf("ensure available: %v", err)
	}
	wave, err := p.Synthesize(context.Background(), "hi", "xenia", 16000)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(wave.Samples) != 2 || wave.Samples[0] != 0 || wave.Samples[1] < 0.99 {
		t.Fatalf("unexpected samples %v", wave.Samples)
	}
}

func TestExecProviderReportsError(t *testing.T) {
	script := filepath.Join(t.TempDir(), "synth.sh")
	body := "#!/bin/sh\ncat >/dev/null\necho '{\"error\":\"voice not found\"}'\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}
	p, err := NewExecProvider(script, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Synthesize(context.Background(), "hi", "nobody", 16000); err == nil || err.Error() != "voice not found" {
		t.Fatalf("expected model error, got %v", err)
	}
}

func TestExecProviderMissingCommand(t *testing.T) {
	p, err := NewExecProvider("definitely-not-a-real-synth --flag", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.EnsureAvailable(context.Background(), nil); err == nil {
		t.Fatal("expected missing command error")
	}
}

func TestResample(t *testing.T) {
	in := []float32{0, 1, 0, -1}
	if out := Resample(in, 8000, 8000); len(out) != 4 {
		t.Fatalf("expected passthrough, got %d samples", len(out))
	}
	up := Resample(in, 8000, 16000)
	if len(up) != 8 {
		t.Fatalf("expected 8 samples, got %d", len(up))
	}
	if up[1] != 0.5 {
		t.Fatalf("expected interpolated 0.5, got %v", up[1])
	}
}

func TestDecodeWav(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	enc := wav.NewEncoder(f, 22050, 16, 2, 1)
	buf := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: 2, SampleRate: 22050},
		Data:   []int{16384, 16384, -16384, -16384, 0, 0},
	}
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	wave, err := decodeWav(data, 22050)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []float32{0.5, -0.5, 0}
	if len(wave.Samples) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(wave.Samples))
	}
	for i, w := range want {
		if wave.Samples[i] != w {
			t.Fatalf("sample %d = %v, want %v", i, wave.Samples[i], w)
		}
	}
}
