package tts

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"
)

// execProvider runs an external synthesizer once per request. The request
// is written to stdin as one JSON object; the process answers with JSON
// lines carrying base64 int16 little-endian mono PCM.
type execProvider struct {
	cmd   []string
	cache *ModelCache
}

type execRequest struct {
	Text       string `json:"text"`
	Voice      string `json:"voice"`
	SampleRate int    `json:"sample_rate"`
	ModelPath  string `json:"model_path,omitempty"`
}

type execResponse struct {
	PCMBase64  string `json:"pcm_base64"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Final      bool   `json:"final"`
	Error      string `json:"error,omitempty"`
}

// NewExecProvider parses command with shell quoting rules. cache may be
// nil when the command manages its own model files.
func NewExecProvider(command string, cache *ModelCache) (ModelProvider, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse model command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("model command empty")
	}
	return &execProvider{cmd: args, cache: cache}, nil
}

func (e *execProvider) EnsureAvailable(ctx context.Context, progress Progress) error {
	if _, err := exec.LookPath(e.cmd[0]); err != nil {
		return fmt.Errorf("model command %q: %w", e.cmd[0], err)
	}
	if e.cache != nil {
		return e.cache.EnsureAvailable(ctx, progress)
	}
	return nil
}

func (e *execProvider) Synthesize(ctx context.Context, text, voice string, sampleRate int) (Waveform, error) {
	req := execRequest{Text: text, Voice: voice, SampleRate: sampleRate}
	if e.cache != nil {
		req.ModelPath = e.cache.Path()
	}
	data, err := json.Marshal(req)
	if err != nil {
		return Waveform{}, err
	}

	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(data)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Waveform{}, err
	}
	if err := cmd.Start(); err != nil {
		return Waveform{}, err
	}

	var (
		pcm  []byte
		rate = sampleRate
	)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp execResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			_ = cmd.Wait()
			return Waveform{}, fmt.Errorf("decode model response: %w", err)
		}
		if resp.Error != "" {
			_ = cmd.Wait()
			return Waveform{}, errors.New(resp.Error)
		}
		chunk, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
		if err != nil {
			_ = cmd.Wait()
			return Waveform{}, fmt.Errorf("decode model pcm: %w", err)
		}
		pcm = append(pcm, chunk...)
		if resp.SampleRate > 0 {
			rate = resp.SampleRate
		}
		if resp.Final {
			break
		}
	}
	scanErr := scanner.Err()
	if err := cmd.Wait(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return Waveform{}, fmt.Errorf("%w: %s", err, msg)
		}
		return Waveform{}, err
	}
	if scanErr != nil {
		return Waveform{}, scanErr
	}
	if len(pcm) == 0 {
		return Waveform{}, errors.New("model returned no audio")
	}

	samples, err := FromPCM16(pcm)
	if err != nil {
		return Waveform{}, err
	}
	return Waveform{Samples: Resample(samples, rate, sampleRate), SampleRate: sampleRate}, nil
}
