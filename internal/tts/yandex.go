package tts

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/go-audio/wav"
	ttsv3 "github.com/yandex-cloud/go-genproto/yandex/cloud/ai/tts/v3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"

	"github.com/loqalabs/loqa-narrator/internal/config"
)

// YandexProvider streams utterances from Yandex SpeechKit v3. Local voice
// ids are mapped to SpeechKit voices through the configured table.
type YandexProvider struct {
	conn   *grpc.ClientConn
	client ttsv3.SynthesizerClient
	cfg    config.YandexConfig
	logger *slog.Logger
}

func NewYandexProvider(cfg config.YandexConfig, log *slog.Logger) (*YandexProvider, error) {
	creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	conn, err := grpc.NewClient(cfg.Endpoint, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("dial speechkit: %w", err)
	}
	return &YandexProvider{
		conn:   conn,
		client: ttsv3.NewSynthesizerClient(conn),
		cfg:    cfg,
		logger: log.With(slog.String("component", "yandex-tts")),
	}, nil
}

func (y *YandexProvider) EnsureAvailable(ctx context.Context, _ Progress) error {
	if y.cfg.APIKey == "" || y.cfg.FolderID == "" {
		return errors.New("speechkit credentials not configured")
	}
	return ctx.Err()
}

func (y *YandexProvider) Synthesize(ctx context.Context, text, voice string, sampleRate int) (Waveform, error) {
	ctx = metadata.AppendToOutgoingContext(ctx,
		"authorization", "Api-Key "+y.cfg.APIKey,
		"x-folder-id", y.cfg.FolderID,
	)

	hints := &ttsv3.Hints{}
	hints.SetVoice(y.voiceName(voice))

	container := &ttsv3.ContainerAudio{}
	container.SetContainerAudioType(ttsv3.ContainerAudio_WAV)
	format := &ttsv3.AudioFormatOptions{}
	format.SetContainerAudio(container)

	req := &ttsv3.UtteranceSynthesisRequest{}
	req.SetModel(y.cfg.Model)
	req.SetText(text)
	req.SetHints([]*ttsv3.Hints{hints})
	req.SetOutputAudioSpec(format)
	req.SetLoudnessNormalizationType(ttsv3.UtteranceSynthesisRequest_LUFS)

	stream, err := y.client.UtteranceSynthesis(ctx, req)
	if err != nil {
		return Waveform{}, fmt.Errorf("speechkit request: %w", err)
	}
	var buf bytes.Buffer
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Waveform{}, fmt.Errorf("speechkit stream: %w", err)
		}
		buf.Write(resp.GetAudioChunk().GetData())
	}
	return decodeWav(buf.Bytes(), sampleRate)
}

func (y *YandexProvider) voiceName(voice string) string {
	if mapped, ok := y.cfg.Voices[voice]; ok && mapped != "" {
		return mapped
	}
	return voice
}

func (y *YandexProvider) Close() error { return y.conn.Close() }

func decodeWav(data []byte, sampleRate int) (Waveform, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return Waveform{}, fmt.Errorf("decode wav: %w", err)
	}
	if len(pcm.Data) == 0 {
		return Waveform{}, errors.New("speechkit returned no audio")
	}
	samples := FromInts(pcm.Data, int(dec.BitDepth), int(dec.NumChans))
	return Waveform{Samples: Resample(samples, int(dec.SampleRate), sampleRate), SampleRate: sampleRate}, nil
}
