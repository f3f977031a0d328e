// Package whisper provides an OpenAI Whisper-backed STT transcriber using
// the hosted audio transcriptions API. It implements the stt.Transcriber
// interface.
package whisper

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/voxpipe-ai/voxpipe/pkg/provider"
	"github.com/voxpipe-ai/voxpipe/pkg/provider/stt"
)

const (
	defaultModel      = "whisper-1"
	defaultSampleRate = 16000
)

// Option is a functional option for configuring the Whisper Transcriber.
type Option func(*Transcriber)

// WithModel sets the transcription model (e.g., "whisper-1").
func WithModel(model string) Option {
	return func(t *Transcriber) {
		if model != "" {
			t.model = model
		}
	}
}

// WithLanguage sets the ISO-639-1 recognition language hint.
func WithLanguage(language string) Option {
	return func(t *Transcriber) { t.language = language }
}

// WithSampleRate sets the PCM sample rate in Hz. Default 16000.
func WithSampleRate(rate int) Option {
	return func(t *Transcriber) {
		if rate > 0 {
			t.sampleRate = rate
		}
	}
}

// WithBaseURL overrides the OpenAI API base URL.
func WithBaseURL(u string) Option {
	return func(t *Transcriber) { t.baseURL = u }
}

// Transcriber implements stt.Transcriber using the OpenAI audio API.
type Transcriber struct {
	client     oai.Client
	model      string
	language   string
	sampleRate int
	baseURL    string
}

var _ stt.Transcriber = (*Transcriber)(nil)

// New creates a new Whisper Transcriber. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, errors.New("whisper: apiKey must not be empty")
	}
	t := &Transcriber{
		model:      defaultModel,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(t)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if t.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(t.baseURL))
	}
	t.client = oai.NewClient(reqOpts...)
	return t, nil
}

// Transcribe implements stt.Transcriber. The raw PCM utterance is wrapped in
// a minimal WAV container because the transcriptions endpoint does not accept
// headerless audio.
func (t *Transcriber) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	if len(pcm) == 0 {
		return "", nil
	}

	wav := wrapWAV(pcm, t.sampleRate)
	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(wav), "utterance.wav", "audio/wav"),
		Model: oai.AudioModel(t.model),
	}
	if t.language != "" {
		params.Language = oai.String(t.language)
	}

	resp, err := t.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", &provider.Error{Provider: "openai", Stage: "stt", Err: fmt.Errorf("transcription: %w", err)}
	}
	return resp.Text, nil
}

// wrapWAV prefixes raw 16-bit mono PCM with a canonical 44-byte RIFF/WAVE
// header for the given sample rate.
func wrapWAV(pcm []byte, sampleRate int) []byte {
	const (
		channels      = 1
		bitsPerSample = 16
	)
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(pcm)))
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}
