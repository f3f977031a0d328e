// Package elevenlabs provides an ElevenLabs-backed TTS synthesizer using the
// HTTP streaming endpoint. It implements the tts.Synthesizer interface.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/voxpipe-ai/voxpipe/pkg/provider"
	"github.com/voxpipe-ai/voxpipe/pkg/provider/tts"
)

const (
	defaultBaseURL   = "https://api.elevenlabs.io"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_24000"
	defaultRate      = 24000
)

// Option is a functional option for configuring the ElevenLabs Synthesizer.
type Option func(*Synthesizer)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(s *Synthesizer) {
		if model != "" {
			s.model = model
		}
	}
}

// WithSampleRate sets the PCM output rate in Hz. Supported: 16000, 22050,
// 24000, 44100. Default 24000.
func WithSampleRate(rate int) Option {
	return func(s *Synthesizer) {
		if rate > 0 {
			s.sampleRate = rate
			s.outputFormat = fmt.Sprintf("pcm_%d", rate)
		}
	}
}

// WithStability sets the voice stability in [0, 1].
func WithStability(v float64) Option {
	return func(s *Synthesizer) { s.stability = v }
}

// WithSimilarityBoost sets the similarity boost in [0, 1].
func WithSimilarityBoost(v float64) Option {
	return func(s *Synthesizer) { s.similarityBoost = v }
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Synthesizer) { s.httpClient = c }
}

// WithBaseURL overrides the ElevenLabs API base URL.
func WithBaseURL(u string) Option {
	return func(s *Synthesizer) { s.baseURL = u }
}

// Synthesizer implements tts.Synthesizer backed by the ElevenLabs API.
type Synthesizer struct {
	apiKey          string
	voiceID         string
	model           string
	outputFormat    string
	sampleRate      int
	stability       float64
	similarityBoost float64
	baseURL         string
	httpClient      *http.Client
}

var _ tts.Synthesizer = (*Synthesizer)(nil)

// New creates a new ElevenLabs Synthesizer. apiKey and voiceID must be
// non-empty.
func New(apiKey, voiceID string, opts ...Option) (*Synthesizer, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	if voiceID == "" {
		return nil, errors.New("elevenlabs: voiceID must not be empty")
	}
	s := &Synthesizer{
		apiKey:          apiKey,
		voiceID:         voiceID,
		model:           defaultModel,
		outputFormat:    defaultOutputFmt,
		sampleRate:      defaultRate,
		stability:       0.5,
		similarityBoost: 0.75,
		baseURL:         defaultBaseURL,
		httpClient:      &http.Client{},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// synthesizeRequest is the JSON payload for the text-to-speech endpoint.
type synthesizeRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Synthesize implements tts.Synthesizer. The stream endpoint with a pcm_*
// output format returns raw headerless 16-bit PCM.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if text == "" {
		return nil, nil
	}

	body, err := json.Marshal(synthesizeRequest{
		Text:    text,
		ModelID: s.model,
		VoiceSettings: voiceSettings{
			Stability:       s.stability,
			SimilarityBoost: s.similarityBoost,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s/stream?output_format=%s", s.baseURL, s.voiceID, s.outputFormat)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: build request: %w", err)
	}
	req.Header.Set("xi-api-key", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &provider.Error{Provider: "elevenlabs", Stage: "tts", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &provider.Error{
			Provider:   "elevenlabs",
			Stage:      "tts",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("synthesis failed: %s", detail),
		}
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &provider.Error{Provider: "elevenlabs", Stage: "tts", Err: fmt.Errorf("read audio: %w", err)}
	}
	return pcm, nil
}

// SampleRate implements tts.Synthesizer.
func (s *Synthesizer) SampleRate() int { return s.sampleRate }
