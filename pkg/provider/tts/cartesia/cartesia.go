// Package cartesia provides a Cartesia Sonic-backed TTS synthesizer using
// the /tts/bytes REST endpoint. It implements the tts.Synthesizer interface.
package cartesia

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
	defaultBaseURL = "https://api.cartesia.ai"
	defaultModel   = "sonic-2"
	defaultRate    = 16000
	apiVersion     = "2024-06-10"
)

// Option is a functional option for configuring the Cartesia Synthesizer.
type Option func(*Synthesizer)

// WithModel sets the Cartesia model ID (e.g., "sonic-2").
func WithModel(model string) Option {
	return func(s *Synthesizer) {
		if model != "" {
			s.model = model
		}
	}
}

// WithSampleRate sets the PCM output rate in Hz. Default 16000.
func WithSampleRate(rate int) Option {
	return func(s *Synthesizer) {
		if rate > 0 {
			s.sampleRate = rate
		}
	}
}

// WithLanguage sets the synthesis language code (e.g., "en").
func WithLanguage(lang string) Option {
	return func(s *Synthesizer) { s.language = lang }
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Synthesizer) { s.httpClient = c }
}

// WithBaseURL overrides the Cartesia API base URL.
func WithBaseURL(u string) Option {
	return func(s *Synthesizer) { s.baseURL = u }
}

// Synthesizer implements tts.Synthesizer backed by the Cartesia API.
type Synthesizer struct {
	apiKey     string
	voiceID    string
	model      string
	language   string
	sampleRate int
	baseURL    string
	httpClient *http.Client
}

var _ tts.Synthesizer = (*Synthesizer)(nil)

// New creates a new Cartesia Synthesizer. apiKey and voiceID must be
// non-empty.
func New(apiKey, voiceID string, opts ...Option) (*Synthesizer, error) {
	if apiKey == "" {
		return nil, errors.New("cartesia: apiKey must not be empty")
	}
	if voiceID == "" {
		return nil, errors.New("cartesia: voiceID must not be empty")
	}
	s := &Synthesizer{
		apiKey:     apiKey,
		voiceID:    voiceID,
		model:      defaultModel,
		language:   "en",
		sampleRate: defaultRate,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// bytesRequest is the JSON payload for the /tts/bytes endpoint.
type bytesRequest struct {
	ModelID      string       `json:"model_id"`
	Transcript   string       `json:"transcript"`
	Voice        voiceRef     `json:"voice"`
	OutputFormat outputFormat `json:"output_format"`
	Language     string       `json:"language,omitempty"`
}

type voiceRef struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type outputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// Synthesize implements tts.Synthesizer. The bytes endpoint with a raw
// container returns headerless 16-bit little-endian PCM.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if text == "" {
		return nil, nil
	}

	body, err := json.Marshal(bytesRequest{
		ModelID:    s.model,
		Transcript: text,
		Voice:      voiceRef{Mode: "id", ID: s.voiceID},
		OutputFormat: outputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: s.sampleRate,
		},
		Language: s.language,
	})
	if err != nil {
		return nil, fmt.Errorf("cartesia: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/tts/bytes", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("cartesia: build request: %w", err)
	}
	req.Header.Set("X-API-Key", s.apiKey)
	req.Header.Set("Cartesia-Version", apiVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &provider.Error{Provider: "cartesia", Stage: "tts", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &provider.Error{
			Provider:   "cartesia",
			Stage:      "tts",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("synthesis failed: %s", detail),
		}
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &provider.Error{Provider: "cartesia", Stage: "tts", Err: fmt.Errorf("read audio: %w", err)}
	}
	return pcm, nil
}

// SampleRate implements tts.Synthesizer.
func (s *Synthesizer) SampleRate() int { return s.sampleRate }
