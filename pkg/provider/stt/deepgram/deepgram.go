// Package deepgram provides a Deepgram-backed STT transcriber using the
// pre-recorded listen API. It implements the stt.Transcriber interface.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/voxpipe-ai/voxpipe/pkg/provider"
	"github.com/voxpipe-ai/voxpipe/pkg/provider/stt"
)

const (
	listenEndpoint    = "https://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000
	requestTimeout    = 15 * time.Second
)

// Option is a functional option for configuring the Deepgram Transcriber.
type Option func(*Transcriber)

// WithModel sets the Deepgram model (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(t *Transcriber) {
		if model != "" {
			t.model = model
		}
	}
}

// WithLanguage sets the BCP-47 recognition language (e.g., "en", "de").
func WithLanguage(language string) Option {
	return func(t *Transcriber) {
		if language != "" {
			t.language = language
		}
	}
}

// WithSampleRate sets the PCM sample rate in Hz. Default 16000.
func WithSampleRate(rate int) Option {
	return func(t *Transcriber) {
		if rate > 0 {
			t.sampleRate = rate
		}
	}
}

// WithHTTPClient overrides the HTTP client, primarily for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transcriber) { t.httpClient = c }
}

// WithBaseURL overrides the listen endpoint, primarily for tests.
func WithBaseURL(u string) Option {
	return func(t *Transcriber) { t.endpoint = u }
}

// Transcriber implements stt.Transcriber backed by Deepgram.
type Transcriber struct {
	apiKey     string
	model      string
	language   string
	sampleRate int
	endpoint   string
	httpClient *http.Client
}

var _ stt.Transcriber = (*Transcriber)(nil)

// New creates a new Deepgram Transcriber. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	t := &Transcriber{
		apiKey:     apiKey,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
		endpoint:   listenEndpoint,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// listenResponse is the subset of the Deepgram pre-recorded response the
// engine consumes.
type listenResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe implements stt.Transcriber. It POSTs the raw PCM buffer to the
// listen endpoint with linear16 encoding parameters.
func (t *Transcriber) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	if len(pcm) == 0 {
		return "", nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.buildURL(), bytes.NewReader(pcm))
	if err != nil {
		return "", fmt.Errorf("deepgram: build request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+t.apiKey)
	req.Header.Set("Content-Type", "audio/raw")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", &provider.Error{Provider: "deepgram", Stage: "stt", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &provider.Error{
			Provider:   "deepgram",
			Stage:      "stt",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("listen: %s", bytes.TrimSpace(body)),
		}
	}

	var lr listenResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return "", fmt.Errorf("deepgram: decode response: %w", err)
	}
	return transcriptFrom(lr), nil
}

// buildURL constructs the listen endpoint URL with the encoding parameters
// for raw linear PCM.
func (t *Transcriber) buildURL() string {
	u, err := url.Parse(t.endpoint)
	if err != nil {
		return t.endpoint
	}
	q := u.Query()
	q.Set("model", t.model)
	q.Set("language", t.language)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(t.sampleRate))
	q.Set("channels", "1")
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	u.RawQuery = q.Encode()
	return u.String()
}

// transcriptFrom extracts the best transcript from a listen response.
// Returns "" when the response carries no alternatives.
func transcriptFrom(lr listenResponse) string {
	if len(lr.Results.Channels) == 0 {
		return ""
	}
	alts := lr.Results.Channels[0].Alternatives
	if len(alts) == 0 {
		return ""
	}
	return alts[0].Transcript
}
