// Package providers instantiates STT, LLM and TTS backends from assistant
// configuration. Each session builds its own provider set so two concurrent
// calls can run entirely different vendor stacks.
package providers

import (
	"fmt"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/voxpipe-ai/voxpipe/pkg/provider/llm"
	llmanyllm "github.com/voxpipe-ai/voxpipe/pkg/provider/llm/anyllm"
	llmopenai "github.com/voxpipe-ai/voxpipe/pkg/provider/llm/openai"
	"github.com/voxpipe-ai/voxpipe/pkg/provider/stt"
	"github.com/voxpipe-ai/voxpipe/pkg/provider/stt/deepgram"
	"github.com/voxpipe-ai/voxpipe/pkg/provider/stt/whisper"
	"github.com/voxpipe-ai/voxpipe/pkg/provider/tts"
	"github.com/voxpipe-ai/voxpipe/pkg/provider/tts/cartesia"
	"github.com/voxpipe-ai/voxpipe/pkg/provider/tts/elevenlabs"
	"github.com/voxpipe-ai/voxpipe/pkg/types"
)

// Credentials holds the vendor API keys the factory hands to adapters.
// Values come from configuration; empty keys fail at construction time for
// the vendors that need them, not at call time.
type Credentials struct {
	OpenAI     string
	Anthropic  string
	Gemini     string
	Groq       string
	Mistral    string
	DeepSeek   string
	Deepgram   string
	ElevenLabs string
	Cartesia   string
}

// Factory builds per-session providers from assistant configuration.
type Factory struct {
	creds Credentials
}

// NewFactory creates a Factory using the given credentials.
func NewFactory(creds Credentials) *Factory {
	return &Factory{creds: creds}
}

// NewTranscriber builds the STT backend named by cfg.
func (f *Factory) NewTranscriber(cfg types.TranscriberConfig, sampleRate int) (stt.Transcriber, error) {
	switch cfg.Provider {
	case "deepgram":
		opts := []deepgram.Option{deepgram.WithSampleRate(sampleRate)}
		if cfg.Model != "" {
			opts = append(opts, deepgram.WithModel(cfg.Model))
		}
		if cfg.Language != "" {
			opts = append(opts, deepgram.WithLanguage(cfg.Language))
		}
		return deepgram.New(f.creds.Deepgram, opts...)

	case "openai":
		opts := []whisper.Option{whisper.WithSampleRate(sampleRate)}
		if cfg.Model != "" {
			opts = append(opts, whisper.WithModel(cfg.Model))
		}
		if cfg.Language != "" {
			opts = append(opts, whisper.WithLanguage(cfg.Language))
		}
		return whisper.New(f.creds.OpenAI, opts...)

	default:
		return nil, fmt.Errorf("providers: unsupported stt provider %q", cfg.Provider)
	}
}

// NewLLM builds the chat backend named by cfg. OpenAI goes through the
// native SDK for tool calling; everything else goes through any-llm-go.
func (f *Factory) NewLLM(cfg types.ModelConfig) (llm.Provider, error) {
	switch cfg.Provider {
	case "openai":
		return llmopenai.New(f.creds.OpenAI, cfg.Model)

	case "anthropic", "gemini", "groq", "mistral", "deepseek", "ollama", "llamacpp", "llamafile":
		var opts []anyllmlib.Option
		if key := f.llmKey(cfg.Provider); key != "" {
			opts = append(opts, anyllmlib.WithAPIKey(key))
		}
		return llmanyllm.New(cfg.Provider, cfg.Model, opts...)

	default:
		return nil, fmt.Errorf("providers: unsupported llm provider %q", cfg.Provider)
	}
}

// NewSynthesizer builds the TTS backend named by cfg, rendering at the
// given egress sample rate.
func (f *Factory) NewSynthesizer(cfg types.VoiceConfig, sampleRate int) (tts.Synthesizer, error) {
	switch cfg.Provider {
	case "elevenlabs":
		opts := []elevenlabs.Option{elevenlabs.WithSampleRate(sampleRate)}
		if v, ok := cfg.Settings["stability"].(float64); ok {
			opts = append(opts, elevenlabs.WithStability(v))
		}
		if v, ok := cfg.Settings["similarity_boost"].(float64); ok {
			opts = append(opts, elevenlabs.WithSimilarityBoost(v))
		}
		if v, ok := cfg.Settings["model"].(string); ok {
			opts = append(opts, elevenlabs.WithModel(v))
		}
		return elevenlabs.New(f.creds.ElevenLabs, cfg.VoiceID, opts...)

	case "cartesia":
		opts := []cartesia.Option{cartesia.WithSampleRate(sampleRate)}
		if v, ok := cfg.Settings["model"].(string); ok {
			opts = append(opts, cartesia.WithModel(v))
		}
		if v, ok := cfg.Settings["language"].(string); ok {
			opts = append(opts, cartesia.WithLanguage(v))
		}
		return cartesia.New(f.creds.Cartesia, cfg.VoiceID, opts...)

	default:
		return nil, fmt.Errorf("providers: unsupported tts provider %q", cfg.Provider)
	}
}

// llmKey returns the credential for an any-llm-go vendor. Local backends
// (ollama, llamacpp, llamafile) need none.
func (f *Factory) llmKey(vendor string) string {
	switch vendor {
	case "anthropic":
		return f.creds.Anthropic
	case "gemini":
		return f.creds.Gemini
	case "groq":
		return f.creds.Groq
	case "mistral":
		return f.creds.Mistral
	case "deepseek":
		return f.creds.DeepSeek
	default:
		return ""
	}
}
