package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/voxpipe-ai/voxpipe/pkg/types"
)

// validSTTProviders, validLLMProviders and validTTSProviders list the
// provider names the factory can instantiate. Used by [Validate] to fail
// fast on assistants that could never start a call.
var (
	validSTTProviders = []string{"deepgram", "openai"}
	validLLMProviders = []string{"openai", "anthropic", "gemini", "groq", "mistral", "deepseek", "ollama", "llamacpp", "llamafile"}
	validTTSProviders = []string{"elevenlabs", "cartesia"}
)

// Load reads the YAML configuration file at path, overlays environment
// variables, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, overlays environment
// variables, and validates the result. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyEnv(cfg)
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables on cfg. Env wins over the file so
// deployments can keep secrets out of it.
func applyEnv(cfg *Config) {
	// The first set variable wins, so the canonical key shadows its alias.
	overlay := func(dst *string, keys ...string) {
		for _, key := range keys {
			if v := os.Getenv(key); v != "" {
				*dst = v
				return
			}
		}
	}

	if port := os.Getenv("PORT"); port != "" {
		host := os.Getenv("HOST")
		cfg.Server.ListenAddr = host + ":" + port
	}
	overlay(&cfg.Server.PublicBaseURL, "API_URL", "PUBLIC_BASE_URL")
	overlay(&cfg.Server.MediaWSURL, "VOICE_ENGINE_WS_URL", "MEDIA_WS_URL")
	overlay(&cfg.Server.CORSOrigin, "CORS_ORIGIN")
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = LogLevel(v)
	}

	overlay(&cfg.Credentials.OpenAIAPIKey, "OPENAI_API_KEY")
	overlay(&cfg.Credentials.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	overlay(&cfg.Credentials.GeminiAPIKey, "GEMINI_API_KEY")
	overlay(&cfg.Credentials.GroqAPIKey, "GROQ_API_KEY")
	overlay(&cfg.Credentials.MistralAPIKey, "MISTRAL_API_KEY")
	overlay(&cfg.Credentials.DeepSeekAPIKey, "DEEPSEEK_API_KEY")
	overlay(&cfg.Credentials.DeepgramAPIKey, "DEEPGRAM_API_KEY")
	overlay(&cfg.Credentials.ElevenLabsAPIKey, "ELEVENLABS_API_KEY")
	overlay(&cfg.Credentials.CartesiaAPIKey, "CARTESIA_API_KEY")

	overlay(&cfg.Twilio.AccountSID, "TWILIO_ACCOUNT_SID")
	overlay(&cfg.Twilio.AuthToken, "TWILIO_AUTH_TOKEN")

	overlay(&cfg.Storage.PostgresDSN, "POSTGRES_DSN")
	overlay(&cfg.Storage.RecordingsDir, "RECORDINGS_DIR")
	overlay(&cfg.Storage.EncryptionKey, "ENCRYPTION_KEY")

	overlay(&cfg.Auth.JWTSecret, "JWT_SECRET")
	overlay(&cfg.Auth.APIKeySecret, "API_KEY_SECRET")
}

// applyDefaults fills derivable values.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.MediaWSURL == "" && cfg.Server.PublicBaseURL != "" {
		ws := strings.Replace(cfg.Server.PublicBaseURL, "https://", "wss://", 1)
		ws = strings.Replace(ws, "http://", "ws://", 1)
		cfg.Server.MediaWSURL = ws
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret (or JWT_SECRET) must be set; media sockets cannot be authenticated without it"))
	}
	if key := cfg.Storage.EncryptionKey; key != "" && len(key) != 32 && len(key) != 64 {
		errs = append(errs, fmt.Errorf("storage.encryption_key must be 32 raw bytes or 64 hex characters, got %d", len(key)))
	}
	if cfg.Storage.PostgresDSN == "" {
		slog.Warn("storage.postgres_dsn is empty; using in-memory store, calls will not survive restarts")
	}
	if (cfg.Twilio.AccountSID == "") != (cfg.Twilio.AuthToken == "") {
		errs = append(errs, errors.New("twilio.account_sid and twilio.auth_token must be set together"))
	}

	seen := make(map[string]int, len(cfg.Assistants))
	for i, a := range cfg.Assistants {
		prefix := fmt.Sprintf("assistants[%d]", i)
		if a.ID == "" {
			errs = append(errs, fmt.Errorf("%s: id must not be empty", prefix))
		} else if prev, dup := seen[a.ID]; dup {
			errs = append(errs, fmt.Errorf("%s: duplicate id %q (also assistants[%d])", prefix, a.ID, prev))
		} else {
			seen[a.ID] = i
		}
		if !contains(validLLMProviders, a.Model.Provider) {
			errs = append(errs, fmt.Errorf("%s: model.provider %q is not supported; valid: %s", prefix, a.Model.Provider, strings.Join(validLLMProviders, ", ")))
		}
		if !contains(validSTTProviders, a.Transcriber.Provider) {
			errs = append(errs, fmt.Errorf("%s: transcriber.provider %q is not supported; valid: %s", prefix, a.Transcriber.Provider, strings.Join(validSTTProviders, ", ")))
		}
		if !contains(validTTSProviders, a.Voice.Provider) {
			errs = append(errs, fmt.Errorf("%s: voice.provider %q is not supported; valid: %s", prefix, a.Voice.Provider, strings.Join(validTTSProviders, ", ")))
		}
		if s := a.EndpointingSensitivity; s < 0 || s > 1 {
			errs = append(errs, fmt.Errorf("%s: endpointing_sensitivity %v is outside [0, 1]", prefix, s))
		}
	}

	for number, assistantID := range cfg.PhoneNumbers {
		if _, ok := seen[assistantID]; !ok {
			errs = append(errs, fmt.Errorf("phone_numbers[%q]: unknown assistant %q", number, assistantID))
		}
	}

	return errors.Join(errs...)
}

func contains(valid []string, name string) bool {
	for _, v := range valid {
		if v == name {
			return true
		}
	}
	return false
}

// AssistantByID returns the assistant with the given ID, or nil.
func (c *Config) AssistantByID(id string) *types.Assistant {
	for i := range c.Assistants {
		if c.Assistants[i].ID == id {
			return &c.Assistants[i]
		}
	}
	return nil
}

// AssistantForNumber resolves an inbound E.164 number to its assistant,
// or nil when the number is unassigned.
func (c *Config) AssistantForNumber(number string) *types.Assistant {
	id, ok := c.PhoneNumbers[number]
	if !ok {
		return nil
	}
	return c.AssistantByID(id)
}
