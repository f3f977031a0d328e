// Package config provides the configuration schema and loader for the
// voxpipe server.
package config

import (
	"github.com/voxpipe-ai/voxpipe/pkg/types"
)

// LogLevel controls log verbosity for the voxpipe server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for voxpipe.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader],
// after which environment variables overlay secrets and deploy-specific
// values.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Twilio      TwilioConfig      `yaml:"twilio"`
	Storage     StorageConfig     `yaml:"storage"`
	Auth        AuthConfig        `yaml:"auth"`

	// Assistants is the static assistant catalogue the engine serves.
	Assistants []types.Assistant `yaml:"assistants"`

	// PhoneNumbers maps E.164 numbers to the assistant that answers them.
	PhoneNumbers map[string]string `yaml:"phone_numbers"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// PublicBaseURL is the externally reachable base URL used when building
	// webhook callbacks (e.g., "https://voice.example.com").
	PublicBaseURL string `yaml:"public_base_url"`

	// MediaWSURL is the externally reachable WebSocket base URL handed to
	// carriers and web clients (e.g., "wss://voice.example.com"). Defaults
	// to PublicBaseURL with the scheme swapped.
	MediaWSURL string `yaml:"media_ws_url"`

	// CORSOrigin is the allowed Origin for browser clients. Empty disables
	// cross-origin access.
	CORSOrigin string `yaml:"cors_origin"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// CredentialsConfig holds vendor API keys. All fields can be supplied via
// environment variables instead of the file.
type CredentialsConfig struct {
	OpenAIAPIKey     string `yaml:"openai_api_key"`
	AnthropicAPIKey  string `yaml:"anthropic_api_key"`
	GeminiAPIKey     string `yaml:"gemini_api_key"`
	GroqAPIKey       string `yaml:"groq_api_key"`
	MistralAPIKey    string `yaml:"mistral_api_key"`
	DeepSeekAPIKey   string `yaml:"deepseek_api_key"`
	DeepgramAPIKey   string `yaml:"deepgram_api_key"`
	ElevenLabsAPIKey string `yaml:"elevenlabs_api_key"`
	CartesiaAPIKey   string `yaml:"cartesia_api_key"`
}

// TwilioConfig holds the carrier account credentials for the Twilio adapter.
type TwilioConfig struct {
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	// PostgresDSN is the pgx connection string. Empty selects the
	// in-memory store (calls and transcripts are lost on restart).
	PostgresDSN string `yaml:"postgres_dsn"`

	// RecordingsDir is the directory raw PCM recordings are written to.
	// Empty disables recording.
	RecordingsDir string `yaml:"recordings_dir"`

	// EncryptionKey is the 32-byte AES key (hex or raw) used to encrypt
	// stored provider-credential blobs.
	EncryptionKey string `yaml:"encryption_key"`
}

// AuthConfig holds media-transport auth settings.
type AuthConfig struct {
	// JWTSecret signs the short-lived media WebSocket tokens.
	JWTSecret string `yaml:"jwt_secret"`

	// APIKeySecret is the HMAC key the control plane hashes tenant API
	// keys with. The engine carries it as part of the deployment contract
	// but does not consume it; API-key issuance lives in the dashboard.
	APIKeySecret string `yaml:"api_key_secret"`
}
