package config

import (
	"strings"
	"testing"
)

const minimalYAML = `
server:
  listen_addr: ":9090"
  public_base_url: "https://voice.example.com"
auth:
  jwt_secret: "test-secret"
assistants:
  - id: asst-1
    name: Receptionist
    system_prompt: You answer the phone.
    model:
      provider: openai
      model: gpt-4o-mini
    transcriber:
      provider: deepgram
      model: nova-3
    voice:
      provider: elevenlabs
      voice_id: voice-1
phone_numbers:
  "+15551230000": asst-1
`

func TestLoadFromReader(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("listen addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != LogInfo {
		t.Errorf("log level = %q, want default info", cfg.Server.LogLevel)
	}
	if cfg.Server.MediaWSURL != "wss://voice.example.com" {
		t.Errorf("media ws url = %q, want derived wss URL", cfg.Server.MediaWSURL)
	}

	a := cfg.AssistantByID("asst-1")
	if a == nil {
		t.Fatal("AssistantByID returned nil")
	}
	if a.Model.Provider != "openai" || a.Voice.VoiceID != "voice-1" {
		t.Errorf("assistant = %+v", a)
	}

	if got := cfg.AssistantForNumber("+15551230000"); got == nil || got.ID != "asst-1" {
		t.Errorf("AssistantForNumber = %v", got)
	}
	if got := cfg.AssistantForNumber("+15559999999"); got != nil {
		t.Errorf("unassigned number resolved to %v", got)
	}
}

func TestLoadFromReaderUnknownField(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("server:\n  listen_adddr: \":1\"\n"))
	if err == nil {
		t.Fatal("expected error for unknown yaml field")
	}
}

func TestEnvOverlay(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("JWT_SECRET", "env-secret")
	t.Setenv("OPENAI_API_KEY", "sk-env")

	cfg, err := LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":7070" {
		t.Errorf("listen addr = %q, want :7070 from PORT", cfg.Server.ListenAddr)
	}
	if cfg.Auth.JWTSecret != "env-secret" {
		t.Errorf("jwt secret = %q, want env value", cfg.Auth.JWTSecret)
	}
	if cfg.Credentials.OpenAIAPIKey != "sk-env" {
		t.Errorf("openai key = %q", cfg.Credentials.OpenAIAPIKey)
	}
}

func TestEnvOverlayDeploymentKeys(t *testing.T) {
	t.Setenv("API_URL", "https://engine.env.example.com")
	t.Setenv("VOICE_ENGINE_WS_URL", "wss://media.env.example.com")
	t.Setenv("API_KEY_SECRET", "hmac-secret")

	cfg, err := LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.PublicBaseURL != "https://engine.env.example.com" {
		t.Errorf("public base url = %q, want API_URL value", cfg.Server.PublicBaseURL)
	}
	if cfg.Server.MediaWSURL != "wss://media.env.example.com" {
		t.Errorf("media ws url = %q, want VOICE_ENGINE_WS_URL value", cfg.Server.MediaWSURL)
	}
	if cfg.Auth.APIKeySecret != "hmac-secret" {
		t.Errorf("api key secret = %q", cfg.Auth.APIKeySecret)
	}
}

func TestEnvOverlayCanonicalKeyShadowsAlias(t *testing.T) {
	t.Setenv("API_URL", "https://canonical.example.com")
	t.Setenv("PUBLIC_BASE_URL", "https://alias.example.com")

	cfg, err := LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.PublicBaseURL != "https://canonical.example.com" {
		t.Errorf("public base url = %q, want API_URL to win over alias", cfg.Server.PublicBaseURL)
	}
}

func TestValidateFailures(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{
			name:    "missing jwt secret",
			mutate:  func(c *Config) { c.Auth.JWTSecret = "" },
			wantSub: "jwt_secret",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Server.LogLevel = "verbose" },
			wantSub: "log_level",
		},
		{
			name:    "bad encryption key length",
			mutate:  func(c *Config) { c.Storage.EncryptionKey = "short" },
			wantSub: "encryption_key",
		},
		{
			name:    "half twilio creds",
			mutate:  func(c *Config) { c.Twilio.AccountSID = "AC123" },
			wantSub: "twilio",
		},
		{
			name: "duplicate assistant id",
			mutate: func(c *Config) {
				c.Assistants = append(c.Assistants, c.Assistants[0])
			},
			wantSub: "duplicate id",
		},
		{
			name: "unknown tts provider",
			mutate: func(c *Config) {
				c.Assistants[0].Voice.Provider = "festival"
			},
			wantSub: "voice.provider",
		},
		{
			name: "sensitivity out of range",
			mutate: func(c *Config) {
				c.Assistants[0].EndpointingSensitivity = 1.5
			},
			wantSub: "endpointing_sensitivity",
		},
		{
			name: "phone number to unknown assistant",
			mutate: func(c *Config) {
				c.PhoneNumbers["+15550001111"] = "asst-missing"
			},
			wantSub: "unknown assistant",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := LoadFromReader(strings.NewReader(minimalYAML))
			if err != nil {
				t.Fatalf("base config invalid: %v", err)
			}
			tc.mutate(cfg)
			err = Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Errorf("error %q does not mention %q", err, tc.wantSub)
			}
		})
	}
}
