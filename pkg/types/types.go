// Package types defines the shared domain types of the Voxpipe voice-agent
// runtime: assistants, tools, calls, call messages, and the LLM conversation
// primitives exchanged between the session engine and the provider adapters.
//
// Everything here is a plain value type. Persistence, transport encoding, and
// provider-native representations live in their respective packages.
package types

import "time"

// CallKind classifies how a call reached the engine.
type CallKind string

const (
	// CallKindWeb is a browser or widget call over the media WebSocket.
	CallKindWeb CallKind = "web"

	// CallKindInbound is a PSTN call ringing in through a carrier.
	CallKindInbound CallKind = "inbound"

	// CallKindOutbound is a PSTN call dialled out through a carrier.
	CallKindOutbound CallKind = "outbound"
)

// CallStatus is the lifecycle state of a call as persisted in the store.
type CallStatus string

const (
	CallStatusQueued     CallStatus = "queued"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusInProgress CallStatus = "in-progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
	CallStatusNoAnswer   CallStatus = "no-answer"
	CallStatusBusy       CallStatus = "busy"
)

// IsValid reports whether s is a recognised call status.
func (s CallStatus) IsValid() bool {
	switch s {
	case CallStatusQueued, CallStatusRinging, CallStatusInProgress,
		CallStatusCompleted, CallStatusFailed, CallStatusNoAnswer, CallStatusBusy:
		return true
	}
	return false
}

// IsTerminal reports whether s is a final call status.
func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusFailed, CallStatusNoAnswer, CallStatusBusy:
		return true
	}
	return false
}

// FirstMessageMode selects who speaks first on a new call.
type FirstMessageMode string

const (
	// AssistantSpeaksFirst synthesises the assistant's configured first
	// message immediately after the call starts.
	AssistantSpeaksFirst FirstMessageMode = "assistant-speaks-first"

	// AssistantWaitsForUser keeps the assistant silent until the user speaks.
	AssistantWaitsForUser FirstMessageMode = "assistant-waits-for-user"
)

// ModelConfig selects and parameterises the LLM used by an assistant.
type ModelConfig struct {
	// Provider is the LLM provider name (e.g., "openai", "anthropic").
	Provider string `yaml:"provider" json:"provider"`

	// Model is the provider-specific model name (e.g., "gpt-4o-mini").
	Model string `yaml:"model" json:"model"`

	// Temperature controls output randomness in [0.0, 2.0].
	Temperature float64 `yaml:"temperature" json:"temperature"`

	// MaxTokens caps completion length. Zero means provider default.
	MaxTokens int `yaml:"max_tokens" json:"maxTokens"`
}

// VoiceConfig selects the TTS provider and voice for an assistant.
type VoiceConfig struct {
	// Provider is the TTS provider name (e.g., "elevenlabs", "cartesia").
	Provider string `yaml:"provider" json:"provider"`

	// VoiceID is the provider-specific voice identifier.
	VoiceID string `yaml:"voice_id" json:"voiceId"`

	// Settings holds provider-specific voice attributes (stability, speed…).
	Settings map[string]any `yaml:"settings" json:"settings,omitempty"`
}

// TranscriberConfig selects the STT provider for an assistant.
type TranscriberConfig struct {
	// Provider is the STT provider name (e.g., "deepgram", "openai").
	Provider string `yaml:"provider" json:"provider"`

	// Model is the provider-specific model name (e.g., "nova-3", "whisper-1").
	Model string `yaml:"model" json:"model"`

	// Language is the BCP-47 recognition language tag. Empty = auto-detect.
	Language string `yaml:"language" json:"language"`
}

// Assistant is the resolved, read-only configuration a session runs with.
// The REST control surface owns CRUD; the engine only ever reads these.
type Assistant struct {
	// ID is the assistant's unique identifier.
	ID string `yaml:"id" json:"id"`

	// OrgID is the owning organization.
	OrgID string `yaml:"org_id" json:"orgId"`

	// Name is the human-readable assistant name.
	Name string `yaml:"name" json:"name"`

	// SystemPrompt seeds the message history of every call.
	SystemPrompt string `yaml:"system_prompt" json:"systemPrompt"`

	// Model configures the LLM stage.
	Model ModelConfig `yaml:"model" json:"model"`

	// Voice configures the TTS stage.
	Voice VoiceConfig `yaml:"voice" json:"voice"`

	// Transcriber configures the STT stage.
	Transcriber TranscriberConfig `yaml:"transcriber" json:"transcriber"`

	// FirstMessage, when non-empty and FirstMessageMode is
	// AssistantSpeaksFirst, is spoken as the opening assistant turn.
	FirstMessage string `yaml:"first_message" json:"firstMessage"`

	// FirstMessageMode selects who speaks first.
	FirstMessageMode FirstMessageMode `yaml:"first_message_mode" json:"firstMessageMode"`

	// InterruptionsEnabled allows user speech to barge in over assistant
	// playback.
	InterruptionsEnabled bool `yaml:"interruptions_enabled" json:"interruptionsEnabled"`

	// SilenceTimeoutMs is the endpointing silence window in milliseconds.
	// The engine caps the effective value at 1200 ms.
	SilenceTimeoutMs int `yaml:"silence_timeout_ms" json:"silenceTimeoutMs"`

	// MaxCallDurationSeconds force-ends the call when exceeded. Zero
	// disables the limit.
	MaxCallDurationSeconds int `yaml:"max_call_duration_seconds" json:"maxCallDurationSeconds"`

	// EndpointingSensitivity tunes the voice-activity threshold in [0, 1].
	// Higher values detect quieter speech.
	EndpointingSensitivity float64 `yaml:"endpointing_sensitivity" json:"endpointingSensitivity"`

	// EndCallEnabled offers the built-in endCall tool to the LLM.
	EndCallEnabled bool `yaml:"end_call_enabled" json:"endCallEnabled"`

	// Tools is the assistant's configured tool set.
	Tools []Tool `yaml:"tools" json:"tools,omitempty"`
}

// ToolKind enumerates the supported tool categories.
type ToolKind string

const (
	// ToolKindFunction is a user-defined HTTP function tool.
	ToolKindFunction ToolKind = "function"

	// ToolKindTransfer transfers the call to another destination.
	ToolKindTransfer ToolKind = "transfer"

	// ToolKindQuery queries a knowledge base.
	ToolKindQuery ToolKind = "query"

	// ToolKindDTMF sends DTMF digits on the call leg.
	ToolKindDTMF ToolKind = "dtmf"

	// ToolKindEndCall ends the call.
	ToolKindEndCall ToolKind = "endCall"
)

// TransferMode selects how a transfer tool hands the call off.
type TransferMode string

const (
	TransferModeBlind       TransferMode = "blind"
	TransferModeWarmSummary TransferMode = "warm-summary"
	TransferModeWarmMessage TransferMode = "warm-message"
)

// TransferDestination is one number a transfer tool may hand the call to.
type TransferDestination struct {
	// Number is the E.164 destination.
	Number string `yaml:"number" json:"number"`

	// Description tells the LLM when this destination is appropriate.
	Description string `yaml:"description" json:"description,omitempty"`
}

// Tool is a single tool configured on an assistant. Exactly one of the
// kind-specific field groups is populated, selected by Kind.
type Tool struct {
	// ID is the tool's unique identifier.
	ID string `yaml:"id" json:"id"`

	// Name is the function name offered to the LLM (function kind only;
	// built-in kinds use fixed projected names).
	Name string `yaml:"name" json:"name"`

	// Kind selects the tool category.
	Kind ToolKind `yaml:"kind" json:"kind"`

	// Description explains what the tool does, included in LLM prompts.
	Description string `yaml:"description" json:"description"`

	// Parameters is the JSON-schema object describing the function tool's
	// arguments. Opaque to the engine; validated at configuration time and
	// passed through to the LLM vendor verbatim.
	Parameters map[string]any `yaml:"parameters" json:"parameters,omitempty"`

	// ServerURL is the HTTP endpoint a function tool is POSTed to.
	ServerURL string `yaml:"server_url" json:"serverUrl,omitempty"`

	// Destinations lists the allowed transfer targets (transfer kind).
	Destinations []TransferDestination `yaml:"destinations" json:"destinations,omitempty"`

	// TransferMode selects the hand-off style (transfer kind).
	TransferMode TransferMode `yaml:"transfer_mode" json:"transferMode,omitempty"`

	// KnowledgeBaseID identifies the knowledge base (query kind).
	KnowledgeBaseID string `yaml:"knowledge_base_id" json:"knowledgeBaseId,omitempty"`
}

// CostBreakdown is the per-stage cost of a call, in cents.
type CostBreakdown struct {
	STTCents   int64 `json:"stt"`
	LLMCents   int64 `json:"llm"`
	TTSCents   int64 `json:"tts"`
	TotalCents int64 `json:"total"`
}

// Call is the persisted record of one call.
type Call struct {
	// ID is the engine's call identifier.
	ID string `json:"id"`

	// OrgID is the owning organization.
	OrgID string `json:"orgId"`

	// Kind classifies the ingress path.
	Kind CallKind `json:"kind"`

	// Status is the current lifecycle state.
	Status CallStatus `json:"status"`

	// From and To are E.164 numbers; empty for web calls.
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	// AssistantID is the assistant handling the call.
	AssistantID string `json:"assistantId"`

	// CarrierMeta holds opaque carrier data (e.g., the carrier call SID).
	CarrierMeta map[string]string `json:"carrierMeta,omitempty"`

	// StartedAt is when the session went in-progress. Zero until then.
	StartedAt time.Time `json:"startedAt,omitzero"`

	// EndedAt is when the session ended. Zero until then.
	EndedAt time.Time `json:"endedAt,omitzero"`

	// DurationSeconds is floor((EndedAt-StartedAt)/1s), never negative.
	DurationSeconds int `json:"durationSeconds"`

	// EndedReason records why the call ended (e.g., "client-disconnect").
	EndedReason string `json:"endedReason,omitempty"`

	// Cost is the per-stage cost breakdown, attached at end of call.
	Cost CostBreakdown `json:"cost"`

	// UserRecordingURI and AssistantRecordingURI locate the raw PCM
	// recordings of each direction.
	UserRecordingURI      string `json:"userRecordingUri,omitempty"`
	AssistantRecordingURI string `json:"assistantRecordingUri,omitempty"`
}

// CallMessage is one entry in a call's append-only conversation log.
type CallMessage struct {
	// ID is the message's unique identifier.
	ID string `json:"id"`

	// CallID is the owning call.
	CallID string `json:"callId"`

	// Role is "system", "user", "assistant", or "tool".
	Role string `json:"role"`

	// Content is the message text, or the serialized tool result for
	// tool-role messages.
	Content string `json:"content"`

	// ToolName, ToolArguments, and ToolResult are set for tool traffic.
	ToolName      string `json:"toolName,omitempty"`
	ToolArguments string `json:"toolArguments,omitempty"`
	ToolResult    string `json:"toolResult,omitempty"`

	// TimestampMs is milliseconds since call start.
	TimestampMs int64 `json:"timestampMs"`

	// Per-turn stage latencies in milliseconds. Zero when not applicable.
	STTLatencyMs int64 `json:"sttLatencyMs,omitempty"`
	LLMLatencyMs int64 `json:"llmLatencyMs,omitempty"`
	TTSLatencyMs int64 `json:"ttsLatencyMs,omitempty"`
}

// Message is a single entry in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user", "assistant", or "tool".
	Role string `json:"role"`

	// Content is the text content of the message.
	Content string `json:"content"`

	// ToolCalls contains tool invocations requested by the assistant.
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`

	// ToolCallID is set when Role is "tool", identifying which tool call
	// this message answers.
	ToolCallID string `json:"toolCallId,omitempty"`
}

// ToolCall is a tool invocation requested by the LLM.
type ToolCall struct {
	// ID is the vendor-assigned identifier for this call.
	ID string `json:"id"`

	// Name is the tool name.
	Name string `json:"name"`

	// Arguments is the JSON-encoded arguments object.
	Arguments string `json:"arguments"`
}

// ToolDefinition describes a tool offered to the LLM.
type ToolDefinition struct {
	// Name is the tool's unique function name.
	Name string `json:"name"`

	// Description explains what the tool does.
	Description string `json:"description"`

	// Parameters is the JSON-schema object for the tool's arguments.
	Parameters map[string]any `json:"parameters"`
}

// Usage holds token accounting returned by the LLM vendor.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// LLMResponse is the uniform result of one LLM generation.
type LLMResponse struct {
	// Content is the assistant's text reply. Empty when the model responds
	// exclusively with tool calls.
	Content string `json:"content"`

	// ToolCalls lists the tool invocations the model requested, in order.
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`

	// Usage is the vendor's token accounting, when reported.
	Usage Usage `json:"usage"`
}
