package session

import "time"

// Server-to-client event types carried as WebSocket text frames.
const (
	EventTest                 = "test"
	EventCallStarted          = "call.started"
	EventCallEnded            = "call.ended"
	EventSpeechStarted        = "speech.started"
	EventSpeechEnded          = "speech.ended"
	EventTranscriptPartial    = "transcript.partial"
	EventTranscriptFinal      = "transcript.final"
	EventAssistantThinking    = "assistant.thinking"
	EventAssistantMessage     = "assistant.message"
	EventAssistantSpeaking    = "assistant.speaking"
	EventAssistantAudioDone   = "assistant.audio.done"
	EventAssistantInterrupted = "assistant.interrupted"
	EventToolCalled           = "tool.called"
	EventToolResult           = "tool.result"
	EventTransferStarted      = "transfer.started"
	EventError                = "error"
)

// Client-to-server control message types.
const (
	ControlEnd       = "end"
	ControlInterrupt = "interrupt"
	ControlConfig    = "config"
)

// Event is one server-to-client message.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`

	// Timestamp is Unix milliseconds at emit time.
	Timestamp int64 `json:"timestamp"`
}

// NewEvent stamps an event with the current time.
func NewEvent(typ string, data any) Event {
	return Event{Type: typ, Data: data, Timestamp: time.Now().UnixMilli()}
}

// Control is one client-to-server control message. Unknown fields are
// ignored so the config type can grow without breaking older clients.
type Control struct {
	Type string `json:"type"`
}
