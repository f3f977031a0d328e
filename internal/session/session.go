// Package session implements the per-call orchestrator: audio ingress,
// endpointing, the STT→LLM→TTS turn pipeline with tool calls, barge-in,
// cost accounting and transcript persistence.
//
// Concurrency model: all session state is guarded by a single mutex. The
// mutex is released around every blocking provider call (STT, LLM, TTS,
// tool servers); on re-acquire the handler re-validates that the session is
// still live and, for synthesis, that its generation is still current. This
// serializes every state transition while keeping audio ingress responsive
// during provider round trips.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxpipe-ai/voxpipe/internal/observe"
	"github.com/voxpipe-ai/voxpipe/internal/store"
	"github.com/voxpipe-ai/voxpipe/internal/tools"
	"github.com/voxpipe-ai/voxpipe/pkg/audio"
	"github.com/voxpipe-ai/voxpipe/pkg/audio/vad"
	"github.com/voxpipe-ai/voxpipe/pkg/provider"
	"github.com/voxpipe-ai/voxpipe/pkg/provider/llm"
	"github.com/voxpipe-ai/voxpipe/pkg/provider/stt"
	"github.com/voxpipe-ai/voxpipe/pkg/provider/tts"
	"github.com/voxpipe-ai/voxpipe/pkg/types"
)

const (
	// maxSilenceTimeout is the hard ceiling on the endpointing silence
	// window, keeping conversational latency bounded irrespective of the
	// configured value.
	maxSilenceTimeout = 1200 * time.Millisecond

	// defaultSilenceTimeout applies when the assistant configures none.
	defaultSilenceTimeout = 800 * time.Millisecond

	// minPlaybackDelay and playbackGrace shape the playback timer:
	// max(minPlaybackDelay, duration+playbackGrace).
	minPlaybackDelay = 500 * time.Millisecond
	playbackGrace    = 200 * time.Millisecond
)

// Socket abstracts the media transport so tests can drive a session without
// a WebSocket. Implementations must serialize their own writes.
type Socket interface {
	// SendEvent delivers a server-to-client event as a text frame.
	SendEvent(ev Event) error

	// SendAudio delivers synthesized PCM as a binary frame.
	SendAudio(pcm []byte) error

	// Close closes the transport.
	Close() error
}

// Transferer drives carrier-side call transfers; the telephony adapter
// implements it for PSTN calls.
type Transferer interface {
	Transfer(ctx context.Context, callID, destination string) error
}

// DigitSender plays DTMF digits on the carrier leg. A Transferer that also
// implements it receives the digits of pressDigits tool calls.
type DigitSender interface {
	SendDigits(ctx context.Context, callID, digits string) error
}

// Config carries everything a session needs at construction.
type Config struct {
	CallID    string
	OrgID     string
	Kind      types.CallKind
	Assistant *types.Assistant

	Socket      Socket
	Store       store.Store
	Recordings  *store.Recordings
	Metrics     *observe.Metrics
	Transcriber stt.Transcriber
	LLM         llm.Provider
	TTS         tts.Synthesizer
	Tools       *tools.Executor

	// EgressSampleRate is the PCM rate sent to the client. Provider output
	// at a different native rate is resampled.
	EgressSampleRate int

	// Transferer handles transferCall tool results. Nil for web calls.
	Transferer Transferer

	// OnEnd is invoked exactly once after the session has fully ended.
	OnEnd func(callID, reason string)

	Logger *slog.Logger
}

// Session is one live call.
type Session struct {
	cfg Config
	log *slog.Logger
	vad *vad.Detector

	mu           sync.Mutex
	state        State
	ended        bool
	endReason    string
	synthID      uint64
	inputBuf     []byte
	isSpeaking   bool
	silenceStart time.Time
	history      []types.Message
	startTime    time.Time
	msgCount     int

	playbackTimer *time.Timer
	maxDurTimer   *time.Timer
	endCh         chan struct{}

	// Rolling latency sums for the info endpoint, in milliseconds.
	sttLatencySum, sttTurns int64
	llmLatencySum, llmTurns int64
	ttsLatencySum, ttsTurns int64
}

// New constructs a session in the idle state with the system prompt seeded
// into the history.
func New(cfg Config) *Session {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Session{
		cfg:   cfg,
		log:   log.With("call_id", cfg.CallID, "assistant_id", cfg.Assistant.ID),
		vad:   vad.New(cfg.Assistant.EndpointingSensitivity),
		state: StateIdle,
		endCh: make(chan struct{}),
	}
	if cfg.Assistant.SystemPrompt != "" {
		s.history = append(s.history, types.Message{Role: "system", Content: cfg.Assistant.SystemPrompt})
	}
	return s
}

// CallID returns the session's call ID.
func (s *Session) CallID() string { return s.cfg.CallID }

// Info is the session snapshot served by the lifecycle endpoints.
type Info struct {
	CallID          string  `json:"callId"`
	AssistantID     string  `json:"assistantId"`
	State           State   `json:"state"`
	DurationSeconds int     `json:"durationSeconds"`
	MessageCount    int     `json:"messageCount"`
	AvgSTTLatencyMs float64 `json:"avgSttLatencyMs"`
	AvgLLMLatencyMs float64 `json:"avgLlmLatencyMs"`
	AvgTTSLatencyMs float64 `json:"avgTtsLatencyMs"`
}

// Info returns a point-in-time snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{
		CallID:       s.cfg.CallID,
		AssistantID:  s.cfg.Assistant.ID,
		State:        s.state,
		MessageCount: s.msgCount,
	}
	if !s.startTime.IsZero() {
		info.DurationSeconds = int(time.Since(s.startTime).Seconds())
	}
	if s.sttTurns > 0 {
		info.AvgSTTLatencyMs = float64(s.sttLatencySum) / float64(s.sttTurns)
	}
	if s.llmTurns > 0 {
		info.AvgLLMLatencyMs = float64(s.llmLatencySum) / float64(s.llmTurns)
	}
	if s.ttsTurns > 0 {
		info.AvgTTSLatencyMs = float64(s.ttsLatencySum) / float64(s.ttsTurns)
	}
	return info
}

// Start runs the session until it ends. It marks the call in-progress,
// emits call.started, optionally speaks the first message, then blocks on
// the end signal (or ctx, which ends the session with "server-shutdown").
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return nil
	}

	s.startTime = time.Now()
	if err := s.cfg.Store.UpdateCallStatus(ctx, s.cfg.CallID, types.CallStatusInProgress, s.startTime); err != nil {
		s.log.Error("mark call in-progress", "error", err)
	}

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RecordCallStarted(ctx, string(s.cfg.Kind))
		s.cfg.Metrics.ActiveSessions.Add(ctx, 1)
	}

	s.emitLocked(EventCallStarted, map[string]any{
		"callId": s.cfg.CallID,
		"assistant": map[string]any{
			"id":   s.cfg.Assistant.ID,
			"name": s.cfg.Assistant.Name,
		},
	})
	s.state = StateListening

	if d := s.cfg.Assistant.MaxCallDurationSeconds; d > 0 {
		s.maxDurTimer = time.AfterFunc(time.Duration(d)*time.Second, func() {
			s.End("max-duration")
		})
	}

	if msg := s.cfg.Assistant.FirstMessage; msg != "" && s.cfg.Assistant.FirstMessageMode != types.AssistantWaitsForUser {
		s.history = append(s.history, types.Message{Role: "assistant", Content: msg})
		s.emitLocked(EventAssistantMessage, map[string]any{"text": msg})
		s.persistLocked(&types.CallMessage{Role: "assistant", Content: msg, TimestampMs: 0})
		s.synthesizeAndPlayLocked(ctx, msg, 0)
	}
	s.mu.Unlock()

	select {
	case <-s.endCh:
	case <-ctx.Done():
		s.End("server-shutdown")
		<-s.endCh
	}
	return nil
}

// HandleAudio processes one inbound PCM frame in arrival order.
func (s *Session) HandleAudio(ctx context.Context, frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended || s.state == StateTerminated {
		return
	}

	if s.cfg.Recordings != nil {
		s.cfg.Recordings.AppendUser(s.cfg.CallID, frame)
	}

	// Barge-in: voice over assistant playback invalidates the synthesis
	// and flips straight back to listening.
	if s.state == StateSpeaking && s.cfg.Assistant.InterruptionsEnabled {
		if s.vad.HasVoice(frame) {
			s.interruptLocked(ctx)
			s.inputBuf = append(s.inputBuf, frame...)
			s.isSpeaking = true
			s.silenceStart = time.Time{}
			s.emitLocked(EventSpeechStarted, nil)
		}
		return
	}

	s.inputBuf = append(s.inputBuf, frame...)

	if s.vad.HasVoice(frame) {
		if !s.isSpeaking {
			s.emitLocked(EventSpeechStarted, nil)
		}
		s.isSpeaking = true
		s.silenceStart = time.Time{}
		return
	}

	if !s.isSpeaking {
		return
	}
	now := time.Now()
	if s.silenceStart.IsZero() {
		s.silenceStart = now
		s.log.Debug("endpointing: silence window opened")
		return
	}
	if s.state == StateListening && now.Sub(s.silenceStart) > s.silenceTimeout() {
		s.isSpeaking = false
		s.silenceStart = time.Time{}
		s.emitLocked(EventSpeechEnded, nil)
		s.processUserSpeechLocked(ctx)
	}
}

// silenceTimeout returns the effective endpointing window: the configured
// value capped at maxSilenceTimeout.
func (s *Session) silenceTimeout() time.Duration {
	t := time.Duration(s.cfg.Assistant.SilenceTimeoutMs) * time.Millisecond
	if t <= 0 {
		t = defaultSilenceTimeout
	}
	return min(t, maxSilenceTimeout)
}

// HandleControl dispatches one client control message.
func (s *Session) HandleControl(ctx context.Context, raw []byte) {
	var ctl Control
	if err := json.Unmarshal(raw, &ctl); err != nil {
		s.log.Warn("malformed control message", "error", err)
		return
	}

	switch ctl.Type {
	case ControlEnd:
		s.End("client-request")
	case ControlInterrupt:
		s.mu.Lock()
		if !s.ended {
			s.interruptLocked(ctx)
		}
		s.mu.Unlock()
	case ControlConfig:
		// Reserved.
	default:
		s.log.Warn("unknown control message", "type", ctl.Type)
	}
}

// HandleClose ends the session when the client disappears.
func (s *Session) HandleClose() {
	s.End("client-disconnect")
}

// processUserSpeechLocked runs the STT stage for the buffered utterance.
// Called and returns with s.mu held; unlocks around the provider call.
func (s *Session) processUserSpeechLocked(ctx context.Context) {
	pcm := s.inputBuf
	s.inputBuf = nil
	if len(pcm) == 0 {
		return
	}

	s.state = StateThinking
	s.emitLocked(EventAssistantThinking, nil)

	sttStart := time.Now()
	s.mu.Unlock()
	text, err := s.cfg.Transcriber.Transcribe(ctx, pcm)
	s.mu.Lock()
	sttLatency := time.Since(sttStart)

	if s.ended {
		return
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.STTDuration.Record(ctx, sttLatency.Seconds())
	}
	if err != nil {
		s.recoverTurnLocked(ctx, "stt", err)
		return
	}

	text = strings.TrimSpace(text)
	if text == "" {
		s.state = StateListening
		return
	}

	s.sttLatencySum += sttLatency.Milliseconds()
	s.sttTurns++

	s.emitLocked(EventTranscriptFinal, map[string]any{"text": text})
	s.history = append(s.history, types.Message{Role: "user", Content: text})
	s.persistLocked(&types.CallMessage{
		Role:         "user",
		Content:      text,
		TimestampMs:  s.elapsedMsLocked(),
		STTLatencyMs: sttLatency.Milliseconds(),
	})

	s.generateResponseLocked(ctx)
}

// generateResponseLocked runs one LLM turn, executing tool calls and
// recursing until the model produces speakable content (or nothing).
// Called and returns with s.mu held.
func (s *Session) generateResponseLocked(ctx context.Context) {
	req := llm.Request{
		Messages:    s.history,
		Temperature: s.cfg.Assistant.Model.Temperature,
		MaxTokens:   s.cfg.Assistant.Model.MaxTokens,
	}
	if s.cfg.Tools != nil {
		req.Tools = s.cfg.Tools.Definitions()
	}

	llmStart := time.Now()
	s.mu.Unlock()
	resp, err := s.cfg.LLM.Generate(ctx, req)
	s.mu.Lock()
	llmLatency := time.Since(llmStart)

	if s.ended {
		return
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.LLMDuration.Record(ctx, llmLatency.Seconds())
	}
	if err != nil {
		s.recoverTurnLocked(ctx, "llm", err)
		return
	}

	s.llmLatencySum += llmLatency.Milliseconds()
	s.llmTurns++

	if len(resp.ToolCalls) > 0 {
		s.history = append(s.history, types.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		if s.handleToolCallsLocked(ctx, resp.ToolCalls) {
			// Terminal tool (endCall / transferCall): no further turns.
			return
		}
		s.generateResponseLocked(ctx)
		return
	}

	content := strings.TrimSpace(resp.Content)
	if content == "" {
		s.state = StateListening
		return
	}

	s.history = append(s.history, types.Message{Role: "assistant", Content: content})
	s.emitLocked(EventAssistantMessage, map[string]any{"text": content})
	s.persistLocked(&types.CallMessage{
		Role:         "assistant",
		Content:      content,
		TimestampMs:  s.elapsedMsLocked(),
		LLMLatencyMs: llmLatency.Milliseconds(),
	})

	s.synthesizeAndPlayLocked(ctx, content, llmLatency)
}

// handleToolCallsLocked executes the turn's tool calls. It reports true
// when a terminal tool (endCall, transferCall) consumed the turn.
func (s *Session) handleToolCallsLocked(ctx context.Context, calls []types.ToolCall) bool {
	for _, tc := range calls {
		s.emitLocked(EventToolCalled, map[string]any{"name": tc.Name, "arguments": tc.Arguments})

		switch tc.Name {
		case "endCall":
			s.endLocked(ctx, "assistant-ended")
			return true

		case "transferCall":
			dest := toolCallDestination(tc.Arguments)
			s.emitLocked(EventTransferStarted, map[string]any{"destination": dest})
			if s.cfg.Metrics != nil {
				s.cfg.Metrics.RecordToolCall(ctx, tc.Name, "ok")
			}
			if s.cfg.Transferer != nil && dest != "" {
				transferer, callID := s.cfg.Transferer, s.cfg.CallID
				s.mu.Unlock()
				err := transferer.Transfer(ctx, callID, dest)
				s.mu.Lock()
				if err != nil {
					s.log.Error("carrier transfer", "destination", dest, "error", err)
				}
			}
			if !s.ended {
				s.state = StateListening
			}
			return true
		}

		toolStart := time.Now()
		var result map[string]any
		if s.cfg.Tools != nil {
			s.mu.Unlock()
			result = s.cfg.Tools.Execute(ctx, tc.Name, tc.Arguments)
			s.mu.Lock()
		} else {
			result = map[string]any{"error": "no tools configured"}
		}
		if s.ended {
			return true
		}

		status := "ok"
		if _, failed := result["error"]; failed {
			status = "error"
		}

		if action, _ := result["action"].(string); action == "dtmf" {
			if sender, ok := s.cfg.Transferer.(DigitSender); ok {
				digits, _ := result["digits"].(string)
				callID := s.cfg.CallID
				s.mu.Unlock()
				dtmfErr := sender.SendDigits(ctx, callID, digits)
				s.mu.Lock()
				if dtmfErr != nil {
					s.log.Error("send digits", "error", dtmfErr)
				}
				if s.ended {
					return true
				}
			}
		}
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.ToolDuration.Record(ctx, time.Since(toolStart).Seconds())
			s.cfg.Metrics.RecordToolCall(ctx, tc.Name, status)
		}

		payload, err := json.Marshal(result)
		if err != nil {
			payload = []byte(`{"error":"unencodable tool result"}`)
		}

		s.emitLocked(EventToolResult, map[string]any{"name": tc.Name, "result": result})
		s.history = append(s.history, types.Message{
			Role:       "tool",
			Content:    string(payload),
			ToolCallID: tc.ID,
		})
		s.persistLocked(&types.CallMessage{
			Role:          "tool",
			Content:       string(payload),
			ToolName:      tc.Name,
			ToolArguments: tc.Arguments,
			ToolResult:    string(payload),
			TimestampMs:   s.elapsedMsLocked(),
		})
	}
	return false
}

// synthesizeAndPlayLocked runs the TTS stage for one assistant utterance.
// Called and returns with s.mu held; unlocks around the provider call.
// Audio whose synthesis generation went stale during the round trip is
// discarded — barge-in never cancels the HTTP call, it outdates the result.
func (s *Session) synthesizeAndPlayLocked(ctx context.Context, text string, llmLatency time.Duration) {
	s.state = StateSpeaking
	s.synthID++
	sid := s.synthID

	ttsStart := time.Now()
	s.mu.Unlock()
	pcm, err := s.cfg.TTS.Synthesize(ctx, text)
	s.mu.Lock()
	ttsLatency := time.Since(ttsStart)

	if s.ended {
		return
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.TTSDuration.Record(ctx, ttsLatency.Seconds())
	}
	if err != nil {
		s.recoverTurnLocked(ctx, "tts", err)
		return
	}
	if s.state != StateSpeaking || s.synthID != sid {
		// Interrupted while synthesizing.
		return
	}

	s.ttsLatencySum += ttsLatency.Milliseconds()
	s.ttsTurns++

	if rate := s.cfg.TTS.SampleRate(); rate != s.cfg.EgressSampleRate {
		pcm = audio.Resample(pcm, rate, s.cfg.EgressSampleRate)
	}

	s.emitLocked(EventAssistantSpeaking, nil)
	if err := s.cfg.Socket.SendAudio(pcm); err != nil {
		s.log.Error("send audio", "error", err)
	}
	if s.cfg.Recordings != nil {
		s.cfg.Recordings.AppendAssistant(s.cfg.CallID, pcm)
	}

	duration := audio.Duration(len(pcm), s.cfg.EgressSampleRate)
	delay := max(minPlaybackDelay, duration+playbackGrace)

	s.playbackTimer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.ended || s.state != StateSpeaking || s.synthID != sid {
			return
		}
		s.state = StateListening
		s.isSpeaking = false
		s.inputBuf = nil
		s.emitLocked(EventAssistantAudioDone, nil)
	})
}

// interruptLocked handles barge-in: it invalidates the current synthesis
// generation and flips to listening. Only meaningful while speaking.
func (s *Session) interruptLocked(ctx context.Context) {
	if s.state != StateSpeaking {
		return
	}
	s.synthID++
	if s.playbackTimer != nil {
		s.playbackTimer.Stop()
	}
	s.state = StateListening
	s.inputBuf = nil
	s.emitLocked(EventAssistantInterrupted, map[string]any{
		"clearAudio": true,
		"reason":     "user-speech",
	})
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.Interruptions.Add(ctx, 1)
	}
}

// recoverTurnLocked coerces a recoverable provider failure back into the
// listening state: the call continues, the turn is lost.
func (s *Session) recoverTurnLocked(ctx context.Context, stage string, err error) {
	s.log.Error("provider failure, recovering turn", "stage", stage, "error", err)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RecordProviderError(ctx, providerName(err), stage)
	}
	s.state = StateListening
	s.isSpeaking = false
	s.emitLocked(EventAssistantAudioDone, nil)
}

// End terminates the session with the given reason. Idempotent: only the
// first call takes effect.
func (s *Session) End(reason string) {
	s.mu.Lock()
	s.endLocked(context.Background(), reason)
	s.mu.Unlock()
}

// endLocked is the single terminator. Called with s.mu held.
func (s *Session) endLocked(ctx context.Context, reason string) {
	if s.ended {
		return
	}
	s.ended = true
	s.endReason = reason
	s.state = StateTerminated

	if s.playbackTimer != nil {
		s.playbackTimer.Stop()
	}
	if s.maxDurTimer != nil {
		s.maxDurTimer.Stop()
	}

	endedAt := time.Now()
	var duration time.Duration
	if !s.startTime.IsZero() {
		duration = endedAt.Sub(s.startTime)
	}
	durationSeconds := int(duration.Seconds())
	cost := ComputeCost(duration)

	if err := s.cfg.Store.FinalizeCall(ctx, s.cfg.CallID, reason, endedAt, durationSeconds, cost); err != nil {
		s.log.Error("finalize call", "error", err)
	}

	s.emitLocked(EventCallEnded, map[string]any{
		"reason":   reason,
		"duration": durationSeconds,
		"costs": map[string]any{
			"sttCents":   cost.STTCents,
			"llmCents":   cost.LLMCents,
			"ttsCents":   cost.TTSCents,
			"totalCents": cost.TotalCents,
		},
	})

	if s.cfg.Recordings != nil {
		userURI, asstURI, err := s.cfg.Recordings.Flush(s.cfg.CallID)
		if err != nil {
			s.log.Error("flush recordings", "error", err)
		} else if userURI != "" || asstURI != "" {
			if err := s.cfg.Store.SetRecordingURIs(ctx, s.cfg.CallID, userURI, asstURI); err != nil {
				s.log.Error("set recording uris", "error", err)
			}
		}
	}

	if err := s.cfg.Socket.Close(); err != nil {
		s.log.Debug("close socket", "error", err)
	}

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RecordCallEnded(ctx, reason)
		s.cfg.Metrics.ActiveSessions.Add(ctx, -1)
	}

	s.log.Info("call ended", "reason", reason, "duration_s", durationSeconds, "messages", s.msgCount)

	close(s.endCh)
	if s.cfg.OnEnd != nil {
		// Outside the lock: the callback typically deregisters the session.
		go s.cfg.OnEnd(s.cfg.CallID, reason)
	}
}

// emitLocked sends one event to the client, preserving emission order.
func (s *Session) emitLocked(typ string, data any) {
	if err := s.cfg.Socket.SendEvent(NewEvent(typ, data)); err != nil {
		s.log.Debug("emit event", "type", typ, "error", err)
	}
}

// persistLocked appends one CallMessage, assigning its ID and call.
func (s *Session) persistLocked(msg *types.CallMessage) {
	msg.ID = uuid.NewString()
	msg.CallID = s.cfg.CallID
	if err := s.cfg.Store.AppendMessage(context.Background(), msg); err != nil {
		s.log.Error("persist message", "role", msg.Role, "error", err)
	}
	s.msgCount++
}

// elapsedMsLocked returns milliseconds since call start.
func (s *Session) elapsedMsLocked() int64 {
	if s.startTime.IsZero() {
		return 0
	}
	return time.Since(s.startTime).Milliseconds()
}

// toolCallDestination extracts the destination argument of a transferCall.
func toolCallDestination(arguments string) string {
	var args struct {
		Destination string `json:"destination"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return ""
	}
	return args.Destination
}

// providerName pulls the vendor out of a provider error for metrics.
func providerName(err error) string {
	var perr *provider.Error
	if errors.As(err, &perr) {
		return perr.Provider
	}
	return "unknown"
}
