package session

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/voxpipe-ai/voxpipe/internal/store"
	"github.com/voxpipe-ai/voxpipe/internal/tools"
	"github.com/voxpipe-ai/voxpipe/pkg/audio"
	"github.com/voxpipe-ai/voxpipe/pkg/provider"
	llmmock "github.com/voxpipe-ai/voxpipe/pkg/provider/llm/mock"
	sttmock "github.com/voxpipe-ai/voxpipe/pkg/provider/stt/mock"
	ttsmock "github.com/voxpipe-ai/voxpipe/pkg/provider/tts/mock"
	"github.com/voxpipe-ai/voxpipe/pkg/types"
)

// fakeSocket records everything the session sends.
type fakeSocket struct {
	mu     sync.Mutex
	events []Event
	audio  [][]byte
	closed bool
}

func newFakeSocket() *fakeSocket { return &fakeSocket{} }

func (f *fakeSocket) SendEvent(ev Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeSocket) SendAudio(pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	f.audio = append(f.audio, cp)
	return nil
}

func (f *fakeSocket) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSocket) eventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, ev := range f.events {
		out[i] = ev.Type
	}
	return out
}

func (f *fakeSocket) count(typ string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ev := range f.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func (f *fakeSocket) audioFrames() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.audio)
}

// waitFor polls until an event of the given type shows up.
func (f *fakeSocket) waitFor(t *testing.T, typ string, timeout time.Duration) Event {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		for _, ev := range f.events {
			if ev.Type == typ {
				f.mu.Unlock()
				return ev
			}
		}
		f.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("event %q not emitted within %v; saw %v", typ, timeout, f.eventTypes())
	return Event{}
}

type testProviders struct {
	stt *sttmock.Transcriber
	llm *llmmock.Provider
	tts *ttsmock.Synthesizer
}

func testAssistant() *types.Assistant {
	return &types.Assistant{
		ID:                   "asst-1",
		Name:                 "Receptionist",
		SystemPrompt:         "You answer the phone.",
		Model:                types.ModelConfig{Provider: "openai", Model: "gpt-4o-mini", Temperature: 0.7},
		InterruptionsEnabled: true,
		SilenceTimeoutMs:     1,
	}
}

// newTestSession builds a session over mocks and an in-memory store. When p
// is nil, default mocks are used.
func newTestSession(t *testing.T, asst *types.Assistant, sock *fakeSocket, p *testProviders) *Session {
	t.Helper()
	if p == nil {
		p = &testProviders{}
	}
	if p.stt == nil {
		p.stt = &sttmock.Transcriber{Transcript: "what time is it"}
	}
	if p.llm == nil {
		p.llm = &llmmock.Provider{Response: &types.LLMResponse{Content: "It is 3 pm."}}
	}
	if p.tts == nil {
		p.tts = &ttsmock.Synthesizer{Rate: 16000}
	}

	st := store.NewMemoryStore()
	call := &types.Call{ID: "call-1", Kind: types.CallKindWeb, Status: types.CallStatusQueued, AssistantID: asst.ID}
	if err := st.UpsertCall(context.Background(), call); err != nil {
		t.Fatalf("seed call: %v", err)
	}

	s := New(Config{
		CallID:           "call-1",
		Kind:             types.CallKindWeb,
		Assistant:        asst,
		Socket:           sock,
		Store:            st,
		Transcriber:      p.stt,
		LLM:              p.llm,
		TTS:              p.tts,
		EgressSampleRate: 16000,
	})
	t.Cleanup(func() { s.End("test-cleanup") })
	return s
}

// start launches Start in the background and waits for call.started.
func start(t *testing.T, s *Session, sock *fakeSocket) {
	t.Helper()
	go func() { _ = s.Start(context.Background()) }()
	sock.waitFor(t, EventCallStarted, time.Second)
}

// voiceFrame and silenceFrame build 20 ms of 16 kHz PCM.
func voiceFrame() []byte {
	frame := make([]byte, 640)
	for i := 0; i < len(frame); i += 2 {
		binary.LittleEndian.PutUint16(frame[i:], uint16(int16(2000)))
	}
	return frame
}

func silenceFrame() []byte { return make([]byte, 640) }

// speak streams a voiced utterance followed by enough silence to trigger
// endpointing (the test assistants use a 1 ms silence window).
func speak(s *Session) {
	ctx := context.Background()
	s.HandleAudio(ctx, voiceFrame())
	s.HandleAudio(ctx, silenceFrame()) // opens the silence window
	time.Sleep(10 * time.Millisecond)
	s.HandleAudio(ctx, silenceFrame()) // exceeds it
}

func TestHappyPathWithFirstMessage(t *testing.T) {
	t.Parallel()

	asst := testAssistant()
	asst.FirstMessage = "Hi."

	sock := newFakeSocket()
	p := &testProviders{
		stt: &sttmock.Transcriber{Transcript: "what time is it"},
		llm: &llmmock.Provider{Response: &types.LLMResponse{Content: "It is 3 pm."}},
		tts: &ttsmock.Synthesizer{Rate: 16000},
	}
	s := newTestSession(t, asst, sock, p)
	start(t, s, sock)

	// First message: spoken, persisted at t=0, playback completes.
	sock.waitFor(t, EventAssistantMessage, time.Second)
	sock.waitFor(t, EventAssistantAudioDone, 2*time.Second)
	if got := p.tts.LastText(); got != "Hi." {
		t.Errorf("first synthesis = %q", got)
	}

	// User turn.
	speak(s)
	sock.waitFor(t, EventSpeechStarted, time.Second)
	sock.waitFor(t, EventSpeechEnded, time.Second)
	sock.waitFor(t, EventAssistantThinking, time.Second)

	ev := sock.waitFor(t, EventTranscriptFinal, time.Second)
	if ev.Data.(map[string]any)["text"] != "what time is it" {
		t.Errorf("transcript = %v", ev.Data)
	}

	deadline := time.Now().Add(2 * time.Second)
	for sock.count(EventAssistantMessage) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if sock.count(EventAssistantMessage) != 2 {
		t.Fatalf("assistant messages = %d, want 2; events %v", sock.count(EventAssistantMessage), sock.eventTypes())
	}
	if got := p.llm.LastRequest().Messages; len(got) < 3 {
		t.Errorf("llm history = %d messages", len(got))
	}

	s.End("client-request")
	ended := sock.waitFor(t, EventCallEnded, time.Second)
	if ended.Data.(map[string]any)["reason"] != "client-request" {
		t.Errorf("ended = %v", ended.Data)
	}

	// Event sequence brackets: starts with call.started, ends with call.ended.
	typesSeen := sock.eventTypes()
	if typesSeen[0] != EventCallStarted || typesSeen[len(typesSeen)-1] != EventCallEnded {
		t.Errorf("event brackets = %v", typesSeen)
	}
}

func TestFirstMessagePersistedOnceAtZero(t *testing.T) {
	t.Parallel()

	asst := testAssistant()
	asst.FirstMessage = "Hi."

	sock := newFakeSocket()
	p := &testProviders{}
	s := newTestSession(t, asst, sock, p)
	start(t, s, sock)
	// assistant.speaking is emitted after the message is persisted.
	sock.waitFor(t, EventAssistantSpeaking, 2*time.Second)

	msgs, err := s.cfg.Store.ListMessages(context.Background(), "call-1")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	var firstMsgs int
	for _, m := range msgs {
		if m.Role == "assistant" && m.Content == "Hi." {
			firstMsgs++
			if m.TimestampMs != 0 {
				t.Errorf("first message timestamp = %d, want 0", m.TimestampMs)
			}
		}
	}
	if firstMsgs != 1 {
		t.Errorf("first message persisted %d times", firstMsgs)
	}
}

func TestZeroTranscriptSkipsLLM(t *testing.T) {
	t.Parallel()

	sock := newFakeSocket()
	p := &testProviders{
		stt: &sttmock.Transcriber{Transcript: "   "},
		llm: &llmmock.Provider{},
	}
	s := newTestSession(t, testAssistant(), sock, p)
	start(t, s, sock)

	speak(s)
	sock.waitFor(t, EventSpeechEnded, time.Second)

	deadline := time.Now().Add(300 * time.Millisecond)
	for p.stt.CallCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if p.stt.CallCount() == 0 {
		t.Fatal("stt never invoked")
	}
	if p.llm.CallCount() != 0 {
		t.Errorf("llm invoked %d times on empty transcript", p.llm.CallCount())
	}
	if sock.count(EventTranscriptFinal) != 0 {
		t.Error("transcript.final emitted for empty transcript")
	}
	if got := s.Info().State; got != StateListening {
		t.Errorf("state = %q, want listening", got)
	}
}

func TestInterruptionDiscardsSynthesis(t *testing.T) {
	t.Parallel()

	sock := newFakeSocket()
	// 2 seconds of audio keeps the session speaking long enough to barge in.
	p := &testProviders{
		tts: &ttsmock.Synthesizer{Rate: 16000, Audio: make([]byte, 64000)},
	}
	s := newTestSession(t, testAssistant(), sock, p)
	start(t, s, sock)

	speak(s)
	sock.waitFor(t, EventAssistantSpeaking, 2*time.Second)

	// Voice during playback.
	s.HandleAudio(context.Background(), voiceFrame())

	ev := sock.waitFor(t, EventAssistantInterrupted, time.Second)
	data := ev.Data.(map[string]any)
	if data["clearAudio"] != true || data["reason"] != "user-speech" {
		t.Errorf("interrupted payload = %v", data)
	}
	if got := s.Info().State; got != StateListening {
		t.Errorf("state after interrupt = %q", got)
	}

	// The interrupted synthesis must never complete.
	time.Sleep(800 * time.Millisecond)
	if sock.count(EventAssistantAudioDone) != 0 {
		t.Error("audio.done emitted for interrupted synthesis")
	}
}

func TestEndIdempotent(t *testing.T) {
	t.Parallel()

	sock := newFakeSocket()
	s := newTestSession(t, testAssistant(), sock, nil)
	start(t, s, sock)

	for i := 0; i < 3; i++ {
		s.End("client-request")
	}
	time.Sleep(50 * time.Millisecond)

	if got := sock.count(EventCallEnded); got != 1 {
		t.Errorf("call.ended emitted %d times", got)
	}

	call, err := s.cfg.Store.GetCall(context.Background(), "call-1")
	if err != nil {
		t.Fatalf("GetCall: %v", err)
	}
	if call.Status != types.CallStatusCompleted || call.EndedReason != "client-request" {
		t.Errorf("call = %+v", call)
	}
}

func TestEndCallTool(t *testing.T) {
	t.Parallel()

	sock := newFakeSocket()
	p := &testProviders{
		llm: &llmmock.Provider{Response: &types.LLMResponse{
			ToolCalls: []types.ToolCall{{ID: "c1", Name: "endCall", Arguments: `{"reason":"done"}`}},
		}},
	}
	s := newTestSession(t, testAssistant(), sock, p)
	start(t, s, sock)

	speak(s)
	sock.waitFor(t, EventToolCalled, time.Second)
	ev := sock.waitFor(t, EventCallEnded, time.Second)
	if ev.Data.(map[string]any)["reason"] != "assistant-ended" {
		t.Errorf("reason = %v", ev.Data)
	}

	sock.mu.Lock()
	closed := sock.closed
	sock.mu.Unlock()
	if !closed {
		t.Error("socket not closed after endCall")
	}
}

func TestTransferToolEndsTurnWithoutAudio(t *testing.T) {
	t.Parallel()

	sock := newFakeSocket()
	p := &testProviders{
		llm: &llmmock.Provider{Response: &types.LLMResponse{
			ToolCalls: []types.ToolCall{{ID: "c1", Name: "transferCall", Arguments: `{"destination":"+15551234"}`}},
		}},
		tts: &ttsmock.Synthesizer{Rate: 16000},
	}
	s := newTestSession(t, testAssistant(), sock, p)
	start(t, s, sock)

	speak(s)
	sock.waitFor(t, EventToolCalled, time.Second)
	ev := sock.waitFor(t, EventTransferStarted, time.Second)
	if ev.Data.(map[string]any)["destination"] != "+15551234" {
		t.Errorf("transfer payload = %v", ev.Data)
	}

	time.Sleep(50 * time.Millisecond)
	if p.tts.CallCount() != 0 {
		t.Errorf("tts invoked %d times on a transfer turn", p.tts.CallCount())
	}
	if p.llm.CallCount() != 1 {
		t.Errorf("llm invoked %d times, want 1", p.llm.CallCount())
	}
}

func TestToolCallThenContent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"slot":"10:00"}`))
	}))
	defer srv.Close()

	exec, err := tools.New([]types.Tool{{
		ID: "t1", Kind: types.ToolKindFunction, Name: "bookSlot", ServerURL: srv.URL,
	}})
	if err != nil {
		t.Fatalf("tools.New: %v", err)
	}

	sock := newFakeSocket()
	p := &testProviders{
		llm: &llmmock.Provider{Responses: []*types.LLMResponse{
			{ToolCalls: []types.ToolCall{{ID: "c1", Name: "bookSlot", Arguments: `{"day":"friday"}`}}},
			{Content: "You are booked for Friday at ten."},
		}},
	}
	s := newTestSession(t, testAssistant(), sock, p)
	s.cfg.Tools = exec
	start(t, s, sock)

	speak(s)
	sock.waitFor(t, EventToolCalled, time.Second)
	sock.waitFor(t, EventToolResult, time.Second)
	sock.waitFor(t, EventAssistantMessage, 2*time.Second)

	if p.llm.CallCount() != 2 {
		t.Errorf("llm invoked %d times, want 2 (tool turn + content turn)", p.llm.CallCount())
	}

	// The second request must include the tool result in history.
	last := p.llm.LastRequest()
	var sawToolRole bool
	for _, m := range last.Messages {
		if m.Role == "tool" && m.ToolCallID == "c1" {
			sawToolRole = true
			var res map[string]any
			if err := json.Unmarshal([]byte(m.Content), &res); err != nil || res["slot"] != "10:00" {
				t.Errorf("tool message content = %q", m.Content)
			}
		}
	}
	if !sawToolRole {
		t.Error("tool result missing from regeneration history")
	}
}

func TestProviderFailureRecovers(t *testing.T) {
	t.Parallel()

	sock := newFakeSocket()
	p := &testProviders{
		stt: &sttmock.Transcriber{Err: &provider.Error{Provider: "deepgram", Stage: "stt", StatusCode: 500}},
		llm: &llmmock.Provider{},
	}
	s := newTestSession(t, testAssistant(), sock, p)
	start(t, s, sock)

	speak(s)
	sock.waitFor(t, EventAssistantAudioDone, time.Second)

	if sock.count(EventAssistantMessage) != 0 {
		t.Error("assistant.message emitted on failed turn")
	}
	if sock.count(EventCallEnded) != 0 {
		t.Error("provider failure ended the call")
	}
	if got := s.Info().State; got != StateListening {
		t.Errorf("state = %q, want listening", got)
	}

	// The call continues: a new utterance still reaches STT.
	speak(s)
	deadline := time.Now().Add(time.Second)
	for p.stt.CallCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if p.stt.CallCount() < 2 {
		t.Error("session stopped processing after provider failure")
	}
}

func TestMaxDurationEndsCall(t *testing.T) {
	t.Parallel()

	asst := testAssistant()
	asst.MaxCallDurationSeconds = 1

	sock := newFakeSocket()
	s := newTestSession(t, asst, sock, nil)
	start(t, s, sock)

	ev := sock.waitFor(t, EventCallEnded, 3*time.Second)
	if ev.Data.(map[string]any)["reason"] != "max-duration" {
		t.Errorf("reason = %v", ev.Data)
	}
}

func TestSilenceTimeoutCapped(t *testing.T) {
	t.Parallel()

	asst := testAssistant()
	asst.SilenceTimeoutMs = 5000
	s := newTestSession(t, asst, newFakeSocket(), nil)
	if got := s.silenceTimeout(); got != maxSilenceTimeout {
		t.Errorf("silence timeout = %v, want capped %v", got, maxSilenceTimeout)
	}

	asst2 := testAssistant()
	asst2.SilenceTimeoutMs = 700
	s2 := newTestSession(t, asst2, newFakeSocket(), nil)
	if got := s2.silenceTimeout(); got != 700*time.Millisecond {
		t.Errorf("silence timeout = %v, want 700ms", got)
	}

	asst3 := testAssistant()
	asst3.SilenceTimeoutMs = 0
	s3 := newTestSession(t, asst3, newFakeSocket(), nil)
	if got := s3.silenceTimeout(); got != defaultSilenceTimeout {
		t.Errorf("silence timeout = %v, want default %v", got, defaultSilenceTimeout)
	}
}

func TestEgressResampling(t *testing.T) {
	t.Parallel()

	sock := newFakeSocket()
	// Provider renders 24 kHz; session egress is 16 kHz.
	p := &testProviders{
		tts: &ttsmock.Synthesizer{Rate: 24000, Audio: make([]byte, 4800)}, // 100 ms at 24 kHz
	}
	s := newTestSession(t, testAssistant(), sock, p)
	start(t, s, sock)

	speak(s)
	sock.waitFor(t, EventAssistantSpeaking, 2*time.Second)

	if sock.audioFrames() != 1 {
		t.Fatalf("audio frames = %d", sock.audioFrames())
	}
	sock.mu.Lock()
	got := len(sock.audio[0])
	sock.mu.Unlock()
	want := int(audio.Duration(4800, 24000).Seconds() * 16000 * 2)
	if got < want-4 || got > want+4 {
		t.Errorf("resampled frame = %d bytes, want ≈%d", got, want)
	}
}

func TestControlMessages(t *testing.T) {
	t.Parallel()

	sock := newFakeSocket()
	s := newTestSession(t, testAssistant(), sock, nil)
	start(t, s, sock)

	s.HandleControl(context.Background(), []byte(`{"type":"config","foo":1}`))
	s.HandleControl(context.Background(), []byte(`{"type":"end"}`))

	ev := sock.waitFor(t, EventCallEnded, time.Second)
	if ev.Data.(map[string]any)["reason"] != "client-request" {
		t.Errorf("reason = %v", ev.Data)
	}
}

func TestDurationFloorAndInfo(t *testing.T) {
	t.Parallel()

	sock := newFakeSocket()
	s := newTestSession(t, testAssistant(), sock, nil)
	start(t, s, sock)

	time.Sleep(30 * time.Millisecond)
	s.End("client-request")
	sock.waitFor(t, EventCallEnded, time.Second)

	call, err := s.cfg.Store.GetCall(context.Background(), "call-1")
	if err != nil {
		t.Fatalf("GetCall: %v", err)
	}
	if call.DurationSeconds != 0 {
		t.Errorf("sub-second call floored to %d", call.DurationSeconds)
	}

	info := s.Info()
	if info.State != StateTerminated || info.CallID != "call-1" {
		t.Errorf("info = %+v", info)
	}
}
