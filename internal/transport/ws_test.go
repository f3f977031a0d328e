package transport

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/voxpipe-ai/voxpipe/internal/session"
	"github.com/voxpipe-ai/voxpipe/internal/store"
	llmmock "github.com/voxpipe-ai/voxpipe/pkg/provider/llm/mock"
	sttmock "github.com/voxpipe-ai/voxpipe/pkg/provider/stt/mock"
	ttsmock "github.com/voxpipe-ai/voxpipe/pkg/provider/tts/mock"
	"github.com/voxpipe-ai/voxpipe/pkg/types"
)

type starterFunc func(ctx context.Context, callID string, sock session.Socket) (*session.Session, error)

func (f starterFunc) StartSession(ctx context.Context, callID string, sock session.Socket) (*session.Session, error) {
	return f(ctx, callID, sock)
}

// newMediaServer serves the handler on a mux with the production route shape.
func newMediaServer(t *testing.T, h *Handler) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.Handle("GET /ws/{callId}", h)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

// mockSessionStarter builds a real session over provider mocks, the way the
// application layer does.
func mockSessionStarter(t *testing.T) starterFunc {
	t.Helper()
	st := store.NewMemoryStore()
	if err := st.UpsertCall(context.Background(), &types.Call{
		ID: "call-1", Kind: types.CallKindWeb, Status: types.CallStatusQueued, AssistantID: "asst-1",
	}); err != nil {
		t.Fatalf("seed call: %v", err)
	}

	return func(_ context.Context, callID string, sock session.Socket) (*session.Session, error) {
		if callID != "call-1" {
			return nil, errors.New("unknown call")
		}
		s := session.New(session.Config{
			CallID: callID,
			Kind:   types.CallKindWeb,
			Assistant: &types.Assistant{
				ID:                   "asst-1",
				Name:                 "Receptionist",
				SystemPrompt:         "You answer the phone.",
				InterruptionsEnabled: true,
				SilenceTimeoutMs:     1,
			},
			Socket:           sock,
			Store:            st,
			Transcriber:      &sttmock.Transcriber{Transcript: "hello"},
			LLM:              &llmmock.Provider{Response: &types.LLMResponse{Content: "Hi there."}},
			TTS:              &ttsmock.Synthesizer{Rate: 16000},
			EgressSampleRate: 16000,
		})
		t.Cleanup(func() { s.End("test-cleanup") })
		return s, nil
	}
}

// readEvent reads frames until the next text frame and decodes it.
func readEvent(t *testing.T, ctx context.Context, conn *websocket.Conn) session.Event {
	t.Helper()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read event: %v", err)
		}
		if typ != websocket.MessageText {
			continue
		}
		var ev session.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		return ev
	}
}

// waitForEvent reads until an event of the given type arrives.
func waitForEvent(t *testing.T, ctx context.Context, conn *websocket.Conn, typ string) session.Event {
	t.Helper()
	for {
		ev := readEvent(t, ctx, conn)
		if ev.Type == typ {
			return ev
		}
	}
}

// waitForAudio reads until the next binary frame arrives.
func waitForAudio(t *testing.T, ctx context.Context, conn *websocket.Conn) []byte {
	t.Helper()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read audio: %v", err)
		}
		if typ == websocket.MessageBinary {
			return data
		}
	}
}

func voiceFrame() []byte {
	frame := make([]byte, 640)
	for i := 0; i < len(frame); i += 2 {
		binary.LittleEndian.PutUint16(frame[i:], uint16(int16(2000)))
	}
	return frame
}

func TestTokenMintVerify(t *testing.T) {
	t.Parallel()

	issuer := NewTokenIssuer("secret")
	token, err := issuer.Mint("call-1")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	if err := issuer.Verify(token, "call-1"); err != nil {
		t.Errorf("Verify: %v", err)
	}
	if err := issuer.Verify(token, "call-2"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("call mismatch: %v", err)
	}
	if err := issuer.Verify("garbage", "call-1"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("garbage token: %v", err)
	}
	if err := NewTokenIssuer("other").Verify(token, "call-1"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong secret: %v", err)
	}
	if _, err := issuer.Mint(""); err == nil {
		t.Error("Mint accepted empty call id")
	}
}

func TestTokenExpiry(t *testing.T) {
	t.Parallel()

	issuer := NewTokenIssuer("secret")
	issuer.ttl = -time.Minute
	token, err := issuer.Mint("call-1")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if err := issuer.Verify(token, "call-1"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expired token verified: %v", err)
	}
}

func TestHandlerRejectsBadToken(t *testing.T) {
	t.Parallel()

	issuer := NewTokenIssuer("secret")
	h := NewHandler(mockSessionStarter(t), issuer)
	srv := newMediaServer(t, h)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, wsURL(srv, "/ws/call-1?token=bogus"), nil)
	if err == nil {
		t.Fatal("dial succeeded with bad token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %v, want 401", resp)
	}
}

func TestHandlerRejectsUnknownCall(t *testing.T) {
	t.Parallel()

	issuer := NewTokenIssuer("secret")
	h := NewHandler(mockSessionStarter(t), issuer)
	srv := newMediaServer(t, h)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	token, err := issuer.Mint("call-9")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	conn, _, err := websocket.Dial(ctx, wsURL(srv, "/ws/call-9?token="+token), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	// The handler closes the socket once the starter fails; the first read
	// surfaces the close.
	if _, _, err := conn.Read(ctx); err == nil {
		t.Error("connection stayed open for unknown call")
	}
}

func TestMediaRoundTrip(t *testing.T) {
	t.Parallel()

	issuer := NewTokenIssuer("secret")
	h := NewHandler(mockSessionStarter(t), issuer)
	srv := newMediaServer(t, h)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	token, err := issuer.Mint("call-1")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	conn, _, err := websocket.Dial(ctx, wsURL(srv, "/ws/call-1?token="+token), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	ev := waitForEvent(t, ctx, conn, session.EventCallStarted)
	if ev.Data.(map[string]any)["callId"] != "call-1" {
		t.Errorf("call.started payload = %v", ev.Data)
	}

	// One voiced utterance, then silence past the endpointing window.
	if err := conn.Write(ctx, websocket.MessageBinary, voiceFrame()); err != nil {
		t.Fatalf("write voice: %v", err)
	}
	silence := make([]byte, 640)
	for i := 0; i < 3; i++ {
		time.Sleep(10 * time.Millisecond)
		if err := conn.Write(ctx, websocket.MessageBinary, silence); err != nil {
			t.Fatalf("write silence: %v", err)
		}
	}

	fin := waitForEvent(t, ctx, conn, session.EventTranscriptFinal)
	if fin.Data.(map[string]any)["text"] != "hello" {
		t.Errorf("transcript = %v", fin.Data)
	}
	msg := waitForEvent(t, ctx, conn, session.EventAssistantMessage)
	if msg.Data.(map[string]any)["text"] != "Hi there." {
		t.Errorf("assistant message = %v", msg.Data)
	}
	if pcm := waitForAudio(t, ctx, conn); len(pcm) == 0 {
		t.Error("empty assistant audio frame")
	}

	// Client-requested end.
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"end"}`)); err != nil {
		t.Fatalf("write control: %v", err)
	}
	ended := waitForEvent(t, ctx, conn, session.EventCallEnded)
	if ended.Data.(map[string]any)["reason"] != "client-request" {
		t.Errorf("call.ended payload = %v", ended.Data)
	}
}

func TestHandlerRequiresCallID(t *testing.T) {
	t.Parallel()

	h := NewHandler(mockSessionStarter(t), nil)
	req := httptest.NewRequest(http.MethodGet, "/ws/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
