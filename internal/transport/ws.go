// Package transport carries call media over WebSocket: binary frames are PCM
// audio, text frames are JSON events (server → client) and control messages
// (client → server). Connections are authorized by a short-lived JWT minted
// at call setup and bound to the call ID.
package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/voxpipe-ai/voxpipe/internal/session"
)

const (
	// maxMessageSize caps inbound frames. Audio arrives in small PCM
	// chunks; anything larger is a misbehaving client.
	maxMessageSize = 1 << 20

	// writeTimeout bounds a single outbound frame write.
	writeTimeout = 10 * time.Second
)

// SessionStarter binds an accepted media connection to its call. The
// application layer implements it: it resolves the call, assembles the
// provider pipeline, and returns the registered session.
type SessionStarter interface {
	StartSession(ctx context.Context, callID string, sock session.Socket) (*session.Session, error)
}

// Handler serves the media WebSocket endpoint.
type Handler struct {
	starter SessionStarter
	tokens  *TokenIssuer
	origins []string
	log     *slog.Logger
}

// HandlerOption is a functional option for Handler.
type HandlerOption func(*Handler)

// WithOriginPatterns sets the origins accepted during the WebSocket
// handshake. Without it, only same-host origins are accepted.
func WithOriginPatterns(patterns ...string) HandlerOption {
	return func(h *Handler) { h.origins = patterns }
}

// WithLogger overrides the handler's logger.
func WithLogger(log *slog.Logger) HandlerOption {
	return func(h *Handler) { h.log = log }
}

// NewHandler builds the media endpoint. A nil issuer disables token checks,
// which is only appropriate in tests.
func NewHandler(starter SessionStarter, tokens *TokenIssuer, opts ...HandlerOption) *Handler {
	h := &Handler{starter: starter, tokens: tokens, log: slog.Default()}
	for _, o := range opts {
		o(h)
	}
	return h
}

// ServeHTTP upgrades GET /ws/{callId}?token=… and pumps frames into the
// session until either side goes away.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	callID := r.PathValue("callId")
	if callID == "" {
		http.Error(w, "missing call id", http.StatusBadRequest)
		return
	}
	if h.tokens != nil {
		if err := h.tokens.Verify(r.URL.Query().Get("token"), callID); err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		h.log.Warn("websocket accept", "call_id", callID, "error", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	sock := &wsSocket{conn: conn}
	sess, err := h.starter.StartSession(r.Context(), callID, sock)
	if err != nil {
		h.log.Warn("start session", "call_id", callID, "error", err)
		conn.Close(websocket.StatusPolicyViolation, "unknown call")
		return
	}

	// The session outlives the handshake request but not the client: it is
	// detached from the request context and ended explicitly below.
	sessCtx := context.WithoutCancel(r.Context())
	go func() { _ = sess.Start(sessCtx) }()

	h.readLoop(r.Context(), conn, sess)
	sess.HandleClose()
}

// readLoop dispatches inbound frames until the connection drops. The session
// closing its socket also terminates the loop.
func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, sess *session.Session) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		switch typ {
		case websocket.MessageBinary:
			sess.HandleAudio(ctx, data)
		case websocket.MessageText:
			sess.HandleControl(ctx, data)
		}
	}
}

// wsSocket adapts a websocket.Conn to session.Socket. Writes are serialized
// with a mutex; the session emits from whichever goroutine holds its lock.
type wsSocket struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

var _ session.Socket = (*wsSocket)(nil)

func (s *wsSocket) SendEvent(ev session.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.write(websocket.MessageText, payload)
}

func (s *wsSocket) SendAudio(pcm []byte) error {
	return s.write(websocket.MessageBinary, pcm)
}

func (s *wsSocket) write(typ websocket.MessageType, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return s.conn.Write(ctx, typ, data)
}

func (s *wsSocket) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "call ended")
}
