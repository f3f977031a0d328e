// Package app wires all voxpipe subsystems into a running HTTP server: the
// media WebSocket endpoint, the call REST API, the Twilio webhooks, health
// probes and the Prometheus scrape endpoint.
//
// The App struct owns the full lifecycle: New connects the subsystems, Run
// serves until the context is cancelled, then ends live sessions and shuts
// the server down. For testing, inject doubles via functional options
// (WithStore, WithCarrier, etc.); without them New builds real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/voxpipe-ai/voxpipe/internal/config"
	"github.com/voxpipe-ai/voxpipe/internal/health"
	"github.com/voxpipe-ai/voxpipe/internal/observe"
	"github.com/voxpipe-ai/voxpipe/internal/providers"
	"github.com/voxpipe-ai/voxpipe/internal/session"
	"github.com/voxpipe-ai/voxpipe/internal/store"
	"github.com/voxpipe-ai/voxpipe/internal/telephony"
	"github.com/voxpipe-ai/voxpipe/internal/telephony/twilio"
	"github.com/voxpipe-ai/voxpipe/internal/tools"
	"github.com/voxpipe-ai/voxpipe/internal/transport"
	"github.com/voxpipe-ai/voxpipe/pkg/audio"
	"github.com/voxpipe-ai/voxpipe/pkg/types"
)

// shutdownTimeout bounds the HTTP server drain during Shutdown.
const shutdownTimeout = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config
	log *slog.Logger

	store      store.Store
	recordings *store.Recordings
	registry   *session.Registry
	factory    *providers.Factory
	tokens     *transport.TokenIssuer
	metrics    *observe.Metrics
	carrier    telephony.Carrier
	pinger     health.Pinger

	webhooks *twilio.Webhooks
	server   *http.Server

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a call/message store instead of the in-memory default.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithCarrier injects the telephony carrier. Without one, telephony
// endpoints reject outbound calls and transfers degrade to event-only.
func WithCarrier(c telephony.Carrier) Option {
	return func(a *App) { a.carrier = c }
}

// WithMetrics injects a metrics set instead of the process default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithPinger injects the database handle probed by /readyz.
func WithPinger(p health.Pinger) Option {
	return func(a *App) { a.pinger = p }
}

// WithLogger overrides the application logger.
func WithLogger(log *slog.Logger) Option {
	return func(a *App) { a.log = log }
}

// New wires the application from config. The store defaults to in-memory
// and the carrier to Twilio when account credentials are configured.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:      cfg,
		log:      slog.Default(),
		registry: session.NewRegistry(),
		factory: providers.NewFactory(providers.Credentials{
			OpenAI:     cfg.Credentials.OpenAIAPIKey,
			Anthropic:  cfg.Credentials.AnthropicAPIKey,
			Gemini:     cfg.Credentials.GeminiAPIKey,
			Groq:       cfg.Credentials.GroqAPIKey,
			Mistral:    cfg.Credentials.MistralAPIKey,
			DeepSeek:   cfg.Credentials.DeepSeekAPIKey,
			Deepgram:   cfg.Credentials.DeepgramAPIKey,
			ElevenLabs: cfg.Credentials.ElevenLabsAPIKey,
			Cartesia:   cfg.Credentials.CartesiaAPIKey,
		}),
		tokens: transport.NewTokenIssuer(cfg.Auth.JWTSecret),
	}
	for _, o := range opts {
		o(a)
	}

	if a.store == nil {
		a.store = store.NewMemoryStore()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.carrier == nil && cfg.Twilio.AccountSID != "" {
		carrier, err := twilio.New(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken)
		if err != nil {
			return nil, fmt.Errorf("app: init carrier: %w", err)
		}
		a.carrier = carrier
	}

	// Fail fast on an undecodable credential key; the config loader only
	// checks its length.
	if key := cfg.Storage.EncryptionKey; key != "" {
		if _, err := store.NewCipher(key); err != nil {
			return nil, fmt.Errorf("app: init credential cipher: %w", err)
		}
	}

	rec, err := store.NewRecordings(cfg.Storage.RecordingsDir)
	if err != nil {
		return nil, fmt.Errorf("app: init recordings: %w", err)
	}
	a.recordings = rec

	a.webhooks = &twilio.Webhooks{
		Store:              a.store,
		AssistantForNumber: cfg.AssistantForNumber,
		Tokens:             a.tokens,
		MediaWSURL:         cfg.Server.MediaWSURL,
		OnTerminal: func(callID string) {
			if s := a.registry.Lookup(callID); s != nil {
				s.End("client-disconnect")
			}
		},
		Logger: a.log,
	}

	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// StartSession implements transport.SessionStarter: it resolves the call,
// builds its provider pipeline and registers the session.
func (a *App) StartSession(ctx context.Context, callID string, sock session.Socket) (*session.Session, error) {
	if a.registry.Lookup(callID) != nil {
		return nil, fmt.Errorf("app: call %s already has a live session", callID)
	}

	call, err := a.store.GetCall(ctx, callID)
	if err != nil {
		return nil, fmt.Errorf("app: resolve call %s: %w", callID, err)
	}
	if call.Status.IsTerminal() {
		return nil, fmt.Errorf("app: call %s already ended", callID)
	}
	asst := a.cfg.AssistantByID(call.AssistantID)
	if asst == nil {
		return nil, fmt.Errorf("app: call %s references unknown assistant %q", callID, call.AssistantID)
	}

	egressRate := audio.EgressSampleRateWeb
	if call.Kind != types.CallKindWeb {
		egressRate = audio.EgressSampleRateTelephony
	}

	transcriber, err := a.factory.NewTranscriber(asst.Transcriber, audio.IngressSampleRate)
	if err != nil {
		return nil, fmt.Errorf("app: call %s: %w", callID, err)
	}
	llmProvider, err := a.factory.NewLLM(asst.Model)
	if err != nil {
		return nil, fmt.Errorf("app: call %s: %w", callID, err)
	}
	synthesizer, err := a.factory.NewSynthesizer(asst.Voice, egressRate)
	if err != nil {
		return nil, fmt.Errorf("app: call %s: %w", callID, err)
	}

	exec, err := tools.New(assistantToolList(asst))
	if err != nil {
		return nil, fmt.Errorf("app: call %s: %w", callID, err)
	}

	var transferer session.Transferer
	if call.Kind != types.CallKindWeb && a.carrier != nil {
		transferer = &telephony.Bridge{Carrier: a.carrier, Store: a.store}
	}

	sess := session.New(session.Config{
		CallID:           callID,
		OrgID:            call.OrgID,
		Kind:             call.Kind,
		Assistant:        asst,
		Socket:           sock,
		Store:            a.store,
		Recordings:       a.recordings,
		Metrics:          a.metrics,
		Transcriber:      transcriber,
		LLM:              llmProvider,
		TTS:              synthesizer,
		Tools:            exec,
		EgressSampleRate: egressRate,
		Transferer:       transferer,
		OnEnd: func(id, _ string) {
			a.registry.Deregister(id)
		},
		Logger: a.log,
	})
	a.registry.Register(sess)
	return sess, nil
}

// assistantToolList appends the built-in endCall tool when the assistant
// enables it and has not configured one of its own.
func assistantToolList(asst *types.Assistant) []types.Tool {
	list := asst.Tools
	if !asst.EndCallEnabled {
		return list
	}
	for _, t := range list {
		if t.Kind == types.ToolKindEndCall {
			return list
		}
	}
	out := make([]types.Tool, len(list), len(list)+1)
	copy(out, list)
	return append(out, types.Tool{ID: "builtin-end-call", Kind: types.ToolKindEndCall})
}

// handler assembles the route table.
func (a *App) handler() http.Handler {
	mux := http.NewServeMux()

	media := transport.NewHandler(a, a.tokens,
		transport.WithOriginPatterns(corsOriginPatterns(a.cfg.Server.CORSOrigin)...),
		transport.WithLogger(a.log),
	)
	mux.Handle("GET /ws/{callId}", media)

	mux.HandleFunc("POST /calls", a.handleCreateCall)
	mux.HandleFunc("GET /calls/{id}", a.handleGetCall)
	mux.HandleFunc("POST /calls/{id}/end", a.handleEndCall)

	mux.HandleFunc("POST /twilio/inbound", a.webhooks.Inbound)
	mux.HandleFunc("POST /twilio/status", a.webhooks.Status)

	health.New(
		health.DatabaseChecker(a.pinger),
		health.RecordingsChecker(a.cfg.Storage.RecordingsDir),
	).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	var h http.Handler = mux
	h = a.cors(h)
	h = observe.Middleware(a.metrics)(h)
	return h
}

// cors applies the configured single-origin CORS policy.
func (a *App) cors(next http.Handler) http.Handler {
	origin := a.cfg.Server.CORSOrigin
	if origin == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// corsOriginPatterns translates the CORS origin into websocket handshake
// origin patterns (host only, no scheme).
func corsOriginPatterns(origin string) []string {
	if origin == "" {
		return nil
	}
	if origin == "*" {
		return []string{"*"}
	}
	u := origin
	for _, prefix := range []string{"https://", "http://"} {
		if len(u) > len(prefix) && u[:len(prefix)] == prefix {
			return []string{u[len(prefix):]}
		}
	}
	return []string{u}
}

// Run serves HTTP until ctx is cancelled, then tears down.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("server listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		a.Shutdown()
		return nil
	})

	return g.Wait()
}

// Shutdown ends all live sessions and drains the HTTP server. Idempotent.
func (a *App) Shutdown() {
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "live_sessions", a.registry.Len())
		a.registry.Shutdown()

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(ctx); err != nil {
			a.log.Warn("server shutdown", "error", err)
		}
	})
}
