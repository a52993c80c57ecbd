package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/novavoice/internal/observability"
	"github.com/ent0n29/novavoice/internal/session"
	"github.com/ent0n29/novavoice/internal/voice"
)

const defaultMaxAudioBytes = 25 << 20

// Orchestrator is the pipeline surface the HTTP and WebSocket handlers drive.
type Orchestrator interface {
	Greet(ctx context.Context, req voice.GreetRequest) (voice.GreetResult, error)
	HandleTurn(ctx context.Context, req voice.TurnRequest) (voice.TurnResult, error)
	VoiceSample(ctx context.Context, voiceID, name string) (string, error)
	Recognize(ctx context.Context, clip voice.Clip) (string, error)
	Generate(ctx context.Context, text, sessionID, contextText string) (string, error)
	Synthesize(ctx context.Context, text, voiceID string) (string, error)
	Voices() []voice.VoiceOption
	DefaultVoice() string
	Models() voice.ModelInfo
}

// Status is the static part of the /v1/status payload.
type Status struct {
	ProviderMode   string `json:"providerMode"`
	SessionStore   string `json:"sessionStore"`
	DebugEndpoints bool   `json:"debugEndpoints"`
}

type Options struct {
	Logger  *zap.Logger
	Metrics *observability.Metrics
	// Sessions is pinged by /readyz when it implements session.Pinger.
	Sessions       session.Tracker
	Status         Status
	MaxAudioBytes  int
	DebugEndpoints bool
	CORSOrigins    []string
}

type Server struct {
	orchestrator  Orchestrator
	sessions      session.Tracker
	metrics       *observability.Metrics
	logger        *zap.Logger
	status        Status
	maxAudioBytes int
	debug         bool
	corsOrigins   []string
	upgrader      websocket.Upgrader
}

func New(orchestrator Orchestrator, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxAudio := opts.MaxAudioBytes
	if maxAudio <= 0 {
		maxAudio = defaultMaxAudioBytes
	}
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s := &Server{
		orchestrator:  orchestrator,
		sessions:      opts.Sessions,
		metrics:       opts.Metrics,
		logger:        logger.Named("http"),
		status:        opts.Status,
		maxAudioBytes: maxAudio,
		debug:         opts.DebugEndpoints,
		corsOrigins:   origins,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/status", s.handleStatus)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Route("/voice", func(r chi.Router) {
		r.Post("/chat", s.handleChat)
		r.Post("/greet", s.handleGreet)
		r.Post("/sample", s.handleSample)
		r.Get("/voices", s.handleListVoices)
		r.Get("/ws", s.handleVoiceWS)
	})

	if s.debug {
		r.Route("/debug", func(r chi.Router) {
			r.Post("/stt", s.handleDebugSTT)
			r.Post("/chat", s.handleDebugChat)
			r.Post("/tts", s.handleDebugTTS)
		})
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"session_store": s.status.SessionStore,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.sessions.(session.Pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			s.logger.Warn("session store not ready", zap.Error(err))
			respondJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status":        "unavailable",
				"session_store": s.status.SessionStore,
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ready",
		"session_store": s.status.SessionStore,
	})
}

type statusResponse struct {
	Status
	Models        voice.ModelInfo `json:"models"`
	DefaultVoice  string          `json:"defaultVoice"`
	MaxAudioBytes int             `json:"maxAudioBytes"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, statusResponse{
		Status:        s.status,
		Models:        s.orchestrator.Models(),
		DefaultVoice:  s.orchestrator.DefaultVoice(),
		MaxAudioBytes: s.maxAudioBytes,
	})
}

// checkOrigin admits same-origin browsers, non-browser clients and any origin
// listed in the CORS allow list.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, allowed := range s.corsOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		if r.URL.Path == "/metrics" || r.URL.Path == "/healthz" {
			return
		}
		s.logger.Debug("http request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
