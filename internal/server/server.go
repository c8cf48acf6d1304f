// Package server exposes the orchestrator over HTTP and a WebSocket control
// channel.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loqalabs/voice-proxy/internal/control"
	"github.com/loqalabs/voice-proxy/internal/eventstore"
	"github.com/loqalabs/voice-proxy/internal/fault"
	"github.com/loqalabs/voice-proxy/internal/orchestrator"
	"github.com/loqalabs/voice-proxy/internal/protocol"
	"github.com/loqalabs/voice-proxy/internal/tts"
)

const maxUploadBytes = 50 << 20

// Engine is the orchestrator surface served over HTTP.
type Engine interface {
	control.Engine
	ProcessAudioFile(ctx context.Context, path string) (orchestrator.Result, error)
	Devices(ctx context.Context) (protocol.Devices, error)
	State() protocol.State
}

// Timeline reads recorded sessions.
type Timeline interface {
	ListSessions(ctx context.Context, limit int) ([]eventstore.Session, error)
	ListSessionEvents(ctx context.Context, sessionID string, limit int) ([]eventstore.Event, error)
}

type Options struct {
	Version string
	// Voices lists synthesis voices; nil disables GET /voices.
	Voices tts.VoiceLister
	// Timeline serves GET /sessions; nil disables it.
	Timeline Timeline
	Metrics  http.Handler
	Ready    func() bool
	TempDir  string
}

type Server struct {
	engine     Engine
	opts       Options
	dispatcher *control.Dispatcher
	logger     *slog.Logger
	upgrader   websocket.Upgrader
}

func New(engine Engine, opts Options, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	if opts.Ready == nil {
		opts.Ready = func() bool { return true }
	}
	return &Server{
		engine:     engine,
		opts:       opts,
		dispatcher: control.NewDispatcher(engine, logger),
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReady)
	if s.opts.Metrics != nil {
		mux.Handle("GET /metrics", s.opts.Metrics)
	}

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api", s.handleAPI)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /devices", s.handleDevices)
	mux.HandleFunc("GET /voices", s.handleVoices)
	mux.HandleFunc("POST /process-text", s.handleProcessText)
	mux.HandleFunc("POST /process-audio", s.handleProcessAudio)
	mux.HandleFunc("POST /realtime/start", s.handleRealtimeStart)
	mux.HandleFunc("POST /realtime/stop", s.handleRealtimeStop)
	mux.HandleFunc("POST /voice/clone", s.handleVoiceClone)
	mux.HandleFunc("GET /sessions", s.handleSessions)
	mux.HandleFunc("GET /sessions/{id}/events", s.handleSessionEvents)
	mux.HandleFunc("GET /ws", s.handleWS)
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Ready() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to a status: 400 for rejected input, otherwise the
// status of its fault kind.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := http.StatusBadRequest, control.KindInvalidInput
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, orchestrator.ErrInvalidInput), errors.Is(err, errBadRequest):
	default:
		status, kind = fault.HTTPStatus(fault.KindOf(err)), string(fault.KindOf(err))
	}
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	s.logger.Log(r.Context(), level, "request failed",
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slogError(err))
	writeJSON(w, status, errorBody{Error: err.Error(), Kind: kind})
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}

func nowUTC() time.Time { return time.Now().UTC() }
