// Package server exposes the protocol engine over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/mindshift/protocol-engine/internal/domain"
	"github.com/mindshift/protocol-engine/internal/metrics"
	"github.com/mindshift/protocol-engine/internal/runtime"
)

// Server routes session API requests to the processor.
type Server struct {
	proc     *runtime.Processor
	router   chi.Router
	logger   *slog.Logger
	gatherer prometheus.Gatherer
	apiKey   string
}

type Config struct {
	APIKey   string
	Gatherer prometheus.Gatherer
	Timeout  time.Duration
}

func New(proc *runtime.Processor, logger *slog.Logger, cfg Config) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	s := &Server{
		proc:     proc,
		router:   chi.NewRouter(),
		logger:   logger,
		gatherer: cfg.Gatherer,
		apiKey:   cfg.APIKey,
	}
	s.routes(cfg.Timeout)
	return s
}

func (s *Server) routes(timeout time.Duration) {
	s.router.Use(RequestIDMiddleware)
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(TimeoutMiddleware(timeout))
	s.router.Use(middleware.Recoverer)
	s.router.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "protocol-engine")
	})

	s.router.Get("/healthz", s.handleHealth)
	s.router.Method(http.MethodGet, "/metrics",
		promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	s.router.Route("/v1/sessions", func(r chi.Router) {
		r.Use(APIKeyMiddleware(s.apiKey))
		r.Post("/", s.handleCreateSession)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleAbandonSession)
			r.Post("/turns", s.handleTurn)
			r.Post("/undo", s.handleUndo)
			r.Get("/stats", s.handleStats)
		})
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type createSessionRequest struct {
	UserID   string `json:"user_id"`
	Modality string `json:"modality,omitempty"`
	Version  string `json:"version,omitempty"`
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Modality  string `json:"modality,omitempty"`
	Version   string `json:"version"`
	Status    string `json:"status"`
	Phase     string `json:"phase,omitempty"`
	Step      string `json:"step"`
	Prompt    string `json:"prompt,omitempty"`

	ProblemStatement string            `json:"problem_statement,omitempty"`
	Transcript       []domain.Exchange `json:"transcript,omitempty"`

	Stats *metrics.SessionStats `json:"stats,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	sctx, prompt, err := s.proc.CreateSession(r.Context(), req.UserID, req.Modality, req.Version)
	if err != nil {
		AddError(r.Context(), err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	AddLogField(r.Context(), "session_id", sctx.SessionID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(sessionView(sctx, prompt))
}

type turnRequest struct {
	Input string `json:"input"`
}

type turnResponse struct {
	Result         domain.ProcessingResult `json:"result"`
	Step           string                  `json:"step"`
	Status         string                  `json:"status"`
	Prompt         string                  `json:"prompt,omitempty"`
	DelegateTokens int                     `json:"delegate_tokens,omitempty"`
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	AddLogField(r.Context(), "session_id", sessionID)

	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	reply, err := s.proc.Turn(r.Context(), sessionID, req.Input)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, turnResponse{
		Result:         reply.Result,
		Step:           string(reply.Context.CurrentStep),
		Status:         string(reply.Context.Status),
		Prompt:         reply.Prompt,
		DelegateTokens: reply.DelegateTokens,
	})
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	AddLogField(r.Context(), "session_id", sessionID)

	restored, prompt, err := s.proc.Undo(r.Context(), sessionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, sessionView(restored, prompt))
}

func (s *Server) handleAbandonSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	AddLogField(r.Context(), "session_id", sessionID)

	if err := s.proc.Abandon(r.Context(), sessionID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	sctx, err := s.proc.Session(r.Context(), sessionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	view := sessionView(sctx, "")
	if stats, ok := s.proc.Stats(sessionID); ok {
		view.Stats = &stats
	}
	writeJSON(w, view)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	stats, ok := s.proc.Stats(sessionID)
	if !ok {
		http.Error(w, "no stats for session", http.StatusNotFound)
		return
	}
	writeJSON(w, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// writeError maps domain errors to HTTP status codes. Busy and expired
// leases are conflicts the client can retry; integrity violations are
// server bugs; store failures are transient.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	AddError(r.Context(), err)

	var integrity *domain.IntegrityError
	var store *domain.StoreError
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		http.Error(w, "session not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrSessionBusy):
		http.Error(w, "session is processing another turn", http.StatusConflict)
	case errors.Is(err, domain.ErrLeaseExpired):
		http.Error(w, "session lease expired, retry", http.StatusConflict)
	case errors.Is(err, domain.ErrSessionClosed):
		http.Error(w, "session is closed", http.StatusConflict)
	case errors.Is(err, runtime.ErrNothingToUndo):
		http.Error(w, "nothing to undo", http.StatusConflict)
	case errors.As(err, &integrity):
		s.logger.Error("integrity violation", slog.String("error", err.Error()))
		http.Error(w, "internal protocol error", http.StatusInternalServerError)
	case errors.As(err, &store):
		http.Error(w, "session storage unavailable", http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func sessionView(sctx *domain.SessionContext, prompt string) sessionResponse {
	return sessionResponse{
		SessionID:        sctx.SessionID,
		UserID:           sctx.UserID,
		Modality:         string(sctx.Modality),
		Version:          sctx.Version,
		Status:           string(sctx.Status),
		Phase:            sctx.CurrentPhase,
		Step:             string(sctx.CurrentStep),
		Prompt:           prompt,
		ProblemStatement: sctx.ProblemStatement,
		Transcript:       sctx.Transcript,
	}
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
