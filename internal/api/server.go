// Package api implements the HTTP surface: JSON chat, streamed chat,
// websocket chat, session reset, and introspection endpoints.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/saathi-labs/saathi/internal/archive"
	"github.com/saathi-labs/saathi/internal/buildinfo"
	"github.com/saathi-labs/saathi/internal/customer"
	"github.com/saathi-labs/saathi/internal/orchestrator"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address string
	port    int
	orch    *orchestrator.Orchestrator
	archive *archive.Store // nil when archiving is disabled
	pace    time.Duration
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates a new API server. arch may be nil.
func NewServer(address string, port int, orch *orchestrator.Orchestrator, arch *archive.Store, pace time.Duration, logger *slog.Logger) *Server {
	return &Server{
		address: address,
		port:    port,
		orch:    orch,
		archive: arch,
		pace:    pace,
		logger:  logger.With("component", "api"),
	}
}

// Handler builds the route table. Exposed separately from Start so
// tests can drive it through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Chat endpoints
	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("POST /v1/chat/stream", s.handleChatStream)
	mux.HandleFunc("GET /v1/chat/ws", s.handleChatWS)

	// Session endpoints
	mux.HandleFunc("POST /v1/session/reset", s.handleSessionReset)

	// Introspection endpoints
	mux.HandleFunc("GET /v1/gateway/health", s.handleGatewayHealth)
	mux.HandleFunc("GET /v1/archive/sessions/{id}", s.handleArchiveSession)
	mux.HandleFunc("GET /v1/archive/stats", s.handleArchiveStats)

	// Health endpoints
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /", s.handleRoot)

	return s.withLogging(mux)
}

// Start runs the server until it fails or is shut down.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // Long for paced streaming responses
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	writeJSON(w, map[string]string{"error": message}, s.logger)
}

// chatRequest is the shared payload of the chat endpoints.
type chatRequest struct {
	Message         string           `json:"message"`
	SessionID       string           `json:"sessionId"`
	Language        string           `json:"language"`
	CustomerContext customer.Context `json:"customerContext"`
}

// parseChatRequest decodes and validates the chat payload. A nil return
// means the error response was already written.
func (s *Server) parseChatRequest(w http.ResponseWriter, r *http.Request) *chatRequest {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return nil
	}
	if req.Message == "" || req.SessionID == "" {
		s.errorResponse(w, http.StatusBadRequest, "message and sessionId required")
		return nil
	}
	return &req
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req := s.parseChatRequest(w, r)
	if req == nil {
		return
	}

	cust := req.CustomerContext.WithDefaults(req.Language)
	result := s.orch.ProcessTurn(r.Context(), req.SessionID, req.Message, cust)

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, result, s.logger)
}

func (s *Server) handleSessionReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		s.errorResponse(w, http.StatusBadRequest, "sessionId required")
		return
	}

	s.orch.ResetSession(req.SessionID)
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "reset"}, s.logger)
}

func (s *Server) handleGatewayHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, s.orch.Gateway().Health(), s.logger)
}

func (s *Server) handleArchiveSession(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		s.errorResponse(w, http.StatusNotFound, "archive disabled")
		return
	}
	turns, err := s.archive.Transcript(r.PathValue("id"))
	if err != nil {
		s.logger.Error("archive read failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "archive error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"turns": turns}, s.logger)
}

func (s *Server) handleArchiveStats(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		s.errorResponse(w, http.StatusNotFound, "archive disabled")
		return
	}
	stats, err := s.archive.Stats()
	if err != nil {
		s.logger.Error("archive stats failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "archive error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, stats, s.logger)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Saathi",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}
