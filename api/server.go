package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/wricardo/pokerboy/game/service"
	"github.com/wricardo/pokerboy/game/session"
	"github.com/wricardo/pokerboy/observability"
	"github.com/wricardo/pokerboy/transport/phoenix"
	"github.com/wricardo/pokerboy/transport/websocket"
)

// Server represents the REST API server
type Server struct {
	service service.PokerService
	hub     *websocket.Hub
	router  *mux.Router
	logger  zerolog.Logger
}

// NewServer creates a new API server. hub may be nil to disable /ws.
func NewServer(pokerService service.PokerService, hub *websocket.Hub, logger zerolog.Logger) *Server {
	s := &Server{
		service: pokerService,
		hub:     hub,
		router:  mux.NewRouter(),
		logger:  logger.With().Str("component", "api").Logger(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.Use(observability.RequestLogger(s.logger))

	// Registered with full paths on the root router. A PathPrefix subrouter
	// answers 404 instead of 405 on a method mismatch.
	// Session management
	s.router.HandleFunc("/api/sessions", s.handleCreateSession).Methods("POST")
	s.router.HandleFunc("/api/sessions", s.handleListSessions).Methods("GET")
	s.router.HandleFunc("/api/sessions/{id}", s.handleGetSession).Methods("GET")
	s.router.HandleFunc("/api/sessions/{id}/join", s.handleJoinSession).Methods("POST")
	s.router.HandleFunc("/api/sessions/{id}/state", s.handleGetState).Methods("GET")

	// Session actions
	s.router.HandleFunc("/api/sessions/{id}/vote", s.handleVote).Methods("POST")
	s.router.HandleFunc("/api/sessions/{id}/reveal", s.handleReveal).Methods("POST")
	s.router.HandleFunc("/api/sessions/{id}/reset", s.handleReset).Methods("POST")
	s.router.HandleFunc("/api/sessions/{id}/toggle-playing", s.handleTogglePlaying).Methods("POST")
	s.router.HandleFunc("/api/sessions/{id}/promote", s.handlePromote).Methods("POST")
	s.router.HandleFunc("/api/sessions/{id}/become-admin", s.handleBecomeAdmin).Methods("POST")
	s.router.HandleFunc("/api/sessions/{id}/valid-votes", s.handleValidVotes).Methods("POST")

	// WebSocket relay
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Operations
	s.router.Handle("/metrics", observability.Handler()).Methods("GET")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps service errors to HTTP status codes
func (s *Server) respondServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Int("status", status).Msg("request failed")
	}
	respondError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, session.ErrInvalidSessionID):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrJoinRejected),
		errors.Is(err, session.ErrCreationRejected),
		errors.Is(err, session.ErrNotJoined),
		errors.Is(err, session.ErrNoAdminSecret),
		errors.Is(err, phoenix.ErrChannelNotJoined):
		return http.StatusConflict
	case errors.Is(err, session.ErrJoinTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// decode reads an optional JSON body. Numbers are kept as json.Number so
// votes go out exactly as they came in.
func decode(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	return nil
}

// Session Handlers

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Username string `json:"username"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	info, err := s.service.CreateSession(r.Context(), strings.TrimSpace(req.Name), strings.TrimSpace(req.Username))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, info)
}

func (s *Server) handleJoinSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	var req struct {
		Username string `json:"username"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	info, err := s.service.JoinSession(r.Context(), sessionID, strings.TrimSpace(req.Username))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.service.ListSessions(r.Context())
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	// ?stale=false hides sessions whose connection dropped
	if stale := r.URL.Query().Get("stale"); stale == "false" {
		live := make([]*service.SessionInfo, 0, len(sessions))
		for _, info := range sessions {
			if !info.Stale {
				live = append(live, info)
			}
		}
		sessions = live
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(sessions),
		"sessions": sessions,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	info, err := s.service.GetSession(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	state, err := s.service.GetState(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, state)
}

// Action Handlers

func (s *Server) respondAction(w http.ResponseWriter, result *service.ActionResult, err error) {
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, result)
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Vote interface{} `json:"vote"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := s.service.Vote(r.Context(), mux.Vars(r)["id"], req.Vote)
	s.respondAction(w, result, err)
}

func (s *Server) handleReveal(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.Reveal(r.Context(), mux.Vars(r)["id"])
	s.respondAction(w, result, err)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.Reset(r.Context(), mux.Vars(r)["id"])
	s.respondAction(w, result, err)
}

type userRequest struct {
	User string `json:"user"`
}

func (s *Server) handleTogglePlaying(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := s.service.TogglePlaying(r.Context(), mux.Vars(r)["id"], strings.TrimSpace(req.User))
	s.respondAction(w, result, err)
}

func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := s.service.Promote(r.Context(), mux.Vars(r)["id"], strings.TrimSpace(req.User))
	s.respondAction(w, result, err)
}

func (s *Server) handleBecomeAdmin(w http.ResponseWriter, r *http.Request) {
	// An empty password falls back to the stored secret
	var req struct {
		Password string `json:"password"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := s.service.BecomeAdmin(r.Context(), mux.Vars(r)["id"], req.Password)
	s.respondAction(w, result, err)
}

func (s *Server) handleValidVotes(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.RequestValidVotes(r.Context(), mux.Vars(r)["id"])
	s.respondAction(w, result, err)
}

// WebSocket Handler

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		http.Error(w, "relay disabled", http.StatusNotFound)
		return
	}

	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		http.Error(w, "session parameter required", http.StatusBadRequest)
		return
	}

	s.hub.ServeWS(w, r, sessionID)
}

// Health check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}
