// internal/handlers/server.go
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bidwire/goofspiel/internal/auth"
	"github.com/bidwire/goofspiel/internal/config"
	"github.com/bidwire/goofspiel/internal/game"
	"github.com/bidwire/goofspiel/internal/models"
	"github.com/bidwire/goofspiel/internal/profiles"
	"github.com/bidwire/goofspiel/internal/store"
)

// Server wires the HTTP surface to the store and profile repository.
type Server struct {
	Store    store.Store
	Profiles profiles.Repository
	Logger   *logrus.Logger
	Config   *config.Config
}

// Routes registers every endpoint on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/session/create", s.CreateSessionHandler)
	mux.HandleFunc("/session/lookup/", s.LookupSessionHandler)
	mux.HandleFunc("/session/cancel/", s.CancelSessionHandler)
	mux.HandleFunc("/session/ws/", s.GameWSHandler)
	mux.HandleFunc("/queue/ws", s.QueueWSHandler)
	mux.HandleFunc("/profile", s.ProfileHandler)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type createSessionRequest struct {
	Name string `json:"name"`
}

type createSessionResponse struct {
	GameID string `json:"gameId"`
}

// CreateSessionHandler creates a WAITING session owned by the caller and
// returns its join code.
func (s *Server) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, err := auth.EnsurePlayer(w, r)
	if err != nil {
		http.Error(w, "Authentication failed", http.StatusUnauthorized)
		return
	}

	var req createSessionRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Name == "" {
		req.Name = "Player"
	}

	sess := game.NewWaitingSession(game.Seat{ID: userID, Name: req.Name}, s.Config.ClockSeconds)
	// creators are offline until their websocket attaches
	sess.Presence.Host.Online = false

	gameID := game.NewGameID()
	updates, err := game.CreateUpdates(gameID, sess)
	if err != nil {
		s.Logger.WithError(err).Error("encode new session")
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	if err := s.Store.MultiWrite(r.Context(), updates); err != nil {
		s.Logger.WithError(err).Error("create session")
		http.Error(w, "Store unavailable", http.StatusServiceUnavailable)
		return
	}

	s.Logger.WithFields(logrus.Fields{"game": gameID, "user": userID}).Info("session created")
	writeJSON(w, http.StatusCreated, createSessionResponse{GameID: gameID})
}

type lookupResponse struct {
	GameID   string `json:"gameId"`
	Status   string `json:"status"`
	Joinable bool   `json:"joinable"`
	Seat     string `json:"seat,omitempty"`
}

// LookupSessionHandler reports whether a code names a session the caller can
// enter: their own seat on a rejoin, or the open guest seat of a WAITING
// session. The abandonment sweep runs here, so stale sessions are retired
// the first time anyone asks after both players vanish.
func (s *Server) LookupSessionHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.EnsurePlayer(w, r)
	if err != nil {
		http.Error(w, "Authentication failed", http.StatusUnauthorized)
		return
	}
	code := strings.TrimPrefix(r.URL.Path, "/session/lookup/")
	if code == "" {
		http.Error(w, "Missing code", http.StatusBadRequest)
		return
	}
	code = strings.ToUpper(code)

	sess, err := s.loadSession(r, code)
	if err != nil {
		http.Error(w, "Store unavailable", http.StatusServiceUnavailable)
		return
	}
	if sess == nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	joinable, err := game.CheckAndCleanup(r.Context(), s.Store, code, sess, time.Now().UnixMilli(), s.Config.AbandonAfter)
	if err != nil {
		s.Logger.WithError(err).Warn("abandonment sweep")
	}

	resp := lookupResponse{GameID: code, Status: string(sess.Status)}
	if role := sess.RoleOf(userID); role.Valid() {
		resp.Seat = string(role)
		resp.Joinable = joinable
	} else {
		resp.Joinable = joinable && sess.Status == models.StatusWaiting && sess.Guest.ID == ""
	}
	writeJSON(w, http.StatusOK, resp)
}

// CancelSessionHandler lets a host delete their WAITING session before a
// guest seats. Without this, a code nobody joins would sit in the store
// forever; the abandonment sweep only retires sessions that reached play.
func (s *Server) CancelSessionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, err := auth.EnsurePlayer(w, r)
	if err != nil {
		http.Error(w, "Authentication failed", http.StatusUnauthorized)
		return
	}
	code := strings.ToUpper(strings.TrimPrefix(r.URL.Path, "/session/cancel/"))
	if code == "" {
		http.Error(w, "Missing code", http.StatusBadRequest)
		return
	}

	sess, err := s.loadSession(r, code)
	if err != nil {
		http.Error(w, "Store unavailable", http.StatusServiceUnavailable)
		return
	}
	if sess == nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	updates, ok := game.CancelUpdates(code, sess, userID)
	if !ok {
		http.Error(w, "Session cannot be cancelled", http.StatusConflict)
		return
	}
	if err := s.Store.MultiWrite(r.Context(), updates); err != nil {
		s.Logger.WithError(err).Error("cancel session")
		http.Error(w, "Store unavailable", http.StatusServiceUnavailable)
		return
	}
	s.Logger.WithFields(logrus.Fields{"game": code, "user": userID}).Info("session cancelled")
	w.WriteHeader(http.StatusNoContent)
}

// ProfileHandler returns the caller's persisted profile.
func (s *Server) ProfileHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.EnsurePlayer(w, r)
	if err != nil {
		http.Error(w, "Authentication failed", http.StatusUnauthorized)
		return
	}
	p, err := s.Profiles.Get(r.Context(), userID)
	if err != nil {
		s.Logger.WithError(err).Error("load profile")
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) loadSession(r *http.Request, code string) (*models.Session, error) {
	raw, err := s.Store.Read(r.Context(), game.SessionPath(code))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var sess models.Session
	if err := store.Decode(raw, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}
