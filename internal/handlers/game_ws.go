// internal/handlers/game_ws.go
package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bidwire/goofspiel/internal/auth"
	"github.com/bidwire/goofspiel/internal/game"
	"github.com/bidwire/goofspiel/internal/middleware"
	"github.com/bidwire/goofspiel/internal/models"
	"github.com/bidwire/goofspiel/internal/presence"
	"github.com/bidwire/goofspiel/internal/reactor"
	"github.com/bidwire/goofspiel/internal/store"
)

// ClientMessage is one command from a player's client.
type ClientMessage struct {
	Type string `json:"type"`
	Rank int    `json:"rank,omitempty"`
}

// ServerMessage is one push to a player's client.
type ServerMessage struct {
	Type  string                `json:"type"`
	State *reactor.DisplayState `json:"state,omitempty"`
	Error string                `json:"error,omitempty"`
}

// GameWSHandler upgrades to websocket for one session: /session/ws/{code}.
// It seats the caller (rejoining their own seat, or taking the open guest
// seat of a WAITING session), then runs the presence tracker and the
// reactor for the lifetime of the connection.
func (s *Server) GameWSHandler(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(strings.TrimPrefix(r.URL.Path, "/session/ws/"))
	if code == "" || strings.Contains(code, "/") {
		http.Error(w, "Missing code in path (/session/ws/{code})", http.StatusBadRequest)
		return
	}

	userID, err := auth.EnsurePlayer(w, r)
	if err != nil {
		http.Error(w, "Authentication failed", http.StatusUnauthorized)
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

	joinable, err := game.CheckAndCleanup(r.Context(), s.Store, code, sess, time.Now().UnixMilli(), s.Config.AbandonAfter)
	if err != nil {
		s.Logger.WithError(err).Warn("abandonment sweep")
	}

	role, seatErr := s.seatFor(r, code, sess, userID, joinable)
	if seatErr != "" {
		http.Error(w, seatErr, http.StatusForbidden)
		return
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{"goofspiel"},
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.Logger.Warnf("WebSocket accept error for session %s: %v", code, err)
		return
	}
	defer c.Close(websocket.StatusInternalError, "internal error")
	middleware.LogWebSocketConnect(s.Logger, r.RemoteAddr, r.URL.Path)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	connID := store.ConnID(uuid.NewString())
	tracker := presence.NewTracker(s.Store, s.Logger, connID, code, role, s.Config.Heartbeat)
	go func() { _ = tracker.Start(ctx) }()

	states := make(chan reactor.DisplayState, 16)
	rx := reactor.New(s.Store, s.Logger, s.Profiles, reactor.Config{
		RevealDelay:     s.Config.RevealDelay,
		DisconnectGrace: s.Config.DisconnectGrace,
		ClockSeconds:    s.Config.ClockSeconds,
	}, code, userID, role, func(d reactor.DisplayState) {
		select {
		case states <- d:
		default:
			// the write loop is behind; shed the stale frame, a newer one
			// is right behind it
		}
	})
	go func() { _ = rx.Run(ctx) }()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d := <-states:
				writeCtx, done := context.WithTimeout(ctx, 5*time.Second)
				err := wsjson.Write(writeCtx, c, ServerMessage{Type: "state", State: &d})
				done()
				if err != nil {
					cancel()
					return
				}
			}
		}
	}()

	readErr := s.readLoop(ctx, c, rx)
	cancel()

	if websocket.CloseStatus(readErr) == websocket.StatusNormalClosure {
		tracker.Stop(context.Background())
		s.Store.DropConnection(connID)
		c.Close(websocket.StatusNormalClosure, "bye")
	} else {
		s.Store.DropConnection(connID)
	}
	middleware.LogWebSocketDisconnect(s.Logger, r.RemoteAddr, r.URL.Path, readErr)
}

// seatFor resolves which seat the caller occupies, committing the guest
// join when they take the open seat. The returned string is an error
// message for the client, empty on success.
func (s *Server) seatFor(r *http.Request, code string, sess *models.Session, userID string, joinable bool) (models.Role, string) {
	if role := sess.RoleOf(userID); role.Valid() {
		if sess.Status == models.StatusAbandoned {
			return "", "Session was abandoned"
		}
		return role, ""
	}
	if !joinable || sess.Status != models.StatusWaiting || sess.Guest.ID != "" {
		return "", "Session is not open to join"
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		name = "Player"
	}
	if err := s.Store.MultiWrite(r.Context(), game.JoinUpdates(code, userID, name)); err != nil {
		s.Logger.WithError(err).Error("seat guest")
		return "", "Store unavailable"
	}
	s.Logger.WithFields(logrus.Fields{"game": code, "user": userID}).Info("guest joined session")
	return models.RoleGuest, ""
}

func (s *Server) readLoop(ctx context.Context, c *websocket.Conn, rx *reactor.Reactor) error {
	for {
		var msg ClientMessage
		if err := wsjson.Read(ctx, c, &msg); err != nil {
			return err
		}
		switch msg.Type {
		case "bid":
			rx.Bid(msg.Rank)
		case "forfeit":
			rx.Forfeit()
		case "rematch_request":
			rx.RematchRequest()
		case "rematch_decline":
			rx.RematchDecline()
		case "heartbeat":
			// presence tracker owns the cadence; the message keeps
			// intermediaries from idling the socket out
		default:
			s.Logger.WithField("type", msg.Type).Debug("unknown client message")
		}
	}
}
