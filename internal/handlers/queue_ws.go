// internal/handlers/queue_ws.go
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/bidwire/goofspiel/internal/auth"
	"github.com/bidwire/goofspiel/internal/matchmaking"
	"github.com/bidwire/goofspiel/internal/middleware"
	"github.com/bidwire/goofspiel/internal/store"
)

// QueueMessage announces a matchmaking result to the waiting client.
type QueueMessage struct {
	Type   string `json:"type"`
	GameID string `json:"gameId,omitempty"`
	Role   string `json:"role,omitempty"`
	Error  string `json:"error,omitempty"`
}

// QueueWSHandler runs a matchmaking search for the caller. The socket stays
// open while the player waits; closing it, cleanly or not, withdraws them
// from the queue. On success the client receives the session id and seat
// and is expected to reconnect on /session/ws/{code}.
func (s *Server) QueueWSHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.EnsurePlayer(w, r)
	if err != nil {
		http.Error(w, "Authentication failed", http.StatusUnauthorized)
		return
	}

	profile, err := s.Profiles.Get(r.Context(), userID)
	if err != nil {
		s.Logger.WithError(err).Error("load profile for matchmaking")
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	if name := r.URL.Query().Get("name"); name != "" {
		profile.Name = name
	}
	if profile.Name == "" {
		profile.Name = "Player"
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{"goofspiel"},
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.Logger.Warnf("WebSocket accept error for queue: %v", err)
		return
	}
	defer c.Close(websocket.StatusInternalError, "internal error")
	middleware.LogWebSocketConnect(s.Logger, r.RemoteAddr, r.URL.Path)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// a dying socket cancels the search
	go func() {
		for {
			if _, _, err := c.Read(ctx); err != nil {
				cancel()
				return
			}
		}
	}()

	connID := store.ConnID(uuid.NewString())
	searcher := matchmaking.NewSearcher(s.Store, s.Logger, connID, profile, userID, matchmaking.Options{
		RatingBand:   s.Config.RatingBand,
		DequeueGrace: s.Config.DequeueGrace,
		ClockSeconds: s.Config.ClockSeconds,
	})

	match, err := searcher.Run(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.Logger.WithError(err).Warn("matchmaking search failed")
		}
		s.Store.DropConnection(connID)
		middleware.LogWebSocketDisconnect(s.Logger, r.RemoteAddr, r.URL.Path, err)
		return
	}

	writeCtx, done := context.WithTimeout(ctx, 5*time.Second)
	writeErr := wsjson.Write(writeCtx, c, QueueMessage{
		Type:   "matched",
		GameID: match.GameID,
		Role:   string(match.Role),
	})
	done()
	if writeErr == nil {
		c.Close(websocket.StatusNormalClosure, "matched")
	}
	middleware.LogWebSocketDisconnect(s.Logger, r.RemoteAddr, r.URL.Path, nil)
}
