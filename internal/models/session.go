// internal/models/session.go
package models

// Status is the session lifecycle state. END and ABANDONED are terminal for
// the session itself; END may still spawn a successor via rematch.
type Status string

const (
	StatusWaiting   Status = "WAITING"
	StatusPlaying   Status = "PLAYING"
	StatusResolving Status = "RESOLVING"
	StatusEnd       Status = "END"
	StatusAbandoned Status = "ABANDONED"
)

// Terminal reports whether no further transitions are legal.
func (s Status) Terminal() bool {
	return s == StatusEnd || s == StatusAbandoned
}

// Role identifies a seat within a session. The host seat carries write
// authority over all shared/derived fields; the guest only ever writes its
// own bid, hand, bidAt and presence sub-record.
type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

// Opponent returns the other seat.
func (r Role) Opponent() Role {
	if r == RoleHost {
		return RoleGuest
	}
	return RoleHost
}

// Valid reports whether r names a real seat.
func (r Role) Valid() bool {
	return r == RoleHost || r == RoleGuest
}

// PlayerState is one seat's replicated state. Invariant: hand, graveyard and
// the pending bid always partition {1..13} exactly.
type PlayerState struct {
	Score     int    `json:"score"`
	Hand      []int  `json:"hand"`
	Bid       *int   `json:"bid,omitempty"`
	Graveyard []int  `json:"graveyard,omitempty"`
	Time      int    `json:"time"`
	BidAt     *int64 `json:"bidAt,omitempty"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
}

// PresenceRecord is written only by the player it describes (or by the
// store's disconnect action on their behalf). Timestamps are server-assigned
// epoch milliseconds.
type PresenceRecord struct {
	Online         bool   `json:"online"`
	LastSeen       *int64 `json:"lastSeen,omitempty"`
	DisconnectedAt *int64 `json:"disconnectedAt,omitempty"`
}

// SessionPresence groups both seats' presence records.
type SessionPresence struct {
	Host  PresenceRecord `json:"host"`
	Guest PresenceRecord `json:"guest"`
}

// RematchState is the post-game handshake block. Accepted is set atomically
// with the second request flag; NewGameID is published by the host once the
// successor session exists.
type RematchState struct {
	HostRequest  bool   `json:"hostRequest"`
	GuestRequest bool   `json:"guestRequest"`
	Accepted     bool   `json:"accepted"`
	DeclinedBy   string `json:"declinedBy,omitempty"`
	NewGameID    string `json:"newGameId,omitempty"`
}

// LogEntry is the last-result announcement shown to both players. Type is
// "host"/"guest" for a round win, or a severity tag like "warning"/"danger".
type LogEntry struct {
	Msg  string `json:"msg"`
	Type string `json:"type"`
}

// RatingDelta is a fully-computed profile replacement for one player,
// produced once by the host at game end. Each player applies only their own.
type RatingDelta struct {
	Rating      float64 `json:"rating"`
	RD          float64 `json:"rd"`
	Vol         float64 `json:"vol"`
	GamesPlayed int     `json:"gamesPlayed"`
	GamesWon    int     `json:"gamesWon"`
}

// RatingUpdates holds both players' deltas. Its presence on a session is the
// guard that keeps ratings from ever being recomputed.
type RatingUpdates struct {
	Host  RatingDelta `json:"host"`
	Guest RatingDelta `json:"guest"`
}

// Session is the full replicated game record.
type Session struct {
	Status         Status          `json:"status"`
	Round          int             `json:"round"`
	PrizeDeck      []int           `json:"prizeDeck,omitempty"`
	CurrentPrize   *int            `json:"currentPrize,omitempty"`
	PrizeGraveyard []int           `json:"prizeGraveyard,omitempty"`
	Host           PlayerState     `json:"host"`
	Guest          PlayerState     `json:"guest"`
	Rematch        RematchState    `json:"rematch"`
	Presence       SessionPresence `json:"presence"`
	Log            *LogEntry       `json:"log,omitempty"`
	RoundStart     int64           `json:"roundStart"`
	LastAction     int64           `json:"lastAction,omitempty"`
	RatingUpdates  *RatingUpdates  `json:"ratingUpdates,omitempty"`
	PreviousGameID string          `json:"previousGameId,omitempty"`
	RematchedTo    string          `json:"rematchedTo,omitempty"`
}

// Player returns the seat record for a role.
func (s *Session) Player(r Role) *PlayerState {
	if r == RoleHost {
		return &s.Host
	}
	return &s.Guest
}

// PresenceOf returns the presence record for a role.
func (s *Session) PresenceOf(r Role) *PresenceRecord {
	if r == RoleHost {
		return &s.Presence.Host
	}
	return &s.Presence.Guest
}

// RoleOf resolves a player id to its seat, or "" if the id is not seated.
func (s *Session) RoleOf(playerID string) Role {
	if playerID == "" {
		return ""
	}
	switch playerID {
	case s.Host.ID:
		return RoleHost
	case s.Guest.ID:
		return RoleGuest
	}
	return ""
}

// BothBid reports whether the round is ready to resolve.
func (s *Session) BothBid() bool {
	return s.Host.Bid != nil && s.Guest.Bid != nil
}
