// internal/game/session.go
package game

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bidwire/goofspiel/internal/models"
	"github.com/bidwire/goofspiel/internal/store"
)

// Event is a session state machine input. Transitions not present in the
// table are ignored by callers rather than raised as errors.
type Event string

const (
	EventGuestSeated  Event = "guest_seated"
	EventBidsComplete Event = "bids_complete"
	EventRoundAdvance Event = "round_advance"
	EventGameOver     Event = "game_over"
	EventTimeout      Event = "timeout"
	EventForfeit      Event = "forfeit"
	EventOpponentGone Event = "opponent_gone"
	EventAbandoned    Event = "abandoned"
)

// transitions is the explicit table of legal (state, event) -> state moves.
// Everything that ends or abandons a session funnels through here so that a
// stray timer or duplicate push can never resurrect a terminal session.
var transitions = map[models.Status]map[Event]models.Status{
	models.StatusWaiting: {
		EventGuestSeated: models.StatusPlaying,
		EventAbandoned:   models.StatusAbandoned,
	},
	models.StatusPlaying: {
		EventBidsComplete: models.StatusResolving,
		EventTimeout:      models.StatusEnd,
		EventForfeit:      models.StatusEnd,
		EventOpponentGone: models.StatusEnd,
		EventAbandoned:    models.StatusAbandoned,
	},
	models.StatusResolving: {
		EventRoundAdvance: models.StatusPlaying,
		EventGameOver:     models.StatusEnd,
		EventForfeit:      models.StatusEnd,
		EventAbandoned:    models.StatusAbandoned,
	},
}

// Next returns the successor state for an event, and whether the event is
// legal in the current state.
func Next(cur models.Status, ev Event) (models.Status, bool) {
	next, ok := transitions[cur][ev]
	return next, ok
}

// SessionPath is the store path of a session record.
func SessionPath(id string) string {
	return "games/" + id
}

// FieldPath addresses a field inside a session record.
func FieldPath(id string, parts ...string) string {
	return SessionPath(id) + "/" + strings.Join(parts, "/")
}

// Seat identifies one participant when creating a session.
type Seat struct {
	ID   string
	Name string
}

// NewWaitingSession builds a host-created session that waits for a guest to
// join by code. The first prize is drawn immediately so the board is ready
// the moment the guest seats.
func NewWaitingSession(host Seat, clockSeconds int) *models.Session {
	s := newSession(host, Seat{}, clockSeconds)
	s.Status = models.StatusWaiting
	s.Presence.Guest = models.PresenceRecord{Online: false}
	return s
}

// NewMatchedSession builds a session for two matched players, already in
// PLAYING. The caller decides seating; by convention the higher-rated player
// is the host.
func NewMatchedSession(host, guest Seat, clockSeconds int) *models.Session {
	return newSession(host, guest, clockSeconds)
}

// NewRematchSession builds the successor of a finished session: same
// identities and seating, fresh deck, scores, hands and clocks.
func NewRematchSession(prev *models.Session, prevID string, clockSeconds int) *models.Session {
	s := newSession(
		Seat{ID: prev.Host.ID, Name: prev.Host.Name},
		Seat{ID: prev.Guest.ID, Name: prev.Guest.Name},
		clockSeconds,
	)
	s.PreviousGameID = prevID
	return s
}

func newSession(host, guest Seat, clockSeconds int) *models.Session {
	deck := ShuffledDeck()
	prize := deck[0]
	s := &models.Session{
		Status:       models.StatusPlaying,
		Round:        1,
		PrizeDeck:    deck[1:],
		CurrentPrize: &prize,
		Host:         newPlayerState(host, clockSeconds),
		Guest:        newPlayerState(guest, clockSeconds),
		Log:          &models.LogEntry{Msg: "ROUND 1", Type: "neutral"},
		Presence: models.SessionPresence{
			Host:  models.PresenceRecord{Online: true},
			Guest: models.PresenceRecord{Online: true},
		},
	}
	return s
}

func newPlayerState(seat Seat, clockSeconds int) models.PlayerState {
	return models.PlayerState{
		Hand: Ranks(),
		Time: clockSeconds,
		ID:   seat.ID,
		Name: seat.Name,
	}
}

// CreateUpdates encodes a new session into a single atomic commit. The
// duration-sensitive fields are layered on top of the object write as
// server-timestamp sentinels so no client clock ever enters the record.
func CreateUpdates(id string, s *models.Session) (map[string]interface{}, error) {
	tree, err := store.Encode(s)
	if err != nil {
		return nil, err
	}
	updates := map[string]interface{}{
		SessionPath(id):             tree,
		FieldPath(id, "roundStart"): store.ServerTimestamp{},
		FieldPath(id, "lastAction"): store.ServerTimestamp{},
	}
	if s.Presence.Host.Online {
		updates[FieldPath(id, "presence", "host", "lastSeen")] = store.ServerTimestamp{}
	}
	if s.Presence.Guest.Online {
		updates[FieldPath(id, "presence", "guest", "lastSeen")] = store.ServerTimestamp{}
	}
	return updates, nil
}

// JoinUpdates seats a guest into a WAITING session and starts play.
func JoinUpdates(id, guestID, guestName string) map[string]interface{} {
	return map[string]interface{}{
		FieldPath(id, "status"):        string(models.StatusPlaying),
		FieldPath(id, "guest", "id"):   guestID,
		FieldPath(id, "guest", "name"): guestName,
		FieldPath(id, "roundStart"):    store.ServerTimestamp{},
	}
}

// BidUpdates commits one player's bid as a single atomic write: the card
// leaves the hand, the bid is placed, and bidAt gets the server clock. The
// bool result is false when the rank is not actually in the hand or a bid is
// already pending, both defensive no-ops.
func BidUpdates(id string, role models.Role, p *models.PlayerState, rank int) (map[string]interface{}, bool) {
	if p.Bid != nil {
		return nil, false
	}
	newHand := make([]int, 0, len(p.Hand))
	found := false
	for _, r := range p.Hand {
		if r == rank && !found {
			found = true
			continue
		}
		newHand = append(newHand, r)
	}
	if !found {
		return nil, false
	}
	return map[string]interface{}{
		FieldPath(id, string(role), "bid"):   rank,
		FieldPath(id, string(role), "hand"):  newHand,
		FieldPath(id, string(role), "bidAt"): store.ServerTimestamp{},
	}, true
}

// CancelUpdates deletes an unfilled WAITING session. Only the host may
// cancel, and only while the guest seat is still empty; once a guest is
// seated the session ends through forfeit or abandonment instead.
func CancelUpdates(id string, s *models.Session, userID string) (map[string]interface{}, bool) {
	if s.Status != models.StatusWaiting || s.Guest.ID != "" || s.Host.ID != userID {
		return nil, false
	}
	return map[string]interface{}{SessionPath(id): nil}, true
}

// Abandoned reports whether a PLAYING/RESOLVING session has been deserted by
// both players for longer than threshold. A session without presence
// timestamps was just created and is never considered abandoned.
func Abandoned(s *models.Session, now int64, threshold time.Duration) bool {
	if s.Status != models.StatusPlaying && s.Status != models.StatusResolving {
		return false
	}
	hostSeen := lastSignal(&s.Presence.Host)
	guestSeen := lastSignal(&s.Presence.Guest)
	if s.Presence.Host.Online || s.Presence.Guest.Online {
		return false
	}
	if hostSeen == 0 || guestSeen == 0 {
		return false
	}
	limit := threshold.Milliseconds()
	return now-hostSeen > limit && now-guestSeen > limit
}

func lastSignal(p *models.PresenceRecord) int64 {
	if p.LastSeen != nil {
		return *p.LastSeen
	}
	if p.DisconnectedAt != nil {
		return *p.DisconnectedAt
	}
	return 0
}

// CheckAndCleanup is the coarse abandonment sweep run on lookup and rejoin.
// It returns true when the session is still joinable, marking it ABANDONED
// in passing when both sides have been gone beyond the threshold.
func CheckAndCleanup(ctx context.Context, st store.Store, id string, s *models.Session, now int64, threshold time.Duration) (bool, error) {
	if s == nil {
		return false, nil
	}
	if s.Status.Terminal() {
		return false, nil
	}
	if !Abandoned(s, now, threshold) {
		return true, nil
	}
	if _, ok := Next(s.Status, EventAbandoned); !ok {
		return true, nil
	}
	if err := st.Write(ctx, FieldPath(id, "status"), string(models.StatusAbandoned)); err != nil {
		return false, fmt.Errorf("mark abandoned: %w", err)
	}
	return false, nil
}
