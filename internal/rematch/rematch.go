// internal/rematch/rematch.go
package rematch

import (
	"github.com/bidwire/goofspiel/internal/game"
	"github.com/bidwire/goofspiel/internal/models"
)

// Package rematch implements the post-game handshake. Each player writes
// only their own request flag; acceptance is committed atomically with the
// second flag, and the host alone creates the successor session.

func fieldPath(id string, parts ...string) string {
	return game.FieldPath(id, append([]string{"rematch"}, parts...)...)
}

// RequestUpdates records role's rematch request against the snapshot s. The
// commit carries accepted=true when the opponent's request is already
// visible, so acceptance and the second flag can never be observed apart.
// Returns nil when the request is meaningless (not END, already declined,
// already requested).
func RequestUpdates(id string, role models.Role, s *models.Session) map[string]interface{} {
	if s.Status != models.StatusEnd || s.Rematch.DeclinedBy != "" {
		return nil
	}
	mine, theirs := s.Rematch.HostRequest, s.Rematch.GuestRequest
	if role == models.RoleGuest {
		mine, theirs = theirs, mine
	}
	if mine {
		return nil
	}
	updates := map[string]interface{}{
		fieldPath(id, string(role)+"Request"): true,
	}
	if theirs {
		updates[fieldPath(id, "accepted")] = true
	}
	return updates
}

// DeclineUpdates records a refusal. A declined handshake never accepts.
func DeclineUpdates(id string, role models.Role, s *models.Session) map[string]interface{} {
	if s.Status != models.StatusEnd || s.Rematch.DeclinedBy != "" || s.Rematch.Accepted {
		return nil
	}
	return map[string]interface{}{
		fieldPath(id, "declinedBy"): string(role),
	}
}

// NeedsReconcile reports whether both requests landed without either commit
// carrying the acceptance, which happens when the two requests race. The
// host repairs it with AcceptUpdates.
func NeedsReconcile(s *models.Session) bool {
	r := s.Rematch
	return s.Status == models.StatusEnd && r.HostRequest && r.GuestRequest &&
		!r.Accepted && r.DeclinedBy == ""
}

// AcceptUpdates is the host-side repair commit for a raced handshake.
func AcceptUpdates(id string) map[string]interface{} {
	return map[string]interface{}{fieldPath(id, "accepted"): true}
}

// ShouldCreate reports whether the host must now build the successor
// session: the handshake is accepted and no successor exists yet.
func ShouldCreate(s *models.Session) bool {
	return s.Status == models.StatusEnd && s.Rematch.Accepted &&
		s.Rematch.NewGameID == "" && s.RematchedTo == ""
}

// SuccessorUpdates builds the rematch session and, in the same commit,
// publishes its id on the finished session. Publishing and creation being
// one commit is what makes "exactly one successor" hold: the host's
// single-writer loop only calls this while ShouldCreate is true.
func SuccessorUpdates(oldID string, s *models.Session, clockSeconds int) (string, map[string]interface{}, error) {
	next := game.NewRematchSession(s, oldID, clockSeconds)
	newID := game.NewGameID()
	updates, err := game.CreateUpdates(newID, next)
	if err != nil {
		return "", nil, err
	}
	updates[fieldPath(oldID, "newGameId")] = newID
	updates[game.FieldPath(oldID, "rematchedTo")] = newID
	return newID, updates, nil
}

// OpponentLeft reports whether role's opponent has gone offline after the
// game ended, which the interface surfaces by withdrawing the rematch offer.
func OpponentLeft(s *models.Session, role models.Role) bool {
	if s.Status != models.StatusEnd {
		return false
	}
	return !s.PresenceOf(role.Opponent()).Online
}
