// internal/game/resolve.go
package game

import (
	"fmt"

	"github.com/bidwire/goofspiel/internal/models"
	"github.com/bidwire/goofspiel/internal/rating"
	"github.com/bidwire/goofspiel/internal/store"
)

// Log message fragments. The round-win message keeps the prize value in the
// text so both clients can announce it without re-deriving state.
const (
	msgTied         = "BIDS TIED // PRIZE FORFEITED"
	msgWonPrefix    = "WON"
	msgHostLeadWin  = "HOST SECURED INSURMOUNTABLE LEAD"
	msgGuestLeadWin = "GUEST SECURED INSURMOUNTABLE LEAD"
	msgHostTimeout  = "HOST CLOCK EXPIRED"
	msgGuestTimeout = "GUEST CLOCK EXPIRED"
	msgOppDropped   = "OPPONENT LINK LOST // FORFEIT"
	msgForfeited    = "FORFEIT REGISTERED"
)

// Resolution is the host-computed outcome of one round. It is derived purely
// from a session snapshot, so resolving the same snapshot twice yields the
// same Resolution.
type Resolution struct {
	HostBid  int
	GuestBid int
	Prize    int

	HostScore  int
	GuestScore int
	HostTime   int
	GuestTime  int

	Winner models.Role // "" on a tie
	Log    models.LogEntry

	HostEarlyWin  bool
	GuestEarlyWin bool
	DeckExhausted bool
}

// GameOver reports whether the advance step ends the game instead of
// starting the next round.
func (r *Resolution) GameOver() bool {
	return r.HostEarlyWin || r.GuestEarlyWin || r.DeckExhausted
}

// ComputeResolution evaluates the current round. It returns false when the
// preconditions do not hold (wrong status, missing bid or prize); per the
// propagation policy these are silent no-ops, never errors. now is the
// fallback for a missing bidAt and must come from the same clock domain as
// the server timestamps.
func ComputeResolution(s *models.Session, now int64) (*Resolution, bool) {
	if s.Status != models.StatusPlaying || !s.BothBid() || s.CurrentPrize == nil {
		return nil, false
	}

	res := &Resolution{
		HostBid:  *s.Host.Bid,
		GuestBid: *s.Guest.Bid,
		Prize:    *s.CurrentPrize,
	}

	res.HostScore = s.Host.Score
	res.GuestScore = s.Guest.Score
	res.Log = models.LogEntry{Msg: msgTied, Type: "warning"}
	switch {
	case res.HostBid > res.GuestBid:
		res.HostScore += res.Prize
		res.Winner = models.RoleHost
		res.Log = models.LogEntry{Msg: fmt.Sprintf("%s %d", msgWonPrefix, res.Prize), Type: string(models.RoleHost)}
	case res.GuestBid > res.HostBid:
		res.GuestScore += res.Prize
		res.Winner = models.RoleGuest
		res.Log = models.LogEntry{Msg: fmt.Sprintf("%s %d", msgWonPrefix, res.Prize), Type: string(models.RoleGuest)}
	}

	res.HostTime = remainingTime(&s.Host, s.RoundStart, now)
	res.GuestTime = remainingTime(&s.Guest, s.RoundStart, now)

	// The just-contested prize is already off the board for the purposes of
	// the insurmountable-lead check, even on a tie.
	played := res.Prize
	for _, p := range s.PrizeGraveyard {
		played += p
	}
	pointsRemaining := TotalPrizePoints - played
	res.HostEarlyWin = res.HostScore > res.GuestScore+pointsRemaining
	res.GuestEarlyWin = res.GuestScore > res.HostScore+pointsRemaining
	res.DeckExhausted = len(s.PrizeDeck) == 0

	return res, true
}

// RecoverResolution rebuilds the advance half of a resolution from a
// RESOLVING snapshot, for a host that restarted between the reveal and the
// advance. The reveal commit already credited the prize and deducted the
// clocks, so scores and times are taken as-is.
func RecoverResolution(s *models.Session) (*Resolution, bool) {
	if s.Status != models.StatusResolving || !s.BothBid() || s.CurrentPrize == nil {
		return nil, false
	}

	res := &Resolution{
		HostBid:    *s.Host.Bid,
		GuestBid:   *s.Guest.Bid,
		Prize:      *s.CurrentPrize,
		HostScore:  s.Host.Score,
		GuestScore: s.Guest.Score,
		HostTime:   s.Host.Time,
		GuestTime:  s.Guest.Time,
	}

	played := res.Prize
	for _, p := range s.PrizeGraveyard {
		played += p
	}
	pointsRemaining := TotalPrizePoints - played
	res.HostEarlyWin = res.HostScore > res.GuestScore+pointsRemaining
	res.GuestEarlyWin = res.GuestScore > res.HostScore+pointsRemaining
	res.DeckExhausted = len(s.PrizeDeck) == 0

	return res, true
}

// remainingTime deducts the think time between roundStart and bidAt, both
// server-assigned, from the player's clock. Floored at zero on both the
// elapsed span and the result.
func remainingTime(p *models.PlayerState, roundStart, now int64) int {
	bidAt := now
	if p.BidAt != nil {
		bidAt = *p.BidAt
	}
	start := roundStart
	if start == 0 {
		start = now
	}
	elapsed := (bidAt - start) / 1000
	if elapsed < 0 {
		elapsed = 0
	}
	left := p.Time - int(elapsed)
	if left < 0 {
		left = 0
	}
	return left
}

// RevealUpdates is the immediate "reveal" commit: scores, clocks, RESOLVING
// and the announcement, all in one atomic write so the guest can never see a
// score without its log entry.
func (r *Resolution) RevealUpdates(id string) map[string]interface{} {
	return map[string]interface{}{
		FieldPath(id, "status"):         string(models.StatusResolving),
		FieldPath(id, "host", "score"):  r.HostScore,
		FieldPath(id, "guest", "score"): r.GuestScore,
		FieldPath(id, "host", "time"):   r.HostTime,
		FieldPath(id, "guest", "time"):  r.GuestTime,
		FieldPath(id, "log"):            r.Log,
		FieldPath(id, "lastAction"):     store.ServerTimestamp{},
	}
}

// AdvanceUpdates is the delayed "advance" commit after the reveal dwell:
// bids retire to graveyards, the prize retires, and either the next round
// begins with a fresh server-stamped roundStart or the game ends.
func (r *Resolution) AdvanceUpdates(id string, s *models.Session) map[string]interface{} {
	updates := map[string]interface{}{
		FieldPath(id, "host", "bid"):        nil,
		FieldPath(id, "guest", "bid"):       nil,
		FieldPath(id, "host", "graveyard"):  append(append([]int{}, s.Host.Graveyard...), r.HostBid),
		FieldPath(id, "guest", "graveyard"): append(append([]int{}, s.Guest.Graveyard...), r.GuestBid),
		FieldPath(id, "prizeGraveyard"):     append(append([]int{}, s.PrizeGraveyard...), r.Prize),
	}

	if !r.GameOver() {
		updates[FieldPath(id, "currentPrize")] = s.PrizeDeck[0]
		updates[FieldPath(id, "prizeDeck")] = append([]int{}, s.PrizeDeck[1:]...)
		updates[FieldPath(id, "status")] = string(models.StatusPlaying)
		updates[FieldPath(id, "round")] = s.Round + 1
		updates[FieldPath(id, "roundStart")] = store.ServerTimestamp{}
		return updates
	}

	updates[FieldPath(id, "status")] = string(models.StatusEnd)
	updates[FieldPath(id, "currentPrize")] = nil
	if r.HostEarlyWin {
		updates[FieldPath(id, "log")] = models.LogEntry{Msg: msgHostLeadWin, Type: string(models.RoleHost)}
	} else if r.GuestEarlyWin {
		updates[FieldPath(id, "log")] = models.LogEntry{Msg: msgGuestLeadWin, Type: string(models.RoleGuest)}
	}
	return updates
}

// TimeoutUpdates ends the game when a clock reaches zero: the timed-out side
// gets 0, the other the forced win. If both clocks are somehow at zero the
// standing scores decide.
func TimeoutUpdates(id string, s *models.Session, hostTimedOut, guestTimedOut bool) map[string]interface{} {
	hostScore, guestScore := s.Host.Score, s.Guest.Score
	log := models.LogEntry{Msg: msgHostTimeout, Type: "danger"}
	switch {
	case hostTimedOut && !guestTimedOut:
		hostScore, guestScore = 0, ForcedWinScore
	case guestTimedOut && !hostTimedOut:
		hostScore, guestScore = ForcedWinScore, 0
		log.Msg = msgGuestTimeout
	}
	return map[string]interface{}{
		FieldPath(id, "status"):         string(models.StatusEnd),
		FieldPath(id, "host", "score"):  hostScore,
		FieldPath(id, "guest", "score"): guestScore,
		FieldPath(id, "log"):            log,
	}
}

// ForfeitUpdates ends the game against the player who resigned.
func ForfeitUpdates(id string, forfeiter models.Role) map[string]interface{} {
	winner := forfeiter.Opponent()
	return map[string]interface{}{
		FieldPath(id, "status"):                   string(models.StatusEnd),
		FieldPath(id, string(forfeiter), "score"): 0,
		FieldPath(id, string(winner), "score"):    ForcedWinScore,
		FieldPath(id, "log"):                      models.LogEntry{Msg: msgForfeited, Type: string(winner)},
	}
}

// DisconnectForfeitUpdates ends the game in favor of the player who stayed
// connected after the opponent's grace period expired.
func DisconnectForfeitUpdates(id string, connected models.Role) map[string]interface{} {
	gone := connected.Opponent()
	return map[string]interface{}{
		FieldPath(id, "status"):                   string(models.StatusEnd),
		FieldPath(id, string(connected), "score"): ForcedWinScore,
		FieldPath(id, string(gone), "score"):      0,
		FieldPath(id, "log"):                      models.LogEntry{Msg: msgOppDropped, Type: string(connected)},
	}
}

// ComputeRatingUpdates produces both players' rating deltas from the final
// scores. The caller must guard on ratingUpdates being absent; this function
// is pure and recomputation-safe by itself.
func ComputeRatingUpdates(s *models.Session, hostProfile, guestProfile models.Profile) models.RatingUpdates {
	outcome := 0.5
	switch {
	case s.Host.Score > s.Guest.Score:
		outcome = 1
	case s.Guest.Score > s.Host.Score:
		outcome = 0
	}

	newHost := rating.Update(hostProfile, guestProfile, outcome)
	newGuest := rating.Update(guestProfile, hostProfile, 1-outcome)

	hostWon, guestWon := 0, 0
	if outcome == 1 {
		hostWon = 1
	}
	if outcome == 0 {
		guestWon = 1
	}

	return models.RatingUpdates{
		Host: models.RatingDelta{
			Rating:      newHost.Rating,
			RD:          newHost.RD,
			Vol:         newHost.Vol,
			GamesPlayed: hostProfile.GamesPlayed + 1,
			GamesWon:    hostProfile.GamesWon + hostWon,
		},
		Guest: models.RatingDelta{
			Rating:      newGuest.Rating,
			RD:          newGuest.RD,
			Vol:         newGuest.Vol,
			GamesPlayed: guestProfile.GamesPlayed + 1,
			GamesWon:    guestProfile.GamesWon + guestWon,
		},
	}
}
