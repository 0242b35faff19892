// internal/reactor/projection.go
package reactor

import (
	"github.com/bidwire/goofspiel/internal/models"
	"github.com/bidwire/goofspiel/internal/rematch"
)

// PlayerView is one seat as shown to a particular viewer. The opponent's
// hand is reduced to a count and their pending bid to a flag until the
// reveal, so no client ever holds information it should not.
type PlayerView struct {
	Name      string `json:"name"`
	Score     int    `json:"score"`
	Hand      []int  `json:"hand,omitempty"`
	HandCount int    `json:"handCount"`
	HasBid    bool   `json:"hasBid"`
	Bid       *int   `json:"bid,omitempty"`
	Graveyard []int  `json:"graveyard,omitempty"`
	Time      int    `json:"time"`
}

// RematchView is the handshake as one side sees it.
type RematchView struct {
	Requested    bool   `json:"requested"`
	OpponentAsks bool   `json:"opponentAsks"`
	Accepted     bool   `json:"accepted"`
	Declined     bool   `json:"declined"`
	NewGameID    string `json:"newGameId,omitempty"`
}

// DisplayState is the full render model for one viewer at one instant. It
// is a pure function of a session snapshot plus the viewer's role and a
// clock reading; it performs no writes and keeps no state.
type DisplayState struct {
	GameID         string           `json:"gameId"`
	Role           models.Role      `json:"role"`
	Status         models.Status    `json:"status"`
	Round          int              `json:"round"`
	CurrentPrize   *int             `json:"currentPrize,omitempty"`
	PrizesLeft     int              `json:"prizesLeft"`
	PrizeGraveyard []int            `json:"prizeGraveyard,omitempty"`
	You            PlayerView       `json:"you"`
	Opponent       PlayerView       `json:"opponent"`
	Log            *models.LogEntry `json:"log,omitempty"`
	Rematch        RematchView      `json:"rematch"`
	OpponentOnline bool             `json:"opponentOnline"`
	OpponentLeft   bool             `json:"opponentLeft"`
	Outcome        string           `json:"outcome,omitempty"`
}

// Project renders a session snapshot for one viewer. now is epoch millis in
// the store's clock domain and only drives the ticking clock display.
func Project(gameID string, s *models.Session, role models.Role, now int64) DisplayState {
	opp := role.Opponent()
	you := s.Player(role)
	them := s.Player(opp)
	reveal := s.Status == models.StatusResolving || s.Status.Terminal()

	d := DisplayState{
		GameID:         gameID,
		Role:           role,
		Status:         s.Status,
		Round:          s.Round,
		CurrentPrize:   s.CurrentPrize,
		PrizesLeft:     len(s.PrizeDeck),
		PrizeGraveyard: s.PrizeGraveyard,
		Log:            s.Log,
		You:            viewOf(you, s, now, true, reveal),
		Opponent:       viewOf(them, s, now, false, reveal),
		OpponentOnline: s.PresenceOf(opp).Online,
		OpponentLeft:   rematch.OpponentLeft(s, role),
	}

	d.Rematch = RematchView{
		Requested:    requestOf(s, role),
		OpponentAsks: requestOf(s, opp),
		Accepted:     s.Rematch.Accepted,
		Declined:     s.Rematch.DeclinedBy != "",
		NewGameID:    s.Rematch.NewGameID,
	}

	if s.Status == models.StatusEnd {
		switch {
		case you.Score > them.Score:
			d.Outcome = "win"
		case them.Score > you.Score:
			d.Outcome = "loss"
		default:
			d.Outcome = "draw"
		}
	}
	return d
}

func viewOf(p *models.PlayerState, s *models.Session, now int64, own, reveal bool) PlayerView {
	v := PlayerView{
		Name:      p.Name,
		Score:     p.Score,
		HandCount: len(p.Hand),
		HasBid:    p.Bid != nil,
		Graveyard: p.Graveyard,
		Time:      displayTime(p, s, now),
	}
	if own {
		v.Hand = p.Hand
	}
	if own || reveal {
		v.Bid = p.Bid
	}
	return v
}

// displayTime shows the stored clock, ticking down for a player who is
// still thinking this round. The authoritative deduction happens at
// resolution; this is presentation only.
func displayTime(p *models.PlayerState, s *models.Session, now int64) int {
	if s.Status != models.StatusPlaying || p.Bid != nil || s.RoundStart == 0 || now == 0 {
		return p.Time
	}
	elapsed := (now - s.RoundStart) / 1000
	if elapsed < 0 {
		elapsed = 0
	}
	left := p.Time - int(elapsed)
	if left < 0 {
		left = 0
	}
	return left
}

func requestOf(s *models.Session, r models.Role) bool {
	if r == models.RoleHost {
		return s.Rematch.HostRequest
	}
	return s.Rematch.GuestRequest
}
