// internal/models/profile.go
package models

// Glicko-2 defaults for a player who has never completed a game.
const (
	DefaultRating = 1000.0
	DefaultRD     = 350.0
	DefaultVol    = 0.06
)

// Profile is a player's persisted record, independent of any session.
type Profile struct {
	Name        string  `json:"name,omitempty"`
	Rating      float64 `json:"rating"`
	RD          float64 `json:"rd"`
	Vol         float64 `json:"vol"`
	GamesPlayed int     `json:"gamesPlayed"`
	GamesWon    int     `json:"gamesWon"`
}

// NewProfile returns the default profile for a first-time player.
func NewProfile(name string) Profile {
	return Profile{
		Name:   name,
		Rating: DefaultRating,
		RD:     DefaultRD,
		Vol:    DefaultVol,
	}
}

// Apply overwrites the rating fields and counters from a host-computed delta.
func (p *Profile) Apply(d RatingDelta) {
	p.Rating = d.Rating
	p.RD = d.RD
	p.Vol = d.Vol
	p.GamesPlayed = d.GamesPlayed
	p.GamesWon = d.GamesWon
}
