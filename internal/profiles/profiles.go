// internal/profiles/profiles.go
package profiles

import (
	"context"
	"fmt"

	"github.com/bidwire/goofspiel/internal/models"
	"github.com/bidwire/goofspiel/internal/store"
)

// Repository persists player profiles across sessions. Implementations must
// return a default first-time profile, never an error, for unknown players.
type Repository interface {
	Get(ctx context.Context, userID string) (models.Profile, error)
	Save(ctx context.Context, userID string, p models.Profile) error

	// ApplyDelta replaces the rating fields with a host-computed delta and
	// records the change against the game that produced it.
	ApplyDelta(ctx context.Context, userID, gameID string, d models.RatingDelta) error
}

// ProfilePath is the store location of one player's profile document.
func ProfilePath(userID string) string {
	return "users/" + userID
}

// StoreRepository keeps profiles in the same replicated store as the games.
// This is the single-node deployment and the test double in one.
type StoreRepository struct {
	st store.Store
}

func NewStoreRepository(st store.Store) *StoreRepository {
	return &StoreRepository{st: st}
}

func (r *StoreRepository) Get(ctx context.Context, userID string) (models.Profile, error) {
	raw, err := r.st.Read(ctx, ProfilePath(userID))
	if err != nil {
		return models.Profile{}, fmt.Errorf("read profile %s: %w", userID, err)
	}
	if raw == nil {
		return models.NewProfile(""), nil
	}
	var p models.Profile
	if err := store.Decode(raw, &p); err != nil {
		return models.Profile{}, fmt.Errorf("decode profile %s: %w", userID, err)
	}
	normalize(&p)
	return p, nil
}

func (r *StoreRepository) Save(ctx context.Context, userID string, p models.Profile) error {
	tree, err := store.Encode(p)
	if err != nil {
		return err
	}
	if err := r.st.Write(ctx, ProfilePath(userID), tree); err != nil {
		return fmt.Errorf("save profile %s: %w", userID, err)
	}
	return nil
}

func (r *StoreRepository) ApplyDelta(ctx context.Context, userID, gameID string, d models.RatingDelta) error {
	p, err := r.Get(ctx, userID)
	if err != nil {
		return err
	}
	p.Apply(d)
	return r.Save(ctx, userID, p)
}

// normalize substitutes the Glicko-2 defaults for zero-valued rating fields,
// so a profile created before any rated game still converts cleanly.
func normalize(p *models.Profile) {
	if p.Rating == 0 {
		p.Rating = models.DefaultRating
	}
	if p.RD == 0 {
		p.RD = models.DefaultRD
	}
	if p.Vol == 0 {
		p.Vol = models.DefaultVol
	}
}
