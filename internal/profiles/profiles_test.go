// internal/profiles/profiles_test.go
package profiles

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bidwire/goofspiel/internal/models"
	"github.com/bidwire/goofspiel/internal/store"
)

func TestGetUnknownPlayerReturnsDefaults(t *testing.T) {
	r := NewStoreRepository(store.NewMemoryStore())
	p, err := r.Get(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultRating, p.Rating)
	assert.Equal(t, models.DefaultRD, p.RD)
	assert.Equal(t, models.DefaultVol, p.Vol)
	assert.Zero(t, p.GamesPlayed)
}

func TestSaveGetRoundTrip(t *testing.T) {
	r := NewStoreRepository(store.NewMemoryStore())
	ctx := context.Background()

	in := models.Profile{Name: "Quebec", Rating: 1234.5, RD: 120, Vol: 0.055, GamesPlayed: 10, GamesWon: 6}
	require.NoError(t, r.Save(ctx, "u1", in))

	out, err := r.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestApplyDeltaOverwritesRatingFields(t *testing.T) {
	r := NewStoreRepository(store.NewMemoryStore())
	ctx := context.Background()
	require.NoError(t, r.Save(ctx, "u1", models.Profile{Name: "Quebec", Rating: 1000, RD: 350, Vol: 0.06}))

	d := models.RatingDelta{Rating: 1042.1, RD: 290.3, Vol: 0.0599, GamesPlayed: 1, GamesWon: 1}
	require.NoError(t, r.ApplyDelta(ctx, "u1", "GAMEID", d))

	p, err := r.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Quebec", p.Name, "identity fields survive the delta")
	assert.Equal(t, 1042.1, p.Rating)
	assert.Equal(t, 1, p.GamesPlayed)
	assert.Equal(t, 1, p.GamesWon)
}

func TestPartialProfileNormalizes(t *testing.T) {
	st := store.NewMemoryStore()
	require.NoError(t, st.Write(context.Background(), ProfilePath("u1"), map[string]interface{}{
		"name": "Romeo",
	}))

	p, err := NewStoreRepository(st).Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "Romeo", p.Name)
	assert.Equal(t, models.DefaultRating, p.Rating)
	assert.Equal(t, models.DefaultRD, p.RD)
}
