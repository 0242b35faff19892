// internal/rematch/rematch_test.go
package rematch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bidwire/goofspiel/internal/game"
	"github.com/bidwire/goofspiel/internal/models"
	"github.com/bidwire/goofspiel/internal/store"
)

func endedSession(t *testing.T, st store.Store, id string) models.Session {
	t.Helper()
	s := game.NewMatchedSession(game.Seat{ID: "h", Name: "Hotel"}, game.Seat{ID: "g", Name: "Golf"}, 600)
	s.Status = models.StatusEnd
	s.Host.Score = 50
	s.Guest.Score = 41
	tree, err := store.Encode(s)
	require.NoError(t, err)
	require.NoError(t, st.Write(context.Background(), game.SessionPath(id), tree))
	return readSession(t, st, id)
}

func readSession(t *testing.T, st store.Store, id string) models.Session {
	t.Helper()
	raw, err := st.Read(context.Background(), game.SessionPath(id))
	require.NoError(t, err)
	require.NotNil(t, raw)
	var s models.Session
	require.NoError(t, store.Decode(raw, &s))
	return s
}

func apply(t *testing.T, st store.Store, updates map[string]interface{}) {
	t.Helper()
	require.NotNil(t, updates)
	require.NoError(t, st.MultiWrite(context.Background(), updates))
}

// TestHandshakeConvergesEitherOrder runs the two request orders and checks
// both converge on accepted with exactly one successor.
func TestHandshakeConvergesEitherOrder(t *testing.T) {
	orders := [][]models.Role{
		{models.RoleHost, models.RoleGuest},
		{models.RoleGuest, models.RoleHost},
	}
	for _, order := range orders {
		st := store.NewMemoryStore()
		id := "AAAAAA"
		s := endedSession(t, st, id)

		apply(t, st, RequestUpdates(id, order[0], &s))
		s = readSession(t, st, id)
		assert.False(t, s.Rematch.Accepted)

		apply(t, st, RequestUpdates(id, order[1], &s))
		s = readSession(t, st, id)
		assert.True(t, s.Rematch.HostRequest)
		assert.True(t, s.Rematch.GuestRequest)
		assert.True(t, s.Rematch.Accepted, "second request carries acceptance")

		require.True(t, ShouldCreate(&s))
		newID, updates, err := SuccessorUpdates(id, &s, 600)
		require.NoError(t, err)
		apply(t, st, updates)

		s = readSession(t, st, id)
		assert.Equal(t, newID, s.Rematch.NewGameID)
		assert.Equal(t, newID, s.RematchedTo)
		assert.False(t, ShouldCreate(&s), "successor is created once")

		next := readSession(t, st, newID)
		assert.Equal(t, models.StatusPlaying, next.Status)
		assert.Equal(t, "h", next.Host.ID)
		assert.Equal(t, "g", next.Guest.ID)
		assert.Equal(t, 0, next.Host.Score)
		assert.Equal(t, id, next.PreviousGameID)
	}
}

// TestRacedRequestsReconcile simulates both players requesting against the
// same stale snapshot, neither seeing the other's flag.
func TestRacedRequestsReconcile(t *testing.T) {
	st := store.NewMemoryStore()
	id := "BBBBBB"
	stale := endedSession(t, st, id)

	apply(t, st, RequestUpdates(id, models.RoleHost, &stale))
	apply(t, st, RequestUpdates(id, models.RoleGuest, &stale))

	s := readSession(t, st, id)
	assert.True(t, s.Rematch.HostRequest)
	assert.True(t, s.Rematch.GuestRequest)
	assert.False(t, s.Rematch.Accepted)
	require.True(t, NeedsReconcile(&s))

	apply(t, st, AcceptUpdates(id))
	s = readSession(t, st, id)
	assert.True(t, s.Rematch.Accepted)
	assert.True(t, ShouldCreate(&s))
}

func TestDeclineBlocksHandshake(t *testing.T) {
	st := store.NewMemoryStore()
	id := "CCCCCC"
	s := endedSession(t, st, id)

	apply(t, st, RequestUpdates(id, models.RoleHost, &s))
	s = readSession(t, st, id)

	apply(t, st, DeclineUpdates(id, models.RoleGuest, &s))
	s = readSession(t, st, id)
	assert.Equal(t, string(models.RoleGuest), s.Rematch.DeclinedBy)

	assert.Nil(t, RequestUpdates(id, models.RoleGuest, &s), "no request after a decline")
	assert.False(t, NeedsReconcile(&s))
	assert.False(t, ShouldCreate(&s))
}

func TestRequestGuards(t *testing.T) {
	s := &models.Session{Status: models.StatusPlaying}
	assert.Nil(t, RequestUpdates("X", models.RoleHost, s), "no rematch mid-game")

	s = &models.Session{Status: models.StatusEnd, Rematch: models.RematchState{HostRequest: true}}
	assert.Nil(t, RequestUpdates("X", models.RoleHost, s), "duplicate request")

	s = &models.Session{Status: models.StatusEnd, Rematch: models.RematchState{Accepted: true}}
	assert.Nil(t, DeclineUpdates("X", models.RoleHost, s), "no decline after acceptance")
}

func TestOpponentLeft(t *testing.T) {
	s := &models.Session{
		Status: models.StatusEnd,
		Presence: models.SessionPresence{
			Host:  models.PresenceRecord{Online: true},
			Guest: models.PresenceRecord{Online: false},
		},
	}
	assert.True(t, OpponentLeft(s, models.RoleHost))
	assert.False(t, OpponentLeft(s, models.RoleGuest))

	s.Status = models.StatusPlaying
	assert.False(t, OpponentLeft(s, models.RoleHost), "mid-game absence is the disconnect policy's concern")
}
