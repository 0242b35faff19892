// internal/matchmaking/queue_test.go
package matchmaking

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bidwire/goofspiel/internal/game"
	"github.com/bidwire/goofspiel/internal/models"
	"github.com/bidwire/goofspiel/internal/store"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func runSearch(t *testing.T, st store.Store, id string, rating float64, opts Options) <-chan Match {
	t.Helper()
	profile := models.Profile{Name: "player-" + id, Rating: rating}
	s := NewSearcher(st, quietLogger(), store.ConnID("conn-"+id), profile, id, opts)
	out := make(chan Match, 1)
	go func() {
		m, err := s.Run(context.Background())
		require.NoError(t, err)
		out <- m
	}()
	return out
}

func waitMatch(t *testing.T, ch <-chan Match) Match {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("search never matched")
		return Match{}
	}
}

// TestTwoSearchersPairDeterministically checks the full handshake: both
// sides land in the same session, the lexicographically smaller id creates
// it, and the higher rating takes the host seat.
func TestTwoSearchersPairDeterministically(t *testing.T) {
	st := store.NewMemoryStore()
	opts := Options{DequeueGrace: 50 * time.Millisecond}

	chA := runSearch(t, st, "A", 1200, opts)
	chB := runSearch(t, st, "B", 1180, opts)

	mA := waitMatch(t, chA)
	mB := waitMatch(t, chB)

	assert.Equal(t, mA.GameID, mB.GameID)
	assert.Equal(t, models.RoleHost, mA.Role, "higher rating hosts")
	assert.Equal(t, models.RoleGuest, mB.Role)

	raw, err := st.Read(context.Background(), game.SessionPath(mA.GameID))
	require.NoError(t, err)
	require.NotNil(t, raw)
	var sess models.Session
	require.NoError(t, store.Decode(raw, &sess))
	assert.Equal(t, "A", sess.Host.ID)
	assert.Equal(t, "B", sess.Guest.ID)
	assert.Equal(t, models.StatusPlaying, sess.Status)

	// both entries disappear once the dequeue grace elapses
	require.Eventually(t, func() bool {
		v, err := st.Read(context.Background(), QueueRoot)
		if err != nil {
			return false
		}
		node, _ := v.(map[string]interface{})
		return len(node) == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestHostSeatTieGoesToCreator(t *testing.T) {
	st := store.NewMemoryStore()
	opts := Options{DequeueGrace: 50 * time.Millisecond}

	chA := runSearch(t, st, "A", 1000, opts)
	chB := runSearch(t, st, "B", 1000, opts)

	mA := waitMatch(t, chA)
	mB := waitMatch(t, chB)
	assert.Equal(t, models.RoleHost, mA.Role)
	assert.Equal(t, models.RoleGuest, mB.Role)
}

func TestPickOpponentPrefersBandThenClosest(t *testing.T) {
	s := NewSearcher(store.NewMemoryStore(), quietLogger(), "c", models.Profile{Rating: 1000}, "me", Options{})

	entries := map[string]models.QueueEntry{
		"me":   {UserID: "me", Rating: 1000},
		"near": {UserID: "near", Rating: 1150},
		"far":  {UserID: "far", Rating: 1600},
	}
	peer, ok := s.pickOpponent(entries)
	require.True(t, ok)
	assert.Equal(t, "near", peer.UserID)

	// nobody in band: closest anyway
	entries = map[string]models.QueueEntry{
		"me":      {UserID: "me", Rating: 1000},
		"distant": {UserID: "distant", Rating: 1500},
		"further": {UserID: "further", Rating: 1700},
	}
	peer, ok = s.pickOpponent(entries)
	require.True(t, ok)
	assert.Equal(t, "distant", peer.UserID)

	// already-claimed entries are never candidates
	entries = map[string]models.QueueEntry{
		"me":    {UserID: "me", Rating: 1000},
		"taken": {UserID: "taken", Rating: 1000, GameID: "XYZXYZ"},
	}
	_, ok = s.pickOpponent(entries)
	assert.False(t, ok)
}

func TestCancelledSearchRemovesEntry(t *testing.T) {
	st := store.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())

	s := NewSearcher(st, quietLogger(), "c1", models.Profile{Rating: 1000}, "solo", Options{})
	errCh := make(chan error, 1)
	go func() {
		_, err := s.Run(ctx)
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		v, err := st.Read(context.Background(), QueueRoot+"/solo")
		return err == nil && v != nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)

	v, err := st.Read(context.Background(), QueueRoot+"/solo")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestDroppedConnectionDequeues(t *testing.T) {
	st := store.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewSearcher(st, quietLogger(), "c1", models.Profile{Rating: 1000}, "solo", Options{})
	go func() { _, _ = s.Run(ctx) }()

	require.Eventually(t, func() bool {
		v, err := st.Read(context.Background(), QueueRoot+"/solo")
		return err == nil && v != nil
	}, 2*time.Second, 10*time.Millisecond)

	st.DropConnection("c1")

	v, err := st.Read(context.Background(), QueueRoot+"/solo")
	require.NoError(t, err)
	assert.Nil(t, v)
}
