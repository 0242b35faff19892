// internal/game/session_test.go
package game

import (
	"context"
	"testing"
	"time"

	"github.com/bidwire/goofspiel/internal/models"
	"github.com/bidwire/goofspiel/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from models.Status
		ev   Event
		to   models.Status
		ok   bool
	}{
		{models.StatusWaiting, EventGuestSeated, models.StatusPlaying, true},
		{models.StatusWaiting, EventAbandoned, models.StatusAbandoned, true},
		{models.StatusWaiting, EventBidsComplete, "", false},
		{models.StatusPlaying, EventBidsComplete, models.StatusResolving, true},
		{models.StatusPlaying, EventTimeout, models.StatusEnd, true},
		{models.StatusPlaying, EventRoundAdvance, "", false},
		{models.StatusResolving, EventRoundAdvance, models.StatusPlaying, true},
		{models.StatusResolving, EventGameOver, models.StatusEnd, true},
		{models.StatusResolving, EventTimeout, "", false},
		{models.StatusEnd, EventBidsComplete, "", false},
		{models.StatusEnd, EventAbandoned, "", false},
		{models.StatusAbandoned, EventGuestSeated, "", false},
	}
	for _, c := range cases {
		next, ok := Next(c.from, c.ev)
		assert.Equal(t, c.ok, ok, "%s + %s", c.from, c.ev)
		if c.ok {
			assert.Equal(t, c.to, next, "%s + %s", c.from, c.ev)
		}
	}
}

func TestNewSessionShape(t *testing.T) {
	s := NewMatchedSession(Seat{ID: "a", Name: "Alpha"}, Seat{ID: "b", Name: "Bravo"}, 600)

	assert.Equal(t, models.StatusPlaying, s.Status)
	assert.Equal(t, 1, s.Round)
	require.NotNil(t, s.CurrentPrize)
	assert.Len(t, s.PrizeDeck, RankCount-1)
	assert.Equal(t, Ranks(), s.Host.Hand)
	assert.Equal(t, Ranks(), s.Guest.Hand)
	assert.Equal(t, 600, s.Host.Time)
	assert.True(t, s.Presence.Host.Online)
	assert.True(t, s.Presence.Guest.Online)

	// prize + deck together cover all 13 ranks
	seen := map[int]bool{*s.CurrentPrize: true}
	for _, p := range s.PrizeDeck {
		assert.False(t, seen[p], "duplicate prize %d", p)
		seen[p] = true
	}
	assert.Len(t, seen, RankCount)
}

func TestWaitingSessionGuestOffline(t *testing.T) {
	s := NewWaitingSession(Seat{ID: "a", Name: "Alpha"}, 600)
	assert.Equal(t, models.StatusWaiting, s.Status)
	assert.False(t, s.Presence.Guest.Online)
	assert.True(t, s.Presence.Host.Online)
	assert.Empty(t, s.Guest.ID)
}

func TestRematchSessionKeepsSeatsResetsBoard(t *testing.T) {
	prev := NewMatchedSession(Seat{ID: "a", Name: "Alpha"}, Seat{ID: "b", Name: "Bravo"}, 600)
	prev.Host.Score = 50
	prev.Guest.Score = 41

	s := NewRematchSession(prev, "OLDGME", 600)
	assert.Equal(t, "a", s.Host.ID)
	assert.Equal(t, "b", s.Guest.ID)
	assert.Equal(t, 0, s.Host.Score)
	assert.Equal(t, 0, s.Guest.Score)
	assert.Equal(t, "OLDGME", s.PreviousGameID)
	assert.Equal(t, models.StatusPlaying, s.Status)
}

func TestCreateUpdatesStampsServerClock(t *testing.T) {
	st := store.NewMemoryStore()
	st.SetClock(func() int64 { return 42_000 })

	s := NewMatchedSession(Seat{ID: "a"}, Seat{ID: "b"}, 600)
	updates, err := CreateUpdates("GGGGGG", s)
	require.NoError(t, err)
	require.NoError(t, st.MultiWrite(context.Background(), updates))

	got := readSession(t, st, "GGGGGG")
	assert.Equal(t, int64(42_000), got.RoundStart)
	assert.Equal(t, int64(42_000), got.LastAction)
	require.NotNil(t, got.Presence.Host.LastSeen)
	assert.Equal(t, int64(42_000), *got.Presence.Host.LastSeen)
}

func TestJoinUpdatesSeatGuest(t *testing.T) {
	st := store.NewMemoryStore()
	s := NewWaitingSession(Seat{ID: "a", Name: "Alpha"}, 600)
	updates, err := CreateUpdates("HHHHHH", s)
	require.NoError(t, err)
	require.NoError(t, st.MultiWrite(context.Background(), updates))

	require.NoError(t, st.MultiWrite(context.Background(), JoinUpdates("HHHHHH", "b", "Bravo")))
	got := readSession(t, st, "HHHHHH")
	assert.Equal(t, models.StatusPlaying, got.Status)
	assert.Equal(t, "b", got.Guest.ID)
	assert.Equal(t, "Bravo", got.Guest.Name)
	// the guest's board state set at creation survives seating
	assert.Equal(t, Ranks(), got.Guest.Hand)
}

func TestBidUpdatesRejectsIllegalBids(t *testing.T) {
	s := NewMatchedSession(Seat{ID: "a"}, Seat{ID: "b"}, 600)

	_, ok := BidUpdates("X", models.RoleHost, &s.Host, 14)
	assert.False(t, ok, "rank outside hand")

	seven := 7
	s.Host.Bid = &seven
	_, ok = BidUpdates("X", models.RoleHost, &s.Host, 3)
	assert.False(t, ok, "second bid in same round")

	s.Host.Bid = nil
	s.Host.Hand = []int{1, 2, 4}
	_, ok = BidUpdates("X", models.RoleHost, &s.Host, 3)
	assert.False(t, ok, "already-played rank")

	updates, ok := BidUpdates("X", models.RoleHost, &s.Host, 2)
	require.True(t, ok)
	assert.Equal(t, []int{1, 4}, updates[FieldPath("X", "host", "hand")])
	assert.Equal(t, 2, updates[FieldPath("X", "host", "bid")])
}

func TestCancelUpdatesHostOnlyWhileWaiting(t *testing.T) {
	st := store.NewMemoryStore()
	s := NewWaitingSession(Seat{ID: "a", Name: "Alpha"}, 600)
	updates, err := CreateUpdates("CANCEL", s)
	require.NoError(t, err)
	require.NoError(t, st.MultiWrite(context.Background(), updates))

	// a stranger cannot cancel someone else's session
	_, ok := CancelUpdates("CANCEL", s, "b")
	assert.False(t, ok)

	// once a guest seats, the host cannot cancel either
	seated := *s
	seated.Status = models.StatusPlaying
	seated.Guest.ID = "b"
	_, ok = CancelUpdates("CANCEL", &seated, "a")
	assert.False(t, ok)

	del, ok := CancelUpdates("CANCEL", s, "a")
	require.True(t, ok)
	require.NoError(t, st.MultiWrite(context.Background(), del))

	raw, err := st.Read(context.Background(), SessionPath("CANCEL"))
	require.NoError(t, err)
	assert.Nil(t, raw, "cancelled session still present")
}

func TestAbandoned(t *testing.T) {
	now := int64(1_000_000)
	threshold := time.Minute
	seen := now - 2*time.Minute.Milliseconds()

	s := &models.Session{
		Status: models.StatusPlaying,
		Presence: models.SessionPresence{
			Host:  models.PresenceRecord{Online: false, LastSeen: &seen},
			Guest: models.PresenceRecord{Online: false, LastSeen: &seen},
		},
	}
	assert.True(t, Abandoned(s, now, threshold))

	s.Presence.Guest.Online = true
	assert.False(t, Abandoned(s, now, threshold), "one side online")
	s.Presence.Guest.Online = false

	recent := now - 10_000
	s.Presence.Guest.LastSeen = &recent
	assert.False(t, Abandoned(s, now, threshold), "one side recently seen")

	s.Presence.Guest.LastSeen = nil
	assert.False(t, Abandoned(s, now, threshold), "missing timestamp never abandons")

	s.Presence.Guest.LastSeen = &seen
	s.Status = models.StatusEnd
	assert.False(t, Abandoned(s, now, threshold), "terminal sessions are left alone")
}

func TestCheckAndCleanupMarksAbandoned(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	now := int64(1_000_000)
	seen := now - 100_000

	s := NewMatchedSession(Seat{ID: "a"}, Seat{ID: "b"}, 600)
	s.Presence.Host = models.PresenceRecord{Online: false, LastSeen: &seen}
	s.Presence.Guest = models.PresenceRecord{Online: false, DisconnectedAt: &seen}
	tree, err := store.Encode(s)
	require.NoError(t, err)
	require.NoError(t, st.Write(ctx, SessionPath("IIIIII"), tree))

	joinable, err := CheckAndCleanup(ctx, st, "IIIIII", s, now, time.Minute)
	require.NoError(t, err)
	assert.False(t, joinable)

	got := readSession(t, st, "IIIIII")
	assert.Equal(t, models.StatusAbandoned, got.Status)

	// a live session passes through untouched
	live := NewMatchedSession(Seat{ID: "a"}, Seat{ID: "b"}, 600)
	joinable, err = CheckAndCleanup(ctx, st, "JJJJJJ", live, now, time.Minute)
	require.NoError(t, err)
	assert.True(t, joinable)
}

func TestNewGameIDAlphabet(t *testing.T) {
	for i := 0; i < 50; i++ {
		id := NewGameID()
		assert.Len(t, id, codeLength)
		for _, c := range id {
			assert.Contains(t, codeAlphabet, string(c))
		}
	}
}
