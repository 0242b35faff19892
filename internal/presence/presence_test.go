// internal/presence/presence_test.go
package presence

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bidwire/goofspiel/internal/models"
	"github.com/bidwire/goofspiel/internal/store"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func readPresence(t *testing.T, st store.Store, gameID string, role models.Role) models.PresenceRecord {
	t.Helper()
	raw, err := st.Read(context.Background(), Path(gameID, role))
	require.NoError(t, err)
	var p models.PresenceRecord
	if raw != nil {
		require.NoError(t, store.Decode(raw, &p))
	}
	return p
}

func TestTrackerMarksOnlineAndHeartbeats(t *testing.T) {
	st := store.NewMemoryStore()
	now := int64(1_000)
	st.SetClock(func() int64 { return atomic.LoadInt64(&now) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := NewTracker(st, quietLogger(), "c1", "GAMEID", models.RoleHost, 20*time.Millisecond)
	go func() { _ = tr.Start(ctx) }()

	require.Eventually(t, func() bool {
		return readPresence(t, st, "GAMEID", models.RoleHost).Online
	}, 2*time.Second, 10*time.Millisecond)

	p := readPresence(t, st, "GAMEID", models.RoleHost)
	require.NotNil(t, p.LastSeen)
	assert.Equal(t, int64(1_000), *p.LastSeen)
	assert.Nil(t, p.DisconnectedAt)

	atomic.StoreInt64(&now, 6_000)
	require.Eventually(t, func() bool {
		p := readPresence(t, st, "GAMEID", models.RoleHost)
		return p.LastSeen != nil && *p.LastSeen == 6_000
	}, 2*time.Second, 10*time.Millisecond)

	// a stray offline write heals on the next heartbeat
	require.NoError(t, st.Write(ctx, Path("GAMEID", models.RoleHost, "online"), false))
	require.Eventually(t, func() bool {
		return readPresence(t, st, "GAMEID", models.RoleHost).Online
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDropConnectionFlipsOffline(t *testing.T) {
	st := store.NewMemoryStore()
	now := int64(1_000)
	st.SetClock(func() int64 { return atomic.LoadInt64(&now) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := NewTracker(st, quietLogger(), "c1", "GAMEID", models.RoleGuest, time.Hour)
	go func() { _ = tr.Start(ctx) }()

	require.Eventually(t, func() bool {
		return readPresence(t, st, "GAMEID", models.RoleGuest).Online
	}, 2*time.Second, 10*time.Millisecond)

	atomic.StoreInt64(&now, 9_000)
	st.DropConnection("c1")

	p := readPresence(t, st, "GAMEID", models.RoleGuest)
	assert.False(t, p.Online)
	require.NotNil(t, p.DisconnectedAt)
	assert.Equal(t, int64(9_000), *p.DisconnectedAt)
}

func TestCleanStopLooksLikeADrop(t *testing.T) {
	st := store.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())

	tr := NewTracker(st, quietLogger(), "c1", "GAMEID", models.RoleHost, time.Hour)
	go func() { _ = tr.Start(ctx) }()
	require.Eventually(t, func() bool {
		return readPresence(t, st, "GAMEID", models.RoleHost).Online
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	tr.Stop(context.Background())
	st.DropConnection("c1")

	p := readPresence(t, st, "GAMEID", models.RoleHost)
	assert.False(t, p.Online)
	assert.NotNil(t, p.DisconnectedAt)
}

func TestMonitorFiresOnceAfterGrace(t *testing.T) {
	now := int64(100_000)
	m := NewMonitor(30*time.Second, func() int64 { return now }, nil)

	gone := now - 31_000
	p := &models.PresenceRecord{Online: false, DisconnectedAt: &gone}

	assert.True(t, m.Observe(p), "first observation past the grace fires")
	assert.False(t, m.Observe(p), "second observation of the same state does not")
}

func TestMonitorWaitsOutGracePeriod(t *testing.T) {
	now := int64(100_000)
	rechecks := make(chan struct{}, 1)
	m := NewMonitor(30*time.Second, func() int64 { return now }, func() {
		select {
		case rechecks <- struct{}{}:
		default:
		}
	})

	gone := now - 10_000
	p := &models.PresenceRecord{Online: false, DisconnectedAt: &gone}
	assert.False(t, m.Observe(p), "10s offline is inside a 30s grace")

	// reconnection clears the countdown
	assert.False(t, m.Observe(&models.PresenceRecord{Online: true}))

	// a later drop past the grace still fires
	now = 200_000
	gone = now - 31_000
	assert.True(t, m.Observe(&models.PresenceRecord{Online: false, DisconnectedAt: &gone}))
	m.Stop()
}

func TestMonitorRecheckFiresTimer(t *testing.T) {
	rechecked := make(chan struct{})
	var once atomic.Bool
	m := NewMonitor(30*time.Millisecond, nil, func() {
		if once.CompareAndSwap(false, true) {
			close(rechecked)
		}
	})

	gone := time.Now().UnixMilli() - 10
	assert.False(t, m.Observe(&models.PresenceRecord{Online: false, DisconnectedAt: &gone}))

	select {
	case <-rechecked:
	case <-time.After(2 * time.Second):
		t.Fatal("recheck timer never fired")
	}
	m.Stop()
}
