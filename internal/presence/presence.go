// internal/presence/presence.go
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bidwire/goofspiel/internal/game"
	"github.com/bidwire/goofspiel/internal/models"
	"github.com/bidwire/goofspiel/internal/store"
)

// DefaultHeartbeat is how often an online player refreshes lastSeen.
const DefaultHeartbeat = 5 * time.Second

// Path addresses a field of one seat's presence record.
func Path(gameID string, role models.Role, parts ...string) string {
	return game.FieldPath(gameID, append([]string{"presence", string(role)}, parts...)...)
}

// Tracker maintains one seat's presence record for the lifetime of a
// connection: it arms the store's disconnect actions before going online, so
// there is no window in which the player can appear online with no
// registered way of going offline.
type Tracker struct {
	st       store.Store
	log      *logrus.Logger
	conn     store.ConnID
	gameID   string
	role     models.Role
	interval time.Duration
}

func NewTracker(st store.Store, log *logrus.Logger, conn store.ConnID, gameID string, role models.Role, interval time.Duration) *Tracker {
	if interval <= 0 {
		interval = DefaultHeartbeat
	}
	return &Tracker{st: st, log: log, conn: conn, gameID: gameID, role: role, interval: interval}
}

// Start arms the disconnect actions, marks the seat online and begins the
// heartbeat loop. It blocks until ctx ends; call it in its own goroutine.
func (t *Tracker) Start(ctx context.Context) error {
	t.st.RegisterDisconnectAction(t.conn, Path(t.gameID, t.role, "online"), false)
	t.st.RegisterDisconnectAction(t.conn, Path(t.gameID, t.role, "disconnectedAt"), store.ServerTimestamp{})

	if err := t.markOnline(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := t.beat(ctx); err != nil {
				t.log.WithError(err).WithField("game", t.gameID).Warn("presence heartbeat failed")
			}
		}
	}
}

// Stop is the clean-exit path: the disconnect actions are disarmed and the
// seat goes offline with a server-stamped disconnectedAt, exactly as an
// unclean drop would have left it.
func (t *Tracker) Stop(ctx context.Context) {
	t.st.CancelDisconnectAction(t.conn, Path(t.gameID, t.role, "online"))
	t.st.CancelDisconnectAction(t.conn, Path(t.gameID, t.role, "disconnectedAt"))
	err := t.st.MultiWrite(ctx, map[string]interface{}{
		Path(t.gameID, t.role, "online"):         false,
		Path(t.gameID, t.role, "disconnectedAt"): store.ServerTimestamp{},
	})
	if err != nil {
		t.log.WithError(err).WithField("game", t.gameID).Warn("presence clean exit write failed")
	}
}

func (t *Tracker) markOnline(ctx context.Context) error {
	return t.st.MultiWrite(ctx, map[string]interface{}{
		Path(t.gameID, t.role, "online"):         true,
		Path(t.gameID, t.role, "lastSeen"):       store.ServerTimestamp{},
		Path(t.gameID, t.role, "disconnectedAt"): nil,
	})
}

// beat re-asserts online alongside the lastSeen refresh, so a disconnect
// write that fired spuriously heals on the next tick.
func (t *Tracker) beat(ctx context.Context) error {
	return t.st.MultiWrite(ctx, map[string]interface{}{
		Path(t.gameID, t.role, "online"):   true,
		Path(t.gameID, t.role, "lastSeen"): store.ServerTimestamp{},
	})
}

// Monitor watches the opponent's presence record on the arbiter's behalf
// and decides, exactly once, that the grace period has expired. Observe is
// fed every session snapshot; when the opponent is offline but the grace
// has not yet run out, a timer asks the caller to look again.
type Monitor struct {
	grace   time.Duration
	now     func() int64
	recheck func()

	mu    sync.Mutex
	fired bool
	timer *time.Timer
}

// NewMonitor builds a monitor. recheck is invoked from a timer goroutine
// when a previously-observed disconnection may have crossed the grace line;
// the caller should respond by re-observing its current snapshot.
func NewMonitor(grace time.Duration, now func() int64, recheck func()) *Monitor {
	if now == nil {
		now = func() int64 { return time.Now().UnixMilli() }
	}
	return &Monitor{grace: grace, now: now, recheck: recheck}
}

// Observe returns true exactly once: when the opponent has been offline for
// at least the grace period. A reconnection before the deadline rearms the
// monitor for any later disconnection.
func (m *Monitor) Observe(p *models.PresenceRecord) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fired {
		return false
	}
	if p == nil || p.Online || p.DisconnectedAt == nil {
		m.stopTimer()
		return false
	}
	elapsed := m.now() - *p.DisconnectedAt
	if elapsed >= m.grace.Milliseconds() {
		m.fired = true
		m.stopTimer()
		return true
	}
	remaining := time.Duration(m.grace.Milliseconds()-elapsed) * time.Millisecond
	m.stopTimer()
	if m.recheck != nil {
		m.timer = time.AfterFunc(remaining, m.recheck)
	}
	return false
}

// Stop cancels any pending recheck and prevents future firing.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fired = true
	m.stopTimer()
}

func (m *Monitor) stopTimer() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}
