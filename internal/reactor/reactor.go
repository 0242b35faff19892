// internal/reactor/reactor.go

// Package reactor drives one player's view of one session. Every mutation a
// player performs flows through a single goroutine per reactor, so the host
// side is a true single writer: bid resolution, clock expiry, disconnect
// forfeits, rating computation and rematch creation can never race each
// other.
package reactor

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bidwire/goofspiel/internal/game"
	"github.com/bidwire/goofspiel/internal/models"
	"github.com/bidwire/goofspiel/internal/presence"
	"github.com/bidwire/goofspiel/internal/profiles"
	"github.com/bidwire/goofspiel/internal/rematch"
	"github.com/bidwire/goofspiel/internal/store"
)

// Config carries the timing knobs. Zero values fall back to production
// defaults.
type Config struct {
	// RevealDelay is the dwell between showing a round's outcome and
	// starting the next round.
	RevealDelay time.Duration

	// DisconnectGrace is how long an opponent may stay offline mid-game
	// before the remaining player claims the win.
	DisconnectGrace time.Duration

	// ClockSeconds seeds the per-player clock of rematch sessions.
	ClockSeconds int
}

func (c Config) withDefaults() Config {
	if c.RevealDelay == 0 {
		c.RevealDelay = time.Second
	}
	if c.DisconnectGrace == 0 {
		c.DisconnectGrace = 30 * time.Second
	}
	if c.ClockSeconds == 0 {
		c.ClockSeconds = 600
	}
	return c
}

type eventKind int

const (
	evSnapshot eventKind = iota
	evBid
	evForfeit
	evRematchRequest
	evRematchDecline
	evAdvance
	evPoke
)

type event struct {
	kind  eventKind
	value interface{}
	rank  int
}

// Reactor runs one seat of one session.
type Reactor struct {
	st   store.Store
	log  *logrus.Entry
	repo profiles.Repository
	cfg  Config

	gameID string
	role   models.Role
	userID string

	onState func(DisplayState)
	now     func() int64

	events  chan event
	monitor *presence.Monitor

	// loop-local state, touched only by Run's goroutine
	snapshot       *models.Session
	pendingAdvance *game.Resolution
	advanceDue     bool
	ratingsHandled bool
	deltaApplied   bool
	clockTimer     *time.Timer
}

// New builds a reactor. onState receives a fresh projection after every
// snapshot; it is called from the reactor goroutine and must not block for
// long.
func New(st store.Store, log *logrus.Logger, repo profiles.Repository, cfg Config, gameID, userID string, role models.Role, onState func(DisplayState)) *Reactor {
	r := &Reactor{
		st:      st,
		log:     log.WithFields(logrus.Fields{"game": gameID, "role": role}),
		repo:    repo,
		cfg:     cfg.withDefaults(),
		gameID:  gameID,
		role:    role,
		userID:  userID,
		onState: onState,
		now:     func() int64 { return time.Now().UnixMilli() },
		events:  make(chan event, 64),
	}
	r.monitor = presence.NewMonitor(r.cfg.DisconnectGrace, nil, func() { r.post(event{kind: evPoke}) })
	return r
}

// Bid asks to play rank this round.
func (r *Reactor) Bid(rank int) { r.post(event{kind: evBid, rank: rank}) }

// Forfeit resigns the game.
func (r *Reactor) Forfeit() { r.post(event{kind: evForfeit}) }

// RematchRequest asks for a rematch after the game ends.
func (r *Reactor) RematchRequest() { r.post(event{kind: evRematchRequest}) }

// RematchDecline refuses a rematch.
func (r *Reactor) RematchDecline() { r.post(event{kind: evRematchDecline}) }

func (r *Reactor) post(ev event) {
	select {
	case r.events <- ev:
	default:
		// an overfull queue means the loop is wedged; drop rather than
		// deadlock the transport
		r.log.Warn("reactor event dropped")
	}
}

// Run subscribes to the session and processes events until ctx ends.
func (r *Reactor) Run(ctx context.Context) error {
	cancel := r.st.Subscribe(game.SessionPath(r.gameID), func(v interface{}) {
		r.post(event{kind: evSnapshot, value: v})
	})
	defer cancel()
	defer r.monitor.Stop()
	defer r.stopClockTimer()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-r.events:
			r.handle(ctx, ev)
		}
	}
}

func (r *Reactor) handle(ctx context.Context, ev event) {
	switch ev.kind {
	case evSnapshot:
		r.onSnapshot(ctx, ev.value)
	case evBid:
		r.onBid(ctx, ev.rank)
	case evForfeit:
		r.onForfeit(ctx)
	case evRematchRequest:
		r.onRematchRequest(ctx)
	case evRematchDecline:
		r.onRematchDecline(ctx)
	case evAdvance:
		r.onAdvance(ctx)
	case evPoke:
		r.arbitrate(ctx)
	}
}

func (r *Reactor) onSnapshot(ctx context.Context, raw interface{}) {
	if raw == nil {
		r.log.Warn("session record missing")
		return
	}
	var s models.Session
	if err := store.Decode(raw, &s); err != nil {
		r.log.WithError(err).Error("decode session snapshot")
		return
	}
	r.snapshot = &s

	r.applyOwnDelta(ctx)
	r.arbitrate(ctx)

	if r.onState != nil {
		r.onState(Project(r.gameID, &s, r.role, r.now()))
	}
}

// applyOwnDelta folds the host-published rating delta for this seat into
// the player's persisted profile, exactly once per reactor lifetime.
func (r *Reactor) applyOwnDelta(ctx context.Context) {
	s := r.snapshot
	if r.deltaApplied || r.repo == nil || s.RatingUpdates == nil {
		return
	}
	delta := s.RatingUpdates.Host
	if r.role == models.RoleGuest {
		delta = s.RatingUpdates.Guest
	}
	if err := r.repo.ApplyDelta(ctx, r.userID, r.gameID, delta); err != nil {
		r.log.WithError(err).Error("apply rating delta")
		return
	}
	r.deltaApplied = true
}

// arbitrate performs every mutation the current snapshot calls for. The
// host owns resolution, clocks, ratings and rematch creation; both seats
// watch the opponent's presence, because the seat that vanished cannot be
// the one to act on it.
func (r *Reactor) arbitrate(ctx context.Context) {
	s := r.snapshot
	if s == nil {
		return
	}

	r.watchOpponent(ctx)

	if r.role != models.RoleHost {
		return
	}

	switch s.Status {
	case models.StatusPlaying:
		if s.BothBid() && r.pendingAdvance == nil {
			r.resolve(ctx)
			return
		}
		r.armClockTimer()
	case models.StatusResolving:
		r.recoverAdvance(ctx)
	case models.StatusEnd:
		r.publishRatings(ctx)
		r.reconcileRematch(ctx)
	}
}

// recoverAdvance keeps a RESOLVING session from wedging: a host restarted
// between the reveal and the advance rebuilds the resolution from the
// snapshot, and a dwell timer that fired before the RESOLVING snapshot
// arrived is replayed once the snapshot is here.
func (r *Reactor) recoverAdvance(ctx context.Context) {
	if r.pendingAdvance == nil {
		res, ok := game.RecoverResolution(r.snapshot)
		if !ok {
			return
		}
		r.pendingAdvance = res
		time.AfterFunc(r.cfg.RevealDelay, func() { r.post(event{kind: evAdvance}) })
		return
	}
	if r.advanceDue {
		r.onAdvance(ctx)
	}
}

func (r *Reactor) resolve(ctx context.Context) {
	s := r.snapshot
	res, ok := game.ComputeResolution(s, r.now())
	if !ok {
		return
	}
	if _, legal := game.Next(s.Status, game.EventBidsComplete); !legal {
		return
	}
	if err := r.st.MultiWrite(ctx, res.RevealUpdates(r.gameID)); err != nil {
		r.log.WithError(err).Error("commit reveal")
		return
	}
	r.pendingAdvance = res
	r.stopClockTimer()
	time.AfterFunc(r.cfg.RevealDelay, func() { r.post(event{kind: evAdvance}) })
}

func (r *Reactor) onAdvance(ctx context.Context) {
	res := r.pendingAdvance
	s := r.snapshot
	if res == nil || s == nil {
		return
	}
	if s.Status != models.StatusResolving {
		// the dwell elapsed before our own reveal write came back; replay
		// when the RESOLVING snapshot lands
		r.advanceDue = true
		return
	}
	ev := game.EventRoundAdvance
	if res.GameOver() {
		ev = game.EventGameOver
	}
	if _, legal := game.Next(s.Status, ev); !legal {
		return
	}
	if err := r.st.MultiWrite(ctx, res.AdvanceUpdates(r.gameID, s)); err != nil {
		r.log.WithError(err).Error("commit advance")
		return
	}
	r.pendingAdvance = nil
	r.advanceDue = false
}

// armClockTimer schedules a poke for the earliest possible clock expiry of
// a player who has not yet bid, and ends the game when one has arrived.
func (r *Reactor) armClockTimer() {
	s := r.snapshot
	now := r.now()
	if s.RoundStart == 0 {
		return
	}

	hostOut := clockExpired(&s.Host, s.RoundStart, now)
	guestOut := clockExpired(&s.Guest, s.RoundStart, now)
	if hostOut || guestOut {
		if _, legal := game.Next(s.Status, game.EventTimeout); !legal {
			return
		}
		updates := game.TimeoutUpdates(r.gameID, s, hostOut, guestOut)
		if err := r.st.MultiWrite(context.Background(), updates); err != nil {
			r.log.WithError(err).Error("commit timeout")
		}
		return
	}

	next := int64(-1)
	for _, p := range []*models.PlayerState{&s.Host, &s.Guest} {
		if p.Bid != nil {
			continue
		}
		deadline := s.RoundStart + int64(p.Time)*1000
		if next < 0 || deadline < next {
			next = deadline
		}
	}
	r.stopClockTimer()
	if next < 0 {
		return
	}
	wait := time.Duration(next-now) * time.Millisecond
	if wait < 0 {
		wait = 0
	}
	r.clockTimer = time.AfterFunc(wait, func() { r.post(event{kind: evPoke}) })
}

func clockExpired(p *models.PlayerState, roundStart, now int64) bool {
	if p.Bid != nil {
		return false
	}
	return now-roundStart >= int64(p.Time)*1000
}

func (r *Reactor) stopClockTimer() {
	if r.clockTimer != nil {
		r.clockTimer.Stop()
		r.clockTimer = nil
	}
}

// watchOpponent claims the win when the other seat has been gone past the
// grace period. The monitor fires at most once per reactor.
func (r *Reactor) watchOpponent(ctx context.Context) {
	s := r.snapshot
	if s.Status != models.StatusPlaying {
		return
	}
	if !r.monitor.Observe(s.PresenceOf(r.role.Opponent())) {
		return
	}
	if _, legal := game.Next(s.Status, game.EventOpponentGone); !legal {
		return
	}
	r.log.Info("opponent grace expired, claiming forfeit win")
	updates := game.DisconnectForfeitUpdates(r.gameID, r.role)
	if err := r.st.MultiWrite(ctx, updates); err != nil {
		r.log.WithError(err).Error("commit disconnect forfeit")
	}
}

// publishRatings computes and publishes both players' deltas exactly once
// per game. The snapshot guard catches replays across host restarts; the
// local flag catches stale snapshots queued behind our own write.
func (r *Reactor) publishRatings(ctx context.Context) {
	s := r.snapshot
	if r.ratingsHandled || s.RatingUpdates != nil || r.repo == nil {
		r.ratingsHandled = true
		return
	}
	if s.Guest.ID == "" {
		return
	}
	hostProfile, err := r.repo.Get(ctx, s.Host.ID)
	if err != nil {
		r.log.WithError(err).Error("load host profile")
		return
	}
	guestProfile, err := r.repo.Get(ctx, s.Guest.ID)
	if err != nil {
		r.log.WithError(err).Error("load guest profile")
		return
	}
	updates := game.ComputeRatingUpdates(s, hostProfile, guestProfile)
	tree, err := store.Encode(updates)
	if err != nil {
		r.log.WithError(err).Error("encode rating updates")
		return
	}
	if err := r.st.Write(ctx, game.FieldPath(r.gameID, "ratingUpdates"), tree); err != nil {
		r.log.WithError(err).Error("publish rating updates")
		return
	}
	r.ratingsHandled = true
}

func (r *Reactor) reconcileRematch(ctx context.Context) {
	s := r.snapshot
	if rematch.NeedsReconcile(s) {
		if err := r.st.MultiWrite(ctx, rematch.AcceptUpdates(r.gameID)); err != nil {
			r.log.WithError(err).Error("reconcile rematch acceptance")
		}
		return
	}
	if !rematch.ShouldCreate(s) {
		return
	}
	newID, updates, err := rematch.SuccessorUpdates(r.gameID, s, r.cfg.ClockSeconds)
	if err != nil {
		r.log.WithError(err).Error("build rematch session")
		return
	}
	if err := r.st.MultiWrite(ctx, updates); err != nil {
		r.log.WithError(err).Error("create rematch session")
		return
	}
	r.log.WithField("next", newID).Info("rematch session created")
}

func (r *Reactor) onBid(ctx context.Context, rank int) {
	s := r.snapshot
	if s == nil || s.Status != models.StatusPlaying {
		return
	}
	updates, ok := game.BidUpdates(r.gameID, r.role, s.Player(r.role), rank)
	if !ok {
		return
	}
	if err := r.st.MultiWrite(ctx, updates); err != nil {
		r.log.WithError(err).Error("commit bid")
	}
}

func (r *Reactor) onForfeit(ctx context.Context) {
	s := r.snapshot
	if s == nil {
		return
	}
	if _, legal := game.Next(s.Status, game.EventForfeit); !legal {
		return
	}
	if err := r.st.MultiWrite(ctx, game.ForfeitUpdates(r.gameID, r.role)); err != nil {
		r.log.WithError(err).Error("commit forfeit")
	}
}

func (r *Reactor) onRematchRequest(ctx context.Context) {
	s := r.snapshot
	if s == nil {
		return
	}
	updates := rematch.RequestUpdates(r.gameID, r.role, s)
	if updates == nil {
		return
	}
	if err := r.st.MultiWrite(ctx, updates); err != nil {
		r.log.WithError(err).Error("commit rematch request")
	}
}

func (r *Reactor) onRematchDecline(ctx context.Context) {
	s := r.snapshot
	if s == nil {
		return
	}
	updates := rematch.DeclineUpdates(r.gameID, r.role, s)
	if updates == nil {
		return
	}
	if err := r.st.MultiWrite(ctx, updates); err != nil {
		r.log.WithError(err).Error("commit rematch decline")
	}
}
