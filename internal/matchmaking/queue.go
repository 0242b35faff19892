// internal/matchmaking/queue.go
package matchmaking

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bidwire/goofspiel/internal/game"
	"github.com/bidwire/goofspiel/internal/models"
	"github.com/bidwire/goofspiel/internal/store"
)

// QueueRoot is the store path holding one entry per searching player.
const QueueRoot = "queue"

// Match is the outcome of a successful search: the session to enter and the
// seat the searcher holds in it.
type Match struct {
	GameID string
	Role   models.Role
}

// Options tunes a search. Zero values fall back to the defaults used in
// production.
type Options struct {
	// RatingBand is the preferred maximum rating distance to an opponent.
	// When nobody is inside the band the closest searcher is taken anyway.
	RatingBand float64

	// DequeueGrace is how long the game creator leaves both queue entries
	// in place after matching, so the chosen side can observe the match
	// before the entries disappear.
	DequeueGrace time.Duration

	// ClockSeconds is the per-player clock for the created session.
	ClockSeconds int
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.RatingBand == 0 {
		out.RatingBand = 200
	}
	if out.DequeueGrace == 0 {
		out.DequeueGrace = 5 * time.Second
	}
	if out.ClockSeconds == 0 {
		out.ClockSeconds = 600
	}
	return out
}

// Searcher runs one player's matchmaking search. Both sides of a match run
// the same code; the pairing rule is deterministic, so they agree on who
// creates the session without talking to each other.
type Searcher struct {
	st      store.Store
	log     *logrus.Logger
	opts    Options
	userID  string
	name    string
	rating  float64
	conn    store.ConnID
	matched chan Match
	done    chan struct{}
}

// NewSearcher prepares a search for one player. conn is the connection whose
// death should pull the entry back out of the queue.
func NewSearcher(st store.Store, log *logrus.Logger, conn store.ConnID, profile models.Profile, userID string, opts Options) *Searcher {
	return &Searcher{
		st:      st,
		log:     log,
		opts:    opts.withDefaults(),
		userID:  userID,
		name:    profile.Name,
		rating:  profile.Rating,
		conn:    conn,
		matched: make(chan Match, 1),
		done:    make(chan struct{}),
	}
}

func (s *Searcher) entryPath() string {
	return QueueRoot + "/" + s.userID
}

// Run enqueues the player and blocks until a match is found or ctx ends.
// On a clean exit (match or cancellation) the queue entry is removed; on a
// dropped connection the store's disconnect action removes it instead.
func (s *Searcher) Run(ctx context.Context) (Match, error) {
	entry := models.QueueEntry{
		UserID: s.userID,
		Rating: s.rating,
		Name:   s.name,
	}
	tree, err := store.Encode(entry)
	if err != nil {
		return Match{}, err
	}

	s.st.RegisterDisconnectAction(s.conn, s.entryPath(), nil)
	if err := s.st.MultiWrite(ctx, map[string]interface{}{
		s.entryPath():                tree,
		s.entryPath() + "/timestamp": store.ServerTimestamp{},
	}); err != nil {
		s.st.CancelDisconnectAction(s.conn, s.entryPath())
		return Match{}, fmt.Errorf("enqueue: %w", err)
	}

	cancel := s.st.Subscribe(QueueRoot, func(v interface{}) {
		s.evaluate(ctx, v)
	})
	defer cancel()

	select {
	case m := <-s.matched:
		s.st.CancelDisconnectAction(s.conn, s.entryPath())
		return m, nil
	case <-ctx.Done():
		s.st.CancelDisconnectAction(s.conn, s.entryPath())
		_ = s.st.Write(context.Background(), s.entryPath(), nil)
		return Match{}, ctx.Err()
	}
}

// evaluate inspects one queue snapshot. It fires at most one match over the
// searcher's lifetime.
func (s *Searcher) evaluate(ctx context.Context, snapshot interface{}) {
	select {
	case <-s.done:
		return
	default:
	}

	entries := decodeQueue(snapshot)
	mine, ok := entries[s.userID]
	if !ok {
		return
	}
	if mine.GameID != "" {
		// own previous evaluation already created the game
		return
	}

	// Chosen side: some creator has published a game against us.
	for _, e := range entries {
		if e.UserID == s.userID || e.MatchedWith != s.userID || e.GameID == "" {
			continue
		}
		s.finish(ctx, Match{GameID: e.GameID, Role: s.roleAgainst(e)}, false)
		return
	}

	peer, ok := s.pickOpponent(entries)
	if !ok {
		return
	}
	// Deterministic creator election: the lexicographically smaller id
	// builds the session, the other waits to be chosen.
	if s.userID > peer.UserID {
		return
	}
	s.create(ctx, peer)
}

// pickOpponent selects the best available opponent: closest rating inside
// the band, else the closest searcher overall.
func (s *Searcher) pickOpponent(entries map[string]models.QueueEntry) (models.QueueEntry, bool) {
	var candidates []models.QueueEntry
	for _, e := range entries {
		if e.UserID == s.userID || e.GameID != "" || e.MatchedWith != "" {
			continue
		}
		candidates = append(candidates, e)
	}
	if len(candidates) == 0 {
		return models.QueueEntry{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		di := math.Abs(candidates[i].Rating - s.rating)
		dj := math.Abs(candidates[j].Rating - s.rating)
		if di != dj {
			return di < dj
		}
		return candidates[i].UserID < candidates[j].UserID
	})
	best := candidates[0]
	if math.Abs(best.Rating-s.rating) > s.opts.RatingBand {
		s.log.WithFields(logrus.Fields{
			"user":     s.userID,
			"opponent": best.UserID,
			"gap":      math.Abs(best.Rating - s.rating),
		}).Info("no opponent inside rating band, taking closest")
	}
	return best, true
}

// create re-validates both entries against the store, builds the session and
// publishes the match on the creator's own entry. The chosen side discovers
// it from there by scanning for matchedWith == its id.
func (s *Searcher) create(ctx context.Context, peer models.QueueEntry) {
	for _, id := range []string{s.userID, peer.UserID} {
		raw, err := s.st.Read(ctx, QueueRoot+"/"+id)
		if err != nil || raw == nil {
			return
		}
		var fresh models.QueueEntry
		if err := store.Decode(raw, &fresh); err != nil || fresh.GameID != "" || fresh.MatchedWith != "" {
			return
		}
	}

	me := game.Seat{ID: s.userID, Name: s.name}
	them := game.Seat{ID: peer.UserID, Name: peer.Name}
	myRole := models.RoleGuest
	sess := game.NewMatchedSession(them, me, s.opts.ClockSeconds)
	if s.rating >= peer.Rating {
		myRole = models.RoleHost
		sess = game.NewMatchedSession(me, them, s.opts.ClockSeconds)
	}

	gameID := game.NewGameID()
	updates, err := game.CreateUpdates(gameID, sess)
	if err != nil {
		s.log.WithError(err).Error("encode matched session")
		return
	}
	updates[s.entryPath()+"/gameId"] = gameID
	updates[s.entryPath()+"/matchedWith"] = peer.UserID
	if err := s.st.MultiWrite(ctx, updates); err != nil {
		s.log.WithError(err).Warn("publish match")
		return
	}

	s.log.WithFields(logrus.Fields{
		"game":     gameID,
		"creator":  s.userID,
		"opponent": peer.UserID,
	}).Info("matchmade session created")

	// Both entries linger for the grace period so the chosen side's
	// listener is guaranteed to see the published gameId.
	peerPath := QueueRoot + "/" + peer.UserID
	time.AfterFunc(s.opts.DequeueGrace, func() {
		_ = s.st.MultiWrite(context.Background(), map[string]interface{}{
			s.entryPath(): nil,
			peerPath:      nil,
		})
	})

	s.finish(ctx, Match{GameID: gameID, Role: myRole}, true)
}

// roleAgainst derives our seat from the creator's entry: the higher rating
// hosts, with the creator winning ties.
func (s *Searcher) roleAgainst(creator models.QueueEntry) models.Role {
	if creator.Rating >= s.rating {
		return models.RoleGuest
	}
	return models.RoleHost
}

func (s *Searcher) finish(ctx context.Context, m Match, creator bool) {
	select {
	case <-s.done:
		return
	default:
	}
	close(s.done)
	if !creator {
		// creator cleans up both entries after the grace period
		_ = s.st.Write(ctx, s.entryPath(), nil)
	}
	s.matched <- m
}

func decodeQueue(snapshot interface{}) map[string]models.QueueEntry {
	out := make(map[string]models.QueueEntry)
	node, ok := snapshot.(map[string]interface{})
	if !ok {
		return out
	}
	for id, raw := range node {
		var e models.QueueEntry
		if err := store.Decode(raw, &e); err != nil {
			continue
		}
		if e.UserID == "" {
			e.UserID = id
		}
		out[e.UserID] = e
	}
	return out
}
