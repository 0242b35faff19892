// internal/models/queue.go
package models

// QueueEntry is one searching player's record at queue/<userID>. The only
// entry a client may write is its own; a creator announces a match by
// stamping GameID/MatchedWith onto its own entry for the opponent to observe.
type QueueEntry struct {
	UserID      string  `json:"userId"`
	Rating      float64 `json:"rating"`
	Name        string  `json:"name"`
	Timestamp   int64   `json:"timestamp"`
	GameID      string  `json:"gameId,omitempty"`
	MatchedWith string  `json:"matchedWith,omitempty"`
}
