// internal/game/deck.go
package game

import "math/rand"

const (
	// RankCount is the number of card ranks per hand and per prize deck.
	RankCount = 13
	// TotalPrizePoints is the sum of all prize ranks, 1+2+...+13.
	TotalPrizePoints = 91
	// ForcedWinScore is assigned to the surviving player on a timeout,
	// forfeit or disconnect loss. It exceeds any legitimate score spread.
	ForcedWinScore = 999
)

// codeAlphabet excludes visually ambiguous symbols (I, O, 0, 1, L) so join
// codes survive being read aloud.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const codeLength = 6

// Ranks returns the ordered card ranks 1..13.
func Ranks() []int {
	out := make([]int, RankCount)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

// ShuffledDeck returns the 13 prize ranks in random order.
func ShuffledDeck() []int {
	deck := Ranks()
	rand.Shuffle(len(deck), func(i, j int) {
		deck[i], deck[j] = deck[j], deck[i]
	})
	return deck
}

// NewGameID generates a short human-shareable join code.
func NewGameID() string {
	buf := make([]byte, codeLength)
	for i := range buf {
		buf[i] = codeAlphabet[rand.Intn(len(codeAlphabet))]
	}
	return string(buf)
}
