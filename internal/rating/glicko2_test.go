// internal/rating/glicko2_test.go
package rating

import (
	"testing"

	"github.com/bidwire/goofspiel/internal/models"
)

func TestUpdateWinnerGainsLoserDrops(t *testing.T) {
	winner := models.NewProfile("w")
	loser := models.NewProfile("l")

	newW := Update(winner, loser, 1)
	newL := Update(loser, winner, 0)

	if newW.Rating <= winner.Rating {
		t.Errorf("winner's rating should have gone up, got %.1f", newW.Rating)
	}
	if newL.Rating >= loser.Rating {
		t.Errorf("loser's rating should have gone down, got %.1f", newL.Rating)
	}
	if newW.RD >= winner.RD {
		t.Errorf("deviation should shrink after a game, got %.2f", newW.RD)
	}
}

func TestUpsetGainExceedsExpectedGain(t *testing.T) {
	strong := models.Profile{Rating: 1400, RD: 120, Vol: 0.06}
	weak := models.Profile{Rating: 1000, RD: 120, Vol: 0.06}

	expectedGain := Update(strong, weak, 1).Rating - strong.Rating
	upsetGain := Update(weak, strong, 1).Rating - weak.Rating

	if upsetGain <= expectedGain {
		t.Errorf("upset should pay more: upset gain %.2f, expected-win gain %.2f", upsetGain, expectedGain)
	}
}

func TestDrawMovesRatingsTogether(t *testing.T) {
	high := models.Profile{Rating: 1300, RD: 200, Vol: 0.06}
	low := models.Profile{Rating: 900, RD: 200, Vol: 0.06}

	newHigh := Update(high, low, 0.5)
	newLow := Update(low, high, 0.5)

	if newHigh.Rating >= high.Rating {
		t.Errorf("higher-rated player should lose rating on a draw, got %.1f", newHigh.Rating)
	}
	if newLow.Rating <= low.Rating {
		t.Errorf("lower-rated player should gain rating on a draw, got %.1f", newLow.Rating)
	}
}

func TestUpdateIsPure(t *testing.T) {
	p1 := models.Profile{Rating: 1100, RD: 250, Vol: 0.06, GamesPlayed: 4, GamesWon: 2}
	p2 := models.Profile{Rating: 1050, RD: 250, Vol: 0.06}

	first := Update(p1, p2, 1)
	second := Update(p1, p2, 1)

	if first != second {
		t.Errorf("identical inputs must produce identical outputs: %+v vs %+v", first, second)
	}
	if first.GamesPlayed != p1.GamesPlayed || first.GamesWon != p1.GamesWon {
		t.Errorf("update must not touch counters: %+v", first)
	}
}
