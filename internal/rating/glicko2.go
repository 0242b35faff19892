// internal/rating/glicko2.go
package rating

import (
	"math"

	"github.com/bidwire/goofspiel/internal/models"
)

const (
	// GlickoScale is the multiplier used for converting between the public
	// rating scale and Glicko2's mu.
	GlickoScale = 173.7178
	// ScaleCenter is the public rating that maps to mu = 0.
	ScaleCenter = 1500.0
	// Tau is the constraint on volatility changes.
	Tau = 0.5
	// Epsilon is the tolerance used in iteration stopping conditions.
	Epsilon = 0.000001
)

// Rating holds the transformed rating (Mu), rating deviation (Phi), and
// volatility (Sigma) for a single player in Glicko2 space.
type Rating struct {
	Mu    float64
	Phi   float64
	Sigma float64
}

// FromProfile converts a persisted profile into Glicko2 space, substituting
// defaults for zero-valued deviation or volatility.
func FromProfile(p models.Profile) Rating {
	sigma := p.Vol
	if sigma == 0 {
		sigma = models.DefaultVol
	}
	rd := p.RD
	if rd == 0 {
		rd = models.DefaultRD
	}
	return Rating{
		Mu:    (p.Rating - ScaleCenter) / GlickoScale,
		Phi:   rd / GlickoScale,
		Sigma: sigma,
	}
}

// Public converts back to the public scale.
func (r Rating) Public() (rating, rd, vol float64) {
	return r.Mu*GlickoScale + ScaleCenter, r.Phi * GlickoScale, r.Sigma
}

// Update performs a single-match Glicko2 update for p1 against p2 with the
// given outcome for p1 (1 win, 0 loss, 0.5 draw). It is a pure function and
// touches only the rating triple, never the game counters. Player 2's update
// is the same call with roles swapped and the outcome complemented.
func Update(p1, p2 models.Profile, outcome float64) models.Profile {
	r := FromProfile(p1)
	opp := FromProfile(p2)

	gVal := g(opp.Phi)
	EVal := E(r.Mu, opp.Mu, opp.Phi)

	v := 1.0 / (gVal * gVal * EVal * (1 - EVal))
	delta := v * gVal * (outcome - EVal)

	newSigma := solveVolatility(r, v, delta)
	phiStar := math.Sqrt(r.Phi*r.Phi + newSigma*newSigma)
	phiPrime := 1.0 / math.Sqrt(1.0/(phiStar*phiStar)+1.0/v)
	muPrime := r.Mu + phiPrime*phiPrime*gVal*(outcome-EVal)

	updated := Rating{Mu: muPrime, Phi: phiPrime, Sigma: newSigma}
	newRating, newRD, newVol := updated.Public()

	out := p1
	out.Rating = newRating
	out.RD = newRD
	out.Vol = newVol
	return out
}

// solveVolatility runs the Glicko2 volatility iteration (Illinois variant of
// regula falsi) bounded by Tau.
func solveVolatility(r Rating, v, delta float64) float64 {
	a := math.Log(r.Sigma * r.Sigma)

	A := a
	var B float64
	if delta*delta > r.Phi*r.Phi+v {
		B = math.Log(delta*delta - r.Phi*r.Phi - v)
	} else {
		k := 1.0
		for f(a-k*Tau, r.Phi, v, delta, a) < 0 {
			k++
		}
		B = a - k*Tau
	}

	fA := f(A, r.Phi, v, delta, a)
	fB := f(B, r.Phi, v, delta, a)
	for math.Abs(B-A) > Epsilon {
		C := A + (A-B)*fA/(fB-fA)
		fC := f(C, r.Phi, v, delta, a)
		if fC*fB < 0 {
			A = B
			fA = fB
		} else {
			fA = fA / 2
		}
		B = C
		fB = fC
	}
	return math.Exp(A / 2)
}

// g is the G(phi) factor from Glicko2, 1/sqrt(1+3phi^2/pi^2).
func g(phi float64) float64 {
	return 1.0 / math.Sqrt(1.0+3.0*phi*phi/math.Pi/math.Pi)
}

// E is the expected score in Glicko2 space, 1/(1+exp[-g(phi2)*(mu-mu2)]).
func E(mu, mu2, phi2 float64) float64 {
	return 1.0 / (1.0 + math.Exp(-g(phi2)*(mu-mu2)))
}

// f is the Glicko2 volatility root-finding function.
func f(x, phi, v, delta, a float64) float64 {
	ex := math.Exp(x)
	num := ex * (delta*delta - phi*phi - v - ex)
	den := 2.0 * (phi*phi + v + ex) * (phi*phi + v + ex)
	return (num / den) - ((x - a) / (Tau * Tau))
}
