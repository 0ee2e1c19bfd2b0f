// Package pricing computes a team's share price from its season standing
// and the result of its most recent game.
//
// The price blends a long-run signal (season win/loss ratio times points
// ratio, weighted by RecencyWeight) with a short-run signal (the last
// game's points ratio, with a bonus added to the numerator on a win):
//
//	heavy = (W+1)/(L+1) * (PF+1)/(PA+1) * RecencyWeight*BaseValue
//	light = (pf+b)/(pa+1) * (1-RecencyWeight)*BaseValue, b = WinBonus on a win, else 1
//	price = floor(heavy + light)
//
// Every ratio carries a +1 offset so winless or shutout teams never divide
// by zero. The sum is evaluated as one exact fraction with shopspring/decimal
// so the floor is never off by one from accumulated rounding.
package pricing

import (
	"github.com/shopspring/decimal"
)

var (
	// BaseValue scales every price.
	BaseValue = decimal.NewFromInt(50)

	// RecencyWeight is the share of BaseValue driven by the season standing.
	// The remainder is driven by the most recent game.
	RecencyWeight = decimal.RequireFromString("0.75")

	// WinBonus replaces the +1 offset on the points-for side of the recent
	// game when the team won.
	WinBonus int64 = 15
)

// InitialPrice is the price of a newly registered team with no games.
const InitialPrice int64 = 50

// Standing is a team's cumulative season totals.
type Standing struct {
	Wins          int64
	Losses        int64
	PointsFor     int64
	PointsAgainst int64
}

// Add returns the standing after g has been played.
func (s Standing) Add(g Game) Standing {
	if g.Won {
		s.Wins++
	} else {
		s.Losses++
	}
	s.PointsFor += g.PointsFor
	s.PointsAgainst += g.PointsAgainst
	return s
}

// Game is one side's view of a single finished game.
type Game struct {
	Won           bool
	PointsFor     int64
	PointsAgainst int64
}

// NextPrice returns the price for a team with standing s whose most recent
// game was g. It is pure and deterministic. Inputs are expected to be
// non-negative; the result is never negative.
func NextPrice(s Standing, g Game) int64 {
	one := decimal.NewFromInt(1)
	heavyWeight := RecencyWeight.Mul(BaseValue)
	lightWeight := one.Sub(RecencyWeight).Mul(BaseValue)

	bonus := int64(1)
	if g.Won {
		bonus = WinBonus
	}

	// heavy = hn/hd, light = ln/ld
	hn := dec(s.Wins + 1).Mul(dec(s.PointsFor + 1)).Mul(heavyWeight)
	hd := dec(s.Losses + 1).Mul(dec(s.PointsAgainst + 1))
	ln := dec(g.PointsFor + bonus).Mul(lightWeight)
	ld := dec(g.PointsAgainst + 1)

	num := hn.Mul(ld).Add(ln.Mul(hd))
	den := hd.Mul(ld)
	if den.Sign() <= 0 || num.Sign() <= 0 {
		return 0
	}

	q, _ := num.QuoRem(den, 0)
	return q.IntPart()
}

func dec(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}
