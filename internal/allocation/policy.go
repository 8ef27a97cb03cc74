// Package allocation maps an aggregate sentiment score to an order size.
package allocation

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/dyike/SentiTrader/internal/models"
)

// Tier allocates Fraction of available cash when Lower < |score| < Upper.
// Both bounds are exclusive, so a score exactly on a bound gets nothing.
type Tier struct {
	Lower    float64
	Upper    float64
	Fraction float64
}

type Policy struct {
	Tiers []Tier
}

func DefaultPolicy() Policy {
	return Policy{Tiers: []Tier{
		{Lower: 0.49, Upper: 0.65, Fraction: 0.03},
		{Lower: 0.65, Upper: 0.80, Fraction: 0.06},
		{Lower: 0.80, Upper: math.Inf(1), Fraction: 0.10},
	}}
}

// Allocate returns the fraction of cash to commit for avgScore.
func (p Policy) Allocate(avgScore, availableCash float64) float64 {
	if math.IsNaN(availableCash) || availableCash <= 0 || math.IsNaN(avgScore) {
		return 0
	}
	a := math.Abs(avgScore)
	for _, t := range p.Tiers {
		if a > t.Lower && a < t.Upper {
			return t.Fraction
		}
	}
	return 0
}

// Decide sizes a market order. Negative sentiment buys and positive
// sentiment sells. A missing or non-positive price yields no order.
func (p Policy) Decide(ticker string, avgScore, cash, price float64) models.AllocationDecision {
	d := models.AllocationDecision{
		Ticker: ticker,
		Side:   models.SideNone,
		Price:  price,
		Score:  avgScore,
	}

	d.Fraction = p.Allocate(avgScore, cash)
	if d.Fraction == 0 || math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 || math.IsInf(cash, 0) {
		return d
	}

	qty := decimal.NewFromFloat(cash).
		Mul(decimal.NewFromFloat(d.Fraction)).
		Div(decimal.NewFromFloat(price)).
		Floor().
		IntPart()
	if qty <= 0 {
		return d
	}

	switch {
	case avgScore < 0:
		d.Side = models.SideBuy
	case avgScore > 0:
		d.Side = models.SideSell
	default:
		return d
	}
	d.Quantity = qty
	return d
}
