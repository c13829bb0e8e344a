package risk

import (
	"github.com/rustyeddy/ibsession/market"
	"github.com/rustyeddy/ibsession/orders"
)

// Policy holds pre-trade limits. Percentages are in percent units.
type Policy struct {
	// Risk limits
	DefaultRiskPct float64 // 1
	MaxRiskPct     float64 // 2

	// Exposure limits
	MaxOpenPositions int     // 10
	MaxPositionPct   float64 // 25, share of account in one position

	// Trade constraints
	MinRR float64 // 1.5
}

func DefaultPolicy() Policy {
	return Policy{
		DefaultRiskPct:   1,
		MaxRiskPct:       2,
		MaxOpenPositions: 10,
		MaxPositionPct:   25,
		MinRR:            1.5,
	}
}

type TradeIntent struct {
	Instrument market.Instrument
	Action     orders.Action
	Shares     int64

	Entry  float64
	Stop   float64
	Target float64 // zero when the plan has no profit target
}

type AccountSnapshot struct {
	NetLiquidation float64
	BuyingPower    float64
	OpenPositions  int
}
