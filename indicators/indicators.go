// Package indicators computes volatility measures from historical bars.
package indicators

import "github.com/rustyeddy/ibsession/market"

// Indicator computes a single streaming value from bars.
type Indicator interface {
	// Name returns a stable identifier like "ATR(14)".
	Name() string

	// Warmup returns how many updates are needed before Ready() can be true.
	Warmup() int

	// Reset clears all internal state.
	Reset()

	// Update consumes the next closed bar.
	Update(b market.Bar)

	// Ready reports whether Value() is meaningful.
	Ready() bool

	// Value returns 0 until Ready.
	Value() float64
}

// DefaultPeriod is used when a caller passes a non-positive period.
const DefaultPeriod = 14

func period(p int) int {
	if p <= 0 {
		return DefaultPeriod
	}
	return p
}
