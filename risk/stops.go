package risk

import (
	"fmt"

	"github.com/rustyeddy/ibsession/orders"
)

// Stops sit below entry for a buy and above it for a sell.
func stopFrom(entry, distance float64, action orders.Action) (float64, error) {
	if !finite(entry, distance) || entry <= 0 || distance <= 0 {
		return 0, fmt.Errorf("stop: entry %.2f distance %.2f: %w", entry, distance, ErrInvalidRisk)
	}
	if !action.Valid() {
		return 0, fmt.Errorf("stop: unknown action %q: %w", action, ErrInvalidRisk)
	}
	stop := entry - distance
	if action == orders.Sell {
		stop = entry + distance
	}
	if stop <= 0 {
		return 0, fmt.Errorf("stop: distance %.2f reaches zero from %.2f: %w", distance, entry, ErrInvalidRisk)
	}
	return stop, nil
}

// StopFromPercent places the stop pct percent away from entry.
func StopFromPercent(entry, pct float64, action orders.Action) (float64, error) {
	return stopFrom(entry, entry*pct/100, action)
}

// StopFromATR places the stop multiplier ATRs away from entry.
func StopFromATR(entry, atr, multiplier float64, action orders.Action) (float64, error) {
	return stopFrom(entry, atr*multiplier, action)
}

// StopFromDollar places the stop a fixed per-share amount away from entry.
func StopFromDollar(entry, perShare float64, action orders.Action) (float64, error) {
	return stopFrom(entry, perShare, action)
}
