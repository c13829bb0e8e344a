package risk

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidRisk is returned when sizing inputs cannot produce a position:
// equal entry and stop, non-finite values, or non-positive account value,
// risk or prices.
var ErrInvalidRisk = errors.New("invalid risk parameters")

// DefaultRMultiples are the target ladder the sizing summary prints.
var DefaultRMultiples = []float64{1, 2, 3, 5}

// floorShares rounds to a micro-share before flooring so float noise such
// as 100/(50-49.9) landing a hair under 1000 does not lose a share.
func floorShares(x float64) int64 {
	return int64(math.Floor(math.Round(x*1e6) / 1e6))
}

// finite reports whether every value is a real number.
func finite(xs ...float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// PositionSize returns floor(accountValue * riskPct / 100 / |entry - stop|)
// shares. riskPct is a percentage: 1 means one percent.
func PositionSize(accountValue, riskPct, entry, stop float64) (int64, error) {
	switch {
	case !finite(accountValue, riskPct, entry, stop):
		return 0, fmt.Errorf("position size: non-finite input: %w", ErrInvalidRisk)
	case accountValue <= 0:
		return 0, fmt.Errorf("position size: account value %.2f: %w", accountValue, ErrInvalidRisk)
	case riskPct <= 0:
		return 0, fmt.Errorf("position size: risk %.2f%%: %w", riskPct, ErrInvalidRisk)
	case entry <= 0 || stop <= 0:
		return 0, fmt.Errorf("position size: entry %.2f stop %.2f: %w", entry, stop, ErrInvalidRisk)
	case entry == stop:
		return 0, fmt.Errorf("position size: entry equals stop %.2f: %w", entry, ErrInvalidRisk)
	}
	shares := accountValue * riskPct / 100 / abs(entry-stop)
	return floorShares(shares), nil
}

// RMultipleTarget projects r risk units from entry away from the stop: up
// for a long (stop below entry), down for a short.
func RMultipleTarget(entry, stop, r float64) (float64, error) {
	if !finite(entry, stop, r) || entry <= 0 || stop <= 0 || entry == stop {
		return 0, fmt.Errorf("r-multiple target: entry %.2f stop %.2f: %w", entry, stop, ErrInvalidRisk)
	}
	risk := abs(entry - stop)
	if stop < entry {
		return entry + risk*r, nil
	}
	return entry - risk*r, nil
}

// Target is one rung of an R ladder.
type Target struct {
	R      float64
	Price  float64
	Profit float64
}

// Targets builds the R ladder for a sized position. With no rs the default
// 1R, 2R, 3R, 5R ladder is used.
func Targets(entry, stop float64, shares int64, rs ...float64) ([]Target, error) {
	if len(rs) == 0 {
		rs = DefaultRMultiples
	}
	out := make([]Target, 0, len(rs))
	for _, r := range rs {
		px, err := RMultipleTarget(entry, stop, r)
		if err != nil {
			return nil, err
		}
		out = append(out, Target{R: r, Price: px, Profit: float64(shares) * abs(px-entry)})
	}
	return out, nil
}

// PlannedRisk is the loss in account currency if the stop is hit.
func PlannedRisk(shares int64, entry, stop float64) float64 {
	return float64(shares) * abs(entry-stop)
}

// RR is reward over risk; zero when risk is zero.
func RR(entry, stop, target float64) float64 {
	risk := abs(entry - stop)
	reward := abs(target - entry)
	if risk == 0 {
		return 0
	}
	return reward / risk
}

// RiskPct is planned risk as a percentage of account value.
func RiskPct(plannedRisk, accountValue float64) float64 {
	if accountValue <= 0 {
		return math.Inf(1)
	}
	return plannedRisk / accountValue * 100
}

// SizeByAllocation is the share count that spends pct percent of the
// account at price.
func SizeByAllocation(accountValue, pct, price float64) (int64, error) {
	if !finite(accountValue, pct, price) || accountValue <= 0 || pct <= 0 || price <= 0 {
		return 0, fmt.Errorf("allocation size: %w", ErrInvalidRisk)
	}
	return floorShares(accountValue * pct / 100 / price), nil
}
