package risk

import (
	"fmt"

	"github.com/rustyeddy/ibsession/orders"
)

type Violation struct {
	Code string
	Msg  string
}

type Decision struct {
	Allowed    bool
	Violations []Violation

	PlannedRisk    float64
	PlannedRiskPct float64
	PlannedRR      float64
	PositionValue  float64
}

func (d *Decision) add(code, msg string) {
	d.Violations = append(d.Violations, Violation{Code: code, Msg: msg})
	d.Allowed = false
}

// Evaluate runs the pre-trade checks. A trade without a stop is only
// checked for exposure; a trade without a target skips the R:R check.
func Evaluate(p Policy, intent TradeIntent, acct AccountSnapshot) Decision {
	d := Decision{Allowed: true}

	if intent.Entry <= 0 {
		d.add("NO_ENTRY", "entry or reference price must be set")
		return d
	}
	if intent.Shares <= 0 {
		d.add("NO_SHARES", "share count must be positive")
		return d
	}

	d.PositionValue = float64(intent.Shares) * intent.Entry

	if intent.Stop > 0 {
		d.PlannedRisk = PlannedRisk(intent.Shares, intent.Entry, intent.Stop)
		d.PlannedRiskPct = RiskPct(d.PlannedRisk, acct.NetLiquidation)

		if p.MaxRiskPct > 0 && d.PlannedRiskPct > p.MaxRiskPct {
			d.add("RISK_TOO_HIGH",
				fmt.Sprintf("planned risk %.2f%% exceeds max %.2f%%", d.PlannedRiskPct, p.MaxRiskPct))
		}

		long := intent.Action != orders.Sell
		if (long && intent.Stop >= intent.Entry) || (!long && intent.Stop <= intent.Entry) {
			d.add("STOP_WRONG_SIDE",
				fmt.Sprintf("stop %.2f is on the wrong side of entry %.2f for %s", intent.Stop, intent.Entry, intent.Action))
		}

		if intent.Target > 0 {
			d.PlannedRR = RR(intent.Entry, intent.Stop, intent.Target)
			if d.PlannedRR < p.MinRR {
				d.add("RR_TOO_LOW", fmt.Sprintf("RR %.2f below minimum %.2f", d.PlannedRR, p.MinRR))
			}
		}
	}

	if p.MaxOpenPositions > 0 && acct.OpenPositions >= p.MaxOpenPositions {
		d.add("TOO_MANY_POSITIONS",
			fmt.Sprintf("open positions %d >= max %d", acct.OpenPositions, p.MaxOpenPositions))
	}
	if p.MaxPositionPct > 0 && acct.NetLiquidation > 0 {
		if pct := d.PositionValue / acct.NetLiquidation * 100; pct > p.MaxPositionPct {
			d.add("POSITION_TOO_LARGE",
				fmt.Sprintf("position %.1f%% of account exceeds max %.1f%%", pct, p.MaxPositionPct))
		}
	}
	if acct.BuyingPower > 0 && intent.Action == orders.Buy && d.PositionValue > acct.BuyingPower {
		d.add("INSUFFICIENT_BUYING_POWER",
			fmt.Sprintf("position value %.2f exceeds buying power %.2f", d.PositionValue, acct.BuyingPower))
	}

	return d
}
