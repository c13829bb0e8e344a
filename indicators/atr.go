package indicators

import (
	"fmt"
	"math"

	"github.com/rustyeddy/ibsession/market"
)

// TrueRange is the largest of the bar's own range and its distance from
// the previous close.
func TrueRange(cur, prev market.Bar) float64 {
	highLow := cur.High - cur.Low
	highClose := math.Abs(cur.High - prev.Close)
	lowClose := math.Abs(cur.Low - prev.Close)
	return math.Max(highLow, math.Max(highClose, lowClose))
}

// TrueRanges returns one true range per bar after the first.
func TrueRanges(bars []market.Bar) []float64 {
	if len(bars) < 2 {
		return nil
	}
	out := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		out = append(out, TrueRange(bars[i], bars[i-1]))
	}
	return out
}

// ATR is the simple mean of the last period true ranges, or of every true
// range when there are fewer. It is not Wilder-smoothed. ok is false for
// fewer than two bars. A non-positive period means DefaultPeriod.
func ATR(bars []market.Bar, p int) (atr float64, ok bool) {
	trs := TrueRanges(bars)
	if len(trs) == 0 {
		return 0, false
	}
	p = period(p)
	if len(trs) > p {
		trs = trs[len(trs)-p:]
	}
	sum := 0.0
	for _, tr := range trs {
		sum += tr
	}
	return sum / float64(len(trs)), true
}

// RollingATR is the streaming form of ATR over a window of the last period
// true ranges.
type RollingATR struct {
	period  int
	window  []float64
	next    int
	sum     float64
	prev    market.Bar
	hasPrev bool
}

var _ Indicator = (*RollingATR)(nil)

func NewRollingATR(p int) *RollingATR {
	p = period(p)
	return &RollingATR{period: p, window: make([]float64, 0, p)}
}

func (a *RollingATR) Name() string { return fmt.Sprintf("ATR(%d)", a.period) }

// Warmup is two bars: one true range is enough for a value.
func (a *RollingATR) Warmup() int { return 2 }

func (a *RollingATR) Reset() {
	a.window = a.window[:0]
	a.next = 0
	a.sum = 0
	a.hasPrev = false
}

func (a *RollingATR) Update(b market.Bar) {
	if !a.hasPrev {
		a.prev = b
		a.hasPrev = true
		return
	}
	tr := TrueRange(b, a.prev)
	a.prev = b

	if len(a.window) < a.period {
		a.window = append(a.window, tr)
		a.sum += tr
		return
	}
	a.sum += tr - a.window[a.next]
	a.window[a.next] = tr
	a.next = (a.next + 1) % a.period
}

func (a *RollingATR) Ready() bool { return len(a.window) > 0 }

func (a *RollingATR) Value() float64 {
	if !a.Ready() {
		return 0
	}
	// Guard against drift from repeated add/subtract on tiny values.
	return math.Max(0, a.sum/float64(len(a.window)))
}
