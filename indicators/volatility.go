package indicators

import (
	"math"

	"github.com/rustyeddy/ibsession/market"
)

// Volatility summarises a historical series.
type Volatility struct {
	ATR    float64 `json:"atr"`
	StdDev float64 `json:"std_dev"`
	Range  float64 `json:"range"`
	Bars   int     `json:"bars"`
	Period int     `json:"period"`
}

// ATRPercent is ATR as a percentage of price.
func (v Volatility) ATRPercent(price float64) float64 {
	if price <= 0 {
		return 0
	}
	return v.ATR / price * 100
}

// Analyze computes ATR, the sample standard deviation of closes and the
// full high-low range of the series. ok is false when ATR is unavailable.
func Analyze(s market.Series, p int) (Volatility, bool) {
	v := Volatility{Bars: len(s.Bars), Period: period(p)}
	if len(s.Bars) == 0 {
		return v, false
	}

	hi, lo := s.Bars[0].High, s.Bars[0].Low
	closes := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		hi = math.Max(hi, b.High)
		lo = math.Min(lo, b.Low)
		closes[i] = b.Close
	}
	v.Range = hi - lo
	v.StdDev = StdDev(closes)

	atr, ok := ATR(s.Bars, p)
	v.ATR = atr
	return v, ok
}

// StdDev is the sample (n-1) standard deviation; zero for fewer than two
// values.
func StdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))

	ss := 0.0
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}
