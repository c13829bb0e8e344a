package market

import "time"

// Bar is one historical OHLCV bar. Date is kept as the gateway's string
// form ("20240105" for daily bars) alongside the parsed time when it could
// be parsed.
type Bar struct {
	Date   string    `json:"date"`
	Time   time.Time `json:"-"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Range is the bar's high-low span.
func (b Bar) Range() float64 {
	return b.High - b.Low
}

// Series is an ordered run of bars for one instrument, as answered by a
// single historical data request.
type Series struct {
	Instrument Instrument
	Bars       []Bar
}

func (s Series) Len() int { return len(s.Bars) }

// Last returns the most recent bar.
func (s Series) Last() (Bar, bool) {
	if len(s.Bars) == 0 {
		return Bar{}, false
	}
	return s.Bars[len(s.Bars)-1], true
}

// Change is the percent move from the first close to the last close.
func (s Series) Change() (float64, bool) {
	if len(s.Bars) < 2 {
		return 0, false
	}
	first := s.Bars[0].Close
	if first <= 0 {
		return 0, false
	}
	last := s.Bars[len(s.Bars)-1].Close
	return (last - first) / first * 100, true
}

// Clone returns a copy that shares no backing array with s.
func (s Series) Clone() Series {
	bars := make([]Bar, len(s.Bars))
	copy(bars, s.Bars)
	return Series{Instrument: s.Instrument, Bars: bars}
}

// ParseBarDate understands the gateway's daily (yyyyMMdd) and intraday
// (yyyyMMdd  HH:mm:ss) date formats.
func ParseBarDate(s string) (time.Time, bool) {
	for _, layout := range []string{"20060102", "20060102  15:04:05", "20060102 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
