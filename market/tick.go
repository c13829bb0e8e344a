package market

import (
	"strconv"
	"time"
)

// TickField is the gateway's numeric tick type code.
type TickField int

// Price fields.
const (
	TickBid   TickField = 1
	TickAsk   TickField = 2
	TickLast  TickField = 4
	TickHigh  TickField = 6
	TickLow   TickField = 7
	TickClose TickField = 9
)

// Size fields.
const (
	TickBidSize  TickField = 0
	TickAskSize  TickField = 3
	TickLastSize TickField = 5
	TickVolume   TickField = 8
)

var tickNames = map[TickField]string{
	TickBidSize:  "bid_size",
	TickBid:      "bid",
	TickAsk:      "ask",
	TickAskSize:  "ask_size",
	TickLast:     "last",
	TickLastSize: "last_size",
	TickHigh:     "high",
	TickLow:      "low",
	TickVolume:   "volume",
	TickClose:    "close",
}

func (f TickField) String() string {
	if n, ok := tickNames[f]; ok {
		return n
	}
	return "tick_" + strconv.Itoa(int(f))
}

// PriceSnapshot is the latest known quote for one instrument. Each field
// is last-write-wins.
type PriceSnapshot struct {
	Symbol   string
	Bid      float64
	Ask      float64
	Last     float64
	High     float64
	Low      float64
	Close    float64
	LastSize float64
	Volume   float64
	Updated  time.Time
}

// SetPrice applies a price tick. Unknown fields are ignored and reported
// as false.
func (p *PriceSnapshot) SetPrice(field TickField, v float64) bool {
	switch field {
	case TickBid:
		p.Bid = v
	case TickAsk:
		p.Ask = v
	case TickLast:
		p.Last = v
	case TickHigh:
		p.High = v
	case TickLow:
		p.Low = v
	case TickClose:
		p.Close = v
	default:
		return false
	}
	return true
}

// SetSize applies a size tick.
func (p *PriceSnapshot) SetSize(field TickField, v float64) bool {
	switch field {
	case TickLastSize:
		p.LastSize = v
	case TickVolume:
		p.Volume = v
	default:
		return false
	}
	return true
}

func (p PriceSnapshot) Mid() float64 {
	if p.Bid <= 0 || p.Ask <= 0 {
		return 0
	}
	return (p.Bid + p.Ask) / 2
}

func (p PriceSnapshot) Spread() float64 {
	if p.Bid <= 0 || p.Ask <= 0 {
		return 0
	}
	return p.Ask - p.Bid
}

// Reference is the price used when the operator has not given one: last
// trade, then ask, then the prior close.
func (p PriceSnapshot) Reference() float64 {
	switch {
	case p.Last > 0:
		return p.Last
	case p.Ask > 0:
		return p.Ask
	default:
		return p.Close
	}
}

// ChangePct is the move of the reference price against the prior close.
func (p PriceSnapshot) ChangePct() float64 {
	if p.Close <= 0 {
		return 0
	}
	return (p.Reference() - p.Close) / p.Close * 100
}
