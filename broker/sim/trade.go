package sim

import (
	"github.com/rustyeddy/ibsession/broker"
	"github.com/rustyeddy/ibsession/market"
	"github.com/rustyeddy/ibsession/orders"
)

// working is an order the gateway has accepted and activated.
type working struct {
	inst     market.Instrument
	order    orders.Order
	status   string
	filled   float64
	avgFill  float64
	lastFill float64

	// extreme is the best price seen since activation, for trailing stops.
	extreme float64
}

func (w *working) done() bool { return broker.IsTerminalStatus(w.status) }

func (w *working) qty() float64 { return float64(w.order.Quantity) }

// signed is the position change a fill of this order causes.
func (w *working) signed() float64 {
	if w.order.Action == orders.Sell {
		return -w.qty()
	}
	return w.qty()
}

func (w *working) event() broker.OrderStatus {
	return broker.OrderStatus{
		OrderID:       w.order.ID,
		ParentID:      w.order.ParentID,
		Status:        w.status,
		Filled:        w.filled,
		Remaining:     w.qty() - w.filled,
		AvgFillPrice:  w.avgFill,
		LastFillPrice: w.lastFill,
	}
}

// fillPrice reports whether the order executes at last and at what price.
func (w *working) fillPrice(last float64) (float64, bool) {
	o := w.order
	buy := o.Action == orders.Buy

	switch o.Type {
	case orders.TypeMarket:
		return last, true

	case orders.TypeLimit:
		if (buy && last <= o.LimitPrice) || (!buy && last >= o.LimitPrice) {
			return o.LimitPrice, true
		}

	case orders.TypeStop:
		if triggerStop(buy, o.AuxPrice, last) {
			return last, true
		}

	case orders.TypeStopLimit:
		if triggerStop(buy, o.AuxPrice, last) &&
			((buy && last <= o.LimitPrice) || (!buy && last >= o.LimitPrice)) {
			return last, true
		}

	case orders.TypeTrail:
		w.track(buy, last)
		dist := o.AuxPrice
		if o.TrailingPercent > 0 {
			dist = w.extreme * o.TrailingPercent / 100
		}
		if buy && last >= w.extreme+dist {
			return last, true
		}
		if !buy && last <= w.extreme-dist {
			return last, true
		}
	}
	return 0, false
}

// A sell stop protects a long and triggers at or below; a buy stop
// protects a short and triggers at or above.
func triggerStop(buy bool, stop, last float64) bool {
	if buy {
		return last >= stop
	}
	return last <= stop
}

func (w *working) track(buy bool, last float64) {
	switch {
	case w.extreme == 0:
		w.extreme = last
	case buy && last < w.extreme:
		w.extreme = last
	case !buy && last > w.extreme:
		w.extreme = last
	}
}
