package sim

import (
	"fmt"

	"github.com/rustyeddy/ibsession/broker"
	"github.com/rustyeddy/ibsession/market"
)

type fillFunc func(inst market.Instrument, qty float64, price float64)

// engine tracks orders for the gateway. It is guarded by the gateway's
// mutex.
type engine struct {
	held   map[int64][]broker.PlaceOrder
	orders map[int64]*working
	ids    []int64
}

func newEngine() *engine {
	return &engine{
		held:   make(map[int64][]broker.PlaceOrder),
		orders: make(map[int64]*working),
	}
}

func rootOf(r broker.PlaceOrder) int64 {
	if r.Order.ParentID != 0 {
		return r.Order.ParentID
	}
	return r.Order.ID
}

func (e *engine) known(id int64) bool {
	if _, ok := e.orders[id]; ok {
		return true
	}
	for root, group := range e.held {
		if root == id {
			return true
		}
		for _, r := range group {
			if r.Order.ID == id {
				return true
			}
		}
	}
	return false
}

func rejectf(id int64, code int, format string, args ...any) []broker.Event {
	return []broker.Event{broker.Error{ID: id, Code: code, Message: fmt.Sprintf(format, args...)}}
}

// place holds non-transmitted nodes and activates the whole group when the
// transmitting node arrives.
func (e *engine) place(r broker.PlaceOrder, quote market.PriceSnapshot, fill fillFunc) []broker.Event {
	id := r.Order.ID
	if id <= 0 {
		return rejectf(id, codeInvalidOrder, "Order rejected - invalid order id %d", id)
	}
	if e.known(id) {
		return rejectf(id, codeDuplicateOrder, "Duplicate order id %d", id)
	}
	root := rootOf(r)
	if root != id && !e.known(root) {
		return rejectf(id, codeInvalidOrder, "Order rejected - parent order %d not found", root)
	}

	if !r.Order.Transmit {
		e.held[root] = append(e.held[root], r)
		return nil
	}

	group := append(e.held[root], r)
	delete(e.held, root)

	var out []broker.Event
	for _, g := range group {
		w := &working{inst: g.Instrument, order: g.Order, status: "Submitted"}
		if g.Order.ParentID != 0 {
			if p, ok := e.orders[g.Order.ParentID]; !ok || p.status != "Filled" {
				w.status = "PreSubmitted"
			}
		}
		e.orders[w.order.ID] = w
		e.ids = append(e.ids, w.order.ID)
		out = append(out, w.event())
	}

	if px := quote.Reference(); px > 0 {
		out = append(out, e.onPrice(r.Instrument.Symbol, px, fill)...)
	}
	return out
}

// onPrice executes every active order the price reaches. Children wait
// for their parent to fill; a fill cancels the rest of its OCA group.
func (e *engine) onPrice(symbol string, last float64, fill fillFunc) []broker.Event {
	var out []broker.Event
	for _, id := range e.ids {
		w := e.orders[id]
		if w.done() || w.inst.Symbol != symbol || w.status == "PreSubmitted" {
			continue
		}
		px, ok := w.fillPrice(last)
		if !ok {
			continue
		}

		w.status = "Filled"
		w.filled = w.qty()
		w.avgFill = px
		w.lastFill = px
		fill(w.inst, w.signed(), px)
		out = append(out, w.event())

		for _, cid := range e.ids {
			c := e.orders[cid]
			if c.done() || c == w {
				continue
			}
			switch {
			case c.order.ParentID == w.order.ID:
				c.status = "Submitted"
				out = append(out, c.event())
			case w.order.OCAGroup != "" && c.order.OCAGroup == w.order.OCAGroup:
				c.status = "Cancelled"
				out = append(out, c.event())
			}
		}
	}
	return out
}

func (e *engine) cancel(id int64) []broker.Event {
	for root, group := range e.held {
		for i, r := range group {
			if r.Order.ID != id {
				continue
			}
			if id == root {
				delete(e.held, root)
			} else {
				e.held[root] = append(group[:i:i], group[i+1:]...)
			}
			return []broker.Event{broker.OrderStatus{OrderID: id, ParentID: r.Order.ParentID, Status: "Cancelled"}}
		}
	}

	w, ok := e.orders[id]
	if !ok || w.done() {
		return rejectf(id, codeOrderNotFound, "OrderId %d that needs to be cancelled is not found.", id)
	}

	w.status = "Cancelled"
	out := []broker.Event{w.event()}
	for _, cid := range e.ids {
		c := e.orders[cid]
		if c.order.ParentID == id && !c.done() {
			c.status = "Cancelled"
			out = append(out, c.event())
		}
	}
	return out
}

func (e *engine) openOrders() []broker.Event {
	var out []broker.Event
	for _, id := range e.ids {
		w := e.orders[id]
		if w.done() {
			continue
		}
		out = append(out, broker.OpenOrder{
			OrderID:    id,
			Instrument: w.inst,
			Order:      w.order,
			Status:     w.status,
		})
	}
	return append(out, broker.OpenOrderEnd{})
}
