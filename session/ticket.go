package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rustyeddy/ibsession/broker"
	"github.com/rustyeddy/ibsession/id"
	"github.com/rustyeddy/ibsession/market"
	"github.com/rustyeddy/ibsession/orders"
	"github.com/rustyeddy/ibsession/state"
)

// OrderTicket follows the orders of one submitted plan.
type OrderTicket struct {
	Ref        string
	Instrument market.Instrument
	Plan       orders.Plan
	Submitted  time.Time

	mu       sync.Mutex
	statuses map[int64]state.OrderStatus
	rejected map[int64]error
	changed  chan struct{}
	err      error
}

func newTicket(inst market.Instrument, plan orders.Plan) *OrderTicket {
	return &OrderTicket{
		Ref:        id.New(),
		Instrument: inst,
		Plan:       plan,
		Submitted:  time.Now(),
		statuses:   make(map[int64]state.OrderStatus),
		rejected:   make(map[int64]error),
		changed:    make(chan struct{}),
	}
}

func (t *OrderTicket) IDs() []int64 { return t.Plan.IDs() }

// Status is the last reported status of one order of the plan.
func (t *OrderTicket) Status(orderID int64) (state.OrderStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.statuses[orderID]
	return st, ok
}

// Err is set once the session lost the gateway while orders were live.
// Per-order rejections are reported by WaitFor instead.
func (t *OrderTicket) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// WaitFor blocks until orderID reports one of statuses or any terminal
// status. With no statuses it waits for a terminal one.
func (t *OrderTicket) WaitFor(ctx context.Context, orderID int64, timeout time.Duration, statuses ...string) (state.OrderStatus, error) {
	if _, ok := t.Plan.Node(orderID); !ok {
		return state.OrderStatus{}, fmt.Errorf("order %d is not part of ticket %s", orderID, t.Ref)
	}
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		t.mu.Lock()
		st, ok := t.statuses[orderID]
		rejected := t.rejected[orderID]
		err := t.err
		changed := t.changed
		t.mu.Unlock()

		if rejected != nil {
			return st, rejected
		}
		if ok && (broker.IsTerminalStatus(st.Status) || matches(st.Status, statuses)) {
			return st, nil
		}
		if err != nil {
			return st, err
		}

		select {
		case <-changed:
		case <-expired:
			return st, fmt.Errorf("order %d: %w", orderID, ErrRequestTimeout)
		case <-ctx.Done():
			return st, fmt.Errorf("order %d: %w: %v", orderID, ErrCancelled, ctx.Err())
		}
	}
}

func matches(s string, want []string) bool {
	for _, w := range want {
		if s == w {
			return true
		}
	}
	return false
}

// broadcastLocked wakes every waiter. Caller holds t.mu.
func (t *OrderTicket) broadcastLocked() {
	close(t.changed)
	t.changed = make(chan struct{})
}

func (t *OrderTicket) update(st state.OrderStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.statuses[st.OrderID] = st
	t.broadcastLocked()
}

// reject records a gateway rejection of one order.
func (t *OrderTicket) reject(st state.OrderStatus, err *broker.GatewayError) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.statuses[st.OrderID] = st
	t.rejected[st.OrderID] = err
	t.broadcastLocked()
}

func (t *OrderTicket) fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err == nil {
		t.err = err
	}
	t.broadcastLocked()
}
