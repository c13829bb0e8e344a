package sim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rustyeddy/ibsession/broker"
	"github.com/rustyeddy/ibsession/market"
	"github.com/rustyeddy/ibsession/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connect(t *testing.T, g *Gateway) {
	t.Helper()
	require.NoError(t, g.Connect(context.Background(), broker.DefaultHost, broker.PaperPort, 1001))
	t.Cleanup(func() { _ = g.Disconnect() })
}

// drain reads events until n have arrived.
func drain(t *testing.T, g *Gateway, n int) []broker.Event {
	t.Helper()
	out := make([]broker.Event, 0, n)
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case ev, ok := <-g.Events():
			require.True(t, ok, "event channel closed after %d events", len(out))
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("got %d events, want %d", len(out), n)
		}
	}
	return out
}

func statuses(evs []broker.Event) map[int64]string {
	m := map[int64]string{}
	for _, ev := range evs {
		if s, ok := ev.(broker.OrderStatus); ok {
			m[s.OrderID] = s.Status
		}
	}
	return m
}

func TestConnectHandshake(t *testing.T) {
	t.Parallel()

	g := New()
	g.SetNextOrderID(42)
	g.SetAccounts("DU1", "DU2")
	connect(t, g)

	evs := drain(t, g, 2)
	assert.Equal(t, broker.ManagedAccounts{Accounts: []string{"DU1", "DU2"}}, evs[0])
	assert.Equal(t, broker.NextValidID{OrderID: 42}, evs[1])
}

func TestConnectFailure(t *testing.T) {
	t.Parallel()

	g := New()
	g.FailConnect(errors.New("connection refused"))
	err := g.Connect(context.Background(), "127.0.0.1", 4002, 1)

	var ce *broker.ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 4002, ce.Port)
}

func TestSendBeforeConnect(t *testing.T) {
	t.Parallel()

	err := New().Send(context.Background(), broker.ReqPositions{ID: 1})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSnapshotAndHistory(t *testing.T) {
	t.Parallel()

	g := Demo()
	connect(t, g)
	drain(t, g, 2)

	ctx := context.Background()
	require.NoError(t, g.Send(ctx, broker.ReqMarketData{ID: 1, Instrument: market.Stock("AAPL"), Snapshot: true}))
	var last broker.Event
	for last == nil || last.Kind() != broker.EvTickSnapshotEnd {
		last = drain(t, g, 1)[0]
	}

	require.NoError(t, g.Send(ctx, broker.ReqHistoricalData{ID: 2, Instrument: market.Stock("AAPL"), Params: broker.DefaultHistory()}))
	evs := drain(t, g, 6)
	for _, ev := range evs[:5] {
		assert.Equal(t, broker.EvHistoricalBar, ev.Kind())
	}
	end, ok := evs[5].(broker.HistoricalEnd)
	require.True(t, ok)
	assert.Equal(t, int64(2), end.ReqID)

	require.NoError(t, g.Send(ctx, broker.ReqHistoricalData{ID: 3, Instrument: market.Stock("NOPE")}))
	ge, ok := drain(t, g, 1)[0].(broker.Error)
	require.True(t, ok)
	assert.Equal(t, int64(3), ge.ID)
}

func TestIgnoreAndFailSend(t *testing.T) {
	t.Parallel()

	g := Demo()
	connect(t, g)
	drain(t, g, 2)

	g.Ignore("reqAccountSummary")
	require.NoError(t, g.Send(context.Background(), broker.ReqAccountSummary{ID: 1, Tags: broker.DefaultAccountTags}))
	select {
	case ev := <-g.Events():
		t.Fatalf("unexpected event %T", ev)
	default:
	}

	boom := errors.New("broken pipe")
	g.FailSend(func(r broker.Request) error {
		if _, ok := r.(broker.PlaceOrder); ok {
			return boom
		}
		return nil
	})
	err := g.Send(context.Background(), broker.PlaceOrder{})
	assert.ErrorIs(t, err, boom)
	assert.Len(t, g.Sent(), 1)
}

func TestBracketHeldUntilTransmit(t *testing.T) {
	t.Parallel()

	g := Demo()
	connect(t, g)
	drain(t, g, 2)

	plan, err := orders.Composer{}.Bracket(1000, orders.BracketSpec{
		Action: orders.Buy, Quantity: 10, StopPrice: 185, TargetPrice: 200, ReferencePrice: 190,
	})
	require.NoError(t, err)

	ctx := context.Background()
	aapl := market.Stock("AAPL")
	require.NoError(t, g.Send(ctx, broker.PlaceOrder{Instrument: aapl, Order: plan.Nodes[0]}))
	require.NoError(t, g.Send(ctx, broker.PlaceOrder{Instrument: aapl, Order: plan.Nodes[1]}))

	select {
	case ev := <-g.Events():
		t.Fatalf("held orders produced %T", ev)
	default:
	}

	require.NoError(t, g.Send(ctx, broker.PlaceOrder{Instrument: aapl, Order: plan.Nodes[2]}))

	// three activations, the market entry fill, two children released
	evs := drain(t, g, 6)
	st := statuses(evs)
	assert.Equal(t, "Filled", st[1000])
	assert.Equal(t, "Submitted", st[1001])
	assert.Equal(t, "Submitted", st[1002])

	g.PushPrice("AAPL", market.TickLast, 200.5)
	evs = drain(t, g, 2)
	st = statuses(evs)
	assert.Equal(t, "Filled", st[1002])
	assert.Equal(t, "Cancelled", st[1001], "OCA sibling cancels")

	require.NoError(t, g.Send(ctx, broker.ReqPositions{ID: 9}))
	evs = drain(t, g, 2)
	pos, ok := evs[0].(broker.Position)
	require.True(t, ok)
	assert.Equal(t, "AAPL", pos.Instrument.Symbol)
	assert.InDelta(t, 50.0, pos.Quantity, 1e-9, "bought 10 and sold 10 on top of the seeded 50")
}

func TestCancelAndOpenOrders(t *testing.T) {
	t.Parallel()

	g := Demo()
	connect(t, g)
	drain(t, g, 2)

	ctx := context.Background()
	plan, err := orders.Composer{}.Limit(7, orders.Buy, 5, 100)
	require.NoError(t, err)
	require.NoError(t, g.Send(ctx, broker.PlaceOrder{Instrument: market.Stock("MSFT"), Order: plan.Root()}))
	assert.Equal(t, "Submitted", statuses(drain(t, g, 1))[7])

	require.NoError(t, g.Send(ctx, broker.ReqOpenOrders{ID: 1}))
	evs := drain(t, g, 2)
	oo, ok := evs[0].(broker.OpenOrder)
	require.True(t, ok)
	assert.Equal(t, int64(7), oo.OrderID)
	assert.Equal(t, broker.EvOpenOrderEnd, evs[1].Kind())

	require.NoError(t, g.Send(ctx, broker.CancelOrder{OrderID: 7}))
	assert.Equal(t, "Cancelled", statuses(drain(t, g, 1))[7])

	require.NoError(t, g.Send(ctx, broker.CancelOrder{OrderID: 7}))
	ge, ok := drain(t, g, 1)[0].(broker.Error)
	require.True(t, ok)
	assert.Equal(t, codeOrderNotFound, ge.Code)
}

func TestDropClosesEvents(t *testing.T) {
	t.Parallel()

	g := New()
	connect(t, g)
	drain(t, g, 2)

	g.Drop()
	_, ok := <-g.Events()
	assert.False(t, ok)
	assert.ErrorIs(t, g.Send(context.Background(), broker.ReqPositions{}), ErrNotConnected)
	assert.NoError(t, g.Disconnect())
}

func TestTrailingStopFollowsPrice(t *testing.T) {
	t.Parallel()

	w := &working{order: orders.Order{Action: orders.Sell, Type: orders.TypeTrail, AuxPrice: 2, Quantity: 1}}
	for _, px := range []float64{100, 104, 103} {
		_, ok := w.fillPrice(px)
		assert.False(t, ok, "price %v", px)
	}
	px, ok := w.fillPrice(102)
	assert.True(t, ok)
	assert.Equal(t, 102.0, px)
}
