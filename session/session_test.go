package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/ibsession/broker"
	"github.com/rustyeddy/ibsession/broker/sim"
	"github.com/rustyeddy/ibsession/logger"
	"github.com/rustyeddy/ibsession/market"
	"github.com/rustyeddy/ibsession/orders"
)

func newManager(t *testing.T, newLink func() broker.Link, opts ...ManagerOption) (*Manager, *ClientIDPool) {
	t.Helper()
	pool := NewClientIDPool()
	base := []ManagerOption{
		WithPool(pool),
		WithLogger(logger.Discard()),
		WithHandshakeTimeout(time.Second),
		WithRequestTimeout(2 * time.Second),
	}
	m := NewManager(newLink, append(base, opts...)...)
	t.Cleanup(func() { _ = m.Close() })
	return m, pool
}

func connectDemo(t *testing.T, opts ...ManagerOption) (*sim.Gateway, *Session, *Manager) {
	t.Helper()
	gw := sim.Demo()
	m, _ := newManager(t, func() broker.Link { return gw }, opts...)
	s, err := m.Connect(context.Background(), broker.DefaultHost, broker.PaperPort)
	require.NoError(t, err)
	return gw, s, m
}

func TestConnectBecomesReady(t *testing.T) {
	t.Parallel()

	gw := sim.Demo()
	gw.SetAccounts("DU1", "DU2")
	m, pool := newManager(t, func() broker.Link { return gw })

	s, err := m.Connect(context.Background(), broker.DefaultHost, broker.PaperPort)
	require.NoError(t, err)

	assert.Equal(t, Ready, s.State())
	assert.Equal(t, int64(1000), s.NextOrderID())
	assert.True(t, pool.InUse(s.ClientID()))
	assert.Equal(t, 1, m.Sessions())
	require.Eventually(t, func() bool { return len(s.ManagedAccounts()) == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Disconnect())
	require.NoError(t, s.Disconnect(), "disconnect is idempotent")
	assert.Equal(t, Disconnected, s.State())
	assert.False(t, pool.InUse(s.ClientID()))
	assert.Equal(t, 0, m.Sessions())

	_, err = s.Snapshot(context.Background(), market.Stock("AAPL"))
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestConnectFailureReleasesClientID(t *testing.T) {
	t.Parallel()

	gw := sim.New()
	gw.FailConnect(errors.New("connection refused"))
	m, pool := newManager(t, func() broker.Link { return gw })

	_, err := m.Connect(context.Background(), "10.0.0.1", broker.LivePort, WithClientID(4242))
	var ce *broker.ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "10.0.0.1", ce.Host)
	assert.Equal(t, broker.LivePort, ce.Port)
	assert.False(t, pool.InUse(4242))
	assert.Equal(t, 0, m.Sessions())
}

func TestHandshakeTimeout(t *testing.T) {
	t.Parallel()

	gw := sim.New()
	gw.DropHandshake(true)
	m, pool := newManager(t, func() broker.Link { return gw }, WithHandshakeTimeout(30*time.Millisecond))

	_, err := m.Connect(context.Background(), broker.DefaultHost, broker.PaperPort, WithClientID(1234))
	require.ErrorIs(t, err, ErrHandshakeTimeout)
	assert.False(t, pool.InUse(1234))
	assert.Equal(t, 0, m.Sessions())
	assert.ErrorIs(t, gw.Send(context.Background(), broker.ReqPositions{ID: 1}), sim.ErrNotConnected)
}

func TestPreferredClientIDInUse(t *testing.T) {
	t.Parallel()

	m, pool := newManager(t, func() broker.Link { return sim.Demo() })
	require.NoError(t, pool.AcquireID(2001))

	_, err := m.Connect(context.Background(), broker.DefaultHost, broker.PaperPort, WithClientID(2001))
	assert.ErrorIs(t, err, ErrClientIDInUse)
}

func TestSessionQueries(t *testing.T) {
	t.Parallel()

	_, s, _ := connectDemo(t, WithATRPeriod(3))
	ctx := context.Background()
	aapl := market.Stock("AAPL")

	snap, err := s.Snapshot(ctx, aapl)
	require.NoError(t, err)
	assert.Equal(t, 190.0, snap.Last)
	stored, ok := s.Store().LatestPrice("AAPL")
	require.True(t, ok)
	assert.Equal(t, snap.Bid, stored.Bid)

	res, err := s.HistoricalBars(ctx, aapl, broker.HistoryParams{})
	require.NoError(t, err)
	assert.Len(t, res.Series.Bars, 5)
	assert.Greater(t, res.Volatility.ATR, 0.0)
	assert.Equal(t, 3, res.Volatility.Period)

	values, err := s.AccountSummary(ctx, "", "")
	require.NoError(t, err)
	assert.NotEmpty(t, values)
	nl, ok := s.Store().AccountValue("DU1234567", "NetLiquidation")
	require.True(t, ok)
	assert.Equal(t, "100000.00", nl.Value)

	positions, err := s.Positions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "AAPL", positions[0].Instrument.Symbol)

	rows, err := s.Scan(ctx, broker.ScanParams{Rows: 2})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	_, err = s.Snapshot(ctx, market.Stock("NOPE"))
	var ge *broker.GatewayError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, 200, ge.Code)
}

func TestTimeoutThenLateReply(t *testing.T) {
	t.Parallel()

	gw, s, _ := connectDemo(t)
	gw.Ignore("reqHistoricalData")

	h, err := s.Request(context.Background(), KindHistoricalBars, market.Stock("MSFT"), Params{})
	require.NoError(t, err)
	_, err = h.Await(context.Background(), 20*time.Millisecond)
	require.ErrorIs(t, err, ErrRequestTimeout)

	gw.Inject(
		broker.HistoricalBar{ReqID: h.ID(), Bar: market.Bar{Date: "20240108", High: 2, Low: 1, Close: 1.5}},
		broker.HistoricalEnd{ReqID: h.ID()},
	)

	// the session stays usable and the late reply changed nothing
	snap, err := s.Snapshot(context.Background(), market.Stock("MSFT"))
	require.NoError(t, err)
	assert.Equal(t, 410.0, snap.Last)
	assert.Equal(t, StatusTimedOut, h.Status())
	_, ok := s.Store().Volatility("MSFT")
	assert.False(t, ok)
}

func TestLiveStream(t *testing.T) {
	t.Parallel()

	gw, s, _ := connectDemo(t)
	st, err := s.MarketData(context.Background(), market.Stock("SPY"))
	require.NoError(t, err)

	gw.PushPrice("SPY", market.TickLast, 521.25)

	// the subscription replays the current quote before the pushed tick
	timeout := time.After(time.Second)
	for live := false; !live; {
		select {
		case ev := <-st.C():
			if tick, ok := ev.(broker.TickPrice); ok && tick.Price == 521.25 {
				live = true
			}
		case <-timeout:
			t.Fatal("no live tick")
		}
	}

	st.Cancel()
	gw.PushPrice("SPY", market.TickLast, 522)
	_, open := <-st.C()
	assert.False(t, open)
	assert.Contains(t, opsOf(gw.Sent()), "cancelMktData")
}

func opsOf(reqs []broker.Request) []string {
	out := make([]string, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, r.Op())
	}
	return out
}

func TestSubmitBracket(t *testing.T) {
	t.Parallel()

	_, s, _ := connectDemo(t)
	ctx := context.Background()

	base, err := s.ReserveOrderIDs(3)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), base)
	assert.Equal(t, int64(1003), s.NextOrderID())

	plan, err := orders.Composer{}.Bracket(base, orders.BracketSpec{
		Action: orders.Buy, Quantity: 10, StopPrice: 185, TargetPrice: 200, ReferencePrice: 190,
	})
	require.NoError(t, err)

	ticket, err := s.Submit(ctx, market.Stock("AAPL"), plan)
	require.NoError(t, err)
	assert.NotEmpty(t, ticket.Ref)
	assert.Equal(t, []int64{1000, 1001, 1002}, ticket.IDs())

	st, err := ticket.WaitFor(ctx, base, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Filled", st.Status)
	assert.Equal(t, 190.0, st.AvgFillPrice)

	st, err = ticket.WaitFor(ctx, base+1, time.Second, "Submitted")
	require.NoError(t, err)
	assert.Equal(t, "Submitted", st.Status)

	require.NoError(t, s.CancelOrder(ctx, base+1))
	st, err = ticket.WaitFor(ctx, base+1, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Cancelled", st.Status)
}

func TestSubmitStopsAtFirstSendFailure(t *testing.T) {
	t.Parallel()

	gw, s, _ := connectDemo(t)
	gw.FailSend(func(req broker.Request) error {
		if po, ok := req.(broker.PlaceOrder); ok && po.Order.ID == 1001 {
			return errors.New("write: broken pipe")
		}
		return nil
	})

	plan, err := orders.Composer{}.Bracket(1000, orders.BracketSpec{
		Action: orders.Buy, Quantity: 10, EntryPrice: 189, StopPrice: 185, TargetPrice: 200,
	})
	require.NoError(t, err)

	_, err = s.Submit(context.Background(), market.Stock("AAPL"), plan)
	var se *SubmitError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, []int64{1000}, se.Sent)
	assert.Equal(t, int64(1001), se.Failed)

	var placed int
	for _, r := range gw.Sent() {
		if _, ok := r.(broker.PlaceOrder); ok {
			placed++
		}
	}
	assert.Equal(t, 1, placed, "nothing after the failed node is sent")

	open, err := s.OpenOrders(context.Background())
	require.NoError(t, err)
	assert.Empty(t, open, "the held root never became active")
}

func TestSubmitRejectsInvalidPlan(t *testing.T) {
	t.Parallel()

	_, s, _ := connectDemo(t)
	_, err := s.Submit(context.Background(), market.Stock("AAPL"), orders.Plan{})
	assert.ErrorIs(t, err, orders.ErrInvalidPlan)
}

func TestConnectionLost(t *testing.T) {
	t.Parallel()

	gw, s, m := connectDemo(t)
	gw.Ignore("reqPositions")

	h, err := s.Request(context.Background(), KindPositions, market.Instrument{}, Params{})
	require.NoError(t, err)

	gw.Drop()

	_, err = h.Await(context.Background(), time.Second)
	require.ErrorIs(t, err, ErrConnectionLost)

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session not torn down")
	}
	assert.Equal(t, Disconnected, s.State())
	assert.ErrorIs(t, s.Err(), ErrConnectionLost)
	assert.Equal(t, 0, m.Sessions())
	assert.NoError(t, s.Disconnect())
}

func TestWithSessionDisconnectsOnPanic(t *testing.T) {
	t.Parallel()

	gw := sim.Demo()
	m, pool := newManager(t, func() broker.Link { return gw })

	var id int
	assert.Panics(t, func() {
		_ = m.WithSession(context.Background(), broker.DefaultHost, broker.PaperPort, func(s *Session) error {
			id = s.ClientID()
			panic("boom")
		})
	})
	assert.False(t, pool.InUse(id))
	assert.Equal(t, 0, m.Sessions())

	err := m.WithSession(context.Background(), broker.DefaultHost, broker.PaperPort, func(s *Session) error {
		return errors.New("done early")
	})
	assert.EqualError(t, err, "done early")
	assert.Equal(t, 0, m.Sessions())
}

func TestManagerCloseDisconnectsAll(t *testing.T) {
	t.Parallel()

	m, pool := newManager(t, func() broker.Link { return sim.Demo() })
	ctx := context.Background()

	a, err := m.Connect(ctx, broker.DefaultHost, broker.PaperPort)
	require.NoError(t, err)
	b, err := m.Connect(ctx, broker.DefaultHost, broker.PaperPort)
	require.NoError(t, err)
	assert.NotEqual(t, a.ClientID(), b.ClientID())
	assert.Equal(t, 2, m.Sessions())

	require.NoError(t, m.Close())
	assert.Equal(t, 0, m.Sessions())
	<-a.Done()
	<-b.Done()
	assert.False(t, pool.InUse(a.ClientID()))
	assert.False(t, pool.InUse(b.ClientID()))
}

func TestMarketDataTypeSentOnReady(t *testing.T) {
	t.Parallel()

	gw, _, _ := connectDemo(t, WithMarketDataType(broker.MarketDataDelayed))
	sent := gw.Sent()
	require.NotEmpty(t, sent)
	assert.Equal(t, broker.ReqMarketDataType{Type: broker.MarketDataDelayed}, sent[0])
}
