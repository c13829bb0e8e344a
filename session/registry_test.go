package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/ibsession/broker"
	"github.com/rustyeddy/ibsession/logger"
	"github.com/rustyeddy/ibsession/market"
	"github.com/rustyeddy/ibsession/orders"
	"github.com/rustyeddy/ibsession/state"
)

// recordingLink accepts every request and answers nothing; tests feed
// events straight into Registry.Dispatch.
type recordingLink struct {
	mu   sync.Mutex
	sent []broker.Request
	err  error
}

func (l *recordingLink) Connect(context.Context, string, int, int) error { return nil }
func (l *recordingLink) Disconnect() error                               { return nil }
func (l *recordingLink) Events() <-chan broker.Event                     { return nil }

func (l *recordingLink) Send(_ context.Context, req broker.Request) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.sent = append(l.sent, req)
	return nil
}

func (l *recordingLink) ops() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.sent))
	for _, r := range l.sent {
		out = append(out, r.Op())
	}
	return out
}

func newTestRegistry(t *testing.T, cfg RegistryConfig) (*Registry, *recordingLink, *state.Store) {
	t.Helper()
	link := &recordingLink{}
	store, w := state.New()
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard().WithComponent("registry")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}
	return NewRegistry(link, w, cfg), link, store
}

func bar(date string, o, h, l, c float64) market.Bar {
	return market.Bar{Date: date, Open: o, High: h, Low: l, Close: c}
}

func TestRequestIDsAreMonotonic(t *testing.T) {
	t.Parallel()

	reg, link, _ := newTestRegistry(t, RegistryConfig{})
	ctx := context.Background()

	var ids []int64
	for _, k := range []Kind{KindSnapshot, KindHistoricalBars, KindScanner, KindAccountSummary} {
		h, err := reg.Submit(ctx, k, market.Stock("AAPL"), Params{})
		require.NoError(t, err)
		ids = append(ids, h.ID())
	}
	b := RequestIDBase
	assert.Equal(t, []int64{b + 1, b + 2, b + 3, b + 4}, ids)
	assert.Equal(t, []string{"reqMktData", "reqHistoricalData", "reqScannerSubscription", "reqAccountSummary"}, link.ops())
	assert.Equal(t, 4, reg.Pending())
}

func TestSubmitValidatesInstrument(t *testing.T) {
	t.Parallel()

	reg, link, _ := newTestRegistry(t, RegistryConfig{})
	_, err := reg.Submit(context.Background(), KindSnapshot, market.Instrument{}, Params{})
	require.Error(t, err)
	assert.Empty(t, link.ops())
}

func TestSubmitSendFailureUnregisters(t *testing.T) {
	t.Parallel()

	reg, link, _ := newTestRegistry(t, RegistryConfig{})
	link.err = errors.New("broken pipe")

	_, err := reg.Submit(context.Background(), KindPositions, market.Instrument{}, Params{})
	require.Error(t, err)
	assert.Equal(t, 0, reg.Pending())

	// the positions slot is free again
	link.err = nil
	_, err = reg.Submit(context.Background(), KindPositions, market.Instrument{}, Params{})
	assert.NoError(t, err)
}

func TestDuplicateTerminatorsAreNoOps(t *testing.T) {
	t.Parallel()

	reg, _, store := newTestRegistry(t, RegistryConfig{ATRPeriod: 14})
	h, err := reg.Submit(context.Background(), KindHistoricalBars, market.Stock("AAPL"), Params{})
	require.NoError(t, err)
	id := h.ID()

	reg.Dispatch(broker.HistoricalBar{ReqID: id, Bar: bar("20240108", 10, 11, 9, 10)})
	reg.Dispatch(broker.HistoricalBar{ReqID: id, Bar: bar("20240109", 10, 12, 10, 11)})
	reg.Dispatch(broker.HistoricalEnd{ReqID: id})
	reg.Dispatch(broker.HistoricalEnd{ReqID: id})
	reg.Dispatch(broker.HistoricalBar{ReqID: id, Bar: bar("20240110", 11, 13, 11, 12)})

	res, err := h.Await(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, h.Status())
	assert.Len(t, res.Series.Bars, 2, "bars after the terminator are dropped")
	assert.Equal(t, 0, reg.Pending())

	// one true range: high 12, low 10, previous close 10
	assert.InDelta(t, 2.0, res.Volatility.ATR, 1e-9)
	vol, ok := store.Volatility("AAPL")
	require.True(t, ok)
	assert.Equal(t, res.Volatility, vol)

	// awaiting again returns the same frozen result
	again, err := h.Await(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, res.Series.Bars, again.Series.Bars)
}

func TestUnknownIDsAreDropped(t *testing.T) {
	t.Parallel()

	var sunk []*broker.GatewayError
	reg, _, store := newTestRegistry(t, RegistryConfig{ErrorSink: func(e *broker.GatewayError) { sunk = append(sunk, e) }})

	assert.NotPanics(t, func() {
		reg.Dispatch(broker.TickPrice{ReqID: 99, Field: market.TickLast, Price: 1})
		reg.Dispatch(broker.TickSnapshotEnd{ReqID: 99})
		reg.Dispatch(broker.HistoricalEnd{ReqID: 99})
		reg.Dispatch(broker.AccountSummaryEnd{ReqID: 99})
		reg.Dispatch(broker.Position{Account: "DU1", Instrument: market.Stock("AAPL"), Quantity: 1})
		reg.Dispatch(broker.PositionEnd{})
		reg.Dispatch(broker.OpenOrderEnd{})
		reg.Dispatch(broker.ScannerEnd{ReqID: 99})
		reg.Dispatch(broker.Error{ID: 99, Code: 200, Message: "No security definition"})
	})
	assert.Empty(t, store.Accounts())
	require.Len(t, sunk, 1, "an error for an unknown id goes to the sink")
	assert.Equal(t, 200, sunk[0].Code)
}

func TestEventOfWrongKindIsDropped(t *testing.T) {
	t.Parallel()

	reg, _, _ := newTestRegistry(t, RegistryConfig{})
	h, err := reg.Submit(context.Background(), KindScanner, market.Instrument{}, Params{})
	require.NoError(t, err)

	reg.Dispatch(broker.HistoricalEnd{ReqID: h.ID()})
	assert.Equal(t, StatusPending, h.Status())

	reg.Dispatch(broker.ScannerData{ReqID: h.ID(), Rank: 0, Instrument: market.Stock("SPY")})
	reg.Dispatch(broker.ScannerEnd{ReqID: h.ID()})
	res, err := h.Await(context.Background(), time.Second)
	require.NoError(t, err)
	require.Len(t, res.Scan, 1)
	assert.Equal(t, "SPY", res.Scan[0].Instrument.Symbol)
}

func TestAwaitTimeoutThenLateEvent(t *testing.T) {
	t.Parallel()

	reg, link, store := newTestRegistry(t, RegistryConfig{})
	h, err := reg.Submit(context.Background(), KindSnapshot, market.Stock("AAPL"), Params{})
	require.NoError(t, err)

	_, err = h.Await(context.Background(), 20*time.Millisecond)
	require.ErrorIs(t, err, ErrRequestTimeout)
	assert.Equal(t, StatusTimedOut, h.Status())
	assert.Equal(t, 0, reg.Pending())
	assert.Equal(t, []string{"reqMktData", "cancelMktData"}, link.ops())

	assert.NotPanics(t, func() {
		reg.Dispatch(broker.TickPrice{ReqID: h.ID(), Field: market.TickLast, Price: 190})
		reg.Dispatch(broker.TickSnapshotEnd{ReqID: h.ID()})
	})
	_, ok := store.LatestPrice("AAPL")
	assert.False(t, ok, "late ticks never reach the store")
	assert.Equal(t, StatusTimedOut, h.Status())
}

func TestAwaitContextCancelled(t *testing.T) {
	t.Parallel()

	reg, _, _ := newTestRegistry(t, RegistryConfig{})
	h, err := reg.Submit(context.Background(), KindAccountSummary, market.Instrument{}, Params{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = h.Await(ctx, time.Second)
	require.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, StatusCancelled, h.Status())
}

func TestAwaitRejectsStreams(t *testing.T) {
	t.Parallel()

	reg, _, _ := newTestRegistry(t, RegistryConfig{})
	h, err := reg.Submit(context.Background(), KindMarketData, market.Stock("AAPL"), Params{})
	require.NoError(t, err)
	assert.Equal(t, StatusStreaming, h.Status())

	_, err = h.Await(context.Background(), time.Millisecond)
	assert.ErrorIs(t, err, ErrWrongKind)

	snap, err := reg.Submit(context.Background(), KindSnapshot, market.Stock("AAPL"), Params{})
	require.NoError(t, err)
	_, err = snap.Stream()
	assert.ErrorIs(t, err, ErrWrongKind)
}

func TestStreamDeliversThenCancelStops(t *testing.T) {
	t.Parallel()

	reg, link, store := newTestRegistry(t, RegistryConfig{})
	h, err := reg.Submit(context.Background(), KindMarketData, market.Stock("AAPL"), Params{})
	require.NoError(t, err)
	st, err := h.Stream()
	require.NoError(t, err)

	reg.Dispatch(broker.TickPrice{ReqID: h.ID(), Field: market.TickLast, Price: 190.5})
	ev := <-st.C()
	assert.Equal(t, broker.TickPrice{ReqID: h.ID(), Field: market.TickLast, Price: 190.5}, ev)

	snap, ok := store.LatestPrice("AAPL")
	require.True(t, ok)
	assert.Equal(t, 190.5, snap.Last)

	reg.Dispatch(broker.TickPrice{ReqID: h.ID(), Field: market.TickBid, Price: 190.4})
	st.Cancel()
	st.Cancel()
	reg.Dispatch(broker.TickPrice{ReqID: h.ID(), Field: market.TickAsk, Price: 190.6})

	var after []broker.Event
	for ev := range st.C() {
		after = append(after, ev)
	}
	assert.Empty(t, after, "nothing is delivered once cancelled")
	assert.Equal(t, StatusCancelled, st.Status())
	assert.ErrorIs(t, st.Err(), ErrCancelled)
	assert.Equal(t, []string{"reqMktData", "cancelMktData"}, link.ops())
}

func TestStreamDropsWhenConsumerLags(t *testing.T) {
	t.Parallel()

	reg, _, store := newTestRegistry(t, RegistryConfig{StreamBuffer: 2})
	h, err := reg.Submit(context.Background(), KindMarketData, market.Stock("MSFT"), Params{})
	require.NoError(t, err)
	st, err := h.Stream()
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		reg.Dispatch(broker.TickPrice{ReqID: h.ID(), Field: market.TickLast, Price: 400 + float64(i)})
	}
	assert.Equal(t, int64(3), st.Dropped())
	assert.Nil(t, st.Err())

	// the store still saw every tick
	snap, _ := store.LatestPrice("MSFT")
	assert.Equal(t, 404.0, snap.Last)
}

func TestGatewayErrorTiers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		code    int
		fails   bool
		notices int
	}{
		{name: "info is a notice", code: 2104, notices: 1},
		{name: "warning is a notice", code: 10268, notices: 1},
		{name: "error fails", code: 200, fails: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			reg, _, _ := newTestRegistry(t, RegistryConfig{})
			h, err := reg.Submit(context.Background(), KindSnapshot, market.Stock("AAPL"), Params{})
			require.NoError(t, err)

			reg.Dispatch(broker.Error{ID: h.ID(), Code: tt.code, Message: "msg"})
			reg.Dispatch(broker.TickPrice{ReqID: h.ID(), Field: market.TickLast, Price: 10})
			reg.Dispatch(broker.TickSnapshotEnd{ReqID: h.ID()})

			res, err := h.Await(context.Background(), time.Second)
			if tt.fails {
				var ge *broker.GatewayError
				require.ErrorAs(t, err, &ge)
				assert.Equal(t, tt.code, ge.Code)
				assert.Equal(t, StatusFailed, h.Status())
				return
			}
			require.NoError(t, err)
			assert.Len(t, res.Notices, tt.notices)
			assert.Equal(t, 10.0, res.Snapshot.Last)
		})
	}
}

func TestUntaggedErrorsGoToSink(t *testing.T) {
	t.Parallel()

	var got []*broker.GatewayError
	reg, _, _ := newTestRegistry(t, RegistryConfig{ErrorSink: func(e *broker.GatewayError) { got = append(got, e) }})

	reg.Dispatch(broker.Error{ID: -1, Code: 2104, Message: "Market data farm connection is OK:usfarm"})
	reg.Dispatch(broker.Error{ID: -1, Code: 1100, Message: "Connectivity between IB and TWS has been lost"})

	require.Len(t, got, 2)
	assert.Equal(t, broker.TierInfo, got[0].Tier())
	assert.Equal(t, broker.TierError, got[1].Tier())
}

func TestPositionsRoutedToOutstandingRequest(t *testing.T) {
	t.Parallel()

	reg, link, store := newTestRegistry(t, RegistryConfig{})
	h, err := reg.Submit(context.Background(), KindPositions, market.Instrument{}, Params{})
	require.NoError(t, err)

	_, err = reg.Submit(context.Background(), KindPositions, market.Instrument{}, Params{})
	require.ErrorIs(t, err, ErrInFlight)

	reg.Dispatch(broker.Position{Account: "DU1", Instrument: market.Stock("AAPL"), Quantity: 50, AvgCost: 182.4})
	reg.Dispatch(broker.Position{Account: "DU1", Instrument: market.ASXStock("BHP"), Quantity: -20, AvgCost: 45})
	reg.Dispatch(broker.PositionEnd{})

	res, err := h.Await(context.Background(), time.Second)
	require.NoError(t, err)
	require.Len(t, res.Positions, 2)

	held := store.LatestPositions("DU1")
	assert.Len(t, held, 2)
	assert.Equal(t, -20.0, held["BHP"].Quantity)
	assert.Equal(t, []string{"reqPositions", "cancelPositions"}, link.ops())
}

func TestAccountSummaryReplacesStore(t *testing.T) {
	t.Parallel()

	reg, link, store := newTestRegistry(t, RegistryConfig{})
	ctx := context.Background()

	h, err := reg.Submit(ctx, KindAccountSummary, market.Instrument{}, Params{})
	require.NoError(t, err)
	reg.Dispatch(broker.AccountSummary{ReqID: h.ID(), Account: "DU1", Tag: "NetLiquidation", Value: "100000", Currency: "USD"})
	reg.Dispatch(broker.AccountSummary{ReqID: h.ID(), Account: "DU1", Tag: "BuyingPower", Value: "400000", Currency: "USD"})
	reg.Dispatch(broker.AccountSummaryEnd{ReqID: h.ID()})
	_, err = h.Await(ctx, time.Second)
	require.NoError(t, err)
	assert.Len(t, store.AccountValues("DU1"), 2)

	h, err = reg.Submit(ctx, KindAccountSummary, market.Instrument{}, Params{})
	require.NoError(t, err)
	reg.Dispatch(broker.AccountSummary{ReqID: h.ID(), Account: "DU1", Tag: "NetLiquidation", Value: "99000", Currency: "USD"})
	reg.Dispatch(broker.AccountSummaryEnd{ReqID: h.ID()})
	_, err = h.Await(ctx, time.Second)
	require.NoError(t, err)

	vals := store.AccountValues("DU1")
	assert.Len(t, vals, 1, "a completed refresh replaces the account wholesale")
	assert.Equal(t, "99000", vals["NetLiquidation"].Value)
	assert.Equal(t, []string{"reqAccountSummary", "cancelAccountSummary", "reqAccountSummary", "cancelAccountSummary"}, link.ops())
}

func TestFailAll(t *testing.T) {
	t.Parallel()

	reg, _, _ := newTestRegistry(t, RegistryConfig{})
	ctx := context.Background()
	h, err := reg.Submit(ctx, KindOpenOrders, market.Instrument{}, Params{})
	require.NoError(t, err)
	sh, err := reg.Submit(ctx, KindMarketData, market.Stock("AAPL"), Params{})
	require.NoError(t, err)
	st, err := sh.Stream()
	require.NoError(t, err)

	reg.FailAll(ErrConnectionLost)

	_, err = h.Await(ctx, time.Second)
	assert.ErrorIs(t, err, ErrConnectionLost)
	<-st.Done()
	assert.ErrorIs(t, st.Err(), ErrConnectionLost)

	_, err = reg.Submit(ctx, KindPositions, market.Instrument{}, Params{})
	assert.ErrorIs(t, err, ErrConnectionLost)
}

func TestOrderStatusAndRejection(t *testing.T) {
	t.Parallel()

	reg, _, store := newTestRegistry(t, RegistryConfig{})
	plan, err := orders.Composer{}.Bracket(100, orders.BracketSpec{
		Action: orders.Buy, Quantity: 10, EntryPrice: 50, StopPrice: 48, TargetPrice: 56,
	})
	require.NoError(t, err)
	ticket := newTicket(market.Stock("AAPL"), plan)
	require.NoError(t, reg.track(ticket))

	reg.Dispatch(broker.OrderStatus{OrderID: 100, Status: "Submitted", Remaining: 10})
	reg.Dispatch(broker.OrderStatus{OrderID: 100, Status: "Filled", Filled: 10, AvgFillPrice: 50})
	st, err := ticket.WaitFor(context.Background(), 100, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Filled", st.Status)
	assert.False(t, reg.Tracked(100), "terminal orders are released")

	reg.Dispatch(broker.Error{ID: 102, Code: 201, Message: "Order rejected - reason: margin"})
	st, err = ticket.WaitFor(context.Background(), 102, time.Second)
	var ge *broker.GatewayError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, "Rejected", st.Status)
	assert.Equal(t, int64(100), st.ParentID)

	stored, ok := store.OrderStatus(102)
	require.True(t, ok)
	assert.Equal(t, "Rejected", stored.Status)

	// a warning for a tracked order does not reject it
	reg.Dispatch(broker.Error{ID: 101, Code: 399, Message: "Order will not be placed until market open"})
	assert.True(t, reg.Tracked(101))

	_, err = ticket.WaitFor(context.Background(), 101, 10*time.Millisecond, "Submitted")
	assert.ErrorIs(t, err, ErrRequestTimeout)
}

func TestOrderRejectionDoesNotFailStream(t *testing.T) {
	t.Parallel()

	reg, _, _ := newTestRegistry(t, RegistryConfig{})
	ctx := context.Background()

	h, err := reg.Submit(ctx, KindMarketData, market.Stock("AAPL"), Params{})
	require.NoError(t, err)
	st, err := h.Stream()
	require.NoError(t, err)

	plan, err := orders.Composer{}.Market(1, orders.Buy, 10)
	require.NoError(t, err)
	ticket := newTicket(market.Stock("AAPL"), plan)
	require.NoError(t, reg.track(ticket))

	reg.Dispatch(broker.Error{ID: 1, Code: 201, Message: "Order rejected"})

	_, err = ticket.WaitFor(ctx, 1, time.Second)
	var ge *broker.GatewayError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, 201, ge.Code)
	assert.Equal(t, StatusStreaming, st.Status())
	st.Cancel()
}

func TestTrackRefusesLiveRequestID(t *testing.T) {
	t.Parallel()

	reg, _, _ := newTestRegistry(t, RegistryConfig{})
	h, err := reg.Submit(context.Background(), KindMarketData, market.Stock("AAPL"), Params{})
	require.NoError(t, err)

	plan, err := orders.Composer{}.Market(h.ID(), orders.Buy, 10)
	require.NoError(t, err)
	assert.Error(t, reg.track(newTicket(market.Stock("AAPL"), plan)))
	assert.False(t, reg.Tracked(h.ID()))
}
