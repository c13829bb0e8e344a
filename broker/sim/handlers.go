package sim

import (
	"sort"

	"github.com/rustyeddy/ibsession/broker"
	"github.com/rustyeddy/ibsession/market"
)

const (
	codeNoSecurity     = 200
	codeNoHistory      = 162
	codeOrderNotFound  = 10147
	codeDuplicateOrder = 103
	codeInvalidOrder   = 201
)

// handleLocked answers one request. Caller holds g.mu.
func (g *Gateway) handleLocked(req broker.Request) []broker.Event {
	switch r := req.(type) {
	case broker.ReqMarketData:
		return g.marketData(r)
	case broker.CancelMarketData:
		delete(g.streams, r.ID)
	case broker.ReqHistoricalData:
		return g.history(r)
	case broker.ReqAccountSummary:
		return g.accountSummary(r)
	case broker.ReqPositions:
		return g.positionList()
	case broker.ReqOpenOrders:
		return g.engine.openOrders()
	case broker.ReqScanner:
		return g.scanner(r)
	case broker.PlaceOrder:
		return g.engine.place(r, g.quotes[r.Instrument.Symbol], g.applyFill)
	case broker.CancelOrder:
		return g.engine.cancel(r.OrderID)
	}
	// Cancels of one-shot subscriptions and the market data type need no
	// answer.
	return nil
}

func (g *Gateway) marketData(r broker.ReqMarketData) []broker.Event {
	q, ok := g.quotes[r.Instrument.Symbol]
	if !ok {
		return []broker.Event{broker.Error{
			ID: r.ID, Code: codeNoSecurity,
			Message: "No security definition has been found for the request",
		}}
	}

	var out []broker.Event
	for _, f := range []struct {
		field market.TickField
		v     float64
	}{
		{market.TickBid, q.Bid}, {market.TickAsk, q.Ask}, {market.TickLast, q.Last},
		{market.TickHigh, q.High}, {market.TickLow, q.Low}, {market.TickClose, q.Close},
	} {
		if f.v > 0 {
			out = append(out, broker.TickPrice{ReqID: r.ID, Field: f.field, Price: f.v})
		}
	}
	if q.LastSize > 0 {
		out = append(out, broker.TickSize{ReqID: r.ID, Field: market.TickLastSize, Size: q.LastSize})
	}
	if q.Volume > 0 {
		out = append(out, broker.TickSize{ReqID: r.ID, Field: market.TickVolume, Size: q.Volume})
	}

	if r.Snapshot {
		return append(out, broker.TickSnapshotEnd{ReqID: r.ID})
	}
	g.streams[r.ID] = r.Instrument.Symbol
	return out
}

func (g *Gateway) history(r broker.ReqHistoricalData) []broker.Event {
	bars, ok := g.bars[r.Instrument.Symbol]
	if !ok {
		return []broker.Event{broker.Error{
			ID: r.ID, Code: codeNoHistory,
			Message: "Historical Market Data Service error message:HMDS query returned no data",
		}}
	}
	out := make([]broker.Event, 0, len(bars)+1)
	for _, b := range bars {
		out = append(out, broker.HistoricalBar{ReqID: r.ID, Bar: b})
	}
	end := broker.HistoricalEnd{ReqID: r.ID}
	if len(bars) > 0 {
		end.Start, end.End = bars[0].Date, bars[len(bars)-1].Date
	}
	return append(out, end)
}

func (g *Gateway) accountSummary(r broker.ReqAccountSummary) []broker.Event {
	out := make([]broker.Event, 0, len(g.values)+1)
	for _, v := range g.values {
		out = append(out, broker.AccountSummary{
			ReqID: r.ID, Account: v.account, Tag: v.tag, Value: v.value, Currency: v.currency,
		})
	}
	return append(out, broker.AccountSummaryEnd{ReqID: r.ID})
}

func (g *Gateway) positionList() []broker.Event {
	keys := make([]string, 0, len(g.positions))
	for k := range g.positions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]broker.Event, 0, len(keys)+1)
	for _, k := range keys {
		out = append(out, g.positions[k])
	}
	return append(out, broker.PositionEnd{})
}

func (g *Gateway) scanner(r broker.ReqScanner) []broker.Event {
	rows := g.scan
	if r.Params.Rows > 0 && r.Params.Rows < len(rows) {
		rows = rows[:r.Params.Rows]
	}
	out := make([]broker.Event, 0, len(rows)+1)
	for i, inst := range rows {
		out = append(out, broker.ScannerData{ReqID: r.ID, Rank: i, Instrument: inst})
	}
	return append(out, broker.ScannerEnd{ReqID: r.ID})
}

// applyFill books a fill into the first managed account's positions.
// Caller holds g.mu.
func (g *Gateway) applyFill(inst market.Instrument, qty float64, price float64) {
	account := ""
	if len(g.accounts) > 0 {
		account = g.accounts[0]
	}
	key := account + "/" + inst.Symbol
	p := g.positions[key]
	p.Account = account
	p.Instrument = inst

	total := p.Quantity + qty
	switch {
	case total == 0:
		delete(g.positions, key)
		return
	case p.Quantity == 0 || (p.Quantity > 0) == (qty > 0):
		// Adding to the position moves the average cost.
		p.AvgCost = (p.AvgCost*abs(p.Quantity) + price*abs(qty)) / abs(total)
	case (total > 0) != (p.Quantity > 0):
		// Flipped through zero: the remainder opened at this price.
		p.AvgCost = price
	}
	p.Quantity = total
	g.positions[key] = p
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
