// Package sim is a deterministic in-memory gateway. It answers requests from
// scripted data, holds non-transmitted orders until their plan transmits,
// and fills orders against prices pushed through it.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rustyeddy/ibsession/broker"
	"github.com/rustyeddy/ibsession/market"
)

// ErrNotConnected is returned by Send before Connect or after Disconnect.
var ErrNotConnected = errors.New("sim gateway not connected")

const eventBuffer = 4096

type accountValue struct {
	account  string
	tag      string
	value    string
	currency string
}

// Gateway implements broker.Link. The zero value is not usable; call New.
type Gateway struct {
	mu sync.Mutex

	connected     bool
	clientID      int
	failConnect   error
	dropHandshake bool
	failSend      func(broker.Request) error
	ignored       map[string]bool
	sent          []broker.Request

	accounts    []string
	nextOrderID int64
	quotes      map[string]market.PriceSnapshot
	bars        map[string][]market.Bar
	values      []accountValue
	positions   map[string]broker.Position
	scan        []market.Instrument
	streams     map[int64]string

	engine *engine
	conn   *conn

	// emitMu serialises channel sends against close.
	emitMu sync.Mutex
}

// conn is the event channel of one Connect..Disconnect lifetime. done is
// closed before events so a blocked emitter can give up without emitMu.
type conn struct {
	events chan broker.Event
	done   chan struct{}
	once   sync.Once
	closed bool
}

func (c *conn) stop() { c.once.Do(func() { close(c.done) }) }

var _ broker.Link = (*Gateway)(nil)

func New() *Gateway {
	return &Gateway{
		accounts:    []string{"DU1234567"},
		nextOrderID: 1,
		ignored:     make(map[string]bool),
		quotes:      make(map[string]market.PriceSnapshot),
		bars:        make(map[string][]market.Bar),
		positions:   make(map[string]broker.Position),
		streams:     make(map[int64]string),
		engine:      newEngine(),
	}
}

// ---- scripting -------------------------------------------------------

// FailConnect makes the next Connect calls fail with err.
func (g *Gateway) FailConnect(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failConnect = err
}

// DropHandshake stops Connect from announcing the next valid order id.
func (g *Gateway) DropHandshake(drop bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dropHandshake = drop
}

// FailSend installs a hook consulted before every request is handled.
// A non-nil return fails that Send.
func (g *Gateway) FailSend(fn func(broker.Request) error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failSend = fn
}

// Ignore records requests with the given op but never answers them.
func (g *Gateway) Ignore(op string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ignored[op] = true
}

func (g *Gateway) SetAccounts(accounts ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.accounts = append([]string(nil), accounts...)
}

func (g *Gateway) SetNextOrderID(id int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextOrderID = id
}

func (g *Gateway) SetQuote(q market.PriceSnapshot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.quotes[q.Symbol] = q
}

func (g *Gateway) SetBars(symbol string, bars []market.Bar) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bars[symbol] = append([]market.Bar(nil), bars...)
}

func (g *Gateway) SetAccountValue(account, tag, value, currency string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, v := range g.values {
		if v.account == account && v.tag == tag {
			g.values[i].value = value
			g.values[i].currency = currency
			return
		}
	}
	g.values = append(g.values, accountValue{account, tag, value, currency})
}

func (g *Gateway) SetPosition(p broker.Position) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.positions[p.Account+"/"+p.Instrument.Symbol] = p
}

func (g *Gateway) SetScan(rows ...market.Instrument) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scan = append([]market.Instrument(nil), rows...)
}

// Sent returns every request the gateway accepted, in order.
func (g *Gateway) Sent() []broker.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]broker.Request(nil), g.sent...)
}

// Inject delivers arbitrary events as if the gateway had sent them.
func (g *Gateway) Inject(evs ...broker.Event) {
	g.emit(evs...)
}

// Drop simulates the gateway closing the connection.
func (g *Gateway) Drop() {
	g.mu.Lock()
	g.connected = false
	g.mu.Unlock()
	g.closeEvents()
}

// PushPrice updates one price field, streams it to live subscribers and
// lets working orders react to it.
func (g *Gateway) PushPrice(symbol string, field market.TickField, price float64) {
	g.mu.Lock()
	q := g.quotes[symbol]
	q.Symbol = symbol
	q.SetPrice(field, price)
	g.quotes[symbol] = q

	var out []broker.Event
	for id, sym := range g.streams {
		if sym == symbol {
			out = append(out, broker.TickPrice{ReqID: id, Field: field, Price: price})
		}
	}
	if field == market.TickLast {
		out = append(out, g.engine.onPrice(symbol, price, g.applyFill)...)
	}
	g.mu.Unlock()

	g.emit(out...)
}

// ---- broker.Link -----------------------------------------------------

func (g *Gateway) Connect(ctx context.Context, host string, port int, clientID int) error {
	if err := ctx.Err(); err != nil {
		return &broker.ConnectionError{Host: host, Port: port, Err: err}
	}

	g.mu.Lock()
	if g.failConnect != nil {
		err := g.failConnect
		g.mu.Unlock()
		return &broker.ConnectionError{Host: host, Port: port, Err: err}
	}
	if g.connected {
		g.mu.Unlock()
		return &broker.ConnectionError{Host: host, Port: port, Err: errors.New("already connected")}
	}
	g.connected = true
	g.clientID = clientID
	g.streams = make(map[int64]string)
	g.conn = &conn{events: make(chan broker.Event, eventBuffer), done: make(chan struct{})}

	var hello []broker.Event
	if !g.dropHandshake {
		hello = append(hello,
			broker.ManagedAccounts{Accounts: append([]string(nil), g.accounts...)},
			broker.NextValidID{OrderID: g.nextOrderID},
		)
	}
	g.mu.Unlock()

	g.emit(hello...)
	return nil
}

func (g *Gateway) Disconnect() error {
	g.mu.Lock()
	g.connected = false
	g.mu.Unlock()
	g.closeEvents()
	return nil
}

func (g *Gateway) Events() <-chan broker.Event {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn == nil {
		return nil
	}
	return g.conn.events
}

func (g *Gateway) Send(ctx context.Context, req broker.Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	if !g.connected {
		g.mu.Unlock()
		return ErrNotConnected
	}
	if g.failSend != nil {
		if err := g.failSend(req); err != nil {
			g.mu.Unlock()
			return fmt.Errorf("send %s: %w", req.Op(), err)
		}
	}
	g.sent = append(g.sent, req)

	var out []broker.Event
	if !g.ignored[req.Op()] {
		out = g.handleLocked(req)
	}
	g.mu.Unlock()

	g.emit(out...)
	return nil
}

func (g *Gateway) current() *conn {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.conn
}

func (g *Gateway) closeEvents() {
	c := g.current()
	if c == nil {
		return
	}
	c.stop()

	g.emitMu.Lock()
	defer g.emitMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
}

// emit never runs under g.mu, so a consumer that sends from its dispatch
// path cannot deadlock against a producer.
func (g *Gateway) emit(evs ...broker.Event) {
	if len(evs) == 0 {
		return
	}
	c := g.current()
	if c == nil {
		return
	}
	g.emitMu.Lock()
	defer g.emitMu.Unlock()
	if c.closed {
		return
	}
	for _, ev := range evs {
		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}
