package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rustyeddy/ibsession/broker"
	"github.com/rustyeddy/ibsession/logger"
	"github.com/rustyeddy/ibsession/market"
	"github.com/rustyeddy/ibsession/orders"
	"github.com/rustyeddy/ibsession/state"
)

type State int

const (
	Disconnected State = iota
	Connecting
	AwaitingID
	Ready
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case AwaitingID:
		return "awaiting_id"
	case Ready:
		return "ready"
	case Disconnecting:
		return "disconnecting"
	}
	return "unknown"
}

// errSessionClosed fails requests still pending when the caller disconnects.
var errSessionClosed = fmt.Errorf("session closed: %w", ErrCancelled)

// Session is one live gateway connection. A single reader goroutine
// drains the link in arrival order; every method is safe for concurrent
// use.
type Session struct {
	mgr      *Manager
	link     broker.Link
	pool     *ClientIDPool
	clientID int
	host     string
	port     int
	timeout  time.Duration
	log      *logger.Entry

	store *state.Store
	reg   *Registry

	mu          sync.Mutex
	state       State
	nextOrderID int64
	accounts    []string
	reason      error
	discErr     error

	ready      chan struct{}
	readyOnce  sync.Once
	done       chan struct{}
	readerDone chan struct{}
	teardownMu sync.Once
}

func newSession(m *Manager, link broker.Link, host string, port, clientID int) *Session {
	log := m.log.WithComponent("session").WithFields(logger.Fields{
		"host":      host,
		"port":      port,
		"client_id": clientID,
	})
	store, w := state.New()
	s := &Session{
		mgr:        m,
		link:       link,
		pool:       m.pool,
		clientID:   clientID,
		host:       host,
		port:       port,
		timeout:    m.requestTimeout,
		log:        log,
		store:      store,
		state:      Connecting,
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
		readerDone: make(chan struct{}),
	}
	s.reg = NewRegistry(link, w, RegistryConfig{
		Timeout:   m.requestTimeout,
		ATRPeriod: m.atrPeriod,
		ErrorSink: m.sink,
		Logger:    log.WithComponent("registry"),
	})
	return s
}

// read is the session's only consumer of link events.
func (s *Session) read(events <-chan broker.Event) {
	defer close(s.readerDone)
	for ev := range events {
		switch e := ev.(type) {
		case broker.NextValidID:
			s.onNextValidID(e.OrderID)
		case broker.ManagedAccounts:
			s.mu.Lock()
			s.accounts = append([]string(nil), e.Accounts...)
			s.mu.Unlock()
			s.log.WithField("accounts", e.Accounts).Debug("managed accounts")
		default:
			s.reg.Dispatch(ev)
		}
	}
	s.teardown(ErrConnectionLost)
}

func (s *Session) onNextValidID(id int64) {
	s.mu.Lock()
	if id > s.nextOrderID {
		s.nextOrderID = id
	}
	if s.state == AwaitingID {
		s.state = Ready
	}
	s.mu.Unlock()
	s.readyOnce.Do(func() {
		s.log.WithField("next_order_id", id).Info("session ready")
		close(s.ready)
	})
}

// teardown is the single path out of a session. reason is what pending
// requests fail with.
func (s *Session) teardown(reason error) {
	s.teardownMu.Do(func() {
		s.mu.Lock()
		s.state = Disconnecting
		s.reason = reason
		s.mu.Unlock()

		err := s.link.Disconnect()
		s.reg.FailAll(reason)
		s.pool.Release(s.clientID)
		s.mgr.remove(s)

		s.mu.Lock()
		s.state = Disconnected
		s.discErr = err
		s.mu.Unlock()

		entry := s.log
		if reason != errSessionClosed {
			entry = entry.WithError(reason)
		}
		entry.Info("session closed")
		close(s.done)
	})
}

// Disconnect closes the session. It is idempotent and returns once the
// reader has stopped.
func (s *Session) Disconnect() error {
	s.teardown(errSessionClosed)
	<-s.readerDone
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.discErr
}

// Done is closed when the session is gone, for any reason.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err is why the session ended; nil while it is live.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) ClientID() int { return s.clientID }

func (s *Session) NextOrderID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextOrderID
}

func (s *Session) ManagedAccounts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.accounts...)
}

// Store is the session's market and account view.
func (s *Session) Store() *state.Store { return s.store }

// Registry exposes pending request bookkeeping.
func (s *Session) Registry() *Registry { return s.reg }

func (s *Session) checkReady() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Ready {
		return fmt.Errorf("session %s: %w", s.state, ErrNotReady)
	}
	return nil
}

// ReserveOrderIDs hands out n consecutive order ids and returns the first.
func (s *Session) ReserveOrderIDs(n int) (int64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("reserve %d order ids: count must be positive", n)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Ready {
		return 0, fmt.Errorf("session %s: %w", s.state, ErrNotReady)
	}
	base := s.nextOrderID
	s.nextOrderID += int64(n)
	return base, nil
}

// Request submits a raw request of any kind.
func (s *Session) Request(ctx context.Context, kind Kind, inst market.Instrument, p Params) (*Handle, error) {
	if err := s.checkReady(); err != nil {
		return nil, err
	}
	return s.reg.Submit(ctx, kind, inst, p)
}

func (s *Session) await(ctx context.Context, kind Kind, inst market.Instrument, p Params) (Result, error) {
	h, err := s.Request(ctx, kind, inst, p)
	if err != nil {
		return Result{}, err
	}
	return h.Await(ctx, s.timeout)
}

// MarketData opens a live tick stream.
func (s *Session) MarketData(ctx context.Context, inst market.Instrument) (*Stream, error) {
	h, err := s.Request(ctx, KindMarketData, inst, Params{})
	if err != nil {
		return nil, err
	}
	return h.Stream()
}

// Snapshot requests one round of ticks for inst.
func (s *Session) Snapshot(ctx context.Context, inst market.Instrument) (market.PriceSnapshot, error) {
	res, err := s.await(ctx, KindSnapshot, inst, Params{})
	return res.Snapshot, err
}

// HistoricalBars returns the frozen series and, with two bars or more, its
// volatility summary.
func (s *Session) HistoricalBars(ctx context.Context, inst market.Instrument, hp broker.HistoryParams) (Result, error) {
	return s.await(ctx, KindHistoricalBars, inst, Params{History: hp})
}

func (s *Session) AccountSummary(ctx context.Context, group, tags string) ([]state.AccountValue, error) {
	res, err := s.await(ctx, KindAccountSummary, market.Instrument{}, Params{Group: group, Tags: tags})
	return res.AccountValues, err
}

func (s *Session) Positions(ctx context.Context) ([]state.Position, error) {
	res, err := s.await(ctx, KindPositions, market.Instrument{}, Params{})
	return res.Positions, err
}

func (s *Session) OpenOrders(ctx context.Context) ([]OpenOrder, error) {
	res, err := s.await(ctx, KindOpenOrders, market.Instrument{}, Params{})
	return res.OpenOrders, err
}

func (s *Session) Scan(ctx context.Context, sp broker.ScanParams) ([]ScanResult, error) {
	res, err := s.await(ctx, KindScanner, market.Instrument{}, Params{Scan: sp})
	return res.Scan, err
}

// Submit sends every node of plan in order. Order statuses are tracked
// from before the first send. If a node fails to send the remaining nodes
// are not sent and nothing is retried; the error is a *SubmitError.
func (s *Session) Submit(ctx context.Context, inst market.Instrument, plan orders.Plan) (*OrderTicket, error) {
	if err := s.checkReady(); err != nil {
		return nil, err
	}
	if err := inst.Validate(); err != nil {
		return nil, fmt.Errorf("submit plan: %w", err)
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	ids := plan.IDs()
	s.mu.Lock()
	for _, id := range ids {
		if id >= s.nextOrderID {
			s.nextOrderID = id + 1
		}
	}
	s.mu.Unlock()

	t := newTicket(inst, plan)
	if err := s.reg.track(t); err != nil {
		return nil, err
	}
	log := s.log.WithFields(logger.Fields{"ref": t.Ref, "symbol": inst.Symbol, "orders": ids})

	for i, node := range plan.Nodes {
		if err := s.link.Send(ctx, broker.PlaceOrder{Instrument: inst, Order: node}); err != nil {
			s.reg.untrack(ids[i:]...)
			log.WithError(err).WithField("failed", node.ID).Error("plan submission stopped")
			return nil, &SubmitError{Sent: append([]int64(nil), ids[:i]...), Failed: node.ID, Err: err}
		}
	}
	log.Info("plan submitted")
	return t, nil
}

// CancelOrder asks the gateway to cancel one working order. The outcome
// arrives as an order status.
func (s *Session) CancelOrder(ctx context.Context, orderID int64) error {
	if err := s.checkReady(); err != nil {
		return err
	}
	if err := s.link.Send(ctx, broker.CancelOrder{OrderID: orderID}); err != nil {
		return fmt.Errorf("cancel order %d: %w", orderID, err)
	}
	s.log.WithField("order_id", orderID).Info("cancel requested")
	return nil
}
